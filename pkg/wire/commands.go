// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

// Request builders produce the exact bytes a host writes to the device.
// None of them append a separator; the device frames by brace balance.

// NewGetRequest creates a read-request for the given fields in canonical order.
// An empty set produces {"get":[]}, which the device answers with an empty object.
func NewGetRequest(fields FieldSet) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, `{"get":[`...)
	first := true
	fields.Each(func(f Field) {
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = appendString(buf, f.Key())
	})
	return append(buf, ']', '}')
}

// NewSetRequest creates a configure-request carrying the present assignments
func NewSetRequest(a Assignments) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, `{"set":{`...)
	first := true
	assignable.Each(func(f Field) {
		v, ok := a.Get(f)
		if !ok {
			return
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		inner := NewBuilder().Number(f.Key(), v, f.Precision()).buf
		buf = append(buf, inner[1:]...)
	})
	return append(buf, '}', '}')
}

// NewFirmwareRequest creates the read-request used by ping and discovery
func NewFirmwareRequest() []byte {
	return NewGetRequest(FieldFirmware)
}

// NewStatusRequest creates a read-request for every field
func NewStatusRequest() []byte {
	return NewGetRequest(AllFields)
}

// SetMinVoltage returns a with the minimum threshold assigned
func (a Assignments) SetMinVoltage(v float64) Assignments {
	a.assign(FieldMinVoltage, v)
	return a
}

// SetMaxVoltage returns a with the maximum threshold assigned
func (a Assignments) SetMaxVoltage(v float64) Assignments {
	a.assign(FieldMaxVoltage, v)
	return a
}

// SetCapacity returns a with the capacity assigned
func (a Assignments) SetCapacity(v float64) Assignments {
	a.assign(FieldCapacity, v)
	return a
}
