// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMalformedReply is returned when a reply is not an object
var ErrMalformedReply = errors.New("malformed reply")

// Reply is the host-side view of one response object
type Reply struct {
	Raw       []byte
	Timestamp time.Time

	Error Code   // empty when the device reported no error
	Note  string // explanation accompanying sensor_unavailable
	OK    bool   // configure acknowledgement

	Present Field // fields carried by the reply

	Voltage       float64
	Current       float64
	Power         float64
	Percent       float64
	Charging      bool
	Remaining     float64
	MinVoltage    float64
	MaxVoltage    float64
	CapacityHours float64
	Firmware      string
}

// ParseReply decodes a response object
func ParseReply(obj []byte) (*Reply, error) {
	if !gjson.ValidBytes(obj) {
		return nil, ErrMalformedReply
	}
	root := gjson.ParseBytes(obj)
	if !root.IsObject() {
		return nil, ErrMalformedReply
	}

	r := &Reply{
		Raw:       append([]byte(nil), obj...),
		Timestamp: time.Now(),
	}
	if e := root.Get(KeyError); e.Exists() {
		r.Error = Code(e.String())
	}
	r.Note = root.Get(KeyNote).String()
	r.OK = root.Get(KeyOK).Bool()

	AllFields.Each(func(f Field) {
		v := root.Get(f.Key())
		if !v.Exists() || v.Type == gjson.Null {
			return
		}
		switch f {
		case FieldCharging:
			if !v.IsBool() {
				return
			}
			r.Charging = v.Bool()
		case FieldFirmware:
			r.Firmware = v.String()
		default:
			if v.Type != gjson.Number {
				return
			}
			r.setNumber(f, v.Num)
		}
		r.Present |= f
	})
	return r, nil
}

func (r *Reply) setNumber(f Field, v float64) {
	switch f {
	case FieldVoltage:
		r.Voltage = v
	case FieldCurrent:
		r.Current = v
	case FieldPower:
		r.Power = v
	case FieldPercent:
		r.Percent = v
	case FieldRemaining:
		r.Remaining = v
	case FieldMinVoltage:
		r.MinVoltage = v
	case FieldMaxVoltage:
		r.MaxVoltage = v
	case FieldCapacity:
		r.CapacityHours = v
	}
}

// Value returns a numeric field of the reply
func (r *Reply) Value(f Field) (float64, bool) {
	if !r.Present.Has(f) {
		return 0, false
	}
	switch f {
	case FieldVoltage:
		return r.Voltage, true
	case FieldCurrent:
		return r.Current, true
	case FieldPower:
		return r.Power, true
	case FieldPercent:
		return r.Percent, true
	case FieldRemaining:
		return r.Remaining, true
	case FieldMinVoltage:
		return r.MinVoltage, true
	case FieldMaxVoltage:
		return r.MaxVoltage, true
	case FieldCapacity:
		return r.CapacityHours, true
	}
	return 0, false
}

// Err returns the device-reported condition as an error, or nil.
// A sensor_unavailable reply still carries usable configuration fields.
func (r *Reply) Err() error {
	if r.Error == "" {
		return nil
	}
	return r.Error
}
