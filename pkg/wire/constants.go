// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wire implements the battmon text protocol.
//
// A request is one self-delimited object; no separator is needed between
// requests because objects are delimited purely by brace and quote balance.
// Read-requests carry a "get" list of field names, configure-requests carry
// a "set" map of threshold values:
//
//	{"get":["v","a","pct","charging"]}
//	{"set":{"min_v":21.0,"max_v":32.2,"capacity_h":10}}
//
// Every request produces exactly one response object terminated by a newline.
// The package provides the incremental framer, lenient request extraction,
// response building, client-side reply parsing and request builders.
package wire

// Object size limits
const (
	MaxObjectSize = 512 // accumulation buffer capacity of the framer
)

// Code is a symbolic, wire-facing error condition.
// It is a string newtype so it compares cheaply and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Response conditions
const (
	CodeOK                Code = "ok"
	CodeConflict          Code = "both_get_and_set"
	CodeBadRequest        Code = "bad_request"
	CodeReadFailure       Code = "i2c_read"
	CodeSensorUnavailable Code = "sensor_unavailable"
)

// Keys used in responses besides field names
const (
	KeyGet   = "get"
	KeySet   = "set"
	KeyError = "error"
	KeyNote  = "note"
	KeyOK    = "ok"
)

// UnavailableNote accompanies every sensor_unavailable response.
const UnavailableNote = "sensor not detected at startup; live readings unavailable"

// Field identifies one value that can be requested or reported.
type Field uint16

// Fields in canonical response order
const (
	FieldVoltage Field = 1 << iota
	FieldCurrent
	FieldPower
	FieldPercent
	FieldCharging
	FieldRemaining
	FieldMinVoltage
	FieldMaxVoltage
	FieldCapacity
	FieldFirmware
)

// Field groups
const (
	// LiveFields need a fresh sensor measurement.
	LiveFields = FieldVoltage | FieldCurrent | FieldPower | FieldPercent | FieldCharging | FieldRemaining
	// ConfigFields are always answerable from the configuration.
	ConfigFields = FieldMinVoltage | FieldMaxVoltage | FieldCapacity | FieldFirmware
	// AllFields is every known field.
	AllFields = LiveFields | ConfigFields
)

// Precision sentinels for non-numeric fields
const (
	precBool   = -1
	precString = -2
)

type fieldInfo struct {
	field     Field
	key       string
	precision int
	unit      string
	label     string
}

// fields lists every field in canonical order.
var fields = []fieldInfo{
	{FieldVoltage, "v", 3, "V", "Voltage"},
	{FieldCurrent, "a", 4, "A", "Current"},
	{FieldPower, "w", 4, "W", "Power"},
	{FieldPercent, "pct", 2, "%", "Charge"},
	{FieldCharging, "charging", precBool, "", "Charging"},
	{FieldRemaining, "hrs_remaining", 1, "h", "Remaining"},
	{FieldMinVoltage, "min_v", 3, "V", "Min threshold"},
	{FieldMaxVoltage, "max_v", 3, "V", "Max threshold"},
	{FieldCapacity, "capacity_h", 2, "h", "Capacity"},
	{FieldFirmware, "fw", precString, "", "Firmware"},
}

func lookupField(f Field) (fieldInfo, bool) {
	for _, fi := range fields {
		if fi.field == f {
			return fi, true
		}
	}
	return fieldInfo{}, false
}

// Key returns the wire key of a single field, or "" for unknown values.
func (f Field) Key() string {
	fi, _ := lookupField(f)
	return fi.key
}

// Precision returns the number of decimals a numeric field is reported with.
// Non-numeric fields return a negative value.
func (f Field) Precision() int {
	fi, ok := lookupField(f)
	if !ok {
		return 0
	}
	return fi.precision
}

// Unit returns the display unit of a field.
func (f Field) Unit() string {
	fi, _ := lookupField(f)
	return fi.unit
}

// Label returns a human-readable field name.
func (f Field) Label() string {
	fi, _ := lookupField(f)
	return fi.label
}

// IsLive reports whether the field needs a sensor measurement.
func (f Field) IsLive() bool { return f&LiveFields != 0 }

func (f Field) String() string {
	if k := f.Key(); k != "" {
		return k
	}
	return "unknown"
}

// FieldByKey resolves a wire key to its field.
func FieldByKey(key string) (Field, bool) {
	for _, fi := range fields {
		if fi.key == key {
			return fi.field, true
		}
	}
	return 0, false
}

// FieldSet is a set of fields.
type FieldSet = Field

// Has reports whether all fields of x are present in the set.
func (f Field) Has(x Field) bool { return x != 0 && f&x == x }

// Each calls fn for every field in the set in canonical order.
func (f Field) Each(fn func(Field)) {
	for _, fi := range fields {
		if f&fi.field != 0 {
			fn(fi.field)
		}
	}
}

// Keys returns the wire keys of the set in canonical order.
func (f Field) Keys() []string {
	var keys []string
	f.Each(func(x Field) { keys = append(keys, x.Key()) })
	return keys
}
