// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
)

// Kind classifies a framed request
type Kind int

// Request kinds
const (
	KindUnrecognized Kind = iota
	KindRead
	KindConfigure
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindConfigure:
		return "configure"
	case KindConflict:
		return "conflict"
	default:
		return "unrecognized"
	}
}

// Assignments holds the threshold values carried by a configure-request.
// Only fields present in Present were accepted from the request.
type Assignments struct {
	Present       Field
	MinVoltage    float64
	MaxVoltage    float64
	CapacityHours float64
}

// Empty reports whether no value was accepted
func (a Assignments) Empty() bool { return a.Present == 0 }

// Get returns the assigned value of a configuration field
func (a Assignments) Get(f Field) (float64, bool) {
	if !a.Present.Has(f) {
		return 0, false
	}
	switch f {
	case FieldMinVoltage:
		return a.MinVoltage, true
	case FieldMaxVoltage:
		return a.MaxVoltage, true
	case FieldCapacity:
		return a.CapacityHours, true
	}
	return 0, false
}

func (a *Assignments) assign(f Field, v float64) {
	switch f {
	case FieldMinVoltage:
		a.MinVoltage = v
	case FieldMaxVoltage:
		a.MaxVoltage = v
	case FieldCapacity:
		a.CapacityHours = v
	default:
		return
	}
	a.Present |= f
}

// assignable lists the fields a configure-request may carry
const assignable = FieldMinVoltage | FieldMaxVoltage | FieldCapacity

// Request is the classified form of one framed object
type Request struct {
	Kind   Kind
	Fields FieldSet    // requested fields of a read-request
	Set    Assignments // accepted values of a configure-request
}

// ParseRequest classifies a framed object.
//
// Extraction is tolerant: comments and trailing commas are
// stripped first, then only the top-level "get" and "set" members are
// looked at. Everything else in the object is ignored.
func ParseRequest(obj []byte) Request {
	clean := jsonc.ToJSON(obj)

	get := gjson.GetBytes(clean, KeyGet)
	set := gjson.GetBytes(clean, KeySet)

	switch {
	case get.Exists() && set.Exists():
		return Request{Kind: KindConflict}
	case get.Exists():
		return parseGet(get)
	case set.Exists():
		return parseSet(set)
	}
	return Request{Kind: KindUnrecognized}
}

func parseGet(get gjson.Result) Request {
	req := Request{Kind: KindRead}
	switch {
	case get.IsArray():
		get.ForEach(func(_, name gjson.Result) bool {
			if name.Type == gjson.String {
				if f, ok := FieldByKey(name.Str); ok {
					req.Fields |= f
				}
			}
			return true
		})
	case get.Type == gjson.String:
		if f, ok := FieldByKey(get.Str); ok {
			req.Fields |= f
		}
	default:
		return Request{Kind: KindUnrecognized}
	}
	return req
}

func parseSet(set gjson.Result) Request {
	if !set.IsObject() {
		return Request{Kind: KindUnrecognized}
	}
	req := Request{Kind: KindConfigure}
	set.ForEach(func(key, value gjson.Result) bool {
		f, ok := FieldByKey(key.Str)
		if !ok || !assignable.Has(f) {
			return true
		}
		if v, ok := numericValue(value); ok {
			req.Set.assign(f, v)
		}
		return true
	})
	return req
}

// numericValue accepts JSON numbers and strings holding a decimal number
func numericValue(r gjson.Result) (float64, bool) {
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Num
	case gjson.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
