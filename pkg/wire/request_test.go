// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Request Classification Tests
// ============================================================

func TestParseRequest_Kinds(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind Kind
	}{
		{"read", `{"get":["v"]}`, KindRead},
		{"configure", `{"set":{"min_v":20}}`, KindConfigure},
		{"conflict", `{"get":["v"],"set":{"min_v":20}}`, KindConflict},
		{"conflict with empty members", `{"set":{},"get":[]}`, KindConflict},
		{"empty object", `{}`, KindUnrecognized},
		{"unknown member", `{"hello":"world"}`, KindUnrecognized},
		{"get is a number", `{"get":5}`, KindUnrecognized},
		{"get is an object", `{"get":{"v":1}}`, KindUnrecognized},
		{"set is an array", `{"set":[1,2]}`, KindUnrecognized},
		{"set is a string", `{"set":"min_v"}`, KindUnrecognized},
		{"nested get is not top level", `{"set":{"get":["v"]}}`, KindConfigure},
		{"nested set is not top level", `{"get":["v"],"x":{"set":{}}}`, KindRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ParseRequest([]byte(tt.in))
			assert.Equal(t, tt.kind, req.Kind)
		})
	}
}

func TestParseRequest_ReadFields(t *testing.T) {
	req := ParseRequest([]byte(`{"get":["pct","v","bogus","fw","v"]}`))
	require.Equal(t, KindRead, req.Kind)
	assert.Equal(t, FieldPercent|FieldVoltage|FieldFirmware, req.Fields)
	assert.Equal(t, []string{"v", "pct", "fw"}, req.Fields.Keys())
}

func TestParseRequest_ReadSingleString(t *testing.T) {
	req := ParseRequest([]byte(`{"get":"charging"}`))
	require.Equal(t, KindRead, req.Kind)
	assert.Equal(t, FieldCharging, req.Fields)
}

func TestParseRequest_ReadEmptyAndUnknownOnly(t *testing.T) {
	for _, in := range []string{`{"get":[]}`, `{"get":["nope",1,true]}`} {
		req := ParseRequest([]byte(in))
		assert.Equal(t, KindRead, req.Kind, in)
		assert.Zero(t, req.Fields, in)
	}
}

func TestParseRequest_Lenient(t *testing.T) {
	in := `{
		// poll everything the display needs
		"get": ["v", "a", /* power too */ "w",],
	}`
	req := ParseRequest([]byte(in))
	require.Equal(t, KindRead, req.Kind)
	assert.Equal(t, FieldVoltage|FieldCurrent|FieldPower, req.Fields)
}

func TestParseRequest_SetValues(t *testing.T) {
	req := ParseRequest([]byte(`{"set":{"min_v":20.5,"max_v":"31.25","capacity_h":12}}`))
	require.Equal(t, KindConfigure, req.Kind)

	v, ok := req.Set.Get(FieldMinVoltage)
	require.True(t, ok)
	assert.InDelta(t, 20.5, v, 1e-9)

	v, ok = req.Set.Get(FieldMaxVoltage)
	require.True(t, ok)
	assert.InDelta(t, 31.25, v, 1e-9)

	v, ok = req.Set.Get(FieldCapacity)
	require.True(t, ok)
	assert.InDelta(t, 12.0, v, 1e-9)
}

func TestParseRequest_SetIgnoresUnusableValues(t *testing.T) {
	req := ParseRequest([]byte(`{"set":{"min_v":"abc","max_v":true,"capacity_h":null,"v":3,"fw":1}}`))
	require.Equal(t, KindConfigure, req.Kind)
	assert.True(t, req.Set.Empty())
}

func TestParseRequest_SetPartial(t *testing.T) {
	req := ParseRequest([]byte(`{"set":{"capacity_h":-4}}`))
	require.Equal(t, KindConfigure, req.Kind)
	assert.Equal(t, FieldCapacity, req.Set.Present)
	_, ok := req.Set.Get(FieldMinVoltage)
	assert.False(t, ok)
}

func TestParseRequest_SetRejectsNonFinite(t *testing.T) {
	req := ParseRequest([]byte(`{"set":{"min_v":"NaN","max_v":"Inf","capacity_h":"-inf"}}`))
	require.Equal(t, KindConfigure, req.Kind)
	assert.True(t, req.Set.Empty())
}

// ============================================================
// Request Builder Tests
// ============================================================

func TestNewGetRequest(t *testing.T) {
	assert.Equal(t, `{"get":["v","pct","fw"]}`, string(NewGetRequest(FieldFirmware|FieldPercent|FieldVoltage)))
	assert.Equal(t, `{"get":[]}`, string(NewGetRequest(0)))
}

func TestNewSetRequest(t *testing.T) {
	a := Assignments{}.SetCapacity(12).SetMinVoltage(20.5)
	assert.Equal(t, `{"set":{"min_v":20.500,"capacity_h":12.00}}`, string(NewSetRequest(a)))
}

func TestBuilders_RoundTripThroughParser(t *testing.T) {
	req := ParseRequest(NewStatusRequest())
	require.Equal(t, KindRead, req.Kind)
	assert.Equal(t, AllFields, req.Fields)

	a := Assignments{}.SetMinVoltage(11.8).SetMaxVoltage(14.4).SetCapacity(100)
	req = ParseRequest(NewSetRequest(a))
	require.Equal(t, KindConfigure, req.Kind)
	assert.Equal(t, a, req.Set)
}

func TestFieldByKey(t *testing.T) {
	for _, key := range AllFields.Keys() {
		f, ok := FieldByKey(key)
		require.True(t, ok, key)
		assert.Equal(t, key, f.Key())
	}
	_, ok := FieldByKey("volts")
	assert.False(t, ok)
}
