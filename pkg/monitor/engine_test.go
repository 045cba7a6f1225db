// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/battmon/internal/i2cbus"
	"github.com/Thermoquad/battmon/pkg/ina226"
	"github.com/Thermoquad/battmon/pkg/settings"
	"github.com/Thermoquad/battmon/pkg/wire"
)

// fakeSensor returns fixed values and counts reads
type fakeSensor struct {
	volts, amps, watts float64
	err                error
	calls              map[string]int
}

func newFakeSensor(volts, amps float64) *fakeSensor {
	return &fakeSensor{volts: volts, amps: amps, watts: volts * amps, calls: map[string]int{}}
}

func (f *fakeSensor) BusVoltage() (float64, error) {
	f.calls["v"]++
	return f.volts, f.err
}

func (f *fakeSensor) Current() (float64, error) {
	f.calls["a"]++
	return f.amps, f.err
}

func (f *fakeSensor) Power() (float64, error) {
	f.calls["w"]++
	return f.watts, f.err
}

// failingStore loads defaults and refuses every save
type failingStore struct {
	saves int
}

func (f *failingStore) Load() (settings.Config, settings.Outcome) {
	return settings.Defaults(), settings.OutcomeDefaulted
}

func (f *failingStore) Save(settings.Config) error {
	f.saves++
	return errors.New("flash worn out")
}

func newTestEngine(t *testing.T, sensor Sensor, available bool) (*Engine, *settings.Store, *settings.MemFlash) {
	t.Helper()
	flash := settings.NewMemFlash(64*1024, 4096)
	store := settings.NewStore(flash, settings.StoreOptions{Logger: zerolog.Nop()})
	e := NewEngine(store, sensor, Options{
		SensorAvailable: available,
		Firmware:        "battmon-test",
		Logger:          zerolog.Nop(),
	})
	return e, store, flash
}

func handle(e *Engine, req string) string {
	return string(e.Handle([]byte(req)))
}

func TestEngine_ReadEndToEnd(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(28.523, 0.1234), true)

	out := handle(e, `{"get":["v","pct","hrs_remaining","charging"]}`)
	assert.Equal(t, `{"v":28.523,"pct":67.17,"charging":true,"hrs_remaining":6.7}`+"\n", out)
}

func TestEngine_ReadOnlyNeededQuantities(t *testing.T) {
	sensor := newFakeSensor(25, -1)
	e, _, _ := newTestEngine(t, sensor, true)

	handle(e, `{"get":["pct"]}`)
	assert.Equal(t, map[string]int{"v": 1}, sensor.calls)

	handle(e, `{"get":["charging","w"]}`)
	assert.Equal(t, map[string]int{"v": 1, "a": 1, "w": 1}, sensor.calls)

	handle(e, `{"get":["min_v","fw"]}`)
	assert.Equal(t, map[string]int{"v": 1, "a": 1, "w": 1}, sensor.calls)
}

func TestEngine_ReadConfigFields(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25, 0), true)
	out := handle(e, `{"get":["fw","capacity_h","max_v","min_v"]}`)
	assert.Equal(t, `{"min_v":21.000,"max_v":32.200,"capacity_h":10.00,"fw":"battmon-test"}`+"\n", out)
}

func TestEngine_ReadUnknownFieldsOnly(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25, 0), true)
	assert.Equal(t, "{}\n", handle(e, `{"get":["bogus"]}`))
}

func TestEngine_ReadFailure(t *testing.T) {
	sensor := newFakeSensor(25, 0)
	sensor.err = errors.New("nack")
	e, _, _ := newTestEngine(t, sensor, true)

	out := handle(e, `{"get":["v","min_v"]}`)
	assert.Equal(t, `{"error":"i2c_read"}`+"\n", out)

	st := e.Snapshot()
	assert.Equal(t, uint64(1), st.ReadFailures)
}

func TestEngine_Unavailable(t *testing.T) {
	sensor := newFakeSensor(25, 0)
	e, _, _ := newTestEngine(t, sensor, false)
	assert.False(t, e.Available())

	out := handle(e, `{"get":["v","min_v"]}`)
	reply, err := wire.ParseReply([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, wire.CodeSensorUnavailable, reply.Error)
	assert.NotEmpty(t, reply.Note)
	assert.True(t, reply.Present.Has(wire.FieldMinVoltage))
	assert.False(t, reply.Present.Has(wire.FieldVoltage))
	assert.InDelta(t, 21.0, reply.MinVoltage, 1e-9)
	assert.Empty(t, sensor.calls)
}

func TestEngine_NilSensorIsUnavailable(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, true)
	assert.False(t, e.Available())
	assert.Contains(t, handle(e, `{"get":["a"]}`), `"error":"sensor_unavailable"`)
}

func TestEngine_Configure(t *testing.T) {
	e, store, _ := newTestEngine(t, newFakeSensor(25, 0), true)

	out := handle(e, `{"set":{"min_v":22.5,"capacity_h":"12"}}`)
	assert.Equal(t, `{"ok":true,"min_v":22.500,"max_v":32.200,"capacity_h":12.00}`+"\n", out)

	cfg, outcome := store.Load()
	assert.Equal(t, settings.OutcomeLoaded, outcome)
	assert.InDelta(t, 22.5, cfg.MinVoltage, 1e-6)
	assert.InDelta(t, 12.0, cfg.CapacityHours, 1e-6)
	assert.Equal(t, cfg, e.Config())
}

func TestEngine_ConfigureNormalizes(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25, 0), true)

	handle(e, `{"set":{"min_v":30,"max_v":20,"capacity_h":-5}}`)
	cfg := e.Config()
	assert.InDelta(t, 20.0, cfg.MinVoltage, 1e-9)
	assert.InDelta(t, 30.0, cfg.MaxVoltage, 1e-9)
	assert.Zero(t, cfg.CapacityHours)
	require.NoError(t, cfg.Validate())
}

func TestEngine_ConfigureEmptyEchoes(t *testing.T) {
	e, _, flash := newTestEngine(t, newFakeSensor(25, 0), true)
	erases := flash.Erases

	out := handle(e, `{"set":{}}`)
	assert.Equal(t, `{"ok":true,"min_v":21.000,"max_v":32.200,"capacity_h":10.00}`+"\n", out)
	assert.Equal(t, erases, flash.Erases)
}

func TestEngine_ConfigureWhileUnavailable(t *testing.T) {
	e, store, _ := newTestEngine(t, nil, false)

	out := handle(e, `{"set":{"max_v":29}}`)
	reply, err := wire.ParseReply([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, wire.CodeSensorUnavailable, reply.Error)
	assert.True(t, reply.OK)
	assert.InDelta(t, 29.0, reply.MaxVoltage, 1e-9)

	cfg, _ := store.Load()
	assert.InDelta(t, 29.0, cfg.MaxVoltage, 1e-6)
}

func TestEngine_ConfigureIdempotent(t *testing.T) {
	e, store, flash := newTestEngine(t, newFakeSensor(25, 0), true)
	before := append([]byte(nil), flash.Bytes()...)

	out := handle(e, `{"set":{"min_v":21.0,"max_v":32.2,"capacity_h":10}}`)
	assert.Equal(t, `{"ok":true,"min_v":21.000,"max_v":32.200,"capacity_h":10.00}`+"\n", out)

	off := store.Offset()
	assert.True(t, bytes.Equal(before[off:off+settings.RecordSize], flash.Bytes()[off:off+settings.RecordSize]),
		"record content changed")

	cfg, outcome := store.Load()
	assert.Equal(t, settings.OutcomeLoaded, outcome)
	assert.Equal(t, settings.Defaults(), cfg)
}

func TestEngine_ConfigureStorageFailureStillAcks(t *testing.T) {
	var logs bytes.Buffer
	store := &failingStore{}
	e := NewEngine(store, newFakeSensor(25, 0), Options{SensorAvailable: true, Logger: zerolog.New(&logs)})

	out := handle(e, `{"set":{"min_v":23}}`)
	assert.Contains(t, out, `"ok":true`)
	assert.Equal(t, 1, store.saves)
	assert.InDelta(t, 23.0, e.Config().MinVoltage, 1e-9)

	// the divergence between memory and flash is logged with both configs
	var entry map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &m))
		if m["level"] == "warn" {
			entry = m
		}
	}
	require.NotNil(t, entry, "no warning logged")
	assert.Equal(t, "flash worn out", entry["error"])
	assert.Equal(t, e.Config().String(), entry["config"])
	assert.Equal(t, settings.Defaults().String(), entry["persisted"])
}

func TestEngine_ErrorResponses(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeSensor(25, 0), true)

	tests := []struct {
		req  string
		want string
	}{
		{`{"get":["v"],"set":{"min_v":1}}`, `{"error":"both_get_and_set"}`},
		{`{"hello":1}`, `{"error":"bad_request"}`},
		{`{"get":5}`, `{"error":"bad_request"}`},
		{`{not json}`, `{"error":"bad_request"}`},
	}
	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			assert.Equal(t, tt.want+"\n", handle(e, tt.req))
		})
	}

	st := e.Snapshot()
	assert.Equal(t, uint64(4), st.Total)
	assert.Equal(t, uint64(1), st.Conflicts)
	assert.Equal(t, uint64(3), st.BadRequests)
}

func TestEngine_DefaultFirmware(t *testing.T) {
	flash := settings.NewMemFlash(64*1024, 4096)
	e := NewEngine(settings.NewStore(flash, settings.StoreOptions{}), nil, Options{Logger: zerolog.Nop()})
	assert.Contains(t, handle(e, `{"get":["fw"]}`), `"fw":"battmon"`)
}

func TestEngine_WithSimulatedINA226(t *testing.T) {
	sim := i2cbus.NewSimINA226(ina226.AddressDefault, 0.1)
	sim.Set(26.6, 0.5)
	dev := ina226.New(sim, ina226.DefaultConfig())
	require.NoError(t, dev.Configure())

	e, _, _ := newTestEngine(t, dev, true)
	reply, err := wire.ParseReply(e.Handle([]byte(`{"get":["v","a","charging"]}`)))
	require.NoError(t, err)
	assert.InDelta(t, 26.6, reply.Voltage, 0.002)
	assert.InDelta(t, 0.5, reply.Current, 0.001)
	assert.True(t, reply.Charging)

	sim.FailReads(1)
	assert.Equal(t, `{"error":"i2c_read"}`+"\n", string(e.Handle([]byte(`{"get":["v"]}`))))
}
