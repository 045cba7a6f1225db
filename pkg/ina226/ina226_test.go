// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ina226

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"

	"github.com/Thermoquad/battmon/internal/i2cbus"
)

// Compile-time check.
var _ drivers.I2C = (*scriptedI2C)(nil)

// scriptedI2C records transactions and answers reads from a register map
type scriptedI2C struct {
	regs   map[byte]uint16
	writes [][]byte
	err    error
}

func (s *scriptedI2C) Tx(addr uint16, w, r []byte) error {
	if s.err != nil {
		return s.err
	}
	if len(w) == 3 {
		s.writes = append(s.writes, append([]byte(nil), w...))
	}
	if len(r) == 2 && len(w) >= 1 {
		v := s.regs[w[0]]
		r[0], r[1] = byte(v>>8), byte(v)
	}
	return nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint16(0x0527), cfg.ConfigWord())

	cal, err := cfg.Calibration()
	require.NoError(t, err)
	assert.Equal(t, uint16(839), cal)
}

func TestConfig_CalibrationRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShuntOhms = 100
	_, err := cfg.Calibration()
	assert.ErrorIs(t, err, ErrCalibration)

	cfg = DefaultConfig()
	cfg.MaxCurrent = 0.00001
	_, err = cfg.Calibration()
	assert.ErrorIs(t, err, ErrCalibration)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero address", func(c *Config) { c.Address = 0 }},
		{"wide address", func(c *Config) { c.Address = 0x80 }},
		{"zero shunt", func(c *Config) { c.ShuntOhms = 0 }},
		{"negative current", func(c *Config) { c.MaxCurrent = -1 }},
		{"bad averaging", func(c *Config) { c.Averaging = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidSettings)
		})
	}
}

func TestConfigure_WritesCalibrationAndConfig(t *testing.T) {
	bus := &scriptedI2C{regs: map[byte]uint16{RegManufacturerID: ManufacturerTI}}
	dev := New(bus, DefaultConfig())
	require.NoError(t, dev.Configure())

	require.Len(t, bus.writes, 2)
	assert.Equal(t, []byte{RegCalibration, 0x03, 0x47}, bus.writes[0])
	assert.Equal(t, []byte{RegConfig, 0x05, 0x27}, bus.writes[1])
}

func TestConfigure_WrongDevice(t *testing.T) {
	bus := &scriptedI2C{regs: map[byte]uint16{RegManufacturerID: 0x1234}}
	err := New(bus, DefaultConfig()).Configure()
	assert.ErrorIs(t, err, ErrWrongDevice)
	assert.Empty(t, bus.writes)
}

func TestConfigure_BusError(t *testing.T) {
	busErr := errors.New("nack")
	err := New(&scriptedI2C{err: busErr}, DefaultConfig()).Configure()
	assert.ErrorIs(t, err, busErr)
}

func TestReadings_Scaling(t *testing.T) {
	bus := &scriptedI2C{regs: map[byte]uint16{
		RegManufacturerID: ManufacturerTI,
		RegBusVoltage:     20000,  // 25.0 V
		RegShuntVoltage:   0xFC18, // -1000 LSB
		RegCurrent:        0xF000, // -4096 LSB
		RegPower:          1000,
	}}
	dev := New(bus, DefaultConfig())

	_, err := dev.Current()
	assert.ErrorIs(t, err, ErrNotConfigured)

	require.NoError(t, dev.Configure())

	v, err := dev.BusVoltage()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, v, 1e-9)

	sv, err := dev.ShuntVoltage()
	require.NoError(t, err)
	assert.InDelta(t, -2.5e-3, sv, 1e-12)

	a, err := dev.Current()
	require.NoError(t, err)
	assert.InDelta(t, -0.25, a, 1e-9)

	p, err := dev.Power()
	require.NoError(t, err)
	assert.InDelta(t, 1000*25*2.0/32768, p, 1e-9)
}

func TestDevice_AgainstSimulator(t *testing.T) {
	sim := i2cbus.NewSimINA226(AddressDefault, 0.1)
	sim.Set(26.6, 0.5)

	dev := New(sim, DefaultConfig())
	require.NoError(t, dev.Configure())
	assert.Equal(t, uint16(839), sim.Calibration())
	assert.Equal(t, uint16(0x0527), sim.Config())
	assert.True(t, dev.Connected())

	v, err := dev.BusVoltage()
	require.NoError(t, err)
	assert.InDelta(t, 26.6, v, 0.00125)

	a, err := dev.Current()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, a, 0.001)

	p, err := dev.Power()
	require.NoError(t, err)
	assert.InDelta(t, 13.3, p, 0.05)

	sim.SetAbsent(true)
	assert.False(t, dev.Connected())
	_, err = dev.BusVoltage()
	assert.ErrorIs(t, err, i2cbus.ErrNACK)
}
