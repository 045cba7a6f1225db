// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ina226 drives the TI INA226 current/power monitor over I2C.
package ina226

import (
	"errors"
	"fmt"
	"math"
	"time"

	"tinygo.org/x/drivers"
)

// Registers
const (
	RegConfig         = 0x00
	RegShuntVoltage   = 0x01
	RegBusVoltage     = 0x02
	RegPower          = 0x03
	RegCurrent        = 0x04
	RegCalibration    = 0x05
	RegMaskEnable     = 0x06
	RegAlertLimit     = 0x07
	RegManufacturerID = 0xFE
	RegDieID          = 0xFF
)

// Identification
const (
	AddressDefault = 0x40
	ManufacturerTI = 0x5449 // "TI"
	DieIDINA226    = 0x2260 // upper 12 bits of the die id register
)

// Fixed LSB weights
const (
	BusVoltageLSB   = 1.25e-3 // V/LSB
	ShuntVoltageLSB = 2.5e-6  // V/LSB
	calibrationK    = 0.00512
	powerLSBFactor  = 25
)

// Averaging is the AVG field of the configuration register
type Averaging uint16

const (
	Avg1 Averaging = iota
	Avg4
	Avg16
	Avg64
	Avg128
	Avg256
	Avg512
	Avg1024
)

// ConvTime is a VBUSCT/VSHCT conversion time code
type ConvTime uint16

const (
	Conv140us ConvTime = iota
	Conv204us
	Conv332us
	Conv588us
	Conv1100us
	Conv2116us
	Conv4156us
	Conv8244us
)

var convDurations = [...]time.Duration{
	140 * time.Microsecond,
	204 * time.Microsecond,
	332 * time.Microsecond,
	588 * time.Microsecond,
	1100 * time.Microsecond,
	2116 * time.Microsecond,
	4156 * time.Microsecond,
	8244 * time.Microsecond,
}

// Duration returns the conversion time
func (c ConvTime) Duration() time.Duration {
	if int(c) < len(convDurations) {
		return convDurations[c]
	}
	return 0
}

// Mode is the MODE field of the configuration register
type Mode uint16

const (
	ModePowerDown       Mode = 0
	ModeShuntTriggered  Mode = 1
	ModeBusTriggered    Mode = 2
	ModeBothTriggered   Mode = 3
	ModeShuntContinuous Mode = 5
	ModeBusContinuous   Mode = 6
	ModeBothContinuous  Mode = 7
)

// Errors
var (
	ErrWrongDevice     = errors.New("ina226: unexpected manufacturer id")
	ErrCalibration     = errors.New("ina226: calibration out of range")
	ErrNotConfigured   = errors.New("ina226: device not configured")
	ErrInvalidSettings = errors.New("ina226: invalid settings")
)

// Config holds the driver settings
type Config struct {
	Address       uint16
	ShuntOhms     float64
	MaxCurrent    float64 // expected full-scale current in amps
	Averaging     Averaging
	BusConvTime   ConvTime
	ShuntConvTime ConvTime
	Mode          Mode
}

// DefaultConfig matches the reference board: 0.1 Ω shunt, 2 A full scale
func DefaultConfig() Config {
	return Config{
		Address:       AddressDefault,
		ShuntOhms:     0.1,
		MaxCurrent:    2.0,
		Averaging:     Avg16,
		BusConvTime:   Conv1100us,
		ShuntConvTime: Conv1100us,
		Mode:          ModeBothContinuous,
	}
}

// Validate checks the settings before they reach the device
func (c Config) Validate() error {
	switch {
	case c.Address == 0 || c.Address > 0x7F:
		return fmt.Errorf("%w: address 0x%02X", ErrInvalidSettings, c.Address)
	case !(c.ShuntOhms > 0) || math.IsInf(c.ShuntOhms, 0):
		return fmt.Errorf("%w: shunt %.4f Ω", ErrInvalidSettings, c.ShuntOhms)
	case !(c.MaxCurrent > 0) || math.IsInf(c.MaxCurrent, 0):
		return fmt.Errorf("%w: max current %.3f A", ErrInvalidSettings, c.MaxCurrent)
	case c.Averaging > Avg1024 || c.BusConvTime > Conv8244us || c.ShuntConvTime > Conv8244us || c.Mode > ModeBothContinuous:
		return fmt.Errorf("%w: register field out of range", ErrInvalidSettings)
	}
	return nil
}

// ConfigWord returns the configuration register value
func (c Config) ConfigWord() uint16 {
	return uint16(c.Averaging)<<9 | uint16(c.BusConvTime)<<6 | uint16(c.ShuntConvTime)<<3 | uint16(c.Mode)
}

// CurrentLSB returns the current resolution in A/LSB
func (c Config) CurrentLSB() float64 {
	return c.MaxCurrent / 32768
}

// Calibration returns the CAL register value for the settings
func (c Config) Calibration() (uint16, error) {
	cal := calibrationK / (c.CurrentLSB() * c.ShuntOhms)
	if cal < 1 || cal > 0xFFFF {
		return 0, fmt.Errorf("%w: %.1f", ErrCalibration, cal)
	}
	return uint16(math.Round(cal)), nil
}

// Device represents an INA226 on an I2C bus.
// It is not safe for concurrent use.
type Device struct {
	i2c  drivers.I2C
	addr uint16
	cfg  Config

	currentLSB float64
	powerLSB   float64
	configured bool

	// Fixed buffers to avoid per-call heap allocations.
	w [3]byte
	r [2]byte
}

// New constructs a Device. Call Configure before reading current or power.
func New(i2c drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = AddressDefault
	}
	return &Device{i2c: i2c, addr: cfg.Address, cfg: cfg}
}

// Address returns the 7-bit bus address
func (d *Device) Address() uint16 { return d.addr }

// Configure verifies the device identity and programs calibration and mode
func (d *Device) Configure() error {
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	id, err := d.readWord(RegManufacturerID)
	if err != nil {
		return fmt.Errorf("ina226: reading manufacturer id: %w", err)
	}
	if id != ManufacturerTI {
		return fmt.Errorf("%w: 0x%04X", ErrWrongDevice, id)
	}
	cal, err := d.cfg.Calibration()
	if err != nil {
		return err
	}
	if err := d.writeWord(RegCalibration, cal); err != nil {
		return fmt.Errorf("ina226: writing calibration: %w", err)
	}
	if err := d.writeWord(RegConfig, d.cfg.ConfigWord()); err != nil {
		return fmt.Errorf("ina226: writing config: %w", err)
	}
	d.currentLSB = d.cfg.CurrentLSB()
	d.powerLSB = d.currentLSB * powerLSBFactor
	d.configured = true
	return nil
}

// Connected reports whether a device answers with the expected identity
func (d *Device) Connected() bool {
	id, err := d.readWord(RegManufacturerID)
	return err == nil && id == ManufacturerTI
}

// DieID returns the die identification register
func (d *Device) DieID() (uint16, error) {
	return d.readWord(RegDieID)
}

// BusVoltage returns the bus voltage in volts
func (d *Device) BusVoltage() (float64, error) {
	raw, err := d.readWord(RegBusVoltage)
	if err != nil {
		return 0, err
	}
	return float64(raw) * BusVoltageLSB, nil
}

// ShuntVoltage returns the signed shunt voltage in volts
func (d *Device) ShuntVoltage() (float64, error) {
	raw, err := d.readS16(RegShuntVoltage)
	if err != nil {
		return 0, err
	}
	return float64(raw) * ShuntVoltageLSB, nil
}

// Current returns the signed current in amps
func (d *Device) Current() (float64, error) {
	if !d.configured {
		return 0, ErrNotConfigured
	}
	raw, err := d.readS16(RegCurrent)
	if err != nil {
		return 0, err
	}
	return float64(raw) * d.currentLSB, nil
}

// Power returns the power in watts
func (d *Device) Power() (float64, error) {
	if !d.configured {
		return 0, ErrNotConfigured
	}
	raw, err := d.readWord(RegPower)
	if err != nil {
		return 0, err
	}
	return float64(raw) * d.powerLSB, nil
}

// I2C 16-bit word operations (big-endian: HIGH then LOW).

func (d *Device) readWord(reg byte) (uint16, error) {
	d.w[0] = reg
	if err := d.i2c.Tx(d.addr, d.w[:1], d.r[:2]); err != nil {
		return 0, err
	}
	return uint16(d.r[0])<<8 | uint16(d.r[1]), nil
}

func (d *Device) readS16(reg byte) (int16, error) {
	u, err := d.readWord(reg)
	return int16(u), err
}

func (d *Device) writeWord(reg byte, val uint16) error {
	d.w[0] = reg
	d.w[1] = byte(val >> 8)
	d.w[2] = byte(val)
	return d.i2c.Tx(d.addr, d.w[:3], nil)
}
