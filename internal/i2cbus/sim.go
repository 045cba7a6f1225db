// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package i2cbus

import (
	"errors"
	"math"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// Simulated bus errors
var (
	ErrNACK     = errors.New("i2c: address not acknowledged")
	ErrBusFault = errors.New("i2c: bus fault")
)

// Profile returns the battery voltage and current at a point in time
type Profile func(elapsed time.Duration) (volts, amps float64)

// CycleProfile sweeps the voltage between lo and hi as a triangle wave.
// Current is positive (charging) on the way up and negative on the way down.
func CycleProfile(lo, hi float64, period time.Duration, chargeA, loadA float64) Profile {
	return func(elapsed time.Duration) (float64, float64) {
		if period <= 0 {
			return lo, 0
		}
		phase := math.Mod(float64(elapsed), float64(period)) / float64(period)
		if phase < 0.5 {
			return lo + (hi-lo)*phase*2, chargeA
		}
		return hi - (hi-lo)*(phase-0.5)*2, -loadA
	}
}

// SimINA226 emulates the register file of an INA226 behind a bus.
// Register contents follow the datasheet: current and power are derived
// from the shunt voltage and the programmed calibration.
type SimINA226 struct {
	mu sync.Mutex

	addr      uint16
	shuntOhms float64
	pointer   byte
	config    uint16
	cal       uint16

	volts   float64
	amps    float64
	profile Profile
	start   time.Time

	absent    bool
	failReads int

	Reads  int
	Writes int
}

// Compile-time check.
var _ drivers.I2C = (*SimINA226)(nil)

// NewSimINA226 creates a simulated device at addr with the given shunt
func NewSimINA226(addr uint16, shuntOhms float64) *SimINA226 {
	return &SimINA226{
		addr:      addr,
		shuntOhms: shuntOhms,
		config:    0x4127, // power-on default
		volts:     26.6,
		start:     time.Now(),
	}
}

// Set fixes the simulated battery voltage and current
func (s *SimINA226) Set(volts, amps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volts, s.amps = volts, amps
	s.profile = nil
}

// SetProfile makes voltage and current follow p from now on
func (s *SimINA226) SetProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	s.start = time.Now()
}

// SetAbsent makes the device stop acknowledging its address
func (s *SimINA226) SetAbsent(absent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.absent = absent
}

// FailReads makes the next n register reads fail with ErrBusFault
func (s *SimINA226) FailReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// Calibration returns the programmed CAL register
func (s *SimINA226) Calibration() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cal
}

// Config returns the programmed configuration register
func (s *SimINA226) Config() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Tx implements drivers.I2C
func (s *SimINA226) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.absent || addr != s.addr {
		return ErrNACK
	}
	if len(w) >= 1 {
		s.pointer = w[0]
	}
	if len(w) == 3 {
		s.Writes++
		s.write(s.pointer, uint16(w[1])<<8|uint16(w[2]))
	}
	if len(r) > 0 {
		if s.failReads > 0 {
			s.failReads--
			return ErrBusFault
		}
		s.Reads++
		v := s.read(s.pointer)
		r[0] = byte(v >> 8)
		if len(r) > 1 {
			r[1] = byte(v)
		}
	}
	return nil
}

func (s *SimINA226) write(reg byte, v uint16) {
	switch reg {
	case 0x00:
		if v&0x8000 != 0 {
			// reset bit restores defaults
			s.config = 0x4127
			s.cal = 0
			return
		}
		s.config = v
	case 0x05:
		s.cal = v & 0x7FFF
	}
}

func (s *SimINA226) read(reg byte) uint16 {
	volts, amps := s.volts, s.amps
	if s.profile != nil {
		volts, amps = s.profile(time.Since(s.start))
	}

	bus := clampRaw(math.Round(volts/1.25e-3), 0, 0x7FFF)
	shunt := clampRaw(math.Round(amps*s.shuntOhms/2.5e-6), math.MinInt16, math.MaxInt16)
	current := clampRaw(math.Trunc(shunt*float64(s.cal)/2048), math.MinInt16, math.MaxInt16)
	power := clampRaw(math.Abs(current)*bus/20000, 0, 0xFFFF)

	switch reg {
	case 0x00:
		return s.config
	case 0x01:
		return uint16(int16(shunt))
	case 0x02:
		return uint16(bus)
	case 0x03:
		return uint16(power)
	case 0x04:
		return uint16(int16(current))
	case 0x05:
		return s.cal
	case 0xFE:
		return 0x5449
	case 0xFF:
		return 0x2260
	}
	return 0
}

func clampRaw(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
