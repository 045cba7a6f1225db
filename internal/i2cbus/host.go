// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package i2cbus provides the I2C buses the sensor driver runs on: host
// adapters through periph.io and a simulated INA226 for development.
package i2cbus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// DefaultSpeed matches the 100 kHz standard-mode clock of the reference board
const DefaultSpeed = 100 * physic.KiloHertz

// Bus is a host I2C bus usable by tinygo drivers
type Bus interface {
	drivers.I2C
	Close() error
	String() string
}

// Compile-time check.
var _ drivers.I2C = i2c.Bus(nil)

// ErrSpeedNotApplied is returned alongside a usable bus whose adapter
// refused the requested clock.
var ErrSpeedNotApplied = errors.New("I2C clock speed not applied")

type speedSetter interface {
	SetSpeed(f physic.Frequency) error
}

func applySpeed(bus speedSetter, speed physic.Frequency) error {
	if speed == 0 {
		speed = DefaultSpeed
	}
	if err := bus.SetSpeed(speed); err != nil {
		return fmt.Errorf("%w (%s): %v", ErrSpeedNotApplied, speed, err)
	}
	return nil
}

// Open initialises the host drivers and opens the named bus.
// An empty name selects the first bus found.
//
// If the adapter rejects the clock, Open returns the bus together with an
// error wrapping ErrSpeedNotApplied; the bus then runs at the adapter's own
// clock and may still be used.
func Open(name string, speed physic.Frequency) (Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initializing host drivers: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening I2C bus %q: %w", name, err)
	}
	return bus, applySpeed(bus, speed)
}

// List returns the names of the registered host buses
func List() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initializing host drivers: %w", err)
	}
	var names []string
	for _, ref := range i2creg.All() {
		names = append(names, ref.Name)
	}
	return names, nil
}
