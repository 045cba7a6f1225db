// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package settings persists the battery thresholds in a flash sector.
//
// The configuration lives in a fixed 64-byte record at the start of the
// last erase sector. Records carry a version; older versions are decoded
// through a migration table and rewritten in the current layout.
package settings

import (
	"errors"
	"fmt"
	"math"
)

// Default configuration
const (
	DefaultMinVoltage    = 21.0
	DefaultMaxVoltage    = 32.2
	DefaultCapacityHours = 10.0
)

// Sanity bounds for stored values
const (
	VoltageFloor   = -100.0 // exclusive
	VoltageCeiling = 1000.0 // exclusive
	MaxCapacity    = 10000.0
	MinSpan        = 0.001 // smallest gap between min and max after normalisation

	// Inclusive bounds used by Normalize, kept inside the exclusive ones
	normFloor   = -99.999
	normCeiling = 999.999
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the user-adjustable thresholds
type Config struct {
	MinVoltage    float64 `yaml:"min_v"`
	MaxVoltage    float64 `yaml:"max_v"`
	CapacityHours float64 `yaml:"capacity_h"`
}

// Defaults returns the configuration used when nothing valid is stored
func Defaults() Config {
	return Config{
		MinVoltage:    DefaultMinVoltage,
		MaxVoltage:    DefaultMaxVoltage,
		CapacityHours: DefaultCapacityHours,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks the configuration invariants
func (c Config) Validate() error {
	switch {
	case !finite(c.MinVoltage) || !finite(c.MaxVoltage) || !finite(c.CapacityHours):
		return fmt.Errorf("%w: non-finite value", ErrInvalidConfig)
	case c.MaxVoltage <= c.MinVoltage:
		return fmt.Errorf("%w: max_v %.3f not above min_v %.3f", ErrInvalidConfig, c.MaxVoltage, c.MinVoltage)
	case c.MinVoltage <= VoltageFloor:
		return fmt.Errorf("%w: min_v %.3f below %.0f", ErrInvalidConfig, c.MinVoltage, VoltageFloor)
	case c.MaxVoltage >= VoltageCeiling:
		return fmt.Errorf("%w: max_v %.3f above %.0f", ErrInvalidConfig, c.MaxVoltage, VoltageCeiling)
	case c.CapacityHours < 0 || c.CapacityHours > MaxCapacity:
		return fmt.Errorf("%w: capacity_h %.2f outside 0-%.0f", ErrInvalidConfig, c.CapacityHours, MaxCapacity)
	}
	return nil
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Normalize coerces the configuration into one that passes Validate.
// Voltages are clamped into the sane range, swapped when inverted and
// widened by MinSpan when equal. Capacity is clamped into [0, MaxCapacity].
// Non-finite values fall back to the defaults.
func (c Config) Normalize() Config {
	d := Defaults()
	if !finite(c.MinVoltage) {
		c.MinVoltage = d.MinVoltage
	}
	if !finite(c.MaxVoltage) {
		c.MaxVoltage = d.MaxVoltage
	}
	if !finite(c.CapacityHours) {
		c.CapacityHours = d.CapacityHours
	}

	c.MinVoltage = clampFloat(c.MinVoltage, normFloor, normCeiling)
	c.MaxVoltage = clampFloat(c.MaxVoltage, normFloor, normCeiling)

	if c.MaxVoltage < c.MinVoltage {
		c.MinVoltage, c.MaxVoltage = c.MaxVoltage, c.MinVoltage
	}
	if c.MaxVoltage-c.MinVoltage < MinSpan {
		if c.MinVoltage+MinSpan <= normCeiling {
			c.MaxVoltage = c.MinVoltage + MinSpan
		} else {
			c.MinVoltage = c.MaxVoltage - MinSpan
		}
	}

	c.CapacityHours = clampFloat(c.CapacityHours, 0, MaxCapacity)
	return c
}

// Equal reports whether two configurations hold the same values
func (c Config) Equal(o Config) bool {
	return c.MinVoltage == o.MinVoltage && c.MaxVoltage == o.MaxVoltage && c.CapacityHours == o.CapacityHours
}

func (c Config) String() string {
	return fmt.Sprintf("min_v=%.3f max_v=%.3f capacity_h=%.2f", c.MinVoltage, c.MaxVoltage, c.CapacityHours)
}
