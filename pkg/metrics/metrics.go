// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics derives state-of-charge values from raw sensor readings.
package metrics

import (
	"golang.org/x/exp/constraints"

	"github.com/Thermoquad/battmon/pkg/settings"
)

// ChargingThreshold is the current above which the battery counts as charging
const ChargingThreshold = 0.05 // amps

// Quantity identifies one raw sensor measurement
type Quantity uint8

// Raw quantities
const (
	BusVoltage Quantity = 1 << iota
	Current
	Power
)

// Reading holds the raw quantities acquired during one request.
// Each quantity is acquired independently; Valid marks which are set.
type Reading struct {
	BusVoltage float64 // volts
	Current    float64 // amps, positive while charging
	Power      float64 // watts
	Valid      Quantity
}

// Has reports whether all quantities in q were acquired
func (r Reading) Has(q Quantity) bool { return q != 0 && r.Valid&q == q }

// Metrics are the values derived from a reading and the configuration
type Metrics struct {
	Percent   float64
	Remaining float64 // hours
	Charging  bool
}

// Clamp limits v to [lo, hi]
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Percent maps a voltage linearly onto 0-100 between the thresholds.
// The caller guarantees max != min.
func Percent(v, min, max float64) float64 {
	return 100 * Clamp((v-min)/(max-min), 0, 1)
}

// RemainingHours scales the capacity by the charge percentage
func RemainingHours(capacity, pct float64) float64 {
	return capacity * pct / 100
}

// IsCharging reports whether current flows into the battery
func IsCharging(current float64) bool {
	return current > ChargingThreshold
}

// Derive computes the metrics a reading supports.
// Percent and Remaining need the bus voltage; Charging needs the current.
func Derive(r Reading, cfg settings.Config) Metrics {
	var m Metrics
	if r.Has(BusVoltage) {
		m.Percent = Percent(r.BusVoltage, cfg.MinVoltage, cfg.MaxVoltage)
		m.Remaining = RemainingHours(cfg.CapacityHours, m.Percent)
	}
	if r.Has(Current) {
		m.Charging = IsCharging(r.Current)
	}
	return m
}
