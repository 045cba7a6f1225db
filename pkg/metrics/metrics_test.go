// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Thermoquad/battmon/pkg/settings"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name     string
		v        float64
		expected float64
	}{
		{"at min", 21.0, 0},
		{"below min", 12.0, 0},
		{"at max", 32.2, 100},
		{"above max", 40.0, 100},
		{"midpoint", 26.6, 50},
		{"quarter", 23.8, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Percent(tt.v, 21.0, 32.2), 1e-9)
		})
	}
}

func TestRemainingHours(t *testing.T) {
	assert.InDelta(t, 5.0, RemainingHours(10, 50), 1e-9)
	assert.InDelta(t, 0.0, RemainingHours(10, 0), 1e-9)
	assert.InDelta(t, 0.0, RemainingHours(0, 100), 1e-9)
	assert.InDelta(t, 137.5, RemainingHours(550, 25), 1e-9)
}

func TestIsCharging(t *testing.T) {
	assert.False(t, IsCharging(-2.0))
	assert.False(t, IsCharging(0))
	assert.False(t, IsCharging(0.05))
	assert.True(t, IsCharging(0.0501))
	assert.True(t, IsCharging(3))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-5, 0, 10))
	assert.Equal(t, 10, Clamp(50, 0, 10))
	assert.Equal(t, 7, Clamp(7, 0, 10))
	assert.InDelta(t, 0.5, Clamp(0.5, 0.0, 1.0), 1e-12)
}

func TestDerive(t *testing.T) {
	cfg := settings.Defaults()

	m := Derive(Reading{BusVoltage: 26.6, Current: 1.0, Valid: BusVoltage | Current}, cfg)
	assert.InDelta(t, 50.0, m.Percent, 1e-9)
	assert.InDelta(t, 5.0, m.Remaining, 1e-9)
	assert.True(t, m.Charging)

	m = Derive(Reading{Current: -1.0, Valid: Current}, cfg)
	assert.Zero(t, m.Percent)
	assert.False(t, m.Charging)

	m = Derive(Reading{BusVoltage: 40, Valid: BusVoltage}, cfg)
	assert.InDelta(t, 100.0, m.Percent, 1e-9)
	assert.InDelta(t, cfg.CapacityHours, m.Remaining, 1e-9)
}
