// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package i2cbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/physic"
)

type fakeClock struct {
	got physic.Frequency
	err error
}

func (f *fakeClock) SetSpeed(s physic.Frequency) error {
	f.got = s
	return f.err
}

func TestApplySpeed(t *testing.T) {
	bus := &fakeClock{}
	assert.NoError(t, applySpeed(bus, 400*physic.KiloHertz))
	assert.Equal(t, 400*physic.KiloHertz, bus.got)

	assert.NoError(t, applySpeed(bus, 0))
	assert.Equal(t, DefaultSpeed, bus.got)
}

func TestApplySpeed_Rejected(t *testing.T) {
	bus := &fakeClock{err: errors.New("clock is fixed")}
	err := applySpeed(bus, DefaultSpeed)
	assert.ErrorIs(t, err, ErrSpeedNotApplied)
	assert.ErrorContains(t, err, "clock is fixed")
}
