// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/battmon/pkg/wire"
)

func TestParseFieldArgs(t *testing.T) {
	fields, err := parseFieldArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, wire.AllFields, fields)

	fields, err = parseFieldArgs([]string{"v", "pct"})
	require.NoError(t, err)
	assert.Equal(t, wire.FieldVoltage|wire.FieldPercent, fields)

	fields, err = parseFieldArgs([]string{"v,a", "CONFIG"})
	require.NoError(t, err)
	assert.Equal(t, wire.FieldVoltage|wire.FieldCurrent|wire.ConfigFields, fields)

	_, err = parseFieldArgs([]string{"v", "temperature"})
	assert.ErrorContains(t, err, "temperature")
}

func TestConsoleRequest(t *testing.T) {
	req, err := consoleRequest("get v a")
	require.NoError(t, err)
	assert.Equal(t, string(wire.NewGetRequest(wire.FieldVoltage|wire.FieldCurrent)), string(req))

	req, err = consoleRequest("set min_v=21.5 capacity=12")
	require.NoError(t, err)
	assert.Equal(t, string(wire.NewSetRequest(wire.Assignments{}.SetMinVoltage(21.5).SetCapacity(12))), string(req))

	req, err = consoleRequest(`{"get":["fw"]}`)
	require.NoError(t, err)
	assert.Equal(t, `{"get":["fw"]}`, string(req))

	req, err = consoleRequest("PING")
	require.NoError(t, err)
	assert.Equal(t, string(wire.NewFirmwareRequest()), string(req))

	_, err = consoleRequest("quit")
	assert.ErrorIs(t, err, errQuit)

	for _, bad := range []string{"set", "set min_v", "set min_v=abc", "set colour=3"} {
		_, err = consoleRequest(bad)
		assert.Error(t, err, bad)
	}

	req, err = consoleRequest("help")
	assert.NoError(t, err)
	assert.Nil(t, req)
}
