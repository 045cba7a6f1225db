// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/battmon/pkg/wire"
)

const statusReply = `{"v":28.523,"a":0.8000,"w":22.8000,"pct":67.17,"charging":true,"hrs_remaining":6.7,` +
	`"min_v":21.000,"max_v":32.200,"capacity_h":10.00,"fw":"battmon-test"}`

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 seconds"},
		{500, "0 seconds"},
		{1000, "1 second"},
		{45000, "45 seconds"},
		{61000, "1 minute and 1 second"},
		{3600000, "1 hour"},
		{7320000, "2 hours and 2 minutes"},
		{90061000, "1 day, 1 hour, 1 minute, and 1 second"},
		{3 * 86400000, "3 days"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.ms), "ms=%d", tt.ms)
	}
}

func TestChargeBar(t *testing.T) {
	assert.Equal(t, "█████░░░░░", chargeBar(50, 10))
	assert.Equal(t, "░░░░░░░░░░", chargeBar(-5, 10))
	assert.Equal(t, "██████████", chargeBar(150, 10))
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

func update(t *testing.T, m monitorModel, msg tea.Msg) (monitorModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(monitorModel)
	require.True(t, ok, "Update returned %T", next)
	return mm, cmd
}

func pollReply(t *testing.T, raw string) pollMsg {
	t.Helper()
	reply, err := wire.ParseReply([]byte(raw))
	require.NoError(t, err)
	return pollMsg{reply: reply, anomalies: wire.ValidateReply(reply)}
}

func lastLog(m monitorModel) errorLogEntry {
	return m.errorLog[len(m.errorLog)-1]
}

func TestModel_Poll(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)

	m, _ = update(t, m, pollReply(t, statusReply))
	require.NotNil(t, m.last)
	assert.InDelta(t, 28.523, m.last.Voltage, 1e-9)
	assert.Equal(t, uint64(1), m.stats.Total)
	assert.Equal(t, uint64(1), m.stats.Valid)
	assert.Empty(t, m.errorLog, "consistent replies are not logged without show-all")

	view := m.View()
	assert.Contains(t, view, "28.523 V")
	assert.Contains(t, view, "67.17%")
}

func TestModel_PollShowAll(t *testing.T) {
	m := initialMonitorModel(nil, "test", true)
	m, _ = update(t, m, pollReply(t, statusReply))
	require.Len(t, m.errorLog, 1)
	assert.False(t, m.errorLog[0].isError)
	assert.Contains(t, m.errorLog[0].message, "STATUS")
}

func TestModel_PollAnomaly(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)
	m, _ = update(t, m, pollReply(t, `{"pct":150.00}`))
	require.NotEmpty(t, m.errorLog)
	assert.True(t, lastLog(m).isError)
	assert.Contains(t, lastLog(m).message, "PERCENT_RANGE")
	assert.Equal(t, uint64(1), m.stats.AnomalousValues)
}

func TestModel_PollError(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)
	m, _ = update(t, m, pollMsg{err: wire.ErrTimeout})
	assert.Nil(t, m.last)
	assert.Equal(t, uint64(1), m.stats.Total)
	assert.True(t, lastLog(m).isError)
	assert.Contains(t, lastLog(m).message, "timeout")
}

func TestModel_SensorUnavailableTransitions(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)

	unavailable := `{"error":"sensor_unavailable","note":"` + wire.UnavailableNote + `","min_v":21.000,"max_v":32.200}`
	m, _ = update(t, m, pollReply(t, unavailable))
	assert.True(t, m.unavailable)
	require.Len(t, m.errorLog, 1)
	assert.Contains(t, m.errorLog[0].message, wire.UnavailableNote)
	assert.Contains(t, m.View(), "Sensor unavailable")

	// repeated unavailable replies log once
	m, _ = update(t, m, pollReply(t, unavailable))
	assert.Len(t, m.errorLog, 1)

	m, _ = update(t, m, pollReply(t, statusReply))
	assert.False(t, m.unavailable)
	assert.Equal(t, "Sensor readings available", lastLog(m).message)
}

func TestModel_Configured(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)
	m, _ = update(t, m, pollReply(t, statusReply))
	m.inputs[0].SetValue("22")

	reply, err := wire.ParseReply([]byte(`{"ok":true,"min_v":22.000,"max_v":30.000,"capacity_h":12.00}`))
	require.NoError(t, err)
	m, _ = update(t, m, configuredMsg{reply: reply})

	assert.InDelta(t, 22.0, m.last.MinVoltage, 1e-9)
	assert.InDelta(t, 30.0, m.last.MaxVoltage, 1e-9)
	assert.InDelta(t, 12.0, m.last.CapacityHours, 1e-9)
	assert.InDelta(t, 28.523, m.last.Voltage, 1e-9, "live values kept")
	assert.Empty(t, m.inputs[0].Value())
	assert.False(t, lastLog(m).isError)
}

func TestModel_ConfiguredRejected(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)

	reply, err := wire.ParseReply([]byte(`{"error":"bad_request"}`))
	require.NoError(t, err)
	m, _ = update(t, m, configuredMsg{reply: reply})
	assert.True(t, lastLog(m).isError)

	m, _ = update(t, m, configuredMsg{err: errors.New("link down")})
	assert.Contains(t, lastLog(m).message, "link down")
}

func TestModel_Assignments(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)

	a, err := m.assignments()
	require.NoError(t, err)
	assert.True(t, a.Empty())

	m.inputs[0].SetValue("21.5")
	m.inputs[2].SetValue(" 12 ")
	a, err = m.assignments()
	require.NoError(t, err)
	assert.Equal(t, wire.FieldMinVoltage|wire.FieldCapacity, a.Present)
	assert.InDelta(t, 21.5, a.MinVoltage, 1e-9)
	assert.InDelta(t, 12.0, a.CapacityHours, 1e-9)

	m.inputs[1].SetValue("abc")
	_, err = m.assignments()
	assert.ErrorContains(t, err, "max_v")
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_Keys(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)

	m, _ = update(t, m, key("tab"))
	assert.Equal(t, focusMinInput, m.focusedField)
	assert.True(t, m.inputs[0].Focused())

	// q is text while an input has focus
	m, _ = update(t, m, key("q"))
	assert.False(t, m.quitting)

	m, _ = update(t, m, key("tab"))
	assert.Equal(t, focusMaxInput, m.focusedField)
	assert.False(t, m.inputs[0].Focused())
	assert.True(t, m.inputs[1].Focused())

	m, _ = update(t, m, key("esc"))
	assert.Equal(t, focusNone, m.focusedField)

	m, cmd := update(t, m, key("q"))
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Equal(t, "Shutting down...\n", m.View())
}

func TestModel_Apply(t *testing.T) {
	m := initialMonitorModel(nil, "test", false)
	m.setFocus(focusButton)

	m, cmd := update(t, m, key("enter"))
	assert.Nil(t, cmd)
	assert.Equal(t, "Nothing to apply", lastLog(m).message)

	m.inputs[1].SetValue("30")
	m, _ = update(t, m, key("enter"))
	assert.True(t, strings.HasPrefix(lastLog(m).message, "Sending "))
	assert.Contains(t, lastLog(m).message, string(wire.NewSetRequest(wire.Assignments{}.SetMaxVoltage(30))))

	m, _ = update(t, m, connectionLostMsg{err: wire.ErrClosed})
	assert.True(t, m.connectionLost)
	m, _ = update(t, m, key("enter"))
	assert.Equal(t, "Cannot send configuration: connection lost", lastLog(m).message)

	m, _ = update(t, m, reconnectedMsg{connInfo: "Serial: /dev/ttyACM1 @ 115200 baud"})
	assert.False(t, m.connectionLost)
	assert.Equal(t, "Serial: /dev/ttyACM1 @ 115200 baud", m.connInfo)
}
