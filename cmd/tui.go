// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/battmon/pkg/wire"
)

// Focus states
const (
	focusNone = iota
	focusMinInput
	focusMaxInput
	focusCapacityInput
	focusButton
)

const chargeBarWidth = 20

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connMgr  *connectionManager
	connInfo string
	showAll  bool

	stats         *wire.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int

	// last status reply with at least one field
	last        *wire.Reply
	lastPoll    time.Time
	unavailable bool

	// min_v, max_v, capacity_h
	inputs       [3]textinput.Model
	focusedField int

	started        time.Time
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

// Messages
type tickMsg time.Time

type pollMsg struct {
	reply     *wire.Reply
	err       error
	anomalies []wire.ValidationError
}

type configuredMsg struct {
	assignments wire.Assignments
	reply       *wire.Reply
	err         error
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

// chargeBar renders pct as a fixed-width bar
func chargeBar(pct float64, width int) string {
	filled := int(math.Round(pct / 100 * float64(width)))
	filled = max(0, min(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func newThresholdInput(placeholder string) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 8
	ti.Width = 10
	ti.Validate = func(s string) error {
		if s == "" || s == "." {
			return nil
		}
		_, err := strconv.ParseFloat(s, 64)
		return err
	}
	return ti
}

func initialMonitorModel(connMgr *connectionManager, connInfo string, showAll bool) monitorModel {
	return monitorModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         wire.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		inputs: [3]textinput.Model{
			newThresholdInput("min_v"),
			newThresholdInput("max_v"),
			newThresholdInput("capacity_h"),
		},
		focusedField: focusNone,
		started:      time.Now(),
		width:        80,
		height:       24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case pollMsg:
		m.processPoll(msg)

	case configuredMsg:
		m.processConfigured(msg)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry(fmt.Sprintf("Connection lost (%v) - reconnecting...", msg.err), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if !m.editing() {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "esc":
		m.setFocus(focusNone)
		return m, nil

	case "enter":
		if m.focusedField != focusNone {
			return m.applyConfig()
		}
	}

	// Pass through to focused input
	if m.editing() {
		i := m.focusedField - focusMinInput
		var cmd tea.Cmd
		m.inputs[i], cmd = m.inputs[i].Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *monitorModel) editing() bool {
	return m.focusedField >= focusMinInput && m.focusedField <= focusCapacityInput
}

func (m *monitorModel) cycleFocus(delta int) {
	n := focusButton + 1
	m.setFocus((m.focusedField + delta + n) % n)
}

func (m *monitorModel) setFocus(f int) {
	m.focusedField = f
	for i := range m.inputs {
		if f-focusMinInput == i {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

// assignments collects the non-empty inputs
func (m *monitorModel) assignments() (wire.Assignments, error) {
	var a wire.Assignments
	setters := [3]func(wire.Assignments, float64) wire.Assignments{
		wire.Assignments.SetMinVoltage,
		wire.Assignments.SetMaxVoltage,
		wire.Assignments.SetCapacity,
	}
	for i, in := range m.inputs {
		s := strings.TrimSpace(in.Value())
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return a, fmt.Errorf("invalid %s value %q", in.Placeholder, s)
		}
		a = setters[i](a, v)
	}
	return a, nil
}

func (m monitorModel) applyConfig() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot send configuration: connection lost", true)
		return m, nil
	}

	a, err := m.assignments()
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}
	if a.Empty() {
		m.addLogEntry("Nothing to apply", false)
		return m, nil
	}

	m.addLogEntry(fmt.Sprintf("Sending %s", wire.NewSetRequest(a)), false)
	if m.connMgr == nil {
		return m, nil
	}
	return m, m.connMgr.configureCmd(a)
}

func (m *monitorModel) processPoll(msg pollMsg) {
	m.lastPoll = time.Now()

	if msg.err != nil {
		m.stats.Update(nil, msg.err, nil)
		m.addLogEntry(fmt.Sprintf("REQUEST FAILED: %v", msg.err), true)
		return
	}

	reply := msg.reply
	m.stats.Update(reply, nil, msg.anomalies)

	if reply.Present != 0 {
		m.last = reply
	}

	unavailable := reply.Error == wire.CodeSensorUnavailable
	if unavailable && !m.unavailable {
		m.addLogEntry("Sensor unavailable: "+reply.Note, true)
	} else if !unavailable && m.unavailable {
		m.addLogEntry("Sensor readings available", false)
	}
	m.unavailable = unavailable

	for _, err := range msg.anomalies {
		m.addLogEntry(fmt.Sprintf("%s: %s", wire.FormatAnomalyType(err.Type), err.Message), true)
	}
	if len(msg.anomalies) == 0 && m.showAll {
		m.addLogEntry(fmt.Sprintf("STATUS %s", reply.Raw), false)
	}
}

func (m *monitorModel) processConfigured(msg configuredMsg) {
	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("Configuration failed: %v", msg.err), true)
		return
	}
	reply := msg.reply
	if !reply.OK {
		m.addLogEntry(fmt.Sprintf("Configuration rejected: %s", reply.Raw), true)
		return
	}

	m.addLogEntry(fmt.Sprintf("Configured min_v=%.3f max_v=%.3f capacity_h=%.2f",
		reply.MinVoltage, reply.MaxVoltage, reply.CapacityHours), false)

	// the echo carries the stored values, which may be normalized
	if m.last != nil {
		updated := *m.last
		updated.MinVoltage = reply.MinVoltage
		updated.MaxVoltage = reply.MaxVoltage
		updated.CapacityHours = reply.CapacityHours
		updated.Present |= wire.FieldMinVoltage | wire.FieldMaxVoltage | wire.FieldCapacity
		m.last = &updated
	}
	for i := range m.inputs {
		m.inputs[i].SetValue("")
	}
	m.setFocus(focusNone)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))

	buttonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("12")).
			Padding(0, 2)

	focusedButtonStyle = buttonStyle.
				Background(lipgloss.Color("10"))
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("BATTMON"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=edit Enter=apply Esc=done", connStatus)))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf(" %s %s\n\n",
		statsLabelStyle.Render("Session:"),
		statsValueStyle.Render(formatUptime(uint64(time.Since(m.started).Milliseconds())))))

	battery := m.renderBattery()
	panel := m.renderThresholds()
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, battery, " ", panel))
	s.WriteString("\n")
	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")
	s.WriteString(m.renderEventLog())

	return s.String()
}

func (m monitorModel) renderBattery() string {
	var c strings.Builder
	c.WriteString(statsLabelStyle.Render("BATTERY"))
	c.WriteString("\n")

	r := m.last
	if r == nil {
		c.WriteString(warningStyle.Render("Waiting for first reply..."))
		return boxStyle.Width(46).Render(c.String())
	}
	if m.unavailable {
		c.WriteString(errorStyle.Render("Sensor unavailable"))
		c.WriteString("\n")
		if r.Note != "" {
			c.WriteString(headerStyle.Render(r.Note))
			c.WriteString("\n")
		}
	}

	for _, f := range []wire.Field{wire.FieldVoltage, wire.FieldCurrent, wire.FieldPower, wire.FieldCharging, wire.FieldRemaining, wire.FieldFirmware} {
		if !r.Present.Has(f) {
			continue
		}
		c.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render(fmt.Sprintf("%-10s", f.Label()+":")),
			statsValueStyle.Render(wire.FormatFieldValue(r, f))))
	}
	if r.Present.Has(wire.FieldPercent) {
		style := statsValueStyle
		if r.Percent < 20 {
			style = errorStyle
		}
		c.WriteString(fmt.Sprintf("%s %s %s",
			statsLabelStyle.Render(fmt.Sprintf("%-10s", wire.FieldPercent.Label()+":")),
			style.Render(chargeBar(r.Percent, chargeBarWidth)),
			style.Render(fmt.Sprintf("%.2f%%", r.Percent))))
	}
	if !m.lastPoll.IsZero() {
		c.WriteString("\n")
		c.WriteString(headerStyle.Render("updated " + m.lastPoll.Format("15:04:05")))
	}
	return boxStyle.Width(46).Render(c.String())
}

func (m monitorModel) renderThresholds() string {
	var c strings.Builder
	c.WriteString(statsLabelStyle.Render("THRESHOLDS"))
	c.WriteString("\n")

	fields := [3]wire.Field{wire.FieldMinVoltage, wire.FieldMaxVoltage, wire.FieldCapacity}
	for i, f := range fields {
		current := "--"
		if m.last != nil {
			current = wire.FormatFieldValue(m.last, f)
		}
		c.WriteString(fmt.Sprintf("%s %s  ",
			statsLabelStyle.Render(fmt.Sprintf("%-14s", f.Label()+":")),
			statsValueStyle.Render(fmt.Sprintf("%-10s", current))))
		if m.focusedField == focusMinInput+i {
			c.WriteString(m.inputs[i].View())
		} else {
			val := m.inputs[i].Value()
			if val == "" {
				val = "      "
			}
			c.WriteString(fmt.Sprintf("[%s]", val))
		}
		c.WriteString("\n")
	}
	c.WriteString("\n")

	btnText := "[ Apply ]"
	if m.focusedField == focusButton {
		c.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		c.WriteString(buttonStyle.Render(btnText))
	}

	if m.focusedField != focusNone {
		return focusedBoxStyle.Render(c.String())
	}
	return boxStyle.Render(c.String())
}

func (m monitorModel) renderStatisticsBar() string {
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.Total > 0 {
		validPercent = float64(m.stats.Valid) * 100.0 / float64(m.stats.Total)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.Total)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Total)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f msg/s", m.stats.MessageRate)),
	)
	if m.stats.Unavailable > 0 {
		content += fmt.Sprintf("  %s %s", statsLabelStyle.Render("Unavailable:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.Unavailable)))
	}

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	// Reserve space for header, panels and stats
	logHeight := m.height - 20
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}
