// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/battmon/pkg/wire"
)

var (
	monitorInterval time.Duration
	monitorShowAll  bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and configuring a battery monitor",
	Long: `Watch a battery monitor via an interactive terminal UI.

Features:
  - Live voltage, current, power, charge and remaining time
  - Threshold and capacity editing
  - Reply validation with statistics
  - Event logging
  - Automatic reconnection on connection loss

Tab cycles through the threshold inputs and the Apply button.
Enter on any of them sends the configuration; empty inputs are left unchanged.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Polling interval")
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Log every reply, not just problems")
}

// monitorOptions configures a TUI session
type monitorOptions struct {
	interval  time.Duration
	showAll   bool
	reconnect bool
}

// connectionManager handles connection lifecycle, polling and reconnection
type connectionManager struct {
	mu       sync.RWMutex
	conn     Connection
	client   *wire.Client
	connInfo string

	opts monitorOptions
	p    *tea.Program
	done chan struct{}
}

func newConnectionManager(conn Connection, connInfo string, opts monitorOptions) *connectionManager {
	return &connectionManager{
		conn:     conn,
		client:   wire.NewClient(conn, wire.DefaultTimeout),
		connInfo: connInfo,
		opts:     opts,
		done:     make(chan struct{}),
	}
}

func (cm *connectionManager) getClient() *wire.Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.client = wire.NewClient(conn, wire.DefaultTimeout)
	cm.connInfo = connInfo
}

func (cm *connectionManager) close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.conn != nil {
		cm.conn.Close()
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	return runMonitorTUI(conn, connInfo, monitorOptions{
		interval:  monitorInterval,
		showAll:   monitorShowAll,
		reconnect: true,
	})
}

// runMonitorTUI owns conn until the program exits
func runMonitorTUI(conn Connection, connInfo string, opts monitorOptions) error {
	if opts.interval <= 0 {
		opts.interval = time.Second
	}
	cm := newConnectionManager(conn, connInfo, opts)

	m := initialMonitorModel(cm, connInfo, opts.showAll)
	p := tea.NewProgram(m, tea.WithAltScreen())
	cm.p = p

	go cm.pollLoop()

	_, err := p.Run()
	close(cm.done)
	cm.close()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// pollLoop requests a full status every interval and hands the result to the TUI
func (cm *connectionManager) pollLoop() {
	ticker := time.NewTicker(cm.opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*wire.DefaultTimeout)
		reply, err := cm.getClient().Do(ctx, wire.NewStatusRequest())
		cancel()

		if errors.Is(err, wire.ErrClosed) {
			select {
			case <-cm.done:
				return
			default:
			}
			cm.p.Send(connectionLostMsg{err: err})
			if !cm.opts.reconnect || !cm.reconnect() {
				return
			}
			continue
		}

		msg := pollMsg{reply: reply, err: err}
		if err == nil {
			msg.anomalies = wire.ValidateReply(reply)
		}
		cm.p.Send(msg)
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect() bool {
	cm.close()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// configureCmd sends a configure-request outside the Update loop
func (cm *connectionManager) configureCmd(a wire.Assignments) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*wire.DefaultTimeout)
		defer cancel()
		reply, err := cm.getClient().Set(ctx, a)
		return configuredMsg{assignments: a, reply: reply, err: err}
	}
}
