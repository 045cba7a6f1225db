// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/battmon/pkg/wire"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive request console",
	Long: `Open an interactive console to a running monitor.

Commands:
  get [field...]            read fields (default: all)
  set min_v=21 max_v=32.2   update thresholds (min_v, max_v, capacity_h)
  ping                      read the firmware id and show the round trip
  stats                     show request statistics for this session
  {...}                     send a request verbatim
  help, quit

History is kept in $XDG_CACHE_HOME/battmon/console_history.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

// errQuit ends the console loop
var errQuit = errors.New("quit")

// consoleRequest turns a console line into the request bytes to send.
// Returns nil for lines handled locally.
func consoleRequest(line string) ([]byte, error) {
	if strings.HasPrefix(line, "{") {
		return []byte(line), nil
	}

	parts := strings.Fields(line)
	switch strings.ToLower(parts[0]) {
	case "get":
		fields, err := parseFieldArgs(parts[1:])
		if err != nil {
			return nil, err
		}
		return wire.NewGetRequest(fields), nil

	case "set":
		var a wire.Assignments
		for _, kv := range parts[1:] {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("expected key=value, got %q", kv)
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %q", key, value)
			}
			switch key {
			case "min_v", "min":
				a = a.SetMinVoltage(v)
			case "max_v", "max":
				a = a.SetMaxVoltage(v)
			case "capacity_h", "capacity":
				a = a.SetCapacity(v)
			default:
				return nil, fmt.Errorf("unknown setting %q", key)
			}
		}
		if a.Empty() {
			return nil, fmt.Errorf("usage: set min_v=<V> max_v=<V> capacity_h=<h>")
		}
		return wire.NewSetRequest(a), nil

	case "ping":
		return wire.NewFirmwareRequest(), nil

	case "quit", "exit":
		return nil, errQuit
	}
	return nil, nil
}

// getHistoryFilePath returns the path for the console history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "battmon")
	_ = os.MkdirAll(dir, 0o750)
	return filepath.Join(dir, "console_history")
}

func runConsole(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "battmon> ",
		HistoryFile: getHistoryFilePath(),
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("get", fieldCompleters()...),
			readline.PcItem("set",
				readline.PcItem("min_v="), readline.PcItem("max_v="), readline.PcItem("capacity_h="),
			),
			readline.PcItem("ping"),
			readline.PcItem("stats"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return fmt.Errorf("readline init failed: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "Battmon console - %s\nType 'help' for commands\n", connInfo)

	client := wire.NewClient(conn, wire.DefaultTimeout)
	stats := wire.NewStatistics()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "help", "?":
			fmt.Fprintln(rl.Stdout(), cmd.Long)
			continue
		case "stats":
			fmt.Fprint(rl.Stdout(), stats.String())
			continue
		}

		req, err := consoleRequest(line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "error: %v\n", err)
			continue
		}
		if req == nil {
			fmt.Fprintf(rl.Stdout(), "unknown command %q (try 'help')\n", line)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*wire.DefaultTimeout)
		start := time.Now()
		raw, err := client.DoRaw(ctx, req)
		cancel()
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "error: %v\n", err)
			if errors.Is(err, wire.ErrClosed) {
				return err
			}
			continue
		}

		reply, perr := wire.ParseReply(raw)
		var anomalies []wire.ValidationError
		if perr == nil {
			anomalies = wire.ValidateReply(reply)
		}
		stats.Update(reply, perr, anomalies)

		fmt.Fprintf(rl.Stdout(), "%s  (%v)\n", raw, time.Since(start).Round(time.Millisecond))
		for _, a := range anomalies {
			fmt.Fprintf(rl.Stdout(), "  ! %s\n", a.Error())
		}
	}
}

func fieldCompleters() []readline.PrefixCompleterInterface {
	var items []readline.PrefixCompleterInterface
	for _, key := range append(wire.AllFields.Keys(), "all", "live", "config") {
		items = append(items, readline.PcItem(key))
	}
	return items
}
