// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"

	"github.com/Thermoquad/battmon/pkg/wire"
)

var (
	discoveryTimeout int
	discoveryAll     bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find monitors on local serial ports",
	Long: `Enumerate serial ports and probe each one with a firmware-id request.

By default only USB serial ports are probed. Use --all to include every port
the system reports. A port counts as a monitor when it answers with a
response carrying the fw field.

Examples:
  battmon discovery
  battmon discovery --all --baud 9600

Exit codes:
  0 - Discovery successful (at least one monitor found)
  1 - Discovery failed (no monitors answered)
  2 - Port enumeration error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 2, "Timeout in seconds per port")
	discoveryCmd.Flags().BoolVar(&discoveryAll, "all", false, "Probe non-USB ports too")
}

type discoveredMonitor struct {
	port     string
	product  string
	firmware string
	rtt      time.Duration
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Battmon - Monitor Discovery\n")
	fmt.Printf("Baud: %d\n", cfg.Serial.Baud)
	fmt.Printf("Timeout: %d seconds per port\n\n", discoveryTimeout)

	found := make([]discoveredMonitor, 0)
	probed := 0
	for _, p := range ports {
		if !p.IsUSB && !discoveryAll {
			continue
		}
		probed++

		desc := p.Name
		if p.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", p.Name, strings.ToUpper(p.VID), strings.ToUpper(p.PID), p.Product)
		}
		fmt.Printf("Probing %s... ", desc)

		fw, rtt, err := probePort(p.Name, cfg.Serial.Baud, time.Duration(discoveryTimeout)*time.Second)
		if err != nil {
			fmt.Printf("no answer (%v)\n", err)
			continue
		}
		fmt.Printf("found %s, rtt=%v\n", fw, rtt.Round(time.Millisecond))
		found = append(found, discoveredMonitor{port: p.Name, product: p.Product, firmware: fw, rtt: rtt})
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Ports probed: %d\n", probed)
	fmt.Printf("Monitors found: %d\n", len(found))
	for _, m := range found {
		fmt.Printf("  %-20s %s\n", m.port, m.firmware)
	}

	if len(found) == 0 {
		fmt.Printf("No monitors discovered. Check connection and device power.\n")
		os.Exit(1)
	}
	return nil
}

// probePort opens a port and asks for the firmware id
func probePort(name string, baud int, timeout time.Duration) (string, time.Duration, error) {
	conn, err := OpenSerialConnection(name, baud)
	if err != nil {
		return "", 0, err
	}
	defer conn.Close()

	fw, rtt, err := wire.NewClient(conn, timeout).Ping(context.Background())
	if err != nil {
		return "", 0, err
	}
	if fw == "" {
		return "", 0, fmt.Errorf("reply without fw field")
	}
	return fw, rtt, nil
}
