// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/battmon/internal/config"
	"github.com/Thermoquad/battmon/internal/logging"
)

// Version is reported by --version and as the serve firmware id
var Version = "1.0.0"

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Loaded in PersistentPreRunE, flags applied on top
	cfg    config.Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "battmon",
	Short: "Battery monitor device and protocol tools",
	Long: `Battmon - battery state-of-charge monitor.

"battmon serve" runs the monitor itself: it samples an INA226 current-sense
sensor over I2C, derives charge percentage, remaining time and charging state,
and answers text requests such as {"get":["v","pct"]} on a serial port,
WebSocket or stdin/stdout. Thresholds are persisted in a flash image.

The other commands talk to a running monitor.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the BATTMON_PASSWORD
environment variable (or .env), or prompted interactively if not set. The
--password flag is intentionally not provided to avoid leaking credentials in
shell history.

Settings are read from $XDG_CONFIG_HOME/battmon/config.yaml (or --config),
then BATTMON_* environment variables, then flags.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/battmon/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaud, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// loadConfig merges the config file, environment and flags, then builds the logger
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		loaded.LogLevel = logLevel
	}
	if flags.Changed("port") {
		loaded.Serial.Port = portName
	}
	if flags.Changed("baud") {
		loaded.Serial.Baud = baudRate
	}
	if flags.Changed("url") {
		loaded.WebSocket.URL = wsURL
	}
	if flags.Changed("username") {
		loaded.WebSocket.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		loaded.WebSocket.NoSSLVerify = wsNoSSLVerify
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	l, err := logging.New(logging.Options{Level: loaded.LogLevel, Format: loaded.LogFormat})
	if err != nil {
		return err
	}
	cfg = loaded
	logger = l
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
