// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/battmon/pkg/wire"
)

var (
	queryJSON    bool
	queryTimeout time.Duration

	setMin      float64
	setMax      float64
	setCapacity float64
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a single request to the monitor",
	Long: `Send one request to a running monitor and print its response.

Examples:
  battmon query get v a pct charging --port /dev/ttyACM0
  battmon query get all --url ws://monitor.local/
  battmon query set --min 21.5 --max 32.0 --capacity 12 --port /dev/ttyACM0
  battmon query raw '{"get":["fw"]}' --port /dev/ttyACM0`,
}

var queryGetCmd = &cobra.Command{
	Use:   "get [field...]",
	Short: "Read fields (default: all)",
	Long: fmt.Sprintf(`Read fields from the monitor.

Fields: %s
"all" or no arguments reads every field.`, strings.Join(wire.AllFields.Keys(), ", ")),
	RunE: runQueryGet,
}

var querySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update thresholds",
	Long: `Update the voltage thresholds and capacity. Only flags that are given are sent.
The monitor echoes the stored configuration.`,
	RunE: runQuerySet,
}

var queryRawCmd = &cobra.Command{
	Use:   "raw <request>",
	Short: "Send a request verbatim",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryRaw,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(queryGetCmd, querySetCmd, queryRawCmd)

	queryCmd.PersistentFlags().BoolVar(&queryJSON, "json", false, "Print the raw response")
	queryCmd.PersistentFlags().DurationVar(&queryTimeout, "timeout", wire.DefaultTimeout, "Response timeout")

	querySetCmd.Flags().Float64Var(&setMin, "min", 0, "Minimum (empty) voltage")
	querySetCmd.Flags().Float64Var(&setMax, "max", 0, "Maximum (full) voltage")
	querySetCmd.Flags().Float64Var(&setCapacity, "capacity", 0, "Capacity in hours")
}

// parseFieldArgs resolves field keys or labels; "all" selects every field
func parseFieldArgs(args []string) (wire.FieldSet, error) {
	if len(args) == 0 {
		return wire.AllFields, nil
	}
	var fields wire.FieldSet
	for _, arg := range args {
		for _, name := range strings.Split(arg, ",") {
			name = strings.TrimSpace(name)
			switch {
			case name == "":
			case strings.EqualFold(name, "all"):
				fields |= wire.AllFields
			case strings.EqualFold(name, "live"):
				fields |= wire.LiveFields
			case strings.EqualFold(name, "config"):
				fields |= wire.ConfigFields
			default:
				f, ok := wire.FieldByKey(strings.ToLower(name))
				if !ok {
					return 0, fmt.Errorf("unknown field %q (known: %s)", name, strings.Join(wire.AllFields.Keys(), ", "))
				}
				fields |= f
			}
		}
	}
	return fields, nil
}

// withClient opens the configured connection and runs fn with a client on it
func withClient(timeout time.Duration, fn func(ctx context.Context, c *wire.Client) error) error {
	conn, _, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	return fn(ctx, wire.NewClient(conn, timeout))
}

// printReply writes a reply in the selected format. Device-reported errors
// other than sensor_unavailable become the command's error.
func printReply(reply *wire.Reply) error {
	if queryJSON {
		fmt.Println(string(reply.Raw))
	} else {
		fmt.Print(wire.FormatReply(reply))
	}
	if reply.Error != "" && reply.Error != wire.CodeSensorUnavailable {
		return fmt.Errorf("monitor reported %s", reply.Error)
	}
	return nil
}

func runQueryGet(cmd *cobra.Command, args []string) error {
	fields, err := parseFieldArgs(args)
	if err != nil {
		return err
	}
	return withClient(queryTimeout, func(ctx context.Context, c *wire.Client) error {
		reply, err := c.Get(ctx, fields)
		if err != nil {
			return err
		}
		return printReply(reply)
	})
}

func runQuerySet(cmd *cobra.Command, args []string) error {
	var a wire.Assignments
	flags := cmd.Flags()
	if flags.Changed("min") {
		a = a.SetMinVoltage(setMin)
	}
	if flags.Changed("max") {
		a = a.SetMaxVoltage(setMax)
	}
	if flags.Changed("capacity") {
		a = a.SetCapacity(setCapacity)
	}
	if a.Empty() {
		return fmt.Errorf("nothing to set (use --min, --max or --capacity)")
	}
	return withClient(queryTimeout, func(ctx context.Context, c *wire.Client) error {
		reply, err := c.Set(ctx, a)
		if err != nil {
			return err
		}
		return printReply(reply)
	})
}

func runQueryRaw(cmd *cobra.Command, args []string) error {
	return withClient(queryTimeout, func(ctx context.Context, c *wire.Client) error {
		raw, err := c.DoRaw(ctx, []byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	})
}
