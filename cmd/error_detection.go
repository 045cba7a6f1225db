// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/battmon/pkg/wire"
)

var (
	showAll       bool
	statsInterval int
	pollInterval  time.Duration
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Poll the monitor and report errors and inconsistent readings",
	Long: `Poll the monitor with full status requests and track errors with statistics.

Each response is validated and the following are reported:
  - Error responses (i2c_read, bad_request, both_get_and_set)
  - Malformed responses and timeouts
  - Inconsistent values (percentage out of range, remaining time or charging
    flag not matching the other fields, power far from V x A, inverted
    thresholds, voltage below the minimum threshold)
  - Statistics and trends (response rate, error rate, success rate)

By default, only problems are displayed. Use --show-all to display every response.
With --tui the same checks drive the interactive monitor.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all responses (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().DurationVar(&pollInterval, "interval", time.Second, "Polling interval")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", false, "Use terminal UI")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	if useTUI {
		return runMonitorTUI(conn, connInfo, monitorOptions{
			interval: pollInterval,
			showAll:  showAll,
		})
	}
	defer conn.Close()

	return runTextMode(wire.NewClient(conn, wire.DefaultTimeout), connInfo)
}

// printValidationErrors prints the anomalies found in a reply
func printValidationErrors(reply *wire.Reply, errs []wire.ValidationError) {
	timestamp := reply.Timestamp.Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s\n", timestamp, reply.Raw)
	for i, err := range errs {
		switch err.Type {
		case wire.AnomalyDeviceError:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case wire.AnomalyRemainingMismatch:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if got, ok := err.Details["actual"].(float64); ok {
				if want, ok := err.Details["expected"].(float64); ok {
					fmt.Printf("    hrs_remaining=%.1f, capacity*pct=%.2f\n", got, want)
				}
			}

		case wire.AnomalyPowerMismatch:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if got, ok := err.Details["actual"].(float64); ok {
				if want, ok := err.Details["expected"].(float64); ok {
					fmt.Printf("    w=%.4f, v*a=%.4f\n", got, want)
				}
			}

		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m (%s)\n", i+1, err.Message, wire.FormatAnomalyType(err.Type))
		}
	}
	fmt.Println()
}

// runTextMode polls in text mode
func runTextMode(client *wire.Client, connInfo string) error {
	fmt.Printf("Battmon - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Polling every %v, statistics every %d seconds\n", pollInterval, statsInterval)
	if showAll {
		fmt.Printf("Mode: All responses\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats := wire.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil

		case <-poll.C:
			reply, err := client.Do(ctx, wire.NewStatusRequest())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				stats.Update(nil, err, nil)
				fmt.Printf("[%s] \033[1;31mREQUEST FAILED:\033[0m %v\n\n", time.Now().Format("15:04:05.000"), err)
				if errors.Is(err, wire.ErrClosed) {
					return err
				}
				continue
			}

			anomalies := wire.ValidateReply(reply)
			stats.Update(reply, nil, anomalies)
			switch {
			case len(anomalies) > 0:
				printValidationErrors(reply, anomalies)
			case showAll:
				fmt.Print(wire.FormatReply(reply))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
