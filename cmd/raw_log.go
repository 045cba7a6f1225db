// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/battmon/pkg/wire"
)

var rawLogDecode bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every object seen on the connection",
	Long: `Continuously frame and display protocol objects as they arrive.

Objects are split by brace balance, exactly as the monitor frames requests,
so this works as a passive tap on a link shared with another host.
With --decode each object is also shown as a formatted reply.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogDecode, "decode", false, "Format objects as replies")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Battmon - Raw Object Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	framer := wire.NewFramer(0)
	buf := make([]byte, 128)
	var discarded uint64

	for {
		n, err := conn.Read(buf)
		for _, obj := range framer.FeedAll(buf[:n]) {
			printRawObject(obj)
		}
		if d := framer.Discarded(); d != discarded {
			fmt.Printf("[%s] [OVERFLOW] %d oversized object(s) dropped\n", time.Now().Format("15:04:05.000"), d-discarded)
			discarded = d
		}
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func printRawObject(obj []byte) {
	ts := time.Now().Format("15:04:05.000")
	if !rawLogDecode {
		fmt.Printf("[%s] %s\n", ts, obj)
		return
	}

	// requests are logged by kind, anything else as a reply
	switch req := wire.ParseRequest(obj); req.Kind {
	case wire.KindRead:
		fmt.Printf("[%s] REQUEST %s %v\n", ts, wire.FormatKind(req.Kind), req.Fields.Keys())
		return
	case wire.KindConfigure, wire.KindConflict:
		fmt.Printf("[%s] REQUEST %s %s\n", ts, wire.FormatKind(req.Kind), obj)
		return
	}

	reply, err := wire.ParseReply(obj)
	if err != nil {
		fmt.Printf("[%s] [ERROR] %v: %s\n", ts, err, obj)
		return
	}
	fmt.Print(wire.FormatReply(reply))
}
