// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Battmon - battery state-of-charge monitor
//
// Runs the monitor itself ("battmon serve") and the host tools that talk to it.

package main

import (
	"os"

	"github.com/Thermoquad/battmon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
