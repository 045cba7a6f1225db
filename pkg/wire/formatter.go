// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"fmt"
	"strings"
)

// FormatReply formats a reply into a human-readable string
func FormatReply(r *Reply) string {
	var sb strings.Builder
	timestamp := r.Timestamp.Format("15:04:05.000")

	switch {
	case r.Error != "":
		fmt.Fprintf(&sb, "[%s] ERROR %s\n", timestamp, r.Error)
		if r.Note != "" {
			fmt.Fprintf(&sb, "  Note: %s\n", r.Note)
		}
	case r.OK:
		fmt.Fprintf(&sb, "[%s] CONFIGURED\n", timestamp)
	default:
		fmt.Fprintf(&sb, "[%s] STATUS\n", timestamp)
	}
	if r.OK && r.Error != "" {
		sb.WriteString("  Configuration accepted\n")
	}

	r.Present.Each(func(f Field) {
		fmt.Fprintf(&sb, "  %-14s %s\n", f.Label()+":", FormatFieldValue(r, f))
	})
	return sb.String()
}

// FormatFieldValue formats one field of a reply with its unit
func FormatFieldValue(r *Reply, f Field) string {
	if !r.Present.Has(f) {
		return "--"
	}
	switch f {
	case FieldCharging:
		if r.Charging {
			return "yes"
		}
		return "no"
	case FieldFirmware:
		return r.Firmware
	}
	v, _ := r.Value(f)
	if unit := f.Unit(); unit != "" {
		return fmt.Sprintf("%.*f %s", f.Precision(), v, unit)
	}
	return fmt.Sprintf("%.*f", f.Precision(), v)
}

// FormatKind returns the human-readable name of a request kind
func FormatKind(k Kind) string {
	return strings.ToUpper(k.String())
}
