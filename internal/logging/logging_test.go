// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"trace", zerolog.TraceLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "info", Output: &buf})
	require.NoError(t, err)

	cl := Component(l, "store")
	cl.Info().Str("k", "v").Msg("hello")
	l.Debug().Msg("hidden")

	out := buf.String()
	assert.Contains(t, out, `"component":"store"`)
	assert.Contains(t, out, `"message":"hello"`)
	assert.NotContains(t, out, "hidden")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Format: FormatConsole, Output: &buf})
	require.NoError(t, err)

	l.Warn().Msg("careful")
	assert.Contains(t, buf.String(), "careful")
	assert.NotContains(t, buf.String(), `"message"`)
}

func TestNew_BadFormat(t *testing.T) {
	_, err := New(Options{Format: "xml"})
	assert.Error(t, err)
}
