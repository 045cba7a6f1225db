// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedString feeds s byte by byte and collects completed objects
func feedString(f *Framer, s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if obj := f.Feed(s[i]); obj != nil {
			out = append(out, string(obj))
		}
	}
	return out
}

// ============================================================
// Framer Tests
// ============================================================

func TestFramer_SingleObject(t *testing.T) {
	f := NewFramer(0)
	got := feedString(f, `{"get":["v"]}`)
	require.Len(t, got, 1)
	assert.Equal(t, `{"get":["v"]}`, got[0])
	assert.Zero(t, f.Pending())
}

func TestFramer_IgnoresBytesOutsideObjects(t *testing.T) {
	f := NewFramer(0)
	got := feedString(f, "noise\r\n}}]] {\"get\":[\"a\"]} trailing")
	require.Len(t, got, 1)
	assert.Equal(t, `{"get":["a"]}`, got[0])
}

func TestFramer_BackToBackObjects(t *testing.T) {
	f := NewFramer(0)
	got := feedString(f, `{"get":["v"]}{"get":["a"]}`)
	assert.Equal(t, []string{`{"get":["v"]}`, `{"get":["a"]}`}, got)
}

func TestFramer_NestedObjects(t *testing.T) {
	f := NewFramer(0)
	in := `{"set":{"min_v":20,"x":{"y":{}}}}`
	got := feedString(f, in)
	assert.Equal(t, []string{in}, got)
}

func TestFramer_BracesInsideStrings(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"open brace in string", `{"note":"{{{"}`},
		{"close brace in string", `{"note":"}}"}`},
		{"escaped quote", `{"note":"say \"}\" ok"}`},
		{"escaped backslash before quote", `{"note":"c:\\"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(0)
			got := feedString(f, tt.in)
			assert.Equal(t, []string{tt.in}, got)
		})
	}
}

func TestFramer_ReturnsCopy(t *testing.T) {
	f := NewFramer(0)
	first := feedString(f, `{"a":1}`)
	second := f.FeedAll([]byte(`{"b":2}`))
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, `{"a":1}`, first[0])
	assert.Equal(t, `{"b":2}`, string(second[0]))
}

func TestFramer_OverflowDiscardsAndResyncs(t *testing.T) {
	f := NewFramer(16)
	long := `{"get":["v","a","w","pct"]}`
	got := feedString(f, long+`{"get":["v"]}`)
	assert.Equal(t, []string{`{"get":["v"]}`}, got)
	assert.Equal(t, uint64(1), f.Discarded())
}

func TestFramer_OverflowByteReexamined(t *testing.T) {
	f := NewFramer(4)
	// "{aaa" fills the buffer, the next '{' starts a fresh object
	got := feedString(f, `{aaa{}`)
	assert.Equal(t, []string{`{}`}, got)
	assert.Equal(t, uint64(1), f.Discarded())
}

func TestFramer_ExactCapacityFits(t *testing.T) {
	f := NewFramer(8)
	got := feedString(f, `{"a":12}`)
	assert.Equal(t, []string{`{"a":12}`}, got)
	assert.Zero(t, f.Discarded())
}

func TestFramer_Reset(t *testing.T) {
	f := NewFramer(0)
	feedString(f, `{"get":["v"`)
	assert.NotZero(t, f.Pending())
	f.Reset()
	assert.Zero(t, f.Pending())
	got := feedString(f, `{}`)
	assert.Equal(t, []string{`{}`}, got)
}

func TestFramer_UnterminatedStringHoldsObject(t *testing.T) {
	f := NewFramer(0)
	got := feedString(f, `{"note":"}`)
	assert.Empty(t, got)
	got = feedString(f, `"}`)
	assert.Equal(t, []string{`{"note":"}"}`}, got)
}

func TestFramer_DefaultCapacity(t *testing.T) {
	f := NewFramer(-1)
	body := bytes.Repeat([]byte("x"), MaxObjectSize-2)
	in := append([]byte{'{'}, body...)
	in = append(in, '}')
	got := f.FeedAll(in)
	require.Len(t, got, 1)
	assert.Len(t, got[0], MaxObjectSize)
	assert.Zero(t, f.Discarded())
}
