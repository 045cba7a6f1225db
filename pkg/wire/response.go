// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"math"
	"strconv"
	"unicode/utf8"
)

// Builder assembles one response object with members in insertion order.
// Numbers are written with a fixed number of decimals.
type Builder struct {
	buf   []byte
	count int
}

// NewBuilder creates a builder holding an empty object
func NewBuilder() *Builder {
	b := &Builder{buf: make([]byte, 0, 128)}
	b.buf = append(b.buf, '{')
	return b
}

func (b *Builder) key(k string) {
	if b.count > 0 {
		b.buf = append(b.buf, ',')
	}
	b.count++
	b.buf = appendString(b.buf, k)
	b.buf = append(b.buf, ':')
}

// Number appends a numeric member with prec decimals.
// Non-finite values are written as null.
func (b *Builder) Number(k string, v float64, prec int) *Builder {
	b.key(k)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		b.buf = append(b.buf, "null"...)
		return b
	}
	if prec < 0 {
		prec = 0
	}
	// avoid "-0.000"
	scale := math.Pow(10, float64(prec))
	if math.Round(v*scale) == 0 {
		v = 0
	}
	b.buf = strconv.AppendFloat(b.buf, v, 'f', prec, 64)
	return b
}

// Bool appends a boolean member
func (b *Builder) Bool(k string, v bool) *Builder {
	b.key(k)
	b.buf = strconv.AppendBool(b.buf, v)
	return b
}

// String appends a string member
func (b *Builder) String(k, v string) *Builder {
	b.key(k)
	b.buf = appendString(b.buf, v)
	return b
}

// Code appends the error member
func (b *Builder) Code(c Code) *Builder {
	return b.String(KeyError, string(c))
}

// Field appends a member for f using the field's wire key and precision.
// The value must be a float64 for numeric fields, a bool for charging and
// a string for the firmware id; a mismatched value is skipped.
func (b *Builder) Field(f Field, value any) *Builder {
	switch v := value.(type) {
	case float64:
		if p := f.Precision(); p >= 0 {
			return b.Number(f.Key(), v, p)
		}
	case bool:
		if f.Precision() == precBool {
			return b.Bool(f.Key(), v)
		}
	case string:
		if f.Precision() == precString {
			return b.String(f.Key(), v)
		}
	}
	return b
}

// Len returns the number of members appended so far
func (b *Builder) Len() int { return b.count }

// Bytes closes the object and returns it terminated by a newline.
// The builder must not be used afterwards.
func (b *Builder) Bytes() []byte {
	b.buf = append(b.buf, '}', '\n')
	return b.buf
}

// ErrorResponse returns a response carrying only an error member
func ErrorResponse(c Code) []byte {
	return NewBuilder().Code(c).Bytes()
}

const hexDigits = "0123456789abcdef"

// appendString appends s as a quoted string, escaping what the grammar requires
func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"' || c == '\\':
				dst = append(dst, '\\', c)
			case c == '\n':
				dst = append(dst, '\\', 'n')
			case c == '\r':
				dst = append(dst, '\\', 'r')
			case c == '\t':
				dst = append(dst, '\\', 't')
			case c < 0x20:
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			default:
				dst = append(dst, c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, "\ufffd"...)
		} else {
			dst = append(dst, s[i:i+size]...)
		}
		i += size
	}
	return append(dst, '"')
}
