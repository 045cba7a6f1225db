// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

// Framer splits an unbounded byte stream into complete brace-balanced objects.
//
// Bytes outside an object are ignored until an opening brace arrives. Braces
// inside quoted strings do not count toward nesting, and a backslash escapes
// the byte that follows it. An object that would grow beyond the buffer
// capacity is dropped silently and framing resumes with the byte that did
// not fit.
type Framer struct {
	buffer     []byte
	capacity   int
	depth      int
	inString   bool
	escapeNext bool
	discarded  uint64
}

// NewFramer creates a framer with the given accumulation capacity.
// A capacity of zero or less selects MaxObjectSize.
func NewFramer(capacity int) *Framer {
	if capacity <= 0 {
		capacity = MaxObjectSize
	}
	return &Framer{
		buffer:   make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Reset drops any partially accumulated object
func (f *Framer) Reset() {
	f.buffer = f.buffer[:0]
	f.depth = 0
	f.inString = false
	f.escapeNext = false
}

// Pending returns the number of bytes of the object currently being framed
func (f *Framer) Pending() int {
	return len(f.buffer)
}

// Discarded returns how many oversized objects have been dropped
func (f *Framer) Discarded() uint64 {
	return f.discarded
}

// Feed processes a single byte.
// Returns a copy of the completed object, or nil if none completed.
func (f *Framer) Feed(b byte) []byte {
	if f.depth > 0 && len(f.buffer) >= f.capacity {
		f.discarded++
		f.Reset()
	}

	if f.depth == 0 {
		if b != '{' {
			return nil
		}
		f.buffer = append(f.buffer, b)
		f.depth = 1
		return nil
	}

	f.buffer = append(f.buffer, b)

	if f.escapeNext {
		f.escapeNext = false
		return nil
	}

	switch b {
	case '\\':
		f.escapeNext = true
	case '"':
		f.inString = !f.inString
	case '{':
		if !f.inString {
			f.depth++
		}
	case '}':
		if !f.inString {
			f.depth--
			if f.depth == 0 {
				obj := make([]byte, len(f.buffer))
				copy(obj, f.buffer)
				f.Reset()
				return obj
			}
		}
	}
	return nil
}

// FeedAll feeds every byte of p and returns the objects completed along the way
func (f *Framer) FeedAll(p []byte) [][]byte {
	var out [][]byte
	for _, b := range p {
		if obj := f.Feed(b); obj != nil {
			out = append(out, obj)
		}
	}
	return out
}
