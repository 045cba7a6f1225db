// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"errors"
	"fmt"
	"sync"
)

// Flash errors
var (
	ErrOutOfRange = errors.New("flash access out of range")
	ErrUnaligned  = errors.New("erase not sector aligned")
	ErrNotErased  = errors.New("program over unerased bytes")
)

// ErasedByte is the value of every byte after an erase
const ErasedByte = 0xFF

// Flash is a NOR-style flash device.
// Program can only clear bits; Erase sets whole sectors back to ErasedByte.
type Flash interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
	SectorSize() int64
	Erase(off, n int64) error
	Program(off int64, p []byte) error
}

// checkRange validates an access of n bytes at off
func checkRange(f Flash, off, n int64) error {
	if off < 0 || n < 0 || off+n > f.Size() {
		return fmt.Errorf("%w: off=%d len=%d size=%d", ErrOutOfRange, off, n, f.Size())
	}
	return nil
}

// checkErase validates an erase of n bytes at off
func checkErase(f Flash, off, n int64) error {
	if err := checkRange(f, off, n); err != nil {
		return err
	}
	ss := f.SectorSize()
	if off%ss != 0 || n%ss != 0 {
		return fmt.Errorf("%w: off=%d len=%d sector=%d", ErrUnaligned, off, n, ss)
	}
	return nil
}

// MemFlash is a RAM-backed flash device
type MemFlash struct {
	mu     sync.Mutex
	guard  sync.Mutex
	data   []byte
	sector int64

	// Strict rejects programming bytes that are not erased
	Strict bool

	// ProgramLimit, when non-zero, stops a Program after that many bytes
	// and returns an error, leaving a torn write behind
	ProgramLimit int
	// EraseErr, when set, is returned by every Erase
	EraseErr error

	Erases   int
	Programs int
}

// NewMemFlash creates an erased RAM flash of size bytes
func NewMemFlash(size, sectorSize int64) *MemFlash {
	m := &MemFlash{data: make([]byte, size), sector: sectorSize}
	for i := range m.data {
		m.data[i] = ErasedByte
	}
	return m
}

// Size returns the device size in bytes
func (m *MemFlash) Size() int64 { return int64(len(m.data)) }

// SectorSize returns the erase granularity
func (m *MemFlash) SectorSize() int64 { return m.sector }

// ReadAt reads len(p) bytes at off
func (m *MemFlash) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(m, off, int64(len(p))); err != nil {
		return 0, err
	}
	return copy(p, m.data[off:]), nil
}

// Erase resets n bytes at off to ErasedByte
func (m *MemFlash) Erase(off, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EraseErr != nil {
		return m.EraseErr
	}
	if err := checkErase(m, off, n); err != nil {
		return err
	}
	for i := off; i < off+n; i++ {
		m.data[i] = ErasedByte
	}
	m.Erases++
	return nil
}

// Program writes p at off. Bits can only be cleared.
func (m *MemFlash) Program(off int64, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange(m, off, int64(len(p))); err != nil {
		return err
	}
	if m.Strict {
		for i := range p {
			if m.data[off+int64(i)] != ErasedByte {
				return fmt.Errorf("%w: off=%d", ErrNotErased, off+int64(i))
			}
		}
	}
	n := len(p)
	if m.ProgramLimit > 0 && n > m.ProgramLimit {
		n = m.ProgramLimit
	}
	for i := 0; i < n; i++ {
		m.data[off+int64(i)] &= p[i]
	}
	m.Programs++
	if n < len(p) {
		return fmt.Errorf("program interrupted after %d bytes", n)
	}
	return nil
}

// Bytes returns a copy of the device contents
func (m *MemFlash) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Corrupt flips the bits of one byte
func (m *MemFlash) Corrupt(off int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[off] ^= 0xFF
}

// Lock and Unlock make MemFlash usable as a Store guard
func (m *MemFlash) Lock()   { m.guard.Lock() }
func (m *MemFlash) Unlock() { m.guard.Unlock() }
