// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build darwin || linux

package settings

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// FileFlash is a flash image stored in a regular file.
//
// Lock takes an in-process mutex and then an exclusive flock on the image,
// so a concurrent "settings show" in another process never observes a
// half-written record.
type FileFlash struct {
	fd     int
	size   int64
	sector int64

	mu sync.Mutex
}

// OpenFileFlash opens or creates a flash image at path.
// A new image is created at size bytes and filled with ErasedByte.
// An existing image must match size.
func OpenFileFlash(path string, size, sectorSize int64) (*FileFlash, error) {
	if size <= 0 || sectorSize <= 0 || size%sectorSize != 0 {
		return nil, fmt.Errorf("flash size %d must be a positive multiple of sector size %d", size, sectorSize)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening flash image %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating flash image: %w", err)
	}

	f := &FileFlash{fd: fd, size: size, sector: sectorSize}

	switch {
	case stat.Size == 0:
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("truncating new flash image to %d bytes: %w", size, err)
		}
		if err := f.fill(0, size); err != nil {
			unix.Close(fd)
			return nil, err
		}
	case stat.Size != size:
		unix.Close(fd)
		return nil, fmt.Errorf("flash image %s is %d bytes but %d was requested", path, stat.Size, size)
	}
	return f, nil
}

// Close releases the image
func (f *FileFlash) Close() error {
	return unix.Close(f.fd)
}

// Size returns the image size in bytes
func (f *FileFlash) Size() int64 { return f.size }

// SectorSize returns the erase granularity
func (f *FileFlash) SectorSize() int64 { return f.sector }

// ReadAt reads len(p) bytes at off
func (f *FileFlash) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(f, off, int64(len(p))); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		n, err := unix.Pread(f.fd, p[total:], off+int64(total))
		if err != nil {
			return total, fmt.Errorf("pread at offset %d: %w", off, err)
		}
		if n == 0 {
			return total, fmt.Errorf("%w: short image", ErrOutOfRange)
		}
		total += n
	}
	return total, nil
}

// Erase resets n bytes at off to ErasedByte
func (f *FileFlash) Erase(off, n int64) error {
	if err := checkErase(f, off, n); err != nil {
		return err
	}
	return f.fill(off, n)
}

// Program writes p at off. Bits can only be cleared, as on real NOR flash.
func (f *FileFlash) Program(off int64, p []byte) error {
	if err := checkRange(f, off, int64(len(p))); err != nil {
		return err
	}
	cur := make([]byte, len(p))
	if _, err := f.ReadAt(cur, off); err != nil {
		return err
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	return f.pwrite(cur, off)
}

// Lock enters the critical section shared with other processes
func (f *FileFlash) Lock() {
	f.mu.Lock()
	for {
		err := unix.Flock(f.fd, unix.LOCK_EX)
		if err != unix.EINTR {
			return
		}
	}
}

// Unlock leaves the critical section
func (f *FileFlash) Unlock() {
	unix.Flock(f.fd, unix.LOCK_UN)
	f.mu.Unlock()
}

// Sync flushes the image to stable storage
func (f *FileFlash) Sync() error {
	return unix.Fsync(f.fd)
}

func (f *FileFlash) fill(off, n int64) error {
	chunk := bytes.Repeat([]byte{ErasedByte}, int(min(n, f.sector)))
	for done := int64(0); done < n; done += int64(len(chunk)) {
		if err := f.pwrite(chunk[:min(int64(len(chunk)), n-done)], off+done); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileFlash) pwrite(p []byte, off int64) error {
	for len(p) > 0 {
		written, err := unix.Pwrite(f.fd, p, off)
		if err != nil {
			return fmt.Errorf("pwrite at offset %d: %w", off, err)
		}
		p = p[written:]
		off += int64(written)
	}
	return nil
}
