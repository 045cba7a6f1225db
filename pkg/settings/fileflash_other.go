// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !darwin && !linux

package settings

import (
	"bytes"
	"fmt"
	"os"
	"sync"
)

// FileFlash is a flash image stored in a regular file.
// On this platform the critical section only covers the current process.
type FileFlash struct {
	file   *os.File
	size   int64
	sector int64

	mu sync.Mutex
}

// OpenFileFlash opens or creates a flash image at path
func OpenFileFlash(path string, size, sectorSize int64) (*FileFlash, error) {
	if size <= 0 || sectorSize <= 0 || size%sectorSize != 0 {
		return nil, fmt.Errorf("flash size %d must be a positive multiple of sector size %d", size, sectorSize)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening flash image %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stating flash image: %w", err)
	}
	f := &FileFlash{file: file, size: size, sector: sectorSize}
	switch {
	case info.Size() == 0:
		if err := f.Erase(0, size); err != nil {
			file.Close()
			return nil, err
		}
	case info.Size() != size:
		file.Close()
		return nil, fmt.Errorf("flash image %s is %d bytes but %d was requested", path, info.Size(), size)
	}
	return f, nil
}

func (f *FileFlash) Close() error      { return f.file.Close() }
func (f *FileFlash) Size() int64       { return f.size }
func (f *FileFlash) SectorSize() int64 { return f.sector }
func (f *FileFlash) Sync() error       { return f.file.Sync() }
func (f *FileFlash) Lock()             { f.mu.Lock() }
func (f *FileFlash) Unlock()           { f.mu.Unlock() }

func (f *FileFlash) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(f, off, int64(len(p))); err != nil {
		return 0, err
	}
	return f.file.ReadAt(p, off)
}

func (f *FileFlash) Erase(off, n int64) error {
	if err := checkErase(f, off, n); err != nil {
		return err
	}
	_, err := f.file.WriteAt(bytes.Repeat([]byte{ErasedByte}, int(n)), off)
	return err
}

func (f *FileFlash) Program(off int64, p []byte) error {
	cur := make([]byte, len(p))
	if _, err := f.ReadAt(cur, off); err != nil {
		return err
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	_, err := f.file.WriteAt(cur, off)
	return err
}
