// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Outcome describes how Load obtained the configuration
type Outcome int

const (
	OutcomeLoaded    Outcome = iota // valid current-version record
	OutcomeMigrated                 // older record decoded and rewritten
	OutcomeDefaulted                // nothing usable stored; defaults written
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoaded:
		return "loaded"
	case OutcomeMigrated:
		return "migrated"
	case OutcomeDefaulted:
		return "defaulted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrVerify is returned when a record reads back differently than written
var ErrVerify = errors.New("record verification failed")

// StoreOptions configures a Store
type StoreOptions struct {
	// Guard serialises erase+program against other readers and writers.
	// Defaults to the flash itself when it implements sync.Locker.
	Guard  sync.Locker
	Logger zerolog.Logger
}

// Store reads and writes the configuration record
type Store struct {
	flash  Flash
	guard  sync.Locker
	logger zerolog.Logger
}

// NewStore creates a store on the last erase sector of flash
func NewStore(flash Flash, opts StoreOptions) *Store {
	guard := opts.Guard
	if guard == nil {
		if l, ok := flash.(sync.Locker); ok {
			guard = l
		} else {
			guard = &sync.Mutex{}
		}
	}
	return &Store{
		flash:  flash,
		guard:  guard,
		logger: opts.Logger,
	}
}

// Offset returns where the record lives
func (s *Store) Offset() int64 {
	return recordOffset(s.flash)
}

func recordOffset(f Flash) int64 {
	return f.Size() - f.SectorSize()
}

// Load returns the stored configuration.
// It never fails: an unusable record is replaced with defaults and an older
// record is rewritten in the current layout. Write failures are logged.
func (s *Store) Load() (Config, Outcome) {
	s.guard.Lock()
	defer s.guard.Unlock()

	rec := make([]byte, RecordSize)
	var (
		cfg     Config
		version uint32
		err     error
	)
	if _, err = s.flash.ReadAt(rec, s.Offset()); err == nil {
		cfg, version, err = decodeRecord(rec)
	}

	switch {
	case err == nil && version == CurrentVersion:
		s.logger.Debug().Stringer("config", cfg).Msg("settings loaded")
		return cfg, OutcomeLoaded

	case err == nil:
		if werr := s.write(cfg); werr != nil {
			s.logger.Error().Err(werr).Uint32("from", version).Msg("settings migration not persisted")
		} else {
			s.logger.Info().Uint32("from", version).Uint32("to", CurrentVersion).Stringer("config", cfg).Msg("settings migrated")
		}
		return cfg, OutcomeMigrated

	default:
		cfg = Defaults()
		if errors.Is(err, ErrNoRecord) {
			s.logger.Info().Msg("no stored settings, writing defaults")
		} else {
			s.logger.Warn().Err(err).Msg("stored settings unusable, writing defaults")
		}
		if werr := s.write(cfg); werr != nil {
			s.logger.Error().Err(werr).Msg("default settings not persisted")
		}
		return cfg, OutcomeDefaulted
	}
}

// Save persists c in the current layout
func (s *Store) Save(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.write(c)
}

// write erases the sector and programs the record. Caller holds the guard.
func (s *Store) write(c Config) error {
	rec, err := encodeRecord(c)
	if err != nil {
		return err
	}
	off := s.Offset()
	if err := s.flash.Erase(off, s.flash.SectorSize()); err != nil {
		return fmt.Errorf("erasing settings sector: %w", err)
	}
	if err := s.flash.Program(off, rec); err != nil {
		return fmt.Errorf("programming settings record: %w", err)
	}
	check := make([]byte, RecordSize)
	if _, err := s.flash.ReadAt(check, off); err != nil {
		return fmt.Errorf("reading back settings record: %w", err)
	}
	if !bytes.Equal(check, rec) {
		return ErrVerify
	}
	if syncer, ok := s.flash.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("syncing flash image: %w", err)
		}
	}
	return nil
}

// Reset erases the settings sector, leaving no record
func (s *Store) Reset() error {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.flash.Erase(s.Offset(), s.flash.SectorSize())
}

// RecordInfo describes the stored record for diagnostics
type RecordInfo struct {
	Offset  int64
	Magic   uint32
	Version uint32
	Erased  bool
	Config  Config
	Err     error
}

// Inspect decodes the stored record without modifying anything
func Inspect(f Flash) RecordInfo {
	info := RecordInfo{Offset: recordOffset(f)}
	if l, ok := f.(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}
	rec := make([]byte, RecordSize)
	if _, err := f.ReadAt(rec, info.Offset); err != nil {
		info.Err = err
		return info
	}
	info.Magic = binary.LittleEndian.Uint32(rec[offMagic:])
	info.Version = binary.LittleEndian.Uint32(rec[offVersion:])
	info.Erased = bytes.Equal(rec, bytes.Repeat([]byte{ErasedByte}, RecordSize))
	info.Config, _, info.Err = decodeRecord(rec)
	return info
}
