// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Record layout
const (
	RecordSize = 64
	Magic      = 0x53544731 // 'STG1'

	// CurrentVersion is the layout Save writes
	CurrentVersion = 2

	offMagic   = 0
	offVersion = 4

	// v1: min f32, max f32, ~magic
	v1OffMin      = 8
	v1OffMax      = 12
	v1OffMagicInv = 16

	// v2: body length, CRC, CBOR body, ~magic
	v2OffLength   = 8
	v2OffCRC      = 10
	v2OffBody     = 12
	v2OffMagicInv = 60
	v2MaxBody     = v2OffMagicInv - v2OffBody
)

// Record errors
var (
	ErrNoRecord       = errors.New("no record")
	ErrBadMagic       = errors.New("bad magic")
	ErrUnknownVersion = errors.New("unknown record version")
	ErrBadLength      = errors.New("bad body length")
	ErrBadCRC         = errors.New("CRC mismatch")
	ErrBodyTooLarge   = errors.New("record body too large")

	errMissingKey = errors.New("missing body key")
)

// decoder turns one record layout into a configuration
type decoder func(rec []byte) (Config, error)

// decoders is the migration table. Supporting a new layout means adding a
// decoder here, bumping CurrentVersion and teaching encodeRecord the layout.
var decoders = map[uint32]decoder{
	1: decodeV1,
	2: decodeV2,
}

// decodeV1 reads the legacy layout. It predates the capacity field.
func decodeV1(rec []byte) (Config, error) {
	if binary.LittleEndian.Uint32(rec[v1OffMagicInv:]) != ^uint32(Magic) {
		return Config{}, ErrBadMagic
	}
	return Config{
		MinVoltage:    float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[v1OffMin:]))),
		MaxVoltage:    float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[v1OffMax:]))),
		CapacityHours: DefaultCapacityHours,
	}, nil
}

func decodeV2(rec []byte) (Config, error) {
	if binary.LittleEndian.Uint32(rec[v2OffMagicInv:]) != ^uint32(Magic) {
		return Config{}, ErrBadMagic
	}
	n := int(binary.LittleEndian.Uint16(rec[v2OffLength:]))
	if n == 0 || n > v2MaxBody {
		return Config{}, fmt.Errorf("%w: %d", ErrBadLength, n)
	}
	body := rec[v2OffBody : v2OffBody+n]
	if crc := CalculateCRC(body); crc != binary.LittleEndian.Uint16(rec[v2OffCRC:]) {
		return Config{}, fmt.Errorf("%w: computed 0x%04X", ErrBadCRC, crc)
	}
	cfg, err := unmarshalBody(body)
	if err != nil {
		return Config{}, fmt.Errorf("decoding body: %w", err)
	}
	return cfg, nil
}

// encodeRecord produces the current layout. Unused bytes stay erased.
func encodeRecord(c Config) ([]byte, error) {
	body, err := marshalBody(c)
	if err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	if len(body) > v2MaxBody {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}
	rec := make([]byte, RecordSize)
	for i := range rec {
		rec[i] = ErasedByte
	}
	binary.LittleEndian.PutUint32(rec[offMagic:], Magic)
	binary.LittleEndian.PutUint32(rec[offVersion:], CurrentVersion)
	binary.LittleEndian.PutUint16(rec[v2OffLength:], uint16(len(body)))
	binary.LittleEndian.PutUint16(rec[v2OffCRC:], CalculateCRC(body))
	copy(rec[v2OffBody:], body)
	binary.LittleEndian.PutUint32(rec[v2OffMagicInv:], ^uint32(Magic))
	return rec, nil
}

// EncodeLegacyRecord returns a version 1 record as written by older firmware
func EncodeLegacyRecord(minV, maxV float32) []byte {
	rec := make([]byte, RecordSize)
	for i := range rec {
		rec[i] = ErasedByte
	}
	binary.LittleEndian.PutUint32(rec[offMagic:], Magic)
	binary.LittleEndian.PutUint32(rec[offVersion:], 1)
	binary.LittleEndian.PutUint32(rec[v1OffMin:], math.Float32bits(minV))
	binary.LittleEndian.PutUint32(rec[v1OffMax:], math.Float32bits(maxV))
	binary.LittleEndian.PutUint32(rec[v1OffMagicInv:], ^uint32(Magic))
	return rec
}

// decodeRecord validates the header and dispatches on the version.
// The returned configuration has passed Validate.
func decodeRecord(rec []byte) (Config, uint32, error) {
	if len(rec) < RecordSize {
		return Config{}, 0, ErrNoRecord
	}
	magic := binary.LittleEndian.Uint32(rec[offMagic:])
	version := binary.LittleEndian.Uint32(rec[offVersion:])
	if magic == 0xFFFFFFFF && version == 0xFFFFFFFF {
		return Config{}, 0, ErrNoRecord
	}
	if magic != Magic {
		return Config{}, version, fmt.Errorf("%w: 0x%08X", ErrBadMagic, magic)
	}
	decode, ok := decoders[version]
	if !ok {
		return Config{}, version, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	cfg, err := decode(rec)
	if err != nil {
		return Config{}, version, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, version, err
	}
	return cfg, version, nil
}
