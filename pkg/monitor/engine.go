// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor executes protocol requests against the sensor and the
// configuration store, and runs the request loop over a byte stream.
package monitor

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/battmon/pkg/metrics"
	"github.com/Thermoquad/battmon/pkg/settings"
	"github.com/Thermoquad/battmon/pkg/wire"
)

// DefaultFirmware is reported in the fw field when no id is configured
const DefaultFirmware = "battmon"

// Sensor provides live measurements
type Sensor interface {
	BusVoltage() (float64, error)
	Current() (float64, error)
	Power() (float64, error)
}

// ConfigStore loads and persists the configuration
type ConfigStore interface {
	Load() (settings.Config, settings.Outcome)
	Save(settings.Config) error
}

// Options configures an Engine
type Options struct {
	// SensorAvailable records whether the sensor initialised at startup.
	// It is never re-evaluated.
	SensorAvailable bool
	Firmware        string
	Logger          zerolog.Logger
	Statistics      *wire.Statistics
}

// Engine classifies and executes requests.
// Handle may be called from multiple goroutines; requests are executed one at a time.
type Engine struct {
	mu sync.Mutex

	store     ConfigStore
	config    settings.Config
	sensor    Sensor
	available bool
	firmware  string
	logger    zerolog.Logger
	stats     *wire.Statistics
}

// NewEngine loads the configuration and fixes sensor availability for the
// lifetime of the engine. A nil sensor is always unavailable.
func NewEngine(store ConfigStore, sensor Sensor, opts Options) *Engine {
	e := &Engine{
		store:     store,
		sensor:    sensor,
		available: sensor != nil && opts.SensorAvailable,
		firmware:  opts.Firmware,
		logger:    opts.Logger,
		stats:     opts.Statistics,
	}
	if e.firmware == "" {
		e.firmware = DefaultFirmware
	}
	if e.stats == nil {
		e.stats = wire.NewStatistics()
	}

	cfg, outcome := store.Load()
	e.config = cfg
	e.logger.Info().
		Stringer("outcome", outcome).
		Float64("min_v", cfg.MinVoltage).
		Float64("max_v", cfg.MaxVoltage).
		Float64("capacity_h", cfg.CapacityHours).
		Bool("sensor", e.available).
		Msg("engine ready")
	return e
}

// Available reports whether live measurements can be served
func (e *Engine) Available() bool { return e.available }

// Config returns the current configuration
func (e *Engine) Config() settings.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// Snapshot returns a copy of the request counters with rates updated
func (e *Engine) Snapshot() wire.Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.CalculateRates()
	return *e.stats
}

func (e *Engine) recordOverflows(n uint64) {
	if n == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.RecordOverflows(n)
}

// Handle executes one framed request and returns the response line
func (e *Engine) Handle(obj []byte) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	req := wire.ParseRequest(obj)
	var (
		out  []byte
		code wire.Code
	)
	switch req.Kind {
	case wire.KindConflict:
		out, code = wire.ErrorResponse(wire.CodeConflict), wire.CodeConflict
	case wire.KindRead:
		out, code = e.read(req.Fields)
	case wire.KindConfigure:
		out, code = e.configure(req.Set)
	default:
		out, code = wire.ErrorResponse(wire.CodeBadRequest), wire.CodeBadRequest
	}
	e.stats.RecordRequest(req.Kind, code)
	e.logger.Debug().
		Stringer("kind", req.Kind).
		Str("code", string(code)).
		Bytes("request", obj).
		Msg("request handled")
	return out
}

// needed maps requested live fields onto the raw quantities they use
func needed(fields wire.FieldSet) metrics.Quantity {
	var q metrics.Quantity
	if fields&(wire.FieldVoltage|wire.FieldPercent|wire.FieldRemaining) != 0 {
		q |= metrics.BusVoltage
	}
	if fields&(wire.FieldCurrent|wire.FieldCharging) != 0 {
		q |= metrics.Current
	}
	if fields&wire.FieldPower != 0 {
		q |= metrics.Power
	}
	return q
}

// acquire reads the requested quantities. Any failure fails the whole reading.
func (e *Engine) acquire(q metrics.Quantity) (metrics.Reading, error) {
	var (
		r   metrics.Reading
		err error
	)
	if q&metrics.BusVoltage != 0 {
		if r.BusVoltage, err = e.sensor.BusVoltage(); err != nil {
			return metrics.Reading{}, err
		}
		r.Valid |= metrics.BusVoltage
	}
	if q&metrics.Current != 0 {
		if r.Current, err = e.sensor.Current(); err != nil {
			return metrics.Reading{}, err
		}
		r.Valid |= metrics.Current
	}
	if q&metrics.Power != 0 {
		if r.Power, err = e.sensor.Power(); err != nil {
			return metrics.Reading{}, err
		}
		r.Valid |= metrics.Power
	}
	return r, nil
}

func (e *Engine) read(fields wire.FieldSet) ([]byte, wire.Code) {
	b := wire.NewBuilder()

	if !e.available {
		b.Code(wire.CodeSensorUnavailable).String(wire.KeyNote, wire.UnavailableNote)
		e.appendConfigFields(b, fields)
		return b.Bytes(), wire.CodeSensorUnavailable
	}

	var (
		reading metrics.Reading
		derived metrics.Metrics
	)
	if q := needed(fields); q != 0 {
		var err error
		reading, err = e.acquire(q)
		if err != nil {
			e.logger.Warn().Err(err).Msg("sensor read failed")
			return wire.ErrorResponse(wire.CodeReadFailure), wire.CodeReadFailure
		}
		derived = metrics.Derive(reading, e.config)
	}

	fields.Each(func(f wire.Field) {
		switch f {
		case wire.FieldVoltage:
			b.Field(f, reading.BusVoltage)
		case wire.FieldCurrent:
			b.Field(f, reading.Current)
		case wire.FieldPower:
			b.Field(f, reading.Power)
		case wire.FieldPercent:
			b.Field(f, derived.Percent)
		case wire.FieldCharging:
			b.Field(f, derived.Charging)
		case wire.FieldRemaining:
			b.Field(f, derived.Remaining)
		default:
			e.appendConfigFields(b, f)
		}
	})
	return b.Bytes(), wire.CodeOK
}

// appendConfigFields appends the configuration fields present in fields
func (e *Engine) appendConfigFields(b *wire.Builder, fields wire.FieldSet) {
	(fields & wire.ConfigFields).Each(func(f wire.Field) {
		switch f {
		case wire.FieldMinVoltage:
			b.Field(f, e.config.MinVoltage)
		case wire.FieldMaxVoltage:
			b.Field(f, e.config.MaxVoltage)
		case wire.FieldCapacity:
			b.Field(f, e.config.CapacityHours)
		case wire.FieldFirmware:
			b.Field(f, e.firmware)
		}
	})
}

func (e *Engine) configure(set wire.Assignments) ([]byte, wire.Code) {
	if !set.Empty() {
		next := e.config
		if v, ok := set.Get(wire.FieldMinVoltage); ok {
			next.MinVoltage = v
		}
		if v, ok := set.Get(wire.FieldMaxVoltage); ok {
			next.MaxVoltage = v
		}
		if v, ok := set.Get(wire.FieldCapacity); ok {
			next.CapacityHours = v
		}
		next = next.Normalize()
		prev := e.config
		e.config = next

		if err := e.store.Save(next); err != nil {
			e.logger.Warn().Err(err).
				Stringer("config", next).
				Stringer("persisted", prev).
				Msg("settings not persisted, in-memory config will revert on restart")
		} else {
			e.logger.Info().Stringer("config", next).Msg("settings updated")
		}
	}

	code := wire.CodeOK
	b := wire.NewBuilder()
	if !e.available {
		code = wire.CodeSensorUnavailable
		b.Code(code).String(wire.KeyNote, wire.UnavailableNote)
	}
	b.Bool(wire.KeyOK, true)
	e.appendConfigFields(b, wire.FieldMinVoltage|wire.FieldMaxVoltage|wire.FieldCapacity)
	return b.Bytes(), code
}
