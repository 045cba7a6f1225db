// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/battmon/pkg/wire"
)

// Server loop defaults
const (
	DefaultPollInterval  = 50 * time.Millisecond
	DefaultStatsInterval = time.Minute
	readChunkSize        = 64
)

// ServerOptions configures a Server
type ServerOptions struct {
	// PollInterval is the idle housekeeping period of the loop.
	PollInterval time.Duration
	// StatsInterval is how often counters are logged. Negative disables.
	StatsInterval time.Duration
	// FrameCapacity bounds a single request object.
	FrameCapacity int
	Logger        zerolog.Logger
}

// Server runs the request loop over a byte stream
type Server struct {
	engine *Engine
	opts   ServerOptions
	logger zerolog.Logger
}

// NewServer creates a server executing requests with engine
func NewServer(engine *Engine, opts ServerOptions) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StatsInterval == 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.FrameCapacity <= 0 {
		opts.FrameCapacity = wire.MaxObjectSize
	}
	return &Server{engine: engine, opts: opts, logger: opts.Logger}
}

// Engine returns the engine requests are executed with
func (s *Server) Engine() *Engine { return s.engine }

// Serve frames requests from rw and writes one response per request.
// Requests are handled strictly in order; bytes that arrive while a request
// is executing are buffered by the reader. Serve returns nil when the stream
// ends or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan []byte, 16)
	var readErr error
	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, readChunkSize)
			n, err := rw.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr = err
				return
			}
		}
	}()

	framer := wire.NewFramer(s.opts.FrameCapacity)
	var discarded uint64

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	lastStats := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil

		case chunk, ok := <-chunks:
			if !ok {
				// channel closed after readErr was set
				s.engine.recordOverflows(framer.Discarded() - discarded)
				if readErr == nil || errors.Is(readErr, io.EOF) {
					s.logger.Debug().Msg("stream ended")
					return nil
				}
				return fmt.Errorf("reading requests: %w", readErr)
			}
			for _, b := range chunk {
				obj := framer.Feed(b)
				if obj == nil {
					continue
				}
				if _, err := rw.Write(s.engine.Handle(obj)); err != nil {
					return fmt.Errorf("writing response: %w", err)
				}
			}

		case now := <-poll.C:
			if d := framer.Discarded(); d != discarded {
				s.logger.Warn().Uint64("count", d-discarded).Msg("oversized request discarded")
				s.engine.recordOverflows(d - discarded)
				discarded = d
			}
			if s.opts.StatsInterval > 0 && now.Sub(lastStats) >= s.opts.StatsInterval {
				lastStats = now
				s.logStats()
			}
		}
	}
}

func (s *Server) logStats() {
	st := s.engine.Snapshot()
	s.logger.Info().
		Uint64("total", st.Total).
		Uint64("reads", st.Reads).
		Uint64("configures", st.Configures).
		Uint64("errors", st.Errors()).
		Float64("rate", st.MessageRate).
		Msg("request statistics")
}
