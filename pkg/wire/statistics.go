// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks request/reply statistics and error rates.
// The device side counts requests by kind; the host side counts replies
// and their anomalies. Both use the same tracker.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Total            uint64
	Valid            uint64
	Reads            uint64
	Configures       uint64
	Conflicts        uint64
	BadRequests      uint64
	ReadFailures     uint64
	Unavailable      uint64
	Overflows        uint64
	MalformedReplies uint64
	AnomalousValues  uint64

	// Rates (calculated)
	MessageRate float64 // messages/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// RecordRequest updates statistics for one handled request and the
// condition its response carried (CodeOK when none)
func (s *Statistics) RecordRequest(kind Kind, code Code) {
	s.Total++
	switch kind {
	case KindRead:
		s.Reads++
	case KindConfigure:
		s.Configures++
	case KindConflict:
		s.Conflicts++
	default:
		s.BadRequests++
	}
	switch code {
	case CodeOK:
		if kind == KindRead || kind == KindConfigure {
			s.Valid++
		}
	case CodeReadFailure:
		s.ReadFailures++
	case CodeSensorUnavailable:
		s.Unavailable++
	}
	s.LastUpdateTime = time.Now()
}

// RecordOverflows adds framer discards observed since the last call
func (s *Statistics) RecordOverflows(n uint64) {
	s.Overflows += n
}

// Update updates statistics based on a reply and its errors
func (s *Statistics) Update(reply *Reply, decodeErr error, validationErrors []ValidationError) {
	s.Total++

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrMalformedReply) {
			s.MalformedReplies++
		}
		return
	}

	switch reply.Error {
	case CodeReadFailure:
		s.ReadFailures++
	case CodeSensorUnavailable:
		s.Unavailable++
	case CodeConflict:
		s.Conflicts++
	case CodeBadRequest:
		s.BadRequests++
	}

	anomalous := false
	for _, err := range validationErrors {
		if err.Type != AnomalyDeviceError {
			anomalous = true
		}
	}
	if anomalous {
		s.AnomalousValues++
	} else if reply.Error == "" {
		s.Valid++
	}

	s.LastUpdateTime = time.Now()
}

// Errors returns the total number of error events
func (s *Statistics) Errors() uint64 {
	return s.Conflicts + s.BadRequests + s.ReadFailures + s.Overflows + s.MalformedReplies + s.AnomalousValues
}

// CalculateRates calculates message and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.MessageRate = float64(s.Total) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.Total == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.Total)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Messages:  %8d\n", s.Total)
	result += fmt.Sprintf("Valid:           %8d (%.1f%%)\n", s.Valid, percent(s.Valid))

	if s.Reads > 0 || s.Configures > 0 {
		result += fmt.Sprintf("  Reads:            %5d\n", s.Reads)
		result += fmt.Sprintf("  Configures:       %5d\n", s.Configures)
	}
	if s.Conflicts > 0 {
		result += fmt.Sprintf("Conflicts:       %8d (%.1f%%)\n", s.Conflicts, percent(s.Conflicts))
	}
	if s.BadRequests > 0 {
		result += fmt.Sprintf("Bad Requests:    %8d (%.1f%%)\n", s.BadRequests, percent(s.BadRequests))
	}
	if s.ReadFailures > 0 {
		result += fmt.Sprintf("Read Failures:   %8d (%.1f%%)\n", s.ReadFailures, percent(s.ReadFailures))
	}
	if s.Unavailable > 0 {
		result += fmt.Sprintf("Unavailable:     %8d (%.1f%%)\n", s.Unavailable, percent(s.Unavailable))
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Overflows:       %8d\n", s.Overflows)
	}
	if s.MalformedReplies > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedReplies, percent(s.MalformedReplies))
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues))
	}

	result += fmt.Sprintf("Message Rate:    %8.1f msgs/sec\n", s.MessageRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
