// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of reply anomalies
type AnomalyType int

const (
	AnomalyDeviceError AnomalyType = iota
	AnomalyPercentRange
	AnomalyThresholdOrder
	AnomalyCapacityRange
	AnomalyRemainingMismatch
	AnomalyChargingMismatch
	AnomalyPowerMismatch
	AnomalyLowVoltage
)

// Tolerances used when cross-checking derived values
const (
	chargingThreshold = 0.05 // amps
	remainingSlack    = 0.051
	powerSlackRatio   = 0.25
	powerSlackAbs     = 0.05
)

// ValidationError represents a reply validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateReply checks a reply for internal inconsistencies.
// Returns a slice of validation errors (empty if the reply is consistent).
func ValidateReply(r *Reply) []ValidationError {
	errors := []ValidationError{}

	if r.Error != "" && r.Error != CodeSensorUnavailable {
		errors = append(errors, ValidationError{
			Type:    AnomalyDeviceError,
			Message: fmt.Sprintf("device reported %s", r.Error),
			Details: map[string]interface{}{"code": string(r.Error)},
		})
	}

	if r.Present.Has(FieldPercent) && (r.Percent < 0 || r.Percent > 100) {
		errors = append(errors, ValidationError{
			Type:    AnomalyPercentRange,
			Message: fmt.Sprintf("percentage %.2f outside 0-100", r.Percent),
			Details: map[string]interface{}{"pct": r.Percent},
		})
	}

	if r.Present.Has(FieldMinVoltage|FieldMaxVoltage) && r.MaxVoltage <= r.MinVoltage {
		errors = append(errors, ValidationError{
			Type:    AnomalyThresholdOrder,
			Message: fmt.Sprintf("max_v %.3f not above min_v %.3f", r.MaxVoltage, r.MinVoltage),
			Details: map[string]interface{}{"min_v": r.MinVoltage, "max_v": r.MaxVoltage},
		})
	}

	if r.Present.Has(FieldCapacity) && (r.CapacityHours < 0 || r.CapacityHours > 10000) {
		errors = append(errors, ValidationError{
			Type:    AnomalyCapacityRange,
			Message: fmt.Sprintf("capacity %.2f outside 0-10000", r.CapacityHours),
			Details: map[string]interface{}{"capacity_h": r.CapacityHours},
		})
	}

	if r.Present.Has(FieldRemaining | FieldPercent | FieldCapacity) {
		expected := r.CapacityHours * r.Percent / 100
		// every operand is rounded on the wire
		slack := remainingSlack + 0.0001*(r.CapacityHours+r.Percent)
		if math.Abs(expected-r.Remaining) > slack {
			errors = append(errors, ValidationError{
				Type:    AnomalyRemainingMismatch,
				Message: fmt.Sprintf("hrs_remaining %.1f, expected %.1f", r.Remaining, expected),
				Details: map[string]interface{}{"expected": expected, "actual": r.Remaining},
			})
		}
	}

	if r.Present.Has(FieldCharging|FieldCurrent) && r.Charging != (r.Current > chargingThreshold) {
		errors = append(errors, ValidationError{
			Type:    AnomalyChargingMismatch,
			Message: fmt.Sprintf("charging=%t with current %.4f A", r.Charging, r.Current),
			Details: map[string]interface{}{"charging": r.Charging, "a": r.Current},
		})
	}

	if r.Present.Has(FieldPower | FieldVoltage | FieldCurrent) {
		// the sensor reports power unsigned
		expected := math.Abs(r.Voltage * r.Current)
		if math.Abs(expected-r.Power) > powerSlackAbs+powerSlackRatio*expected {
			errors = append(errors, ValidationError{
				Type:    AnomalyPowerMismatch,
				Message: fmt.Sprintf("power %.4f W, expected about %.4f W", r.Power, expected),
				Details: map[string]interface{}{"expected": expected, "actual": r.Power},
			})
		}
	}

	if r.Present.Has(FieldVoltage|FieldMinVoltage) && r.Voltage < r.MinVoltage {
		errors = append(errors, ValidationError{
			Type:    AnomalyLowVoltage,
			Message: fmt.Sprintf("voltage %.3f V below min_v %.3f V", r.Voltage, r.MinVoltage),
			Details: map[string]interface{}{"v": r.Voltage, "min_v": r.MinVoltage},
		})
	}

	return errors
}

// FormatAnomalyType returns the human-readable name for an anomaly type
func FormatAnomalyType(t AnomalyType) string {
	switch t {
	case AnomalyDeviceError:
		return "DEVICE_ERROR"
	case AnomalyPercentRange:
		return "PERCENT_RANGE"
	case AnomalyThresholdOrder:
		return "THRESHOLD_ORDER"
	case AnomalyCapacityRange:
		return "CAPACITY_RANGE"
	case AnomalyRemainingMismatch:
		return "REMAINING_MISMATCH"
	case AnomalyChargingMismatch:
		return "CHARGING_MISMATCH"
	case AnomalyPowerMismatch:
		return "POWER_MISMATCH"
	case AnomalyLowVoltage:
		return "LOW_VOLTAGE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}
