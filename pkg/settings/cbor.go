// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"github.com/fxamacker/cbor/v2"
)

// Body keys of a v2 record. Keys are never reused; new fields get new keys.
const (
	keyMinVoltage    = 1
	keyMaxVoltage    = 2
	keyCapacityHours = 3
)

// recordBody is the CBOR map stored in a v2 record
type recordBody struct {
	MinVoltage    float64 `cbor:"1,keyasint"`
	MaxVoltage    float64 `cbor:"2,keyasint"`
	CapacityHours float64 `cbor:"3,keyasint"`
}

// encMode uses Core Deterministic Encoding so the same configuration
// always produces the same bytes and the same CRC
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("settings: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("settings: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalBody(c Config) ([]byte, error) {
	return encMode.Marshal(recordBody{
		MinVoltage:    c.MinVoltage,
		MaxVoltage:    c.MaxVoltage,
		CapacityHours: c.CapacityHours,
	})
}

// unmarshalBody decodes a v2 body. All three keys must be present.
func unmarshalBody(data []byte) (Config, error) {
	var raw map[int]cbor.RawMessage
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return Config{}, err
	}
	for _, k := range []int{keyMinVoltage, keyMaxVoltage, keyCapacityHours} {
		if _, ok := raw[k]; !ok {
			return Config{}, errMissingKey
		}
	}
	var body recordBody
	if err := decMode.Unmarshal(data, &body); err != nil {
		return Config{}, err
	}
	return Config{
		MinVoltage:    body.MinVoltage,
		MaxVoltage:    body.MaxVoltage,
		CapacityHours: body.CapacityHours,
	}, nil
}
