// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Thermoquad/battmon/internal/config"
	"github.com/Thermoquad/battmon/pkg/wire"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Availability payloads
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// haEntity describes one Home Assistant entity fed from the state topic
type haEntity struct {
	component   string // sensor or binary_sensor
	field       wire.Field
	deviceClass string
	stateClass  string
	category    string
}

var haEntities = []haEntity{
	{"sensor", wire.FieldVoltage, "voltage", "measurement", ""},
	{"sensor", wire.FieldCurrent, "current", "measurement", ""},
	{"sensor", wire.FieldPower, "power", "measurement", ""},
	{"sensor", wire.FieldPercent, "battery", "measurement", ""},
	{"binary_sensor", wire.FieldCharging, "battery_charging", "", ""},
	{"sensor", wire.FieldRemaining, "duration", "measurement", ""},
	{"sensor", wire.FieldMinVoltage, "voltage", "", "diagnostic"},
	{"sensor", wire.FieldMaxVoltage, "voltage", "", "diagnostic"},
	{"sensor", wire.FieldCapacity, "duration", "", "diagnostic"},
}

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type haConfig struct {
	Name              string   `json:"name,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	UnitOfMeasure     string   `json:"unit_of_measurement,omitempty"`
	ValueTemplate     string   `json:"value_template"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	UniqueId          string   `json:"unique_id"`
	ExpireAfter       uint     `json:"expire_after,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	DisplayPrecision  int      `json:"suggested_display_precision,omitempty"`
	Device            haDevice `json:"device"`
}

// bridgeTopics are the per-device topics under the topic prefix
type bridgeTopics struct {
	deviceID     string
	state        string
	availability string
	set          string
}

// deviceID turns a display name into an entity id, "My Battery" -> "my_battery"
func deviceID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func newBridgeTopics(m config.MQTT) bridgeTopics {
	id := deviceID(m.DeviceName)
	base := strings.TrimSuffix(m.TopicPrefix, "/") + "/" + id
	return bridgeTopics{
		deviceID:     id,
		state:        base + "/state",
		availability: base + "/availability",
		set:          base + "/set",
	}
}

// discoveryMessages builds the retained config message for every entity
func discoveryMessages(m config.MQTT, topics bridgeTopics, firmware string) ([]MQTTMessage, error) {
	device := haDevice{
		Identifiers:  []string{topics.deviceID},
		Name:         m.DeviceName,
		Manufacturer: "Thermoquad",
		Model:        "battmon",
		SWVersion:    firmware,
	}
	// stale after three missed polls
	expire := uint(3 * m.Interval.Seconds())

	msgs := make([]MQTTMessage, 0, len(haEntities))
	for _, e := range haEntities {
		key := e.field.Key()
		cfg := haConfig{
			Name:              e.field.Label(),
			DeviceClass:       e.deviceClass,
			StateTopic:        topics.state,
			AvailabilityTopic: topics.availability,
			UnitOfMeasure:     e.field.Unit(),
			ValueTemplate:     "{{ value_json." + key + " }}",
			UniqueId:          topics.deviceID + "_" + key,
			ExpireAfter:       expire,
			StateClass:        e.stateClass,
			EntityCategory:    e.category,
			Device:            device,
		}
		if e.component == "binary_sensor" {
			cfg.ValueTemplate = "{{ 'ON' if value_json." + key + " else 'OFF' }}"
			cfg.PayloadOn = "ON"
			cfg.PayloadOff = "OFF"
		} else {
			cfg.DisplayPrecision = e.field.Precision()
		}

		payload, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal %s discovery config: %w", key, err)
		}
		msgs = append(msgs, MQTTMessage{
			Topic:   fmt.Sprintf("%s/%s/%s_%s/config", m.DiscoveryPrefix, e.component, topics.deviceID, key),
			Payload: payload,
			QoS:     2,
			Retain:  true,
		})
	}
	return msgs, nil
}

// statePayload flattens the fields carried by a reply into the state document.
// Device conditions are passed through under "error".
func statePayload(r *wire.Reply) ([]byte, error) {
	state := make(map[string]interface{})
	r.Present.Each(func(f wire.Field) {
		switch f {
		case wire.FieldCharging:
			state[f.Key()] = r.Charging
		case wire.FieldFirmware:
			state[f.Key()] = r.Firmware
		default:
			v, _ := r.Value(f)
			state[f.Key()] = v
		}
	})
	if r.Error != "" {
		state[wire.KeyError] = string(r.Error)
	}
	return json.Marshal(state)
}

// setRequestFromPayload accepts {"set":{...}} or the bare assignment object
// and returns the configure-request to send
func setRequestFromPayload(payload []byte) ([]byte, error) {
	req := wire.ParseRequest(payload)
	if req.Kind == wire.KindUnrecognized {
		wrapped := append([]byte(`{"set":`), payload...)
		req = wire.ParseRequest(append(wrapped, '}'))
	}
	if req.Kind != wire.KindConfigure {
		return nil, fmt.Errorf("not a configure payload: %s", payload)
	}
	if req.Set.Empty() {
		return nil, fmt.Errorf("no min_v, max_v or capacity_h in %s", payload)
	}
	return wire.NewSetRequest(req.Set), nil
}
