// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads battmon's YAML configuration file, the .env file and
// BATTMON_* environment overrides. Command-line flags are applied on top by
// the cmd package.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "BATTMON_"

// Defaults
const (
	DefaultBaud         = 115200
	DefaultFlashSize    = 2 << 20
	DefaultSectorSize   = 4096
	DefaultShuntOhms    = 0.1
	DefaultMaxCurrent   = 2.0
	DefaultPollInterval = 50 * time.Millisecond
	DefaultMQTTInterval = 10 * time.Second
)

// ErrInvalid is returned for configurations that fail validation
var ErrInvalid = errors.New("invalid configuration")

// Config is the full battmon configuration
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Serial    Serial    `yaml:"serial"`
	WebSocket WebSocket `yaml:"websocket"`
	Serve     Serve     `yaml:"serve"`
	MQTT      MQTT      `yaml:"mqtt"`
}

// Serial selects the serial transport
type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// WebSocket selects the WebSocket transport. The password is only taken
// from the environment.
type WebSocket struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
	Password    string `yaml:"-"`
}

// Serve configures the device process
type Serve struct {
	Firmware     string        `yaml:"firmware"`
	Flash        string        `yaml:"flash"`
	FlashSize    int64         `yaml:"flash_size"`
	SectorSize   int64         `yaml:"sector_size"`
	Simulate     bool          `yaml:"simulate"`
	I2CBus       string        `yaml:"i2c_bus"`
	Address      uint16        `yaml:"address"`
	ShuntOhms    float64       `yaml:"shunt_ohms"`
	MaxCurrent   float64       `yaml:"max_current"`
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MQTT configures the telemetry bridge
type MQTT struct {
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"-"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	DiscoveryPrefix string        `yaml:"discovery_prefix"`
	DeviceName      string        `yaml:"device_name"`
	Interval        time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "auto",
		Serial:    Serial{Baud: DefaultBaud},
		Serve: Serve{
			Flash:        filepath.Join(dataDir(), "flash.img"),
			FlashSize:    DefaultFlashSize,
			SectorSize:   DefaultSectorSize,
			Address:      0x40,
			ShuntOhms:    DefaultShuntOhms,
			MaxCurrent:   DefaultMaxCurrent,
			PollInterval: DefaultPollInterval,
		},
		MQTT: MQTT{
			ClientID:        "battmon",
			TopicPrefix:     "battmon",
			DiscoveryPrefix: "homeassistant",
			DeviceName:      "Battery",
			Interval:        DefaultMQTTInterval,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/battmon/config.yaml
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "battmon", "config.yaml")
}

func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "battmon")
}

// Load reads the configuration. An empty path selects DefaultPath, which
// may be absent; an explicit path must exist. A .env file in the working
// directory is loaded into the environment first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			dec := yaml.NewDecoder(f)
			dec.KnownFields(true)
			err = dec.Decode(&cfg)
			f.Close()
			if err != nil && !errors.Is(err, io.EOF) {
				return Config{}, fmt.Errorf("parsing %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("opening config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("PORT", &c.Serial.Port)
	str("URL", &c.WebSocket.URL)
	str("USERNAME", &c.WebSocket.Username)
	str("PASSWORD", &c.WebSocket.Password)
	str("FLASH", &c.Serve.Flash)
	str("I2C_BUS", &c.Serve.I2CBus)
	str("LISTEN", &c.Serve.Listen)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)

	if v, ok := lookup(EnvPrefix + "BAUD"); ok {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sBAUD=%q", ErrInvalid, EnvPrefix, v)
		}
		c.Serial.Baud = baud
	}
	if v, ok := lookup(EnvPrefix + "NO_SSL_VERIFY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sNO_SSL_VERIFY=%q", ErrInvalid, EnvPrefix, v)
		}
		c.WebSocket.NoSSLVerify = b
	}
	return nil
}

// Validate checks values that would make a command fail later
func (c Config) Validate() error {
	switch {
	case c.Serial.Baud <= 0:
		return fmt.Errorf("%w: baud %d", ErrInvalid, c.Serial.Baud)
	case c.Serve.SectorSize <= 0 || c.Serve.FlashSize < c.Serve.SectorSize:
		return fmt.Errorf("%w: flash size %d with sector %d", ErrInvalid, c.Serve.FlashSize, c.Serve.SectorSize)
	case c.Serve.FlashSize%c.Serve.SectorSize != 0:
		return fmt.Errorf("%w: flash size %d not a multiple of sector %d", ErrInvalid, c.Serve.FlashSize, c.Serve.SectorSize)
	case c.Serve.ShuntOhms <= 0:
		return fmt.Errorf("%w: shunt %g ohm", ErrInvalid, c.Serve.ShuntOhms)
	case c.Serve.MaxCurrent <= 0:
		return fmt.Errorf("%w: max current %g A", ErrInvalid, c.Serve.MaxCurrent)
	case c.Serve.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval %s", ErrInvalid, c.Serve.PollInterval)
	case c.MQTT.Interval <= 0:
		return fmt.Errorf("%w: mqtt interval %s", ErrInvalid, c.MQTT.Interval)
	}
	return nil
}
