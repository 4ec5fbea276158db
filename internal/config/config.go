// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package config loads capturectl configuration from file and CAPTURE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix of environment variables overriding the config, e.g. CAPTURE_CAPTURE_CHUNK_SIZE.
const EnvPrefix = "CAPTURE"

// Config is the complete capturectl configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Server   ServerConfig   `mapstructure:"server"`
	Capture  CaptureConfig  `mapstructure:"capture"`
}

// CaptureConfig controls the ring geometry.
type CaptureConfig struct {
	// ChunkSize is the number of positions per chunk
	ChunkSize int `mapstructure:"chunk_size"`
	// NumChunks is the window size in chunks
	NumChunks int `mapstructure:"num_chunks"`
	// Rate is the capture timer frequency (samples per second)
	Rate float64 `mapstructure:"rate"`
}

// DeliveryConfig controls how chunks leave the process.
type DeliveryConfig struct {
	// Transport is "http" or "mqtt"
	Transport string `mapstructure:"transport"`
	// Endpoint is the base URL of the receiving endpoint (http transport)
	Endpoint string `mapstructure:"endpoint"`
	// Codec is "json" or "msgpack"
	Codec string `mapstructure:"codec"`
	// Compress enables zstd request bodies
	Compress bool `mapstructure:"compress"`
	// SendTimeout bounds a single send (0 = no timeout)
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	// DrainTimeout bounds the final drain before the session is declared saved
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// MaxInFlight limits concurrent sends (0 = unlimited)
	MaxInFlight int `mapstructure:"max_in_flight"`

	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// MQTTConfig controls the mqtt transport.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

// ServerConfig controls the receiving endpoint.
type ServerConfig struct {
	// Listen is the listen address
	Listen string `mapstructure:"listen"`
	// Store is "file" or "pebble"
	Store string `mapstructure:"store"`
	// DataDir is the directory of the chunk store
	DataDir string `mapstructure:"data_dir"`
	// MaxBodySize limits request bodies in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`
	// CompressAtRest compresses chunk files (file store only)
	CompressAtRest bool `mapstructure:"compress_at_rest"`
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Development enables human-friendly console output
	Development bool `mapstructure:"development"`
}

// SetDefaults registers default values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("capture.chunk_size", 60)
	v.SetDefault("capture.num_chunks", 4)
	v.SetDefault("capture.rate", 60.0)

	v.SetDefault("delivery.transport", "http")
	v.SetDefault("delivery.endpoint", "http://127.0.0.1:8470")
	v.SetDefault("delivery.codec", "json")
	v.SetDefault("delivery.compress", false)
	v.SetDefault("delivery.send_timeout", 30*time.Second)
	v.SetDefault("delivery.drain_timeout", 10*time.Second)
	v.SetDefault("delivery.max_in_flight", 0)
	v.SetDefault("delivery.mqtt.broker", "tcp://127.0.0.1:1883")
	v.SetDefault("delivery.mqtt.topic_prefix", "capture")
	v.SetDefault("delivery.mqtt.qos", 1)

	v.SetDefault("server.listen", "127.0.0.1:8470")
	v.SetDefault("server.store", "file")
	v.SetDefault("server.data_dir", "capture-data")
	v.SetDefault("server.max_body_size", 16<<20)
	v.SetDefault("server.compress_at_rest", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads configuration from path (YAML, TOML or JSON by extension), defaults and environment.
//
// If path is empty, only defaults and environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	}

	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Capture.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_size should be positive: %d", c.Capture.ChunkSize))
	}

	if c.Capture.NumChunks < 2 {
		errs = append(errs, fmt.Errorf("capture.num_chunks should be at least 2: %d", c.Capture.NumChunks))
	}

	if c.Capture.Rate <= 0 {
		errs = append(errs, fmt.Errorf("capture.rate should be positive: %v", c.Capture.Rate))
	}

	switch c.Delivery.Transport {
	case "http", "mqtt":
	default:
		errs = append(errs, fmt.Errorf("delivery.transport should be http or mqtt: %q", c.Delivery.Transport))
	}

	switch c.Delivery.Codec {
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("delivery.codec should be json or msgpack: %q", c.Delivery.Codec))
	}

	if c.Delivery.MQTT.QoS < 0 || c.Delivery.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("delivery.mqtt.qos should be 0, 1 or 2: %d", c.Delivery.MQTT.QoS))
	}

	if c.Delivery.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("delivery.drain_timeout should be positive: %s", c.Delivery.DrainTimeout))
	}

	switch c.Server.Store {
	case "file", "pebble":
	default:
		errs = append(errs, fmt.Errorf("server.store should be file or pebble: %q", c.Server.Store))
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// NewLogger builds a zap logger from the logging config.
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	if c.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}
