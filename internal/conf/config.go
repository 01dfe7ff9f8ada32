// Package conf loads engine settings from config file, environment and flags.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/logger"
)

// Settings holds the full engine configuration
type Settings struct {
	Engine      EngineSettings       `yaml:"engine" mapstructure:"engine"`
	Ports       PortSettings         `yaml:"ports" mapstructure:"ports"`
	Router      RouterSettings       `yaml:"router" mapstructure:"router"`
	Backend     BackendSettings      `yaml:"backend" mapstructure:"backend"`
	Monitor     MonitorSettings      `yaml:"monitor" mapstructure:"monitor"`
	Telemetry   TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	MQTT        MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt"`
	Sentry      SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
	Diagnostics DiagnosticsSettings  `yaml:"diagnostics" mapstructure:"diagnostics"`
	Logging     logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// EngineSettings controls block size and the worker pool
type EngineSettings struct {
	SampleRate    int `yaml:"sample_rate" mapstructure:"sample_rate"`
	BlockLength   int `yaml:"block_length" mapstructure:"block_length"`     // frames per cycle, power of two
	Workers       int `yaml:"workers" mapstructure:"workers"`               // 0 = size from CPU topology
	QueueCapacity int `yaml:"queue_capacity" mapstructure:"queue_capacity"` // ready-queue slots
}

// PortSettings sizes the per-port rings
type PortSettings struct {
	MeterRingBlocks     int `yaml:"meter_ring_blocks" mapstructure:"meter_ring_blocks"`
	MeterEvictBlocks    int `yaml:"meter_evict_blocks" mapstructure:"meter_evict_blocks"`
	EventRingRecords    int `yaml:"event_ring_records" mapstructure:"event_ring_records"`
	ExternalRingRecords int `yaml:"external_ring_records" mapstructure:"external_ring_records"`
}

// RouterSettings controls the cycle driver
type RouterSettings struct {
	ControlQueueSize   int           `yaml:"control_queue_size" mapstructure:"control_queue_size"`
	ValidationCacheTTL time.Duration `yaml:"validation_cache_ttl" mapstructure:"validation_cache_ttl"`
	FailureLogRate     float64       `yaml:"failure_log_rate" mapstructure:"failure_log_rate"` // node failure logs per second
}

// BackendSettings selects the device driving cycles
type BackendSettings struct {
	Type     string        `yaml:"type" mapstructure:"type"`         // dummy or malgo
	Device   string        `yaml:"device" mapstructure:"device"`     // malgo backend: alsa, pulse, wasapi, coreaudio
	Channels int           `yaml:"channels" mapstructure:"channels"` // playback channels
	Period   time.Duration `yaml:"period" mapstructure:"period"`     // dummy backend override, 0 = block length / sample rate
}

// MonitorSettings configures the meter tap poller
type MonitorSettings struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	RecordPath   string        `yaml:"record_path" mapstructure:"record_path"` // WAV capture of the master bus, empty disables
}

// TelemetrySettings configures the status and metrics HTTP server
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// MQTTSettings configures graph notifications over MQTT
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Broker   string `yaml:"broker" mapstructure:"broker"`
	Topic    string `yaml:"topic" mapstructure:"topic"`
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

// DiagnosticsSettings configures the execution tracer
type DiagnosticsSettings struct {
	TraceEnabled  bool `yaml:"trace_enabled" mapstructure:"trace_enabled"`
	TraceCapacity int  `yaml:"trace_capacity" mapstructure:"trace_capacity"` // records
}

// Load reads settings into the global viper instance. configFile may be empty,
// in which case the default search paths are used and a missing file is not an error.
func Load(configFile string) (*Settings, error) {
	return LoadWith(viper.GetViper(), configFile)
}

// LoadWith reads settings using the given viper instance
func LoadWith(v *viper.Viper, configFile string) (*Settings, error) {
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range GetDefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("error reading config file: %w", err)).
				Component("configuration").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// GetDefaultConfigPaths returns config search paths in priority order
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "signalgraph"))
	}
	return append(paths, "/etc/signalgraph")
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}
	if err := os.Rename(tmpName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// CyclePeriod returns the wall-clock duration of one block
func (s *Settings) CyclePeriod() time.Duration {
	if s.Backend.Period > 0 {
		return s.Backend.Period
	}
	return time.Duration(s.Engine.BlockLength) * time.Second / time.Duration(s.Engine.SampleRate)
}
