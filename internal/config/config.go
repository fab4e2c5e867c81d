// Package config loads the daemon configuration from YAML.
//
// Loading order is defaults, then the YAML file, then BUSENCODERS_*
// environment variables, then validation. Command-line flags are applied by
// the caller on top of the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/busencoders/internal/encoder"
	"github.com/sweeney/busencoders/internal/gpio"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	Bus         BusConfig         `yaml:"bus"`
	Encoders    []EncoderConfig   `yaml:"encoders"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	HTTP        HTTPConfig        `yaml:"http"`
	Journal     JournalConfig     `yaml:"journal"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Heartbeat   time.Duration     `yaml:"heartbeat"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BusConfig names the GPIO chip and the shared line offsets.
type BusConfig struct {
	Chip       string `yaml:"chip"`
	LineA      int    `yaml:"line_a"`
	LineB      int    `yaml:"line_b"`
	LineSwitch int    `yaml:"line_switch"`
}

// EncoderConfig describes one encoder on the bus.
type EncoderConfig struct {
	ID         int    `yaml:"id"`
	Name       string `yaml:"name"`
	Type       string `yaml:"type"` // four_step | two_step
	SelectLine int    `yaml:"select_line"`
	Modes      int    `yaml:"modes"`

	RotationIndex int `yaml:"rotation_index"`
	// SwitchIndex is only reported by single-mode encoders; 0 disables it.
	SwitchIndex int `yaml:"switch_index"`
}

// AcquisitionConfig tunes the polling engine.
type AcquisitionConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	ActiveTimeout time.Duration `yaml:"active_timeout"`
	DebounceWidth int           `yaml:"debounce_width"`
	// SpinLimit bounds debounce and switch-release waits; 0 waits forever.
	SpinLimit int `yaml:"spin_limit"`
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	BufferSize  int    `yaml:"buffer_size"`
}

// HTTPConfig holds the status server address. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// JournalConfig holds the SQLite event journal settings.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// InfluxDBConfig holds telemetry settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given: one
// four-step encoder on the default lines, MQTT on localhost.
func Default() Config {
	return Config{
		Bus: BusConfig{
			Chip:       gpio.DefaultChip,
			LineA:      gpio.DefaultLineA,
			LineB:      gpio.DefaultLineB,
			LineSwitch: gpio.DefaultLineSwitch,
		},
		Encoders: []EncoderConfig{
			{ID: 1, Name: "encoder1", Type: "four_step", SelectLine: 5, Modes: 1, RotationIndex: 1},
		},
		Acquisition: AcquisitionConfig{
			PollInterval:  time.Millisecond,
			ActiveTimeout: encoder.DefaultActiveTimeout,
			DebounceWidth: encoder.DefaultDebounceWidth,
		},
		MQTT: MQTTConfig{
			Enabled:     true,
			Broker:      "tcp://localhost:1883",
			ClientID:    "busencoders",
			TopicPrefix: "busencoders",
			BufferSize:  1000,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		Journal: JournalConfig{
			Path: "./data/busencoders.db",
		},
		InfluxDB: InfluxDBConfig{
			URL:    "http://localhost:8086",
			Bucket: "busencoders",
		},
		Heartbeat: 15 * time.Minute,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if cfg, err = Parse(b); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown fields and trailing
// documents are rejected. The result is not validated.
func Parse(b []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil // empty file
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// applyEnvOverrides applies BUSENCODERS_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BUSENCODERS_BUS_CHIP"); v != "" {
		cfg.Bus.Chip = v
	}
	if v := os.Getenv("BUSENCODERS_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("BUSENCODERS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("BUSENCODERS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("BUSENCODERS_MQTT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BUSENCODERS_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = b
	}
	if v := os.Getenv("BUSENCODERS_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("BUSENCODERS_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("BUSENCODERS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("BUSENCODERS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for errors the engine would only report
// at registration time, plus the daemon-level settings.
func (c Config) Validate() error {
	if c.Bus.Chip == "" {
		return fmt.Errorf("%w: bus.chip is required", ErrInvalid)
	}
	if len(c.Encoders) == 0 {
		return fmt.Errorf("%w: at least one encoder is required", ErrInvalid)
	}

	ids := make(map[int]bool)
	for i, e := range c.Encoders {
		if e.ID < 1 || e.ID > len(c.Encoders) {
			return fmt.Errorf("%w: encoders[%d]: id %d not in 1..%d", ErrInvalid, i, e.ID, len(c.Encoders))
		}
		if ids[e.ID] {
			return fmt.Errorf("%w: encoders[%d]: duplicate id %d", ErrInvalid, i, e.ID)
		}
		ids[e.ID] = true
		if _, err := encoder.ParseDecodeType(e.Type); err != nil {
			return fmt.Errorf("%w: encoders[%d]: %v", ErrInvalid, i, err)
		}
		if e.Modes < 1 {
			return fmt.Errorf("%w: encoders[%d]: modes must be >= 1", ErrInvalid, i)
		}
	}

	if err := c.checkRegistration(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	a := c.Acquisition
	if a.PollInterval <= 0 {
		return fmt.Errorf("%w: acquisition.poll_interval must be > 0", ErrInvalid)
	}
	if a.ActiveTimeout < 0 {
		return fmt.Errorf("%w: acquisition.active_timeout must be >= 0", ErrInvalid)
	}
	if a.DebounceWidth < encoder.MinDebounceWidth || a.DebounceWidth > encoder.MaxDebounceWidth {
		return fmt.Errorf("%w: acquisition.debounce_width must be %d..%d", ErrInvalid,
			encoder.MinDebounceWidth, encoder.MaxDebounceWidth)
	}
	if a.SpinLimit < 0 || (a.SpinLimit > 0 && a.SpinLimit < a.DebounceWidth) {
		return fmt.Errorf("%w: acquisition.spin_limit must be 0 or >= debounce_width", ErrInvalid)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("%w: mqtt.broker is required when mqtt is enabled", ErrInvalid)
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("%w: mqtt.topic_prefix is required", ErrInvalid)
		}
		if c.MQTT.BufferSize < 1 {
			return fmt.Errorf("%w: mqtt.buffer_size must be >= 1", ErrInvalid)
		}
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("%w: journal.path is required when the journal is enabled", ErrInvalid)
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		return fmt.Errorf("%w: influxdb url, org and bucket are required when enabled", ErrInvalid)
	}
	if c.Heartbeat <= 0 {
		return fmt.Errorf("%w: heartbeat must be > 0", ErrInvalid)
	}
	return nil
}

// dryLines reads every line high and accepts every write.
type dryLines struct{}

func (dryLines) ReadLine(int) (bool, error) { return true, nil }
func (dryLines) WriteLine(int, bool) error  { return nil }

// checkRegistration runs the engine's bus and registration checks without
// touching hardware, so line and index conflicts surface before any GPIO
// line is requested.
func (c Config) checkRegistration() error {
	arb, err := encoder.NewArbiter(dryLines{}, c.EngineBus(), time.Now)
	if err != nil {
		return err
	}
	for _, e := range c.Encoders {
		if err := arb.Register(e.ID, e.Engine()); err != nil {
			return err
		}
	}
	return nil
}

// EngineBus returns the engine bus description.
func (c Config) EngineBus() encoder.Bus {
	return encoder.Bus{
		LineA:      c.Bus.LineA,
		LineB:      c.Bus.LineB,
		LineSwitch: c.Bus.LineSwitch,
		Count:      len(c.Encoders),
	}
}

// Engine converts an encoder entry to its registration. Type must already
// have been validated.
func (e EncoderConfig) Engine() encoder.EncoderConfig {
	t, _ := encoder.ParseDecodeType(e.Type)
	return encoder.EncoderConfig{
		Name:          e.Name,
		Type:          t,
		SelectLine:    e.SelectLine,
		Modes:         e.Modes,
		RotationIndex: e.RotationIndex,
		SwitchIndex:   e.SwitchIndex,
	}
}

// SelectLines returns every encoder select line in config order.
func (c Config) SelectLines() []int {
	out := make([]int, 0, len(c.Encoders))
	for _, e := range c.Encoders {
		out = append(out, e.SelectLine)
	}
	return out
}

// SharedLines returns the A, B and switch lines.
func (c Config) SharedLines() []int {
	return []int{c.Bus.LineA, c.Bus.LineB, c.Bus.LineSwitch}
}
