package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/mqttpub"
	"github.com/srg/blehub/scanner"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// DefaultAdapter is scanned when no adapter is configured
const DefaultAdapter = "hci0"

// Config holds application configuration
type Config struct {
	LogLevel      string `yaml:"log_level" default:"info"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" default:"10"`
	LogMaxBackups int    `yaml:"log_max_backups" default:"3"`

	Adapters        []string `yaml:"adapters"`
	PassiveAdapters []string `yaml:"passive_adapters"`

	ScanTimeout        time.Duration `yaml:"scan_timeout" default:"10s"`
	UnavailableTimeout time.Duration `yaml:"unavailable_timeout" default:"30s"`
	CheckInterval      time.Duration `yaml:"check_interval" default:"5s"`
	QueueSize          int           `yaml:"queue_size" default:"256"`
	OutputFormat       string        `yaml:"output_format" default:"table"`

	MQTT mqttpub.Config `yaml:"mqtt"`

	// Parsers maps a company id to a Lua parser script
	Parsers map[uint16]string `yaml:"parsers"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	defaults.SetDefaults(c)
	if len(c.Adapters) == 0 {
		c.Adapters = []string{DefaultAdapter}
	}
}

// Load reads a YAML configuration file. Keys missing from the file keep their
// defaults; an empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be corrected by defaults
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if !slices.Contains([]string{"table", "json"}, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output_format: unsupported format %q", c.OutputFormat))
	}
	if c.UnavailableTimeout <= 0 {
		errs = append(errs, errors.New("unavailable_timeout must be positive"))
	}
	if c.CheckInterval <= 0 {
		errs = append(errs, errors.New("check_interval must be positive"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, errors.New("queue_size must be positive"))
	}
	for _, passive := range c.PassiveAdapters {
		if !slices.Contains(c.Adapters, passive) {
			errs = append(errs, fmt.Errorf("passive_adapters: %s is not in adapters", passive))
		}
	}
	if qos := c.MQTT.EffectiveQoS(); qos > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos: must be 0, 1 or 2, got %d", qos))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, info if invalid
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance. With LogFile set, output is
// also written to a size-rotated file.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if c.LogFile != "" {
		logger.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogMaxSizeMB,
			MaxBackups: c.LogMaxBackups,
		}))
	}

	return logger
}

// ManagerOptions returns the bluetooth manager settings
func (c *Config) ManagerOptions() bluetooth.Options {
	return bluetooth.Options{
		UnavailableTimeout: c.UnavailableTimeout,
		CheckInterval:      c.CheckInterval,
		QueueSize:          c.QueueSize,
	}
}

// ScannerOptions returns the scanner settings for one adapter
func (c *Config) ScannerOptions(adapter string) scanner.Options {
	return scanner.Options{
		Adapter: adapter,
		Passive: slices.Contains(c.PassiveAdapters, adapter),
	}
}
