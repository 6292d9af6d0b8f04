package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/procdb/internal/logger"
	"github.com/oshokin/procdb/internal/scan"
)

// Config holds the settings shared by the procdb binaries.
type Config struct {
	// ServerAddress is the gRPC listen address of the server and the dial
	// target of the CLI.
	ServerAddress string `yaml:"server_addr"`
	// DatabaseFile is the YAML record definition file.
	DatabaseFile string `yaml:"database_file"`
	// AutosaveFile stores settable fields between runs. Empty disables autosave.
	AutosaveFile string `yaml:"autosave_file"`
	// AutosavePeriod is a scan schedule ("@every 30s" or a cron expression).
	AutosavePeriod string `yaml:"autosave_period"`
	// MetricsAddress serves /metrics over HTTP. Empty disables the endpoint.
	MetricsAddress string `yaml:"metrics_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Timeout is the duration for network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// LinkLockTimeout bounds the wait for a busy link target.
	LinkLockTimeout time.Duration `yaml:"link_lock_timeout"`
	// QueueWorkers is the number of scheduler workers.
	QueueWorkers int `yaml:"queue_workers"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "procdb-settings.yaml"

	// DefaultDatabaseFilename is the default record definition file.
	DefaultDatabaseFilename = "procdb-records.yaml"

	// DefaultAutosavePeriod is the default autosave schedule.
	DefaultAutosavePeriod = "@every 30s"

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultLinkLockTimeout is the default wait for a busy link target.
	DefaultLinkLockTimeout = 100 * time.Millisecond

	// DefaultFilePermissions is the default file permission for written files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
	// errNegativeWorkers is returned for a negative worker count.
	errNegativeWorkers = errors.New("queue workers must not be negative")
	// errUnknownLogLevel is returned for a level ParseLogLevel rejects.
	errUnknownLogLevel = errors.New("unknown log level")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills in defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics socket: %w", err)
		}
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.LinkLockTimeout <= 0 {
		settings.LinkLockTimeout = DefaultLinkLockTimeout
	}

	if settings.QueueWorkers < 0 {
		return errNegativeWorkers
	}

	if settings.QueueWorkers == 0 {
		settings.QueueWorkers = scan.DefaultWorkers
	}

	if settings.DatabaseFile == "" {
		settings.DatabaseFile = DefaultDatabaseFilename
	}

	if settings.LogLevel == "" {
		settings.LogLevel = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, settings.LogLevel)
	}

	if settings.AutosavePeriod == "" {
		settings.AutosavePeriod = DefaultAutosavePeriod
	}

	schedule, err := scan.ParseSchedule(settings.AutosavePeriod)
	if err != nil {
		return fmt.Errorf("invalid autosave period: %w", err)
	}

	if schedule == nil && settings.AutosaveFile != "" {
		return fmt.Errorf("invalid autosave period %q: a schedule is required", settings.AutosavePeriod)
	}

	return nil
}
