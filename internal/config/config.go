// Package config loads relay configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Classifier modes.
const (
	ClassifierLocal    = "local"
	ClassifierNATS     = "nats"
	ClassifierDisabled = "disabled"
)

// Report store drivers.
const (
	ReportDriverPostgres = "postgres"
	ReportDriverSQLite   = "sqlite"
)

// Config structure represents the relay configuration.
type Config struct {
	Server struct {
		ListenAddr        string        `yaml:"listen_addr"`
		Name              string        `yaml:"name"`
		MaxConnections    int           `yaml:"max_connections"`
		MaxMessageSize    int64         `yaml:"max_message_size"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
		WorkerPoolSize    int           `yaml:"worker_pool_size"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	NATS struct {
		URL string `yaml:"url"` // empty runs the in-process bus
	} `yaml:"nats"`

	Redis struct {
		Addr string `yaml:"addr"` // empty disables presence
	} `yaml:"redis"`

	Reports struct {
		Driver     string `yaml:"driver"`
		DSN        string `yaml:"dsn"`
		SQLitePath string `yaml:"sqlite_path"`
		Migrate    bool   `yaml:"migrate"`
	} `yaml:"reports"`

	Classifier struct {
		Mode        string        `yaml:"mode"`
		ArtifactDir string        `yaml:"artifact_dir"`
		Subject     string        `yaml:"subject"`
		Timeout     time.Duration `yaml:"timeout"`
		Warm        bool          `yaml:"warm"` // load at startup instead of on first message
	} `yaml:"classifier"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a file and environment variables.
// A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	setDefaults(config)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			file, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(file, config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default values for the configuration
func setDefaults(config *Config) {
	config.Server.ListenAddr = ":8080"
	config.Server.Name = "relay-1"
	config.Server.MaxConnections = 100000
	config.Server.MaxMessageSize = 64 << 10
	config.Server.WriteTimeout = 10 * time.Second
	config.Server.HeartbeatInterval = 30 * time.Second
	config.Server.HeartbeatTimeout = 10 * time.Second
	config.Server.WorkerPoolSize = 256
	config.Server.ShutdownTimeout = 10 * time.Second

	config.Reports.Driver = ReportDriverSQLite
	config.Reports.SQLitePath = "reports.db"
	config.Reports.Migrate = true

	config.Classifier.Mode = ClassifierLocal
	config.Classifier.ArtifactDir = "artifacts"
	config.Classifier.Subject = "moderation.check"
	config.Classifier.Timeout = 2 * time.Second

	config.Logging.Level = "info"
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(config *Config) error {
	var err error
	str := func(dst *string, key string) {
		*dst = GetEnv(key, *dst)
	}
	integer := func(dst *int, key string) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = n
		}
	}
	duration := func(dst *time.Duration, key string) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			d, parseErr := time.ParseDuration(v)
			if parseErr != nil {
				err = fmt.Errorf("%s: %w", key, parseErr)
				return
			}
			*dst = d
		}
	}

	str(&config.Server.ListenAddr, "LISTEN_ADDR")
	str(&config.Server.Name, "SERVER_NAME")
	integer(&config.Server.MaxConnections, "MAX_CONNECTIONS")
	integer(&config.Server.WorkerPoolSize, "WORKER_POOL_SIZE")
	duration(&config.Server.WriteTimeout, "WRITE_TIMEOUT")
	duration(&config.Server.HeartbeatInterval, "HEARTBEAT_INTERVAL")
	duration(&config.Server.HeartbeatTimeout, "HEARTBEAT_TIMEOUT")
	duration(&config.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	maxMsg := int(config.Server.MaxMessageSize)
	integer(&maxMsg, "MAX_MESSAGE_SIZE")
	config.Server.MaxMessageSize = int64(maxMsg)

	str(&config.NATS.URL, "NATS_URL")
	str(&config.Redis.Addr, "REDIS_ADDR")

	str(&config.Reports.Driver, "REPORT_DRIVER")
	str(&config.Reports.DSN, "REPORT_DSN")
	str(&config.Reports.SQLitePath, "REPORT_SQLITE_PATH")
	config.Reports.Migrate = GetEnvAsBool("REPORT_MIGRATE", config.Reports.Migrate)

	str(&config.Classifier.Mode, "CLASSIFIER_MODE")
	str(&config.Classifier.ArtifactDir, "ARTIFACT_DIR")
	str(&config.Classifier.Subject, "CLASSIFIER_SUBJECT")
	duration(&config.Classifier.Timeout, "CLASSIFIER_TIMEOUT")
	config.Classifier.Warm = GetEnvAsBool("CLASSIFIER_WARM", config.Classifier.Warm)

	str(&config.Logging.Level, "LOG_LEVEL")
	config.Logging.Pretty = GetEnvAsBool("LOG_PRETTY", config.Logging.Pretty)

	return err
}

// validateConfig ensures that the configuration is valid
func validateConfig(config *Config) error {
	if config.Server.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if config.Server.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive, got %d", config.Server.MaxConnections)
	}
	if config.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", config.Server.MaxMessageSize)
	}
	if config.Server.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive, got %d", config.Server.WorkerPoolSize)
	}

	config.Reports.Driver = strings.ToLower(config.Reports.Driver)
	switch config.Reports.Driver {
	case ReportDriverPostgres:
		if config.Reports.DSN == "" {
			return fmt.Errorf("report DSN is required for the postgres driver")
		}
	case ReportDriverSQLite:
		if config.Reports.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown report driver %q", config.Reports.Driver)
	}

	config.Classifier.Mode = strings.ToLower(config.Classifier.Mode)
	switch config.Classifier.Mode {
	case ClassifierLocal, ClassifierDisabled:
	case ClassifierNATS:
		if config.NATS.URL == "" {
			return fmt.Errorf("classifier mode %q requires a NATS URL", ClassifierNATS)
		}
	default:
		return fmt.Errorf("unknown classifier mode %q", config.Classifier.Mode)
	}

	return nil
}

// GetEnv gets an environment variable or returns a default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsBool gets an environment variable as a boolean or returns a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := GetEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	valueLower := strings.ToLower(valueStr)
	if valueLower == "true" || valueLower == "1" || valueLower == "yes" {
		return true
	}
	if valueLower == "false" || valueLower == "0" || valueLower == "no" {
		return false
	}

	return defaultValue
}
