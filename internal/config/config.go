package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DispatcherConfig holds the settings of a dispatcher node
type DispatcherConfig struct {
	// Node is the unique name reported to the controller
	Node string

	// Controller connection
	Controller ControllerClientConfig

	// Pipeline tuning
	Pipeline PipelineConfig

	// Tracing configuration
	Tracing TracingConfig

	// Log configuration
	LogLevel string
}

// ControllerClientConfig describes how a dispatcher reaches the controller
type ControllerClientConfig struct {
	URL            string
	Interval       time.Duration // between configuration refreshes
	RequestTimeout time.Duration
}

// PipelineConfig contains read and delivery settings
type PipelineConfig struct {
	ChunkSize            int // KB read from a file at a time
	BatchSize            int // records per post
	MetricsInterval      time.Duration
	EventsInterval       time.Duration
	LogAnalyticsEndpoint string // overrides the workspace URL, for testing
}

// ChunkBytes returns the read limit in bytes.
func (p PipelineConfig) ChunkBytes() int64 {
	return int64(p.ChunkSize) * 1000
}

// ControllerConfig holds the settings of the controller
type ControllerConfig struct {
	// Server Configuration
	Server ServerConfig

	// State store location and credentials
	State StateConfig

	// SummaryRate is the default number of minutes per chart bucket
	SummaryRate int

	// Tracing configuration
	Tracing TracingConfig

	// Log configuration
	LogLevel string
}

// StateConfig selects the state backend. Path is a directory or a
// bolt://, sqlite://, redis:// or s3:// location.
type StateConfig struct {
	Path       string
	ConfigPoll time.Duration // for backends that cannot be watched

	RedisPassword string
	RedisPrefix   string

	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3UsePathStyle    bool
}

// ReceiverConfig holds the settings of the test receiver
type ReceiverConfig struct {
	Server   ServerConfig
	LogLevel string
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Host       string
	Port       int
	Production bool
}

// TracingConfig contains OpenTelemetry exporter settings
type TracingConfig struct {
	Enabled  bool
	Endpoint string
	Insecure bool
}

// LoadDispatcher reads dispatcher configuration from .env file and environment variables
func LoadDispatcher() (*DispatcherConfig, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := &DispatcherConfig{
		Node: getEnv("DISPATCHER_NAME", hostname),
		Controller: ControllerClientConfig{
			URL:            getEnv("CONTROLLER_URL", ""),
			Interval:       getEnvAsMillis("CONTROLLER_INTERVAL", time.Minute),
			RequestTimeout: getEnvAsDuration("CONTROLLER_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			ChunkSize:            getEnvAsInt("CHUNK_SIZE", 5000),
			BatchSize:            getEnvAsInt("BATCH_SIZE", 100),
			MetricsInterval:      getEnvAsDuration("METRICS_INTERVAL", time.Minute),
			EventsInterval:       getEnvAsDuration("EVENTS_INTERVAL", time.Minute),
			LogAnalyticsEndpoint: getEnv("LOG_ANALYTICS_ENDPOINT", ""),
		},
		Tracing:  loadTracing(),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate reports settings the dispatcher cannot start with.
func (c *DispatcherConfig) Validate() error {
	var errs []error
	if c.Node == "" {
		errs = append(errs, errors.New("a dispatcher name is required (DISPATCHER_NAME)"))
	}
	if c.Controller.URL == "" {
		errs = append(errs, errors.New("a controller URL is required (CONTROLLER_URL)"))
	} else if u, err := url.Parse(c.Controller.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid controller URL %q", c.Controller.URL))
	}
	if c.Controller.Interval <= 0 {
		errs = append(errs, errors.New("CONTROLLER_INTERVAL must be positive"))
	}
	if c.Pipeline.ChunkSize <= 0 {
		errs = append(errs, errors.New("CHUNK_SIZE must be positive"))
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

// LoadController reads controller configuration from .env file and environment variables
func LoadController() (*ControllerConfig, error) {
	_ = godotenv.Load()

	cfg := &ControllerConfig{
		Server: ServerConfig{
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			Port:       getEnvAsInt("PORT", 8080),
			Production: getEnvAsBool("SERVER_PRODUCTION", false),
		},
		State: StateConfig{
			Path:              getEnv("STATE_PATH", "./state"),
			ConfigPoll:        getEnvAsDuration("STATE_CONFIG_POLL", 30*time.Second),
			RedisPassword:     getEnv("REDIS_PASSWORD", ""),
			RedisPrefix:       getEnv("REDIS_PREFIX", ""),
			S3Region:          getEnv("AWS_REGION", ""),
			S3Endpoint:        getEnv("S3_ENDPOINT", ""),
			S3AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3UsePathStyle:    getEnvAsBool("S3_USE_PATH_STYLE", false),
		},
		SummaryRate: getEnvAsInt("SUMMARY_RATE", 15),
		Tracing:     loadTracing(),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate reports settings the controller cannot start with.
func (c *ControllerConfig) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if strings.TrimSpace(c.State.Path) == "" {
		errs = append(errs, errors.New("a state path is required (STATE_PATH)"))
	}
	if c.SummaryRate <= 0 {
		errs = append(errs, errors.New("SUMMARY_RATE must be positive"))
	}
	return errors.Join(errs...)
}

// LoadReceiver reads receiver configuration from .env file and environment variables
func LoadReceiver() (*ReceiverConfig, error) {
	_ = godotenv.Load()

	return &ReceiverConfig{
		Server: ServerConfig{
			Host:       getEnv("SERVER_HOST", "0.0.0.0"),
			Port:       getEnvAsInt("PORT", 8090),
			Production: getEnvAsBool("SERVER_PRODUCTION", false),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func loadTracing() TracingConfig {
	return TracingConfig{
		Enabled:  getEnvAsBool("OTEL_ENABLED", false),
		Endpoint: getEnv("OTEL_ENDPOINT", "localhost:4317"),
		Insecure: getEnvAsBool("OTEL_INSECURE", true),
	}
}

// Helper functions to read environment variables with defaults

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsMillis reads a plain number as milliseconds and anything else
// as a Go duration.
func getEnvAsMillis(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return getEnvAsDuration(key, defaultValue)
}
