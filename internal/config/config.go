package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string `yaml:"env" env:"ENV" env-default:"local"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"./storage/time-tracking.db"`

	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Sessions SessionsConfig `yaml:"sessions"`
	Backend  BackendConfig  `yaml:"backend"`
	Device   DeviceConfig   `yaml:"device"`
	Agent    AgentConfig    `yaml:"agent"`
	Capture  CaptureConfig  `yaml:"capture"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// ServerConfig configures the API server (the session store of record)
type ServerConfig struct {
	Port             int               `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout      int               `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15"`
	WriteTimeout     int               `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15"`
	OperationTimeout int               `yaml:"operation_timeout" env:"SERVER_OPERATION_TIMEOUT" env-default:"5"`
	ActiveCacheTTL   int               `yaml:"active_cache_ttl" env:"SERVER_ACTIVE_CACHE_TTL" env-default:"30"`
	BlobDir          string            `yaml:"blob_dir" env:"SERVER_BLOB_DIR" env-default:"./storage/screenshots"`
	MaxUploadBytes   int64             `yaml:"max_upload_bytes" env:"SERVER_MAX_UPLOAD_BYTES" env-default:"10485760"`
	Tokens           map[string]string `yaml:"tokens" env:"SERVER_TOKENS"` // bearer token -> employee id
}

type SessionsConfig struct {
	DefaultScreenshotInterval int64 `yaml:"default_screenshot_interval_ms" env:"SESSIONS_DEFAULT_SCREENSHOT_INTERVAL_MS" env-default:"300000"`
	MinScreenshotInterval     int64 `yaml:"min_screenshot_interval_ms" env:"SESSIONS_MIN_SCREENSHOT_INTERVAL_MS" env-default:"60000"`
}

// BackendConfig is how the agent reaches the server
type BackendConfig struct {
	BaseURL string `yaml:"base_url" env:"BACKEND_BASE_URL" env-default:"http://localhost:8080"`
	APIKey  string `yaml:"api_key" env:"BACKEND_API_KEY"`
	Timeout int    `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"10"`
}

type DeviceConfig struct {
	ID   string `yaml:"id" env:"DEVICE_ID"`
	Name string `yaml:"name" env:"DEVICE_NAME"`
}

type AgentConfig struct {
	CachePath     string `yaml:"cache_path" env:"AGENT_CACHE_PATH" env-default:"./storage/agent.db"`
	EmployeeID    string `yaml:"employee_id" env:"AGENT_EMPLOYEE_ID"`
	ControlPort   int    `yaml:"control_port" env:"AGENT_CONTROL_PORT" env-default:"8765"`
	QueueInterval int    `yaml:"queue_interval" env:"AGENT_QUEUE_INTERVAL" env-default:"60"`

	// zero-valued bools cannot carry a true default through cleanenv
	DisableControl bool `yaml:"disable_control" env:"AGENT_DISABLE_CONTROL"`
	DisableWatch   bool `yaml:"disable_watch" env:"AGENT_DISABLE_WATCH"`
}

type CaptureConfig struct {
	MaxWidth  int      `yaml:"max_width" env:"CAPTURE_MAX_WIDTH" env-default:"1920"`
	MaxHeight int      `yaml:"max_height" env:"CAPTURE_MAX_HEIGHT" env-default:"1080"`
	Quality   int      `yaml:"quality" env:"CAPTURE_QUALITY" env-default:"70"`
	Command   []string `yaml:"command" env:"CAPTURE_COMMAND" env-separator:" "`
}

// LoadConfig reads the YAML file at path with environment overrides. A
// missing file falls back to environment variables and defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Sessions.MinScreenshotInterval <= 0 {
		return fmt.Errorf("sessions.min_screenshot_interval_ms must be positive")
	}
	if c.Sessions.DefaultScreenshotInterval < c.Sessions.MinScreenshotInterval {
		return fmt.Errorf("sessions.default_screenshot_interval_ms must be >= min_screenshot_interval_ms")
	}
	if c.Capture.Quality < 1 || c.Capture.Quality > 100 {
		return fmt.Errorf("capture.quality must be within 1..100")
	}
	if c.Capture.MaxWidth <= 0 || c.Capture.MaxHeight <= 0 {
		return fmt.Errorf("capture.max_width and capture.max_height must be positive")
	}
	return nil
}

func (s SessionsConfig) DefaultInterval() time.Duration {
	return time.Duration(s.DefaultScreenshotInterval) * time.Millisecond
}

func (s SessionsConfig) MinInterval() time.Duration {
	return time.Duration(s.MinScreenshotInterval) * time.Millisecond
}
