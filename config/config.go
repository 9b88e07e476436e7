package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zengyi-thinking/Agent-team-dashboard/domain/model"
	"gopkg.in/yaml.v3"
)

// Config holds the global dashboard configuration
type Config struct {
	// General configuration
	General struct {
		// InstanceID identifies this dashboard process in status responses
		InstanceID string `yaml:"instanceId"`

		// BaseDir is the agent tool's configuration directory (~/.claude)
		BaseDir string `yaml:"baseDir"`

		// LogLevel is the logging level
		LogLevel string `yaml:"logLevel"`
	} `yaml:"general"`

	// Watch configuration
	Watch struct {
		// TeamsDir holds one directory per team with a config file
		TeamsDir string `yaml:"teamsDir"`

		// TasksDir holds task files per team
		TasksDir string `yaml:"tasksDir"`

		// ConversationsDir holds conversation logs
		ConversationsDir string `yaml:"conversationsDir"`

		// TeamConfigFile is the file name that marks a roster change
		TeamConfigFile string `yaml:"teamConfigFile"`

		// TaskLockSuffix marks lock files that never produce notifications
		TaskLockSuffix string `yaml:"taskLockSuffix"`

		// SettleWindow is the write-settled delay per path
		SettleWindow time.Duration `yaml:"settleWindow"`

		// DebounceWindow coalesces bursts per category
		DebounceWindow time.Duration `yaml:"debounceWindow"`

		// IgnorePatterns are gitignore style patterns matched relative to each root
		IgnorePatterns []string `yaml:"ignorePatterns"`
	} `yaml:"watch"`

	// HTTP server configuration
	HTTP struct {
		// Address to bind the HTTP server
		Address string `yaml:"address"`

		// Port to bind the HTTP server
		Port int `yaml:"port"`

		// WSPath is the websocket endpoint, "/" is always served as well
		WSPath string `yaml:"wsPath"`

		// AllowedOrigins restricts websocket upgrades, "*" allows all
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"http"`

	// Broadcast channel configuration
	Broadcast struct {
		// HeartbeatInterval is the period of the liveness ping
		HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

		// WriteTimeout bounds a single websocket write
		WriteTimeout time.Duration `yaml:"writeTimeout"`

		// SendQueueSize is the per-session outbound buffer
		SendQueueSize int `yaml:"sendQueueSize"`
	} `yaml:"broadcast"`

	// Client (subscriber session) configuration
	Client struct {
		// URL of the broadcast endpoint
		URL string `yaml:"url"`

		// PingInterval is the client-side liveness ping period
		PingInterval time.Duration `yaml:"pingInterval"`

		// Reconnect is the backoff policy
		Reconnect model.BackoffPolicy `yaml:"reconnect"`
	} `yaml:"client"`

	// Security configuration
	Security struct {
		// TokenSecret enables the websocket handshake when not empty
		TokenSecret string `yaml:"tokenSecret"`

		// TokenTTL is the validity of minted handshake tokens
		TokenTTL time.Duration `yaml:"tokenTTL"`
	} `yaml:"security"`

	Logging struct {
		Level       string `yaml:"level"` // "ERROR", "WARN", "INFO", "DEBUG"
		ChannelSize int    `yaml:"channelSize"`
		Format      string `yaml:"format"` // "json" or "text"
		Output      string `yaml:"output"` // "stdout", "stderr" or "file"
		FilePath    string `yaml:"filePath"`
		MaxSizeMB   int    `yaml:"maxSizeMB"`
		MaxBackups  int    `yaml:"maxBackups"`
		MaxAgeDays  int    `yaml:"maxAgeDays"`
	} `yaml:"logging"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	c := &Config{}

	// General configuration
	c.General.InstanceID = ""
	c.General.BaseDir = "~/.claude"
	c.General.LogLevel = "info"

	// Watch configuration
	c.Watch.TeamsDir = "teams"
	c.Watch.TasksDir = "tasks"
	c.Watch.ConversationsDir = "conversations"
	c.Watch.TeamConfigFile = "config.json"
	c.Watch.TaskLockSuffix = ".lock"
	c.Watch.SettleWindow = 500 * time.Millisecond
	c.Watch.DebounceWindow = 300 * time.Millisecond
	c.Watch.IgnorePatterns = []string{"**/*.swp", "**/.DS_Store"}

	// HTTP server configuration
	c.HTTP.Address = "127.0.0.1"
	c.HTTP.Port = 3001
	c.HTTP.WSPath = "/ws"
	c.HTTP.AllowedOrigins = []string{"*"}

	// Broadcast configuration
	c.Broadcast.HeartbeatInterval = 30 * time.Second
	c.Broadcast.WriteTimeout = 5 * time.Second
	c.Broadcast.SendQueueSize = 16

	// Client configuration
	c.Client.URL = "ws://localhost:3001/ws"
	c.Client.PingInterval = 30 * time.Second
	c.Client.Reconnect = model.DefaultBackoffPolicy()

	// Security configuration
	c.Security.TokenSecret = ""
	c.Security.TokenTTL = 24 * time.Hour

	// Logging configuration defaults
	c.Logging.Level = "INFO"
	c.Logging.ChannelSize = 1000
	c.Logging.Format = "json"
	c.Logging.Output = "stdout"
	c.Logging.FilePath = ""
	c.Logging.MaxSizeMB = 10
	c.Logging.MaxBackups = 3
	c.Logging.MaxAgeDays = 7

	return c
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Load the default configuration
	config := DefaultConfig()

	// Decode the YAML file
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Resolve(); err != nil {
		return nil, err
	}

	// Validate the configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Resolve expands ~ in the base directory and anchors relative roots under it
func (c *Config) Resolve() error {
	baseDir, err := expandHome(c.General.BaseDir)
	if err != nil {
		return err
	}
	c.General.BaseDir = baseDir

	c.Watch.TeamsDir = c.resolveRoot(c.Watch.TeamsDir)
	c.Watch.TasksDir = c.resolveRoot(c.Watch.TasksDir)
	c.Watch.ConversationsDir = c.resolveRoot(c.Watch.ConversationsDir)

	if c.Logging.FilePath != "" {
		if c.Logging.FilePath, err = expandHome(c.Logging.FilePath); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) resolveRoot(dir string) string {
	expanded, err := expandHome(dir)
	if err != nil {
		expanded = dir
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded)
	}
	return filepath.Join(c.General.BaseDir, expanded)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ListenAddr returns the host:port the HTTP server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Address, c.HTTP.Port)
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	// Encode the configuration to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Create parent directory if necessary
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Check the log level
	logLevel := strings.ToLower(config.General.LogLevel)
	if logLevel != "debug" && logLevel != "info" && logLevel != "warn" && logLevel != "error" {
		return fmt.Errorf("invalid log level: %s", config.General.LogLevel)
	}

	// check port
	if config.HTTP.Port < 1 || config.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", config.HTTP.Port)
	}

	if !strings.HasPrefix(config.HTTP.WSPath, "/") {
		return fmt.Errorf("invalid websocket path: %q", config.HTTP.WSPath)
	}

	if config.Watch.TeamConfigFile == "" {
		return fmt.Errorf("team config file name must not be empty")
	}

	// check windows and intervals
	if config.Watch.SettleWindow < 0 || config.Watch.DebounceWindow < 0 {
		return fmt.Errorf("settle and debounce windows must not be negative")
	}

	if config.Broadcast.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid heartbeat interval: %s", config.Broadcast.HeartbeatInterval)
	}

	if config.Broadcast.SendQueueSize < 1 {
		return fmt.Errorf("invalid send queue size: %d", config.Broadcast.SendQueueSize)
	}

	// check the reconnect policy
	reconnect := config.Client.Reconnect
	if reconnect.Base <= 0 || reconnect.Cap < reconnect.Base {
		return fmt.Errorf("invalid reconnect backoff: base=%s cap=%s", reconnect.Base, reconnect.Cap)
	}
	if reconnect.MaxAttempts < 0 {
		return fmt.Errorf("invalid reconnect max attempts: %d", reconnect.MaxAttempts)
	}

	// check logging output
	switch strings.ToLower(config.Logging.Output) {
	case "stdout", "stderr":
	case "file":
		if config.Logging.FilePath == "" {
			return fmt.Errorf("file logging enabled but no file path specified")
		}
	default:
		return fmt.Errorf("invalid logging output: %s", config.Logging.Output)
	}

	return nil
}
