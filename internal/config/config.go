package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nlsql/nlsql/internal/errors"
	"github.com/nlsql/nlsql/internal/paths"
)

// Config represents the nlsql configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"` // SQLite settings
	Upload   UploadConfig   `yaml:"upload"`   // Data file ingestion
	LLM      LLMConfig      `yaml:"llm"`      // SQL generation
	History  HistoryConfig  `yaml:"history"`
	Images   ImagesConfig   `yaml:"images"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains SQLite database settings
type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	JournalMode string        `yaml:"journal_mode"` // WAL
}

// UploadConfig bounds data file uploads
type UploadConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"` // in bytes
	SampleRows  int   `yaml:"sample_rows"`   // rows echoed back after load
	BatchSize   int   `yaml:"batch_size"`    // rows per INSERT
}

// LLMConfig selects the chat model that writes SQL
type LLMConfig struct {
	Provider    string        `yaml:"provider"`    // openai (or any OpenAI-compatible endpoint)
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`    // empty for api.openai.com
	APIKeyEnv   string        `yaml:"api_key_env"` // name of the env var holding the key
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// HistoryConfig contains query history settings
type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	IndexPath string `yaml:"index_path"` // Bleve index; empty keeps it in memory
	Limit     int    `yaml:"limit"`      // default page size
}

// ImagesConfig contains image upload settings
type ImagesConfig struct {
	Directory           string  `yaml:"directory"`
	MaxFileSize         int64   `yaml:"max_file_size"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // 0..1, perceptual hash
	DefaultFolder       string  `yaml:"default_folder"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
	Output string `yaml:"output"` // stdout, stderr or a file
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:5173"},
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        paths.GetDatabasePath(),
			BusyTimeout: 5 * time.Second,
			JournalMode: "WAL",
		},
		Upload: UploadConfig{
			MaxFileSize: 50 << 20, // 50MB
			SampleRows:  5,
			BatchSize:   500,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Timeout:     60 * time.Second,
			Temperature: 0.1,
			MaxTokens:   500,
		},
		History: HistoryConfig{
			Enabled:   true,
			IndexPath: paths.GetHistoryIndexPath(),
			Limit:     50,
		},
		Images: ImagesConfig{
			Directory:           paths.GetImagesPath(),
			MaxFileSize:         10 << 20, // 10MB
			SimilarityThreshold: 0.95,
			DefaultFolder:       "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	const op errors.Op = "config.Load"

	// Start with defaults
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults if the file doesn't exist
		case err != nil:
			return nil, errors.E(op, errors.KindIO, err, "failed to read config file")
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, errors.E(op, errors.KindConfig, err, "failed to parse config file")
			}
		}
	}

	config.applyEnv()

	config.Database.Path = expandPath(config.Database.Path)
	config.History.IndexPath = expandPath(config.History.IndexPath)
	config.Images.Directory = expandPath(config.Images.Directory)
	if config.Logging.Output != "stdout" && config.Logging.Output != "stderr" {
		config.Logging.Output = expandPath(config.Logging.Output)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv lets environment variables override the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("NLSQL_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("NLSQL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NLSQL_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("NLSQL_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
}

// Validate checks values that would otherwise fail far from the config file.
func (c *Config) Validate() error {
	const op errors.Op = "config.Validate"
	invalid := func(format string, args ...any) error {
		return errors.E(op, errors.KindConfig, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return invalid("database.path is required")
	}
	if c.Upload.MaxFileSize <= 0 {
		return invalid("upload.max_file_size must be positive")
	}
	if c.Upload.BatchSize <= 0 {
		return invalid("upload.batch_size must be positive")
	}
	if c.LLM.Provider != "openai" {
		return invalid("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.Images.MaxFileSize <= 0 {
		return invalid("images.max_file_size must be positive")
	}
	if c.Images.SimilarityThreshold < 0 || c.Images.SimilarityThreshold > 1 {
		return invalid("images.similarity_threshold must be within [0, 1]")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return invalid("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}

// APIKey returns the LLM API key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// Addr returns host:port for the HTTP listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	const op errors.Op = "config.Save"

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.E(op, errors.KindIO, err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.E(op, errors.KindConfig, err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.E(op, errors.KindIO, err, "failed to write config file")
	}
	return nil
}

// GetConfigPath returns the default config file path
func GetConfigPath() string {
	// Check environment variable first
	if path := os.Getenv("NLSQL_CONFIG"); path != "" {
		return path
	}

	// Check current directory
	if _, err := os.Stat("nlsql.yaml"); err == nil {
		return "nlsql.yaml"
	}

	// Use default location
	return filepath.Join(paths.GetPaths().ConfigDir, "config.yaml")
}

// EnsureDirectories creates necessary directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Database.Path),
		c.Images.Directory,
	}
	if c.History.IndexPath != "" {
		dirs = append(dirs, filepath.Dir(c.History.IndexPath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.E(errors.Op("config.EnsureDirectories"), errors.KindIO, err, "failed to create directory "+dir)
		}
	}
	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}

	return path
}
