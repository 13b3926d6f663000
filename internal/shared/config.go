package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Whisparr WhisparrConfig `toml:"whisparr"`
	Stash    StashConfig    `toml:"stash"`
	Paths    PathsConfig    `toml:"paths"`
	HTTP     HTTPConfig     `toml:"http"`
	Commands CommandsConfig `toml:"commands"`
	Sync     SyncConfig     `toml:"sync"`
	Files    FilesConfig    `toml:"files"`
	Logging  LoggingConfig  `toml:"logging"`
	Limits   LimitsConfig   `toml:"limits"`
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// WhisparrConfig holds the target connection and the defaults used when a movie is created.
type WhisparrConfig struct {
	URL            string `toml:"url" validate:"required,url"`
	APIKey         string `toml:"api_key" validate:"required"`
	Monitored      bool   `toml:"monitored"`
	MoveFiles      bool   `toml:"move_files"`
	Rename         bool   `toml:"rename"`
	QualityProfile string `toml:"quality_profile"`
	RootFolder     string `toml:"root_folder"`
}

// StashConfig holds the catalog connection and scene filtering rules.
type StashConfig struct {
	URL            string   `toml:"url" validate:"required,url"`
	APIKey         string   `toml:"api_key"`
	EndpointSubstr string   `toml:"endpoint_substr" validate:"required"`
	IgnoreTags     []string `toml:"ignore_tags"`
}

// PathsConfig maps catalog-visible paths onto the target's view of the filesystem.
type PathsConfig struct {
	Mapping []PathMapping `toml:"mapping" validate:"dive"`
}

// PathMapping is a single prefix rewrite rule. Rules are tried in order.
type PathMapping struct {
	From string `toml:"from" validate:"required"`
	To   string `toml:"to" validate:"required"`
}

// HTTPConfig tunes the shared transport.
type HTTPConfig struct {
	Timeout    time.Duration `toml:"timeout" validate:"gt=0"`
	RetryMax   int           `toml:"retry_max" validate:"min=1,max=5"`
	RetryDelay time.Duration `toml:"retry_delay" validate:"gte=0"`
}

// CommandsConfig bounds how long remote commands are polled.
type CommandsConfig struct {
	PollInterval time.Duration `toml:"poll_interval" validate:"gt=0"`
	PollTimeout  time.Duration `toml:"poll_timeout" validate:"gtfield=PollInterval"`
}

// SyncConfig sizes the worker pools.
type SyncConfig struct {
	Workers       int     `toml:"workers" validate:"min=1,max=16"`
	BulkWorkers   int     `toml:"bulk_workers" validate:"min=1,max=16"`
	BulkRateLimit float64 `toml:"bulk_rate_limit" validate:"gte=0"`
	BulkPageSize  int     `toml:"bulk_page_size" validate:"min=1,max=1000"`
}

// FilesConfig controls post-move verification.
type FilesConfig struct {
	VerifyAttempts int           `toml:"verify_attempts" validate:"min=1,max=20"`
	VerifyDelay    time.Duration `toml:"verify_delay" validate:"gte=0"`
}

// LoggingConfig describes console and file log output.
type LoggingConfig struct {
	Level      string `toml:"level" validate:"omitempty,oneof=debug info warn warning error fatal critical DEBUG INFO WARN WARNING ERROR FATAL CRITICAL"`
	Console    bool   `toml:"console"`
	File       bool   `toml:"file"`
	Dir        string `toml:"dir" validate:"required_if=File true"`
	PerScene   bool   `toml:"per_scene"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `toml:"max_age_days" validate:"gte=0"`
}

// LimitsConfig caps the size of logged payloads and displayed paths.
type LimitsConfig struct {
	MaxLogBody    int `toml:"max_log_body" validate:"gte=0"`
	MaxPathLength int `toml:"max_path_length" validate:"gte=0"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"min=0,max=65535"`
}

// MetricsConfig controls where bulk runs dump their counters.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys absent from the file keep the embedded defaults, WHISPARR_* and STASH_*
// environment variables override the file, and the result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	config.Paths.Mapping = nil
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays credentials and connection settings from the environment.
// lookup is [os.LookupEnv] outside of tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"WHISPARR_URL":     &c.Whisparr.URL,
		"WHISPARR_API_KEY": &c.Whisparr.APIKey,
		"STASH_URL":        &c.Stash.URL,
		"STASH_API_KEY":    &c.Stash.APIKey,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("STASH_IGNORE_TAGS"); ok {
		tags, err := ParseTagList(v)
		if err != nil {
			return fmt.Errorf("%w: STASH_IGNORE_TAGS: %v", ErrInvalidConfig, err)
		}
		c.Stash.IgnoreTags = tags
	}
	return nil
}

// ParseTagList accepts either a JSON array of strings or a comma separated list.
func ParseTagList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if strings.HasPrefix(s, "[") {
		var tags []string
		if err := json.Unmarshal([]byte(s), &tags); err != nil {
			return nil, err
		}
		return tags, nil
	}

	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags, nil
}
