package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdonaldj/sitedrop/internal/ports"
	"github.com/mcdonaldj/sitedrop/internal/retry"
	"github.com/mcdonaldj/sitedrop/internal/session"
	"github.com/mcdonaldj/sitedrop/internal/sitetree"
	"github.com/mcdonaldj/sitedrop/internal/upload"
)

// ErrNoHomeDir is returned when the user's home directory cannot be found.
var ErrNoHomeDir = errors.New("cannot determine home directory")

// Environment variables that override file settings.
const (
	EnvConfigPath = "SITEDROP_CONFIG"
	EnvToken      = "NETLIFY_PAT"
	EnvPort       = "PORT"
	EnvRedisURL   = "SITEDROP_REDIS_URL"
	EnvWorkDir    = "SITEDROP_WORK_DIR"
)

type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token,omitempty"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	SiteNamePrefix string        `yaml:"site_name_prefix"`
}

type LimitsConfig struct {
	MaxArchiveBytes      int64 `yaml:"max_archive_bytes"`
	MaxEntries           int   `yaml:"max_entries"`
	MaxUncompressedBytes int64 `yaml:"max_uncompressed_bytes"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

type UploadConfig struct {
	Workers           int           `yaml:"workers"`
	GlobalConcurrency int           `yaml:"global_concurrency"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	Retry             RetryConfig   `yaml:"retry"`
}

type FinalizeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
	WaitForReady bool          `yaml:"wait_for_ready"`
}

type AuthConfig struct {
	RequireAPIKey bool     `yaml:"require_api_key"`
	APIKeys       []string `yaml:"api_keys,omitempty"`
}

type SiteConfig struct {
	FlattenSingleDir    bool `yaml:"flatten_single_dir"`
	RequireRootDocument bool `yaml:"require_root_document"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// WorkDir holds per-deployment workspaces; empty means the OS temp dir.
	WorkDir string `yaml:"work_dir"`
	// StaleWorkspaceAfter is how long a workspace must sit untouched before
	// a starting server removes it.
	StaleWorkspaceAfter time.Duration `yaml:"stale_workspace_after"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	API        APIConfig      `yaml:"api"`
	Limits     LimitsConfig   `yaml:"limits"`
	Upload     UploadConfig   `yaml:"upload"`
	Finalize   FinalizeConfig `yaml:"finalize"`
	Auth       AuthConfig     `yaml:"auth"`
	Site       SiteConfig     `yaml:"site"`
	Server     ServerConfig   `yaml:"server"`
	RedisURL   string         `yaml:"redis_url,omitempty"`
	HistoryTTL time.Duration  `yaml:"history_ttl"`
	Log        LogConfig      `yaml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://api.netlify.com/api/v1",
			CallTimeout:    30 * time.Second,
			SiteNamePrefix: "site-",
		},
		Limits: LimitsConfig{
			MaxArchiveBytes:      50 << 20,
			MaxEntries:           25000,
			MaxUncompressedBytes: 512 << 20,
		},
		Upload: UploadConfig{
			Workers:           8,
			GlobalConcurrency: 32,
			CallTimeout:       60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:    4,
				InitialBackoff: 500 * time.Millisecond,
				MaxBackoff:     8 * time.Second,
				Multiplier:     2,
			},
		},
		Finalize: FinalizeConfig{
			PollInterval: 2 * time.Second,
			MaxPolls:     30,
			WaitForReady: true,
		},
		Server: ServerConfig{
			Listen:              ":8080",
			StaleWorkspaceAfter: 6 * time.Hour,
		},
		HistoryTTL: 7 * 24 * time.Hour,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigPath returns the config file location, honoring SITEDROP_CONFIG.
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return ExpandPath(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoHomeDir, err)
	}
	return filepath.Join(home, ".sitedrop", "config.yaml"), nil
}

// Load reads the config file, falling back to defaults when it does not
// exist, then applies environment overrides and validates the result.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// May hold the API token.
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overlays environment settings read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvToken); v != "" {
		c.API.Token = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		c.Server.Listen = ":" + v
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := getenv(EnvWorkDir); v != "" {
		c.Server.WorkDir = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Limits.MaxArchiveBytes <= 0 {
		errs = append(errs, errors.New("limits.max_archive_bytes must be positive"))
	}
	if c.Limits.MaxEntries <= 0 {
		errs = append(errs, errors.New("limits.max_entries must be positive"))
	}
	if c.Limits.MaxUncompressedBytes < 0 {
		errs = append(errs, errors.New("limits.max_uncompressed_bytes must not be negative"))
	}
	if c.Upload.Workers < 1 {
		errs = append(errs, errors.New("upload.workers must be at least 1"))
	}
	if c.Upload.GlobalConcurrency < 1 {
		errs = append(errs, errors.New("upload.global_concurrency must be at least 1"))
	}
	if c.Upload.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("upload.retry.max_attempts must be at least 1"))
	}
	if c.Upload.Retry.MaxBackoff < c.Upload.Retry.InitialBackoff {
		errs = append(errs, errors.New("upload.retry.max_backoff must not be below initial_backoff"))
	}
	if c.Finalize.MaxPolls < 1 {
		errs = append(errs, errors.New("finalize.max_polls must be at least 1"))
	}
	if c.Server.StaleWorkspaceAfter <= 0 {
		errs = append(errs, errors.New("server.stale_workspace_after must be positive"))
	}
	if c.Auth.RequireAPIKey && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, errors.New("auth.require_api_key needs at least one entry in auth.api_keys"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ArchiveLimits returns the archive validation limits.
func (c *Config) ArchiveLimits() ports.Limits {
	return ports.Limits{
		MaxArchiveBytes:      c.Limits.MaxArchiveBytes,
		MaxEntries:           c.Limits.MaxEntries,
		MaxUncompressedBytes: c.Limits.MaxUncompressedBytes,
	}
}

// RetryPolicy returns the upload retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    c.Upload.Retry.MaxAttempts,
		InitialBackoff: c.Upload.Retry.InitialBackoff,
		MaxBackoff:     c.Upload.Retry.MaxBackoff,
		Multiplier:     c.Upload.Retry.Multiplier,
	}
}

// UploadOptions returns the per-deployment scheduler settings.
func (c *Config) UploadOptions() upload.Options {
	return upload.Options{
		Workers:     c.Upload.Workers,
		CallTimeout: c.Upload.CallTimeout,
		Retry:       c.RetryPolicy(),
	}
}

// SessionOptions returns the session manager settings.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		CallTimeout:  c.API.CallTimeout,
		NamePrefix:   c.API.SiteNamePrefix,
		PollInterval: c.Finalize.PollInterval,
		MaxPolls:     c.Finalize.MaxPolls,
		WaitForReady: c.Finalize.WaitForReady,
	}
}

// SitePolicy returns the site tree policy.
func (c *Config) SitePolicy() sitetree.Policy {
	return sitetree.Policy{
		FlattenSingleDir:    c.Site.FlattenSingleDir,
		RequireRootDocument: c.Site.RequireRootDocument,
	}
}

// ExpandPath expands ~ to home directory
func ExpandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoHomeDir, err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
