package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/perpetuallyhorni/trailercast/pkg/config"
)

const AppName = "trailercast"

// Quota backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config extends the core config with CLI-specific options.
type Config struct {
	config.Config   `koanf:",squash"`
	DatabasePath    string `koanf:"database_path"`
	QuotaBackend    string `koanf:"quota_backend"`
	RedisURL        string `koanf:"redis_url"`
	RedisPrefix     string `koanf:"redis_prefix"`
	ListenAddress   string `koanf:"listen_address"`
	Editor          string `koanf:"editor"`
	CheckForUpdates bool   `koanf:"check_for_updates"`
	AutoUpdate      bool   `koanf:"auto_update"`
}

// Default returns the default CLI configuration.
func Default() (*Config, error) {
	coreCfg := config.Default()
	dbPath, err := xdg.DataFile(filepath.Join(AppName, "trailercast.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to get default db path: %w", err)
	}

	return &Config{
		Config:          *coreCfg,
		DatabasePath:    dbPath,
		QuotaBackend:    BackendSQLite,
		RedisURL:        "redis://localhost:6379/0",
		RedisPrefix:     "trailercast:quota:",
		ListenAddress:   "127.0.0.1:8080",
		Editor:          "", // Default editor is determined in the 'edit' command logic
		CheckForUpdates: true,
	}, nil
}

// Validate reports settings the CLI cannot run with.
func (c *Config) Validate() error {
	switch c.QuotaBackend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required when quota_backend is %q", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown quota_backend %q (want %s, %s or %s)", c.QuotaBackend, BackendSQLite, BackendRedis, BackendMemory)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	defCfg, err := Default()
	if err != nil {
		return nil, err
	}
	cfgPath := path
	if cfgPath == "" {
		cfgPath, err = xdg.ConfigFile(filepath.Join(AppName, "config.yaml"))
		if err != nil {
			return nil, fmt.Errorf("failed to get default config path: %w", err)
		}
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		if err := createDefaultConfig(cfgPath, defCfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	cfg := defCfg
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.QuotaBackend = strings.ToLower(strings.TrimSpace(cfg.QuotaBackend))
	if cfg.QuotaBackend == "" {
		cfg.QuotaBackend = BackendSQLite
	}
	return cfg, nil
}

// createDefaultConfig creates a default configuration file.
func createDefaultConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	content := fmt.Sprintf(`# trailercast configuration file.
# Return mock ids without calling any platform API. Nothing is recorded in history.
test_mode: %t
# Directory holding <platform>_token.json OAuth token files (instagram, facebook, tiktok, x).
token_dir: "%s"
# Scratch space for videos downloaded before upload.
temp_dir: "%s"
# Path to the ffprobe executable. Used to validate videos against platform requirements.
ffprobe_path: "%s"
# Local IP address or interface name for outgoing requests. Empty uses the system default.
bind_address: ""
# Minimum spacing between API requests to the same platform.
request_interval: "%s"
# Timeout for a single API request, including uploads.
http_timeout: "%s"
# IANA time zone for TikTok's hourly window, e.g. "Europe/Berlin". Empty uses the local zone.
timezone: ""
# Targets published in parallel by 'publish'.
max_workers: %d

meta:
  graph_url: "%s"
  instagram_account_id: ""
  facebook_page_id: ""
tiktok:
  api_url: "%s"
  # SELF_ONLY, MUTUAL_FOLLOW_FRIENDS, FOLLOWER_OF_CREATOR or PUBLIC_TO_EVERYONE.
  privacy_level: "%s"
  poll_interval: "%s"
  poll_attempts: %d
x:
  api_url: "%s"
  upload_url: "%s"
  # free, basic, pro or enterprise. Selects both quota limits and video requirements.
  tier: "%s"
  poll_attempts: %d

# SQLite database holding publish history (and quotas with the sqlite backend).
database_path: "%s"
# Where quota counters live: "sqlite", "redis" (shared between hosts) or "memory".
quota_backend: "%s"
redis_url: "%s"
redis_prefix: "%s"
# Address for 'serve'.
listen_address: "%s"
# Editor to use for the 'edit' command. If empty, it will check $EDITOR, then common editors.
editor: "%s"
check_for_updates: %t
auto_update: %t
`, cfg.TestMode, cfg.TokenDir, cfg.TempDir, cfg.FfprobePath, cfg.RequestInterval, cfg.HTTPTimeout, cfg.MaxWorkers,
		cfg.Meta.GraphURL, cfg.TikTok.APIURL, cfg.TikTok.PrivacyLevel, cfg.TikTok.PollInterval, cfg.TikTok.PollAttempts,
		cfg.X.APIURL, cfg.X.UploadURL, cfg.X.Tier, cfg.X.PollAttempts,
		cfg.DatabasePath, cfg.QuotaBackend, cfg.RedisURL, cfg.RedisPrefix, cfg.ListenAddress, cfg.Editor, cfg.CheckForUpdates, cfg.AutoUpdate)
	content = strings.ReplaceAll(content, "\\", "/")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write default config file: %w", err)
	}
	return nil
}
