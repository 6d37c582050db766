package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// MetaConfig configures the Meta Graph API adapter.
type MetaConfig struct {
	GraphURL           string `koanf:"graph_url"`            // Graph API base URL including version.
	InstagramAccountID string `koanf:"instagram_account_id"` // Instagram business account id.
	FacebookPageID     string `koanf:"facebook_page_id"`     // Facebook page id videos are posted to.
}

// TikTokConfig configures the TikTok Content Posting API adapter.
type TikTokConfig struct {
	APIURL       string        `koanf:"api_url"`       // Open API base URL.
	PrivacyLevel string        `koanf:"privacy_level"` // Default privacy level for posts.
	PollInterval time.Duration `koanf:"poll_interval"` // Wait between publish status checks.
	PollAttempts int           `koanf:"poll_attempts"` // Status checks before giving up.
}

// XConfig configures the X adapter.
type XConfig struct {
	APIURL       string `koanf:"api_url"`       // v2 API base URL.
	UploadURL    string `koanf:"upload_url"`    // Chunked media upload endpoint.
	Tier         string `koanf:"tier"`          // Account tier: free, basic, pro or enterprise.
	PollAttempts int    `koanf:"poll_attempts"` // STATUS checks before giving up.
}

// Config holds the core configuration shared by every caller.
type Config struct {
	TestMode        bool          `koanf:"test_mode"`        // Return mock results without any network calls.
	TokenDir        string        `koanf:"token_dir"`        // Directory holding <platform>_token.json files.
	TempDir         string        `koanf:"temp_dir"`         // Scratch space for downloaded videos.
	FfprobePath     string        `koanf:"ffprobe_path"`     // Path to the ffprobe executable.
	BindAddress     string        `koanf:"bind_address"`     // Local IP or interface for outgoing requests.
	RequestInterval time.Duration `koanf:"request_interval"` // Minimum spacing between API requests per platform.
	HTTPTimeout     time.Duration `koanf:"http_timeout"`     // Timeout for a single API request.
	Timezone        string        `koanf:"timezone"`         // IANA zone for TikTok's hourly window. Empty means local.
	MaxWorkers      int           `koanf:"max_workers"`      // Targets published in parallel.

	Meta   MetaConfig   `koanf:"meta"`
	TikTok TikTokConfig `koanf:"tiktok"`
	X      XConfig      `koanf:"x"`
}

// Default returns the default core configuration.
func Default() *Config {
	return &Config{
		TestMode:        false,
		TokenDir:        filepath.Join(xdg.DataHome, "trailercast", "tokens"),
		TempDir:         filepath.Join(xdg.CacheHome, "trailercast"),
		FfprobePath:     "ffprobe",
		RequestInterval: 500 * time.Millisecond,
		HTTPTimeout:     5 * time.Minute,
		MaxWorkers:      3,
		Meta: MetaConfig{
			GraphURL: "https://graph.facebook.com/v21.0",
		},
		TikTok: TikTokConfig{
			APIURL:       "https://open.tiktokapis.com/v2",
			PrivacyLevel: "SELF_ONLY",
			PollInterval: 10 * time.Second,
			PollAttempts: 30,
		},
		X: XConfig{
			APIURL:       "https://api.twitter.com/2",
			UploadURL:    "https://upload.twitter.com/1.1/media/upload.json",
			Tier:         "free",
			PollAttempts: 60,
		},
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
