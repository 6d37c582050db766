package validator

import (
	"fmt"
	"time"
)

// Requirements is the technical envelope a platform accepts.
type Requirements struct {
	Name        string
	MinDuration time.Duration
	MaxDuration time.Duration
	MaxSize     int64
	MinWidth    int
	MinHeight   int
	MaxWidth    int
	MaxHeight   int
	// MaxBitrate is in bits per second. Zero means unlimited.
	MaxBitrate   int64
	MaxFrameRate float64
	// MinAspect and MaxAspect bound width/height.
	MinAspect   float64
	MaxAspect   float64
	VideoCodecs []string
	AudioCodecs []string
	// PreferredAspect triggers a recommendation when the video differs from it.
	PreferredAspect float64
	// RequireURL is set for platforms that fetch the video themselves.
	RequireURL bool
}

const (
	mb = int64(1) << 20
	gb = int64(1) << 30
)

var (
	h264HEVC = []string{"h264", "hevc"}
	aac      = []string{"aac"}
)

var tables = map[string]Requirements{
	"instagram_feed": {
		Name:        "Instagram feed",
		MinDuration: 3 * time.Second, MaxDuration: 60 * time.Minute,
		MaxSize:   300 * mb,
		MinWidth:  320, MaxWidth: 1920,
		MaxBitrate: 25_000_000, MaxFrameRate: 60,
		MinAspect: 0.8, MaxAspect: 1.91,
		VideoCodecs: h264HEVC, AudioCodecs: aac,
		PreferredAspect: 1, RequireURL: true,
	},
	"instagram_reels": {
		Name:        "Instagram reels",
		MinDuration: 3 * time.Second, MaxDuration: 15 * time.Minute,
		MaxSize:   gb,
		MinWidth:  540, MaxWidth: 1920,
		MaxBitrate: 25_000_000, MaxFrameRate: 60,
		MinAspect: 0.01, MaxAspect: 10,
		VideoCodecs: h264HEVC, AudioCodecs: aac,
		PreferredAspect: 9.0 / 16.0, RequireURL: true,
	},
	"facebook": {
		Name:        "Facebook",
		MinDuration: time.Second, MaxDuration: 240 * time.Minute,
		MaxSize:   10 * gb,
		MinWidth:  120, MaxWidth: 4096,
		MinAspect: 9.0 / 16.0, MaxAspect: 16.0 / 9.0,
		VideoCodecs: []string{"h264", "hevc", "vp9"},
	},
	"threads": {
		Name:        "Threads",
		MaxDuration: 5 * time.Minute,
		MaxSize:     gb,
		MaxWidth:    1920, MaxFrameRate: 60,
		MinAspect: 0.01, MaxAspect: 10,
		VideoCodecs: h264HEVC, AudioCodecs: aac,
	},
	"tiktok": {
		Name:        "TikTok",
		MinDuration: 3 * time.Second, MaxDuration: 10 * time.Minute,
		MaxSize:   4 * gb,
		MinWidth:  360, MinHeight: 360, MaxWidth: 4096, MaxHeight: 4096,
		MaxFrameRate: 60,
		VideoCodecs:  []string{"h264", "hevc", "vp8", "vp9"},
		PreferredAspect: 9.0 / 16.0,
	},
	"x_free": xTable("X free", 140*time.Second, 512*mb),
	"x_basic": xTable("X basic", 140*time.Second, 512*mb),
	"x_pro": xTable("X pro", 10*time.Minute, 512*mb),
	"x_enterprise": xTable("X enterprise", 60*time.Minute, 2*gb),
}

func xTable(name string, maxDur time.Duration, maxSize int64) Requirements {
	return Requirements{
		Name:        name,
		MinDuration: 500 * time.Millisecond, MaxDuration: maxDur,
		MaxSize:   maxSize,
		MinWidth:  32, MinHeight: 32, MaxWidth: 1920, MaxHeight: 1200,
		MaxBitrate: 25_000_000, MaxFrameRate: 60,
		MinAspect: 1.0 / 3.0, MaxAspect: 3,
		VideoCodecs: []string{"h264"}, AudioCodecs: aac,
	}
}

// Lookup returns the requirements for a target key such as "instagram_reels" or "x_pro".
// A bare "x" means the free tier.
func Lookup(target string) (Requirements, error) {
	if target == "x" {
		target = "x_free"
	}
	r, ok := tables[target]
	if !ok {
		return Requirements{}, fmt.Errorf("no video requirements for %q", target)
	}
	return r, nil
}
