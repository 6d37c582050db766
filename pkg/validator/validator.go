// Package validator checks videos against each platform's technical requirements.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
)

// Report is the outcome of a validation. Valid is false whenever Errors is non-empty.
type Report struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Validator checks a video for a requirement table key.
type Validator interface {
	Validate(ctx context.Context, v trailercast.Video, target string) (Report, error)
}

// Func adapts a plain function to Validator.
type Func func(ctx context.Context, v trailercast.Video, target string) (Report, error)

// Validate calls f.
func (f Func) Validate(ctx context.Context, v trailercast.Video, target string) (Report, error) {
	return f(ctx, v, target)
}

// Metadata is what Evaluate needs to know about a video.
type Metadata struct {
	Duration   time.Duration
	Size       int64
	Width      int
	Height     int
	Bitrate    int64
	FrameRate  float64
	VideoCodec string
	AudioCodec string
}

// Evaluate compares meta with req.
func Evaluate(meta Metadata, req Requirements) Report {
	var r Report
	fail := func(format string, args ...any) { r.Errors = append(r.Errors, fmt.Sprintf(format, args...)) }

	if meta.VideoCodec == "" {
		fail("No video stream found")
	}
	if req.MinDuration > 0 && meta.Duration < req.MinDuration {
		fail("Video too short: %s (minimum %s for %s)", meta.Duration.Round(100*time.Millisecond), req.MinDuration, req.Name)
	}
	if req.MaxDuration > 0 && meta.Duration > req.MaxDuration {
		fail("Video too long: %s (maximum %s for %s)", meta.Duration.Round(time.Second), req.MaxDuration, req.Name)
	}
	if req.MaxSize > 0 && meta.Size > req.MaxSize {
		fail("File too large: %d MB (maximum %d MB)", meta.Size>>20, req.MaxSize>>20)
	}
	if meta.Width > 0 && meta.Height > 0 {
		if (req.MinWidth > 0 && meta.Width < req.MinWidth) || (req.MinHeight > 0 && meta.Height < req.MinHeight) {
			fail("Resolution too low: %dx%d", meta.Width, meta.Height)
		}
		if (req.MaxWidth > 0 && meta.Width > req.MaxWidth) || (req.MaxHeight > 0 && meta.Height > req.MaxHeight) {
			fail("Resolution too high: %dx%d", meta.Width, meta.Height)
		}
		aspect := float64(meta.Width) / float64(meta.Height)
		if (req.MinAspect > 0 && aspect < req.MinAspect-0.001) || (req.MaxAspect > 0 && aspect > req.MaxAspect+0.001) {
			fail("Aspect ratio %.2f outside allowed range %.2f-%.2f", aspect, req.MinAspect, req.MaxAspect)
		}
		if req.PreferredAspect > 0 && math.Abs(aspect-req.PreferredAspect) > 0.01 {
			r.Recommendations = append(r.Recommendations, fmt.Sprintf("Use an aspect ratio of %.2f for best results on %s", req.PreferredAspect, req.Name))
		}
	}
	if len(req.VideoCodecs) > 0 && meta.VideoCodec != "" && !slices.Contains(req.VideoCodecs, meta.VideoCodec) {
		fail("Unsupported video codec %s (supported: %s)", meta.VideoCodec, strings.Join(req.VideoCodecs, ", "))
	}
	if len(req.AudioCodecs) > 0 && meta.AudioCodec != "" && !slices.Contains(req.AudioCodecs, meta.AudioCodec) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("Audio codec %s may be re-encoded (preferred: %s)", meta.AudioCodec, strings.Join(req.AudioCodecs, ", ")))
	}
	if req.MaxBitrate > 0 && meta.Bitrate > req.MaxBitrate {
		r.Warnings = append(r.Warnings, fmt.Sprintf("Bitrate %d kbps exceeds recommended %d kbps", meta.Bitrate/1000, req.MaxBitrate/1000))
	}
	if req.MaxFrameRate > 0 && meta.FrameRate > req.MaxFrameRate {
		fail("Frame rate %.2f fps too high (maximum %.0f)", meta.FrameRate, req.MaxFrameRate)
	}
	r.Valid = len(r.Errors) == 0
	return r
}

// ProbeValidator inspects videos with ffprobe.
type ProbeValidator struct {
	FFprobePath string
	Loader      *trailercast.Loader
}

// NewProbeValidator creates a ProbeValidator. An empty ffprobePath uses ffprobe from PATH.
func NewProbeValidator(ffprobePath string, loader *trailercast.Loader) *ProbeValidator {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &ProbeValidator{FFprobePath: ffprobePath, Loader: loader}
}

// Validate probes v and evaluates it against target's table.
func (p *ProbeValidator) Validate(ctx context.Context, v trailercast.Video, target string) (Report, error) {
	req, err := Lookup(target)
	if err != nil {
		return Report{}, err
	}
	if req.RequireURL && v.URL == "" {
		return Report{Errors: []string{req.Name + " requires a publicly reachable video URL"}}, nil
	}

	path, cleanup, err := p.Loader.File(ctx, v)
	if err != nil {
		return Report{}, fmt.Errorf("failed to materialize video for probing: %w", err)
	}
	defer cleanup()

	// #nosec G204 -- ffprobe path comes from local config
	cmd := exec.CommandContext(ctx, p.FFprobePath, "-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	output, err := cmd.Output()
	if err != nil {
		return Report{}, fmt.Errorf("ffprobe failed for %s: %w", v.Describe(), err)
	}
	meta, err := ParseProbe(output)
	if err != nil {
		return Report{}, err
	}
	return Evaluate(meta, req), nil
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		BitRate      string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// ParseProbe reads ffprobe's JSON output.
func ParseProbe(data []byte) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	var m Metadata
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		m.Duration = time.Duration(secs * float64(time.Second))
	}
	m.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	m.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if m.VideoCodec != "" {
				continue
			}
			m.VideoCodec = s.CodecName
			m.Width, m.Height = s.Width, s.Height
			m.FrameRate = parseRate(s.AvgFrameRate)
		case "audio":
			if m.AudioCodec == "" {
				m.AudioCodec = s.CodecName
			}
		}
	}
	return m, nil
}

// parseRate parses ffprobe's "30000/1001" style rates.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
