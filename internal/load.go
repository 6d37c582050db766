package trailercast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/perpetuallyhorni/trailercast/internal/fs"
)

// DefaultReserveBytes is the free space required in the temp dir before a download starts.
const DefaultReserveBytes uint64 = 512 << 20

// Loader materializes a Video into bytes or a local file. Remote URLs are downloaded with grab
// into the temp directory.
type Loader struct {
	Client  *grab.Client
	TempDir string
	// ReserveBytes is the free space required before downloading. Zero uses DefaultReserveBytes.
	ReserveBytes uint64
	Logger       *log.Logger
}

// NewLoader creates a Loader that downloads through httpClient. A nil httpClient gets a
// five minute timeout client.
func NewLoader(httpClient *http.Client, tempDir string, logger *log.Logger) *Loader {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
			Timeout:   5 * time.Minute,
		}
	}
	client := grab.NewClient()
	client.HTTPClient = httpClient
	client.UserAgent = "trailercast"
	return &Loader{Client: client, TempDir: tempDir, Logger: logger}
}

func (l *Loader) tempDir() string {
	if l.TempDir != "" {
		return l.TempDir
	}
	return os.TempDir()
}

// Bytes returns the full content of v.
func (l *Loader) Bytes(ctx context.Context, v Video) ([]byte, error) {
	switch {
	case len(v.Data) > 0:
		return v.Data, nil
	case v.Path != "":
		data, err := os.ReadFile(v.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read video file: %w", err)
		}
		return data, nil
	case v.URL != "":
		path, cleanup, err := l.download(ctx, v.URL)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to read downloaded video: %w", err)
		}
		return data, nil
	}
	return nil, errors.New("video has no url, path or data")
}

// File returns a local path holding v. The cleanup func removes anything File created and is
// always safe to call.
func (l *Loader) File(ctx context.Context, v Video) (string, func(), error) {
	noop := func() {}
	switch {
	case v.Path != "":
		return v.Path, noop, nil
	case len(v.Data) > 0:
		if err := l.ensureSpace(uint64(len(v.Data))); err != nil {
			return "", noop, err
		}
		f, err := os.CreateTemp(l.tempDir(), "trailercast-*.mp4")
		if err != nil {
			return "", noop, fmt.Errorf("failed to create temp file: %w", err)
		}
		name := f.Name()
		cleanup := func() { _ = os.Remove(name) }
		if _, err := f.Write(v.Data); err != nil {
			_ = f.Close()
			cleanup()
			return "", noop, fmt.Errorf("failed to write temp file: %w", err)
		}
		if err := f.Close(); err != nil {
			cleanup()
			return "", noop, fmt.Errorf("failed to close temp file: %w", err)
		}
		return name, cleanup, nil
	case v.URL != "":
		return l.download(ctx, v.URL)
	}
	return "", noop, errors.New("video has no url, path or data")
}

func (l *Loader) download(ctx context.Context, url string) (string, func(), error) {
	noop := func() {}
	if err := l.ensureSpace(0); err != nil {
		return "", noop, err
	}
	dir, err := os.MkdirTemp(l.tempDir(), "trailercast-dl-")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create download directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	req, err := grab.NewRequest(filepath.Join(dir, "video.mp4"), url)
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to create download request: %w", err)
	}
	req = req.WithContext(ctx)

	start := time.Now()
	client := l.Client
	if client == nil {
		client = grab.DefaultClient
	}
	resp := client.Do(req)
	if err := resp.Err(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to download video from %s: %w", url, err)
	}
	if l.Logger != nil {
		l.Logger.Printf("downloaded %s (%d bytes) in %s", url, resp.BytesComplete(), time.Since(start).Round(time.Millisecond))
	}
	return resp.Filename, cleanup, nil
}

// ensureSpace checks the temp dir has room for need bytes plus the reserve. Platforms where
// free space cannot be read are not blocked.
func (l *Loader) ensureSpace(need uint64) error {
	reserve := l.ReserveBytes
	if reserve == 0 {
		reserve = DefaultReserveBytes
	}
	err := fs.EnsureSpace(l.tempDir(), need+reserve)
	if errors.Is(err, fs.ErrUnsupportedOS) {
		return nil
	}
	return err
}
