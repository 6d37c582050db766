package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/logging"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
	"github.com/perpetuallyhorni/trailercast/pkg/storage/memory"
	"github.com/perpetuallyhorni/trailercast/pkg/storage/redis"
	"github.com/perpetuallyhorni/trailercast/pkg/storage/sqlite"
	"github.com/perpetuallyhorni/trailercast/pkg/tokens"
	cliconfig "github.com/perpetuallyhorni/trailercast/tools/trailercast/internal/config"
	"github.com/spf13/cobra"
)

// applyFlagOverrides applies command-line flag overrides to the configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *cliconfig.Config) {
	if cmd.Flag("test-mode").Changed {
		cfg.TestMode, _ = cmd.Flags().GetBool("test-mode")
	}
	if cmd.Flag("workers").Changed {
		if val, _ := cmd.Flags().GetInt("workers"); val > 0 {
			cfg.MaxWorkers = val
		}
	}
	if cmd.Flag("tier").Changed {
		cfg.X.Tier, _ = cmd.Flags().GetString("tier")
	}
	if cmd.Flag("quota-backend").Changed {
		val, _ := cmd.Flags().GetString("quota-backend")
		cfg.QuotaBackend = strings.ToLower(strings.TrimSpace(val))
	}
	if cmd.Flag("redis-url").Changed {
		cfg.RedisURL, _ = cmd.Flags().GetString("redis-url")
	}
	if cmd.Flag("db").Changed {
		cfg.DatabasePath, _ = cmd.Flags().GetString("db")
	}
	if cmd.Flag("bind").Changed {
		cfg.BindAddress, _ = cmd.Flags().GetString("bind")
	}
}

// setupFileLogger opens the application log. Everything written to it passes through a
// redacting writer that masks access tokens.
func setupFileLogger(cfg *cliconfig.Config) (*log.Logger, error) {
	logPath, err := xdg.StateFile(filepath.Join(cliconfig.AppName, "app.log"))
	if err != nil {
		return nil, fmt.Errorf("could not get log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0750); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640) // #nosec G304 G302
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}

	writer := logging.NewRedactingWriter(f, cfg.TempDir, storedSecrets(cfg.TokenDir))
	return log.New(writer, "", log.LstdFlags), nil
}

// storedSecrets returns every access and refresh token found in the token directory.
func storedSecrets(dir string) []string {
	store := tokens.NewFileStore(dir)
	var secrets []string
	for _, p := range trailercast.AllPlatforms {
		tok, err := store.GetToken(context.Background(), p)
		if err != nil || tok == nil {
			continue
		}
		secrets = append(secrets, tok.AccessToken, tok.RefreshToken)
	}
	return secrets
}

// backends pairs the quota store with the history store. They are the same sqlite database
// unless quota counters live elsewhere.
type backends struct {
	quota   storage.QuotaStore
	history storage.HistoryStore
	closers []io.Closer
}

// Close closes every opened backend.
func (b *backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openBackends(ctx context.Context, cfg *cliconfig.Config) (*backends, error) {
	if cfg.QuotaBackend == cliconfig.BackendMemory {
		db := memory.New()
		return &backends{quota: db, history: db, closers: []io.Closer{db}}, nil
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	b := &backends{quota: db, history: db, closers: []io.Closer{db}}
	if cfg.QuotaBackend != cliconfig.BackendRedis {
		return b, nil
	}

	rdb, err := redis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		_ = b.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	qs := redis.NewQuotaStore(rdb, cfg.RedisPrefix)
	b.quota = qs
	b.closers = append(b.closers, qs)
	return b, nil
}

// videoFromArg turns a URL or local file path into a Video.
func videoFromArg(arg, sourceID string) (trailercast.Video, error) {
	arg = strings.TrimSpace(arg)
	if u, err := url.Parse(arg); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return trailercast.Video{URL: arg, SourceID: sourceID}, nil
	}
	info, err := os.Stat(arg)
	if err != nil {
		return trailercast.Video{}, fmt.Errorf("video %q is neither an http(s) URL nor a readable file: %w", arg, err)
	}
	if info.IsDir() {
		return trailercast.Video{}, fmt.Errorf("video %q is a directory", arg)
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return trailercast.Video{}, err
	}
	return trailercast.Video{Path: abs, SourceID: sourceID}, nil
}

// requirementKey maps a target name to its validator requirement table.
func requirementKey(target string, tier string) (string, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target != string(trailercast.TargetX) {
		return target, nil
	}
	t := ratelimiter.TierFree
	if tier != "" {
		var err error
		if t, err = ratelimiter.ParseTier(tier); err != nil {
			return "", err
		}
	}
	return "x_" + string(t), nil
}

// formatResult renders one publish result as a single console line.
func formatResult(r trailercast.PublishResult) string {
	switch {
	case r.Success:
		return fmt.Sprintf("%s: published %s (%s)", r.Target, r.RemoteID(), time.Duration(r.ProcessingTime)*time.Millisecond)
	case r.Skipped:
		return fmt.Sprintf("%s: skipped, %s", r.Target, r.Error)
	case r.RetryAfter > 0:
		return fmt.Sprintf("%s: %s (retry in %s)", r.Target, r.Error, ratelimiter.FormatRemaining(time.Duration(r.RetryAfter)*time.Second))
	default:
		return fmt.Sprintf("%s: %s", r.Target, r.Error)
	}
}
