package client

import (
	"fmt"
	"log"

	trailercast "github.com/perpetuallyhorni/trailercast/internal"
	"github.com/perpetuallyhorni/trailercast/pkg/clock"
	"github.com/perpetuallyhorni/trailercast/pkg/config"
	"github.com/perpetuallyhorni/trailercast/pkg/network"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher/meta"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher/tiktok"
	"github.com/perpetuallyhorni/trailercast/pkg/publisher/x"
	"github.com/perpetuallyhorni/trailercast/pkg/ratelimiter"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
	"github.com/perpetuallyhorni/trailercast/pkg/tokens"
	"github.com/perpetuallyhorni/trailercast/pkg/validator"
)

// BuildOptions overrides collaborators BuildAdapters would otherwise create from the config.
type BuildOptions struct {
	Tokens    tokens.Store
	Validator validator.Validator
	Clock     clock.Clock
	Debug     bool
}

// BuildAdapters creates the Meta, TikTok and X adapters from cfg, with their limiters on quota.
// The returned stop func releases the request pacers.
func BuildAdapters(cfg *config.Config, quota storage.QuotaStore, logger *log.Logger, opt BuildOptions) ([]publisher.Adapter, func(), error) {
	noop := func() {}
	httpClient, err := network.NewClient(network.Options{BindAddress: cfg.BindAddress, Timeout: cfg.HTTPTimeout})
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create http client: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, noop, err
	}
	tier := ratelimiter.TierFree
	if cfg.X.Tier != "" {
		if tier, err = ratelimiter.ParseTier(cfg.X.Tier); err != nil {
			return nil, noop, err
		}
	}

	clk := opt.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	loader := trailercast.NewLoader(httpClient, cfg.TempDir, logger)
	store := opt.Tokens
	if store == nil {
		store = tokens.NewFileStore(cfg.TokenDir)
	}
	v := opt.Validator
	if v == nil {
		v = validator.NewProbeValidator(cfg.FfprobePath, loader)
	}

	var pacers []*ratelimiter.Pacer
	stop := func() {
		for _, p := range pacers {
			p.Stop()
		}
	}
	deps := func() publisher.Deps {
		d := publisher.Deps{
			HTTPClient: httpClient,
			Tokens:     store,
			Validator:  v,
			Clock:      clk,
			Logger:     logger,
			Loader:     loader,
			TestMode:   cfg.TestMode,
			Debug:      opt.Debug,
		}
		// Each platform gets its own pacer so one busy API does not slow the others.
		if p := ratelimiter.NewPacer(cfg.RequestInterval); p != nil {
			pacers = append(pacers, p)
			d.Pacer = p
		}
		return d
	}

	metaAdapter, err := meta.New(meta.Config{
		GraphURL:           cfg.Meta.GraphURL,
		InstagramAccountID: cfg.Meta.InstagramAccountID,
		FacebookPageID:     cfg.Meta.FacebookPageID,
	}, ratelimiter.NewMetaLimiter(quota, clk), deps())
	if err != nil {
		stop()
		return nil, noop, err
	}
	tiktokAdapter, err := tiktok.New(tiktok.Config{
		APIURL:       cfg.TikTok.APIURL,
		PrivacyLevel: cfg.TikTok.PrivacyLevel,
		PollInterval: cfg.TikTok.PollInterval,
		PollAttempts: cfg.TikTok.PollAttempts,
	}, ratelimiter.NewTikTokLimiter(quota, clk, loc), deps())
	if err != nil {
		stop()
		return nil, noop, err
	}
	xAdapter, err := x.New(x.Config{
		APIURL:       cfg.X.APIURL,
		UploadURL:    cfg.X.UploadURL,
		Tier:         tier,
		PollAttempts: cfg.X.PollAttempts,
	}, ratelimiter.NewXLimiter(quota, clk), deps())
	if err != nil {
		stop()
		return nil, noop, err
	}
	return []publisher.Adapter{metaAdapter, tiktokAdapter, xAdapter}, stop, nil
}
