// Package pipeline assembles the publishing stack shared by the api and scheduler binaries.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/internal/billing"
	"github.com/angelmondragon/reelcast-backend/internal/credentials"
	"github.com/angelmondragon/reelcast-backend/internal/history"
	"github.com/angelmondragon/reelcast-backend/internal/insights"
	"github.com/angelmondragon/reelcast-backend/internal/media"
	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/internal/platforms/instagram"
	"github.com/angelmondragon/reelcast-backend/internal/platforms/tiktok"
	"github.com/angelmondragon/reelcast-backend/internal/platforms/youtube"
	"github.com/angelmondragon/reelcast-backend/internal/publishing"
	"github.com/angelmondragon/reelcast-backend/internal/schedules"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/metrics"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/retry"
	"github.com/angelmondragon/reelcast-backend/pkg/security"
)

// jitterPercent spreads retries of concurrent targets hitting the same platform.
const jitterPercent = 20

type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *gorm.DB
	Locks    credentials.LockStore
	Registry *platforms.Registry
	Metrics  prometheus.Registerer
}

// Pipeline holds every publishing component, ready to be routed or scheduled.
type Pipeline struct {
	Registry     *platforms.Registry
	Credentials  credentials.Store
	History      history.Store
	Catalog      media.Catalog
	Schedules    schedules.Repository
	Outbox       *outbox.Service
	OutboxRepo   *outbox.Repository
	Executor     *publishing.Executor
	Publishing   publishing.Service
	Insights     insights.Service
	PublishStats *metrics.PublishMetrics
}

// Build wires the stack. A nil Registry is built from the configured platforms.
func Build(p Params) (*Pipeline, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil {
		return nil, fmt.Errorf("config, logger and db are required")
	}
	cfg := p.Config

	registry := p.Registry
	if registry == nil {
		var err error
		registry, err = NewRegistry(cfg)
		if err != nil {
			return nil, err
		}
	}

	cipher, err := security.NewTokenCipher(cfg.Crypto)
	if err != nil {
		return nil, fmt.Errorf("token cipher: %w", err)
	}

	stats := metrics.NewPublishMetrics(p.Metrics)
	outboxRepo := outbox.NewRepository(p.DB)
	events := outbox.NewService(outboxRepo, p.Logger)

	creds, err := credentials.NewService(credentials.Params{
		DB:             p.DB,
		Repo:           credentials.NewRepository(p.DB),
		Registry:       registry,
		Cipher:         cipher,
		Outbox:         events,
		Locks:          p.Locks,
		Metrics:        stats,
		Logger:         p.Logger,
		RefreshMargin:  cfg.Publishing.RefreshMargin,
		RefreshTimeout: cfg.Publishing.RefreshTimeout,
		LockTTL:        cfg.Publishing.RefreshLockTTL,
		LockWait:       cfg.Publishing.RefreshLockWait,
	})
	if err != nil {
		return nil, err
	}

	records, err := history.NewService(history.NewRepository(p.DB))
	if err != nil {
		return nil, err
	}
	catalog, err := media.NewService(media.NewRepository(p.DB))
	if err != nil {
		return nil, err
	}
	entries := schedules.NewRepository(p.DB)

	policy := retry.Policy{
		MaxAttempts:    cfg.Publishing.RetryMaxAttempts,
		InitialBackoff: cfg.Publishing.RetryInitialBackoff,
		MaxBackoff:     cfg.Publishing.RetryMaxBackoff,
		JitterPercent:  jitterPercent,
	}

	orchestrator, err := publishing.NewOrchestrator(publishing.OrchestratorParams{
		Registry:      registry,
		Credentials:   creds,
		History:       records,
		Metrics:       stats,
		Logger:        p.Logger,
		Retry:         policy,
		UploadTimeout: cfg.Publishing.UploadTimeout,
	})
	if err != nil {
		return nil, err
	}

	executor, err := publishing.NewExecutor(publishing.ExecutorParams{
		DB:           p.DB,
		Schedules:    entries,
		Catalog:      catalog,
		Orchestrator: orchestrator,
		Outbox:       events,
		Metrics:      stats,
		Logger:       p.Logger,
	})
	if err != nil {
		return nil, err
	}

	guard, err := billing.NewFromConfig(cfg.Billing, p.Logger)
	if err != nil {
		return nil, err
	}

	svc, err := publishing.NewService(publishing.ServiceParams{
		DB:        p.DB,
		Schedules: entries,
		Catalog:   catalog,
		Billing:   guard,
		Registry:  registry,
		History:   records,
		Executor:  executor,
		Outbox:    events,
		Logger:    p.Logger,
	})
	if err != nil {
		return nil, err
	}

	reader, err := insights.NewService(insights.Params{
		History:       records,
		Credentials:   creds,
		Registry:      registry,
		Logger:        p.Logger,
		Retry:         policy,
		StatusTimeout: cfg.Publishing.StatusTimeout,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Registry:     registry,
		Credentials:  creds,
		History:      records,
		Catalog:      catalog,
		Schedules:    entries,
		Outbox:       events,
		OutboxRepo:   outboxRepo,
		Executor:     executor,
		Publishing:   svc,
		Insights:     reader,
		PublishStats: stats,
	}, nil
}

// NewRegistry registers an adapter for every platform that has OAuth client settings.
func NewRegistry(cfg *config.Config) (*platforms.Registry, error) {
	var adapters []platforms.Adapter
	if strings.TrimSpace(cfg.YouTube.ClientID) != "" {
		adapters = append(adapters, youtube.New(cfg.YouTube))
	}
	if strings.TrimSpace(cfg.TikTok.ClientKey) != "" {
		adapters = append(adapters, tiktok.New(cfg.TikTok))
	}
	if strings.TrimSpace(cfg.Instagram.AppID) != "" {
		adapters = append(adapters, instagram.New(cfg.Instagram))
	}
	return platforms.NewRegistry(adapters...)
}

// LogEnabled records which platforms this process can publish to.
func (p *Pipeline) LogEnabled(ctx context.Context, logg *logger.Logger) {
	enabled := make([]string, 0, 3)
	for _, platform := range p.Registry.Platforms() {
		enabled = append(enabled, string(platform))
	}
	ctx = logg.WithField(ctx, "platforms", enabled)
	if len(enabled) == 0 {
		logg.Warn(ctx, "no publishing platforms configured")
		return
	}
	logg.Info(ctx, "publishing platforms enabled")
}
