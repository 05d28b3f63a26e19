package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/reelcast-backend/api/controllers"
	"github.com/angelmondragon/reelcast-backend/api/middleware"
	"github.com/angelmondragon/reelcast-backend/internal/credentials"
	"github.com/angelmondragon/reelcast-backend/internal/history"
	"github.com/angelmondragon/reelcast-backend/internal/insights"
	"github.com/angelmondragon/reelcast-backend/internal/publishing"
	"github.com/angelmondragon/reelcast-backend/pkg/auth"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/metrics"
	"github.com/angelmondragon/reelcast-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	publishingService publishing.Service,
	credentialStore credentials.Store,
	historyStore history.Store,
	insightsService insights.Service,
	metricsHandler http.Handler,
	httpMetrics *metrics.HTTPMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Observe(logg, httpMetrics),
		middleware.Recoverer(logg),
	)

	// A nil *redis.Client must reach the middleware as a nil interface.
	var (
		replays          middleware.ReplayStore
		oauthStates      controllers.OAuthStateStore
		redisPinger      controllers.Pinger
	)
	if redisClient != nil {
		replays = redisClient
		oauthStates = redisClient
		redisPinger = redisClient
	}

	publishPolicy := middleware.NewRateLimitPolicy("publish", cfg.RateLimit.PublishWindow, cfg.RateLimit.PublishLimit)
	publishLimit := middleware.OwnerRateLimit(publishPolicy, limiterFor(redisClient), logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisPinger,
		}))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(auth.NewTokens(cfg.JWT), logg))
		r.Use(middleware.Idempotency(replays, logg))

		r.With(publishLimit).Post("/publish", controllers.PublishNow(publishingService, logg))

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", controllers.SchedulePublish(publishingService, logg))
			r.Get("/", controllers.ListSchedules(publishingService, logg))
			r.Route("/{entryId}", func(r chi.Router) {
				r.Get("/", controllers.GetSchedule(publishingService, logg))
				r.Post("/cancel", controllers.CancelSchedule(publishingService, logg))
				r.Post("/reschedule", controllers.Reschedule(publishingService, logg))
				r.With(publishLimit).Post("/republish", controllers.Republish(publishingService, logg))
			})
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", controllers.ListHistory(historyStore, logg))
			r.Get("/videos/{videoId}", controllers.VideoHistory(historyStore, logg))
			r.Get("/records/{recordId}/status", controllers.RecordStatus(insightsService, logg))
			r.Get("/records/{recordId}/analytics", controllers.RecordAnalytics(insightsService, logg))
		})

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", controllers.ListConnections(credentialStore, logg))
			r.Get("/{platform}/authorize", controllers.AuthorizeConnection(credentialStore, oauthStates, logg))
			r.Post("/{platform}", controllers.ConnectPlatform(credentialStore, oauthStates, logg))
			r.Delete("/{platform}", controllers.DisconnectPlatform(credentialStore, logg))
		})
	})

	return r
}
