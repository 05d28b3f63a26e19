// Package bootstrap opens the resources shared by the long-running binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/migrate"
	"github.com/angelmondragon/reelcast-backend/pkg/redis"
)

const readHeaderTimeout = 10 * time.Second

type Options struct {
	Service   string
	WithRedis bool
}

// Process is one running binary: its config, logger and open connections.
type Process struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []func() error
}

// Start loads .env and config, connects the database (running dev migrations when
// enabled) and, if asked, Redis. A missing .env file is not an error.
func Start(ctx context.Context, opts Options) (*Process, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = opts.Service

	p := &Process{Config: cfg, Logger: logger.ForApp(opts.Service, cfg.App)}
	ctx = p.Logger.WithField(ctx, "service_kind", opts.Service)

	if p.DB, err = db.New(ctx, cfg.DB, p.Logger); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	p.closers = append(p.closers, p.DB.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, p.Logger, p.DB); err != nil {
		return nil, multierr.Append(fmt.Errorf("dev migrations: %w", err), p.Close())
	}

	if opts.WithRedis {
		if p.Redis, err = redis.New(ctx, cfg.Redis, p.Logger); err != nil {
			return nil, multierr.Append(fmt.Errorf("connect redis: %w", err), p.Close())
		}
		p.closers = append(p.closers, p.Redis.Close)
	}
	return p, nil
}

// Close releases connections in reverse order of opening.
func (p *Process) Close() error {
	var err error
	for i := len(p.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, p.closers[i]())
	}
	p.closers = nil
	return err
}

// ServeSide runs handler on addr in the background, for metrics and liveness next
// to a worker loop. The returned func shuts the server down.
func ServeSide(ctx context.Context, logg *logger.Logger, addr string, handler http.Handler) func(context.Context) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "side server stopped unexpectedly", err)
		}
	}()
	return srv.Shutdown
}

// Fail reports a fatal startup or run error and exits non-zero.
func Fail(service string, err error) {
	logger.New(logger.Options{ServiceName: service}).Error(context.Background(), service+" exited", err)
	os.Exit(1)
}
