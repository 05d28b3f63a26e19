package migrate

import (
	"bytes"
	"context"
	"fmt"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot when running in dev with auto-migrate on.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "source", "embedded")
	logg.Info(ctx, "running dev auto-migrations")

	var out bytes.Buffer
	if err := Run(ctx, sqlDB, Migrations(), "up", &out); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(logg.WithField(ctx, "result", out.String()), "dev auto-migrations completed")
	return nil
}
