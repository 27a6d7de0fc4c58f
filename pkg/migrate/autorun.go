package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/formpay/pkg/config"
	"github.com/angelmondragon/formpay/pkg/db"
	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on startup in dev when
// FORMPAY_AUTO_MIGRATE is set. sqlite is migrated from the GORM models
// since the SQL targets Postgres.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	if client.IsSQLite() {
		logg.Info(ctx, "running GORM auto-migration (sqlite)")
		if err := AutoMigrateModels(client); err != nil {
			return fmt.Errorf("sqlite auto-migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	var applied strings.Builder
	if err := Run(ctx, sqlDB, "", "up", &applied); err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", strings.Count(applied.String(), "\n")), "goose migrations up to date")
	return nil
}

// AutoMigrateModels creates the schema straight from the GORM models.
func AutoMigrateModels(client *db.Client) error {
	return client.DB().AutoMigrate(
		&models.Webform{},
		&models.Submission{},
		&models.SettlementJob{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	)
}
