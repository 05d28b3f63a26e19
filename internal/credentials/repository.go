package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// TokenUpdate is the set of columns a refresh rewrites. Token values are already sealed.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// Repository persists platform_credentials rows.
type Repository interface {
	Find(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) (*models.PlatformCredential, error)
	Upsert(ctx context.Context, row *models.PlatformCredential) error
	UpdateTokens(ctx context.Context, id uuid.UUID, update TokenUpdate) error
	Delete(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) (bool, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PlatformCredential, error)
	WithTx(tx *gorm.DB) Repository
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// Find returns nil, nil when the owner has not connected the platform.
func (r *repositoryImpl) Find(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) (*models.PlatformCredential, error) {
	var row models.PlatformCredential
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ?", ownerID, platform).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert inserts row or replaces the grant of the existing (owner, platform) row.
// The stored id survives a reconnect, so callers should re-read after Upsert.
func (r *repositoryImpl) Upsert(ctx context.Context, row *models.PlatformCredential) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "owner_id"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_token",
				"refresh_token",
				"expires_at",
				"scope",
				"account_id",
				"updated_at",
			}),
		}).
		Create(row).Error
}

func (r *repositoryImpl) UpdateTokens(ctx context.Context, id uuid.UUID, update TokenUpdate) error {
	res := r.db.WithContext(ctx).
		Model(&models.PlatformCredential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_token":  update.AccessToken,
			"refresh_token": update.RefreshToken,
			"expires_at":    update.ExpiresAt.UTC(),
			"scope":         update.Scope,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete reports whether a row was removed.
func (r *repositoryImpl) Delete(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ?", ownerID, platform).
		Delete(&models.PlatformCredential{})
	return res.RowsAffected > 0, res.Error
}

func (r *repositoryImpl) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PlatformCredential, error) {
	var rows []models.PlatformCredential
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("platform ASC").
		Find(&rows).Error
	return rows, err
}
