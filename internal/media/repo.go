package media

import (
	"context"
	"errors"

	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads media_items. Rows are written by the generation pipeline, never here.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a media repository bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByID returns nil, nil when no item exists.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	var m models.MediaItem
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
