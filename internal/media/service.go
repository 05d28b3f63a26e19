// Package media is the read-only catalog of finished videos handed over by generation.
package media

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
)

type mediaRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
}

// Catalog resolves media items for their owner.
type Catalog interface {
	Get(ctx context.Context, ownerID, mediaItemID uuid.UUID) (*models.MediaItem, error)
}

type service struct {
	repo mediaRepository
}

func NewService(repo mediaRepository) (Catalog, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "media repository required")
	}
	return &service{repo: repo}, nil
}

// Get returns NOT_FOUND for missing items and for items owned by someone else, and
// VALIDATION_ERROR when the item has no fetchable media URL yet.
func (s *service) Get(ctx context.Context, ownerID, mediaItemID uuid.UUID) (*models.MediaItem, error) {
	if mediaItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "media item id required")
	}
	item, err := s.repo.FindByID(ctx, mediaItemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load media item")
	}
	if item == nil || (ownerID != uuid.Nil && item.OwnerID != ownerID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "media item not found")
	}
	if !fetchable(item.MediaURL) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "media item has no fetchable url").
			WithDetails(map[string]any{"media_item_id": item.ID})
	}
	return item, nil
}

func fetchable(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
