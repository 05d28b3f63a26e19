package history

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgpagination "github.com/angelmondragon/reelcast-backend/pkg/pagination"
)

// Repository exposes publish_records persistence. There is deliberately no update or delete.
type Repository interface {
	Insert(ctx context.Context, record *models.PublishRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PublishRecord, error)
	List(ctx context.Context, q listQuery) ([]models.PublishRecord, error)
	ListByEntry(ctx context.Context, entryID uuid.UUID) ([]models.PublishRecord, error)
	WithTx(tx *gorm.DB) Repository
}

type listQuery struct {
	videoID  uuid.UUID
	ownerID  uuid.UUID
	platform *enums.Platform
	status   *enums.PublishStatus
	filters  Filters
	cursor   *pkgpagination.Cursor
	limit    int
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

func (r *repositoryImpl) Insert(ctx context.Context, record *models.PublishRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.PublishRecord, error) {
	var row models.PublishRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// List orders by attempted_at DESC, id DESC so repeated reads return identical pages.
func (r *repositoryImpl) List(ctx context.Context, q listQuery) ([]models.PublishRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.PublishRecord{})

	if q.videoID != uuid.Nil {
		query = query.Where("video_id = ?", q.videoID)
	}
	if q.ownerID != uuid.Nil {
		query = query.Where("owner_id = ?", q.ownerID)
	}
	if q.platform != nil {
		query = query.Where("platform = ?", *q.platform)
	}
	if q.status != nil {
		query = query.Where("status = ?", *q.status)
	}
	if q.filters.Since != nil {
		query = query.Where("attempted_at >= ?", q.filters.Since.UTC())
	}
	if q.filters.Until != nil {
		query = query.Where("attempted_at < ?", q.filters.Until.UTC())
	}

	var rows []models.PublishRecord
	err := q.cursor.After(query, "attempted_at").
		Limit(q.limit).
		Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) ListByEntry(ctx context.Context, entryID uuid.UUID) ([]models.PublishRecord, error) {
	var rows []models.PublishRecord
	err := r.db.WithContext(ctx).
		Where("schedule_entry_id = ?", entryID).
		Order("attempted_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
