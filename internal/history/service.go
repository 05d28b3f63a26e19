// Package history is the append-only log of publish outcomes and its read side.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	pkgpagination "github.com/angelmondragon/reelcast-backend/pkg/pagination"
)

// Store appends and reads publish records.
type Store interface {
	Append(ctx context.Context, record models.PublishRecord) (Record, error)
	AppendTx(ctx context.Context, tx *gorm.DB, record models.PublishRecord) (Record, error)
	ListByVideo(ctx context.Context, videoID uuid.UUID, filters Filters) (*Page, error)
	ListByUser(ctx context.Context, ownerID uuid.UUID, filters Filters) (*Page, error)
	ListByEntry(ctx context.Context, entryID uuid.UUID) ([]Record, error)
	Get(ctx context.Context, ownerID, recordID uuid.UUID) (*Record, error)
}

// Filters narrow a history read. OwnerID, when set, scopes ListByVideo to one owner.
type Filters struct {
	OwnerID  uuid.UUID
	Platform string
	Status   string
	Since    *time.Time
	Until    *time.Time
	pkgpagination.Params
}

// Page is one cursor page, most recent first. Cursor is empty on the last page.
type Page struct {
	Items  []Record `json:"items"`
	Cursor string   `json:"cursor"`
}

// Record is the read view of a PublishRecord.
type Record struct {
	ID              uuid.UUID           `json:"id"`
	ScheduleEntryID uuid.UUID           `json:"schedule_entry_id"`
	VideoID         uuid.UUID           `json:"video_id"`
	OwnerID         uuid.UUID           `json:"owner_id"`
	Platform        enums.Platform      `json:"platform"`
	Status          enums.PublishStatus `json:"status"`
	PlatformItemID  *string             `json:"platform_item_id,omitempty"`
	PublishedURL    *string             `json:"published_url,omitempty"`
	ErrorMessage    *string             `json:"error_message,omitempty"`
	Attempts        int                 `json:"attempts"`
	AttemptedAt     time.Time           `json:"attempted_at"`
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (Store, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "history repository required")
	}
	return &service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *service) Append(ctx context.Context, record models.PublishRecord) (Record, error) {
	return s.AppendTx(ctx, nil, record)
}

// AppendTx writes inside tx when it is not nil.
func (s *service) AppendTx(ctx context.Context, tx *gorm.DB, record models.PublishRecord) (Record, error) {
	if err := validateRecord(record); err != nil {
		return Record{}, err
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.AttemptedAt.IsZero() {
		record.AttemptedAt = s.now()
	}
	record.AttemptedAt = record.AttemptedAt.UTC()

	repo := s.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	if err := repo.Insert(ctx, &record); err != nil {
		return Record{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append publish record")
	}
	return toRecord(record), nil
}

func (s *service) ListByVideo(ctx context.Context, videoID uuid.UUID, filters Filters) (*Page, error) {
	if videoID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "video id required")
	}
	q, err := buildQuery(filters)
	if err != nil {
		return nil, err
	}
	q.videoID = videoID
	q.ownerID = filters.OwnerID
	return s.list(ctx, q, filters.Limit)
}

func (s *service) ListByUser(ctx context.Context, ownerID uuid.UUID, filters Filters) (*Page, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	}
	q, err := buildQuery(filters)
	if err != nil {
		return nil, err
	}
	q.ownerID = ownerID
	return s.list(ctx, q, filters.Limit)
}

func (s *service) ListByEntry(ctx context.Context, entryID uuid.UUID) ([]Record, error) {
	rows, err := s.repo.ListByEntry(ctx, entryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list entry records")
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRecord(row))
	}
	return out, nil
}

// Get returns NOT_FOUND for records owned by someone else.
func (s *service) Get(ctx context.Context, ownerID, recordID uuid.UUID) (*Record, error) {
	row, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load publish record")
	}
	if row == nil || (ownerID != uuid.Nil && row.OwnerID != ownerID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "publish record not found")
	}
	rec := toRecord(*row)
	return &rec, nil
}

func (s *service) list(ctx context.Context, q listQuery, limit int) (*Page, error) {
	q.limit = pkgpagination.Probe(limit)

	rows, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list publish records")
	}

	rows, next := pkgpagination.Trim(rows, limit, func(row models.PublishRecord) pkgpagination.Cursor {
		return pkgpagination.Cursor{At: row.AttemptedAt, ID: row.ID}
	})

	items := make([]Record, 0, len(rows))
	for _, row := range rows {
		items = append(items, toRecord(row))
	}
	return &Page{Items: items, Cursor: next}, nil
}

func buildQuery(filters Filters) (listQuery, error) {
	q := listQuery{filters: filters}

	if raw := strings.TrimSpace(filters.Platform); raw != "" {
		platform, err := enums.ParsePlatform(raw)
		if err != nil {
			return q, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid platform filter")
		}
		q.platform = &platform
	}
	if raw := strings.TrimSpace(filters.Status); raw != "" {
		status, err := enums.ParsePublishStatus(strings.ToLower(raw))
		if err != nil {
			return q, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		q.status = &status
	}
	if filters.Since != nil && filters.Until != nil && !filters.Since.Before(*filters.Until) {
		return q, pkgerrors.New(pkgerrors.CodeValidation, "since must be before until")
	}

	cursor, err := pkgpagination.Decode(filters.Cursor)
	if err != nil {
		return q, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	q.cursor = cursor
	return q, nil
}

func validateRecord(record models.PublishRecord) error {
	switch {
	case record.ScheduleEntryID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "schedule entry id required")
	case record.VideoID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "video id required")
	case record.OwnerID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "owner id required")
	case !record.Platform.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid platform")
	case !record.Status.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid publish status")
	case record.Status == enums.PublishStatusPublished && (record.PlatformItemID == nil || *record.PlatformItemID == ""):
		return pkgerrors.New(pkgerrors.CodeValidation, "published record requires a platform item id")
	case record.Status == enums.PublishStatusFailed && (record.ErrorMessage == nil || *record.ErrorMessage == ""):
		return pkgerrors.New(pkgerrors.CodeValidation, "failed record requires an error message")
	}
	return nil
}

func toRecord(m models.PublishRecord) Record {
	return Record{
		ID:              m.ID,
		ScheduleEntryID: m.ScheduleEntryID,
		VideoID:         m.VideoID,
		OwnerID:         m.OwnerID,
		Platform:        m.Platform,
		Status:          m.Status,
		PlatformItemID:  m.PlatformItemID,
		PublishedURL:    m.PublishedURL,
		ErrorMessage:    m.ErrorMessage,
		Attempts:        m.Attempts,
		AttemptedAt:     m.AttemptedAt.UTC(),
	}
}
