// Package insights reads live processing status and engagement numbers for items a
// publish record says were published.
package insights

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/internal/history"
	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/retry"
)

const defaultStatusTimeout = 15 * time.Second

type Service interface {
	Status(ctx context.Context, ownerID, recordID uuid.UUID) (platforms.ItemStatus, error)
	Analytics(ctx context.Context, ownerID, recordID uuid.UUID) (platforms.Analytics, error)
}

type recordReader interface {
	Get(ctx context.Context, ownerID, recordID uuid.UUID) (*history.Record, error)
}

type credentialReader interface {
	Get(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) (platforms.Credential, error)
	EnsureFresh(ctx context.Context, credential platforms.Credential) (platforms.Credential, error)
}

type Params struct {
	History       recordReader
	Credentials   credentialReader
	Registry      *platforms.Registry
	Logger        *logger.Logger
	Retry         retry.Policy
	StatusTimeout time.Duration
}

type service struct {
	history  recordReader
	creds    credentialReader
	registry *platforms.Registry
	logg     *logger.Logger
	policy   retry.Policy
	timeout  time.Duration
}

func NewService(p Params) (Service, error) {
	switch {
	case p.History == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "history store required")
	case p.Credentials == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credential store required")
	case p.Registry == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "adapter registry required")
	case p.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	s := &service{
		history:  p.History,
		creds:    p.Credentials,
		registry: p.Registry,
		logg:     p.Logger,
		policy:   p.Retry,
		timeout:  p.StatusTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = defaultStatusTimeout
	}
	return s, nil
}

func (s *service) Status(ctx context.Context, ownerID, recordID uuid.UUID) (platforms.ItemStatus, error) {
	var out platforms.ItemStatus
	err := s.read(ctx, ownerID, recordID, "status", func(ctx context.Context, adapter platforms.Adapter, itemID string, cred platforms.Credential) error {
		res, err := adapter.GetStatus(ctx, itemID, cred)
		if err == nil {
			out = res
		}
		return err
	})
	return out, err
}

func (s *service) Analytics(ctx context.Context, ownerID, recordID uuid.UUID) (platforms.Analytics, error) {
	var out platforms.Analytics
	err := s.read(ctx, ownerID, recordID, "analytics", func(ctx context.Context, adapter platforms.Adapter, itemID string, cred platforms.Credential) error {
		res, err := adapter.GetAnalytics(ctx, itemID, cred)
		if err == nil {
			out = res
		}
		return err
	})
	return out, err
}

type readFunc func(ctx context.Context, adapter platforms.Adapter, itemID string, cred platforms.Credential) error

// read resolves the record and credential, then runs fn with bounded retry. Reads are
// side-effect free, so every transient failure may be retried.
func (s *service) read(ctx context.Context, ownerID, recordID uuid.UUID, op string, fn readFunc) error {
	record, err := s.history.Get(ctx, ownerID, recordID)
	if err != nil {
		return err
	}
	if record.Status != enums.PublishStatusPublished || record.PlatformItemID == nil || *record.PlatformItemID == "" {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "publish record has no published item")
	}
	adapter, ok := s.registry.Get(record.Platform)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, "platform not enabled").
			WithDetails(map[string]any{"platform": record.Platform})
	}

	logCtx := s.logg.WithPlatform(ctx, string(record.Platform))
	logCtx = s.logg.WithField(logCtx, "record_id", recordID.String())

	cred, err := s.creds.Get(ctx, ownerID, record.Platform)
	if err != nil {
		return err
	}
	cred, err = s.creds.EnsureFresh(ctx, cred)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credential refresh failed")
	}

	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	attempts, err := s.policy.Do(readCtx, platforms.IsRetryable, func(ctx context.Context, _ int) error {
		return fn(ctx, adapter, *record.PlatformItemID, cred)
	})
	if err != nil {
		s.logg.Error(s.logg.WithFields(logCtx, map[string]any{"op": op, "attempts": attempts}), "platform read failed", err)
		return toTyped(err)
	}
	return nil
}

func toTyped(err error) error {
	switch platforms.KindOf(err) {
	case platforms.KindAuth:
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "platform rejected credential")
	case platforms.KindRateLimited:
		return pkgerrors.Wrap(pkgerrors.CodeRateLimit, err, "platform rate limited")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "platform read failed")
	}
}
