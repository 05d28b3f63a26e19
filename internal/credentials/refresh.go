package credentials

import (
	"context"
	"fmt"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	pkgredis "github.com/angelmondragon/reelcast-backend/pkg/redis"
)

// refresh runs at most one refresh per (owner, platform) in this process. Callers
// that arrive while a flight is running share its result; callers that arrive
// after it finished see the rotated row on the re-read and skip the token call.
func (s *service) refresh(ctx context.Context, stale platforms.Credential, force bool) (platforms.Credential, error) {
	key := fmt.Sprintf("%s:%s", stale.OwnerID, stale.Platform)
	ch := s.flights.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return s.refreshOnce(flightCtx, stale, force)
	})
	select {
	case <-ctx.Done():
		return platforms.Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return platforms.Credential{}, res.Err
		}
		return res.Val.(platforms.Credential), nil
	}
}

func (s *service) refreshOnce(ctx context.Context, stale platforms.Credential, force bool) (platforms.Credential, error) {
	logCtx := s.withPlatform(ctx, stale.OwnerID, stale.Platform)

	if s.locks != nil {
		lock, err := pkgredis.NewLock(s.locks, s.locks.LockKey("credential-refresh", stale.OwnerID.String(), string(stale.Platform)), s.lockTTL)
		if err == nil {
			acquired, lockErr := lock.AcquireWithin(ctx, s.lockWait)
			switch {
			case lockErr != nil:
				s.logg.Warn(s.logg.WithField(logCtx, "error", lockErr.Error()), "credential refresh lock unavailable")
			case !acquired:
				s.logg.Warn(logCtx, "credential refresh lock wait elapsed")
			default:
				defer func() {
					if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
						s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "credential refresh lock release failed")
					}
				}()
			}
		}
	}

	row, err := s.repo.Find(ctx, stale.OwnerID, stale.Platform)
	if err != nil {
		return platforms.Credential{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload credential")
	}
	if row == nil {
		return platforms.Credential{}, pkgerrors.New(pkgerrors.CodeNotFound, "credential not found")
	}
	current, err := s.decode(row)
	if err != nil {
		return platforms.Credential{}, err
	}
	if current.AccessToken != stale.AccessToken {
		return current, nil
	}
	if !force && !s.needsRefresh(current.ExpiresAt) {
		return current, nil
	}

	adapter, err := s.adapter(current.Platform)
	if err != nil {
		return platforms.Credential{}, err
	}
	token, err := adapter.Refresh(ctx, current)
	if s.metrics != nil {
		s.metrics.IncRefresh(string(current.Platform), err == nil)
	}
	if err != nil {
		s.logg.Error(logCtx, "credential refresh failed", err)
		return platforms.Credential{}, err
	}
	return s.persistRefresh(ctx, row, current, token)
}

func (s *service) persistRefresh(ctx context.Context, row *models.PlatformCredential, current platforms.Credential, token platforms.Token) (platforms.Credential, error) {
	next := current
	next.AccessToken = token.AccessToken
	next.ExpiresAt = s.expiry(token.ExpiresAt)
	if token.RefreshToken != "" {
		next.RefreshToken = token.RefreshToken
	}
	if token.Scope != "" {
		next.Scope = token.Scope
	}

	sealedAccess, err := s.cipher.Seal(next.AccessToken)
	if err != nil {
		return platforms.Credential{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal access token")
	}
	sealedRefresh, err := s.cipher.Seal(next.RefreshToken)
	if err != nil {
		return platforms.Credential{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal refresh token")
	}
	err = s.repo.UpdateTokens(ctx, row.ID, TokenUpdate{
		AccessToken:  sealedAccess,
		RefreshToken: sealedRefresh,
		ExpiresAt:    next.ExpiresAt,
		Scope:        next.Scope,
	})
	if err != nil {
		return platforms.Credential{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refreshed credential")
	}
	s.logg.Info(s.withPlatform(ctx, current.OwnerID, current.Platform), "credential refreshed")
	return next, nil
}
