// Package credentials owns the OAuth grant of every (owner, platform) pair: connect,
// lookup, proactive refresh and revocation. Tokens are sealed at rest.
package credentials

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/payloads"
	pkgredis "github.com/angelmondragon/reelcast-backend/pkg/redis"
)

const (
	defaultRefreshMargin  = 5 * time.Minute
	defaultRefreshTimeout = 30 * time.Second
	defaultLockTTL        = 30 * time.Second
	defaultLockWait       = 5 * time.Second
	// Grants without an advertised expiry are treated as hour-long tokens.
	defaultTokenLifetime = time.Hour
)

// Store is the credential surface used by the publishing pipeline and the API.
type Store interface {
	Get(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) (platforms.Credential, error)
	EnsureFresh(ctx context.Context, credential platforms.Credential) (platforms.Credential, error)
	ForceRefresh(ctx context.Context, credential platforms.Credential) (platforms.Credential, error)
	Revoke(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) error
	Connect(ctx context.Context, ownerID uuid.UUID, platform enums.Platform, authCode string) (Connection, error)
	AuthorizeURL(platform enums.Platform, state string) (string, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]Connection, error)
}

// Connection is a credential without token material.
type Connection struct {
	Platform    enums.Platform `json:"platform"`
	AccountID   string         `json:"account_id,omitempty"`
	Scope       string         `json:"scope,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ConnectedAt time.Time      `json:"connected_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TokenSealer encrypts token columns. *security.TokenCipher satisfies it.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// LockStore backs the cross-process refresh lock. *redis.Client satisfies it.
type LockStore interface {
	pkgredis.LockStore
	LockKey(parts ...string) string
}

type refreshRecorder interface {
	IncRefresh(platform string, ok bool)
}

// Params wires the store. Locks and Metrics are optional.
type Params struct {
	DB       *gorm.DB
	Repo     Repository
	Registry *platforms.Registry
	Cipher   TokenSealer
	Outbox   outboxEmitter
	Locks    LockStore
	Metrics  refreshRecorder
	Logger   *logger.Logger

	RefreshMargin  time.Duration
	RefreshTimeout time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration
	Now            func() time.Time
}

type service struct {
	db       *gorm.DB
	repo     Repository
	registry *platforms.Registry
	cipher   TokenSealer
	outbox   outboxEmitter
	locks    LockStore
	metrics  refreshRecorder
	logg     *logger.Logger

	margin         time.Duration
	refreshTimeout time.Duration
	lockTTL        time.Duration
	lockWait       time.Duration
	now            func() time.Time

	flights singleflight.Group
}

func NewService(p Params) (Store, error) {
	if p.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database required")
	}
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credential repository required")
	}
	if p.Registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "adapter registry required")
	}
	if p.Cipher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "token cipher required")
	}
	if p.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox service required")
	}
	if p.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	s := &service{
		db:             p.DB,
		repo:           p.Repo,
		registry:       p.Registry,
		cipher:         p.Cipher,
		outbox:         p.Outbox,
		locks:          p.Locks,
		metrics:        p.Metrics,
		logg:           p.Logger,
		margin:         p.RefreshMargin,
		refreshTimeout: p.RefreshTimeout,
		lockTTL:        p.LockTTL,
		lockWait:       p.LockWait,
		now:            p.Now,
	}
	if s.margin <= 0 {
		s.margin = defaultRefreshMargin
	}
	if s.refreshTimeout <= 0 {
		s.refreshTimeout = defaultRefreshTimeout
	}
	if s.lockTTL <= 0 {
		s.lockTTL = defaultLockTTL
	}
	if s.lockWait <= 0 {
		s.lockWait = defaultLockWait
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

func (s *service) Get(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) (platforms.Credential, error) {
	row, err := s.repo.Find(ctx, ownerID, platform)
	if err != nil {
		return platforms.Credential{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credential")
	}
	if row == nil {
		return platforms.Credential{}, pkgerrors.New(pkgerrors.CodeNotFound, "credential not found")
	}
	return s.decode(row)
}

// EnsureFresh returns credential untouched unless it expires within the margin.
func (s *service) EnsureFresh(ctx context.Context, credential platforms.Credential) (platforms.Credential, error) {
	if !s.needsRefresh(credential.ExpiresAt) {
		return credential, nil
	}
	return s.refresh(ctx, credential, false)
}

// ForceRefresh rotates the grant regardless of expiry. Used after a platform rejected the access token.
func (s *service) ForceRefresh(ctx context.Context, credential platforms.Credential) (platforms.Credential, error) {
	refreshed, err := s.refresh(ctx, credential, true)
	if err != nil {
		return platforms.Credential{}, err
	}
	if refreshed.AccessToken == credential.AccessToken {
		// Joined a non-forced flight that found the token still in date.
		return s.refresh(ctx, credential, true)
	}
	return refreshed, nil
}

func (s *service) Revoke(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) error {
	if ownerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "owner identity missing")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.repo.WithTx(tx).Delete(ctx, ownerID, platform)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete credential")
		}
		if !deleted {
			return pkgerrors.New(pkgerrors.CodeNotFound, "credential not found")
		}
		return s.outbox.Emit(ctx, tx, outbox.PlatformDisconnected(outbox.SourceAPI, payloads.PlatformDisconnectedEvent{
			OwnerID:  ownerID,
			Platform: platform,
		}))
	})
	if err != nil {
		return asDependency(err, "revoke credential")
	}
	s.logg.Info(s.withPlatform(ctx, ownerID, platform), "platform disconnected")
	return nil
}

func (s *service) Connect(ctx context.Context, ownerID uuid.UUID, platform enums.Platform, authCode string) (Connection, error) {
	if ownerID == uuid.Nil {
		return Connection{}, pkgerrors.New(pkgerrors.CodeValidation, "owner identity missing")
	}
	code := strings.TrimSpace(authCode)
	if code == "" {
		return Connection{}, pkgerrors.New(pkgerrors.CodeValidation, "authorization code required")
	}
	adapter, err := s.adapter(platform)
	if err != nil {
		return Connection{}, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()
	token, err := adapter.Exchange(exchangeCtx, code)
	if err != nil {
		if kind := platforms.KindOf(err); kind == platforms.KindAuth || kind == platforms.KindPermanent {
			return Connection{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "authorization code rejected")
		}
		return Connection{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "exchange authorization code")
	}

	row := &models.PlatformCredential{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Platform:  platform,
		ExpiresAt: s.expiry(token.ExpiresAt),
		Scope:     token.Scope,
	}
	if token.AccountID != "" {
		accountID := token.AccountID
		row.AccountID = &accountID
	}
	if row.AccessToken, err = s.cipher.Seal(token.AccessToken); err != nil {
		return Connection{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal access token")
	}
	if row.RefreshToken, err = s.cipher.Seal(token.RefreshToken); err != nil {
		return Connection{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal refresh token")
	}

	var stored *models.PlatformCredential
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Upsert(ctx, row); err != nil {
			return err
		}
		found, err := repo.Find(ctx, ownerID, platform)
		if err != nil {
			return err
		}
		if found == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "credential missing after upsert")
		}
		stored = found
		return s.outbox.Emit(ctx, tx, outbox.PlatformConnected(outbox.SourceAPI, payloads.PlatformConnectedEvent{
			CredentialID: found.ID,
			OwnerID:      ownerID,
			Platform:     platform,
			AccountID:    found.AccountID,
		}))
	})
	if err != nil {
		return Connection{}, asDependency(err, "store credential")
	}
	s.logg.Info(s.withPlatform(ctx, ownerID, platform), "platform connected")
	return toConnection(*stored), nil
}

func (s *service) AuthorizeURL(platform enums.Platform, state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "state required")
	}
	adapter, err := s.adapter(platform)
	if err != nil {
		return "", err
	}
	return adapter.AuthCodeURL(state), nil
}

func (s *service) List(ctx context.Context, ownerID uuid.UUID) ([]Connection, error) {
	rows, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credentials")
	}
	out := make([]Connection, 0, len(rows))
	for _, row := range rows {
		out = append(out, toConnection(row))
	}
	return out, nil
}

func (s *service) adapter(platform enums.Platform) (platforms.Adapter, error) {
	if !platform.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported platform").
			WithDetails(map[string]any{"platform": platform})
	}
	adapter, ok := s.registry.Get(platform)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "platform not enabled").
			WithDetails(map[string]any{"platform": platform})
	}
	return adapter, nil
}

func (s *service) needsRefresh(expiresAt time.Time) bool {
	return !expiresAt.After(s.now().Add(s.margin))
}

func (s *service) expiry(expiresAt time.Time) time.Time {
	if expiresAt.IsZero() {
		return s.now().Add(defaultTokenLifetime)
	}
	return expiresAt.UTC()
}

func (s *service) decode(row *models.PlatformCredential) (platforms.Credential, error) {
	access, err := s.cipher.Open(row.AccessToken)
	if err != nil {
		return platforms.Credential{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open access token")
	}
	refresh, err := s.cipher.Open(row.RefreshToken)
	if err != nil {
		return platforms.Credential{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open refresh token")
	}
	cred := platforms.Credential{
		OwnerID:      row.OwnerID,
		Platform:     row.Platform,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    row.ExpiresAt.UTC(),
		Scope:        row.Scope,
	}
	if row.AccountID != nil {
		cred.AccountID = *row.AccountID
	}
	return cred, nil
}

func (s *service) withPlatform(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) context.Context {
	ctx = s.logg.WithUserID(ctx, ownerID.String())
	return s.logg.WithPlatform(ctx, string(platform))
}

func toConnection(row models.PlatformCredential) Connection {
	conn := Connection{
		Platform:    row.Platform,
		Scope:       row.Scope,
		ExpiresAt:   row.ExpiresAt.UTC(),
		ConnectedAt: row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	if row.AccountID != nil {
		conn.AccountID = *row.AccountID
	}
	return conn
}

func asDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
