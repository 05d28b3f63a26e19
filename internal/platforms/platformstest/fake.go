// Package platformstest provides a function-field fake Adapter for service tests.
package platformstest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// Adapter records calls and delegates to the optional function fields.
// A nil UploadFn publishes with a deterministic item id.
type Adapter struct {
	Name        enums.Platform
	UploadFn    func(ctx context.Context, media models.MediaItem, meta platforms.Metadata, cred platforms.Credential) (platforms.UploadResult, error)
	StatusFn    func(ctx context.Context, itemID string, cred platforms.Credential) (platforms.ItemStatus, error)
	AnalyticsFn func(ctx context.Context, itemID string, cred platforms.Credential) (platforms.Analytics, error)
	ExchangeFn  func(ctx context.Context, code string) (platforms.Token, error)
	RefreshFn   func(ctx context.Context, cred platforms.Credential) (platforms.Token, error)

	uploads   atomic.Int32
	refreshes atomic.Int32

	mu         sync.Mutex
	uploadedAs []platforms.Credential
}

func New(platform enums.Platform) *Adapter {
	return &Adapter{Name: platform}
}

func (a *Adapter) Platform() enums.Platform { return a.Name }

func (a *Adapter) AuthCodeURL(state string) string {
	return "https://auth.test/" + string(a.Name) + "?state=" + state
}

func (a *Adapter) Exchange(ctx context.Context, code string) (platforms.Token, error) {
	if a.ExchangeFn != nil {
		return a.ExchangeFn(ctx, code)
	}
	return platforms.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (a *Adapter) Refresh(ctx context.Context, cred platforms.Credential) (platforms.Token, error) {
	a.refreshes.Add(1)
	if a.RefreshFn != nil {
		return a.RefreshFn(ctx, cred)
	}
	return platforms.Token{AccessToken: cred.AccessToken + "-refreshed", RefreshToken: cred.RefreshToken}, nil
}

func (a *Adapter) Upload(ctx context.Context, media models.MediaItem, meta platforms.Metadata, cred platforms.Credential) (platforms.UploadResult, error) {
	a.uploads.Add(1)
	a.mu.Lock()
	a.uploadedAs = append(a.uploadedAs, cred)
	a.mu.Unlock()
	if a.UploadFn != nil {
		return a.UploadFn(ctx, media, meta, cred)
	}
	id := string(a.Name) + "-" + media.ID.String()
	return platforms.UploadResult{
		Status:         enums.PublishStatusPublished,
		PlatformItemID: id,
		PublishedURL:   "https://" + string(a.Name) + ".test/" + id,
	}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, itemID string, cred platforms.Credential) (platforms.ItemStatus, error) {
	if a.StatusFn != nil {
		return a.StatusFn(ctx, itemID, cred)
	}
	return platforms.ItemStatus{PlatformItemID: itemID, State: platforms.ItemStatePublished}, nil
}

func (a *Adapter) GetAnalytics(ctx context.Context, itemID string, cred platforms.Credential) (platforms.Analytics, error) {
	if a.AnalyticsFn != nil {
		return a.AnalyticsFn(ctx, itemID, cred)
	}
	return platforms.Analytics{PlatformItemID: itemID}, nil
}

// Uploads is the number of Upload calls made.
func (a *Adapter) Uploads() int { return int(a.uploads.Load()) }

// Refreshes is the number of Refresh calls made.
func (a *Adapter) Refreshes() int { return int(a.refreshes.Load()) }

// UploadCredentials returns the credentials Upload was called with, in call order.
func (a *Adapter) UploadCredentials() []platforms.Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]platforms.Credential, len(a.uploadedAs))
	copy(out, a.uploadedAs)
	return out
}
