// Package youtube publishes Shorts through the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

const (
	platform      = enums.PlatformYouTube
	shortsURLBase = "https://www.youtube.com/shorts/"
	maxTitleRunes = 100
)

var scopes = []string{youtube.YoutubeUploadScope, youtube.YoutubeReadonlyScope}

var rateLimitReasons = map[string]struct{}{
	"quotaExceeded":         {},
	"rateLimitExceeded":     {},
	"userRateLimitExceeded": {},
	"uploadLimitExceeded":   {},
}

type Adapter struct {
	oauth          *oauth2.Config
	httpClient     *http.Client
	endpoint       string
	defaultPrivacy string
	categoryID     string
}

// Option configures optional adapter behavior.
type Option func(*Adapter)

// WithHTTPClient overrides the client used for media fetches, token calls and API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// WithOAuthEndpoint overrides Google's OAuth endpoint.
func WithOAuthEndpoint(endpoint oauth2.Endpoint) Option {
	return func(a *Adapter) {
		a.oauth.Endpoint = endpoint
	}
}

func New(cfg config.YouTubeConfig, opts ...Option) *Adapter {
	a := &Adapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		httpClient:     &http.Client{},
		endpoint:       strings.TrimSpace(cfg.APIEndpoint),
		defaultPrivacy: cfg.DefaultPrivacy,
		categoryID:     cfg.CategoryID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.defaultPrivacy == "" {
		a.defaultPrivacy = "private"
	}
	return a
}

func (a *Adapter) Platform() enums.Platform { return platform }

func (a *Adapter) Upload(ctx context.Context, media models.MediaItem, meta platforms.Metadata, cred platforms.Credential) (platforms.UploadResult, error) {
	const op = "upload"
	svc, err := a.service(ctx, cred)
	if err != nil {
		return platforms.UploadResult{}, err
	}

	body, contentType, err := platforms.OpenMedia(ctx, a.httpClient, platform, media.MediaURL)
	if err != nil {
		return platforms.UploadResult{}, err
	}
	defer func() { _ = body.Close() }()

	description := meta.Description
	if meta.Caption != "" {
		description = meta.Caption
	}
	privacy := meta.Privacy
	if privacy == "" {
		privacy = a.defaultPrivacy
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       truncateRunes(meta.Title, maxTitleRunes),
			Description: description,
			Tags:        meta.Tags,
			CategoryId:  a.categoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	created, err := svc.Videos.
		Insert([]string{"snippet", "status"}, video).
		Media(body, googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return platforms.UploadResult{}, classify(op, err)
	}
	if created == nil || created.Id == "" {
		return platforms.UploadResult{}, platforms.NewError(platform, platforms.KindPermanent, op, "insert returned no video id")
	}

	return platforms.UploadResult{
		Status:         enums.PublishStatusPublished,
		PlatformItemID: created.Id,
		PublishedURL:   shortsURLBase + created.Id,
	}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, itemID string, cred platforms.Credential) (platforms.ItemStatus, error) {
	const op = "status"
	svc, err := a.service(ctx, cred)
	if err != nil {
		return platforms.ItemStatus{}, err
	}
	resp, err := svc.Videos.List([]string{"status", "processingDetails"}).Id(itemID).Context(ctx).Do()
	if err != nil {
		return platforms.ItemStatus{}, classify(op, err)
	}

	status := platforms.ItemStatus{PlatformItemID: itemID, State: platforms.ItemStateRemoved}
	if len(resp.Items) == 0 || resp.Items[0].Status == nil {
		return status, nil
	}
	vs := resp.Items[0].Status
	switch vs.UploadStatus {
	case "processed":
		status.State = platforms.ItemStatePublished
		status.PublishedURL = shortsURLBase + itemID
	case "uploaded":
		status.State = platforms.ItemStateProcessing
		if pd := resp.Items[0].ProcessingDetails; pd != nil {
			status.Detail = pd.ProcessingStatus
		}
	case "failed":
		status.State = platforms.ItemStateFailed
		status.Detail = vs.FailureReason
	case "rejected":
		status.State = platforms.ItemStateFailed
		status.Detail = vs.RejectionReason
	case "deleted":
		status.State = platforms.ItemStateRemoved
	default:
		status.State = platforms.ItemStateProcessing
		status.Detail = vs.UploadStatus
	}
	return status, nil
}

func (a *Adapter) GetAnalytics(ctx context.Context, itemID string, cred platforms.Credential) (platforms.Analytics, error) {
	const op = "analytics"
	svc, err := a.service(ctx, cred)
	if err != nil {
		return platforms.Analytics{}, err
	}
	resp, err := svc.Videos.List([]string{"statistics"}).Id(itemID).Context(ctx).Do()
	if err != nil {
		return platforms.Analytics{}, classify(op, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Statistics == nil {
		return platforms.Analytics{}, platforms.NewError(platform, platforms.KindPermanent, op, "video not found")
	}
	stats := resp.Items[0].Statistics
	return platforms.Analytics{
		PlatformItemID: itemID,
		Views:          int64(stats.ViewCount),
		Likes:          int64(stats.LikeCount),
		Comments:       int64(stats.CommentCount),
		Extra:          map[string]int64{"favorites": int64(stats.FavoriteCount)},
		FetchedAt:      time.Now().UTC(),
	}, nil
}

func (a *Adapter) service(ctx context.Context, cred platforms.Credential) (*youtube.Service, error) {
	if cred.AccessToken == "" {
		return nil, platforms.NewError(platform, platforms.KindAuth, "client", "access token is empty")
	}
	base := context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(base, ts))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, platforms.WrapError(platform, platforms.KindPermanent, "client", err)
	}
	return svc, nil
}

func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		kind := platforms.KindForStatus(gerr.Code)
		if gerr.Code == http.StatusForbidden {
			for _, item := range gerr.Errors {
				if _, ok := rateLimitReasons[item.Reason]; ok {
					kind = platforms.KindRateLimited
					break
				}
			}
		}
		perr := platforms.WrapError(platform, kind, op, err)
		perr.StatusCode = gerr.Code
		if gerr.Message != "" {
			perr.Message = gerr.Message
		}
		return perr
	}
	return platforms.TransportError(platform, op, err)
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
