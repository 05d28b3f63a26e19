// Package tiktok publishes through the TikTok Content Posting API using PULL_FROM_URL sources.
package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

const (
	platform = enums.PlatformTikTok

	initPath   = "/v2/post/publish/video/init/"
	statusPath = "/v2/post/publish/status/fetch/"
	queryPath  = "/v2/video/query/"
	tokenPath  = "/v2/oauth/token/"

	videoURLBase  = "https://www.tiktok.com/video/"
	maxTitleRunes = 2200
)

var authCodes = map[string]struct{}{
	"access_token_invalid":    {},
	"token_expired":           {},
	"scope_not_authorized":    {},
	"scope_permission_missed": {},
}

var rateLimitCodes = map[string]struct{}{
	"rate_limit_exceeded":      {},
	"spam_risk_too_many_posts": {},
}

type Adapter struct {
	httpClient     *http.Client
	baseURL        string
	authURL        string
	clientKey      string
	clientSecret   string
	redirectURL    string
	defaultPrivacy string
}

type Option func(*Adapter)

func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

func New(cfg config.TikTokConfig, opts ...Option) *Adapter {
	a := &Adapter{
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		authURL:        cfg.AuthURL,
		clientKey:      cfg.ClientKey,
		clientSecret:   cfg.ClientSecret,
		redirectURL:    cfg.RedirectURL,
		defaultPrivacy: cfg.DefaultPrivacy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.defaultPrivacy == "" {
		a.defaultPrivacy = "SELF_ONLY"
	}
	return a
}

func (a *Adapter) Platform() enums.Platform { return platform }

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type initRequest struct {
	PostInfo   postInfo   `json:"post_info"`
	SourceInfo sourceInfo `json:"source_info"`
}

type postInfo struct {
	Title          string `json:"title"`
	PrivacyLevel   string `json:"privacy_level"`
	DisableComment bool   `json:"disable_comment"`
}

type sourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type initResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error apiError `json:"error"`
}

// Upload asks TikTok to pull the media from its URL. TikTok processes the post
// asynchronously, so the item id is the publish id and the URL is filled in by GetStatus.
func (a *Adapter) Upload(ctx context.Context, media models.MediaItem, meta platforms.Metadata, cred platforms.Credential) (platforms.UploadResult, error) {
	const op = "upload"
	title := meta.Caption
	if title == "" {
		title = meta.Title
	}
	if len(meta.Tags) > 0 {
		title = strings.TrimSpace(title + " " + hashtags(meta.Tags))
	}
	privacy := meta.Privacy
	if privacy == "" {
		privacy = a.defaultPrivacy
	}

	payload := initRequest{
		PostInfo:   postInfo{Title: truncateRunes(title, maxTitleRunes), PrivacyLevel: privacy},
		SourceInfo: sourceInfo{Source: "PULL_FROM_URL", VideoURL: media.MediaURL},
	}
	var resp initResponse
	if err := a.postJSON(ctx, op, initPath, cred, payload, &resp); err != nil {
		return platforms.UploadResult{}, err
	}
	if err := checkEnvelope(op, resp.Error); err != nil {
		return platforms.UploadResult{}, err
	}
	if resp.Data.PublishID == "" {
		return platforms.UploadResult{}, platforms.NewError(platform, platforms.KindPermanent, op, "init returned no publish_id")
	}
	return platforms.UploadResult{
		Status:         enums.PublishStatusPublished,
		PlatformItemID: resp.Data.PublishID,
	}, nil
}

type statusResponse struct {
	Data struct {
		Status     string   `json:"status"`
		FailReason string   `json:"fail_reason"`
		PostIDs    []string `json:"publicaly_available_post_id"`
	} `json:"data"`
	Error apiError `json:"error"`
}

func (a *Adapter) GetStatus(ctx context.Context, publishID string, cred platforms.Credential) (platforms.ItemStatus, error) {
	resp, err := a.fetchStatus(ctx, "status", publishID, cred)
	if err != nil {
		return platforms.ItemStatus{}, err
	}
	status := platforms.ItemStatus{PlatformItemID: publishID, Detail: resp.Data.Status}
	switch resp.Data.Status {
	case "PUBLISH_COMPLETE":
		status.State = platforms.ItemStatePublished
		if len(resp.Data.PostIDs) > 0 {
			status.PublishedURL = videoURLBase + resp.Data.PostIDs[0]
		}
	case "FAILED":
		status.State = platforms.ItemStateFailed
		status.Detail = resp.Data.FailReason
	default:
		status.State = platforms.ItemStateProcessing
	}
	return status, nil
}

func (a *Adapter) fetchStatus(ctx context.Context, op, publishID string, cred platforms.Credential) (statusResponse, error) {
	var resp statusResponse
	if err := a.postJSON(ctx, op, statusPath, cred, map[string]string{"publish_id": publishID}, &resp); err != nil {
		return resp, err
	}
	if err := checkEnvelope(op, resp.Error); err != nil {
		return resp, err
	}
	return resp, nil
}

type queryResponse struct {
	Data struct {
		Videos []struct {
			ID           string `json:"id"`
			ViewCount    int64  `json:"view_count"`
			LikeCount    int64  `json:"like_count"`
			CommentCount int64  `json:"comment_count"`
			ShareCount   int64  `json:"share_count"`
		} `json:"videos"`
	} `json:"data"`
	Error apiError `json:"error"`
}

// GetAnalytics resolves the public post id behind a publish id, then queries its counters.
func (a *Adapter) GetAnalytics(ctx context.Context, publishID string, cred platforms.Credential) (platforms.Analytics, error) {
	const op = "analytics"
	status, err := a.fetchStatus(ctx, op, publishID, cred)
	if err != nil {
		return platforms.Analytics{}, err
	}
	if len(status.Data.PostIDs) == 0 {
		return platforms.Analytics{}, platforms.NewError(platform, platforms.KindPermanent, op, "post is not publicly available yet")
	}
	postID := status.Data.PostIDs[0]

	var resp queryResponse
	body := map[string]any{"filters": map[string]any{"video_ids": []string{postID}}}
	if err := a.postJSON(ctx, op, queryPath+"?fields=id,view_count,like_count,comment_count,share_count", cred, body, &resp); err != nil {
		return platforms.Analytics{}, err
	}
	if err := checkEnvelope(op, resp.Error); err != nil {
		return platforms.Analytics{}, err
	}
	for _, v := range resp.Data.Videos {
		if v.ID == postID {
			return platforms.Analytics{
				PlatformItemID: publishID,
				Views:          v.ViewCount,
				Likes:          v.LikeCount,
				Comments:       v.CommentCount,
				Shares:         v.ShareCount,
				FetchedAt:      time.Now().UTC(),
			}, nil
		}
	}
	return platforms.Analytics{}, platforms.NewError(platform, platforms.KindPermanent, op, "video not found")
}

func (a *Adapter) postJSON(ctx context.Context, op, path string, cred platforms.Credential, payload, out any) error {
	if cred.AccessToken == "" {
		return platforms.NewError(platform, platforms.KindAuth, op, "access token is empty")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return platforms.WrapError(platform, platforms.KindPermanent, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return platforms.WrapError(platform, platforms.KindPermanent, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	return platforms.DoJSON(a.httpClient, platform, op, req, out, decodeError(op))
}

func decodeError(op string) platforms.ErrorDecoder {
	return func(status int, body []byte) error {
		var envelope struct {
			Error apiError `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == "" {
			return nil
		}
		perr := envelopeError(op, envelope.Error, platforms.KindForStatus(status))
		perr.StatusCode = status
		return perr
	}
}

func checkEnvelope(op string, e apiError) error {
	if e.Code == "" || e.Code == "ok" {
		return nil
	}
	return envelopeError(op, e, platforms.KindPermanent)
}

func envelopeError(op string, e apiError, fallback platforms.Kind) *platforms.Error {
	kind := fallback
	if _, ok := authCodes[e.Code]; ok {
		kind = platforms.KindAuth
	} else if _, ok := rateLimitCodes[e.Code]; ok {
		kind = platforms.KindRateLimited
	} else if e.Code == "internal_error" {
		kind = platforms.KindTransient
	}
	msg := e.Code
	if e.Message != "" {
		msg = e.Code + ": " + e.Message
	}
	return platforms.NewError(platform, kind, op, msg)
}

func hashtags(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimPrefix(tag, "#"))
		if tag != "" {
			parts = append(parts, "#"+tag)
		}
	}
	return strings.Join(parts, " ")
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
