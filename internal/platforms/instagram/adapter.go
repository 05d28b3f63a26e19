// Package instagram publishes Reels through the Instagram Graph API container flow.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/retry"
)

const platform = enums.PlatformInstagram

var errContainerPending = errors.New("container still processing")

var rateLimitCodes = map[int]struct{}{4: {}, 17: {}, 32: {}, 613: {}}

type Adapter struct {
	oauth        *oauth2.Config
	httpClient   *http.Client
	graphBase    string
	apiBase      string
	appSecret    string
	pollInterval time.Duration
	pollAttempts int
}

type Option func(*Adapter)

func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.httpClient = client
		}
	}
}

func New(cfg config.InstagramConfig, opts ...Option) *Adapter {
	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	a := &Adapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"instagram_business_basic", "instagram_business_content_publish"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  apiBase + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		graphBase:    strings.TrimRight(cfg.GraphBaseURL, "/"),
		apiBase:      apiBase,
		appSecret:    cfg.AppSecret,
		pollInterval: cfg.ContainerPollInterval,
		pollAttempts: cfg.ContainerPollAttempts,
	}
	if v := strings.Trim(cfg.GraphVersion, "/"); v != "" {
		a.graphBase += "/" + v
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.pollAttempts < 1 {
		a.pollAttempts = 1
	}
	return a
}

func (a *Adapter) Platform() enums.Platform { return platform }

type idResponse struct {
	ID string `json:"id"`
}

// Upload creates a REELS container from the media URL, waits for Instagram to finish
// ingesting it, then publishes the container.
func (a *Adapter) Upload(ctx context.Context, media models.MediaItem, meta platforms.Metadata, cred platforms.Credential) (platforms.UploadResult, error) {
	if cred.AccessToken == "" {
		return platforms.UploadResult{}, platforms.NewError(platform, platforms.KindAuth, "upload", "access token is empty")
	}

	caption := meta.Caption
	if caption == "" {
		caption = meta.Description
	}
	if len(meta.Tags) > 0 {
		caption = strings.TrimSpace(caption + "\n\n" + hashtags(meta.Tags))
	}

	form := url.Values{}
	form.Set("media_type", "REELS")
	form.Set("video_url", media.MediaURL)
	form.Set("caption", caption)
	form.Set("share_to_feed", "true")

	var container idResponse
	if err := a.call(ctx, "create container", http.MethodPost, "/me/media", cred, form, &container); err != nil {
		return platforms.UploadResult{}, err
	}
	if container.ID == "" {
		return platforms.UploadResult{}, platforms.NewError(platform, platforms.KindPermanent, "create container", "no container id returned")
	}

	if err := a.waitForContainer(ctx, container.ID, cred); err != nil {
		return platforms.UploadResult{}, err
	}

	publishForm := url.Values{}
	publishForm.Set("creation_id", container.ID)
	var published idResponse
	if err := a.call(ctx, "publish", http.MethodPost, "/me/media_publish", cred, publishForm, &published); err != nil {
		return platforms.UploadResult{}, err
	}

	result := platforms.UploadResult{
		Status:         enums.PublishStatusPublished,
		PlatformItemID: published.ID,
	}
	var link struct {
		Permalink string `json:"permalink"`
	}
	if err := a.call(ctx, "permalink", http.MethodGet, "/"+url.PathEscape(published.ID), cred, url.Values{"fields": {"permalink"}}, &link); err == nil {
		result.PublishedURL = link.Permalink
	}
	return result, nil
}

type containerStatus struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

func (a *Adapter) waitForContainer(ctx context.Context, containerID string, cred platforms.Credential) error {
	const op = "container status"
	pending := func(err error) bool {
		return errors.Is(err, errContainerPending) || platforms.IsRetryable(err)
	}
	_, err := retry.Do(ctx, a.pollAttempts, retry.Constant(a.pollInterval), pending, func(ctx context.Context, _ int) error {
		var st containerStatus
		if err := a.call(ctx, op, http.MethodGet, "/"+url.PathEscape(containerID), cred, url.Values{"fields": {"status_code,status"}}, &st); err != nil {
			return err
		}
		switch st.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return platforms.NewError(platform, platforms.KindPermanent, op, "container "+strings.ToLower(st.StatusCode)+": "+st.Status)
		default:
			return errContainerPending
		}
	})
	if errors.Is(err, errContainerPending) {
		return platforms.NewError(platform, platforms.KindTransient, op, "container not ready before poll budget ran out")
	}
	return err
}

func (a *Adapter) GetStatus(ctx context.Context, mediaID string, cred platforms.Credential) (platforms.ItemStatus, error) {
	var media struct {
		ID        string `json:"id"`
		Permalink string `json:"permalink"`
	}
	err := a.call(ctx, "status", http.MethodGet, "/"+url.PathEscape(mediaID), cred, url.Values{"fields": {"id,permalink,media_product_type"}}, &media)
	if err != nil {
		var perr *platforms.Error
		if errors.As(err, &perr) && perr.StatusCode == http.StatusNotFound {
			return platforms.ItemStatus{PlatformItemID: mediaID, State: platforms.ItemStateRemoved}, nil
		}
		return platforms.ItemStatus{}, err
	}
	return platforms.ItemStatus{
		PlatformItemID: mediaID,
		State:          platforms.ItemStatePublished,
		PublishedURL:   media.Permalink,
	}, nil
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
		TotalValue *struct {
			Value int64 `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}

func (a *Adapter) GetAnalytics(ctx context.Context, mediaID string, cred platforms.Credential) (platforms.Analytics, error) {
	var resp insightsResponse
	q := url.Values{"metric": {"views,likes,comments,shares,saved,reach"}}
	if err := a.call(ctx, "analytics", http.MethodGet, "/"+url.PathEscape(mediaID)+"/insights", cred, q, &resp); err != nil {
		return platforms.Analytics{}, err
	}

	out := platforms.Analytics{PlatformItemID: mediaID, Extra: map[string]int64{}, FetchedAt: time.Now().UTC()}
	for _, metric := range resp.Data {
		var value int64
		switch {
		case metric.TotalValue != nil:
			value = metric.TotalValue.Value
		case len(metric.Values) > 0:
			value = metric.Values[0].Value
		}
		switch metric.Name {
		case "views", "plays":
			out.Views = value
		case "likes":
			out.Likes = value
		case "comments":
			out.Comments = value
		case "shares":
			out.Shares = value
		default:
			out.Extra[metric.Name] = value
		}
	}
	return out, nil
}

// call issues a Graph API request. Writes go as form bodies, reads as query strings.
func (a *Adapter) call(ctx context.Context, op, method, path string, cred platforms.Credential, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("access_token", cred.AccessToken)

	endpoint := a.graphBase + path
	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return platforms.WrapError(platform, platforms.KindPermanent, op, err)
	}
	return platforms.DoJSON(a.httpClient, platform, op, req, out, decodeGraphError(op))
}

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		IsTransient  bool   `json:"is_transient"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

func decodeGraphError(op string) platforms.ErrorDecoder {
	return func(status int, body []byte) error {
		var gerr graphError
		if err := json.Unmarshal(body, &gerr); err != nil || (gerr.Error.Code == 0 && gerr.Error.Message == "") {
			return nil
		}
		kind := platforms.KindForStatus(status)
		switch {
		case gerr.Error.Code == 190:
			kind = platforms.KindAuth
		case isRateLimitCode(gerr.Error.Code):
			kind = platforms.KindRateLimited
		case gerr.Error.IsTransient, gerr.Error.Code == 1, gerr.Error.Code == 2:
			kind = platforms.KindTransient
		}
		perr := platforms.NewError(platform, kind, op, gerr.Error.Message)
		perr.StatusCode = status
		return perr
	}
}

func isRateLimitCode(code int) bool {
	_, ok := rateLimitCodes[code]
	return ok
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
