package tiktok

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.TikTokConfig{
		ClientKey:      "ck",
		ClientSecret:   "cs",
		RedirectURL:    "https://app.test/callback/tiktok",
		BaseURL:        srv.URL,
		AuthURL:        "https://www.tiktok.com/v2/auth/authorize/",
		DefaultPrivacy: "SELF_ONLY",
	}, WithHTTPClient(srv.Client()))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestUploadInitsPullFromURL(t *testing.T) {
	var captured initRequest
	var auth string
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, initPath, r.URL.Path)
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&captured)
		writeJSON(w, http.StatusOK, `{"data":{"publish_id":"v_pub_url~v2.123"},"error":{"code":"ok","message":"","log_id":"l1"}}`)
	})

	media := models.MediaItem{ID: uuid.New(), MediaURL: "https://cdn.test/clip.mp4", Title: "Launch"}
	res, err := adapter.Upload(context.Background(), media, platforms.Metadata{Title: "Launch", Tags: []string{"go", "#shorts"}}, platforms.Credential{AccessToken: "act"})
	require.NoError(t, err)

	assert.Equal(t, enums.PublishStatusPublished, res.Status)
	assert.Equal(t, "v_pub_url~v2.123", res.PlatformItemID)
	assert.Equal(t, "Bearer act", auth)
	assert.Equal(t, "PULL_FROM_URL", captured.SourceInfo.Source)
	assert.Equal(t, "https://cdn.test/clip.mp4", captured.SourceInfo.VideoURL)
	assert.Equal(t, "SELF_ONLY", captured.PostInfo.PrivacyLevel)
	assert.Equal(t, "Launch #go #shorts", captured.PostInfo.Title)
}

func TestUploadClassifiesEnvelopeErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		kind   platforms.Kind
	}{
		{"expired", http.StatusUnauthorized, "access_token_invalid", platforms.KindAuth},
		{"rate limited", http.StatusTooManyRequests, "rate_limit_exceeded", platforms.KindRateLimited},
		{"spam", http.StatusForbidden, "spam_risk_too_many_posts", platforms.KindRateLimited},
		{"internal", http.StatusInternalServerError, "internal_error", platforms.KindTransient},
		{"invalid", http.StatusBadRequest, "invalid_params", platforms.KindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				writeJSON(w, tc.status, `{"data":{},"error":{"code":"`+tc.code+`","message":"nope","log_id":"l"}}`)
			})
			_, err := adapter.Upload(context.Background(), models.MediaItem{MediaURL: "https://cdn.test/x.mp4"}, platforms.Metadata{}, platforms.Credential{AccessToken: "a"})
			require.Error(t, err)
			assert.Equal(t, tc.kind, platforms.KindOf(err))
			assert.Contains(t, err.Error(), tc.code)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestGetStatusMapsPublishStates(t *testing.T) {
	state := "PROCESSING_DOWNLOAD"
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, statusPath, r.URL.Path)
		switch state {
		case "PUBLISH_COMPLETE":
			writeJSON(w, http.StatusOK, `{"data":{"status":"PUBLISH_COMPLETE","publicaly_available_post_id":["7301"]},"error":{"code":"ok"}}`)
		case "FAILED":
			writeJSON(w, http.StatusOK, `{"data":{"status":"FAILED","fail_reason":"file_format_check_failed"},"error":{"code":"ok"}}`)
		default:
			writeJSON(w, http.StatusOK, `{"data":{"status":"PROCESSING_DOWNLOAD"},"error":{"code":"ok"}}`)
		}
	})
	cred := platforms.Credential{AccessToken: "a"}

	st, err := adapter.GetStatus(context.Background(), "pub1", cred)
	require.NoError(t, err)
	assert.Equal(t, platforms.ItemStateProcessing, st.State)

	state = "PUBLISH_COMPLETE"
	st, err = adapter.GetStatus(context.Background(), "pub1", cred)
	require.NoError(t, err)
	assert.Equal(t, platforms.ItemStatePublished, st.State)
	assert.Equal(t, "https://www.tiktok.com/video/7301", st.PublishedURL)

	state = "FAILED"
	st, err = adapter.GetStatus(context.Background(), "pub1", cred)
	require.NoError(t, err)
	assert.Equal(t, platforms.ItemStateFailed, st.State)
	assert.Equal(t, "file_format_check_failed", st.Detail)
}

func TestGetAnalyticsResolvesPostID(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case statusPath:
			writeJSON(w, http.StatusOK, `{"data":{"status":"PUBLISH_COMPLETE","publicaly_available_post_id":["7301"]},"error":{"code":"ok"}}`)
		case queryPath:
			assert.Contains(t, r.URL.Query().Get("fields"), "view_count")
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"video_ids":["7301"]`)
			writeJSON(w, http.StatusOK, `{"data":{"videos":[{"id":"7301","view_count":900,"like_count":40,"comment_count":5,"share_count":2}]},"error":{"code":"ok"}}`)
		default:
			http.NotFound(w, r)
		}
	})

	stats, err := adapter.GetAnalytics(context.Background(), "pub1", platforms.Credential{AccessToken: "a"})
	require.NoError(t, err)
	assert.Equal(t, "pub1", stats.PlatformItemID)
	assert.EqualValues(t, 900, stats.Views)
	assert.EqualValues(t, 40, stats.Likes)
	assert.EqualValues(t, 5, stats.Comments)
	assert.EqualValues(t, 2, stats.Shares)
}

func TestOAuthFlow(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, tokenPath, r.URL.Path)
		_ = r.ParseForm()
		if r.PostForm.Get("client_key") != "ck" || r.PostForm.Get("client_secret") != "cs" {
			writeJSON(w, http.StatusUnauthorized, `{"error":"invalid_client"}`)
			return
		}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			writeJSON(w, http.StatusOK, `{"access_token":"act.1","expires_in":86400,"open_id":"open-1","refresh_token":"rft.1","refresh_expires_in":31536000,"scope":"user.info.basic,video.publish","token_type":"Bearer"}`)
		case "refresh_token":
			if r.PostForm.Get("refresh_token") == "dead" {
				writeJSON(w, http.StatusOK, `{"error":"invalid_grant","error_description":"Refresh token is invalid or expired."}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"access_token":"act.2","expires_in":86400,"refresh_token":"rft.2","scope":"video.publish","token_type":"Bearer"}`)
		}
	})

	authURL := adapter.AuthCodeURL("st")
	assert.True(t, strings.HasPrefix(authURL, "https://www.tiktok.com/v2/auth/authorize/?"))
	assert.Contains(t, authURL, "client_key=ck")
	assert.Contains(t, authURL, "state=st")

	tok, err := adapter.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "act.1", tok.AccessToken)
	assert.Equal(t, "rft.1", tok.RefreshToken)
	assert.Equal(t, "open-1", tok.AccountID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), tok.ExpiresAt, time.Minute)

	refreshed, err := adapter.Refresh(context.Background(), platforms.Credential{RefreshToken: "rft.1", AccountID: "open-1"})
	require.NoError(t, err)
	assert.Equal(t, "act.2", refreshed.AccessToken)
	assert.Equal(t, "rft.2", refreshed.RefreshToken)
	assert.Equal(t, "open-1", refreshed.AccountID)

	_, err = adapter.Refresh(context.Background(), platforms.Credential{RefreshToken: "dead"})
	assert.True(t, platforms.IsAuth(err))
}
