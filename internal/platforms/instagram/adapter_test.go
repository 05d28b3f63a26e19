package instagram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
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

type graphFake struct {
	readyAfter    int32
	containerCode string
	polls         atomic.Int32
	publishes     atomic.Int32
	createStatus  int
	createBody    string
	lastCaption   atomic.Value
}

func (g *graphFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = r.ParseForm()
	switch {
	case r.URL.Path == "/oauth/access_token":
		_, _ = io.WriteString(w, `{"access_token":"short-lived","user_id":17841400000000001,"permissions":"instagram_business_basic,instagram_business_content_publish"}`)
	case r.URL.Path == "/access_token":
		if r.Form.Get("grant_type") != "ig_exchange_token" || r.Form.Get("access_token") != "short-lived" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"bad exchange","code":100}}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"long-lived","token_type":"bearer","expires_in":5184000}`)
	case r.URL.Path == "/refresh_access_token":
		if r.Form.Get("access_token") == "expired" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"long-lived-2","token_type":"bearer","expires_in":5184000}`)
	case r.URL.Path == "/v21.0/me":
		_, _ = io.WriteString(w, `{"id":"17841400000000001","username":"reelcast"}`)
	case r.URL.Path == "/v21.0/me/media" && r.Method == http.MethodPost:
		g.lastCaption.Store(r.PostForm.Get("caption"))
		if g.createStatus != 0 {
			w.WriteHeader(g.createStatus)
			_, _ = io.WriteString(w, g.createBody)
			return
		}
		if r.PostForm.Get("media_type") != "REELS" || r.PostForm.Get("access_token") != "tok" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"bad container","code":100}}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"c1"}`)
	case r.URL.Path == "/v21.0/c1":
		n := g.polls.Add(1)
		code := "IN_PROGRESS"
		if n >= g.readyAfter {
			code = "FINISHED"
			if g.containerCode != "" {
				code = g.containerCode
			}
		}
		_, _ = io.WriteString(w, `{"status_code":"`+code+`","status":"`+code+`"}`)
	case r.URL.Path == "/v21.0/me/media_publish":
		g.publishes.Add(1)
		if r.PostForm.Get("creation_id") != "c1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"bad creation id","code":100}}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"m1"}`)
	case r.URL.Path == "/v21.0/m1":
		_, _ = io.WriteString(w, `{"id":"m1","permalink":"https://www.instagram.com/reel/abc/"}`)
	case r.URL.Path == "/v21.0/m1/insights":
		_, _ = io.WriteString(w, `{"data":[{"name":"views","values":[{"value":310}]},{"name":"likes","values":[{"value":12}]},{"name":"comments","total_value":{"value":4}},{"name":"shares","values":[{"value":1}]},{"name":"saved","values":[{"value":6}]}]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"Unsupported get request","code":100}}`)
	}
}

func newTestAdapter(t *testing.T, fake *graphFake) *Adapter {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(config.InstagramConfig{
		AppID:                 "app",
		AppSecret:             "secret",
		RedirectURL:           "https://app.test/callback/instagram",
		AuthURL:               "https://www.instagram.com/oauth/authorize",
		APIBaseURL:            srv.URL,
		GraphBaseURL:          srv.URL,
		GraphVersion:          "v21.0",
		ContainerPollInterval: time.Millisecond,
		ContainerPollAttempts: 5,
	}, WithHTTPClient(srv.Client()))
}

func reel() models.MediaItem {
	return models.MediaItem{ID: uuid.New(), MediaURL: "https://cdn.test/reel.mp4", Title: "t", Description: "desc"}
}

func TestUploadPollsContainerThenPublishes(t *testing.T) {
	fake := &graphFake{readyAfter: 3}
	adapter := newTestAdapter(t, fake)

	res, err := adapter.Upload(context.Background(), reel(), platforms.Metadata{Tags: []string{"reels"}}, platforms.Credential{AccessToken: "tok"})
	require.NoError(t, err)

	assert.Equal(t, enums.PublishStatusPublished, res.Status)
	assert.Equal(t, "m1", res.PlatformItemID)
	assert.Equal(t, "https://www.instagram.com/reel/abc/", res.PublishedURL)
	assert.EqualValues(t, 3, fake.polls.Load())
	assert.EqualValues(t, 1, fake.publishes.Load())
	assert.Equal(t, "desc\n\n#reels", fake.lastCaption.Load())
}

func TestUploadContainerNeverReady(t *testing.T) {
	fake := &graphFake{readyAfter: 100}
	adapter := newTestAdapter(t, fake)

	_, err := adapter.Upload(context.Background(), reel(), platforms.Metadata{}, platforms.Credential{AccessToken: "tok"})
	require.Error(t, err)
	assert.Equal(t, platforms.KindTransient, platforms.KindOf(err))
	assert.EqualValues(t, 5, fake.polls.Load())
	assert.EqualValues(t, 0, fake.publishes.Load())
}

func TestUploadContainerErrorIsPermanent(t *testing.T) {
	fake := &graphFake{readyAfter: 1, containerCode: "ERROR"}
	adapter := newTestAdapter(t, fake)

	_, err := adapter.Upload(context.Background(), reel(), platforms.Metadata{}, platforms.Credential{AccessToken: "tok"})
	require.Error(t, err)
	assert.Equal(t, platforms.KindPermanent, platforms.KindOf(err))
	assert.EqualValues(t, 1, fake.polls.Load())
	assert.EqualValues(t, 0, fake.publishes.Load())
}

func TestUploadClassifiesGraphErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   platforms.Kind
	}{
		{"expired token", http.StatusBadRequest, `{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`, platforms.KindAuth},
		{"app limit", http.StatusBadRequest, `{"error":{"message":"Application request limit reached","code":4}}`, platforms.KindRateLimited},
		{"transient", http.StatusBadRequest, `{"error":{"message":"try again","code":2,"is_transient":true}}`, platforms.KindTransient},
		{"invalid", http.StatusBadRequest, `{"error":{"message":"The video format is not supported","code":352}}`, platforms.KindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &graphFake{createStatus: tc.status, createBody: tc.body}
			adapter := newTestAdapter(t, fake)
			_, err := adapter.Upload(context.Background(), reel(), platforms.Metadata{}, platforms.Credential{AccessToken: "tok"})
			require.Error(t, err)
			assert.Equal(t, tc.kind, platforms.KindOf(err))
		})
	}
}

func TestGetStatusAndInsights(t *testing.T) {
	adapter := newTestAdapter(t, &graphFake{})
	cred := platforms.Credential{AccessToken: "tok"}

	st, err := adapter.GetStatus(context.Background(), "m1", cred)
	require.NoError(t, err)
	assert.Equal(t, platforms.ItemStatePublished, st.State)
	assert.Equal(t, "https://www.instagram.com/reel/abc/", st.PublishedURL)

	gone, err := adapter.GetStatus(context.Background(), "missing", cred)
	require.NoError(t, err)
	assert.Equal(t, platforms.ItemStateRemoved, gone.State)

	stats, err := adapter.GetAnalytics(context.Background(), "m1", cred)
	require.NoError(t, err)
	assert.EqualValues(t, 310, stats.Views)
	assert.EqualValues(t, 12, stats.Likes)
	assert.EqualValues(t, 4, stats.Comments)
	assert.EqualValues(t, 1, stats.Shares)
	assert.EqualValues(t, 6, stats.Extra["saved"])
}

func TestOAuthExchangeUpgradesToLongLivedToken(t *testing.T) {
	adapter := newTestAdapter(t, &graphFake{})

	authURL := adapter.AuthCodeURL("s1")
	assert.True(t, strings.HasPrefix(authURL, "https://www.instagram.com/oauth/authorize?"))
	assert.Contains(t, authURL, "client_id=app")

	tok, err := adapter.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "long-lived", tok.AccessToken)
	assert.Empty(t, tok.RefreshToken)
	assert.Equal(t, "17841400000000001", tok.AccountID)
	assert.Contains(t, tok.Scope, "instagram_business_content_publish")
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), tok.ExpiresAt, time.Minute)

	refreshed, err := adapter.Refresh(context.Background(), platforms.Credential{AccessToken: "long-lived", AccountID: "17841400000000001"})
	require.NoError(t, err)
	assert.Equal(t, "long-lived-2", refreshed.AccessToken)
	assert.Equal(t, "17841400000000001", refreshed.AccountID)

	_, err = adapter.Refresh(context.Background(), platforms.Credential{AccessToken: "expired"})
	assert.True(t, platforms.IsAuth(err))
}
