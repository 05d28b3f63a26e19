package tiktok

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
)

const oauthScopes = "user.info.basic,video.publish"

// TikTok names the client id client_key, so the token calls are built by hand.
func (a *Adapter) AuthCodeURL(state string) string {
	q := url.Values{}
	q.Set("client_key", a.clientKey)
	q.Set("scope", oauthScopes)
	q.Set("response_type", "code")
	q.Set("redirect_uri", a.redirectURL)
	q.Set("state", state)
	sep := "?"
	if strings.Contains(a.authURL, "?") {
		sep = "&"
	}
	return a.authURL + sep + q.Encode()
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	OpenID           string `json:"open_id"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (a *Adapter) Exchange(ctx context.Context, code string) (platforms.Token, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", a.redirectURL)
	return a.tokenCall(ctx, "exchange", form)
}

func (a *Adapter) Refresh(ctx context.Context, cred platforms.Credential) (platforms.Token, error) {
	if cred.RefreshToken == "" {
		return platforms.Token{}, platforms.NewError(platform, platforms.KindAuth, "refresh", "no refresh token stored")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	tok, err := a.tokenCall(ctx, "refresh", form)
	if err != nil {
		return platforms.Token{}, err
	}
	if tok.AccountID == "" {
		tok.AccountID = cred.AccountID
	}
	return tok, nil
}

func (a *Adapter) tokenCall(ctx context.Context, op string, form url.Values) (platforms.Token, error) {
	form.Set("client_key", a.clientKey)
	form.Set("client_secret", a.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return platforms.Token{}, platforms.WrapError(platform, platforms.KindPermanent, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp tokenResponse
	err = platforms.DoJSON(a.httpClient, platform, op, req, &resp, func(status int, body []byte) error {
		var failed tokenResponse
		if json.Unmarshal(body, &failed) != nil || failed.Error == "" {
			return nil
		}
		perr := oauthError(op, failed, platforms.KindForStatus(status))
		perr.StatusCode = status
		return perr
	})
	if err != nil {
		return platforms.Token{}, err
	}
	// TikTok reports OAuth failures with a 200 and an error field.
	if resp.Error != "" {
		return platforms.Token{}, oauthError(op, resp, platforms.KindPermanent)
	}
	if resp.AccessToken == "" {
		return platforms.Token{}, platforms.NewError(platform, platforms.KindPermanent, op, "token response missing access_token")
	}

	return platforms.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scope:        resp.Scope,
		AccountID:    resp.OpenID,
	}, nil
}

func oauthError(op string, resp tokenResponse, fallback platforms.Kind) *platforms.Error {
	kind := fallback
	if resp.Error == "invalid_grant" {
		kind = platforms.KindAuth
	}
	msg := resp.Error
	if resp.ErrorDescription != "" {
		msg += ": " + resp.ErrorDescription
	}
	return platforms.NewError(platform, kind, op, msg)
}
