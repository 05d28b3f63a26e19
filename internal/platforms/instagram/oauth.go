package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
)

func (a *Adapter) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

type longLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Exchange trades the code for a short-lived token, then upgrades it to a
// long-lived token. Instagram has no refresh token; the long-lived token refreshes itself.
func (a *Adapter) Exchange(ctx context.Context, code string) (platforms.Token, error) {
	short, err := a.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, a.httpClient), code)
	if err != nil {
		return platforms.Token{}, classifyOAuth("exchange", err)
	}

	q := url.Values{}
	q.Set("grant_type", "ig_exchange_token")
	q.Set("client_secret", a.appSecret)
	q.Set("access_token", short.AccessToken)
	long, err := a.tokenGet(ctx, "long-lived exchange", "/access_token", q)
	if err != nil {
		return platforms.Token{}, err
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := a.call(ctx, "account", http.MethodGet, "/me", platforms.Credential{AccessToken: long.AccessToken}, url.Values{"fields": {"id,username"}}, &me); err != nil {
		return platforms.Token{}, err
	}
	long.AccountID = me.ID
	if scope, ok := short.Extra("permissions").(string); ok {
		long.Scope = scope
	}
	return long, nil
}

func (a *Adapter) Refresh(ctx context.Context, cred platforms.Credential) (platforms.Token, error) {
	if cred.AccessToken == "" {
		return platforms.Token{}, platforms.NewError(platform, platforms.KindAuth, "refresh", "no long-lived token stored")
	}
	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", cred.AccessToken)
	tok, err := a.tokenGet(ctx, "refresh", "/refresh_access_token", q)
	if err != nil {
		return platforms.Token{}, err
	}
	tok.AccountID = cred.AccountID
	tok.Scope = cred.Scope
	return tok, nil
}

// tokenGet hits the unversioned graph host, which is where the token endpoints live.
func (a *Adapter) tokenGet(ctx context.Context, op, path string, q url.Values) (platforms.Token, error) {
	base, err := url.Parse(a.graphBase)
	if err != nil {
		return platforms.Token{}, platforms.WrapError(platform, platforms.KindPermanent, op, err)
	}
	endpoint := fmt.Sprintf("%s://%s%s?%s", base.Scheme, base.Host, path, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return platforms.Token{}, platforms.WrapError(platform, platforms.KindPermanent, op, err)
	}
	var resp longLivedToken
	if err := platforms.DoJSON(a.httpClient, platform, op, req, &resp, decodeGraphError(op)); err != nil {
		return platforms.Token{}, err
	}
	if resp.AccessToken == "" {
		return platforms.Token{}, platforms.NewError(platform, platforms.KindPermanent, op, "token response missing access_token")
	}
	return platforms.Token{
		AccessToken: resp.AccessToken,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

func classifyOAuth(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		kind := platforms.KindAuth
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
			if status >= 500 {
				kind = platforms.KindTransient
			}
		}
		perr := platforms.WrapError(platform, kind, op, err)
		perr.StatusCode = status
		return perr
	}
	return platforms.TransportError(platform, op, err)
}
