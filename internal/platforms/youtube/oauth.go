package youtube

import (
	"context"
	"errors"

	"golang.org/x/oauth2"

	"github.com/angelmondragon/reelcast-backend/internal/platforms"
)

func (a *Adapter) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (a *Adapter) Exchange(ctx context.Context, code string) (platforms.Token, error) {
	tok, err := a.oauth.Exchange(a.clientContext(ctx), code)
	if err != nil {
		return platforms.Token{}, classifyOAuth("exchange", err)
	}
	return tokenFrom(tok, ""), nil
}

// Refresh trades the stored refresh token for a new access token. Google usually omits
// the refresh token on refresh, so the existing one is carried over.
func (a *Adapter) Refresh(ctx context.Context, cred platforms.Credential) (platforms.Token, error) {
	if cred.RefreshToken == "" {
		return platforms.Token{}, platforms.NewError(platform, platforms.KindAuth, "refresh", "no refresh token stored")
	}
	tok, err := a.oauth.TokenSource(a.clientContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return platforms.Token{}, classifyOAuth("refresh", err)
	}
	out := tokenFrom(tok, cred.RefreshToken)
	out.AccountID = cred.AccountID
	return out, nil
}

func (a *Adapter) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func tokenFrom(tok *oauth2.Token, fallbackRefresh string) platforms.Token {
	out := platforms.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry.UTC(),
	}
	if out.RefreshToken == "" {
		out.RefreshToken = fallbackRefresh
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}

func classifyOAuth(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		kind := platforms.KindPermanent
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
			kind = platforms.KindForStatus(status)
		}
		if rerr.ErrorCode == "invalid_grant" {
			kind = platforms.KindAuth
		}
		perr := platforms.WrapError(platform, kind, op, err)
		perr.StatusCode = status
		return perr
	}
	return platforms.TransportError(platform, op, err)
}
