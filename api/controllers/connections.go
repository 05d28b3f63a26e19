package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/reelcast-backend/api/responses"
	"github.com/angelmondragon/reelcast-backend/api/validators"
	"github.com/angelmondragon/reelcast-backend/internal/credentials"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

const oauthStateTTL = 10 * time.Minute

// OAuthStateStore remembers the state handed out by the authorize step.
// *redis.Client satisfies it.
type OAuthStateStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GetDel(ctx context.Context, key string) (string, error)
	OAuthStateKey(ownerID, platform string) string
}

type connectRequest struct {
	Code  string `json:"code" validate:"required,max=4096"`
	State string `json:"state" validate:"omitempty,max=128"`
}

type authorizeResponse struct {
	Platform enums.Platform `json:"platform"`
	URL      string         `json:"url"`
	State    string         `json:"state"`
}

func ListConnections(store credentials.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		conns, err := store.List(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if conns == nil {
			conns = []credentials.Connection{}
		}
		responses.WriteSuccess(w, map[string]any{"items": conns})
	}
}

// AuthorizeConnection hands out the platform consent URL with a fresh state value.
func AuthorizeConnection(store credentials.Store, states OAuthStateStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		platform, err := pathPlatform(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		state := uuid.NewString()
		url, err := store.AuthorizeURL(platform, state)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if states != nil {
			if err := states.Set(r.Context(), stateKey(states, owner, platform), state, oauthStateTTL); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store oauth state"))
				return
			}
		}
		responses.WriteSuccess(w, authorizeResponse{Platform: platform, URL: url, State: state})
	}
}

// ConnectPlatform exchanges an authorization code and stores the credential.
func ConnectPlatform(store credentials.Store, states OAuthStateStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		platform, err := pathPlatform(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body connectRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := verifyState(r.Context(), states, owner, platform, body.State); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		conn, err := store.Connect(r.Context(), owner, platform, body.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, conn)
	}
}

func DisconnectPlatform(store credentials.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		platform, err := pathPlatform(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := store.Revoke(r.Context(), owner, platform); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"platform": platform, "disconnected": true})
	}
}

// verifyState consumes the state issued by AuthorizeConnection; a wrong guess also burns it.
// A nil store disables the check.
func verifyState(ctx context.Context, states OAuthStateStore, owner uuid.UUID, platform enums.Platform, state string) error {
	if states == nil {
		return nil
	}
	if state == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "state is required").WithDetails(map[string]any{"field": "state"})
	}
	stored, err := states.GetDel(ctx, stateKey(states, owner, platform))
	if err != nil && !errors.Is(err, redis.Nil) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read oauth state")
	}
	if stored == "" || stored != state {
		return pkgerrors.New(pkgerrors.CodeValidation, "oauth state mismatch")
	}
	return nil
}

func stateKey(states OAuthStateStore, owner uuid.UUID, platform enums.Platform) string {
	return states.OAuthStateKey(owner.String(), string(platform))
}
