package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/reelcast-backend/api/responses"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxIdempotencyKey = 255

	writeReplayTTL   = 24 * time.Hour
	publishReplayTTL = 7 * 24 * time.Hour
	// pendingReplayTTL bounds how long a crashed request can hold its key.
	pendingReplayTTL = 15 * time.Minute
)

// ReplayStore keeps the first response served under an Idempotency-Key.
type ReplayStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type replayRule struct {
	method string
	prefix string
	suffix string
	ttl    time.Duration
}

// Publishing rules keep replays longer: a repeated upload cannot be undone.
var replayRules = []replayRule{
	{http.MethodPost, "/api/v1/publish", "", publishReplayTTL},
	{http.MethodPost, "/api/v1/schedules/", "/republish", publishReplayTTL},
	{http.MethodPost, "/api/v1/schedules", "", writeReplayTTL},
	{http.MethodPost, "/api/v1/schedules/", "/reschedule", writeReplayTTL},
}

func (rule replayRule) matches(method, path string) bool {
	if rule.method != method {
		return false
	}
	if rule.suffix == "" {
		return path == rule.prefix
	}
	return strings.HasPrefix(path, rule.prefix) && strings.HasSuffix(path, rule.suffix)
}

func replayTTL(method, path string) (time.Duration, bool) {
	path = strings.TrimSuffix(path, "/")
	for _, rule := range replayRules {
		if rule.matches(method, path) {
			return rule.ttl, true
		}
	}
	return 0, false
}

// storedResponse is either a pending reservation or the finished response.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

func (s storedResponse) replay(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// Idempotency replays the stored response when a write is retried with the same
// Idempotency-Key and body. The key is reserved before the handler runs, so a
// concurrent retry gets a conflict instead of a second execution. Requests
// without the header pass through. Server errors release the key so the client
// may retry them.
func Idempotency(store ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			ttl, guarded := replayTTL(r.Method, r.URL.Path)
			if store == nil || clientKey == "" || !guarded {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxIdempotencyKey {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(replayScope(r), clientKey)

			reserved, err := reserve(ctx, store, key, fingerprint)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				prior, err := loadResponse(ctx, store, key)
				switch {
				case err != nil:
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
				case prior != nil && prior.Fingerprint != fingerprint:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
				case prior == nil || prior.Pending:
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this idempotency key is still in progress"))
				default:
					prior.replay(w)
				}
				return
			}

			// The outcome is persisted even if the client went away.
			persistCtx := context.WithoutCancel(ctx)
			keep := false
			defer func() {
				if keep {
					return
				}
				if err := store.Del(persistCtx, key); err != nil && logg != nil {
					logg.Error(ctx, "idempotency.release_failed", err)
				}
			}()

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			// The handler ran, so a failed write below leaves the marker to expire.
			keep = true

			payload, err := json.Marshal(storedResponse{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
				Fingerprint: fingerprint,
			})
			if err == nil {
				err = store.Set(persistCtx, key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "idempotency.persist_failed", err)
			}
		})
	}
}

// reserve claims key with a pending marker. It reports false when another
// request already holds or finished the key.
func reserve(ctx context.Context, store ReplayStore, key, fingerprint string) (bool, error) {
	marker, err := json.Marshal(storedResponse{Pending: true, Fingerprint: fingerprint})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), pendingReplayTTL)
}

func loadResponse(ctx context.Context, store ReplayStore, key string) (*storedResponse, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// replayScope keys a record to the owner, method and concrete path.
func replayScope(r *http.Request) string {
	owner, _ := OwnerIDFromContext(r.Context())
	return owner.String() + "|" + r.Method + "|" + strings.TrimSuffix(r.URL.Path, "/")
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
