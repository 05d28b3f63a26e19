// Package billing asks the external billing system whether an owner may publish.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

const (
	defaultTimeout          = 5 * time.Second
	responseReadLimit int64 = 4096
)

// Gate is the boolean "may publish" check.
type Gate interface {
	MayPublish(ctx context.Context, ownerID uuid.UUID) (bool, error)
}

// AllowAll admits every owner. Used when no gate URL is configured.
type AllowAll struct{}

func (AllowAll) MayPublish(context.Context, uuid.UUID) (bool, error) { return true, nil }

// HTTPGate calls GET {base}/owners/{id}/entitlements/publish and expects {"allowed": bool}.
type HTTPGate struct {
	httpClient *http.Client
	baseURL    string
}

// Option configures optional gate behavior.
type Option func(*HTTPGate)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *HTTPGate) {
		if client != nil {
			g.httpClient = client
		}
	}
}

func NewHTTPGate(baseURL string, timeout time.Duration, opts ...Option) (*HTTPGate, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("billing gate url is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	g := &HTTPGate{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    trimmed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *HTTPGate) MayPublish(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	endpoint := fmt.Sprintf("%s/owners/%s/entitlements/publish", g.baseURL, url.PathEscape(ownerID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("billing gate request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
		return false, fmt.Errorf("billing gate returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Allowed *bool `json:"allowed"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseReadLimit)).Decode(&payload); err != nil {
		return false, fmt.Errorf("decode billing gate response: %w", err)
	}
	if payload.Allowed == nil {
		return false, fmt.Errorf("billing gate response missing allowed")
	}
	return *payload.Allowed, nil
}

// Guard turns gate answers into typed errors for the publishing service.
type Guard struct {
	gate     Gate
	failOpen bool
	logg     *logger.Logger
}

func NewGuard(gate Gate, failOpen bool, logg *logger.Logger) (*Guard, error) {
	if gate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing gate required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Guard{gate: gate, failOpen: failOpen, logg: logg}, nil
}

// NewFromConfig builds the guard the binaries use.
func NewFromConfig(cfg config.BillingConfig, logg *logger.Logger) (*Guard, error) {
	if strings.TrimSpace(cfg.GateURL) == "" {
		return NewGuard(AllowAll{}, cfg.FailOpen, logg)
	}
	gate, err := NewHTTPGate(cfg.GateURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return NewGuard(gate, cfg.FailOpen, logg)
}

// Check returns BILLING_DENIED when the owner may not publish, and DEPENDENCY_ERROR
// when the gate cannot answer unless the guard fails open.
func (g *Guard) Check(ctx context.Context, ownerID uuid.UUID) error {
	allowed, err := g.gate.MayPublish(ctx, ownerID)
	if err != nil {
		if g.failOpen {
			g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
				"user_id": ownerID.String(),
				"error":   err.Error(),
			}), "billing gate unavailable, failing open")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "billing gate unavailable")
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeBillingDenied, "publishing not permitted by current plan").
			WithDetails(map[string]any{"owner_id": ownerID})
	}
	return nil
}
