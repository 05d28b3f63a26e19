package platforms

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

// Kind classifies adapter failures for the retry and refresh decisions.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindPermanent   Kind = "permanent"
)

// Error is returned by every adapter operation that fails.
type Error struct {
	Platform   enums.Platform
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func NewError(platform enums.Platform, kind Kind, op, message string) *Error {
	return &Error{Platform: platform, Kind: kind, Op: op, Message: message}
}

func WrapError(platform enums.Platform, kind Kind, op string, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Platform: platform, Kind: kind, Op: op, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %s", e.Platform, e.Op, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Platform, e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf reports the kind of err. Errors that did not come from an adapter are permanent.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindPermanent
}

// IsAuth reports an expired or revoked access token.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// IsRetryable reports timeouts, 5xx responses and rate limits.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}

// KindForStatus maps an HTTP status with no richer platform error code.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}
