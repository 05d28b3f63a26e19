package validators

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
)

// queryParam parses a single query value. ok is false when the key is absent or blank.
func queryParam[T any](r *http.Request, key string, parse func(string) (T, error), want string) (value T, ok bool, err error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return value, false, nil
	}
	if value, err = parse(raw); err != nil {
		return value, false, invalidQuery(key, "must be "+want)
	}
	return value, true, nil
}

func invalidQuery(key, problem string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").
		WithDetails(map[string]string{key: problem})
}

// ParseQueryInt reads key as an integer in [min, max], returning fallback when absent.
func ParseQueryInt(r *http.Request, key string, fallback, min, max int) (int, error) {
	value, ok, err := queryParam(r, key, strconv.Atoi, "an integer")
	switch {
	case err != nil:
		return 0, err
	case !ok:
		return fallback, nil
	case value < min || value > max:
		return 0, invalidQuery(key, fmt.Sprintf("must be between %d and %d", min, max))
	}
	return value, nil
}

// ParseQueryTime reads key as an RFC 3339 timestamp in UTC. Absent values yield nil.
func ParseQueryTime(r *http.Request, key string) (*time.Time, error) {
	value, ok, err := queryParam(r, key, func(raw string) (time.Time, error) {
		return time.Parse(time.RFC3339, raw)
	}, "an RFC 3339 timestamp")
	if err != nil || !ok {
		return nil, err
	}
	value = value.UTC()
	return &value, nil
}
