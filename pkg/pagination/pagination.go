// Package pagination implements newest-first keyset pages over (timestamp, id).
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errMalformed = errors.New("malformed cursor")

// Params carries the page size and opaque cursor a caller sent.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the position of the last row on the previous page. The next
// page holds rows strictly older than it, ties broken by descending id.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// Size clamps limit into [1, MaxLimit], substituting DefaultLimit for zero.
func Size(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Probe is the row count to fetch so a following page can be detected.
func Probe(limit int) int {
	return Size(limit) + 1
}

// Encode renders c as a URL-safe token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.At.UTC().UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token from Encode. An empty token yields a nil cursor.
func Decode(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, errMalformed
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp", errMalformed)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id", errMalformed)
	}
	return &Cursor{At: time.Unix(0, n).UTC(), ID: parsed}, nil
}

// After restricts query to rows past c on the given timestamp column and
// applies the matching order. A nil cursor only orders.
func (c *Cursor) After(query *gorm.DB, column string) *gorm.DB {
	if c != nil {
		query = query.Where(
			fmt.Sprintf("(%[1]s < ?) OR (%[1]s = ? AND id < ?)", column),
			c.At, c.At, c.ID,
		)
	}
	return query.Order(column + " DESC").Order("id DESC")
}

// Trim cuts a Probe-sized result to the page and returns the cursor for the
// next page, or "" when rows held no more than one page.
func Trim[T any](rows []T, limit int, position func(T) Cursor) ([]T, string) {
	size := Size(limit)
	if len(rows) <= size {
		return rows, ""
	}
	rows = rows[:size]
	return rows, position(rows[size-1]).Encode()
}
