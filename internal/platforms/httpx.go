package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

const errorBodyReadLimit int64 = 4096

// ErrorDecoder turns a non-2xx response body into a classified *Error.
type ErrorDecoder func(status int, body []byte) error

// DoJSON sends req and decodes a 2xx body into out (when out is non-nil).
func DoJSON(client *http.Client, platform enums.Platform, op string, req *http.Request, out any, decode ErrorDecoder) error {
	resp, err := client.Do(req)
	if err != nil {
		return TransportError(platform, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		if decode != nil {
			if derr := decode(resp.StatusCode, body); derr != nil {
				return derr
			}
		}
		perr := NewError(platform, KindForStatus(resp.StatusCode), op, strings.TrimSpace(string(body)))
		perr.StatusCode = resp.StatusCode
		return perr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return WrapError(platform, KindTransient, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// TransportError classifies a failure to get any response at all.
func TransportError(platform enums.Platform, op string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return WrapError(platform, KindPermanent, op, err)
	}
	return WrapError(platform, KindTransient, op, err)
}

// OpenMedia starts streaming the media file behind mediaURL. The caller closes the body.
func OpenMedia(ctx context.Context, client *http.Client, platform enums.Platform, mediaURL string) (io.ReadCloser, string, error) {
	const op = "fetch media"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", WrapError(platform, KindPermanent, op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", TransportError(platform, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		kind := KindPermanent
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = KindTransient
		}
		perr := NewError(platform, kind, op, fmt.Sprintf("media url returned %d", resp.StatusCode))
		perr.StatusCode = resp.StatusCode
		return nil, "", perr
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	return resp.Body, contentType, nil
}
