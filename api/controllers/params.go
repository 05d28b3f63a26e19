package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/api/middleware"
	"github.com/angelmondragon/reelcast-backend/api/validators"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	pkgpagination "github.com/angelmondragon/reelcast-backend/pkg/pagination"
)

func ownerID(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.OwnerIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

func pathPlatform(r *http.Request) (enums.Platform, error) {
	platform, err := enums.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported platform").
			WithDetails(map[string]any{"field": "platform"})
	}
	return platform, nil
}

func pageParams(r *http.Request) (pkgpagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pkgpagination.DefaultLimit, 1, pkgpagination.MaxLimit)
	if err != nil {
		return pkgpagination.Params{}, err
	}
	return pkgpagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

func queryList(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, part := range strings.Split(raw, ",") {
			if v := strings.TrimSpace(part); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
