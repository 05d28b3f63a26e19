package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/reelcast-backend/api/responses"
	"github.com/angelmondragon/reelcast-backend/api/validators"
	"github.com/angelmondragon/reelcast-backend/internal/history"
	"github.com/angelmondragon/reelcast-backend/internal/insights"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
)

// ListHistory returns the caller's publish records, most recent first.
func ListHistory(store history.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := historyFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := store.ListByUser(r.Context(), owner, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// VideoHistory returns the caller's records for one media item.
func VideoHistory(store history.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		videoID, err := pathUUID(r, "videoId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := historyFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.OwnerID = owner

		page, err := store.ListByVideo(r.Context(), videoID, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func RecordStatus(svc insights.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		recordID, err := pathUUID(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.Status(r.Context(), owner, recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func RecordAnalytics(svc insights.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, err := ownerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		recordID, err := pathUUID(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stats, err := svc.Analytics(r.Context(), owner, recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func historyFilters(r *http.Request) (history.Filters, error) {
	page, err := pageParams(r)
	if err != nil {
		return history.Filters{}, err
	}
	since, err := validators.ParseQueryTime(r, "since")
	if err != nil {
		return history.Filters{}, err
	}
	until, err := validators.ParseQueryTime(r, "until")
	if err != nil {
		return history.Filters{}, err
	}
	q := r.URL.Query()
	return history.Filters{
		Platform: strings.TrimSpace(q.Get("platform")),
		Status:   strings.TrimSpace(q.Get("status")),
		Since:    since,
		Until:    until,
		Params:   page,
	}, nil
}
