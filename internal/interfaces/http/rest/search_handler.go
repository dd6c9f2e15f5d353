package rest

import (
	"net/http"
	"strings"
	"time"

	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

// searchQueryFrom translates the query string into a search request.
// Date bounds are RFC 3339; a malformed one fails the whole request
// rather than silently matching everything.
func searchQueryFrom(r *http.Request) (repository.SearchQuery, error) {
	q := r.URL.Query()
	sq := repository.SearchQuery{
		Text:   q.Get("q"),
		Filter: filterFrom(r),
		Sort:   repository.SortOrder(q.Get("sort")),
		Page:   pageFrom(r),
	}

	if tags := q.Get("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				sq.Tags = append(sq.Tags, t)
			}
		}
	}
	if v := q.Get("hasMetadata"); v != "" {
		has := v == "true" || v == "1"
		sq.HasMetadata = &has
	}
	for name, dst := range map[string]**time.Time{
		"addedAfter":  &sq.AddedAfter,
		"addedBefore": &sq.AddedBefore,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return sq, apperrors.Validation(apperrors.CodeSchemaValidationFailed, "malformed date bound").
				WithContext(name, v).
				WithCause(err).
				Build()
		}
		*dst = &ts
	}
	return sq, nil
}

func (rt *Router) handleSearch(w http.ResponseWriter, r *http.Request) {
	sq, err := searchQueryFrom(r)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	result, err := rt.nodes.KeywordSearch(r.Context(), sq)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, result)
}

func (rt *Router) handleAdvancedSearch(w http.ResponseWriter, r *http.Request) {
	sq, err := searchQueryFrom(r)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	result, err := rt.nodes.AdvancedSearch(r.Context(), sq)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	rt.respond(w, http.StatusOK, result)
}
