package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

func (rt *Router) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Warn("response encoding failed", zap.Error(err))
	}
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.WriteHTTPError(w, r, err, rt.logger)
}

// decode parses the JSON body into dst and runs struct validation.
// Violations come back as one schema error carrying the offending
// fields in its context.
func (rt *Router) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Validation(apperrors.CodeSchemaValidationFailed, "malformed JSON body").
			WithCause(err).
			Build()
	}
	if err := rt.validate.Struct(dst); err != nil {
		b := apperrors.Validation(apperrors.CodeSchemaValidationFailed, "request failed validation").
			WithCause(err)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				b = b.WithContext(fe.Field(), fe.Tag())
			}
		}
		return b.Build()
	}
	return nil
}

// pageFrom reads page/limit query parameters and clamps them.
func pageFrom(r *http.Request) repository.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return repository.NewPage(number, limit)
}

// filterFrom reads the node-filter query parameters.
func filterFrom(r *http.Request) repository.NodeFilter {
	q := r.URL.Query()
	return repository.NodeFilter{
		Segment:      q.Get("segment"),
		Category:     q.Get("category"),
		ContentType:  q.Get("contentType"),
		Organization: q.Get("organization"),
		Company:      q.Get("company"),
		Domain:       q.Get("domain"),
	}
}
