package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/model"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// pagedBody is the list envelope.
type pagedBody struct {
	Data       any              `json:"data"`
	Pagination model.Pagination `json:"pagination"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func writePaged(w http.ResponseWriter, data any, p model.Pagination) {
	writeJSON(w, http.StatusOK, pagedBody{Data: data, Pagination: p})
}

// statusOf maps error kinds to HTTP statuses per the boundary contract.
func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindForbidden:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates a service error into the envelope. Internal
// causes are logged, never surfaced.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	e := errs.AsError(err)
	status := statusOf(e.Kind)

	if e.Kind == errs.KindInternal {
		logger.Error().Err(err).Msg("Request failed")
	}
	if e.Kind == errs.KindRateLimited && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}

	message := e.Message
	if e.Kind == errs.KindInternal {
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:    e.Kind.String(),
		Message: message,
		Fields:  e.Fields,
	}})
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Validation("malformed JSON body")
	}
	return nil
}

// pageParams reads page and limit query parameters with defaults.
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
