package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ppmcore/internal/apperr"
	"ppmcore/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryAPI).Error("response encoding failed: %v", err)
	}
}

// statusFor maps error categories onto HTTP status codes.
func statusFor(c apperr.Category) int {
	switch c {
	case apperr.CategoryValidation:
		return http.StatusBadRequest
	case apperr.CategoryNotFound:
		return http.StatusNotFound
	case apperr.CategoryConflict:
		return http.StatusConflict
	case apperr.CategoryUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CategoryForbidden:
		return http.StatusForbidden
	case apperr.CategoryRateLimited:
		return http.StatusTooManyRequests
	case apperr.CategoryDependency:
		return http.StatusServiceUnavailable
	case apperr.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders any error in the stable shape
// {category, message, detail?, field?, row?, retry_after?}. Unclassified
// errors become opaque internal errors.
func writeError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		logging.Get(logging.CategoryAPI).Error("unclassified error at boundary: %v", err)
		ae = apperr.Internal(err)
	}
	if ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfter))
	}
	writeJSON(w, statusFor(ae.Category), ae)
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("body", "invalid json body")
	}
	return nil
}
