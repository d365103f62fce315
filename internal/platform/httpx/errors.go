// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

// RespondError maps shared errors to HTTP responses using RFC7807.
// Domain handlers translate their own sentinels before falling back here.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", "operation is busy, retry the request")
	case errors.Is(err, shared.ErrInvalidInput):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
