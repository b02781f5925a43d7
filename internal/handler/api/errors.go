package api

import (
	"context"
	"errors"
	"net/http"

	apperrors "MarketLens/internal/errors"
	xhttp "MarketLens/pkg/http"
)

// toAppError maps a domain error onto its HTTP form.
func toAppError(err error) *xhttp.AppError {
	var de *apperrors.Error
	if !errors.As(err, &de) {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return xhttp.NewAppError("REQUEST_TIMEOUT", "", "request timed out", http.StatusGatewayTimeout).WithError(err)
		case errors.Is(err, context.Canceled):
			return xhttp.NewAppError("REQUEST_CANCELED", "", "request canceled", http.StatusRequestTimeout).WithError(err)
		}
		return xhttp.InternalError("internal error").WithError(err)
	}

	status := http.StatusInternalServerError
	switch de.Kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindUpstream:
		status = http.StatusServiceUnavailable
	}
	return xhttp.NewAppError(de.Code, de.Field, de.Message, status).
		WithParams(de.Details).
		WithError(de.Cause)
}
