package handlers

import (
	"errors"
	"net/http"

	"github.com/commco/backend/internal/pipeline"
	"github.com/commco/backend/internal/replies"
)

// statusFor maps a domain error to the HTTP status and message returned to clients.
func statusFor(err error) (int, string) {
	if errors.Is(err, replies.ErrInvalidReply) {
		return http.StatusBadRequest, err.Error()
	}

	switch pipeline.ErrorCode(err) {
	case pipeline.CodeNotFound:
		return http.StatusNotFound, "not found"
	case pipeline.CodeCredentialExpired, pipeline.CodeTokenRefreshFailed, pipeline.CodeCredentialUnreadable:
		return http.StatusUnauthorized, "channel credentials must be re-authorized"
	case pipeline.CodePermissionDenied:
		return http.StatusForbidden, "permission denied by provider"
	case pipeline.CodeSourceUnavailable:
		return http.StatusBadGateway, "provider unavailable"
	case pipeline.CodeCancelled:
		return http.StatusServiceUnavailable, "request cancelled"
	}
	return http.StatusInternalServerError, "internal error"
}
