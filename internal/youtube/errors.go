package youtube

import "errors"

var (
	// ErrPermissionDenied indicates the credential was rejected or lacks the
	// scope needed for the request.
	ErrPermissionDenied = errors.New("comment source denied access")
	// ErrSourceUnavailable indicates the comment source could not be reached or
	// answered with a transient failure.
	ErrSourceUnavailable = errors.New("comment source unavailable")
)
