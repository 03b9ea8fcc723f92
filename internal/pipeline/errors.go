package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/commco/backend/internal/credentials"
	"github.com/commco/backend/internal/repositories"
	"github.com/commco/backend/internal/youtube"
)

// Stage names a step of a sync run.
type Stage string

const (
	StageLoadAccount       Stage = "LoadAccount"
	StageRefreshCredential Stage = "RefreshCredential"
	StageFetchRemote       Stage = "FetchRemote"
	StageReconcileEach     Stage = "ReconcileEach"
	StageCommit            Stage = "Commit"
)

// Stable failure codes reported to callers of a sync run.
const (
	CodeNotFound             = "not_found"
	CodeCredentialExpired    = "credential_expired"
	CodeTokenRefreshFailed   = "token_refresh_failed"
	CodeCredentialUnreadable = "credential_unreadable"
	CodePermissionDenied     = "permission_denied"
	CodeSourceUnavailable    = "source_unavailable"
	CodePersistenceFailed    = "persistence_failed"
	CodeCancelled            = "cancelled"
	CodeInternal             = "internal"
)

// ErrQueueFull indicates the sync queue has no room for another job.
var ErrQueueFull = errors.New("sync queue is full")

// ErrQueueClosed indicates the sync queue no longer accepts jobs.
var ErrQueueClosed = errors.New("sync queue closed")

// RunError is the terminal failure of a sync run.
type RunError struct {
	Stage Stage
	Code  string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("sync %s failed (%s): %v", e.Stage, e.Code, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Retryable reports whether running the same sync again may succeed without
// anyone intervening.
func (e *RunError) Retryable() bool {
	switch e.Code {
	case CodeSourceUnavailable, CodePersistenceFailed, CodeCancelled:
		return true
	}
	return false
}

// ErrorCode maps err to its stable failure code. A nil error has no code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Code
	}
	return codeFor(err)
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, credentials.ErrCredentialExpired):
		return CodeCredentialExpired
	case errors.Is(err, credentials.ErrTokenRefresh):
		return CodeTokenRefreshFailed
	case errors.Is(err, credentials.ErrCredentialUnreadable):
		return CodeCredentialUnreadable
	case errors.Is(err, credentials.ErrCredentialWrite), errors.Is(err, repositories.ErrPersistence):
		return CodePersistenceFailed
	case errors.Is(err, youtube.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, youtube.ErrSourceUnavailable):
		return CodeSourceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	}
	return CodeInternal
}

// failure wraps err for stage. A cancelled run context wins over whatever
// error the cancellation produced downstream.
func failure(ctx context.Context, stage Stage, err error) *RunError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) || err == nil {
			return &RunError{Stage: stage, Code: CodeCancelled, Err: ctxErr}
		}
	}
	return &RunError{Stage: stage, Code: codeFor(err), Err: err}
}
