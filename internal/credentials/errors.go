package credentials

import "errors"

var (
	// ErrCredentialExpired indicates the access token expired and cannot be renewed
	// without the user. The account must re-authenticate.
	ErrCredentialExpired = errors.New("credential expired and no refresh token is available")
	// ErrTokenRefresh indicates the token endpoint rejected or failed a refresh.
	ErrTokenRefresh = errors.New("token refresh failed")
	// ErrCredentialUnreadable indicates stored ciphertext could not be decrypted.
	ErrCredentialUnreadable = errors.New("stored credential is unreadable")
	// ErrCredentialWrite indicates a renewed credential could not be persisted.
	ErrCredentialWrite = errors.New("persist renewed credential")
)
