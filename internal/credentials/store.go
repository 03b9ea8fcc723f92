package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commco/backend/internal/models"
)

// CredentialWriter persists encrypted credentials for an account.
type CredentialWriter interface {
	UpdateCredential(ctx context.Context, accountID string, accessToken, refreshToken []byte, expiresAt time.Time) error
}

// Store converts between stored ciphertext and usable credentials.
type Store struct {
	cipher Cipher
	writer CredentialWriter
}

// NewStore constructs a Store. writer may be nil for read-only use.
func NewStore(cipher Cipher, writer CredentialWriter) *Store {
	return &Store{cipher: cipher, writer: writer}
}

// Credential decrypts the tokens stored on the account.
func (s *Store) Credential(account models.Account) (models.Credential, error) {
	if len(account.AccessTokenEncrypted) == 0 {
		return models.Credential{}, fmt.Errorf("%w: account %s has no access token", ErrCredentialUnreadable, account.ID)
	}

	access, err := s.cipher.Decrypt(account.AccessTokenEncrypted)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: access token: %v", ErrCredentialUnreadable, err)
	}

	cred := models.Credential{
		AccessToken: string(access),
		ExpiresAt:   account.TokenExpiresAt,
	}
	if len(account.RefreshTokenEncrypted) > 0 {
		refresh, err := s.cipher.Decrypt(account.RefreshTokenEncrypted)
		if err != nil {
			return models.Credential{}, fmt.Errorf("%w: refresh token: %v", ErrCredentialUnreadable, err)
		}
		cred.RefreshToken = string(refresh)
	}
	return cred, nil
}

// Encrypt seals both tokens. The refresh ciphertext is nil when the credential
// carries no refresh token.
func (s *Store) Encrypt(cred models.Credential) (access, refresh []byte, err error) {
	access, err = s.cipher.Encrypt([]byte(cred.AccessToken))
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if cred.HasRefreshToken() {
		refresh, err = s.cipher.Encrypt([]byte(cred.RefreshToken))
		if err != nil {
			return nil, nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	return access, refresh, nil
}

// Save encrypts cred and writes it back to the account.
func (s *Store) Save(ctx context.Context, accountID string, cred models.Credential) error {
	if s.writer == nil {
		return errors.New("credential store is read-only")
	}
	access, refresh, err := s.Encrypt(cred)
	if err != nil {
		return err
	}
	return s.writer.UpdateCredential(ctx, accountID, access, refresh, cred.ExpiresAt)
}
