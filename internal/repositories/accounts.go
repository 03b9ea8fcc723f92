package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/commco/backend/internal/db"
	"github.com/commco/backend/internal/models"
)

// PostgresAccountRepository provides PostgreSQL-backed persistence for accounts.
type PostgresAccountRepository struct {
	pool db.Pool
}

// NewPostgresAccountRepository constructs an account repository backed by PostgreSQL.
func NewPostgresAccountRepository(pool db.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

const accountColumns = `id, external_id, email, access_token_encrypted, refresh_token_encrypted, token_expires_at, created_at, updated_at`

// FindAccount fetches an account by id.
func (r *PostgresAccountRepository) FindAccount(ctx context.Context, id string) (models.Account, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrNotFound
		}
		return models.Account{}, fmt.Errorf("%w: select account: %w", ErrPersistence, err)
	}
	return account, nil
}

// UpsertAccount inserts the account or, when its external id is already known,
// replaces its email and credential. A nil refresh token keeps the stored one.
func (r *PostgresAccountRepository) UpsertAccount(ctx context.Context, account models.Account) (models.Account, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        INSERT INTO accounts (id, external_id, email, access_token_encrypted, refresh_token_encrypted, token_expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
        ON CONFLICT (external_id) DO UPDATE SET
            email = EXCLUDED.email,
            access_token_encrypted = EXCLUDED.access_token_encrypted,
            refresh_token_encrypted = COALESCE(EXCLUDED.refresh_token_encrypted, accounts.refresh_token_encrypted),
            token_expires_at = EXCLUDED.token_expires_at,
            updated_at = EXCLUDED.updated_at
        RETURNING `+accountColumns,
		account.ID, account.ExternalID, account.Email, account.AccessTokenEncrypted,
		nullableBytes(account.RefreshTokenEncrypted), nullableTime(account.TokenExpiresAt), nowOr(account.UpdatedAt))

	stored, err := scanAccount(row)
	if err != nil {
		return models.Account{}, writeError("upsert account", err)
	}
	return stored, nil
}

// UpdateCredential replaces the stored credential in a single statement. A
// write carrying an older expiry than the stored one is dropped so a slow run
// cannot clobber a fresher token.
func (r *PostgresAccountRepository) UpdateCredential(ctx context.Context, accountID string, accessToken, refreshToken []byte, expiresAt time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE accounts
        SET access_token_encrypted = $2,
            refresh_token_encrypted = COALESCE($3, refresh_token_encrypted),
            token_expires_at = $4,
            updated_at = now()
        WHERE id = $1
          AND (token_expires_at IS NULL OR $4::TIMESTAMPTZ IS NULL OR token_expires_at <= $4::TIMESTAMPTZ)
    `, accountID, accessToken, nullableBytes(refreshToken), nullableTime(expiresAt))
	if err != nil {
		return writeError("update credential", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return fmt.Errorf("%w: check account: %w", ErrPersistence, err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount removes the account together with its channels and comments.
func (r *PostgresAccountRepository) DeleteAccount(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return writeError("delete account", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var (
		account   models.Account
		expiresAt *time.Time
	)
	err := row.Scan(&account.ID, &account.ExternalID, &account.Email, &account.AccessTokenEncrypted,
		&account.RefreshTokenEncrypted, &expiresAt, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return models.Account{}, err
	}
	if expiresAt != nil {
		account.TokenExpiresAt = expiresAt.UTC()
	}
	return account, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

var _ AccountRepository = (*PostgresAccountRepository)(nil)
