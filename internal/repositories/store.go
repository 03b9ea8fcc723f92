package repositories

import "github.com/commco/backend/internal/db"

// PostgresStore bundles the account, channel and comment repositories behind
// one pool.
type PostgresStore struct {
	*PostgresAccountRepository
	*PostgresChannelRepository
	*PostgresCommentRepository
}

// NewPostgresStore constructs every repository on the same pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{
		PostgresAccountRepository: NewPostgresAccountRepository(pool),
		PostgresChannelRepository: NewPostgresChannelRepository(pool),
		PostgresCommentRepository: NewPostgresCommentRepository(pool),
	}
}
