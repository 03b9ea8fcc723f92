package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/commco/backend/internal/db"
	"github.com/commco/backend/internal/models"
)

// PostgresChannelRepository provides PostgreSQL-backed persistence for channels.
type PostgresChannelRepository struct {
	pool db.Pool
}

// NewPostgresChannelRepository constructs a channel repository backed by PostgreSQL.
func NewPostgresChannelRepository(pool db.Pool) *PostgresChannelRepository {
	return &PostgresChannelRepository{pool: pool}
}

// FindChannel fetches a channel by id.
func (r *PostgresChannelRepository) FindChannel(ctx context.Context, id string) (models.Channel, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Channel{}, fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	var channel models.Channel
	err = conn.QueryRow(ctx, `
        SELECT id, account_id, external_id, created_at
        FROM channels
        WHERE id = $1
    `, id).Scan(&channel.ID, &channel.AccountID, &channel.ExternalID, &channel.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Channel{}, ErrNotFound
		}
		return models.Channel{}, fmt.Errorf("%w: select channel: %w", ErrPersistence, err)
	}
	return channel, nil
}

// ListChannels returns the channels owned by an account, oldest first.
func (r *PostgresChannelRepository) ListChannels(ctx context.Context, accountID string) ([]models.Channel, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, account_id, external_id, created_at
        FROM channels
        WHERE account_id = $1
        ORDER BY created_at, id
    `, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: query channels: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var channel models.Channel
		if err := rows.Scan(&channel.ID, &channel.AccountID, &channel.ExternalID, &channel.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan channel: %w", ErrPersistence, err)
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate channels: %w", ErrPersistence, err)
	}
	return channels, nil
}

// CreateChannel persists a new channel. A duplicate external id yields
// ErrConflict and an unknown account ErrNotFound.
func (r *PostgresChannelRepository) CreateChannel(ctx context.Context, channel models.Channel) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO channels (id, account_id, external_id, created_at)
        VALUES ($1, $2, $3, $4)
    `, channel.ID, channel.AccountID, channel.ExternalID, nowOr(channel.CreatedAt))
	if err != nil {
		return writeError("insert channel", err)
	}
	return nil
}

var _ ChannelRepository = (*PostgresChannelRepository)(nil)
