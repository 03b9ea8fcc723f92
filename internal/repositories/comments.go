package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/commco/backend/internal/db"
	"github.com/commco/backend/internal/models"
)

// MaxListComments caps ListComments.
const MaxListComments = 100

// PostgresCommentRepository provides PostgreSQL-backed persistence for comments.
type PostgresCommentRepository struct {
	pool db.Pool
}

// NewPostgresCommentRepository constructs a comment repository backed by PostgreSQL.
func NewPostgresCommentRepository(pool db.Pool) *PostgresCommentRepository {
	return &PostgresCommentRepository{pool: pool}
}

const commentColumns = `id, channel_id, external_id, text_original, author_name, author_avatar_url, video_id, published_at, category, created_at, updated_at`

// FindComment fetches a comment by id.
func (r *PostgresCommentRepository) FindComment(ctx context.Context, id string) (models.Comment, error) {
	return r.findOne(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id)
}

// FindCommentByExternalID fetches the channel's comment carrying the provider id.
func (r *PostgresCommentRepository) FindCommentByExternalID(ctx context.Context, channelID, externalID string) (models.Comment, error) {
	return r.findOne(ctx, `SELECT `+commentColumns+` FROM comments WHERE external_id = $1 AND channel_id = $2`, externalID, channelID)
}

func (r *PostgresCommentRepository) findOne(ctx context.Context, query string, args ...any) (models.Comment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Comment{}, fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	comment, err := scanComment(conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Comment{}, ErrNotFound
		}
		return models.Comment{}, fmt.Errorf("%w: select comment: %w", ErrPersistence, err)
	}
	return comment, nil
}

// ListComments returns the newest comments of a channel, optionally limited to
// one category. An empty category lists all of them.
func (r *PostgresCommentRepository) ListComments(ctx context.Context, channelID string, category models.Category, limit int) ([]models.Comment, error) {
	if limit <= 0 || limit > MaxListComments {
		limit = MaxListComments
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %w", ErrPersistence, err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+commentColumns+`
        FROM comments
        WHERE channel_id = $1 AND ($2 = '' OR category = $2)
        ORDER BY published_at DESC, id
        LIMIT $3
    `, channelID, string(category), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query comments: %w", ErrPersistence, err)
	}
	defer rows.Close()

	comments := make([]models.Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan comment: %w", ErrPersistence, err)
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate comments: %w", ErrPersistence, err)
	}
	return comments, nil
}

// CommitBatch applies a change set in one transaction. Either every insert and
// category update lands or none does. An insert whose external id already
// exists on the same channel becomes a category update.
func (r *PostgresCommentRepository) CommitBatch(ctx context.Context, changes models.ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, c := range changes.Inserts {
		batch.Queue(`
            INSERT INTO comments (id, channel_id, external_id, text_original, author_name, author_avatar_url, video_id, published_at, category, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
            ON CONFLICT (external_id) DO UPDATE SET
                category = EXCLUDED.category,
                updated_at = EXCLUDED.updated_at
            WHERE comments.channel_id = EXCLUDED.channel_id
        `, c.ID, c.ChannelID, c.ExternalID, c.TextOriginal, c.AuthorName, c.AuthorAvatarURL, c.VideoID,
			c.PublishedAt.UTC(), string(c.Category), nowOr(c.CreatedAt))
	}
	for _, u := range changes.Updates {
		batch.Queue(`
            UPDATE comments
            SET category = $3, updated_at = now()
            WHERE channel_id = $1 AND external_id = $2
        `, u.ChannelID, u.ExternalID, string(u.Category))
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return fmt.Errorf("%w: apply change %d: %w", ErrPersistence, i, err)
		}
		// The conflict guard skips rows owned by another channel.
		if i < len(changes.Inserts) && tag.RowsAffected() == 0 {
			_ = results.Close()
			return fmt.Errorf("%w: %w: comment %s belongs to another channel",
				ErrPersistence, ErrConflict, changes.Inserts[i].ExternalID)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("%w: close batch: %w", ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", ErrPersistence, err)
	}
	return nil
}

func scanComment(row pgx.Row) (models.Comment, error) {
	var (
		c        models.Comment
		category string
	)
	err := row.Scan(&c.ID, &c.ChannelID, &c.ExternalID, &c.TextOriginal, &c.AuthorName, &c.AuthorAvatarURL,
		&c.VideoID, &c.PublishedAt, &category, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Comment{}, err
	}
	c.Category = models.Category(category)
	c.PublishedAt = c.PublishedAt.UTC()
	return c, nil
}

var _ CommentRepository = (*PostgresCommentRepository)(nil)
