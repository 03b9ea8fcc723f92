package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commco/backend/internal/db/migrations"
	"github.com/commco/backend/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresAccountRepository_UpsertAndCredential(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresAccountRepository(testPool)
	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)

	created, err := repo.UpsertAccount(ctx, models.Account{
		ID:                    uuid.NewString(),
		ExternalID:            "google-1",
		Email:                 "creator@example.com",
		AccessTokenEncrypted:  []byte("access-1"),
		RefreshTokenEncrypted: []byte("refresh-1"),
		TokenExpiresAt:        expires,
	})
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}

	// Re-authentication without a refresh token keeps the stored one.
	again, err := repo.UpsertAccount(ctx, models.Account{
		ID:                   uuid.NewString(),
		ExternalID:           "google-1",
		Email:                "renamed@example.com",
		AccessTokenEncrypted: []byte("access-2"),
		TokenExpiresAt:       expires.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("re-upsert account: %v", err)
	}
	if again.ID != created.ID {
		t.Fatalf("expected upsert to keep id %s, got %s", created.ID, again.ID)
	}
	if string(again.AccessTokenEncrypted) != "access-2" || string(again.RefreshTokenEncrypted) != "refresh-1" || again.Email != "renamed@example.com" {
		t.Fatalf("unexpected account after upsert: %+v", again)
	}

	_, err = repo.UpsertAccount(ctx, models.Account{
		ID:                   uuid.NewString(),
		ExternalID:           "google-2",
		Email:                "renamed@example.com",
		AccessTokenEncrypted: []byte("x"),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}

	newer := expires.Add(2 * time.Hour)
	if err := repo.UpdateCredential(ctx, created.ID, []byte("access-3"), nil, newer); err != nil {
		t.Fatalf("update credential: %v", err)
	}

	// An older expiry must not overwrite the fresher credential.
	if err := repo.UpdateCredential(ctx, created.ID, []byte("stale"), []byte("stale"), expires); err != nil {
		t.Fatalf("stale update credential: %v", err)
	}

	fetched, err := repo.FindAccount(ctx, created.ID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if string(fetched.AccessTokenEncrypted) != "access-3" || string(fetched.RefreshTokenEncrypted) != "refresh-1" {
		t.Fatalf("unexpected credential: access=%s refresh=%s", fetched.AccessTokenEncrypted, fetched.RefreshTokenEncrypted)
	}
	if !fetched.TokenExpiresAt.Equal(newer) {
		t.Fatalf("expected expiry %v, got %v", newer, fetched.TokenExpiresAt)
	}

	if err := repo.UpdateCredential(ctx, uuid.NewString(), []byte("a"), nil, newer); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown account, got %v", err)
	}
	if _, err := repo.FindAccount(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresChannelRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	account := createTestAccount(t, "owner@example.com")
	repo := NewPostgresChannelRepository(testPool)

	first := models.Channel{ID: uuid.NewString(), AccountID: account.ID, ExternalID: "UC-first", CreatedAt: time.Now().UTC().Add(-time.Minute)}
	second := models.Channel{ID: uuid.NewString(), AccountID: account.ID, ExternalID: "UC-second", CreatedAt: time.Now().UTC()}
	for _, ch := range []models.Channel{first, second} {
		if err := repo.CreateChannel(ctx, ch); err != nil {
			t.Fatalf("create channel: %v", err)
		}
	}

	dup := first
	dup.ID = uuid.NewString()
	if err := repo.CreateChannel(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate external id, got %v", err)
	}

	orphan := models.Channel{ID: uuid.NewString(), AccountID: uuid.NewString(), ExternalID: "UC-orphan"}
	if err := repo.CreateChannel(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown account, got %v", err)
	}

	channels, err := repo.ListChannels(ctx, account.ID)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(channels) != 2 || channels[0].ID != first.ID || channels[1].ID != second.ID {
		t.Fatalf("unexpected channels: %+v", channels)
	}

	found, err := repo.FindChannel(ctx, second.ID)
	if err != nil || found.ExternalID != "UC-second" {
		t.Fatalf("find channel = %+v, %v", found, err)
	}
}

func TestPostgresCommentRepository_CommitBatch(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	channel := createTestChannel(t, "commit@example.com", "UC-commit")
	repo := NewPostgresCommentRepository(testPool)

	inserts := []models.Comment{
		testComment(channel.ID, "yt-1", "Reply to Question", -3*time.Hour),
		testComment(channel.ID, "yt-2", "Appreciate Fan", -2*time.Hour),
	}
	if err := repo.CommitBatch(ctx, models.ChangeSet{Inserts: inserts}); err != nil {
		t.Fatalf("commit inserts: %v", err)
	}

	// A concurrent duplicate insert becomes a category update.
	dup := testComment(channel.ID, "yt-1", "Delete Junk", -3*time.Hour)
	dup.TextOriginal = "edited text that must not be stored"
	err := repo.CommitBatch(ctx, models.ChangeSet{
		Inserts: []models.Comment{dup},
		Updates: []models.CategoryUpdate{{ChannelID: channel.ID, ExternalID: "yt-2", Category: "Review and Consider"}},
	})
	if err != nil {
		t.Fatalf("commit duplicate and update: %v", err)
	}

	first, err := repo.FindCommentByExternalID(ctx, channel.ID, "yt-1")
	if err != nil {
		t.Fatalf("find yt-1: %v", err)
	}
	if first.Category != "Delete Junk" || first.TextOriginal != inserts[0].TextOriginal || first.ID != inserts[0].ID {
		t.Fatalf("unexpected yt-1 after upsert: %+v", first)
	}

	second, err := repo.FindComment(ctx, inserts[1].ID)
	if err != nil {
		t.Fatalf("find yt-2: %v", err)
	}
	if second.Category != "Review and Consider" {
		t.Fatalf("expected updated category, got %q", second.Category)
	}

	if _, err := repo.FindCommentByExternalID(ctx, uuid.NewString(), "yt-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other channel, got %v", err)
	}

	var count int
	if err := testPool.QueryRow(ctx, `SELECT count(*) FROM comments WHERE external_id = 'yt-1'`).Scan(&count); err != nil {
		t.Fatalf("count comments: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row per external id, got %d", count)
	}
}

func TestPostgresCommentRepository_CommitBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	channel := createTestChannel(t, "atomic@example.com", "UC-atomic")
	repo := NewPostgresCommentRepository(testPool)

	seed := testComment(channel.ID, "yt-seed", "Appreciate Fan", -time.Hour)
	if err := repo.CommitBatch(ctx, models.ChangeSet{Inserts: []models.Comment{seed}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The last insert references a channel that does not exist.
	changes := models.ChangeSet{
		Inserts: []models.Comment{
			testComment(channel.ID, "yt-a", "Appreciate Fan", -30*time.Minute),
			testComment(channel.ID, "yt-b", "Delete Junk", -20*time.Minute),
			testComment(uuid.NewString(), "yt-c", "Miscellaneous", -10*time.Minute),
		},
		Updates: []models.CategoryUpdate{{ChannelID: channel.ID, ExternalID: "yt-seed", Category: "Delete Junk"}},
	}
	if err := repo.CommitBatch(ctx, changes); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}

	comments, err := repo.ListComments(ctx, channel.ID, "", 0)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 || comments[0].ExternalID != "yt-seed" || comments[0].Category != "Appreciate Fan" {
		t.Fatalf("expected store unchanged after failed batch, got %+v", comments)
	}
}

func TestPostgresCommentRepository_CommitBatchRejectsForeignExternalID(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	owner := createTestChannel(t, "owner@example.com", "UC-owner")
	other := createTestChannel(t, "other@example.com", "UC-other")
	repo := NewPostgresCommentRepository(testPool)

	original := testComment(owner.ID, "yt-shared", "Appreciate Fan", -time.Hour)
	if err := repo.CommitBatch(ctx, models.ChangeSet{Inserts: []models.Comment{original}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	changes := models.ChangeSet{Inserts: []models.Comment{
		testComment(other.ID, "yt-fresh", "Reply to Question", -time.Hour),
		testComment(other.ID, "yt-shared", "Delete Junk", -time.Hour),
	}}
	err := repo.CommitBatch(ctx, changes)
	if !errors.Is(err, ErrConflict) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrConflict wrapped in ErrPersistence, got %v", err)
	}

	stored, err := repo.FindCommentByExternalID(ctx, owner.ID, "yt-shared")
	if err != nil {
		t.Fatalf("find shared comment: %v", err)
	}
	if stored.Category != "Appreciate Fan" {
		t.Fatalf("owner's comment changed: %+v", stored)
	}
	if _, err := repo.FindCommentByExternalID(ctx, other.ID, "yt-fresh"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rejected batch to roll back, got %v", err)
	}
}

func TestPostgresCommentRepository_ListComments(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	channel := createTestChannel(t, "list@example.com", "UC-list")
	repo := NewPostgresCommentRepository(testPool)

	changes := models.ChangeSet{Inserts: []models.Comment{
		testComment(channel.ID, "old", "Delete Junk", -3*time.Hour),
		testComment(channel.ID, "mid", "Appreciate Fan", -2*time.Hour),
		testComment(channel.ID, "new", "Delete Junk", -time.Hour),
	}}
	if err := repo.CommitBatch(ctx, changes); err != nil {
		t.Fatalf("commit: %v", err)
	}

	all, err := repo.ListComments(ctx, channel.ID, "", 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ExternalID != "new" || all[2].ExternalID != "old" {
		t.Fatalf("unexpected order: %+v", all)
	}

	junk, err := repo.ListComments(ctx, channel.ID, "Delete Junk", 1)
	if err != nil {
		t.Fatalf("list junk: %v", err)
	}
	if len(junk) != 1 || junk[0].ExternalID != "new" {
		t.Fatalf("unexpected filtered list: %+v", junk)
	}
}

func TestPostgresAccountRepository_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	channel := createTestChannel(t, "gone@example.com", "UC-gone")
	comments := NewPostgresCommentRepository(testPool)
	if err := comments.CommitBatch(ctx, models.ChangeSet{Inserts: []models.Comment{testComment(channel.ID, "yt-gone", "Miscellaneous", -time.Hour)}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	accounts := NewPostgresAccountRepository(testPool)
	if err := accounts.DeleteAccount(ctx, channel.AccountID); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if err := accounts.DeleteAccount(ctx, channel.AccountID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	if _, err := NewPostgresChannelRepository(testPool).FindChannel(ctx, channel.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected channel to be removed, got %v", err)
	}
	if _, err := comments.FindCommentByExternalID(ctx, channel.ID, "yt-gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected comment to be removed, got %v", err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	scripts, err := migrations.UpScripts()
	if err != nil {
		return err
	}
	for i, script := range scripts {
		if _, err := pool.Exec(ctx, script); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE comments, channels, accounts CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestAccount(t *testing.T, email string) models.Account {
	t.Helper()
	account, err := NewPostgresAccountRepository(testPool).UpsertAccount(context.Background(), models.Account{
		ID:                   uuid.NewString(),
		ExternalID:           "ext-" + email,
		Email:                email,
		AccessTokenEncrypted: []byte("sealed"),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func createTestChannel(t *testing.T, email, externalID string) models.Channel {
	t.Helper()
	account := createTestAccount(t, email)
	channel := models.Channel{ID: uuid.NewString(), AccountID: account.ID, ExternalID: externalID}
	if err := NewPostgresChannelRepository(testPool).CreateChannel(context.Background(), channel); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return channel
}

func testComment(channelID, externalID string, category models.Category, age time.Duration) models.Comment {
	now := time.Now().UTC()
	return models.Comment{
		ID:              uuid.NewString(),
		ChannelID:       channelID,
		ExternalID:      externalID,
		TextOriginal:    "text of " + externalID,
		AuthorName:      "viewer",
		AuthorAvatarURL: "https://example.com/avatar.png",
		VideoID:         "video-1",
		PublishedAt:     now.Add(age),
		Category:        category,
		CreatedAt:       now,
	}
}
