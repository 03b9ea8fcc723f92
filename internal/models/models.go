package models

import (
	"fmt"
	"strings"
	"time"
)

// Account is a creator identity at the content provider together with the
// encrypted credentials used to act on its behalf.
type Account struct {
	ID                    string
	ExternalID            string
	Email                 string
	AccessTokenEncrypted  []byte
	RefreshTokenEncrypted []byte
	TokenExpiresAt        time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Channel is a content source owned by exactly one account.
type Channel struct {
	ID         string
	AccountID  string
	ExternalID string
	CreatedAt  time.Time
}

// Comment is one unit of feedback on a channel. Only Category changes after
// the first insert.
type Comment struct {
	ID              string    `json:"id"`
	ChannelID       string    `json:"channelId"`
	ExternalID      string    `json:"externalId"`
	TextOriginal    string    `json:"textOriginal"`
	AuthorName      string    `json:"authorName"`
	AuthorAvatarURL string    `json:"authorAvatarUrl"`
	VideoID         string    `json:"videoId"`
	PublishedAt     time.Time `json:"publishedAt"`
	Category        Category  `json:"category"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// RawComment is a comment as reported by the provider, before reconciliation.
type RawComment struct {
	ExternalID      string
	Text            string
	AuthorName      string
	AuthorAvatarURL string
	VideoID         string
	PublishedAt     time.Time
}

// Credential is an immutable provider credential. Refreshing produces a new value.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// HasRefreshToken reports whether the credential can be renewed without the user.
func (c Credential) HasRefreshToken() bool {
	return strings.TrimSpace(c.RefreshToken) != ""
}

// Expired reports whether the access token is past its expiry, minus skew.
// A zero expiry means the expiry is unknown and the token is assumed valid.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-skew))
}

// Identity is what the authentication collaborator knows about a user once
// consent completes.
type Identity struct {
	ExternalID string
	Email      string
}

// CategoryUpdate changes the category of an already stored comment.
type CategoryUpdate struct {
	ChannelID  string
	ExternalID string
	Category   Category
}

// ChangeSet is the batch of writes staged by one sync run.
type ChangeSet struct {
	Inserts []Comment
	Updates []CategoryUpdate
}

// Empty reports whether the change set has nothing to write.
func (c ChangeSet) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0
}

// RunSummary counts what a sync run did.
type RunSummary struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("Processed %d comments. Added %d new comments, updated %d existing comments.", s.Fetched, s.Created, s.Updated)
}

// SyncJob tracks one queued sync run from the trigger surface's point of view.
type SyncJob struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channelId"`
	Status     string      `json:"status"`
	Summary    *RunSummary `json:"summary,omitempty"`
	Message    string      `json:"message,omitempty"`
	ErrorCode  string      `json:"errorCode,omitempty"`
	Error      string      `json:"error,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
}

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Finished reports whether the job reached a terminal status.
func (j SyncJob) Finished() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
