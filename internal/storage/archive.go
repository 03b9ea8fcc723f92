package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/commco/backend/internal/models"
)

// ObjectWriter stores a named blob.
type ObjectWriter interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
}

// RunArchive records finished sync jobs as JSON documents keyed by channel.
type RunArchive struct {
	writer ObjectWriter
	prefix string
}

// NewRunArchive constructs a RunArchive writing below prefix.
func NewRunArchive(writer ObjectWriter, prefix string) *RunArchive {
	return &RunArchive{writer: writer, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key a job is archived under.
func (a *RunArchive) Key(job models.SyncJob) string {
	return path.Join(a.prefix, job.ChannelID, job.ID+".json")
}

// ArchiveRun writes the job record. Only finished jobs are archived.
func (a *RunArchive) ArchiveRun(ctx context.Context, job models.SyncJob) error {
	if !job.Finished() {
		return fmt.Errorf("archive job %s: status %s is not terminal", job.ID, job.Status)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return a.writer.Put(ctx, a.Key(job), "application/json", bytes.NewReader(payload))
}
