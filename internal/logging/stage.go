package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Stage is one named step of a sync run.
type Stage struct {
	name   string
	logger *slog.Logger
	start  time.Time
}

// StartStage derives a logger for the named stage. A run_id is minted when the
// context does not already carry one.
func StartStage(ctx context.Context, name string) (context.Context, *Stage) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)
	if RunIDFromContext(ctx) == "" {
		runID := uuid.NewString()
		ctx = context.WithValue(ctx, runIDKey, runID)
		logger = logger.With(slog.String("run_id", runID))
	}
	logger = logger.With(slog.String("stage", name))

	ctx = WithLogger(ctx, logger)
	return ctx, &Stage{name: name, logger: logger, start: time.Now()}
}

// End emits the completion entry for the stage, at error level when err is set.
func (s *Stage) End(err error) {
	if s == nil {
		return
	}
	elapsed := slog.Duration("duration", time.Since(s.start))
	if err != nil {
		s.logger.Error("stage failed", elapsed, slog.Any("error", err))
		return
	}
	s.logger.Debug("stage completed", elapsed)
}
