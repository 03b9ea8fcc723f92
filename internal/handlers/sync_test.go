package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/commco/backend/internal/middleware"
	"github.com/commco/backend/internal/models"
	"github.com/commco/backend/internal/pipeline"
	"github.com/commco/backend/internal/repositories"
)

type stubChannels struct {
	channels map[string]models.Channel
	err      error
}

func (s stubChannels) FindChannel(_ context.Context, id string) (models.Channel, error) {
	if s.err != nil {
		return models.Channel{}, s.err
	}
	ch, ok := s.channels[id]
	if !ok {
		return models.Channel{}, repositories.ErrNotFound
	}
	return ch, nil
}

type stubQueue struct {
	jobs     map[string]models.SyncJob
	err      error
	enqueued []string
}

func (s *stubQueue) Enqueue(_ context.Context, channelID string) (models.SyncJob, error) {
	if s.err != nil {
		return models.SyncJob{}, s.err
	}
	s.enqueued = append(s.enqueued, channelID)
	job := models.SyncJob{ID: "job-1", ChannelID: channelID, Status: models.JobStatusQueued}
	if s.jobs == nil {
		s.jobs = make(map[string]models.SyncJob)
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *stubQueue) Job(id string) (models.SyncJob, bool) {
	job, ok := s.jobs[id]
	return job, ok
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func knownChannels() stubChannels {
	return stubChannels{channels: map[string]models.Channel{"chan-1": {ID: "chan-1", AccountID: "acct-1"}}}
}

func newTestMux(deps Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return mux
}

func TestSyncTriggerQueuesJob(t *testing.T) {
	queue := &stubQueue{}
	mux := newTestMux(Dependencies{Channels: knownChannels(), Queue: queue})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/channels/chan-1/sync", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d got %d: %s", http.StatusAccepted, rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "/api/v1/sync-jobs/job-1" {
		t.Fatalf("unexpected location %q", got)
	}

	var resp jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Job.Status != models.JobStatusQueued || resp.Job.ChannelID != "chan-1" {
		t.Fatalf("unexpected job %+v", resp.Job)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one enqueue, got %d", len(queue.enqueued))
	}
}

func TestSyncTriggerErrors(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		deps    Dependencies
		status  int
		enqueue bool
	}{
		{
			name:   "unknown channel",
			path:   "/api/v1/channels/missing/sync",
			deps:   Dependencies{Channels: knownChannels(), Queue: &stubQueue{}},
			status: http.StatusNotFound,
		},
		{
			name:   "rate limited",
			path:   "/api/v1/channels/chan-1/sync",
			deps:   Dependencies{Channels: knownChannels(), Queue: &stubQueue{}, SyncLimiter: denyAll{}},
			status: http.StatusTooManyRequests,
		},
		{
			name:   "queue full",
			path:   "/api/v1/channels/chan-1/sync",
			deps:   Dependencies{Channels: knownChannels(), Queue: &stubQueue{err: pipeline.ErrQueueFull}},
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "store failure",
			path:   "/api/v1/channels/chan-1/sync",
			deps:   Dependencies{Channels: stubChannels{err: repositories.ErrPersistence}, Queue: &stubQueue{}},
			status: http.StatusInternalServerError,
		},
		{
			name:   "missing dependencies",
			path:   "/api/v1/channels/chan-1/sync",
			status: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestMux(tc.deps).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, nil))
			if rec.Code != tc.status {
				t.Fatalf("expected status %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSyncTriggerRejectsGet(t *testing.T) {
	rec := httptest.NewRecorder()
	SyncHandler{Channels: knownChannels(), Queue: &stubQueue{}}.Trigger(rec, httptest.NewRequest(http.MethodGet, "/api/v1/channels/chan-1/sync", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected method not allowed got %d", rec.Code)
	}
}

func TestSyncJobStatus(t *testing.T) {
	summary := models.RunSummary{Fetched: 3, Created: 3}
	queue := &stubQueue{jobs: map[string]models.SyncJob{
		"job-9": {ID: "job-9", ChannelID: "chan-1", Status: models.JobStatusSucceeded, Summary: &summary},
	}}
	mux := newTestMux(Dependencies{Queue: queue})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync-jobs/job-9", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var resp jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Job.Summary == nil || resp.Job.Summary.Created != 3 {
		t.Fatalf("unexpected job %+v", resp.Job)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync-jobs/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestStatusForErrors(t *testing.T) {
	cases := map[int]error{
		http.StatusNotFound:            repositories.ErrNotFound,
		http.StatusUnauthorized:        &pipeline.RunError{Code: pipeline.CodeCredentialExpired, Err: errors.New("expired")},
		http.StatusForbidden:           &pipeline.RunError{Code: pipeline.CodePermissionDenied, Err: errors.New("denied")},
		http.StatusBadGateway:          &pipeline.RunError{Code: pipeline.CodeSourceUnavailable, Err: errors.New("quota")},
		http.StatusInternalServerError: errors.New("boom"),
	}

	for want, err := range cases {
		if got, _ := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

type recordingLimiter struct {
	keys []string
}

func (l *recordingLimiter) Allow(key string) bool {
	l.keys = append(l.keys, key)
	return true
}

func TestSyncTriggerLimiterKey(t *testing.T) {
	cases := []struct {
		name      string
		trust     bool
		forwarded string
		want      string
	}{
		{"remote address", false, "", "sync:chan-1:192.0.2.10"},
		{"forwarded for ignored by default", false, "198.51.100.7", "sync:chan-1:192.0.2.10"},
		{"forwarded for behind trusted proxy", true, "198.51.100.7, 10.0.0.1", "sync:chan-1:198.51.100.7"},
		{"trusted proxy without header", true, "", "sync:chan-1:192.0.2.10"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limiter := &recordingLimiter{}
			mux := newTestMux(Dependencies{
				Channels:          knownChannels(),
				Queue:             &stubQueue{},
				SyncLimiter:       limiter,
				TrustForwardedFor: tc.trust,
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/chan-1/sync", nil)
			req.RemoteAddr = "192.0.2.10:54321"
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusAccepted {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if len(limiter.keys) != 1 || limiter.keys[0] != tc.want {
				t.Fatalf("limiter keys = %v, want [%s]", limiter.keys, tc.want)
			}
		})
	}
}

func TestSyncTriggerRotatingForwardedForSharesBucket(t *testing.T) {
	limiter := middleware.NewKeyedRateLimiter(1, time.Minute, 1, time.Hour)
	mux := newTestMux(Dependencies{Channels: knownChannels(), Queue: &stubQueue{}, SyncLimiter: limiter})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/chan-1/sync", nil)
		req.RemoteAddr = "192.0.2.10:54321"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("status codes = %v, want one accepted then limited", codes)
	}
}

func TestSyncTriggerRateLimitedSetsRetryAfter(t *testing.T) {
	mux := newTestMux(Dependencies{Channels: knownChannels(), Queue: &stubQueue{}, SyncLimiter: denyAll{}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/channels/chan-1/sync", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
}
