package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drugshop-serverless/internal/observability"
)

type stubPruner struct {
	deleted  int64
	err      error
	calls    int
	gotNow   time.Time
	gotBatch int
}

func (p *stubPruner) PruneExpired(_ context.Context, now time.Time, batchSize int) (int64, error) {
	p.calls++
	p.gotNow = now
	p.gotBatch = batchSize
	return p.deleted, p.err
}

type prunedCounter struct{ total int64 }

func (c *prunedCounter) RecordPruned(count int64) { c.total += count }

func newHandler(t *testing.T, secret string, pruner *stubPruner) (*CleanupHandler, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	h := NewCleanupHandler(pruner, observability.NewLoggerTo(&logs, true), secret, 100)
	h.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return h, &logs
}

func TestCleanup_DisabledWithoutSecret(t *testing.T) {
	pruner := &stubPruner{}
	h, _ := newHandler(t, "", pruner)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, pruner.calls)
}

func TestCleanup_RejectsWrongSecret(t *testing.T) {
	pruner := &stubPruner{}
	h, _ := newHandler(t, "cron-secret", pruner)

	for _, header := range []string{"", "Bearer nope", "Basic cron-secret", "cron-secret"} {
		req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.Handle(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
	assert.Zero(t, pruner.calls)
}

func TestCleanup_RejectsOtherMethods(t *testing.T) {
	h, _ := newHandler(t, "cron-secret", &stubPruner{})

	req := httptest.NewRequest(http.MethodDelete, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCleanup_PrunesAndRecords(t *testing.T) {
	pruner := &stubPruner{deleted: 7}
	h, logs := newHandler(t, "cron-secret", pruner)
	counter := &prunedCounter{}
	h.WithMetrics(counter)

	req := httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "bearer cron-secret")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, 100, pruner.gotBatch)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), pruner.gotNow)
	assert.Equal(t, int64(7), counter.total)
	assert.Contains(t, logs.String(), "revocation_cleanup_completed")

	var body struct {
		Status string        `json:"status"`
		Result cleanupResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, int64(7), body.Result.DeletedRevocations)
}

func TestCleanup_StorageFailure(t *testing.T) {
	pruner := &stubPruner{err: errors.New("db down")}
	h, logs := newHandler(t, "cron-secret", pruner)

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
	assert.Contains(t, logs.String(), "revocation_cleanup_failed")
}

func TestNewCleanupHandler_DefaultBatch(t *testing.T) {
	h := NewCleanupHandler(&stubPruner{}, nil, "s", 0)
	assert.Equal(t, 500, h.batchSize)
}
