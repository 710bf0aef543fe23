package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"drugshop-serverless/internal/observability"
)

// Pruner removes revocation records whose tokens have already expired.
type Pruner interface {
	PruneExpired(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type PruneRecorder interface {
	RecordPruned(count int64)
}

type CleanupHandler struct {
	pruner     Pruner
	logger     *observability.Logger
	metrics    PruneRecorder
	cronSecret string
	batchSize  int
	now        func() time.Time
}

type cleanupResult struct {
	DeletedRevocations int64 `json:"deleted_revocations"`
	BatchSize          int   `json:"batch_size"`
}

func NewCleanupHandler(pruner Pruner, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &CleanupHandler{
		pruner:     pruner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
		now:        time.Now,
	}
}

func (h *CleanupHandler) WithMetrics(metrics PruneRecorder) *CleanupHandler {
	h.metrics = metrics
	return h
}

// Handle is disabled (404) unless a cron secret is configured.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	deleted, err := h.pruner.PruneExpired(r.Context(), h.now().UTC(), h.batchSize)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("revocation_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordPruned(deleted)
	}
	h.logger.Info("revocation_cleanup_completed", map[string]any{
		"deleted_revocations": deleted,
		"batch_size":          h.batchSize,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": cleanupResult{DeletedRevocations: deleted, BatchSize: h.batchSize},
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	parts := strings.SplitN(strings.TrimSpace(r.Header.Get("Authorization")), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	given := strings.TrimSpace(parts[1])
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
