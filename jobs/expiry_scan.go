package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/dukaan-erp/dukaan-erp/internal/jobs"
	"github.com/dukaan-erp/dukaan-erp/internal/shared"
	"github.com/dukaan-erp/dukaan-erp/internal/stock"
)

// ExpiryScanJob transitions batches past their expiry date out of the
// consumable pool and reports how many expire soon.
type ExpiryScanJob struct {
	stock   *stock.Service
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewExpiryScanJob constructs the job.
func NewExpiryScanJob(stockSvc *stock.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{stock: stockSvc, logger: logger, metrics: metrics}
}

// Handle processes TaskStockExpiryScan tasks.
func (j *ExpiryScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("stock_expiry_scan")
	expired, expiringSoon, err := j.stock.ExpiryScan(ctx)
	if err != nil {
		return tracker.End(err)
	}
	j.metrics.SetExpiringSoon(expiringSoon)
	j.logger.Info("expiry scan finished",
		slog.Int("expired", expired),
		slog.Int("expiring_soon", expiringSoon))
	return tracker.End(nil)
}

// IdempotencyCleanupJob prunes processed idempotency keys after the
// retention window.
type IdempotencyCleanupJob struct {
	store   *shared.IdempotencyStore
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger, metrics: metrics}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	payload := IdempotencyCleanupPayload{OlderThan: 48 * time.Hour}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics.Track("idempotency_cleanup")
	return tracker.End(j.store.Cleanup(ctx, payload.OlderThan))
}
