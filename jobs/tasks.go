package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity sweeps stored balances against the posting
	// stream.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskStockExpiryScan transitions batches past their expiry date.
	TaskStockExpiryScan = "stock:expiry_scan"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerIntegrityPayload scopes an integrity sweep to a cutoff date.
// Zero AsOf means "now".
type LedgerIntegrityPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewLedgerIntegrityTask constructs an integrity sweep task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// NewStockExpiryScanTask constructs an expiry scan task.
func NewStockExpiryScanTask() *asynq.Task {
	return asynq.NewTask(TaskStockExpiryScan, nil)
}

// IdempotencyCleanupPayload bounds the retention window for processed
// keys.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
