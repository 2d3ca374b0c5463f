package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMovementRecorded carries one committed inventory movement.
	TaskMovementRecorded = "inventory:movement_recorded"
	// TaskLowStockScan recomputes the low stock gauge for every tenant.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskIdempotencyCleanup purges expired Idempotency-Key claims.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewMovementRecordedTask builds the task for one movement. The movement id
// doubles as the task id so a re-publish of the same movement is dropped.
func NewMovementRecordedTask(evt inventory.MovementRecorded) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(5)}
	if evt.Movement.ID > 0 {
		opts = append(opts, asynq.TaskID(movementTaskID(evt)), asynq.Retention(24*time.Hour))
	}
	return asynq.NewTask(TaskMovementRecorded, body, opts...), nil
}

func movementTaskID(evt inventory.MovementRecorded) string {
	return evt.TenantID + ":movement:" + itoa64(evt.Movement.ID)
}

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

// NewLowStockScanTask constructs the cron task for the low stock scan.
func NewLowStockScanTask() (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload overrides the configured retention when set.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than,omitempty"`
}

// NewIdempotencyCleanupTask constructs the cron task for key cleanup.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
