package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// MovementRecordedJob reacts to committed movements. Movements that take an
// item to or below its reorder point are logged and counted.
type MovementRecordedJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMovementRecordedJob initialises the movement handler.
func NewMovementRecordedJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *MovementRecordedJob {
	return &MovementRecordedJob{Logger: logger, Metrics: metrics}
}

// Handle processes TaskMovementRecorded tasks.
func (j *MovementRecordedJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("movement recorded: handler not configured")
	}
	var evt inventory.MovementRecorded
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskMovementRecorded)
	defer func() { err = tracker.End(err) }()

	mv := evt.Movement
	logger := j.logger().With(
		slog.String("tenant", evt.TenantID),
		slog.Int64("movement_id", mv.ID),
		slog.Int64("product_id", mv.ProductID),
		slog.Int64("location_id", mv.LocationID),
	)
	logger.Debug("movement recorded", slog.String("type", string(mv.Type)), slog.Int64("quantity", mv.Quantity))
	if evt.CrossedReorderPoint() {
		attrs := []any{slog.Int64("on_hand", mv.NewQuantity), slog.Int64("reorder_point", *evt.ReorderPoint)}
		if evt.ReorderQuantity != nil {
			attrs = append(attrs, slog.Int64("reorder_quantity", *evt.ReorderQuantity))
		}
		logger.Warn("item reached reorder point", attrs...)
		j.Metrics.AddReorderCrossings(evt.TenantID, 1)
	}
	return nil
}

func (j *MovementRecordedJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
