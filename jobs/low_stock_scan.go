package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// LowStockSource reports low stock item counts per tenant.
type LowStockSource interface {
	LowStockCounts(ctx context.Context) (map[string]int, error)
}

// LowStockScanJob refreshes the stockledger_low_stock_items gauge.
type LowStockScanJob struct {
	Source  LowStockSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the low stock scan handler.
func NewLowStockScanJob(source LowStockSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Source == nil {
		return errors.New("low stock scan: handler not configured")
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskLowStockScan)
	defer func() { err = tracker.End(err) }()

	counts, err := j.Source.LowStockCounts(ctx)
	if err != nil {
		j.logger().Error("low stock scan failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetLowStock(counts)
	total := 0
	for _, n := range counts {
		total += n
	}
	j.logger().Info("completed low stock scan",
		slog.Int("tenants", len(counts)),
		slog.Int("items", total),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
