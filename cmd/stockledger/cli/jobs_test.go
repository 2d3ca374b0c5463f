package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/jobs"
)

func TestBuildTask(t *testing.T) {
	task, err := BuildTask("low-stock-scan", 0)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLowStockScan, task.Type())

	task, err = BuildTask(jobs.TaskIdempotencyCleanup, 48*time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIdempotencyCleanup, task.Type())
	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 48*time.Hour, payload.OlderThan)

	_, err = BuildTask("fx-backfill", 0)
	require.Error(t, err)
}

func TestNewJobsCLIRequiresRedis(t *testing.T) {
	_, err := NewJobsCLI("")
	require.Error(t, err)
}
