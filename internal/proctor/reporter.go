package proctor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/examify/examify-backend/internal/config"
	"github.com/redis/go-redis/v9"
)

// QueueReporter pushes flag records onto the Redis persistence queue
// consumed by the flag worker.
type QueueReporter struct {
	rdb *redis.Client
}

// NewQueueReporter creates a QueueReporter.
func NewQueueReporter(rdb *redis.Client) *QueueReporter {
	return &QueueReporter{rdb: rdb}
}

// ReportFlag enqueues one flag record.
func (r *QueueReporter) ReportFlag(ctx context.Context, rec FlagRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal flag record: %w", err)
	}
	if err := r.rdb.RPush(ctx, config.WorkerKey.PersistFlagsQueue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue flag record: %w", err)
	}
	return nil
}
