package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/proctor"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// FlagWorker consumes queued cheat-flag records and persists them in
// batches: an audit row per flag plus the denormalized flag counters on the
// sheet. Sessions never wait on this path.
type FlagWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewFlagWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *FlagWorker {
	return &FlagWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "flag_worker").Logger(),
	}
}

func (w *FlagWorker) Start(ctx context.Context) {
	w.log.Info().Msg("FlagWorker started")

	buffer := make([]*proctor.FlagRecord, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistFlagsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // queue empty, loop back to check the flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var rec proctor.FlagRecord
		if err := json.Unmarshal([]byte(result[1]), &rec); err != nil {
			// Malformed JSON can never succeed on retry. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed flag record")
			continue
		}

		buffer = append(buffer, &rec)
	}
}

// flushSafe attempts bulk insert, then row-by-row recovery with requeue.
func (w *FlagWorker) flushSafe(ctx context.Context, batch []*proctor.FlagRecord) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.markSheets(ctx, batch)
}

func (w *FlagWorker) bulkInsert(ctx context.Context, batch []*proctor.FlagRecord) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, rec := range batch {
		rows = append(rows, []interface{}{
			rec.SheetID, rec.StudentID, rec.ExamID, string(rec.Kind), time.Unix(rec.Timestamp, 0),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"cheat_events"},
		[]string{"answer_sheet_id", "student_id", "exam_id", "kind", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *FlagWorker) fallbackInsert(ctx context.Context, batch []*proctor.FlagRecord) {
	requeueList := make([]*proctor.FlagRecord, 0)
	persisted := make([]*proctor.FlagRecord, 0, len(batch))

	for _, rec := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO cheat_events (answer_sheet_id, student_id, exam_id, kind, recorded_at)
             VALUES ($1, $2, $3, $4, $5)`,
			rec.SheetID, rec.StudentID, rec.ExamID, string(rec.Kind), time.Unix(rec.Timestamp, 0),
		)
		if err != nil {
			w.log.Error().Err(err).
				Str("answer_sheet_id", rec.SheetID.String()).
				Msg("Insert failed, requeueing")
			requeueList = append(requeueList, rec)
			continue
		}
		persisted = append(persisted, rec)
	}

	if len(persisted) > 0 {
		w.markSheets(ctx, persisted)
	}
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

// markSheets bumps the flag counter for every sheet in the batch. The
// active flag is written synchronously at detection time; setting it here
// too would overwrite an unlock that happened while the batch was pending.
func (w *FlagWorker) markSheets(ctx context.Context, batch []*proctor.FlagRecord) {
	counts := make(map[string]int, len(batch))
	for _, rec := range batch {
		counts[rec.SheetID.String()]++
	}

	for sheetID, n := range counts {
		_, err := w.pool.Exec(ctx,
			`UPDATE answer_sheets
             SET cheat_flag_count = cheat_flag_count + $2
             WHERE id = $1 AND submit_status = FALSE`,
			sheetID, n,
		)
		if err != nil {
			// The audit rows are already stored; the counter can be rebuilt
			// from them, so this is not requeued.
			w.log.Error().Err(err).Str("answer_sheet_id", sheetID).Msg("Failed to update sheet flag counters")
		}
	}
}

func (w *FlagWorker) requeue(ctx context.Context, items []*proctor.FlagRecord) {
	pipe := w.rdb.Pipeline()
	for _, rec := range items {
		data, _ := json.Marshal(rec)
		pipe.RPush(ctx, config.WorkerKey.PersistFlagsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue flag records. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed flag records")
	// Avoid thrashing while the database is down.
	time.Sleep(2 * time.Second)
}

func (w *FlagWorker) shutdown(buffer []*proctor.FlagRecord) {
	w.log.Info().Msg("FlagWorker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
