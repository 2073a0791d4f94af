package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examify/examify-backend/internal/config"
	"github.com/examify/examify-backend/internal/model"
)

// AnswerWorker consumes queued sheet snapshots and autosaves them to
// PostgreSQL. The in-memory store stays authoritative; this is crash
// recovery, so the newest snapshot simply wins.
type AnswerWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewAnswerWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "answer_worker").Logger(),
	}
}

// AnswerSnapshot is the queue payload: the full ordered entry list of one
// sheet at the moment an answer changed.
type AnswerSnapshot struct {
	SheetID uuid.UUID           `json:"sheet_id"`
	Entries []model.AnswerEntry `json:"entries"`
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AnswerWorker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("AnswerWorker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("AnswerWorker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AnswerWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var snap AnswerSnapshot
	if err := json.Unmarshal([]byte(result[1]), &snap); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persistSnapshot(ctx, &snap); err != nil {
		w.log.Error().Err(err).
			Str("answer_sheet_id", snap.SheetID.String()).
			Msg("Persist error, retrying in 5s")
		w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *AnswerWorker) persistSnapshot(ctx context.Context, snap *AnswerSnapshot) error {
	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return err
	}

	// Submitted sheets are frozen; a stale snapshot must not reopen them.
	_, err = w.pool.Exec(ctx,
		`UPDATE answer_sheets SET entries = $2::jsonb
         WHERE id = $1 AND submit_status = FALSE`,
		snap.SheetID, entries,
	)
	return err
}

// drain processes all remaining items in the queue before shutdown.
func (w *AnswerWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		var snap AnswerSnapshot
		if err := json.Unmarshal([]byte(result), &snap); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persistSnapshot(ctx, &snap); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining snapshots")
	}
}

// EnqueueSnapshot pushes a sheet snapshot for asynchronous persistence.
// Failures are logged and swallowed; the live store is unaffected.
func EnqueueSnapshot(ctx context.Context, rdb *redis.Client, log zerolog.Logger, snap AnswerSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode answer snapshot")
		return
	}
	if err := rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, data).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to enqueue answer snapshot")
	}
}
