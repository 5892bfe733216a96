package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-live/internal/config"
	"github.com/stemsi/exstem-live/internal/metrics"
	"github.com/stemsi/exstem-live/internal/model"
)

const (
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
)

// ResultWriter is the durable side of the queue.
type ResultWriter interface {
	InsertBatch(ctx context.Context, records []*model.ExamRecord) error
	Insert(ctx context.Context, record *model.ExamRecord) error
}

// ResultWorker drains persist_results_queue into PostgreSQL in batches.
type ResultWorker struct {
	writer    ResultWriter
	rdb       *redis.Client
	batchSize int
	log       zerolog.Logger
}

func NewResultWorker(writer ResultWriter, rdb *redis.Client, batchSize int, log zerolog.Logger) *ResultWorker {
	if batchSize < 1 {
		batchSize = 1
	}
	return &ResultWorker{
		writer:    writer,
		rdb:       rdb,
		batchSize: batchSize,
		log:       log.With().Str("component", "result_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled, then flushes what it holds. Call in a
// goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]*model.ExamRecord, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= ResultBatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					select {
					case <-ctx.Done():
					case <-time.After(ResultPollTimeout):
					}
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var rec model.ExamRecord
			if err := json.Unmarshal([]byte(item[1]), &rec); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, &rec)
		}
	}
}

// ----------------------------------------------------------------
// Batch insert with per-record fallback
// ----------------------------------------------------------------

func (w *ResultWorker) flushSafe(ctx context.Context, batch []*model.ExamRecord) {
	if len(batch) == 0 {
		return
	}

	err := w.writer.InsertBatch(ctx, batch)
	if err == nil {
		metrics.ResultsPersisted.WithLabelValues("ok").Add(float64(len(batch)))
		w.log.Debug().Int("count", len(batch)).Msg("Results persisted")
		return
	}
	w.log.Warn().Err(err).Msg("batch insert failed, using fallback")

	for _, rec := range batch {
		if err := w.writer.Insert(ctx, rec); err != nil {
			w.log.Error().Err(err).Str("exam_code", rec.ExamCode).Msg("insert failed, requeueing")
			if err := w.requeue(ctx, rec); err != nil {
				w.log.Error().Err(err).Str("exam_code", rec.ExamCode).Msg("requeue failed, record dropped")
				metrics.ResultsPersisted.WithLabelValues("lost").Inc()
				continue
			}
			metrics.ResultsPersisted.WithLabelValues("requeued").Inc()
			continue
		}
		metrics.ResultsPersisted.WithLabelValues("ok").Inc()
	}
}

func (w *ResultWorker) requeue(ctx context.Context, rec *model.ExamRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw).Err()
}
