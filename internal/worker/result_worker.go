package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

const (
	DefaultResultBatchSize = 50
	ResultBatchTimeout     = 2 * time.Second
	ResultPollTimeout      = 1 * time.Second
)

// ResultWorker drains persist_results_queue and batch-upserts the queued
// snapshots into PostgreSQL.
type ResultWorker struct {
	repo      *repository.ResultRepository
	rdb       *redis.Client
	batchSize int
	log       zerolog.Logger
}

func NewResultWorker(repo *repository.ResultRepository, rdb *redis.Client, batchSize int, log zerolog.Logger) *ResultWorker {
	if batchSize <= 0 {
		batchSize = DefaultResultBatchSize
	}
	return &ResultWorker{
		repo:      repo,
		rdb:       rdb,
		batchSize: batchSize,
		log:       log.With().Str("component", "result_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled. The queue carries result ids; repeated
// pushes of one candidate within a batch collapse to the latest snapshot.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("ResultWorker started")

	batch := newPendingBatch(w.batchSize)
	lastFlush := time.Now()

	for {
		if batch.len() > 0 &&
			(batch.len() >= w.batchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch.ids())
			batch.reset()
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch.ids())
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 || item[1] == "" {
				continue
			}
			batch.add(item[1])
		}
	}
}

// pendingBatch keeps queue order while dropping duplicate ids.
type pendingBatch struct {
	order []string
	seen  map[string]struct{}
}

func newPendingBatch(size int) *pendingBatch {
	return &pendingBatch{
		order: make([]string, 0, size),
		seen:  make(map[string]struct{}, size),
	}
}

func (b *pendingBatch) add(id string) {
	if _, ok := b.seen[id]; ok {
		return
	}
	b.seen[id] = struct{}{}
	b.order = append(b.order, id)
}

func (b *pendingBatch) len() int { return len(b.order) }

func (b *pendingBatch) ids() []string { return b.order }

func (b *pendingBatch) reset() {
	b.order = b.order[:0]
	clear(b.seen)
}

// ----------------------------------------------------------------
// Batch upsert wrapper
// ----------------------------------------------------------------

func (w *ResultWorker) flushSafe(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}

	recs := w.loadSnapshots(ctx, ids)
	if len(recs) == 0 {
		return
	}

	if err := w.repo.UpsertBatch(ctx, recs); err != nil {
		w.log.Warn().Err(err).Int("count", len(recs)).Msg("bulk result upsert failed, using fallback")

		for _, rec := range recs {
			if _, err := w.repo.Upsert(ctx, rec); err != nil {
				w.log.Error().Err(err).Str("result_id", rec.ID).Msg("single upsert failed, requeueing")
				w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, rec.ID)
			}
		}
		return
	}

	w.log.Debug().Int("count", len(recs)).Msg("Result batch stored")
}

// loadSnapshots reads the latest snapshot of every id. Ids whose snapshot
// expired or was cleared by a final write are skipped.
func (w *ResultWorker) loadSnapshots(ctx context.Context, ids []string) []*model.ResultRecord {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = config.CacheKey.ResultSnapshotKey(id)
	}

	vals, err := w.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		w.log.Error().Err(err).Msg("MGet snapshots failed, requeueing batch")
		for _, id := range ids {
			w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, id)
		}
		return nil
	}

	recs := make([]*model.ResultRecord, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec := &model.ResultRecord{}
		if err := json.Unmarshal([]byte(s), rec); err != nil {
			w.log.Error().Err(err).Str("result_id", ids[i]).Msg("Invalid snapshot payload")
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}
