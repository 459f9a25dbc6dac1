package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// SnapshotTTL bounds how long a queued snapshot is kept in Redis.
const SnapshotTTL = 24 * time.Hour

// Device errors.
var (
	ErrResultNotFound   = errors.New("result not found")
	ErrResultIDMismatch = errors.New("result id does not match candidate and session")
	ErrInvalidRecord    = errors.New("invalid result record")
)

// DeviceService handles pushes and pulls from exam devices.
type DeviceService struct {
	resultRepo *repository.ResultRepository
	rdb        *redis.Client
	bus        *Broadcaster
	log        zerolog.Logger
}

// NewDeviceService creates a new DeviceService.
func NewDeviceService(resultRepo *repository.ResultRepository, rdb *redis.Client, bus *Broadcaster, log zerolog.Logger) *DeviceService {
	return &DeviceService{
		resultRepo: resultRepo,
		rdb:        rdb,
		bus:        bus,
		log:        log.With().Str("component", "device_service").Logger(),
	}
}

// CheckRecord verifies that rec belongs to the candidate and session the
// device token was issued for.
func CheckRecord(rec *model.ResultRecord, candidateID, sessionID string) error {
	if rec.CandidateID != candidateID || rec.SessionID != sessionID {
		return ErrResultIDMismatch
	}
	if rec.ID != model.ResultID(candidateID, sessionID) {
		return ErrResultIDMismatch
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidRecord, rec.Status)
	}
	if rec.Final && !rec.Status.Finished() {
		return fmt.Errorf("%w: final record still in progress", ErrInvalidRecord)
	}
	return nil
}

// PushResult stores a snapshot pushed by a device and returns the status the
// device should apply. Final records are written through so the device learns
// they are durable; in-progress snapshots are queued for the result worker.
func (s *DeviceService) PushResult(ctx context.Context, rec *model.ResultRecord) (model.CandidateStatusRecord, error) {
	if rec.Final {
		st, err := s.resultRepo.Upsert(ctx, rec)
		if err != nil {
			return model.CandidateStatusRecord{}, fmt.Errorf("persist final result: %w", err)
		}
		s.rdb.Del(ctx, config.CacheKey.ResultSnapshotKey(rec.ID))
		s.publishResult(ctx, rec, st)
		s.log.Info().
			Str("result_id", rec.ID).
			Str("status", string(st.Status)).
			Msg("Final result stored")
		return st, nil
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return model.CandidateStatusRecord{}, fmt.Errorf("encode snapshot: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ResultSnapshotKey(rec.ID), raw, SnapshotTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.CandidateStatusRecord{}, fmt.Errorf("queue snapshot: %w", err)
	}

	st, err := s.CandidateStatus(ctx, rec.ID)
	if errors.Is(err, ErrResultNotFound) {
		st = model.CandidateStatusRecord{ResultID: rec.ID, Status: model.ResultStatusInProgress}
	} else if err != nil {
		return model.CandidateStatusRecord{}, err
	}

	s.publishResult(ctx, rec, st)
	return st, nil
}

// CandidateStatus returns the status and extra time of one result record.
func (s *DeviceService) CandidateStatus(ctx context.Context, resultID string) (model.CandidateStatusRecord, error) {
	st, err := s.resultRepo.GetStatus(ctx, resultID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CandidateStatusRecord{}, ErrResultNotFound
	}
	return st, err
}

// LatestRecord returns the newest known record of a candidate: the queued
// snapshot if the worker has not stored it yet, else the stored row.
func (s *DeviceService) LatestRecord(ctx context.Context, resultID string) (*model.ResultRecord, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.ResultSnapshotKey(resultID)).Bytes()
	if err == nil {
		rec := &model.ResultRecord{}
		if err := json.Unmarshal(raw, rec); err == nil {
			return rec, nil
		}
		s.log.Warn().Str("result_id", resultID).Msg("Discarding unreadable snapshot")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("result_id", resultID).Msg("Snapshot cache read failed")
	}

	rec, err := s.resultRepo.GetRecord(ctx, resultID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && rec.ID == "") {
		return nil, ErrResultNotFound
	}
	return rec, err
}

func (s *DeviceService) publishResult(ctx context.Context, rec *model.ResultRecord, st model.CandidateStatusRecord) {
	summary := model.SummaryOf(rec, st)
	s.bus.Monitor(ctx, rec.SessionID, model.MonitorEvent{Type: model.MonitorResult, Result: &summary})
}
