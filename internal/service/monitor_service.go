package service

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// MonitorService orchestrates live session monitoring.
type MonitorService struct {
	statusRepo *repository.SessionStatusRepository
	resultRepo *repository.ResultRepository
	bus        *Broadcaster
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(statusRepo *repository.SessionStatusRepository, resultRepo *repository.ResultRepository, bus *Broadcaster) *MonitorService {
	return &MonitorService{statusRepo: statusRepo, resultRepo: resultRepo, bus: bus}
}

// MonitorSnapshot is the initial state sent when a proctor opens the monitor.
type MonitorSnapshot struct {
	Session *model.SessionStatusRecord `json:"session"`
	Results []model.ResultSummary      `json:"results"`
}

// Snapshot loads the session record and candidate rows concurrently.
func (s *MonitorService) Snapshot(ctx context.Context, sessionID string) (*MonitorSnapshot, error) {
	var (
		session    *model.SessionStatusRecord
		results    []model.ResultSummary
		sessionErr error
		resultsErr error
		wg         sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		session, sessionErr = s.statusRepo.Get(ctx, sessionID)
	}()
	go func() {
		defer wg.Done()
		results, resultsErr = s.resultRepo.ListBySession(ctx, sessionID)
	}()
	wg.Wait()

	// Candidate rows are the point of the monitor; a session that was never
	// opened just has no status yet.
	if resultsErr != nil {
		return nil, resultsErr
	}
	if sessionErr != nil && !errors.Is(sessionErr, pgx.ErrNoRows) {
		return nil, sessionErr
	}
	if session == nil {
		session = &model.SessionStatusRecord{SessionID: sessionID, Status: model.SessionStatusPreparing}
	}

	return &MonitorSnapshot{Session: session, Results: results}, nil
}

// Subscribe opens the live monitor feed of a session. Callers must close it.
func (s *MonitorService) Subscribe(ctx context.Context, sessionID string) *redis.PubSub {
	return s.bus.SubscribeMonitor(ctx, sessionID)
}
