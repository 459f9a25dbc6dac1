// Package localstore persists the in-progress session state and the final
// result of one candidate session on the device.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Backend is a raw key/value medium. Get returns ErrNotFound for absent keys.
// Concurrent writers to the same key are last-writer-wins.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key identifies a candidate session.
type Key struct {
	CandidateID string
	SessionID   string
}

// KeyFor returns the store key of a descriptor.
func KeyFor(d model.SessionDescriptor) Key {
	return Key{CandidateID: d.CandidateID, SessionID: d.SessionID}
}

func (k Key) state() string  { return config.CacheKey.CandidateStateKey(k.CandidateID, k.SessionID) }
func (k Key) result() string { return config.CacheKey.CandidateResultKey(k.CandidateID, k.SessionID) }

// Store reads and writes versioned session documents through a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
	log     zerolog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for envelopes.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log.With().Str("component", "localstore").Logger() }
}

// New wraps a backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load returns the persisted state, ErrNotFound when absent or ErrCorrupt
// when the entry cannot be trusted.
func (s *Store) Load(ctx context.Context, k Key) (*model.SessionState, error) {
	data, err := s.backend.Get(ctx, k.state())
	if err != nil {
		return nil, err
	}
	st, err := DecodeState(data)
	if err != nil {
		return nil, err
	}
	s.log.Debug().
		Str("candidate_id", k.CandidateID).
		Str("session_id", k.SessionID).
		Int("answers", len(st.Answers)).
		Msg("State loaded")
	return st, nil
}

// Save overwrites the persisted state.
func (s *Store) Save(ctx context.Context, k Key, st *model.SessionState) error {
	data, err := EncodeState(st, s.now())
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, k.state(), data); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Clear removes the in-progress state. Clearing an absent entry is not an error.
func (s *Store) Clear(ctx context.Context, k Key) error {
	if err := s.backend.Delete(ctx, k.state()); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// LoadResult returns the final result slot.
func (s *Store) LoadResult(ctx context.Context, k Key) (*model.ResultRecord, error) {
	data, err := s.backend.Get(ctx, k.result())
	if err != nil {
		return nil, err
	}
	return DecodeResult(data)
}

// SaveResult writes the final result slot.
func (s *Store) SaveResult(ctx context.Context, k Key, rec *model.ResultRecord) error {
	data, err := EncodeResult(rec, s.now())
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, k.result(), data); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// Reset drops both the state and the result slot. Used by operators only.
func (s *Store) Reset(ctx context.Context, k Key) error {
	if err := s.Clear(ctx, k); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, k.result()); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("clear result: %w", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
