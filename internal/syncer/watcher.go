package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/authority"
)

// Watcher probes the authority and reports connectivity transitions to the
// session. OnReconnect runs after every offline → online transition.
type Watcher struct {
	auth        authority.Authority
	target      Target
	interval    time.Duration
	log         zerolog.Logger
	OnReconnect func()
}

func NewWatcher(auth authority.Authority, target Target, interval time.Duration, log zerolog.Logger) *Watcher {
	return &Watcher{
		auth:     auth,
		target:   target,
		interval: interval,
		log:      log.With().Str("component", "connectivity").Logger(),
	}
}

// Check probes once and returns the observed state.
func (w *Watcher) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, w.interval)
	pingErr := w.auth.Ping(pctx)
	cancel()

	online := pingErr == nil
	was := w.target.Online()
	if online == was {
		return online
	}
	if err := w.target.SetOnline(ctx, online); err != nil {
		return online
	}
	if online {
		w.log.Info().Msg("Authority reachable again")
		if w.OnReconnect != nil {
			w.OnReconnect()
		}
	} else {
		w.log.Warn().Err(pingErr).Msg("Authority unreachable, continuing offline")
	}
	return online
}

// Run probes every interval until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Check(ctx)
		}
	}
}
