// Package syncer reconciles a running session with the authority: periodic
// push of the result snapshot, pull of session and candidate status, and the
// fast-path command stream.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/authority"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Target is the session side of synchronization.
type Target interface {
	Descriptor() model.SessionDescriptor
	SyncSnapshot(ctx context.Context) (model.SyncSnapshot, error)
	ApplyRemoteCommand(ctx context.Context, cmd model.Command) error
	Online() bool
	SetOnline(ctx context.Context, online bool) error
}

// Report describes what one tick did.
type Report struct {
	Skipped      bool
	Pushed       bool
	Pulled       bool
	Final        bool
	Commands     int
	PushErr      error
	SessionErr   error
	CandidateErr error
}

// Engine runs the reconciliation loop. Failures are logged and retried on
// the next tick; they never reach the candidate.
type Engine struct {
	target   Target
	auth     authority.Authority
	commands authority.CommandSource
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	kick     chan struct{}

	mu             sync.Mutex
	finalDelivered bool
}

// Options configures an Engine.
type Options struct {
	Interval time.Duration
	// RequestTimeout bounds each push or pull. Zero means no extra bound.
	RequestTimeout time.Duration
	// Commands is the optional fast-path stream.
	Commands authority.CommandSource
	Log      zerolog.Logger
}

func New(target Target, auth authority.Authority, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Second
	}
	return &Engine{
		target:   target,
		auth:     auth,
		commands: opts.Commands,
		interval: opts.Interval,
		timeout:  opts.RequestTimeout,
		log:      opts.Log.With().Str("component", "syncer").Logger(),
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate tick from Run.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// FinalDelivered reports whether the terminal record reached the authority.
func (e *Engine) FinalDelivered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalDelivered
}

// Run ticks every interval and forwards fast-path commands until ctx ends or
// the final record has been delivered.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(e.interval)
	defer t.Stop()

	var cmds <-chan model.Command
	if e.commands != nil {
		cmds = e.commands.Commands()
	}

	e.Tick(ctx)
	for {
		if e.FinalDelivered() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Tick(ctx)
		case <-e.kick:
			e.Tick(ctx)
		case cmd, ok := <-cmds:
			if !ok {
				cmds = nil
				continue
			}
			if err := e.target.ApplyRemoteCommand(ctx, cmd); err != nil {
				return
			}
			// A fast-path block or end finalizes the session; deliver the
			// final record without waiting for the next tick.
			e.Kick()
		}
	}
}

func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

// Tick runs one push/pull round.
func (e *Engine) Tick(ctx context.Context) Report {
	var rep Report
	if !e.target.Online() {
		rep.Skipped = true
		return rep
	}

	snap, err := e.target.SyncSnapshot(ctx)
	if err != nil || snap.Record == nil {
		rep.Skipped = true
		return rep
	}
	log := e.log.With().Str("result_id", snap.Record.ID).Logger()

	if snap.Record.Final {
		rep.Final = true
		if e.FinalDelivered() {
			rep.Skipped = true
			return rep
		}
		if rep.PushErr = e.push(ctx, snap.Record); rep.PushErr != nil {
			log.Warn().Err(rep.PushErr).Msg("Final result push failed, retrying next tick")
			return rep
		}
		rep.Pushed = true
		e.mu.Lock()
		e.finalDelivered = true
		e.mu.Unlock()
		log.Info().Str("status", string(snap.Record.Status)).Msg("Final result delivered")
		return rep
	}

	if rep.PushErr = e.push(ctx, snap.Record); rep.PushErr != nil {
		log.Debug().Err(rep.PushErr).Msg("Snapshot push failed")
	} else {
		rep.Pushed = true
	}

	cmds := e.pull(ctx, snap.Record, &rep)
	for _, cmd := range cmds {
		if err := e.target.ApplyRemoteCommand(ctx, cmd); err != nil {
			break
		}
		rep.Commands++
	}
	return rep
}

func (e *Engine) push(ctx context.Context, rec *model.ResultRecord) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	_, err := e.auth.PushResult(ctx, rec)
	return err
}

// pull turns remote status into commands. Announcements and extra time come
// before termination so they are logged in the final record.
func (e *Engine) pull(ctx context.Context, rec *model.ResultRecord, rep *Report) []model.Command {
	var (
		cmds []model.Command
		end  []model.Command
		now  = time.Now()
	)

	sctx, cancel := e.bound(ctx)
	sess, err := e.auth.SessionStatus(sctx, rec.SessionID)
	cancel()
	switch {
	case err == nil:
		rep.Pulled = true
		if sess.Announcement != "" {
			cmds = append(cmds, model.Command{Kind: model.CommandAnnouncement, SessionID: rec.SessionID, Announcement: sess.Announcement, IssuedAt: now})
		}
		if sess.Status == model.SessionStatusEnded {
			end = append(end, model.Command{Kind: model.CommandEndSession, SessionID: rec.SessionID, IssuedAt: now})
		}
	case errors.Is(err, authority.ErrNotFound):
	default:
		rep.SessionErr = err
		e.log.Debug().Err(err).Msg("Session status pull failed")
	}

	cctx, cancel := e.bound(ctx)
	cand, err := e.auth.CandidateStatus(cctx, rec.ID)
	cancel()
	switch {
	case err == nil:
		rep.Pulled = true
		if cand.ExtraTimeMinutes > 0 {
			cmds = append(cmds, model.Command{Kind: model.CommandExtraTime, SessionID: rec.SessionID, CandidateID: rec.CandidateID, ExtraTimeMinutes: cand.ExtraTimeMinutes, IssuedAt: now})
		}
		if cand.Status == model.ResultStatusBlocked {
			end = append([]model.Command{{Kind: model.CommandBlock, SessionID: rec.SessionID, CandidateID: rec.CandidateID, IssuedAt: now}}, end...)
		}
	case errors.Is(err, authority.ErrNotFound):
	default:
		rep.CandidateErr = err
		e.log.Debug().Err(err).Msg("Candidate status pull failed")
	}

	return append(cmds, end...)
}
