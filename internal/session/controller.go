// Package session is the exam session controller. All state changes run on a
// single goroutine; every public method queues a request and waits for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/localstore"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/scoring"
)

// Options configures a Controller.
type Options struct {
	Store *localstore.Store
	// Now defaults to time.Now.
	Now func() time.Time
	Log zerolog.Logger
	// EventBuffer is the per-subscriber channel size. Slow subscribers miss
	// events rather than stall the controller.
	EventBuffer int
}

// Controller owns one candidate session.
type Controller struct {
	store       *localstore.Store
	now         func() time.Time
	log         zerolog.Logger
	eventBuffer int

	requests chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	subsMu sync.Mutex
	subs   map[int]chan Event
	nextID int

	// Loop-owned below.
	desc       model.SessionDescriptor
	questions  []model.QuestionSpec
	index      map[string]int
	key        localstore.Key
	state      *model.SessionState
	result     *model.ResultRecord
	onBlock    []func()
	lastRemain time.Duration
}

// New starts the controller loop.
func New(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 32
	}
	c := &Controller{
		store:       opts.Store,
		now:         opts.Now,
		log:         opts.Log.With().Str("component", "session").Logger(),
		eventBuffer: opts.EventBuffer,
		requests:    make(chan func()),
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		subs:        make(map[int]chan Event),
		state:       model.NewSessionState(),
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.stopped)
	for {
		select {
		case fn := <-c.requests:
			fn()
		case <-c.quit:
			return
		}
	}
}

// do runs fn on the controller goroutine and waits for it.
func (c *Controller) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.requests <- func() { defer close(done); fn() }:
	case <-c.stopped:
		return ErrClosed
	}
	<-done
	return nil
}

// Close stops the loop and closes subscriber channels. Persisted state is
// left untouched so the session can be resumed.
func (c *Controller) Close() {
	c.stopOnce.Do(func() {
		close(c.quit)
		<-c.stopped

		c.subsMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subsMu.Unlock()
	})
}

// Subscribe returns a channel of events and a function to stop receiving.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, c.eventBuffer)

	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subsMu.Unlock()

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

// OnBlock registers fn to run on the controller goroutine when the session is
// blocked. fn must not call back into the controller.
func (c *Controller) OnBlock(fn func()) error {
	return c.do(func() { c.onBlock = append(c.onBlock, fn) })
}

func (c *Controller) emit(ev Event) {
	ev.At = c.now()
	ev.Phase = c.state.Phase

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// Start creates the session or resumes it from the local store. An expiry
// already in the past finalizes the session immediately with an auto-submit.
func (c *Controller) Start(ctx context.Context, desc model.SessionDescriptor, questions []model.QuestionSpec) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	index := make(map[string]int, len(questions))
	for i, q := range questions {
		if err := q.Validate(); err != nil {
			return err
		}
		if _, dup := index[q.ID]; dup {
			return fmt.Errorf("duplicate question id %s", q.ID)
		}
		index[q.ID] = i
	}

	var err error
	if doErr := c.do(func() { err = c.start(ctx, desc, questions, index) }); doErr != nil {
		return doErr
	}
	return err
}

func (c *Controller) start(ctx context.Context, desc model.SessionDescriptor, questions []model.QuestionSpec, index map[string]int) error {
	if c.state.Phase != model.PhaseNotStarted {
		return ErrAlreadyStarted
	}
	key := localstore.KeyFor(desc)
	log := c.log.With().Str("candidate_id", desc.CandidateID).Str("session_id", desc.SessionID).Logger()

	prev, err := c.store.LoadResult(ctx, key)
	switch {
	case err == nil:
		return &AlreadyFinalizedError{Result: prev}
	case errors.Is(err, localstore.ErrCorrupt):
		log.Warn().Err(err).Msg("Unreadable local result slot ignored")
	case !errors.Is(err, localstore.ErrNotFound):
		return fmt.Errorf("read local result: %w", err)
	}

	st, err := c.store.Load(ctx, key)
	resumed := err == nil
	switch {
	case err == nil:
	case errors.Is(err, localstore.ErrNotFound):
		st = model.NewSessionState()
	case errors.Is(err, localstore.ErrCorrupt):
		// Cold start: the candidate begins again at question one.
		log.Warn().Err(err).Msg("Local session state corrupt, starting empty")
		st = model.NewSessionState()
		defer c.emit(Event{Kind: EventAnomaly, Anomaly: AnomalyStateReset, Note: err.Error()})
	default:
		return fmt.Errorf("read local state: %w", err)
	}

	c.desc = desc
	c.questions = questions
	c.index = index
	c.key = key
	c.state = st
	c.state.Phase = model.PhaseInProgress
	c.state.Cursor = c.clampCursor(st.Cursor)

	if resumed {
		log.Info().
			Int("answers", len(st.Answers)).
			Int("violations", st.ViolationCount).
			Int("extra_time_minutes", st.ExtraTimeMinutes).
			Msg("Session resumed from local store")
		c.emit(Event{Kind: EventResumed, Cursor: c.state.Cursor, ViolationCount: st.ViolationCount, ExtraTimeMinutes: st.ExtraTimeMinutes})
	} else {
		log.Info().Int("questions", len(questions)).Time("expiry", desc.Expiry).Msg("Session started")
		c.persist(ctx)
		c.emit(Event{Kind: EventStarted})
	}

	c.tick(ctx)
	return nil
}

func (c *Controller) clampCursor(i int) int {
	if i < 0 || len(c.questions) == 0 {
		return 0
	}
	if i >= len(c.questions) {
		return len(c.questions) - 1
	}
	return i
}

// persist writes the state synchronously. A failed write keeps the in-memory
// state and is surfaced as an anomaly.
func (c *Controller) persist(ctx context.Context) {
	if err := c.store.Save(ctx, c.key, c.state); err != nil {
		c.log.Error().Err(err).Msg("Local state write failed")
		c.emit(Event{Kind: EventAnomaly, Anomaly: AnomalyWriteFailed, Note: err.Error()})
	}
}

// mutable reports whether answer-level mutations are accepted. A finalized
// session silently ignores them.
func (c *Controller) mutable() (bool, error) {
	switch c.state.Phase {
	case model.PhaseNotStarted:
		return false, ErrNotStarted
	case model.PhaseBlocked:
		return false, ErrSessionBlocked
	case model.PhaseInProgress:
		return true, nil
	}
	return false, nil
}

// ─── Answers ────────────────────────────────────────────────────────

// RecordAnswer validates and stores an answer. A single label sent for a
// multi-choice question toggles it in the selection. A nil value clears the
// answer.
func (c *Controller) RecordAnswer(ctx context.Context, questionID string, value *model.AnswerValue) error {
	var err error
	if doErr := c.do(func() { err = c.recordAnswer(ctx, questionID, value) }); doErr != nil {
		return doErr
	}
	return err
}

func (c *Controller) recordAnswer(ctx context.Context, questionID string, value *model.AnswerValue) error {
	ok, err := c.mutable()
	if !ok {
		return err
	}
	i, known := c.index[questionID]
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	q := c.questions[i]
	if err := q.CheckAnswer(value); err != nil {
		return err
	}

	rec := c.state.Answers[questionID]
	rec.QuestionID = questionID

	if q.Type == model.QuestionTypeMultiChoice && value != nil && value.Kind == model.ValueLabel {
		var selected []string
		if rec.Value != nil {
			switch rec.Value.Kind {
			case model.ValueSet:
				selected = rec.Value.Labels
			case model.ValueLabel:
				selected = []string{rec.Value.Label}
			}
		}
		rec.Value = model.SetAnswer(model.ToggleLabel(selected, value.Label)...)
	} else {
		rec.Value = value.Clone()
	}
	rec.UpdatedAt = c.now()
	c.state.Answers[questionID] = rec

	c.persist(ctx)
	c.emit(Event{Kind: EventAnswerRecorded, QuestionID: questionID})
	return nil
}

// ToggleReview flips the marked-for-review flag and returns the new value.
func (c *Controller) ToggleReview(ctx context.Context, questionID string) (bool, error) {
	var (
		marked bool
		err    error
	)
	doErr := c.do(func() {
		ok, mErr := c.mutable()
		if !ok {
			err = mErr
			return
		}
		if _, known := c.index[questionID]; !known {
			err = fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
			return
		}
		rec := c.state.Answers[questionID]
		rec.QuestionID = questionID
		rec.MarkedForReview = !rec.MarkedForReview
		rec.UpdatedAt = c.now()
		c.state.Answers[questionID] = rec
		marked = rec.MarkedForReview

		c.persist(ctx)
		c.emit(Event{Kind: EventReviewToggled, QuestionID: questionID})
	})
	if doErr != nil {
		return false, doErr
	}
	return marked, err
}

// Navigate moves the question cursor, clamped to the question list.
func (c *Controller) Navigate(ctx context.Context, index int) (int, error) {
	var (
		cursor int
		err    error
	)
	doErr := c.do(func() {
		ok, mErr := c.mutable()
		if !ok {
			err = mErr
			cursor = c.state.Cursor
			return
		}
		cursor = c.clampCursor(index)
		if cursor == c.state.Cursor {
			return
		}
		c.state.Cursor = cursor
		c.persist(ctx)
		c.emit(Event{Kind: EventNavigated, Cursor: cursor})
	})
	if doErr != nil {
		return 0, doErr
	}
	return cursor, err
}

// ─── Clock ──────────────────────────────────────────────────────────

// remaining is measured from the expiry shifted by granted extra time.
func (c *Controller) remaining() time.Duration {
	deadline := c.desc.Expiry.Add(time.Duration(c.state.ExtraTimeMinutes) * time.Minute)
	r := deadline.Sub(c.now())
	if r < 0 {
		return 0
	}
	return r
}

// Remaining reports the time left, or zero outside an active session.
func (c *Controller) Remaining() time.Duration {
	var r time.Duration
	_ = c.do(func() {
		if c.state.Phase == model.PhaseInProgress {
			r = c.remaining()
		}
	})
	return r
}

// Tick recomputes the countdown and auto-submits once it reaches zero. Ticks
// outside an active session are no-ops.
func (c *Controller) Tick(ctx context.Context) (time.Duration, error) {
	var r time.Duration
	err := c.do(func() { r = c.tick(ctx) })
	return r, err
}

func (c *Controller) tick(ctx context.Context) time.Duration {
	if c.state.Phase != model.PhaseInProgress {
		return 0
	}
	r := c.remaining()
	if r.Truncate(time.Second) != c.lastRemain.Truncate(time.Second) || r == 0 {
		c.emit(Event{Kind: EventTick, Remaining: r})
	}
	c.lastRemain = r
	if r <= 0 {
		c.log.Info().Str("session_id", c.desc.SessionID).Msg("Time is up, auto-submitting")
		c.finalize(ctx, model.ClosingAutoSubmitted, false)
	}
	return r
}

// RunTicker calls Tick every interval until ctx ends or the session is
// terminal.
func (c *Controller) RunTicker(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.Tick(ctx); err != nil {
				return
			}
			if c.Phase().Terminal() {
				return
			}
		}
	}
}

// ─── Submission ─────────────────────────────────────────────────────

// Submit finalizes the session. Every call after the first returns the same
// result without rescoring.
func (c *Controller) Submit(ctx context.Context, closing model.ClosingStatus) (*model.ResultRecord, error) {
	var (
		rec *model.ResultRecord
		err error
	)
	doErr := c.do(func() {
		if c.result != nil {
			rec = c.result.Clone()
			return
		}
		if c.state.Phase == model.PhaseNotStarted {
			err = ErrNotStarted
			return
		}
		rec = c.finalize(ctx, closing, false)
	})
	if doErr != nil {
		return nil, doErr
	}
	return rec, err
}

// finalize scores the session once, stores the result slot and clears the
// active entry. The active entry is kept if the result could not be stored.
func (c *Controller) finalize(ctx context.Context, closing model.ClosingStatus, blocked bool) *model.ResultRecord {
	if c.result != nil {
		return c.result.Clone()
	}
	c.state.Phase = model.PhaseSubmitting

	rec := scoring.Final(scoring.Input{
		Descriptor: c.desc,
		Questions:  c.questions,
		State:      c.state,
		At:         c.now(),
	}, closing, blocked)
	c.result = rec

	log := c.log.With().Str("candidate_id", c.desc.CandidateID).Str("session_id", c.desc.SessionID).Logger()
	if err := c.store.SaveResult(ctx, c.key, rec); err != nil {
		log.Error().Err(err).Msg("Final result not stored locally, keeping active state")
		c.persist(ctx)
		c.emit(Event{Kind: EventAnomaly, Anomaly: AnomalyResultNotStored, Note: err.Error()})
	} else if err := c.store.Clear(ctx, c.key); err != nil {
		log.Warn().Err(err).Msg("Active state not cleared")
	}

	if blocked {
		c.state.Phase = model.PhaseBlocked
		for _, fn := range c.onBlock {
			fn()
		}
		c.emit(Event{Kind: EventBlocked, Result: rec.Clone()})
	} else {
		c.state.Phase = model.PhaseFinalized
	}

	log.Info().
		Str("closing_status", string(closing)).
		Str("status", string(rec.Status)).
		Int("answered", rec.Totals.Answered).
		Float64("final_grade", rec.Totals.FinalGrade).
		Msg("Session finalized")
	c.emit(Event{Kind: EventFinalized, Result: rec.Clone()})
	return rec.Clone()
}

// Result returns the final record, or nil before finalization.
func (c *Controller) Result() *model.ResultRecord {
	var rec *model.ResultRecord
	_ = c.do(func() { rec = c.result.Clone() })
	return rec
}

// ─── Remote commands ────────────────────────────────────────────────

// ApplyRemoteCommand folds an authority command into the session. Commands
// for other candidates and commands arriving outside an active session are
// ignored. Extra time is an absolute total and only ever grows, so the same
// grant seen on both the fast path and the pull applies once.
func (c *Controller) ApplyRemoteCommand(ctx context.Context, cmd model.Command) error {
	return c.do(func() { c.applyRemote(ctx, cmd) })
}

func (c *Controller) applyRemote(ctx context.Context, cmd model.Command) {
	if c.state.Phase != model.PhaseInProgress {
		return
	}
	if !cmd.Targets(c.desc.SessionID, c.desc.CandidateID) {
		return
	}
	log := c.log.With().Str("command", string(cmd.Kind)).Logger()

	switch cmd.Kind {
	case model.CommandAnnouncement:
		if cmd.Announcement == "" || cmd.Announcement == c.state.PendingAnnouncement {
			return
		}
		c.state.PendingAnnouncement = cmd.Announcement
		c.note("announcement: " + cmd.Announcement)
		c.persist(ctx)
		log.Info().Msg("Announcement received")
		if c.state.UnreadAnnouncement() {
			c.emit(Event{Kind: EventAnnouncement, Announcement: cmd.Announcement})
		}

	case model.CommandExtraTime:
		if cmd.ExtraTimeMinutes <= c.state.ExtraTimeMinutes {
			return
		}
		delta := cmd.ExtraTimeMinutes - c.state.ExtraTimeMinutes
		c.state.ExtraTimeMinutes = cmd.ExtraTimeMinutes
		c.note(fmt.Sprintf("extra time +%d minutes (total %d)", delta, cmd.ExtraTimeMinutes))
		c.persist(ctx)
		log.Info().Int("delta", delta).Int("total", cmd.ExtraTimeMinutes).Msg("Extra time granted")
		c.emit(Event{Kind: EventExtraTime, ExtraTimeMinutes: cmd.ExtraTimeMinutes, Remaining: c.remaining()})

	case model.CommandBlock:
		note := "blocked by proctor"
		if cmd.Note != "" {
			note += ": " + cmd.Note
		}
		c.note(note)
		log.Warn().Msg("Session blocked by proctor")
		c.finalize(ctx, model.ClosingForcedTerminated, true)

	case model.CommandEndSession:
		c.note("session ended by proctor")
		log.Info().Msg("Session ended by proctor")
		c.finalize(ctx, model.ClosingForcedTerminated, false)

	default:
		log.Warn().Msg("Unknown remote command ignored")
	}
}

func (c *Controller) note(text string) {
	c.state.ViolationLog = append(c.state.ViolationLog, model.ViolationLogEntry{
		At:       c.now(),
		Category: model.ViolationRemoteNote,
		Note:     text,
	})
}

// ─── Integrity ──────────────────────────────────────────────────────

// ReportViolation records a focus or full-screen violation. It returns false
// when the session is not in progress and nothing was recorded.
func (c *Controller) ReportViolation(ctx context.Context, category model.ViolationCategory) (bool, error) {
	if !category.Counts() {
		return false, fmt.Errorf("category %q is not a violation", category)
	}
	var recorded bool
	err := c.do(func() {
		if c.state.Phase != model.PhaseInProgress {
			return
		}
		c.state.ViolationLog = append(c.state.ViolationLog, model.ViolationLogEntry{At: c.now(), Category: category})
		c.state.ViolationCount++
		recorded = true

		c.persist(ctx)
		c.emit(Event{Kind: EventViolation, Category: category, ViolationCount: c.state.ViolationCount})
	})
	return recorded, err
}

// AcknowledgeAnnouncement marks the pending announcement as read.
func (c *Controller) AcknowledgeAnnouncement(ctx context.Context) error {
	return c.do(func() {
		if c.state.Phase != model.PhaseInProgress || !c.state.UnreadAnnouncement() {
			return
		}
		c.state.LastAcknowledgedAnnouncement = c.state.PendingAnnouncement
		c.persist(ctx)
	})
}

// ─── Connectivity ───────────────────────────────────────────────────

// SetOnline records a connectivity transition.
func (c *Controller) SetOnline(ctx context.Context, online bool) error {
	return c.do(func() {
		if c.state.Online == online {
			return
		}
		c.state.Online = online
		c.log.Info().Bool("online", online).Msg("Connectivity changed")
		c.emit(Event{Kind: EventConnectivity, Online: online})
	})
}

// Online reports the last known connectivity.
func (c *Controller) Online() bool {
	var online bool
	_ = c.do(func() { online = c.state.Online })
	return online
}

// ─── Read side ──────────────────────────────────────────────────────

// SyncSnapshot returns what the synchronization engine pushes: the final
// record once it exists, a provisional one while in progress.
func (c *Controller) SyncSnapshot(ctx context.Context) (model.SyncSnapshot, error) {
	var snap model.SyncSnapshot
	err := c.do(func() {
		snap.Phase = c.state.Phase
		snap.ExtraTimeMinutes = c.state.ExtraTimeMinutes
		snap.Announcement = c.state.PendingAnnouncement
		switch {
		case c.result != nil:
			snap.Record = c.result.Clone()
		case c.state.Phase == model.PhaseInProgress:
			snap.Record = scoring.Provisional(scoring.Input{
				Descriptor: c.desc,
				Questions:  c.questions,
				State:      c.state,
				At:         c.now(),
			})
		}
	})
	return snap, err
}

// Descriptor returns the descriptor the session was started with.
func (c *Controller) Descriptor() model.SessionDescriptor {
	var d model.SessionDescriptor
	_ = c.do(func() { d = c.desc })
	return d
}

// Phase returns the lifecycle phase.
func (c *Controller) Phase() model.Phase {
	p := model.PhaseNotStarted
	_ = c.do(func() { p = c.state.Phase })
	return p
}

// State returns a copy of the session state.
func (c *Controller) State() *model.SessionState {
	var st *model.SessionState
	_ = c.do(func() { st = c.state.Clone() })
	return st
}

// Progress counts answered and flagged questions.
func (c *Controller) Progress() Progress {
	var p Progress
	_ = c.do(func() {
		p.Total = len(c.questions)
		p.Cursor = c.state.Cursor
		for _, q := range c.questions {
			rec, ok := c.state.Answers[q.ID]
			if !ok {
				continue
			}
			if !rec.Empty() {
				p.Answered++
			}
			if rec.MarkedForReview {
				p.MarkedForReview++
			}
		}
	})
	return p
}
