package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/localstore"
	"github.com/stemsi/exstem-engine/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 7, 30, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type harness struct {
	clock *fakeClock
	mem   *localstore.Memory
	store *localstore.Store
}

func newHarness() *harness {
	mem := localstore.NewMemory()
	clock := newFakeClock()
	return &harness{clock: clock, mem: mem, store: localstore.New(mem, localstore.WithClock(clock.Now))}
}

func (h *harness) controller(t *testing.T) *Controller {
	t.Helper()
	c := New(Options{Store: h.store, Now: h.clock.Now, Log: zerolog.Nop(), EventBuffer: 512})
	t.Cleanup(c.Close)
	return c
}

func (h *harness) descriptor(expiresIn time.Duration) model.SessionDescriptor {
	return model.SessionDescriptor{
		CandidateID:  "cand-1",
		SessionID:    "sess-1",
		PackageID:    "pkg-1",
		Expiry:       h.clock.Now().Add(expiresIn),
		PassingGrade: 70,
	}
}

func questions() []model.QuestionSpec {
	return []model.QuestionSpec{
		{ID: "q1", Type: model.QuestionTypeSingleChoice, Weight: 1, Options: []string{"A", "B", "C"}, Key: model.AnswerKey{Label: "B"}},
		{ID: "q2", Type: model.QuestionTypeMultiChoice, Weight: 1, Options: []string{"A", "B", "C"}, Key: model.AnswerKey{Labels: []string{"A", "C"}}},
		{ID: "q3", Type: model.QuestionTypeTrueFalseSet, Weight: 1, Statements: []string{"s1", "s2", "s3"},
			Key: model.AnswerKey{Statements: map[string]bool{"s1": true, "s2": false, "s3": true}}},
		{ID: "q4", Type: model.QuestionTypeMatchingSet, Weight: 1, LeftItems: []string{"l1", "l2"}, RightItems: []string{"r1", "r2"},
			Key: model.AnswerKey{Pairs: map[string]string{"l1": "r1", "l2": "r2"}}},
	}
}

func unansweredQuestions(n int) []model.QuestionSpec {
	qs := make([]model.QuestionSpec, n)
	for i := range qs {
		qs[i] = model.QuestionSpec{ID: string(rune('a' + i)), Type: model.QuestionTypeSingleChoice, Weight: 1, Key: model.AnswerKey{Label: "A"}}
	}
	return qs
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func mustStart(t *testing.T, c *Controller, d model.SessionDescriptor, qs []model.QuestionSpec) {
	t.Helper()
	if err := c.Start(context.Background(), d, qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestRecordAnswerShapes(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())

	if err := c.RecordAnswer(ctx, "q1", model.LabelAnswer("B")); err != nil {
		t.Fatalf("single: %v", err)
	}
	if err := c.RecordAnswer(ctx, "q3", model.StatementsAnswer(map[string]bool{"s1": true})); err != nil {
		t.Fatalf("tf: %v", err)
	}
	if err := c.RecordAnswer(ctx, "q4", model.PairsAnswer(map[string]string{"l1": "r1"})); err != nil {
		t.Fatalf("matching: %v", err)
	}

	before := c.State()
	err := c.RecordAnswer(ctx, "q1", model.SetAnswer("A", "B"))
	var verr *model.ValidationError
	if !errors.As(err, &verr) || verr.QuestionID != "q1" {
		t.Fatalf("set for single choice: got %v, want ValidationError", err)
	}
	if !reflect.DeepEqual(before.Answers, c.State().Answers) {
		t.Fatal("rejected answer changed the answer map")
	}

	if err := c.RecordAnswer(ctx, "nope", model.LabelAnswer("A")); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("unknown question: got %v", err)
	}

	// Clearing keeps the record but makes it empty.
	if err := c.RecordAnswer(ctx, "q4", nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if p := c.Progress(); p.Answered != 2 || p.Total != 4 || p.Complete() {
		t.Fatalf("progress = %+v", p)
	}

	stored, err := h.store.Load(ctx, localstore.Key{CandidateID: "cand-1", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.Answers["q1"].Value.Label != "B" {
		t.Fatalf("answer not persisted synchronously: %+v", stored.Answers["q1"])
	}
}

func TestMultiChoiceToggle(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())

	if err := c.RecordAnswer(ctx, "q2", model.LabelAnswer("A")); err != nil {
		t.Fatalf("toggle A: %v", err)
	}
	original := c.State().Answers["q2"].Value.Labels

	for i := 0; i < 2; i++ {
		if err := c.RecordAnswer(ctx, "q2", model.LabelAnswer("C")); err != nil {
			t.Fatalf("toggle C: %v", err)
		}
	}
	got := c.State().Answers["q2"].Value.Labels
	if !reflect.DeepEqual(got, original) {
		t.Fatalf("double toggle: got %v, want %v", got, original)
	}

	// A full set replaces the selection.
	if err := c.RecordAnswer(ctx, "q2", model.SetAnswer("B", "C")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := c.State().Answers["q2"].Value.Labels; !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Fatalf("after set: %v", got)
	}

	// Toggling the last label off leaves an empty, unanswered set.
	c.RecordAnswer(ctx, "q2", model.LabelAnswer("B"))
	c.RecordAnswer(ctx, "q2", model.LabelAnswer("C"))
	if !c.State().Answers["q2"].Empty() {
		t.Fatal("empty selection should count as unanswered")
	}
}

func TestToggleReviewKeepsAnswer(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())

	c.RecordAnswer(ctx, "q1", model.LabelAnswer("C"))
	marked, err := c.ToggleReview(ctx, "q1")
	if err != nil || !marked {
		t.Fatalf("ToggleReview = %v, %v", marked, err)
	}
	rec := c.State().Answers["q1"]
	if rec.Value.Label != "C" || !rec.MarkedForReview {
		t.Fatalf("record = %+v", rec)
	}
	if p := c.Progress(); p.MarkedForReview != 1 {
		t.Fatalf("progress = %+v", p)
	}

	// Flag an unanswered question: flagged but not answered.
	c.ToggleReview(ctx, "q3")
	if p := c.Progress(); p.MarkedForReview != 2 || p.Answered != 1 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestNavigateClampsAndPersists(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())

	if got, _ := c.Navigate(ctx, 2); got != 2 {
		t.Fatalf("Navigate(2) = %d", got)
	}
	if got, _ := c.Navigate(ctx, 99); got != 3 {
		t.Fatalf("Navigate(99) = %d", got)
	}
	if got, _ := c.Navigate(ctx, -5); got != 0 {
		t.Fatalf("Navigate(-5) = %d", got)
	}
	c.Navigate(ctx, 1)

	resumed := h.controller(t)
	c.Close()
	mustStart(t, resumed, h.descriptor(time.Hour), questions())
	if p := resumed.Progress(); p.Cursor != 1 {
		t.Fatalf("cursor after resume = %d", p.Cursor)
	}
}

func TestTimeoutSubmitsExactlyOnce(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	events, _ := c.Subscribe()

	mustStart(t, c, h.descriptor(0), unansweredQuestions(10))
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
		if _, err := c.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	if n := countKind(drain(events), EventFinalized); n != 1 {
		t.Fatalf("finalized events = %d, want 1", n)
	}
	rec := c.Result()
	if rec == nil {
		t.Fatal("no result after timeout")
	}
	if rec.ClosingStatus != model.ClosingAutoSubmitted || rec.Status != model.ResultStatusAutoSubmitted {
		t.Fatalf("closing = %s status = %s", rec.ClosingStatus, rec.Status)
	}
	if rec.Totals.Answered != 0 || rec.Totals.FinalGrade != 0 || rec.Totals.Total != 10 {
		t.Fatalf("totals = %+v", rec.Totals)
	}
	if c.Phase() != model.PhaseFinalized {
		t.Fatalf("phase = %s", c.Phase())
	}
}

func TestCountdownReachesZero(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(2*time.Second), questions())

	h.clock.Advance(time.Second)
	r, _ := c.Tick(ctx)
	if r != time.Second || c.Phase() != model.PhaseInProgress {
		t.Fatalf("remaining = %s phase = %s", r, c.Phase())
	}

	h.clock.Advance(time.Second)
	if r, _ := c.Tick(ctx); r != 0 {
		t.Fatalf("remaining = %s, want 0", r)
	}
	if c.Phase() != model.PhaseFinalized {
		t.Fatalf("phase = %s, want finalized", c.Phase())
	}
	first := c.Result()

	h.clock.Advance(time.Minute)
	c.Tick(ctx)
	if !reflect.DeepEqual(first, c.Result()) {
		t.Fatal("late tick changed the result")
	}
}

func TestExtraTimeShiftsRemaining(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(10*time.Minute), questions())
	c.RecordAnswer(ctx, "q1", model.LabelAnswer("B"))

	h.clock.Advance(3 * time.Minute)
	before := c.Remaining()
	answersBefore := c.State().Answers

	grant := model.Command{Kind: model.CommandExtraTime, SessionID: "sess-1", CandidateID: "cand-1", ExtraTimeMinutes: 5}
	if err := c.ApplyRemoteCommand(ctx, grant); err != nil {
		t.Fatalf("ApplyRemoteCommand: %v", err)
	}
	after := c.Remaining()
	if after-before != 300*time.Second {
		t.Fatalf("remaining shifted by %s, want 300s", after-before)
	}
	if !reflect.DeepEqual(answersBefore, c.State().Answers) {
		t.Fatal("extra time changed recorded answers")
	}

	// The same total seen again, from the pull or the stream, is not re-applied.
	c.ApplyRemoteCommand(ctx, grant)
	if c.Remaining() != after {
		t.Fatal("duplicate grant applied twice")
	}
	// A lower total never takes time away.
	grant.ExtraTimeMinutes = 2
	c.ApplyRemoteCommand(ctx, grant)
	if c.State().ExtraTimeMinutes != 5 {
		t.Fatalf("extra time = %d", c.State().ExtraTimeMinutes)
	}

	// Another candidate's grant does not apply.
	c.ApplyRemoteCommand(ctx, model.Command{Kind: model.CommandExtraTime, SessionID: "sess-1", CandidateID: "cand-2", ExtraTimeMinutes: 30})
	if c.State().ExtraTimeMinutes != 5 {
		t.Fatal("grant for another candidate applied")
	}

	st := c.State()
	notes := 0
	for _, e := range st.ViolationLog {
		if e.Category == model.ViolationRemoteNote {
			notes++
		}
	}
	if notes != 1 || st.ViolationCount != 0 {
		t.Fatalf("notes = %d violations = %d", notes, st.ViolationCount)
	}
}

func TestExtraTimeAfterExpiryReopensClock(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Minute), questions())

	h.clock.Advance(30 * time.Second)
	c.ApplyRemoteCommand(ctx, model.Command{Kind: model.CommandExtraTime, SessionID: "sess-1", ExtraTimeMinutes: 1})
	h.clock.Advance(time.Minute)
	if r, _ := c.Tick(ctx); r != 30*time.Second {
		t.Fatalf("remaining = %s, want 30s past the original expiry", r)
	}
}

func TestCrashRecovery(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first := h.controller(t)
	mustStart(t, first, h.descriptor(time.Hour), questions())
	first.RecordAnswer(ctx, "q1", model.LabelAnswer("B"))
	first.RecordAnswer(ctx, "q2", model.SetAnswer("A", "C"))
	first.RecordAnswer(ctx, "q3", model.StatementsAnswer(map[string]bool{"s1": true, "s2": false, "s3": true}))
	first.ReportViolation(ctx, model.ViolationFocusLoss)
	first.ReportViolation(ctx, model.ViolationFullscreenExit)
	want := first.State()
	first.Close()

	second := h.controller(t)
	events, _ := second.Subscribe()
	mustStart(t, second, h.descriptor(time.Hour), questions())
	got := second.State()

	if len(got.Answers) != len(want.Answers) {
		t.Fatalf("answers after reload: got %d, want %d", len(got.Answers), len(want.Answers))
	}
	for id, rec := range want.Answers {
		if !reflect.DeepEqual(got.Answers[id].Value, rec.Value) {
			t.Fatalf("answer %s after reload: got %+v, want %+v", id, got.Answers[id].Value, rec.Value)
		}
	}
	if got.ViolationCount != 2 || len(got.ViolationLog) != 2 {
		t.Fatalf("violations after reload: %d / %d", got.ViolationCount, len(got.ViolationLog))
	}
	if countKind(drain(events), EventResumed) != 1 {
		t.Fatal("no resumed event")
	}
}

func TestCorruptStateStartsEmpty(t *testing.T) {
	h := newHarness()
	h.mem.Raw(config.CacheKey.CandidateStateKey("cand-1", "sess-1"), []byte(`{"schema_version":2,"kind":"state","checksum":"x","payload":{}}`))

	c := h.controller(t)
	events, _ := c.Subscribe()
	mustStart(t, c, h.descriptor(time.Hour), questions())

	st := c.State()
	if len(st.Answers) != 0 || st.ViolationCount != 0 || st.Cursor != 0 {
		t.Fatalf("state not empty: %+v", st)
	}
	if countKind(drain(events), EventAnomaly) != 1 {
		t.Fatal("corruption not reported as anomaly")
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())
	c.RecordAnswer(ctx, "q1", model.LabelAnswer("B"))

	first, err := c.Submit(ctx, model.ClosingCompleted)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.clock.Advance(time.Minute)
	second, err := c.Submit(ctx, model.ClosingAutoSubmitted)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("second submit returned a different record")
	}
	if first.Status != model.ResultStatusCompleted || first.Totals.Correct != 1 {
		t.Fatalf("result = %+v", first)
	}

	// Mutations after finalization are silent no-ops.
	if err := c.RecordAnswer(ctx, "q2", model.SetAnswer("A")); err != nil {
		t.Fatalf("RecordAnswer after finalize: %v", err)
	}
	if _, ok := c.State().Answers["q2"]; ok {
		t.Fatal("answer recorded after finalization")
	}
	c.ApplyRemoteCommand(ctx, model.Command{Kind: model.CommandBlock, SessionID: "sess-1", CandidateID: "cand-1"})
	if c.Phase() != model.PhaseFinalized {
		t.Fatalf("block after finalization moved phase to %s", c.Phase())
	}

	key := localstore.Key{CandidateID: "cand-1", SessionID: "sess-1"}
	if _, err := h.store.Load(ctx, key); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("active state not cleared: %v", err)
	}
	if _, err := h.store.LoadResult(ctx, key); err != nil {
		t.Fatalf("result slot: %v", err)
	}
}

func TestConcurrentSubmitsReturnSameRecord(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	mustStart(t, c, h.descriptor(time.Hour), questions())

	var wg sync.WaitGroup
	results := make([]*model.ResultRecord, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Submit(context.Background(), model.ClosingCompleted)
		}(i)
	}
	wg.Wait()
	for _, r := range results[1:] {
		if !reflect.DeepEqual(r, results[0]) {
			t.Fatal("concurrent submits diverged")
		}
	}
}

func TestStartAfterFinalization(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first := h.controller(t)
	mustStart(t, first, h.descriptor(time.Hour), questions())
	want, _ := first.Submit(ctx, model.ClosingCompleted)
	first.Close()

	second := h.controller(t)
	err := second.Start(ctx, h.descriptor(time.Hour), questions())
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("Start: got %v, want ErrAlreadyFinalized", err)
	}
	var fin *AlreadyFinalizedError
	if !errors.As(err, &fin) || fin.Result.ID != want.ID {
		t.Fatalf("error does not carry the stored result: %v", err)
	}
	if second.Phase() != model.PhaseNotStarted {
		t.Fatalf("phase = %s", second.Phase())
	}
}

func TestBlockCommand(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())
	c.RecordAnswer(ctx, "q1", model.LabelAnswer("B"))

	hooked := false
	c.OnBlock(func() { hooked = true })
	events, _ := c.Subscribe()

	c.ApplyRemoteCommand(ctx, model.Command{Kind: model.CommandBlock, SessionID: "sess-1", CandidateID: "cand-1", Note: "too many violations"})

	if c.Phase() != model.PhaseBlocked {
		t.Fatalf("phase = %s", c.Phase())
	}
	if !hooked {
		t.Fatal("block hook not called")
	}
	if err := c.RecordAnswer(ctx, "q2", model.SetAnswer("A")); !errors.Is(err, ErrSessionBlocked) {
		t.Fatalf("RecordAnswer while blocked: %v", err)
	}
	if ok, _ := c.ReportViolation(ctx, model.ViolationFocusLoss); ok {
		t.Fatal("violation recorded while blocked")
	}

	rec := c.Result()
	if rec.Status != model.ResultStatusBlocked || rec.ClosingStatus != model.ClosingForcedTerminated {
		t.Fatalf("status = %s closing = %s", rec.Status, rec.ClosingStatus)
	}
	last := rec.ViolationLog[len(rec.ViolationLog)-1]
	if last.Category != model.ViolationRemoteNote || last.Note != "blocked by proctor: too many violations" {
		t.Fatalf("last log entry = %+v", last)
	}
	again, _ := c.Submit(ctx, model.ClosingCompleted)
	if !reflect.DeepEqual(again, rec) {
		t.Fatal("submit after block produced a new record")
	}

	evs := drain(events)
	if countKind(evs, EventBlocked) != 1 || countKind(evs, EventFinalized) != 1 {
		t.Fatalf("events = %+v", evs)
	}
}

func TestEndSessionCommand(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())

	c.ApplyRemoteCommand(ctx, model.Command{Kind: model.CommandEndSession, SessionID: "sess-1"})
	rec := c.Result()
	if rec == nil || rec.ClosingStatus != model.ClosingForcedTerminated || rec.Status != model.ResultStatusAutoSubmitted {
		t.Fatalf("result = %+v", rec)
	}
	if c.Phase() != model.PhaseFinalized {
		t.Fatalf("phase = %s", c.Phase())
	}
}

func TestViolationCounting(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()

	if ok, err := c.ReportViolation(ctx, model.ViolationFocusLoss); ok || err != nil {
		t.Fatalf("before start: %v, %v", ok, err)
	}
	if _, err := c.ReportViolation(ctx, model.ViolationRemoteNote); err == nil {
		t.Fatal("remote note accepted as violation")
	}

	mustStart(t, c, h.descriptor(time.Hour), questions())
	last := 0
	for i := 0; i < 3; i++ {
		ok, err := c.ReportViolation(ctx, model.ViolationFocusLoss)
		if !ok || err != nil {
			t.Fatalf("report %d: %v, %v", i, ok, err)
		}
		n := c.State().ViolationCount
		if n < last {
			t.Fatal("violation count decreased")
		}
		last = n
	}
	if last != 3 {
		t.Fatalf("count = %d", last)
	}

	c.Submit(ctx, model.ClosingCompleted)
	if ok, _ := c.ReportViolation(ctx, model.ViolationFocusLoss); ok {
		t.Fatal("violation recorded after finalization")
	}
	if c.Result().ViolationCount != 3 {
		t.Fatalf("result violation count = %d", c.Result().ViolationCount)
	}
}

func TestAnnouncements(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())
	events, _ := c.Subscribe()

	ann := model.Command{Kind: model.CommandAnnouncement, SessionID: "sess-1", Announcement: "Periksa kembali jawaban"}
	c.ApplyRemoteCommand(ctx, ann)
	c.ApplyRemoteCommand(ctx, ann)

	if !c.State().UnreadAnnouncement() {
		t.Fatal("announcement not pending")
	}
	if countKind(drain(events), EventAnnouncement) != 1 {
		t.Fatal("duplicate announcement surfaced twice")
	}

	c.AcknowledgeAnnouncement(ctx)
	st := c.State()
	if st.UnreadAnnouncement() || st.LastAcknowledgedAnnouncement != "Periksa kembali jawaban" {
		t.Fatalf("state = %+v", st)
	}

	// Acknowledgment survives a reload.
	resumed := h.controller(t)
	c.Close()
	mustStart(t, resumed, h.descriptor(time.Hour), questions())
	if resumed.State().LastAcknowledgedAnnouncement != "Periksa kembali jawaban" {
		t.Fatal("acknowledgment lost on reload")
	}
}

func TestFailedResultWriteKeepsActiveState(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())
	c.RecordAnswer(ctx, "q1", model.LabelAnswer("B"))

	h.mem.FailPuts(true)
	rec, err := c.Submit(ctx, model.ClosingCompleted)
	if err != nil || rec == nil {
		t.Fatalf("Submit: %v", err)
	}
	h.mem.FailPuts(false)

	key := localstore.Key{CandidateID: "cand-1", SessionID: "sess-1"}
	st, err := h.store.Load(ctx, key)
	if err != nil {
		t.Fatalf("active state cleared although the result was not stored: %v", err)
	}
	if st.Answers["q1"].Value.Label != "B" {
		t.Fatalf("stored state = %+v", st)
	}
}

func TestConcurrentEventsAreSerialized(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()
	mustStart(t, c, h.descriptor(time.Hour), questions())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			c.ReportViolation(ctx, model.ViolationFocusLoss)
		}()
		go func() {
			defer wg.Done()
			c.RecordAnswer(ctx, "q2", model.LabelAnswer("A"))
		}()
		go func() {
			defer wg.Done()
			c.Tick(ctx)
			c.SyncSnapshot(ctx)
		}()
	}
	wg.Wait()

	st := c.State()
	if st.ViolationCount != 20 || len(st.ViolationLog) != 20 {
		t.Fatalf("count = %d log = %d", st.ViolationCount, len(st.ViolationLog))
	}
	// An even number of toggles leaves the selection empty.
	if !st.Answers["q2"].Empty() {
		t.Fatalf("q2 = %+v", st.Answers["q2"])
	}
}

func TestSyncSnapshot(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	ctx := context.Background()

	snap, _ := c.SyncSnapshot(ctx)
	if snap.Record != nil || snap.Phase != model.PhaseNotStarted {
		t.Fatalf("snapshot before start = %+v", snap)
	}

	mustStart(t, c, h.descriptor(time.Hour), questions())
	c.RecordAnswer(ctx, "q1", model.LabelAnswer("B"))
	snap, _ = c.SyncSnapshot(ctx)
	if snap.Record == nil || snap.Record.Final || snap.Record.Status != model.ResultStatusInProgress {
		t.Fatalf("provisional snapshot = %+v", snap.Record)
	}
	again, _ := c.SyncSnapshot(ctx)
	if again.Record.Totals != snap.Record.Totals {
		t.Fatal("provisional totals not idempotent")
	}

	final, _ := c.Submit(ctx, model.ClosingCompleted)
	snap, _ = c.SyncSnapshot(ctx)
	if !reflect.DeepEqual(snap.Record, final) {
		t.Fatal("snapshot after finalize is not the final record")
	}
}

func TestClosedControllerRejectsCalls(t *testing.T) {
	h := newHarness()
	c := h.controller(t)
	c.Close()

	if err := c.Start(context.Background(), h.descriptor(time.Hour), questions()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close: %v", err)
	}
	c.Close()
}
