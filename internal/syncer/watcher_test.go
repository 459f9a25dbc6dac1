package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

func TestWatcherTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := NewWatcher(f.auth, f.ctrl, time.Second, zerolog.Nop())

	reconnects := 0
	w.OnReconnect = func() { reconnects++ }

	if !w.Check(ctx) || reconnects != 0 {
		t.Fatalf("steady online: reconnects = %d", reconnects)
	}

	f.auth.SetOffline(true)
	if w.Check(ctx) {
		t.Fatal("Check reported online while offline")
	}
	if f.ctrl.Online() {
		t.Fatal("session not marked offline")
	}
	w.Check(ctx)

	f.auth.SetOffline(false)
	if !w.Check(ctx) || !f.ctrl.Online() {
		t.Fatal("session not marked online again")
	}
	w.Check(ctx)
	if reconnects != 1 {
		t.Fatalf("reconnects = %d, want 1", reconnects)
	}
}

func TestOfflineAnswersReachAuthorityAfterReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.engine(Options{})
	w := NewWatcher(f.auth, f.ctrl, time.Second, zerolog.Nop())
	w.OnReconnect = func() { e.Tick(ctx) }

	f.auth.SetOffline(true)
	w.Check(ctx)

	f.ctrl.RecordAnswer(ctx, "q2", model.SetAnswer("B", "C"))
	if rep := e.Tick(ctx); !rep.Skipped {
		t.Fatalf("offline tick = %+v", rep)
	}
	if _, err := f.ctrl.Submit(ctx, model.ClosingCompleted); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f.auth.SetOffline(false)
	w.Check(ctx)

	if !e.FinalDelivered() {
		t.Fatal("final record not delivered on reconnect")
	}
	stored, _ := f.auth.Result(f.resultID())
	if stored.Totals.Correct != 1 || !stored.Final {
		t.Fatalf("stored = %+v", stored.Totals)
	}
}
