package integrity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

type fakeReporter struct {
	mu      sync.Mutex
	accept  bool
	err     error
	reports []model.ViolationCategory
}

func (f *fakeReporter) ReportViolation(_ context.Context, c model.ViolationCategory) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.accept {
		f.reports = append(f.reports, c)
	}
	return f.accept, nil
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func TestBlockedCombinations(t *testing.T) {
	cases := []struct {
		combo   KeyCombo
		blocked bool
	}{
		{KeyCombo{Ctrl: true, Key: "c"}, true},
		{KeyCombo{Meta: true, Key: "v"}, true},
		{KeyCombo{Ctrl: true, Key: "U"}, true},
		{KeyCombo{Ctrl: true, Key: "p"}, true},
		{KeyCombo{Meta: true, Key: "s"}, true},
		{KeyCombo{Ctrl: true, Key: "r"}, true},
		{KeyCombo{Key: "f12"}, true},
		{KeyCombo{Ctrl: true, Shift: true, Key: "i"}, true},
		{KeyCombo{Key: "c"}, false},
		{KeyCombo{Ctrl: true, Key: "a"}, false},
		{KeyCombo{Shift: true, Key: "i"}, false},
	}
	for _, tc := range cases {
		if got := tc.combo.Blocked(); got != tc.blocked {
			t.Errorf("%s: Blocked() = %v, want %v", tc.combo, got, tc.blocked)
		}
	}
}

func TestMonitorReportsFocusAndFullscreen(t *testing.T) {
	src := NewChannelSource(8)
	rep := &fakeReporter{accept: true}
	m := NewMonitor(src, rep, zerolog.Nop())
	ctx := context.Background()

	m.Handle(ctx, Signal{Kind: SignalFocusLost})
	if !m.InterstitialPending() {
		t.Fatal("interstitial not raised after focus loss")
	}
	m.Handle(ctx, Signal{Kind: SignalFullscreenExited})
	m.Handle(ctx, Signal{Kind: SignalFocusGained})

	if rep.count() != 2 {
		t.Fatalf("reports = %d, want 2", rep.count())
	}

	if err := m.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if m.InterstitialPending() {
		t.Fatal("interstitial still pending after acknowledgment")
	}
	if src.FullscreenRequests() != 1 {
		t.Fatalf("fullscreen requests = %d, want 1", src.FullscreenRequests())
	}

	// Nothing pending: acknowledging again does not re-request.
	_ = m.Acknowledge()
	if src.FullscreenRequests() != 1 {
		t.Fatalf("fullscreen re-requested without a pending interstitial")
	}
}

func TestMonitorSuppressesWithoutReporting(t *testing.T) {
	src := NewChannelSource(8)
	rep := &fakeReporter{accept: true}
	m := NewMonitor(src, rep, zerolog.Nop())
	ctx := context.Background()

	m.Handle(ctx, Signal{Kind: SignalKeyCombo, Combo: KeyCombo{Ctrl: true, Key: "c"}})
	m.Handle(ctx, Signal{Kind: SignalKeyCombo, Combo: KeyCombo{Ctrl: true, Key: "a"}})
	m.Handle(ctx, Signal{Kind: SignalContextMenu})

	if rep.count() != 0 {
		t.Fatalf("suppressed input was reported as violation")
	}
	if m.Suppressed() != 2 || len(src.SuppressedSignals()) != 2 {
		t.Fatalf("suppressed = %d", m.Suppressed())
	}
	if m.InterstitialPending() {
		t.Fatal("suppression must not raise an interstitial")
	}
}

func TestMonitorRespectsReporterDecision(t *testing.T) {
	src := NewChannelSource(1)
	rep := &fakeReporter{accept: false}
	m := NewMonitor(src, rep, zerolog.Nop())

	m.Handle(context.Background(), Signal{Kind: SignalFocusLost})
	if m.InterstitialPending() {
		t.Fatal("interstitial raised although the session declined the violation")
	}

	rep.err = errors.New("closed")
	m.Handle(context.Background(), Signal{Kind: SignalFocusLost})
	if m.InterstitialPending() {
		t.Fatal("interstitial raised on reporter error")
	}
}

func TestMonitorBlockedStopsReporting(t *testing.T) {
	src := NewChannelSource(1)
	rep := &fakeReporter{accept: true}
	m := NewMonitor(src, rep, zerolog.Nop())

	m.Block()
	m.Handle(context.Background(), Signal{Kind: SignalFullscreenExited})
	if rep.count() != 0 {
		t.Fatal("blocked monitor still reports")
	}
	if err := m.Acknowledge(); err != nil || src.FullscreenRequests() != 0 {
		t.Fatal("blocked monitor re-requested full screen")
	}
}

func TestMonitorRunDrainsSource(t *testing.T) {
	src := NewChannelSource(4)
	rep := &fakeReporter{accept: true}
	m := NewMonitor(src, rep, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	src.Emit(Signal{Kind: SignalFocusLost, At: time.Now()})
	src.Emit(Signal{Kind: SignalFullscreenExited, At: time.Now()})
	src.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the source closed")
	}
	if rep.count() != 2 {
		t.Fatalf("reports = %d, want 2", rep.count())
	}
}

func TestTerminalDecoder(t *testing.T) {
	var d terminalDecoder
	var signals []Signal
	var lines []string

	input := []byte("a 1\x1b[O\x03\x1b[I\x1b[24~xx\x7f\r")
	for _, b := range input {
		sig, line, ok := d.feed(b)
		if sig != nil {
			signals = append(signals, *sig)
		}
		if ok {
			lines = append(lines, line)
		}
	}

	want := []SignalKind{SignalFocusLost, SignalKeyCombo, SignalFocusGained, SignalKeyCombo}
	if len(signals) != len(want) {
		t.Fatalf("signals = %+v", signals)
	}
	for i, k := range want {
		if signals[i].Kind != k {
			t.Fatalf("signal %d = %s, want %s", i, signals[i].Kind, k)
		}
	}
	if !signals[1].Combo.Ctrl || signals[1].Combo.Key != "c" || !signals[1].Combo.Blocked() {
		t.Fatalf("ctrl+c decoded as %+v", signals[1].Combo)
	}
	if signals[3].Combo.Key != "f12" {
		t.Fatalf("F12 decoded as %+v", signals[3].Combo)
	}
	if len(lines) != 1 || lines[0] != "a 1x" {
		t.Fatalf("lines = %q", lines)
	}
}
