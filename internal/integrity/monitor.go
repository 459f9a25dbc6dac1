package integrity

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Reporter receives violations. It returns false when the session is not in
// a phase where violations count, in which case no interstitial is raised.
type Reporter interface {
	ReportViolation(ctx context.Context, category model.ViolationCategory) (bool, error)
}

// Monitor turns raw signals into violation reports. It never blocks a
// candidate on its own; blocking comes from the authority.
type Monitor struct {
	src      SignalSource
	reporter Reporter
	log      zerolog.Logger

	mu           sync.Mutex
	interstitial bool
	blocked      bool
	suppressed   int
}

func NewMonitor(src SignalSource, reporter Reporter, log zerolog.Logger) *Monitor {
	return &Monitor{
		src:      src,
		reporter: reporter,
		log:      log.With().Str("component", "integrity").Logger(),
	}
}

// Run consumes signals until ctx is done or the source closes.
func (m *Monitor) Run(ctx context.Context) {
	signals := m.src.Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-signals:
			if !ok {
				return
			}
			m.Handle(ctx, s)
		}
	}
}

// Handle processes one signal.
func (m *Monitor) Handle(ctx context.Context, s Signal) {
	switch s.Kind {
	case SignalKeyCombo:
		if s.Combo.Blocked() {
			m.suppress(s)
			m.log.Debug().Str("combo", s.Combo.String()).Msg("Blocked key combination suppressed")
		}
	case SignalContextMenu:
		m.suppress(s)
	case SignalFocusLost:
		m.report(ctx, model.ViolationFocusLoss)
	case SignalFullscreenExited:
		m.report(ctx, model.ViolationFullscreenExit)
	}
}

func (m *Monitor) suppress(s Signal) {
	m.src.Suppress(s)
	m.mu.Lock()
	m.suppressed++
	m.mu.Unlock()
}

func (m *Monitor) report(ctx context.Context, category model.ViolationCategory) {
	m.mu.Lock()
	blocked := m.blocked
	m.mu.Unlock()
	if blocked {
		return
	}

	recorded, err := m.reporter.ReportViolation(ctx, category)
	if err != nil {
		m.log.Warn().Err(err).Str("category", string(category)).Msg("Violation not recorded")
		return
	}
	if !recorded {
		return
	}

	m.mu.Lock()
	m.interstitial = true
	m.mu.Unlock()
	m.log.Info().Str("category", string(category)).Msg("Violation recorded")
}

// InterstitialPending reports whether the candidate still has to acknowledge
// a violation notice.
func (m *Monitor) InterstitialPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interstitial
}

// Acknowledge dismisses the interstitial and re-requests full screen. It is a
// no-op when nothing is pending.
func (m *Monitor) Acknowledge() error {
	m.mu.Lock()
	if !m.interstitial || m.blocked {
		m.mu.Unlock()
		return nil
	}
	m.interstitial = false
	m.mu.Unlock()

	return m.src.RequestFullscreen()
}

// Block stops all further reporting. Called when the authority blocks the
// session.
func (m *Monitor) Block() {
	m.mu.Lock()
	m.blocked = true
	m.interstitial = false
	m.mu.Unlock()
}

// Blocked reports whether Block was called.
func (m *Monitor) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked
}

// Suppressed reports how many signals had their default action prevented.
func (m *Monitor) Suppressed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suppressed
}
