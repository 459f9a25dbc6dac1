// Package integrity watches device signals during an exam and reports
// violations to the session controller.
package integrity

import (
	"strings"
	"time"
)

// SignalKind classifies an observed device signal.
type SignalKind string

const (
	SignalFocusLost         SignalKind = "focus_lost"
	SignalFocusGained       SignalKind = "focus_gained"
	SignalFullscreenExited  SignalKind = "fullscreen_exited"
	SignalFullscreenEntered SignalKind = "fullscreen_entered"
	SignalKeyCombo          SignalKind = "key_combo"
	SignalContextMenu       SignalKind = "context_menu"
)

// KeyCombo is a key press with its modifiers. Key is lower case, function
// keys are spelled "f1".."f12".
type KeyCombo struct {
	Ctrl  bool
	Meta  bool
	Shift bool
	Alt   bool
	Key   string
}

func (k KeyCombo) String() string {
	var parts []string
	if k.Ctrl {
		parts = append(parts, "ctrl")
	}
	if k.Meta {
		parts = append(parts, "meta")
	}
	if k.Alt {
		parts = append(parts, "alt")
	}
	if k.Shift {
		parts = append(parts, "shift")
	}
	parts = append(parts, k.Key)
	return strings.Join(parts, "+")
}

// blockedWithCommand are the copy/paste/view-source/print/save/reload keys,
// blocked under either ctrl or meta.
var blockedWithCommand = map[string]struct{}{
	"c": {}, "v": {}, "u": {}, "p": {}, "s": {}, "r": {},
}

// Blocked reports whether the combination must be suppressed.
func (k KeyCombo) Blocked() bool {
	key := strings.ToLower(k.Key)
	if key == "f12" {
		return true
	}
	if k.Ctrl && k.Shift && key == "i" {
		return true
	}
	if k.Ctrl || k.Meta {
		_, ok := blockedWithCommand[key]
		return ok
	}
	return false
}

// Signal is one observation from a SignalSource.
type Signal struct {
	Kind  SignalKind
	At    time.Time
	Combo KeyCombo
}

// SignalSource abstracts the platform hooks the monitor needs. Browsers,
// kiosk shells and terminals each provide one.
type SignalSource interface {
	// Signals delivers observations until the source is closed.
	Signals() <-chan Signal
	// RequestFullscreen asks the platform for exclusive presentation.
	RequestFullscreen() error
	// Suppress prevents the platform default action of a signal.
	Suppress(s Signal)
}
