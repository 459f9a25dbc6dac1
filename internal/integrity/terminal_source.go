package integrity

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	focusReportingOn  = "\x1b[?1004h"
	focusReportingOff = "\x1b[?1004l"
	altScreenOn       = "\x1b[?1049h"
	altScreenOff      = "\x1b[?1049l"
)

// TerminalSource reads a raw-mode terminal. Focus changes come from xterm
// focus reporting, the alternate screen stands in for full screen, and
// control bytes map to key combinations. Printable input is collected into
// lines for the harness command prompt.
type TerminalSource struct {
	in  *os.File
	out io.Writer

	signals chan Signal
	lines   chan string

	mu       sync.Mutex
	oldState *term.State
	once     sync.Once
}

// NewTerminalSource switches in to raw mode and enables focus reporting.
func NewTerminalSource(in *os.File, out io.Writer) (*TerminalSource, error) {
	old, err := term.MakeRaw(int(in.Fd()))
	if err != nil {
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	t := &TerminalSource{
		in:       in,
		out:      out,
		signals:  make(chan Signal, 16),
		lines:    make(chan string, 4),
		oldState: old,
	}
	fmt.Fprint(out, focusReportingOn)
	go t.read()
	return t, nil
}

func (t *TerminalSource) Signals() <-chan Signal { return t.signals }

// Lines delivers each line typed by the candidate.
func (t *TerminalSource) Lines() <-chan string { return t.lines }

func (t *TerminalSource) RequestFullscreen() error {
	_, err := fmt.Fprint(t.out, altScreenOn)
	return err
}

// Suppress is a no-op: raw mode already keeps control bytes from reaching
// the shell.
func (t *TerminalSource) Suppress(Signal) {}

// Close restores the terminal.
func (t *TerminalSource) Close() error {
	var err error
	t.once.Do(func() {
		fmt.Fprint(t.out, focusReportingOff, altScreenOff)
		t.mu.Lock()
		err = term.Restore(int(t.in.Fd()), t.oldState)
		t.mu.Unlock()
	})
	return err
}

func (t *TerminalSource) read() {
	defer close(t.signals)
	defer close(t.lines)

	var dec terminalDecoder
	buf := make([]byte, 64)
	for {
		n, err := t.in.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			sig, line, ok := dec.feed(b)
			if sig != nil {
				sig.At = time.Now()
				t.signals <- *sig
			}
			if ok {
				t.lines <- line
			}
		}
	}
}

// terminalDecoder is a byte-at-a-time parser for the raw input stream.
type terminalDecoder struct {
	esc  []byte
	line []byte
}

// feed consumes one byte and returns a signal and/or a completed line.
func (d *terminalDecoder) feed(b byte) (*Signal, string, bool) {
	if len(d.esc) > 0 {
		return d.feedEscape(b)
	}

	switch {
	case b == 0x1b:
		d.esc = append(d.esc[:0], b)
	case b == '\r' || b == '\n':
		line := string(d.line)
		d.line = d.line[:0]
		return nil, line, true
	case b == 0x7f || b == 0x08:
		if len(d.line) > 0 {
			d.line = d.line[:len(d.line)-1]
		}
	case b == 0x09:
		d.line = append(d.line, ' ')
	case b == 0x00:
	case b < 0x20:
		// ctrl+a is 0x01 ... ctrl+z is 0x1a
		return &Signal{Kind: SignalKeyCombo, Combo: KeyCombo{Ctrl: true, Key: string(rune('a' + b - 1))}}, "", false
	default:
		d.line = append(d.line, b)
	}
	return nil, "", false
}

func (d *terminalDecoder) feedEscape(b byte) (*Signal, string, bool) {
	d.esc = append(d.esc, b)
	seq := string(d.esc)

	switch seq {
	case "\x1b[":
		return nil, "", false
	case "\x1b[I":
		d.esc = d.esc[:0]
		return &Signal{Kind: SignalFocusGained}, "", false
	case "\x1b[O":
		d.esc = d.esc[:0]
		return &Signal{Kind: SignalFocusLost}, "", false
	case "\x1b[24~":
		d.esc = d.esc[:0]
		return &Signal{Kind: SignalKeyCombo, Combo: KeyCombo{Key: "f12"}}, "", false
	}

	// CSI sequences end with a byte in 0x40..0x7e; anything else we do
	// not understand is dropped.
	if (len(d.esc) > 2 && b >= 0x40 && b <= 0x7e) || len(d.esc) > 8 || (len(d.esc) == 2 && b != '[') {
		d.esc = d.esc[:0]
	}
	return nil, "", false
}
