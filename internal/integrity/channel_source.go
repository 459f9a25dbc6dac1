package integrity

import "sync"

// ChannelSource is a SignalSource fed by Emit. Used by tests and by shells
// that already have their own event loop.
type ChannelSource struct {
	ch chan Signal

	mu          sync.Mutex
	fullscreens int
	suppressed  []Signal
	closed      bool
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan Signal, buffer)}
}

func (c *ChannelSource) Signals() <-chan Signal { return c.ch }

// Emit queues a signal. Emitting after Close is ignored.
func (c *ChannelSource) Emit(s Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.ch <- s
}

func (c *ChannelSource) RequestFullscreen() error {
	c.mu.Lock()
	c.fullscreens++
	c.mu.Unlock()
	return nil
}

func (c *ChannelSource) Suppress(s Signal) {
	c.mu.Lock()
	c.suppressed = append(c.suppressed, s)
	c.mu.Unlock()
}

// FullscreenRequests reports how often full screen was requested.
func (c *ChannelSource) FullscreenRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullscreens
}

// SuppressedSignals returns the suppressed signals in order.
func (c *ChannelSource) SuppressedSignals() []Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Signal{}, c.suppressed...)
}

func (c *ChannelSource) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
