package sco

import "sync"

// PCM is one direction's client-facing audio endpoint. It is exclusively
// owned by the transport's I/O-loop goroutine for reading and writing;
// opening and closing is done by the control plane, which then delivers a
// Signal to wake the loop.
type PCM struct {
	// FD is the PCM endpoint's non-blocking file descriptor, or -1 if
	// unopened. The I/O loop only ever reads this from its own goroutine.
	FD int

	// Rate is the endpoint's sampling rate in Hz.
	Rate uint32

	mu    sync.Mutex
	delay uint32 // reported delay, in 100-microsecond units

	syncedCond *condBroadcaster
}

// NewPCM creates a closed (FD == -1) PCM endpoint at the given rate. Waking
// the owning transport's I/O loop is done through the Transport's single
// SignalChan (see signal.go); both PCM endpoints name the same channel
// since there is exactly one I/O-loop goroutine per transport.
func NewPCM(rateHz uint32) *PCM {
	p := &PCM{
		FD:   -1,
		Rate: rateHz,
	}
	p.syncedCond = newCondBroadcaster()
	return p
}

// Open marks the endpoint ready for transfer on the given descriptor.
func (p *PCM) Open(fd int) { p.FD = fd }

// Closed reports whether the endpoint is currently unopened.
func (p *PCM) Closed() bool { return p.FD < 0 }

// Release marks the endpoint closed from the I/O loop's perspective,
// without touching the real descriptor's lifecycle (owned by the control
// plane).
func (p *PCM) Release() { p.FD = -1 }

// SetDelay publishes the most recently computed delay, in 100-microsecond
// units, for the control plane to read back (e.g. via a D-Bus property).
func (p *PCM) SetDelay(delay100us uint32) {
	p.mu.Lock()
	p.delay = delay100us
	p.mu.Unlock()
}

// Delay returns the most recently published delay.
func (p *PCM) Delay() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}

// SignalDrainComplete wakes any waiter blocked in WaitDrained. It models a
// drain-completed condition variable: DRAINING timer expiry signals the
// speaker PCM's drain completion exactly once per drain.
func (p *PCM) SignalDrainComplete() { p.syncedCond.broadcast() }

// WaitDrained blocks until SignalDrainComplete is called. Intended for
// tests exercising the drain timeout path.
func (p *PCM) WaitDrained() { p.syncedCond.wait() }

// condBroadcaster is a minimal one-shot-per-signal broadcast primitive: each
// call to broadcast wakes every goroutine currently blocked in wait, without
// requiring callers to hold an external mutex (PCM's own mutex serializes
// unrelated fields, so a plain sync.Cond would need careful lock sharing).
type condBroadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newCondBroadcaster() *condBroadcaster {
	return &condBroadcaster{ch: make(chan struct{})}
}

func (c *condBroadcaster) wait() {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	<-ch
}

func (c *condBroadcaster) broadcast() {
	c.mu.Lock()
	close(c.ch)
	c.ch = make(chan struct{})
	c.mu.Unlock()
}
