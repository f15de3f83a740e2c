package sco

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry is the process-wide adapter→dispatcher and transport→I/O-loop
// mapping: a single owned object with explicit init/teardown rather than
// hidden package-level state (one mutex-guarded map, explicit Start/Stop
// rather than implicit goroutine lifetimes).
type Registry struct {
	logger *slog.Logger

	mu           sync.Mutex
	dispatchers  map[uint16]*Dispatcher
	transports   map[*Transport]context.CancelFunc
	transportsWG sync.WaitGroup
	timeouts     Timeouts
}

// NewRegistry creates an empty registry. Transports it starts default to
// DefaultTimeouts until SetTimeouts is called.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:      logger,
		dispatchers: make(map[uint16]*Dispatcher),
		transports:  make(map[*Transport]context.CancelFunc),
		timeouts:    DefaultTimeouts,
	}
}

// SetTimeouts overrides the DRAINING/LINGER/CLOSING durations applied to
// every transport subsequently started via StartTransport, e.g. from a
// loaded configuration file.
func (r *Registry) SetTimeouts(t Timeouts) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts = t
}

// StartDispatcher starts one dispatcher for the given adapter and registers
// it.
func (r *Registry) StartDispatcher(ctx context.Context, adapterID, vendorID uint16, wideband bool, collab Collaborators) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dispatchers[adapterID]; exists {
		return fmt.Errorf("sco: dispatcher already running for adapter %d", adapterID)
	}
	d, err := NewDispatcher(adapterID, vendorID, wideband, collab, r.logger)
	if err != nil {
		return err
	}
	d.Run(ctx)
	r.dispatchers[adapterID] = d
	return nil
}

// StopDispatcher stops and unregisters the dispatcher for the given
// adapter, if any.
func (r *Registry) StopDispatcher(adapterID uint16) {
	r.mu.Lock()
	d, ok := r.dispatchers[adapterID]
	if ok {
		delete(r.dispatchers, adapterID)
	}
	r.mu.Unlock()
	if ok {
		d.Stop()
	}
}

// StartTransport spawns the I/O-loop goroutine for a transport and
// registers it. The goroutine's context.CancelFunc is stored and the
// goroutine is tracked so Shutdown can wait for every loop to tear down
// cleanly.
func (r *Registry) StartTransport(parent context.Context, t *Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transports[t]; exists {
		return
	}
	t.Timeouts = r.timeouts
	ctx, cancel := context.WithCancel(parent)
	r.transports[t] = cancel
	r.transportsWG.Add(1)
	go func() {
		defer r.transportsWG.Done()
		NewIOLoop(t, r.logger).Run(ctx)
	}()
}

// StopTransport cancels and unregisters a single transport's I/O loop.
func (r *Registry) StopTransport(t *Transport) {
	r.mu.Lock()
	cancel, ok := r.transports[t]
	if ok {
		delete(r.transports, t)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown stops every dispatcher and transport I/O loop and waits for all
// of them to return.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	dispatchers := make([]*Dispatcher, 0, len(r.dispatchers))
	for id, d := range r.dispatchers {
		dispatchers = append(dispatchers, d)
		delete(r.dispatchers, id)
	}
	cancels := make([]context.CancelFunc, 0, len(r.transports))
	for t, cancel := range r.transports {
		cancels = append(cancels, cancel)
		delete(r.transports, t)
	}
	r.mu.Unlock()

	for _, d := range dispatchers {
		d.Stop()
	}
	for _, cancel := range cancels {
		cancel()
	}
	r.transportsWG.Wait()
}
