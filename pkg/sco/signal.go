package sco

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// signalQueueDepth bounds the per-transport signal channel. The I/O loop
// drains exactly one message per iteration, so backlog beyond this depth
// would indicate the control plane is issuing signals far faster than the
// loop can keep up.
const signalQueueDepth = 8

// SignalChan is the bounded single-producer/multi-consumer message channel
// used to wake the I/O loop's poll(2): a Go channel carries the FIFO-ordered
// payload, paired with a real pipe file descriptor that exists only to give
// poll(2) something to wait on (slot 0 of the I/O loop's descriptor set).
// One Signal is consumed per wake.
type SignalChan struct {
	logger *slog.Logger
	readFD int
	wrtFD  int
	ch     chan Signal
}

// NewSignalChan creates a signal channel with its pipe set non-blocking.
func NewSignalChan(logger *slog.Logger) (*SignalChan, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("sco: signal pipe: %w", err)
	}
	return &SignalChan{
		logger: logger,
		readFD: fds[0],
		wrtFD:  fds[1],
		ch:     make(chan Signal, signalQueueDepth),
	}, nil
}

// FD returns the read end, for use in a pollfd set.
func (s *SignalChan) FD() int { return s.readFD }

// Send enqueues a signal and wakes any blocked poll(2). If the channel is
// full the signal is dropped with a warning rather than blocking the
// sender.
func (s *SignalChan) Send(sig Signal) {
	select {
	case s.ch <- sig:
		var b [1]byte
		_, err := unix.Write(s.wrtFD, b[:])
		if err != nil && err != unix.EAGAIN {
			s.logger.Warn("sco: signal pipe write failed", "err", err)
		}
	default:
		s.logger.Warn("sco: dropped signal, queue full", "signal", sig)
	}
}

// Recv dequeues exactly one pending signal, if any, draining its matching
// wake byte from the pipe. ok is false if no signal was pending.
func (s *SignalChan) Recv() (sig Signal, ok bool) {
	select {
	case sig = <-s.ch:
		var b [1]byte
		_, _ = unix.Read(s.readFD, b[:])
		return sig, true
	default:
		return 0, false
	}
}

// Close releases both ends of the pipe.
func (s *SignalChan) Close() error {
	err1 := unix.Close(s.readFD)
	err2 := unix.Close(s.wrtFD)
	if err1 != nil {
		return err1
	}
	return err2
}
