package sco

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is a single monotonic one-shot timer backed by a real file
// descriptor (timerfd), so it can sit directly in the poll-descriptor set
// at slot 5 alongside the signal pipe and SCO/PCM fds, rather than being a
// side-channel time.Timer the loop has to special-case.
type Timer struct {
	fd int
}

// NewTimer creates a disarmed, non-blocking monotonic timerfd.
func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("sco: timerfd_create: %w", err)
	}
	return &Timer{fd: fd}, nil
}

// FD returns the underlying descriptor, for use in a pollfd set.
func (t *Timer) FD() int { return t.fd }

// Start arms the timer to fire once, ms milliseconds from now. Seconds and
// the remaining nanoseconds are computed via a time.Duration rather than
// assigning an un-reduced millisecond count straight into the Nsec field,
// which would misbehave for values >= 1 second.
func (t *Timer) Start(ms int) error {
	d := time.Duration(ms) * time.Millisecond
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	return unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

// Cancel disarms the timer. Safe to call whether or not it is armed.
func (t *Timer) Cancel() error {
	var spec unix.ItimerSpec
	return unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

// ReadExpirations reads and discards the expiration counter from the timer
// descriptor after a poll(2) POLLIN, per the kernel timerfd ABI (an 8-byte
// counter of expirations since the last read). The count itself is not
// meaningful here: callers only need "the timer fired", not how many times.
func (t *Timer) ReadExpirations() error {
	var buf [8]byte
	_, err := unix.Read(t.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("sco: timerfd read: %w", err)
	}
	return nil
}

// Close releases the timer descriptor.
func (t *Timer) Close() error {
	return unix.Close(t.fd)
}
