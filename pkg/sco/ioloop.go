package sco

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// Fixed poll-descriptor slots, in the order every iteration builds them.
const (
	pollSlotSignal = iota
	pollSlotSCORead
	pollSlotSCOWrite
	pollSlotSpkPCM
	pollSlotMicPCM
	pollSlotTimer
	pollSlotCount
)

// IOLoop is the per-transport poll loop, one goroutine per
// Transport, driven entirely by signals, timer expiry and the six
// descriptors' readiness. It owns both PCM endpoints for the duration of its
// run.
type IOLoop struct {
	transport *Transport
	codec     Codec
	rate      *RateSynchronizer
	logger    *slog.Logger

	// codecIdle tracks whether the codec has already been reset for the
	// current detached-or-both-PCM-closed span, so Reset isn't re-run (and
	// mSBC's buffers reallocated) every single idle iteration.
	codecIdle bool
}

// NewIOLoop builds the loop for a transport, selecting CVSD or mSBC per
// transport.Codec. mSBC allocates its pipeline lazily here rather than at
// Transport construction, since it isn't needed until the I/O loop starts.
func NewIOLoop(t *Transport, logger *slog.Logger) *IOLoop {
	if logger == nil {
		logger = slog.Default()
	}
	var codec Codec
	if t.Codec == CodecMSBC {
		codec = NewMSBC(logger)
	} else {
		codec = newCVSDCodec(NewFlipFlopBuffer(128), NewFlipFlopBuffer(128))
	}
	return &IOLoop{
		transport: t,
		codec:     codec,
		rate:      NewRateSynchronizer(0),
		logger:    logger,
	}
}

// Run blocks, running the poll loop until ctx is cancelled. Cancellation
// wakes a blocked poll through the signal pipe (slot 0) and is acted on at
// the top of the next iteration; in-flight work for the current iteration
// always completes first.
func (l *IOLoop) Run(ctx context.Context) {
	defer l.cleanup()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.transport.Signal.Send(SigPing)
		case <-stop:
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		btFD, mtuRead, mtuWrite := l.transport.FD(), 0, 0
		if btFD >= 0 {
			mtuRead, mtuWrite = l.transport.MTU()
		}

		l.syncCodecIdleState(btFD)

		// Advance any PCM/SCO data already buffered from the previous
		// iteration before computing this iteration's fd enablement, so
		// the buffer-level checks below reflect post-codec levels.
		if _, err := l.codec.Encode(); err != nil {
			l.logger.Warn("sco: encode step failed", "err", err)
		}
		if err := l.codec.Decode(); err != nil {
			l.logger.Warn("sco: decode step failed", "err", err)
		}

		pfds := l.buildPollFDs(btFD, mtuRead, mtuWrite)

		n, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			l.logger.Error("sco: poll failed", "err", err)
			return
		}
		if n == 0 {
			continue
		}
		workStart := time.Now()

		if pfds[pollSlotSignal].Revents&unix.POLLIN != 0 {
			if sig, ok := l.transport.Signal.Recv(); ok {
				if l.handleSignal(sig) {
					continue
				}
			}
		}

		if pfds[pollSlotTimer].Revents&unix.POLLIN != 0 {
			l.handleTimerExpiry()
		}

		if btFD >= 0 {
			if pfds[pollSlotSCORead].Revents&unix.POLLIN != 0 {
				l.scoRead()
			}
			if pfds[pollSlotSCOWrite].Revents&unix.POLLOUT != 0 {
				l.scoWrite(mtuWrite)
			}
		}

		if pfds[pollSlotSpkPCM].Fd >= 0 {
			if re := pfds[pollSlotSpkPCM].Revents; re&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
				l.spkRead(re)
			}
		}
		if pfds[pollSlotMicPCM].Fd >= 0 {
			if re := pfds[pollSlotMicPCM].Revents; re&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0 {
				l.micWrite(re)
			}
		}

		l.pace(mtuWrite, time.Since(workStart))
	}
}

// syncCodecIdleState resets the codec exactly once on entry to a
// detached-or-both-PCM-closed span, so stale buffered audio never leaks
// into the next active session. It is a no-op on every iteration after
// the first spent idle, and clears the tracked flag as soon as the
// transport is active again.
func (l *IOLoop) syncCodecIdleState(btFD int) {
	idle := btFD < 0 || (l.transport.Spk.Closed() && l.transport.Mic.Closed())
	if idle {
		if !l.codecIdle {
			l.codec.Reset()
			l.codecIdle = true
		}
		return
	}
	l.codecIdle = false
}

// buildPollFDs computes the six pollfd slots in their fixed order,
// disabling a slot (fd -1) when its readiness condition does not hold.
func (l *IOLoop) buildPollFDs(btFD, mtuRead, mtuWrite int) []unix.PollFd {
	pfds := make([]unix.PollFd, pollSlotCount)
	pfds[pollSlotSignal] = unix.PollFd{Fd: int32(l.transport.Signal.FD()), Events: unix.POLLIN}
	pfds[pollSlotTimer] = unix.PollFd{Fd: int32(l.transport.Timer.FD()), Events: unix.POLLIN}

	pfds[pollSlotSCORead] = unix.PollFd{Fd: -1}
	pfds[pollSlotSCOWrite] = unix.PollFd{Fd: -1}
	if btFD >= 0 {
		if l.codec.SCOReadBuf().LenIn() >= mtuRead {
			pfds[pollSlotSCORead] = unix.PollFd{Fd: int32(btFD), Events: unix.POLLIN}
		}
		if l.codec.SCOWriteBuf().LenOut() >= mtuWrite {
			pfds[pollSlotSCOWrite] = unix.PollFd{Fd: int32(btFD), Events: unix.POLLOUT}
		}
	}

	pfds[pollSlotSpkPCM] = unix.PollFd{Fd: -1}
	if btFD >= 0 && !l.transport.Spk.Closed() && l.codec.PCMInputBuf().LenIn() >= mtuWrite {
		pfds[pollSlotSpkPCM] = unix.PollFd{Fd: int32(l.transport.Spk.FD), Events: unix.POLLIN}
	}

	pfds[pollSlotMicPCM] = unix.PollFd{Fd: -1}
	if !l.transport.Mic.Closed() && l.codec.PCMOutputBuf().LenOut() > 0 {
		pfds[pollSlotMicPCM] = unix.PollFd{Fd: int32(l.transport.Mic.FD), Events: unix.POLLOUT}
	}

	return pfds
}

// handleSignal runs the signal dispatch table. It returns true for every
// signal except PCM_SYNC, forcing a reevaluation of fd enablement without
// running this iteration's I/O steps: PCM_SYNC alone falls through to
// timer/SCO/PCM processing in the same iteration it arrived, since draining
// needs that same iteration to also flush whatever is still buffered.
func (l *IOLoop) handleSignal(sig Signal) (skipIO bool) {
	switch sig {
	case SigPing:
		return true

	case SigPCMOpen, SigPCMResume:
		_ = l.transport.Timer.Cancel()
		l.transport.State = StateRunning
		l.rate.Reset(l.transport.Spk.Rate)
		return true

	case SigPCMClose:
		if l.transport.Profile.IsAG() && l.transport.Spk.Closed() && l.transport.Mic.Closed() &&
			l.transport.State != StateLinger {
			l.transport.State = StateLinger
			if err := l.transport.Timer.Start(l.transport.Timeouts.LingerMs); err != nil {
				l.logger.Warn("sco: arm linger timer failed", "err", err)
			}
		}
		return true

	case SigPCMSync:
		l.transport.State = StateDraining
		if err := l.transport.Timer.Start(l.transport.Timeouts.DrainMs); err != nil {
			l.logger.Warn("sco: arm drain timer failed", "err", err)
		}

	case SigPCMDrop:
		_ = l.transport.Timer.Cancel()
		l.codec.Drop()
		return true
	}
	return false
}

// handleTimerExpiry runs the timer-expiry table.
func (l *IOLoop) handleTimerExpiry() {
	if err := l.transport.Timer.ReadExpirations(); err != nil {
		l.logger.Warn("sco: timer read failed", "err", err)
	}
	switch l.transport.State {
	case StateDraining:
		l.transport.State = StateRunning
		l.transport.Spk.SignalDrainComplete()
	case StateLinger:
		l.transport.State = StateClosing
		l.transport.Release()
		if err := l.transport.Timer.Start(l.transport.Timeouts.CloseMs); err != nil {
			l.logger.Warn("sco: arm close timer failed", "err", err)
		}
	case StateClosing:
		l.transport.State = StateIdle
	default:
	}
}

// scoRead runs the SCO-socket-read error policy and buffer
// bookkeeping (fd index 1).
func (l *IOLoop) scoRead() {
	buf := l.codec.SCOReadBuf()
	if l.transport.Mic.Closed() {
		buf.Rewind()
	}
	room := buf.LenIn()
	if room == 0 {
		return
	}
	n, err := l.transport.ReadSCO(buf.Tail()[:room])
	if err != nil {
		switch {
		case errors.Is(err, ErrNoLink):
			// Released between the poll readiness check and this call;
			// nothing left to do this iteration.
		case err == unix.EINTR:
		case err == unix.ECONNABORTED, err == unix.ECONNRESET:
			l.transport.Release()
		case err == unix.EAGAIN:
		default:
			l.logger.Warn("sco: socket read failed", "err", err)
		}
		return
	}
	if n == 0 {
		l.transport.Release()
		return
	}
	if !l.transport.Mic.Closed() {
		buf.Seek(n)
	}
}

// scoWrite runs the SCO-socket-write error policy (fd index 2):
// exactly mtuWrite bytes are written per call.
func (l *IOLoop) scoWrite(mtuWrite int) {
	buf := l.codec.SCOWriteBuf()
	if buf.LenOut() < mtuWrite {
		return
	}
	n, err := l.transport.WriteSCO(buf.Head()[:mtuWrite])
	if err != nil {
		switch {
		case errors.Is(err, ErrNoLink):
		case err == unix.EINTR:
		case err == unix.ECONNABORTED, err == unix.ECONNRESET:
			l.transport.Release()
		case err == unix.EAGAIN:
		default:
			l.logger.Warn("sco: socket write failed", "err", err)
		}
		return
	}
	buf.Shift(n)
}

// spkRead runs the speaker-PCM-read error policy (fd index 3).
func (l *IOLoop) spkRead(revents int16) {
	if revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		l.transport.Spk.Release()
		l.transport.Signal.Send(SigPCMClose)
		return
	}
	buf := l.codec.PCMInputBuf()
	room := buf.LenIn()
	if room == 0 {
		return
	}
	n, err := unix.Read(l.transport.Spk.FD, buf.Tail()[:room])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		l.logger.Warn("sco: speaker pcm read failed", "err", err)
		return
	}
	if n == 0 {
		l.transport.Spk.Release()
		l.transport.Signal.Send(SigPCMClose)
		return
	}
	buf.Seek(n)
}

// micWrite runs the microphone-PCM-write error policy (fd
// index 4), symmetric to spkRead.
func (l *IOLoop) micWrite(revents int16) {
	if revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		l.transport.Mic.Release()
		l.transport.Signal.Send(SigPCMClose)
		return
	}
	buf := l.codec.PCMOutputBuf()
	avail := buf.LenOut()
	if avail == 0 {
		return
	}
	n, err := unix.Write(l.transport.Mic.FD, buf.Head()[:avail])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		l.logger.Warn("sco: microphone pcm write failed", "err", err)
		return
	}
	buf.Shift(n)
}

// pace runs the rate-pacing step: initialize the synchronizer at
// the speaker's rate on first use, advance it by this codec's pacing rule,
// then publish the resulting delay to both PCM endpoints.
func (l *IOLoop) pace(mtuWrite int, workDuration time.Duration) {
	if l.rate.Frames() == 0 {
		l.rate.Reset(l.transport.Spk.Rate)
	}
	frames := l.codec.PacingFrames(mtuWrite)
	busyUs := l.rate.Tick(frames, workDuration)
	delay := busyUs / 100
	l.transport.Spk.SetDelay(delay)
	l.transport.Mic.SetDelay(delay)
}

// cleanup runs the scoped teardown on cancellation: release any attached
// link and reset codec state.
func (l *IOLoop) cleanup() {
	l.transport.Release()
	if finisher, ok := l.codec.(interface{ Finish() }); ok {
		finisher.Finish()
	}
}
