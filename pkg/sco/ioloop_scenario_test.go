package sco

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// writeAll retries short/EAGAIN writes until the whole payload is sent or
// the deadline passes.
func writeAll(t *testing.T, fd int, data []byte) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				require.True(t, time.Now().Before(deadline), "writeAll timed out")
				time.Sleep(time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		data = data[n:]
	}
}

// readExactly accumulates exactly want bytes from fd, retrying on
// EAGAIN/EINTR, up to a deadline.
func readExactly(t *testing.T, fd int, want int) []byte {
	t.Helper()
	out := make([]byte, 0, want)
	buf := make([]byte, 4096)
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < want {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				require.True(t, time.Now().Before(deadline), "readExactly timed out, got %d/%d", len(out), want)
				time.Sleep(time.Millisecond)
				continue
			}
			require.NoError(t, err)
		}
		out = append(out, buf[:n]...)
	}
	return out
}

func waitForState(t *testing.T, tr *Transport, want State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if tr.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, stuck at %s", want, tr.State)
}

// TestScenarioS1CVSDHappyPath feeds 8000 CVSD samples, observes exactly
// 16000 bytes written to the SCO fd, then closes the speaker PCM and
// observes release() within budget, following
// IDLE -> RUNNING -> LINGER -> CLOSING -> IDLE.
func TestScenarioS1CVSDHappyPath(t *testing.T) {
	withFakeMTU(t, 40)

	released := make(chan struct{}, 1)
	tr, err := NewTransport(ProfileAG, CodecCVSD, 8000, 8000, func() {
		select {
		case released <- struct{}{}:
		default:
		}
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	scoIOEnd, scoPeer, err := socketpair(t)
	require.NoError(t, err)
	defer closeFDQuiet(scoPeer)
	require.NoError(t, tr.Attach(scoIOEnd))

	spkIOEnd, spkPeer, err := socketpair(t)
	require.NoError(t, err)
	tr.Spk.Open(spkIOEnd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewIOLoop(tr, nil)
	go loop.Run(ctx)

	tr.Signal.Send(SigPCMOpen)
	waitForState(t, tr, StateRunning, time.Second)

	samples := make([]byte, 16000)
	for i := range samples {
		samples[i] = byte(i)
	}
	writeAll(t, spkPeer, samples)

	got := readExactly(t, scoPeer, 16000)
	assert.Equal(t, samples, got)

	// Client closes the speaker stream; microphone was never opened, so
	// both endpoints are now closed and profile is AG: LINGER should arm.
	closeFDQuiet(spkPeer)

	select {
	case <-released:
	case <-time.After(1200 * time.Millisecond):
		t.Fatal("release() was not called within the LINGER budget")
	}

	waitForState(t, tr, StateIdle, 800*time.Millisecond)
}

// TestScenarioS5PeerReset covers an ECONNRESET on the SCO read
// releases the link exactly once and the loop keeps running.
func TestScenarioS5PeerReset(t *testing.T) {
	withFakeMTU(t, 40)

	released := 0
	tr, err := NewTransport(ProfileAG, CodecCVSD, 8000, 8000, func() { released++ }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	scoIOEnd, scoPeer, err := socketpair(t)
	require.NoError(t, err)
	require.NoError(t, tr.Attach(scoIOEnd))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewIOLoop(tr, nil)
	go loop.Run(ctx)

	tr.Signal.Send(SigPCMOpen)
	waitForState(t, tr, StateRunning, time.Second)

	// Force the peer to RST the connection: close with SO_LINGER(0, 0).
	require.NoError(t, unix.SetsockoptLinger(scoPeer, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0}))
	closeFDQuiet(scoPeer)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && tr.FD() != -1 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, -1, tr.FD())
	assert.Equal(t, 1, released)

	// The loop is still running: it picks up the next signal.
	tr.Signal.Send(SigPCMSync)
	waitForState(t, tr, StateDraining, time.Second)
}

// TestScenarioS6HFRoleNoLinger runs the same close sequence as S1
// but profile = HF; state must stay RUNNING and release() must not fire.
func TestScenarioS6HFRoleNoLinger(t *testing.T) {
	withFakeMTU(t, 40)

	released := 0
	tr, err := NewTransport(Profile(0), CodecCVSD, 8000, 8000, func() { released++ }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	scoIOEnd, scoPeer, err := socketpair(t)
	require.NoError(t, err)
	defer closeFDQuiet(scoPeer)
	require.NoError(t, tr.Attach(scoIOEnd))

	spkIOEnd, spkPeer, err := socketpair(t)
	require.NoError(t, err)
	tr.Spk.Open(spkIOEnd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewIOLoop(tr, nil)
	go loop.Run(ctx)

	tr.Signal.Send(SigPCMOpen)
	waitForState(t, tr, StateRunning, time.Second)

	closeFDQuiet(spkPeer)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateRunning, tr.State)
	assert.Equal(t, 0, released)
}
