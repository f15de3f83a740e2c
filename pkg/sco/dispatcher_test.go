package sco

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bluealsa-go/bluealsad/internal/btsock"
)

func withFakeAccept(t *testing.T, fd int, remote btsock.BDAddr) {
	t.Helper()
	prev := acceptSCOFunc
	acceptSCOFunc = func(int) (int, btsock.BDAddr, error) { return fd, remote, nil }
	t.Cleanup(func() { acceptSCOFunc = prev })
}

func withFakeVoiceSetting(t *testing.T, err error) {
	t.Helper()
	prev := setVoiceTransparentFunc
	setVoiceTransparentFunc = func(int) error { return err }
	t.Cleanup(func() { setVoiceTransparentFunc = prev })
}

// TestDispatcherAcceptOneMSBC checks that for a transport whose negotiated
// codec is mSBC, the accept path sets BT_VOICE transparent, performs the
// one-byte deferred-setup probe read, calls attach, and delivers exactly
// two PING signals.
func TestDispatcherAcceptOneMSBC(t *testing.T) {
	withFakeMTU(t, 60)
	withFakeVoiceSetting(t, nil)

	acceptedFD, peerFD, err := socketpair(t)
	require.NoError(t, err)
	defer closeFDQuiet(peerFD)
	withFakeAccept(t, acceptedFD, btsock.BDAddr{1, 2, 3, 4, 5, 6})

	// The kernel completes deferred setup once userspace reads one byte
	// from the accepted socket; simulate the peer-side unblock.
	_, err = unix.Write(peerFD, []byte{0x00})
	require.NoError(t, err)

	tr, err := NewTransport(ProfileAG, CodecMSBC, 16000, 16000, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	collab := newFakeCollaborators()
	addr := btsock.BDAddr{1, 2, 3, 4, 5, 6}
	collab.add(addr, "/org/bluez/hci0/dev_AA", tr)

	d := &Dispatcher{adapterID: 0, collab: collab, logger: tr.Signal.logger}
	d.acceptOne()

	assert.Equal(t, acceptedFD, tr.FD())

	sig1, ok := tr.Signal.Recv()
	require.True(t, ok)
	assert.Equal(t, SigPing, sig1)
	sig2, ok := tr.Signal.Recv()
	require.True(t, ok)
	assert.Equal(t, SigPing, sig2)
}

func TestDispatcherAcceptOneDeviceNotFoundClosesFD(t *testing.T) {
	acceptedFD, peerFD, err := socketpair(t)
	require.NoError(t, err)
	defer closeFDQuiet(acceptedFD)
	defer closeFDQuiet(peerFD)
	withFakeAccept(t, acceptedFD, btsock.BDAddr{9, 9, 9, 9, 9, 9})

	collab := newFakeCollaborators()
	d := &Dispatcher{adapterID: 0, collab: collab, logger: slog.Default()}
	d.acceptOne()

	// fd was closed by acceptOne; writing to the peer should now fail.
	_, err = unix.Write(peerFD, []byte{0x00})
	assert.Error(t, err)
}
