package sco

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bluealsa-go/bluealsad/internal/btsock"
)

// Transport is a logical bidirectional audio endpoint to one remote device:
// it owns the SCO file descriptor and the two PCM endpoints.
//
// Ownership of bt_fd: at any instant there is a single owner, either the
// dispatcher accept site (briefly, before Attach) or the Transport itself.
// Transfer happens only through Attach, which internally releases whatever
// fd was previously held.
type Transport struct {
	mu sync.Mutex

	btFD        int
	mtuRead     int
	mtuWrite    int
	Profile     Profile
	Codec       CodecID
	State       State
	Spk         *PCM // speaker, sink relative to remote
	Mic         *PCM // microphone, source relative to remote
	Signal      *SignalChan
	Timer       *Timer
	Timeouts    Timeouts // DRAINING/LINGER/CLOSING durations; defaulted in NewTransport
	releaseHook func()
}

// NewTransport creates a detached (bt_fd == -1) transport for the given
// profile/codec pair, with both PCM endpoints closed. It allocates the real
// signal pipe and timerfd the I/O loop polls, so construction can fail.
func NewTransport(profile Profile, codec CodecID, spkRate, micRate uint32, releaseHook func(), logger *slog.Logger) (*Transport, error) {
	sig, err := NewSignalChan(logger)
	if err != nil {
		return nil, err
	}
	timer, err := NewTimer()
	if err != nil {
		_ = sig.Close()
		return nil, err
	}
	return &Transport{
		btFD:        -1,
		Profile:     profile,
		Codec:       codec,
		State:       StateIdle,
		Spk:         NewPCM(spkRate),
		Mic:         NewPCM(micRate),
		Signal:      sig,
		Timer:       timer,
		Timeouts:    DefaultTimeouts,
		releaseHook: releaseHook,
	}, nil
}

// Close releases the signal pipe and timerfd. Any attached SCO socket
// should be released first.
func (t *Transport) Close() error {
	err1 := t.Signal.Close()
	err2 := t.Timer.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Attach stores a newly accepted SCO socket, releasing any prior one first,
// and recomputes the MTU from the socket. Only Attach ever sets bt_fd; only
// Release ever clears it.
func (t *Transport) Attach(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.btFD >= 0 {
		t.releaseLocked()
	}

	mtu, err := scoMTUFunc(fd)
	if err != nil {
		return fmt.Errorf("sco: attach: %w", err)
	}
	t.btFD = fd
	t.mtuRead = mtu
	t.mtuWrite = mtu
	return nil
}

// Release detaches the SCO socket through the injected release hook (the
// external RPC layer in a real deployment) and clears bt_fd. It is a no-op
// if no link is attached. Only Release (inside mu) clears bt_fd.
func (t *Transport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked()
}

func (t *Transport) releaseLocked() {
	if t.btFD < 0 {
		return
	}
	fd := t.btFD
	t.btFD = -1
	t.mtuRead = 0
	t.mtuWrite = 0
	if t.releaseHook != nil {
		t.releaseHook()
	}
	_ = unix.Close(fd)
}

// FD returns the current SCO file descriptor, or -1 if detached. Safe to
// call concurrently with Attach/Release; the I/O loop re-reads this through
// the poll-descriptor check every iteration (a -1 entry is a poll no-op),
// tolerating a concurrent Release mid-iteration.
func (t *Transport) FD() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.btFD
}

// MTU returns the current read/write MTU (equal).
func (t *Transport) MTU() (read, write int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mtuRead, t.mtuWrite
}

// ReadSCO reads raw bytes from the attached SCO socket into buf. It returns
// ErrNoLink instead of attempting the read if no socket is currently
// attached, which can happen if Release races a caller between FD() and
// the read itself.
func (t *Transport) ReadSCO(buf []byte) (int, error) {
	fd := t.FD()
	if fd < 0 {
		return 0, ErrNoLink
	}
	return unix.Read(fd, buf)
}

// WriteSCO writes raw bytes to the attached SCO socket. It returns
// ErrNoLink instead of attempting the write if no socket is currently
// attached, for the same race as ReadSCO.
func (t *Transport) WriteSCO(buf []byte) (int, error) {
	fd := t.FD()
	if fd < 0 {
		return 0, ErrNoLink
	}
	return unix.Write(fd, buf)
}

// scoOptions mirrors struct sco_options from <bluetooth/sco.h>, returned by
// getsockopt(SOL_SCO, SCO_OPTIONS). The kernel returns the negotiated MTU in
// the mtu field; both read and write MTU are set to this single value.
type scoOptions struct {
	MTU    uint16
	_      [6]byte // reserved kernel padding
}

// scoMTUFunc is indirected through a variable so tests can substitute a fake
// MTU lookup without a real SCO socket.
var scoMTUFunc = scoMTU

// scoMTU queries the kernel for the SCO socket's MTU via a raw getsockopt
// syscall on the fd.
func scoMTU(fd int) (int, error) {
	var opts scoOptions
	size := uint32(unsafe.Sizeof(opts))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd),
		uintptr(btsock.SOLSCO), uintptr(btsock.SCOOptions),
		uintptr(unsafe.Pointer(&opts)), uintptr(unsafe.Pointer(&size)), 0)
	if errno != 0 {
		return 0, fmt.Errorf("getsockopt(SCO_OPTIONS): %w", errno)
	}
	return int(opts.MTU), nil
}
