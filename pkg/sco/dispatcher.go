package sco

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bluealsa-go/bluealsad/internal/btsock"
)

// Dispatcher is the one-per-adapter long-lived task that listens on the
// adapter's SCO socket and hands accepted links to the matching Transport.
// Its lifecycle follows a cancel/WaitGroup shape: Run spawns the accept
// loop, Stop cancels it and waits for it to exit.
type Dispatcher struct {
	adapterID uint16
	listenFD  int
	collab    Collaborators
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher runs the startup sequence steps 1-4: probe
// Broadcom quirks (advisory-only), open and bind a SCO socket to the
// adapter, enable deferred setup when wideband is requested, and mark it
// listening with backlog 10. Any socket-layer failure here is wrapped in
// ErrDispatcherSetup and is fatal only to this dispatcher.
func NewDispatcher(adapterID uint16, vendorID uint16, wideband bool, collab Collaborators, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if hciFD, err := unix.Socket(btsock.AFBluetooth, unix.SOCK_RAW, btsock.ProtoHCI); err == nil {
		if err := btsock.BindHCI(hciFD, adapterID); err == nil {
			ProbeQuirks(hciFD, vendorID, logger)
		} else {
			logger.Warn("sco: quirk probe HCI bind failed, continuing", "err", err)
		}
		_ = unix.Close(hciFD)
	} else {
		logger.Warn("sco: quirk probe HCI socket failed, continuing", "err", err)
	}

	fd, err := unix.Socket(btsock.AFBluetooth, unix.SOCK_SEQPACKET, btsock.ProtoSCO)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", ErrDispatcherSetup, err)
	}
	if err := btsock.BindSCO(fd, btsock.BDAddr{}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: bind: %v", ErrDispatcherSetup, err)
	}
	if wideband {
		if err := unix.SetsockoptInt(fd, btsock.SOLBluetooth, btsock.BTDeferSetup, 1); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("%w: defer_setup: %v", ErrDispatcherSetup, err)
		}
	}
	if err := unix.Listen(fd, 10); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: listen: %v", ErrDispatcherSetup, err)
	}

	return &Dispatcher{
		adapterID: adapterID,
		listenFD:  fd,
		collab:    collab,
		logger:    logger,
	}, nil
}

// Run starts the accept loop in a background goroutine. Cancellation is only
// honored while blocked in the accept-preceding poll; any
// in-flight accept/attach runs to completion.
func (d *Dispatcher) Run(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.acceptLoop(ctx)
	}()
}

// Stop cancels the accept loop and waits for it to return, then closes the
// listening socket.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	_ = unix.Close(d.listenFD)
}

func (d *Dispatcher) acceptLoop(ctx context.Context) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		d.logger.Error("sco: dispatcher cancel pipe failed", "err", err)
		return
	}
	cancelR, cancelW := fds[0], fds[1]
	defer unix.Close(cancelR)
	defer unix.Close(cancelW)

	go func() {
		<-ctx.Done()
		var b [1]byte
		_, _ = unix.Write(cancelW, b[:])
	}()

	pollfds := []unix.PollFd{
		{Fd: int32(d.listenFD), Events: unix.POLLIN},
		{Fd: int32(cancelR), Events: unix.POLLIN},
	}

	for {
		n, err := unix.Poll(pollfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			d.logger.Error("sco: dispatcher poll failed", "err", err)
			return
		}
		if n == 0 {
			continue
		}
		if pollfds[1].Revents&unix.POLLIN != 0 {
			return
		}
		if pollfds[0].Revents&unix.POLLIN != 0 {
			d.acceptOne()
		}
	}
}

// acceptSCOFunc and setVoiceTransparentFunc are indirected through
// variables, the same seam scoMTUFunc uses, so the accept-loop logic
// (steps 2-5) can be exercised against a plain socketpair in tests instead
// of a real AF_BLUETOOTH socket.
var acceptSCOFunc = btsock.AcceptSCO

var setVoiceTransparentFunc = func(fd int) error {
	return unix.SetsockoptInt(fd, btsock.SOLBluetooth, btsock.BTVoice, btsock.VoiceSettingTransparent)
}

// acceptOne runs accept-loop steps 1-5 for a single inbound
// connection.
func (d *Dispatcher) acceptOne() {
	fd, remote, err := acceptSCOFunc(d.listenFD)
	if err != nil {
		d.logger.Warn("sco: accept failed", "err", err)
		return
	}

	dev, err := d.collab.DeviceLookup(d.adapterID, remote)
	if err != nil {
		d.logger.Warn("sco: device lookup failed", "addr", remote, "err", err)
		_ = unix.Close(fd)
		return
	}
	tr, err := d.collab.TransportLookup(dev)
	if err != nil {
		d.logger.Warn("sco: transport lookup failed", "addr", remote, "err", err)
		_ = unix.Close(fd)
		return
	}

	if tr.Codec == CodecMSBC {
		if err := setVoiceTransparentFunc(fd); err != nil {
			d.logger.Warn("sco: set BT_VOICE=TRANSPARENT failed", "err", err)
			_ = unix.Close(fd)
			return
		}
		var probe [1]byte
		if _, err := unix.Read(fd, probe[:]); err != nil && err != unix.EAGAIN {
			d.logger.Warn("sco: deferred-setup probe read failed", "err", err)
			_ = unix.Close(fd)
			return
		}
	}

	if err := tr.Attach(fd); err != nil {
		d.logger.Warn("sco: attach failed", "err", err)
		_ = unix.Close(fd)
		return
	}

	tr.Signal.Send(SigPing)
	tr.Signal.Send(SigPing)
}
