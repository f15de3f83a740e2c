package sco

import "errors"

// Sentinel errors surfaced by the transport engine. Callers should compare
// with errors.Is rather than string matching, following the same sentinel
// style the SDO layer uses for abort codes.
var (
	// ErrNoLink is returned by Transport.ReadSCO/WriteSCO when bt_fd is -1:
	// no SCO socket is currently attached.
	ErrNoLink = errors.New("sco: transport has no attached link")

	// ErrDeviceNotFound is returned by a Collaborators.DeviceLookup that
	// could not resolve the given address.
	ErrDeviceNotFound = errors.New("sco: device not found")

	// ErrTransportNotFound is returned by a Collaborators.TransportLookup
	// that could not resolve a Transport for the given device.
	ErrTransportNotFound = errors.New("sco: transport not found")

	// ErrDispatcherSetup wraps a fatal dispatcher startup failure (socket
	// creation, bind, DEFER_SETUP, or listen). It is only ever fatal to the dispatcher
	// goroutine itself.
	ErrDispatcherSetup = errors.New("sco: dispatcher setup failed")

	// ErrBufferOverrun is the panic value of FlipFlopBuffer.Seek/Shift when
	// the requested advance is negative or would move tail past capacity
	// (Seek) or head past tail (Shift).
	ErrBufferOverrun = errors.New("sco: flip-flop buffer overrun")
)
