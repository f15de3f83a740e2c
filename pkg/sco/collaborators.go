package sco

import "github.com/bluealsa-go/bluealsad/internal/btsock"

// Device is the out-of-scope control-plane object the dispatcher resolves a
// remote Bluetooth address to. Only the fields the dispatcher needs to
// continue the lookup chain are modeled here; the rest (name, paired
// state, ...) live entirely in the external RPC layer.
type Device struct {
	Address        btsock.BDAddr
	ControllerPath string
}

// Collaborators is the set of external lookups the dispatcher needs to turn
// an accepted SCO connection into a Transport. The core never reaches into
// a D-Bus object store itself; a real deployment satisfies this with the
// RPC layer, tests satisfy it with a fake.
type Collaborators interface {
	// DeviceLookup resolves a remote address, scoped to the adapter that
	// accepted the connection, to a Device. Returns ErrDeviceNotFound if
	// unresolved.
	DeviceLookup(adapterID uint16, addr btsock.BDAddr) (*Device, error)

	// TransportLookup resolves the Transport associated with a Device's
	// controller path. Returns ErrTransportNotFound if unresolved.
	TransportLookup(dev *Device) (*Transport, error)
}
