package main

import (
	"sync"

	"github.com/bluealsa-go/bluealsad/internal/btsock"
	"github.com/bluealsa-go/bluealsad/pkg/sco"
)

// staticCollaborators is a minimal in-memory stand-in for the D-Bus RPC
// layer that device/transport discovery normally runs over: in a full
// deployment devices and transports are published and looked up over D-Bus,
// which is out of scope for this engine. It exists so the daemon binary
// links and runs standalone; a real deployment replaces this with the
// RPC-backed implementation of sco.Collaborators.
type staticCollaborators struct {
	mu         sync.Mutex
	devices    map[btsock.BDAddr]*sco.Device
	transports map[string]*sco.Transport
}

func newStaticCollaborators() *staticCollaborators {
	return &staticCollaborators{
		devices:    make(map[btsock.BDAddr]*sco.Device),
		transports: make(map[string]*sco.Transport),
	}
}

func (c *staticCollaborators) Register(adapterID uint16, addr btsock.BDAddr, controllerPath string, tr *sco.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[addr] = &sco.Device{Address: addr, ControllerPath: controllerPath}
	c.transports[controllerPath] = tr
}

func (c *staticCollaborators) DeviceLookup(adapterID uint16, addr btsock.BDAddr) (*sco.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, ok := c.devices[addr]
	if !ok {
		return nil, sco.ErrDeviceNotFound
	}
	return dev, nil
}

func (c *staticCollaborators) TransportLookup(dev *sco.Device) (*sco.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tr, ok := c.transports[dev.ControllerPath]
	if !ok {
		return nil, sco.ErrTransportNotFound
	}
	return tr, nil
}
