package sco

import (
	"sync"

	"github.com/bluealsa-go/bluealsad/internal/btsock"
)

// fakeCollaborators is a test double for Collaborators: a fixed
// address -> Device -> Transport mapping, standing in for the D-Bus RPC
// layer.
type fakeCollaborators struct {
	mu         sync.Mutex
	devices    map[btsock.BDAddr]*Device
	transports map[string]*Transport
}

func newFakeCollaborators() *fakeCollaborators {
	return &fakeCollaborators{
		devices:    make(map[btsock.BDAddr]*Device),
		transports: make(map[string]*Transport),
	}
}

func (f *fakeCollaborators) add(addr btsock.BDAddr, path string, tr *Transport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[addr] = &Device{Address: addr, ControllerPath: path}
	f.transports[path] = tr
}

func (f *fakeCollaborators) DeviceLookup(adapterID uint16, addr btsock.BDAddr) (*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dev, ok := f.devices[addr]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return dev, nil
}

func (f *fakeCollaborators) TransportLookup(dev *Device) (*Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.transports[dev.ControllerPath]
	if !ok {
		return nil, ErrTransportNotFound
	}
	return tr, nil
}
