// Package btsock defines the raw Linux BlueZ socket-layer constants and
// structures the kernel ABI exposes for SCO and HCI sockets. These are not
// part of golang.org/x/sys/unix, which only carries the generic POSIX/Linux
// socket surface, not Bluetooth-specific headers, so bind/accept go
// straight through unix.Syscall with a manually laid out sockaddr, since
// unix.Sockaddr cannot be implemented outside package unix.
package btsock

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Address/protocol family, not defined in golang.org/x/sys/unix.
const AFBluetooth = 31

// Bluetooth socket protocols (BTPROTO_*).
const (
	ProtoL2CAP  = 0
	ProtoHCI    = 1
	ProtoSCO    = 2
	ProtoRFCOMM = 3
)

// SCO socket option level and options.
const (
	SOLSCO      = 17
	SCOOptions  = 1
	SCOConnInfo = 2
)

// BT_* generic Bluetooth socket options, shared across L2CAP/SCO/RFCOMM
// sockets since BlueZ 5.
const (
	SOLBluetooth = 274
	BTSecurity   = 4
	BTDeferSetup = 7
	BTVoice      = 11
)

// BT_VOICE settings (bt_voice.setting).
const (
	VoiceSettingCVSD        = 0x0060
	VoiceSettingTransparent = 0x0003
)

// HCI socket level/options used by the Broadcom quirk probe.
const (
	SOLHCI    = 0
	HCIFilter = 2
)

// HCI UART/USB transport packet-type bytes (the first byte of every frame
// exchanged over an HCI socket, <bluetooth/hci.h>). Not part of
// golang.org/x/sys/unix, same gap as the SCO socket options above.
const (
	HCICommandPkt = 0x01
	HCIEventPkt   = 0x04
)

// HCIMaxEventSize bounds a single HCI_Event_Packet read, per the BlueZ ABI.
const HCIMaxEventSize = 260

// BDAddr is a 6-byte little-endian Bluetooth device address.
type BDAddr [6]byte

func (a BDAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// sockaddrSCO mirrors struct sockaddr_sco from <bluetooth/sco.h>:
//
//	struct sockaddr_sco {
//	        sa_family_t     sco_family;
//	        bdaddr_t        sco_bdaddr;
//	};
type sockaddrSCO struct {
	family uint16
	addr   BDAddr
	_      [8]byte // padding to match glibc's struct sockaddr ABI slack
}

// BindSCO binds fd to a local SCO address. An all-zero addr binds to any local
// adapter, as the dispatcher does before listening.
func BindSCO(fd int, addr BDAddr) error {
	sa := sockaddrSCO{family: AFBluetooth, addr: addr}
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd),
		uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		return fmt.Errorf("bind(AF_BLUETOOTH/SCO): %w", errno)
	}
	return nil
}

// sockaddrHCI mirrors struct sockaddr_hci from <bluetooth/hci.h>.
type sockaddrHCI struct {
	family  uint16
	dev     uint16
	channel uint16
}

// BindHCI binds fd to the HCI device with the given device index.
func BindHCI(fd int, devID uint16) error {
	sa := sockaddrHCI{family: AFBluetooth, dev: devID}
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd),
		uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		return fmt.Errorf("bind(AF_BLUETOOTH/HCI): %w", errno)
	}
	return nil
}

// AcceptSCO accepts a connection on a listening SCO socket and returns the
// new fd plus the remote device address.
func AcceptSCO(listenFD int) (fd int, remote BDAddr, err error) {
	var sa sockaddrSCO
	size := unsafe.Sizeof(sa)
	r1, _, errno := unix.Syscall(unix.SYS_ACCEPT, uintptr(listenFD),
		uintptr(unsafe.Pointer(&sa)), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return -1, BDAddr{}, fmt.Errorf("accept(SCO): %w", errno)
	}
	return int(r1), sa.addr, nil
}
