package sco

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/bluealsa-go/bluealsad/internal/btsock"
)

// Broadcom's USB/UART vendor ID, as reported in the adapter's HCI version
// information. Only adapters carrying this vendor ID need the SCO-PCM
// routing quirk probed.
const BroadcomVendorID = 0x000F

// HCI vendor-specific opcode group (OGF 0x3f) Broadcom controllers use for
// the "SCO PCM Interface Parameter" command, read and write variants. These
// follow the documented Broadcom vendor extension layout, issued directly
// against the HCI socket.
const (
	hciOGFVendor           = 0x3f
	hciOCFReadSCOPCMParam  = 0x1d
	hciOCFWriteSCOPCMParam = 0x1c
)

// routingTransport is the SCO-PCM routing value that sends audio over the
// transport (USB/UART) interface rather than a dedicated PCM/I2S pin pair.
// This process needs that routing so the SCO socket's data is actually
// reachable here instead of routed straight to hardware.
const routingTransport = 0x03

// scoPCMParams mirrors the 5-byte Broadcom vendor command payload: routing,
// clock rate, frame type, sync mode and clock mode. Only routing is ever
// inspected or rewritten here; the remaining four fields are round-tripped
// unchanged: read, check one field, maybe write back the full record.
type scoPCMParams struct {
	routing   uint8
	clockRate uint8
	frameType uint8
	syncMode  uint8
	clockMode uint8
}

func hciOpcode(ogf, ocf uint16) uint16 { return ocf | (ogf << 10) }

// ProbeQuirks runs the Broadcom SCO-PCM routing quirk on an already-bound
// HCI socket for the given adapter: only for Broadcom adapters, read the
// five parameters, and if routing isn't TRANSPORT, rewrite the record.
// Every failure is advisory: it is logged and ignored, never surfaced to
// the dispatcher's startup error path.
func ProbeQuirks(hciFD int, vendorID uint16, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if vendorID != BroadcomVendorID {
		return
	}

	params, err := readSCOPCMParams(hciFD)
	if err != nil {
		logger.Warn("sco: broadcom quirk probe read failed, continuing", "err", err)
		return
	}
	if params.routing == routingTransport {
		return
	}

	params.routing = routingTransport
	if err := writeSCOPCMParams(hciFD, params); err != nil {
		logger.Warn("sco: broadcom quirk probe write failed, continuing", "err", err)
		return
	}
	logger.Info("sco: rewrote broadcom SCO-PCM routing to transport")
}

// hciCommandPacket builds an HCI_Command_Packet: packet-type byte, 2-byte
// opcode, 1-byte parameter length, then the parameters themselves.
func hciCommandPacket(opcode uint16, params []byte) []byte {
	pkt := make([]byte, 1+2+1+len(params))
	pkt[0] = btsock.HCICommandPkt
	binary.LittleEndian.PutUint16(pkt[1:3], opcode)
	pkt[3] = uint8(len(params))
	copy(pkt[4:], params)
	return pkt
}

func writeSCOPCMParams(fd int, p *scoPCMParams) error {
	params := []byte{p.routing, p.clockRate, p.frameType, p.syncMode, p.clockMode}
	pkt := hciCommandPacket(hciOpcode(hciOGFVendor, hciOCFWriteSCOPCMParam), params)
	_, err := unix.Write(fd, pkt)
	if err != nil {
		return fmt.Errorf("write SCO PCM params: %w", err)
	}
	return drainCommandComplete(fd)
}

func readSCOPCMParams(fd int) (*scoPCMParams, error) {
	pkt := hciCommandPacket(hciOpcode(hciOGFVendor, hciOCFReadSCOPCMParam), nil)
	if _, err := unix.Write(fd, pkt); err != nil {
		return nil, fmt.Errorf("read SCO PCM params: %w", err)
	}

	var buf [btsock.HCIMaxEventSize]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return nil, fmt.Errorf("read command complete event: %w", err)
	}
	// HCI_Event_Packet: packet-type, event code, plen, then
	// Command_Complete's own fixed fields (num_hci_command_packets,
	// opcode, status) followed by the return parameters.
	const headerLen = 1 + 1 + 1 + 1 + 2 + 1
	if n < headerLen+5 {
		return nil, fmt.Errorf("short command complete event: %d bytes", n)
	}
	ret := buf[headerLen : headerLen+5]
	return &scoPCMParams{
		routing:   ret[0],
		clockRate: ret[1],
		frameType: ret[2],
		syncMode:  ret[3],
		clockMode: ret[4],
	}, nil
}

// drainCommandComplete reads and discards a single command-complete event,
// tolerating short reads; the status byte isn't inspected because failures
// here are advisory-only.
func drainCommandComplete(fd int) error {
	var buf [btsock.HCIMaxEventSize]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil {
		return fmt.Errorf("read command complete event: %w", err)
	}
	return nil
}
