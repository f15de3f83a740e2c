package sco

import "log/slog"

// mSBC wideband speech framing constants.
const (
	msbcSamplesPerFrame = 120 // mono 16kHz PCM samples per SBC frame
	msbcPayloadBytes    = 57  // encoded SBC payload size
	h2HeaderBytes       = 2
	msbcPaddingBytes    = 1
	msbcFrameBytes      = h2HeaderBytes + msbcPayloadBytes + msbcPaddingBytes // 60

	msbcPCMBytesPerFrame = msbcSamplesPerFrame * 2 // 16-bit samples

	// Buffer sizes sized for a handful of frames of slack, following the
	// convention of small fixed arenas rather than unbounded queues.
	msbcPCMBufferBytes  = msbcPCMBytesPerFrame * 4
	msbcDataBufferBytes = msbcFrameBytes * 4
)

// h2SyncSecondByte is the rolling 4-state H2 synchronization header second
// byte, indexed by sequence number mod 4. The first byte is always 0x01.
var h2SyncSecondByte = [4]byte{0x08, 0x38, 0xC8, 0xF8}

const h2FirstByte = 0x01

// MSBC implements Codec for wideband speech. The subband transform itself
// is a documented placeholder -- it preserves the framing contract (120 PCM
// samples in, exactly one 60-byte H2-framed SCO frame out, and the reverse
// on decode) without reproducing SBC's actual psychoacoustic subband
// filter bank.
type MSBC struct {
	logger *slog.Logger

	encPCM  *FlipFlopBuffer // speaker PCM -> encoder input
	encData *FlipFlopBuffer // encoder output -> SCO socket
	decData *FlipFlopBuffer // SCO socket -> decoder input
	decPCM  *FlipFlopBuffer // decoder output -> microphone PCM

	initialized bool
	encSeq      uint8 // rolling H2 sequence number, 0..3
	encFrames   uint64
}

// NewMSBC allocates an mSBC pipeline. It starts initialized; Reset()
// reinitializes it, allocating four fresh buffers.
func NewMSBC(logger *slog.Logger) *MSBC {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MSBC{logger: logger}
	m.Reset()
	return m
}

func (m *MSBC) PCMInputBuf() *FlipFlopBuffer  { return m.encPCM }
func (m *MSBC) PCMOutputBuf() *FlipFlopBuffer { return m.decPCM }
func (m *MSBC) SCOWriteBuf() *FlipFlopBuffer  { return m.encData }
func (m *MSBC) SCOReadBuf() *FlipFlopBuffer   { return m.decData }

// Reset reallocates the four flip-flop buffers and clears pipeline state.
// Called whenever both PCM endpoints are closed or the SCO socket is
// detached, so stale buffered audio never leaks into a new session.
func (m *MSBC) Reset() {
	m.encPCM = NewFlipFlopBuffer(msbcPCMBufferBytes)
	m.encData = NewFlipFlopBuffer(msbcDataBufferBytes)
	m.decData = NewFlipFlopBuffer(msbcDataBufferBytes)
	m.decPCM = NewFlipFlopBuffer(msbcPCMBufferBytes)
	m.encSeq = 0
	m.encFrames = 0
	m.initialized = true
}

// Drop discards buffered-but-unsent encoder input and output, used by
// PCM_DROP to flush the speaker side without touching the capture path.
func (m *MSBC) Drop() {
	m.encPCM.Rewind()
	m.encData.Rewind()
}

// Finish releases pipeline resources. Idempotent.
func (m *MSBC) Finish() {
	if !m.initialized {
		return
	}
	m.initialized = false
}

// Encode consumes 120-sample blocks from encPCM and produces one 60-byte
// H2-framed SCO frame per block into encData, for as long as both a full
// block of input and room for a full frame of output are available.
// Packing a frame cannot fail, so the returned error is always nil.
func (m *MSBC) Encode() (framesConsumed int, err error) {
	for m.encPCM.LenOut() >= msbcPCMBytesPerFrame && m.encData.LenIn() >= msbcFrameBytes {
		pcm := m.encPCM.Head()[:msbcPCMBytesPerFrame]
		frame := m.encData.Tail()[:msbcFrameBytes]

		packMSBCFrame(pcm, frame, m.encSeq)

		m.encPCM.Shift(msbcPCMBytesPerFrame)
		m.encData.Seek(msbcFrameBytes)
		m.encSeq = (m.encSeq + 1) % 4
		m.encFrames++
		framesConsumed += msbcSamplesPerFrame
	}
	return framesConsumed, nil
}

// Decode consumes 60-byte frames from decData and produces 120-sample
// blocks into decPCM, substituting silence for any frame that fails to
// locate a valid H2 header.
func (m *MSBC) Decode() error {
	for m.decData.LenOut() >= msbcFrameBytes && m.decPCM.LenIn() >= msbcPCMBytesPerFrame {
		frame := m.decData.Head()[:msbcFrameBytes]
		pcm := m.decPCM.Tail()[:msbcPCMBytesPerFrame]

		if !unpackMSBCFrame(frame, pcm) {
			m.logger.Warn("msbc: dropped frame with bad H2 header, substituting silence")
			for i := range pcm {
				pcm[i] = 0
			}
		}

		m.decData.Shift(msbcFrameBytes)
		m.decPCM.Seek(msbcPCMBytesPerFrame)
	}
	return nil
}

// PacingFrames reports encFrames*120 PCM frames since the last call, then
// resets the counter. The bytesWritten argument is unused under mSBC
// (pacing tracks frames encoded, not SCO bytes written).
func (m *MSBC) PacingFrames(int) uint64 {
	if m.encFrames == 0 {
		return 0
	}
	frames := m.encFrames * msbcSamplesPerFrame
	m.encFrames = 0
	return frames
}

// packMSBCFrame writes the H2 header, a placeholder subband-coded payload,
// and the trailing padding byte into dst (must be msbcFrameBytes long).
func packMSBCFrame(pcm []byte, dst []byte, seq uint8) {
	dst[0] = h2FirstByte
	dst[1] = h2SyncSecondByte[seq%4]
	// Placeholder transform: keep the high byte of the first
	// msbcPayloadBytes samples. See the MSBC doc comment.
	payload := dst[h2HeaderBytes : h2HeaderBytes+msbcPayloadBytes]
	for i := range payload {
		srcIdx := i * 2
		if srcIdx+1 < len(pcm) {
			payload[i] = pcm[srcIdx+1]
		} else {
			payload[i] = 0
		}
	}
	dst[len(dst)-1] = 0 // trailing padding byte
}

// unpackMSBCFrame reverses packMSBCFrame. It returns false (caller
// substitutes silence) if the H2 header does not match one of the four
// rolling sync values.
func unpackMSBCFrame(src []byte, pcm []byte) bool {
	if src[0] != h2FirstByte {
		return false
	}
	validSync := false
	for _, s := range h2SyncSecondByte {
		if src[1] == s {
			validSync = true
			break
		}
	}
	if !validSync {
		return false
	}
	payload := src[h2HeaderBytes : h2HeaderBytes+msbcPayloadBytes]
	written := 0
	for i, b := range payload {
		dstIdx := i * 2
		if dstIdx+1 >= len(pcm) {
			break
		}
		pcm[dstIdx] = 0
		pcm[dstIdx+1] = b
		written = dstIdx + 2
	}
	// The placeholder payload cannot carry a full 120-sample block; the
	// remaining tail is explicit silence rather than whatever stale bytes
	// happened to be in the backing array.
	for i := written; i < len(pcm); i++ {
		pcm[i] = 0
	}
	return true
}
