// Package frame implements the wire codec for the antenna deployment
// controller: delimited, length-prefixed, checksummed frames and the
// payload schemas carried inside them.
//
// Frame layout, multi-byte fields little-endian:
//
//	[SOH][opcode][len lo][len hi][payload ...][cksum lo][cksum hi][EOT]
//
// The checksum is the two's complement of the 16-bit sum of every byte
// from SOH through the end of the payload, so adding the checksum back
// to that sum must yield zero.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SOH opens every frame and EOT closes it.
	SOH = 0xA5
	EOT = 0x5A

	// HeaderSize covers SOH, the opcode, and the payload length.
	HeaderSize = 4

	// TrailerSize covers the checksum and EOT.
	TrailerSize = 3

	// MaxPayload bounds payload allocations when decoding. The largest
	// defined payload (telemetry, 18 bytes) fits with headroom for
	// future report fields.
	MaxPayload = 64
)

// ResponseFlag is set on the opcode byte of every controller response.
const ResponseFlag = 0x80

var (
	// ErrProtocol is the umbrella for all frame validation failures.
	ErrProtocol = errors.New("frame: protocol error")

	// ErrFraming reports a missing or wrong SOH or EOT delimiter.
	ErrFraming = fmt.Errorf("%w: bad delimiter", ErrProtocol)

	// ErrLength reports a payload length outside what the wire format
	// or a payload schema allows.
	ErrLength = fmt.Errorf("%w: length out of range", ErrProtocol)

	// ErrTruncated reports a buffer shorter than its header declares.
	ErrTruncated = fmt.Errorf("%w: truncated frame", ErrProtocol)

	// ErrChecksum reports a frame whose checksum does not validate.
	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrProtocol)
)

// Frame is a single decoded command or response.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// IsResponse reports whether the frame carries a controller response.
func (f Frame) IsResponse() bool {
	return f.Opcode&ResponseFlag != 0
}

// Request returns the request opcode a response answers.
func (f Frame) Request() Opcode {
	return f.Opcode &^ ResponseFlag
}

// Size returns the encoded size of a frame carrying payloadLen bytes.
func Size(payloadLen int) int {
	return HeaderSize + payloadLen + TrailerSize
}

// PayloadLen extracts and validates the payload length from a frame
// header. The link layer uses it to size the rest of a response read.
func PayloadLen(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, ErrTruncated
	}
	if header[0] != SOH {
		return 0, fmt.Errorf("%w: expected SOH 0x%02X, got 0x%02X", ErrFraming, SOH, header[0])
	}
	n := int(binary.LittleEndian.Uint16(header[2:4]))
	if n > MaxPayload {
		return 0, fmt.Errorf("%w: declared payload %d exceeds %d", ErrLength, n, MaxPayload)
	}
	return n, nil
}

// Encode serializes f into a wire frame.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrLength, len(f.Payload), MaxPayload)
	}
	buf := make([]byte, 0, Size(len(f.Payload)))
	buf = append(buf, SOH, byte(f.Opcode))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Payload)))
	buf = append(buf, f.Payload...)
	buf = binary.LittleEndian.AppendUint16(buf, checksum(buf))
	buf = append(buf, EOT)
	return buf, nil
}

// Decode parses exactly one frame from buf, validating delimiters,
// length, and checksum. Trailing bytes beyond the frame are rejected.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < Size(0) {
		return Frame{}, fmt.Errorf("%w: %d bytes is below the minimum frame size %d", ErrTruncated, len(buf), Size(0))
	}
	plen, err := PayloadLen(buf)
	if err != nil {
		return Frame{}, err
	}
	total := Size(plen)
	if len(buf) < total {
		return Frame{}, fmt.Errorf("%w: have %d bytes, frame declares %d", ErrTruncated, len(buf), total)
	}
	if len(buf) > total {
		return Frame{}, fmt.Errorf("%w: %d trailing bytes after frame", ErrFraming, len(buf)-total)
	}
	if buf[total-1] != EOT {
		return Frame{}, fmt.Errorf("%w: expected EOT 0x%02X, got 0x%02X", ErrFraming, EOT, buf[total-1])
	}
	body := buf[:HeaderSize+plen]
	cks := binary.LittleEndian.Uint16(buf[HeaderSize+plen:])
	if sum16(body)+cks != 0 {
		return Frame{}, fmt.Errorf("%w: checksum 0x%04X over %d bytes", ErrChecksum, cks, len(body))
	}

	f := Frame{Opcode: Opcode(buf[1])}
	if plen > 0 {
		f.Payload = make([]byte, plen)
		copy(f.Payload, buf[HeaderSize:HeaderSize+plen])
	}
	return f, nil
}

func sum16(b []byte) uint16 {
	var s uint16
	for _, c := range b {
		s += uint16(c)
	}
	return s
}

func checksum(b []byte) uint16 {
	return -sum16(b)
}
