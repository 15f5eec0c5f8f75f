package frame

import (
	"encoding/binary"
	"fmt"
)

// Channels is the number of antenna channels the controller drives.
const Channels = 4

// Ack status codes carried in the 1-byte payload of command responses.
const (
	AckOK       = 0x00 // command accepted
	AckRejected = 0x01 // command refused by the controller
	AckBadParam = 0x02 // malformed or out-of-range parameter
)

// ParseAck extracts the status code from a command acknowledgement.
func ParseAck(payload []byte) (uint8, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: ack payload is %d bytes, want 1", ErrLength, len(payload))
	}
	return payload[0], nil
}

// StatusReport is the decoded payload of a query-status response.
// Released and Burning are indexed by channel number minus one.
type StatusReport struct {
	Armed          bool
	Released       [Channels]bool
	Burning        [Channels]bool
	RawTemperature uint16
}

const statusReportSize = 5

// ChannelReleased reports whether 1-based channel ch reads released.
func (r StatusReport) ChannelReleased(ch uint8) bool {
	if ch < 1 || ch > Channels {
		return false
	}
	return r.Released[ch-1]
}

// ParseStatusReport decodes a query-status response payload:
// [armed u8][released bits u8][burning bits u8][raw temp u16].
// Bit 0 of the mask bytes is channel 1.
func ParseStatusReport(payload []byte) (StatusReport, error) {
	if len(payload) != statusReportSize {
		return StatusReport{}, fmt.Errorf("%w: status payload is %d bytes, want %d", ErrLength, len(payload), statusReportSize)
	}
	var r StatusReport
	r.Armed = payload[0] != 0
	for i := 0; i < Channels; i++ {
		bit := byte(1) << i
		r.Released[i] = payload[1]&bit != 0
		r.Burning[i] = payload[2]&bit != 0
	}
	r.RawTemperature = binary.LittleEndian.Uint16(payload[3:5])
	return r, nil
}

// EncodeStatusReport builds the payload ParseStatusReport accepts. The
// simulated controller and tests use it to produce well-formed reports.
func EncodeStatusReport(r StatusReport) []byte {
	p := make([]byte, statusReportSize)
	if r.Armed {
		p[0] = 1
	}
	for i := 0; i < Channels; i++ {
		bit := byte(1) << i
		if r.Released[i] {
			p[1] |= bit
		}
		if r.Burning[i] {
			p[2] |= bit
		}
	}
	binary.LittleEndian.PutUint16(p[3:5], r.RawTemperature)
	return p
}

// TelemetryReport is the decoded payload of a query-telemetry response.
// ActivationCount is the number of burns attempted per channel over the
// controller's lifetime; ActivationTime is cumulative burn seconds.
type TelemetryReport struct {
	RawTemperature  uint16
	UptimeSeconds   uint32
	ActivationCount [Channels]uint8
	ActivationTime  [Channels]uint16
}

const telemetryReportSize = 2 + 4 + Channels + 2*Channels

// ParseTelemetryReport decodes a query-telemetry response payload:
// [raw temp u16][uptime u32][act count u8 x4][act time u16 x4].
func ParseTelemetryReport(payload []byte) (TelemetryReport, error) {
	if len(payload) != telemetryReportSize {
		return TelemetryReport{}, fmt.Errorf("%w: telemetry payload is %d bytes, want %d", ErrLength, len(payload), telemetryReportSize)
	}
	var r TelemetryReport
	r.RawTemperature = binary.LittleEndian.Uint16(payload[0:2])
	r.UptimeSeconds = binary.LittleEndian.Uint32(payload[2:6])
	for i := 0; i < Channels; i++ {
		r.ActivationCount[i] = payload[6+i]
	}
	for i := 0; i < Channels; i++ {
		r.ActivationTime[i] = binary.LittleEndian.Uint16(payload[10+2*i : 12+2*i])
	}
	return r, nil
}

// EncodeTelemetryReport builds the payload ParseTelemetryReport accepts.
func EncodeTelemetryReport(r TelemetryReport) []byte {
	p := make([]byte, telemetryReportSize)
	binary.LittleEndian.PutUint16(p[0:2], r.RawTemperature)
	binary.LittleEndian.PutUint32(p[2:6], r.UptimeSeconds)
	for i := 0; i < Channels; i++ {
		p[6+i] = r.ActivationCount[i]
	}
	for i := 0; i < Channels; i++ {
		binary.LittleEndian.PutUint16(p[10+2*i:12+2*i], r.ActivationTime[i])
	}
	return p
}
