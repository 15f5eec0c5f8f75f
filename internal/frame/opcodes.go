package frame

import "encoding/binary"

// Opcode identifies a controller command. A response echoes the request
// opcode with ResponseFlag set.
type Opcode uint8

const (
	OpArm             Opcode = 0x01 // open the armed window commands require
	OpOverrideDisable Opcode = 0x02 // disarm, closing any armed window
	OpDeployOne       Opcode = 0x10 // release a single antenna channel
	OpDeployAll       Opcode = 0x11 // run the controller's full release sequence
	OpQueryStatus     Opcode = 0x20 // read arm, release, and burn state
	OpQueryTelemetry  Opcode = 0x21 // read temperature and activation counters
)

// Deployment mode bytes carried in deploy commands.
const (
	ModeAutomatic = 0x00 // controller skips channels already released
	ModeManual    = 0x01 // controller burns even if the release switch reads closed
)

// String names the opcode for logs, with a "-resp" suffix on responses.
func (o Opcode) String() string {
	name := "unknown"
	switch o &^ ResponseFlag {
	case OpArm:
		name = "arm"
	case OpOverrideDisable:
		name = "override-disable"
	case OpDeployOne:
		name = "deploy-one"
	case OpDeployAll:
		name = "deploy-all"
	case OpQueryStatus:
		name = "query-status"
	case OpQueryTelemetry:
		name = "query-telemetry"
	}
	if o&ResponseFlag != 0 {
		return name + "-resp"
	}
	return name
}

// NewArm builds an arm command.
func NewArm() Frame {
	return Frame{Opcode: OpArm}
}

// NewOverrideDisable builds a disarm command.
func NewOverrideDisable() Frame {
	return Frame{Opcode: OpOverrideDisable}
}

// NewDeployOne builds a single-channel release command. The channel is
// 1-based and burnMs is the burn duration in milliseconds.
func NewDeployOne(channel uint8, mode byte, burnMs uint16) Frame {
	p := make([]byte, 0, 4)
	p = append(p, channel, mode)
	p = binary.LittleEndian.AppendUint16(p, burnMs)
	return Frame{Opcode: OpDeployOne, Payload: p}
}

// NewDeployAll builds a full-sequence release command with a per-channel
// burn duration in milliseconds.
func NewDeployAll(burnMs uint16) Frame {
	return Frame{Opcode: OpDeployAll, Payload: binary.LittleEndian.AppendUint16(nil, burnMs)}
}

// NewQueryStatus builds a status query.
func NewQueryStatus() Frame {
	return Frame{Opcode: OpQueryStatus}
}

// NewQueryTelemetry builds a telemetry query.
func NewQueryTelemetry() Frame {
	return Frame{Opcode: OpQueryTelemetry}
}
