package frame

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncode_QueryStatus(t *testing.T) {
	got, err := Encode(NewQueryStatus())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Sum of A5+20 is 0x00C5, checksum 0xFF3B stored little-endian.
	want := []byte{0xA5, 0x20, 0x00, 0x00, 0x3B, 0xFF, 0x5A}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("encoded frame mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_DeployOne(t *testing.T) {
	got, err := Encode(NewDeployOne(2, ModeManual, 8000))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Payload is channel 2, manual mode, 8000ms (0x1F40) little-endian.
	// Byte sum is 0x011B, checksum 0xFEE5.
	want := []byte{0xA5, 0x10, 0x04, 0x00, 0x02, 0x01, 0x40, 0x1F, 0xE5, 0xFE, 0x5A}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("encoded frame mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	_, err := Encode(Frame{Opcode: OpDeployOne, Payload: make([]byte, MaxPayload+1)})
	if !errors.Is(err, ErrLength) {
		t.Fatalf("got %v, want ErrLength", err)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	frames := []Frame{
		NewArm(),
		NewOverrideDisable(),
		NewDeployOne(4, ModeAutomatic, 30000),
		NewDeployAll(5000),
		NewQueryStatus(),
		NewQueryTelemetry(),
		{Opcode: OpQueryStatus | ResponseFlag, Payload: []byte{0x01, 0x0F, 0x00, 0x10, 0x01}},
	}

	for _, f := range frames {
		buf, err := Encode(f)
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", f.Opcode, err)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%v) failed: %v", f.Opcode, err)
		}
		if diff := cmp.Diff(f, got); diff != "" {
			t.Errorf("round trip mismatch for %v (-want +got):\n%s", f.Opcode, diff)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	valid, err := Encode(NewDeployOne(1, ModeAutomatic, 1000))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	corrupt := func(i int, b byte) []byte {
		buf := append([]byte(nil), valid...)
		buf[i] = b
		return buf
	}

	cases := []struct {
		name string
		buf  []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"below minimum", valid[:5], ErrTruncated},
		{"bad SOH", corrupt(0, 0x00), ErrFraming},
		{"bad EOT", corrupt(len(valid)-1, 0x00), ErrFraming},
		{"shorter than declared", valid[:len(valid)-2], ErrTruncated},
		{"trailing bytes", append(append([]byte(nil), valid...), 0xFF), ErrFraming},
		{"corrupt payload", corrupt(4, 0x03), ErrChecksum},
		{"corrupt checksum", corrupt(len(valid)-2, valid[len(valid)-2]+1), ErrChecksum},
		{"length over bound", []byte{SOH, 0x01, 0xFF, 0x00, 0x00, 0x00, EOT}, ErrLength},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.buf)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
			// Every decode failure must also match the umbrella error.
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("%v does not match ErrProtocol", err)
			}
		})
	}
}

func TestPayloadLen(t *testing.T) {
	buf, err := Encode(NewDeployAll(250))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	n, err := PayloadLen(buf[:HeaderSize])
	if err != nil {
		t.Fatalf("PayloadLen failed: %v", err)
	}
	if n != 2 {
		t.Errorf("got payload length %d, want 2", n)
	}
	if Size(n) != len(buf) {
		t.Errorf("Size(%d) = %d, want %d", n, Size(n), len(buf))
	}

	if _, err := PayloadLen(buf[:2]); !errors.Is(err, ErrTruncated) {
		t.Errorf("short header: got %v, want ErrTruncated", err)
	}
}

func TestFrame_ResponseFlag(t *testing.T) {
	req := NewQueryTelemetry()
	if req.IsResponse() {
		t.Error("request frame reported as response")
	}

	resp := Frame{Opcode: OpQueryTelemetry | ResponseFlag}
	if !resp.IsResponse() {
		t.Error("response frame not reported as response")
	}
	if resp.Request() != OpQueryTelemetry {
		t.Errorf("got request opcode %v, want %v", resp.Request(), OpQueryTelemetry)
	}
}

func TestOpcode_String(t *testing.T) {
	cases := []struct {
		op   Opcode
		want string
	}{
		{OpArm, "arm"},
		{OpDeployOne, "deploy-one"},
		{OpDeployAll | ResponseFlag, "deploy-all-resp"},
		{OpQueryStatus, "query-status"},
		{Opcode(0x7F), "unknown"},
	}

	for _, tc := range cases {
		if got := tc.op.String(); got != tc.want {
			t.Errorf("Opcode(%#x).String() = %q, want %q", uint8(tc.op), got, tc.want)
		}
	}
}
