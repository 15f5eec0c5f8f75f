package frame

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseStatusReport(t *testing.T) {
	// Armed, channels 1 and 3 released, channel 2 burning, raw temp 0x0123.
	payload := []byte{0x01, 0x05, 0x02, 0x23, 0x01}

	got, err := ParseStatusReport(payload)
	if err != nil {
		t.Fatalf("ParseStatusReport failed: %v", err)
	}

	want := StatusReport{
		Armed:          true,
		Released:       [Channels]bool{true, false, true, false},
		Burning:        [Channels]bool{false, true, false, false},
		RawTemperature: 0x0123,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status report mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStatusReport_WrongSize(t *testing.T) {
	_, err := ParseStatusReport([]byte{0x01, 0x05})
	if !errors.Is(err, ErrLength) {
		t.Errorf("got %v, want ErrLength", err)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("%v does not match ErrProtocol", err)
	}
}

func TestEncodeStatusReport(t *testing.T) {
	r := StatusReport{
		Armed:          true,
		Released:       [Channels]bool{false, true, false, true},
		Burning:        [Channels]bool{true, false, false, false},
		RawTemperature: 512,
	}

	got, err := ParseStatusReport(EncodeStatusReport(r))
	if err != nil {
		t.Fatalf("ParseStatusReport failed: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("status report mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusReport_ChannelReleased(t *testing.T) {
	r := StatusReport{Released: [Channels]bool{true, false, false, true}}

	cases := []struct {
		ch   uint8
		want bool
	}{
		{0, false}, // out of range
		{1, true},
		{2, false},
		{4, true},
		{5, false}, // out of range
	}

	for _, tc := range cases {
		if got := r.ChannelReleased(tc.ch); got != tc.want {
			t.Errorf("ChannelReleased(%d) = %v, want %v", tc.ch, got, tc.want)
		}
	}
}

func TestParseAck(t *testing.T) {
	code, err := ParseAck([]byte{AckOK})
	if err != nil {
		t.Fatalf("ParseAck failed: %v", err)
	}
	if code != AckOK {
		t.Errorf("got code %#x, want AckOK", code)
	}

	code, err = ParseAck([]byte{AckRejected})
	if err != nil {
		t.Fatalf("ParseAck failed: %v", err)
	}
	if code != AckRejected {
		t.Errorf("got code %#x, want AckRejected", code)
	}

	if _, err := ParseAck(nil); !errors.Is(err, ErrLength) {
		t.Errorf("empty ack: got %v, want ErrLength", err)
	}
	if _, err := ParseAck([]byte{0x00, 0x00}); !errors.Is(err, ErrLength) {
		t.Errorf("oversized ack: got %v, want ErrLength", err)
	}
}

func TestParseTelemetryReport(t *testing.T) {
	r := TelemetryReport{
		RawTemperature:  731,
		UptimeSeconds:   86400,
		ActivationCount: [Channels]uint8{1, 0, 3, 2},
		ActivationTime:  [Channels]uint16{8, 0, 24, 16},
	}

	payload := EncodeTelemetryReport(r)
	if len(payload) != telemetryReportSize {
		t.Fatalf("encoded payload is %d bytes, want %d", len(payload), telemetryReportSize)
	}

	got, err := ParseTelemetryReport(payload)
	if err != nil {
		t.Fatalf("ParseTelemetryReport failed: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("telemetry report mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseTelemetryReport(payload[:10]); !errors.Is(err, ErrLength) {
		t.Errorf("short payload: got %v, want ErrLength", err)
	}
}
