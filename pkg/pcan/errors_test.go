package pcan

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestPCANErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		status TPCANStatus
		target error
		want   bool
	}{
		{"exact", PCAN_ERROR_QRCVEMPTY, ErrQueueEmpty, true},
		{"combined bus flags", PCAN_ERROR_BUSOFF | PCAN_ERROR_BUSLIGHT, ErrBusOff, true},
		{"other flag", PCAN_ERROR_BUSLIGHT, ErrBusOff, false},
		{"transmit full", PCAN_ERROR_XMTFULL, ErrQueueFull, false},
		{"queue full", PCAN_ERROR_QXMTFULL, ErrQueueFull, true},
		{"illegal handle", PCAN_ERROR_ILLHANDLE, PCANError{PCAN_ERROR_ILLHW}, true},
		{"ok never matches", PCAN_ERROR_BUSOFF, PCANError{PCAN_ERROR_OK}, false},
		{"plain error", PCAN_ERROR_BUSOFF, errors.New("bus off"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("write: %w", CheckStatus(tt.status))
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", err, tt.target, got, tt.want)
			}
		})
	}
}

func TestCheckStatus(t *testing.T) {
	if err := CheckStatus(PCAN_ERROR_OK); err != nil {
		t.Errorf("CheckStatus(OK) = %v", err)
	}
	err := fmt.Errorf("read: %w", CheckStatus(PCAN_ERROR_ILLDATA))
	if got := StatusOf(err); got != PCAN_ERROR_ILLDATA {
		t.Errorf("StatusOf() = 0x%X", uint32(got))
	}
	if got := StatusOf(errors.New("x")); got != PCAN_ERROR_OK {
		t.Errorf("StatusOf(plain) = 0x%X", uint32(got))
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status TPCANStatus
		want   []string
	}{
		{PCAN_ERROR_OK, []string{"ok"}},
		{PCAN_ERROR_QRCVEMPTY, []string{"receive queue is empty"}},
		{PCAN_ERROR_ILLHANDLE, []string{"invalid client handle"}},
		{PCAN_ERROR_BUSOFF | PCAN_ERROR_QOVERRUN, []string{"bus-off", "read too late"}},
		{0x40000000, []string{"status 0x40000000"}},
	}
	for _, tt := range tests {
		got := tt.status.String()
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("TPCANStatus(0x%X).String() = %q, missing %q", uint32(tt.status), got, w)
			}
		}
	}
}

func TestChannelInformation(t *testing.T) {
	in := []TPCANChannelInformation{
		{ChannelHandle: PCAN_USBBUS1, DeviceType: PCAN_USB, ControllerNumber: 0, DeviceFeatures: FEATURE_FD_CAPABLE, DeviceID: 7, ChannelCondition: PCAN_CHANNEL_OCCUPIED},
		{ChannelHandle: PCAN_LANBUS1, DeviceType: PCAN_LAN, ControllerNumber: 3, DeviceID: 0xFFFFFFFF, ChannelCondition: PCAN_CHANNEL_AVAILABLE},
	}
	copy(in[0].DeviceName[:], "PCAN-USB FD")
	copy(in[1].DeviceName[:], "PCAN-Ethernet Gateway DR")
	var buf []byte
	for _, c := range in {
		buf = append(buf, c.Bytes()...)
	}
	// partial trailing record
	buf = append(buf, 1, 2, 3)
	out := DecodeChannelInformation(buf)
	if len(out) != len(in) {
		t.Fatalf("decoded %d records, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("record %d = %+v, want %+v", i, out[i], in[i])
		}
	}
	if out[1].Name() != "PCAN-Ethernet Gateway DR" {
		t.Errorf("Name() = %q", out[1].Name())
	}
}

func TestCString(t *testing.T) {
	for in, want := range map[string]string{
		"4.8.0.0\x00garbage": "4.8.0.0",
		"no terminator":      "no terminator",
		"\x00":               "",
	} {
		if got := CString([]byte(in)); got != want {
			t.Errorf("CString(%q) = %q, want %q", in, got, want)
		}
	}
}
