package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/roffe/peakcan"
	"github.com/roffe/peakcan/pkg/pcan"
	"github.com/roffe/peakcan/pkg/pcan/pcantest"
	"github.com/spf13/pflag"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"021003", []byte{0x02, 0x10, 0x03}, false},
		{"02 10 03", []byte{0x02, 0x10, 0x03}, false},
		{"de:ad.BE:ef", []byte{0xDE, 0xAD, 0xBE, 0xEF}, false},
		{"0x11 0x22", []byte{0x11, 0x22}, false},
		{"", []byte{}, false},
		{"123", nil, true},
		{"zz", nil, true},
	}
	for _, tt := range tests {
		got, err := parseHex(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHex(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("parseHex(%q) = %X, want %X", tt.in, got, tt.want)
		}
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in       string
		from, to uint32
		wantErr  bool
	}{
		{"7E0-7EF", 0x7E0, 0x7EF, false},
		{"7E8", 0x7E8, 0x7E8, false},
		{"0x100-0x1FF", 0x100, 0x1FF, false},
		{"7E0-", 0, 0, true},
		{"x-1", 0, 0, true},
	}
	for _, tt := range tests {
		from, to, err := parseRange(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRange(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if from != tt.from || to != tt.to {
			t.Errorf("parseRange(%q) = %X-%X, want %X-%X", tt.in, from, to, tt.from, tt.to)
		}
	}
}

func TestParseUint16s(t *testing.T) {
	v, err := parseUint16s([]string{"1", "0x10", "13"})
	if err != nil || v[0] != 1 || v[1] != 16 || v[2] != 13 {
		t.Errorf("parseUint16s() = %v, %v", v, err)
	}
	if _, err := parseUint16s([]string{"1", "70000"}); err == nil {
		t.Error("70000 accepted as uint16")
	}
}

func TestEnvFallback(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	fs.String(flagChannel, "usb1", "")
	fs.Bool(flagVirtual, false, "")
	if err := fs.Parse([]string{"--channel", "lan2"}); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PCANTOOL_LOG_LEVEL", "debug")
	t.Setenv("PCANTOOL_CHANNEL", "usb3")
	t.Setenv("PCANTOOL_VIRTUAL", "true")
	if err := envFallback(fs); err != nil {
		t.Fatal(err)
	}
	if got := mustString(fs, "log-level"); got != "debug" {
		t.Errorf("log-level = %q, want debug", got)
	}
	if got := mustString(fs, flagChannel); got != "lan2" {
		t.Errorf("channel = %q, flag set on the command line was overridden", got)
	}
	if v, _ := fs.GetBool(flagVirtual); !v {
		t.Error("virtual not taken from the environment")
	}

	t.Setenv("PCANTOOL_VIRTUAL", "maybe")
	fs.Lookup(flagVirtual).Changed = false
	if err := envFallback(fs); err == nil {
		t.Error("invalid bool accepted")
	}
}

func TestFrameSender(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	bus, _ := peakcan.ParseBus("usb1")
	s, err := peakcan.Open(drv, bus, pcan.PCAN_BAUD_500K)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	tests := []struct {
		name         string
		mode         peakcan.Mode
		rtr, fd, brs bool
		wantErr      bool
		wantType     pcan.TPCANMessageType
	}{
		{"standard", peakcan.Standard, false, false, false, false, pcan.PCAN_MESSAGE_STANDARD},
		{"extended rtr", peakcan.Extended, true, false, false, false, pcan.PCAN_MESSAGE_EXTENDED | pcan.PCAN_MESSAGE_RTR},
		{"fd on classic socket", peakcan.Standard, false, true, false, true, 0},
		{"brs on classic socket", peakcan.Standard, false, false, true, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send, err := frameSender(s, 0x123, tt.mode, []byte{1, 2}, tt.rtr, tt.fd, tt.brs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("frameSender() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if err := send(context.Background()); err != nil {
				t.Fatal(err)
			}
			w := drv.Written()
			if got := w[len(w)-1].MSGTYPE; got != tt.wantType {
				t.Errorf("MSGTYPE = %02X, want %02X", got, tt.wantType)
			}
		})
	}
}
