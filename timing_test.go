package peakcan

import (
	"errors"
	"testing"

	"github.com/roffe/peakcan/pkg/pcan"
)

func TestBitTimingBTR0BTR1(t *testing.T) {
	tests := []struct {
		name                         string
		prescaler, sjw, tseg1, tseg2 uint16
		want                         pcan.TPCANBaudrate
		bitrate                      uint32
	}{
		{"1M", 1, 1, 5, 2, pcan.PCAN_BAUD_1M, 1_000_000},
		{"500k", 1, 1, 13, 2, pcan.PCAN_BAUD_500K, 500_000},
		{"250k", 2, 1, 13, 2, pcan.PCAN_BAUD_250K, 250_000},
		{"125k", 4, 1, 13, 2, pcan.PCAN_BAUD_125K, 125_000},
		{"62.5k", 8, 1, 13, 2, 0x071C, 62_500},
		{"minimum", 1, 1, 1, 1, 0x0000, 2_666_666},
		{"maximum", 64, 4, 16, 8, 0xFF7F, 5_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bt, err := NewBitTiming(tt.prescaler, tt.sjw, tt.tseg1, tt.tseg2)
			if err != nil {
				t.Fatalf("NewBitTiming() error = %v", err)
			}
			if got := bt.BTR0BTR1(); got != tt.want {
				t.Errorf("BTR0BTR1() = 0x%04X, want 0x%04X", uint16(got), uint16(tt.want))
			}
			if got := bt.Bitrate(ClassicClockHz); got != tt.bitrate {
				t.Errorf("Bitrate() = %d, want %d", got, tt.bitrate)
			}
			if got := DecodeBTR0BTR1(tt.want); got != bt {
				t.Errorf("DecodeBTR0BTR1(0x%04X) = %v, want %v", uint16(tt.want), got, bt)
			}
		})
	}
}

func TestDecodeBTR0BTR1IgnoresSampling(t *testing.T) {
	if a, b := DecodeBTR0BTR1(0x00FF), DecodeBTR0BTR1(0x007F); a != b {
		t.Errorf("%v != %v", a, b)
	}
	for v := 0; v <= 0xFFFF; v += 0x0101 {
		bt := DecodeBTR0BTR1(pcan.TPCANBaudrate(v))
		if _, err := NewBitTiming(bt.Prescaler(), bt.SJW(), bt.TSEG1(), bt.TSEG2()); err != nil {
			t.Fatalf("0x%04X decoded out of range: %v", v, err)
		}
		if got := bt.BTR0BTR1(); uint16(got) != uint16(v)&^0x80 {
			t.Errorf("0x%04X re-encoded as 0x%04X", v, uint16(got))
		}
	}
}

func TestBitTimingBounds(t *testing.T) {
	tests := []struct {
		name                         string
		prescaler, sjw, tseg1, tseg2 uint16
		field                        string
	}{
		{"prescaler zero", 0, 1, 13, 2, "prescaler"},
		{"prescaler 65", 65, 1, 13, 2, "prescaler"},
		{"sjw 5", 1, 5, 13, 2, "sjw"},
		{"tseg1 17", 1, 1, 17, 2, "tseg1"},
		{"tseg2 9", 1, 1, 13, 9, "tseg2"},
		{"tseg2 zero", 1, 1, 13, 0, "tseg2"},
		{"first failure wins", 0, 0, 0, 0, "prescaler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBitTiming(tt.prescaler, tt.sjw, tt.tseg1, tt.tseg2)
			if !errors.Is(err, ErrTimingOutOfBounds) {
				t.Fatalf("NewBitTiming() error = %v, want ErrTimingOutOfBounds", err)
			}
			var te *TimingError
			if !errors.As(err, &te) {
				t.Fatalf("error %T is not a *TimingError", err)
			}
			if te.Field != tt.field || te.Table != "classic" {
				t.Errorf("TimingError = %+v, want field %s", te, tt.field)
			}
		})
	}
}

func TestFDBitTiming(t *testing.T) {
	tests := []struct {
		name    string
		args    [8]uint16
		want    string
		nominal uint32
		data    uint32
	}{
		{
			name:    "short segments",
			args:    [8]uint16{10, 4, 13, 2, 5, 2, 6, 1},
			want:    "f_clock=80000000,nom_brp=10,nom_tseg1=13,nom_tseg2=2,nom_sjw=4,data_brp=5,data_tseg1=6,data_tseg2=1,data_sjw=2",
			nominal: 500_000,
			data:    2_000_000,
		},
		{
			name:    "500k/2M",
			args:    [8]uint16{2, 16, 63, 16, 2, 4, 15, 4},
			want:    "f_clock=80000000,nom_brp=2,nom_tseg1=63,nom_tseg2=16,nom_sjw=16,data_brp=2,data_tseg1=15,data_tseg2=4,data_sjw=4",
			nominal: 500_000,
			data:    2_000_000,
		},
		{
			name:    "1M/5M",
			args:    [8]uint16{1, 20, 59, 20, 1, 4, 11, 4},
			want:    "f_clock=80000000,nom_brp=1,nom_tseg1=59,nom_tseg2=20,nom_sjw=20,data_brp=1,data_tseg1=11,data_tseg2=4,data_sjw=4",
			nominal: 1_000_000,
			data:    5_000_000,
		},
		{
			name:    "upper bounds",
			args:    [8]uint16{1024, 128, 256, 128, 1024, 16, 32, 16},
			want:    "f_clock=80000000,nom_brp=1024,nom_tseg1=256,nom_tseg2=128,nom_sjw=128,data_brp=1024,data_tseg1=32,data_tseg2=16,data_sjw=16",
			nominal: 202,
			data:    1_594,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.args
			ft, err := NewFDBitTiming(a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7])
			if err != nil {
				t.Fatalf("NewFDBitTiming() error = %v", err)
			}
			if got := ft.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if b := ft.Bytes(); b[len(b)-1] != 0 || string(b[:len(b)-1]) != tt.want {
				t.Errorf("Bytes() = %q", b)
			}
			if got := ft.NominalBitrate(); got != tt.nominal {
				t.Errorf("NominalBitrate() = %d, want %d", got, tt.nominal)
			}
			if got := ft.DataBitrate(); got != tt.data {
				t.Errorf("DataBitrate() = %d, want %d", got, tt.data)
			}
			back, clock, err := ParseFDBitrate(ft.String())
			if err != nil {
				t.Fatalf("ParseFDBitrate() error = %v", err)
			}
			if back != ft || clock != FDClockHz {
				t.Errorf("ParseFDBitrate() = %v, %d, want %v, %d", back, clock, ft, FDClockHz)
			}
		})
	}
}

func TestFDBitTimingBounds(t *testing.T) {
	tests := []struct {
		name  string
		args  [8]uint16
		table string
		field string
	}{
		{"nominal prescaler", [8]uint16{1025, 1, 1, 1, 1, 1, 1, 1}, "nominal", "prescaler"},
		{"nominal sjw", [8]uint16{1, 129, 1, 1, 1, 1, 1, 1}, "nominal", "sjw"},
		{"nominal tseg1", [8]uint16{1, 1, 257, 1, 1, 1, 1, 1}, "nominal", "tseg1"},
		{"data sjw", [8]uint16{1, 1, 1, 1, 1, 17, 1, 1}, "data", "sjw"},
		{"data tseg1", [8]uint16{1, 1, 1, 1, 1, 1, 33, 1}, "data", "tseg1"},
		{"data tseg2 zero", [8]uint16{1, 1, 1, 1, 1, 1, 1, 0}, "data", "tseg2"},
		{"nominal checked first", [8]uint16{0, 1, 1, 1, 0, 1, 1, 1}, "nominal", "prescaler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.args
			_, err := NewFDBitTiming(a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7])
			var te *TimingError
			if !errors.As(err, &te) {
				t.Fatalf("NewFDBitTiming() error = %v, want *TimingError", err)
			}
			if te.Table != tt.table || te.Field != tt.field {
				t.Errorf("TimingError = %+v, want %s %s", te, tt.table, tt.field)
			}
		})
	}
}

func TestParseFDBitrate(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantClock uint32
		wantErr   bool
	}{
		{"driver format", "f_clock_mhz=80, nom_brp=2, nom_tseg1=63, nom_tseg2=16, nom_sjw=16, data_brp=2, data_tseg1=15, data_tseg2=4, data_sjw=4\x00", 80_000_000, false},
		{"reordered", "nom_sjw=1,nom_tseg2=1,nom_tseg1=1,nom_brp=1,data_sjw=1,data_tseg2=1,data_tseg1=1,data_brp=1,f_clock=40000000", 40_000_000, false},
		{"sample point keys", "f_clock=80000000,nom_brp=1,nom_tseg1=1,nom_tseg2=1,nom_sjw=1,nom_sam=1,data_brp=1,data_tseg1=1,data_tseg2=1,data_sjw=1,data_ssp_offset=10", 80_000_000, false},
		{"missing clock", "nom_brp=1,nom_tseg1=1,nom_tseg2=1,nom_sjw=1,data_brp=1,data_tseg1=1,data_tseg2=1,data_sjw=1", 0, true},
		{"missing field", "f_clock=80000000,nom_brp=1,nom_tseg1=1,nom_tseg2=1,data_brp=1,data_tseg1=1,data_tseg2=1,data_sjw=1", 0, true},
		{"unknown key", "f_clock=80000000,bogus=1", 0, true},
		{"not a number", "f_clock=fast", 0, true},
		{"no equals", "f_clock", 0, true},
		{"out of range", "f_clock=80000000,nom_brp=2000,nom_tseg1=1,nom_tseg2=1,nom_sjw=1,data_brp=1,data_tseg1=1,data_tseg2=1,data_sjw=1", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, clock, err := ParseFDBitrate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFDBitrate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if clock != tt.wantClock {
				t.Errorf("clock = %d, want %d", clock, tt.wantClock)
			}
		})
	}
}

func TestSamplePoint(t *testing.T) {
	bt, _ := NewBitTiming(1, 1, 13, 2)
	if got := bt.SamplePoint(); got != 0.875 {
		t.Errorf("SamplePoint() = %v, want 0.875", got)
	}
	if got := (BitTiming{}).Bitrate(ClassicClockHz); got != 0 {
		t.Errorf("zero BitTiming Bitrate() = %d", got)
	}
}

func TestBaudrates(t *testing.T) {
	tests := []struct {
		in      string
		want    pcan.TPCANBaudrate
		wantErr bool
	}{
		{"500k", pcan.PCAN_BAUD_500K, false},
		{"500000", pcan.PCAN_BAUD_500K, false},
		{"1M", pcan.PCAN_BAUD_1M, false},
		{"0x001C", pcan.PCAN_BAUD_500K, false},
		{"615384", 0x4037, false},
		{"33.3k", 0, true},
		{"0xZZ", 0, true},
		{"fast", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBaudrate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBaudrate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBaudrate(%q) = 0x%04X, want 0x%04X", tt.in, uint16(got), uint16(tt.want))
		}
	}
	list := Baudrates()
	if list[0] != 1_000_000 || list[len(list)-1] != 5_000 {
		t.Errorf("Baudrates() = %v", list)
	}
}
