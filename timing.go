package peakcan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/peakcan/pkg/pcan"
)

const (
	// ClassicClockHz is the time base BTR0BTR1 values refer to: the 16 MHz
	// SJA1000 oscillator divided by two.
	ClassicClockHz = 8_000_000
	// FDClockHz is the controller clock written into FD bit rate strings.
	FDClockHz = 80_000_000
)

type bounds struct {
	name                         string
	prescaler, sjw, tseg1, tseg2 uint16
}

// Upper limits; every field starts at 1.
var (
	classicBounds   = bounds{"classic", 64, 4, 16, 8}
	fdNominalBounds = bounds{"nominal", 1024, 128, 256, 128}
	fdDataBounds    = bounds{"data", 1024, 16, 32, 16}
)

func (b bounds) check(prescaler, sjw, tseg1, tseg2 uint16) error {
	for _, f := range []struct {
		name  string
		value uint16
		max   uint16
	}{
		{"prescaler", prescaler, b.prescaler},
		{"sjw", sjw, b.sjw},
		{"tseg1", tseg1, b.tseg1},
		{"tseg2", tseg2, b.tseg2},
	} {
		if f.value < 1 || f.value > f.max {
			return &TimingError{Table: b.name, Field: f.name, Value: uint32(f.value), Min: 1, Max: uint32(f.max)}
		}
	}
	return nil
}

// BitTiming is a validated prescaler, sjw, tseg1, tseg2 quadruple, all in
// time quanta except the prescaler.
type BitTiming struct {
	prescaler, sjw, tseg1, tseg2 uint16
}

// NewBitTiming validates a classic bit timing: prescaler 1-64, sjw 1-4,
// tseg1 1-16, tseg2 1-8. The first field out of range is reported as a
// *TimingError.
func NewBitTiming(prescaler, sjw, tseg1, tseg2 uint16) (BitTiming, error) {
	if err := classicBounds.check(prescaler, sjw, tseg1, tseg2); err != nil {
		return BitTiming{}, err
	}
	return BitTiming{prescaler, sjw, tseg1, tseg2}, nil
}

func (t BitTiming) Prescaler() uint16 { return t.prescaler }
func (t BitTiming) SJW() uint16       { return t.sjw }
func (t BitTiming) TSEG1() uint16     { return t.tseg1 }
func (t BitTiming) TSEG2() uint16     { return t.tseg2 }

// BTR0BTR1 packs t into the SJA1000 register pair: BTR0 holds sjw and
// prescaler, BTR1 holds tseg2 and tseg1. Every field is stored minus one.
func (t BitTiming) BTR0BTR1() pcan.TPCANBaudrate {
	v := uint16(t.tseg2-1)&0x7<<4 |
		uint16(t.tseg1-1)&0xF |
		uint16(t.prescaler-1)&0x3F<<8 |
		uint16(t.sjw-1)&0x3<<14
	return pcan.TPCANBaudrate(v)
}

// DecodeBTR0BTR1 unpacks a register pair. The triple sampling bit (BTR1
// bit 7) is not represented and is ignored.
func DecodeBTR0BTR1(v pcan.TPCANBaudrate) BitTiming {
	return BitTiming{
		prescaler: uint16(v>>8)&0x3F + 1,
		sjw:       uint16(v>>14)&0x3 + 1,
		tseg1:     uint16(v)&0xF + 1,
		tseg2:     uint16(v>>4)&0x7 + 1,
	}
}

// Quanta is the length of one bit in time quanta.
func (t BitTiming) Quanta() uint32 {
	return 1 + uint32(t.tseg1) + uint32(t.tseg2)
}

// Bitrate returns the bit rate in bit/s for a controller clock.
func (t BitTiming) Bitrate(clockHz uint32) uint32 {
	if t.prescaler == 0 {
		return 0
	}
	return clockHz / (uint32(t.prescaler) * t.Quanta())
}

// SamplePoint returns the sample point as a fraction of the bit time.
func (t BitTiming) SamplePoint() float64 {
	return float64(1+uint32(t.tseg1)) / float64(t.Quanta())
}

func (t BitTiming) String() string {
	return fmt.Sprintf("prescaler=%d,sjw=%d,tseg1=%d,tseg2=%d", t.prescaler, t.sjw, t.tseg1, t.tseg2)
}

// FDBitTiming holds the nominal (arbitration) and data phase timings of a
// CAN FD channel.
type FDBitTiming struct {
	nominal, data BitTiming
}

// NewFDBitTiming validates both phases, nominal first. Nominal limits are
// prescaler 1-1024, sjw 1-128, tseg1 1-256, tseg2 1-128; data limits are
// prescaler 1-1024, sjw 1-16, tseg1 1-32, tseg2 1-16.
func NewFDBitTiming(nomPrescaler, nomSJW, nomTSEG1, nomTSEG2, dataPrescaler, dataSJW, dataTSEG1, dataTSEG2 uint16) (FDBitTiming, error) {
	if err := fdNominalBounds.check(nomPrescaler, nomSJW, nomTSEG1, nomTSEG2); err != nil {
		return FDBitTiming{}, err
	}
	if err := fdDataBounds.check(dataPrescaler, dataSJW, dataTSEG1, dataTSEG2); err != nil {
		return FDBitTiming{}, err
	}
	return FDBitTiming{
		nominal: BitTiming{nomPrescaler, nomSJW, nomTSEG1, nomTSEG2},
		data:    BitTiming{dataPrescaler, dataSJW, dataTSEG1, dataTSEG2},
	}, nil
}

func (t FDBitTiming) Nominal() BitTiming { return t.nominal }
func (t FDBitTiming) Data() BitTiming    { return t.data }

func (t FDBitTiming) NominalBitrate() uint32 { return t.nominal.Bitrate(FDClockHz) }
func (t FDBitTiming) DataBitrate() uint32    { return t.data.Bitrate(FDClockHz) }

// String renders the bit rate string CAN_InitializeFD expects.
func (t FDBitTiming) String() string {
	var b strings.Builder
	b.Grow(160)
	for i, kv := range t.pairs() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kv.key)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(uint64(kv.value), 10))
	}
	return b.String()
}

// Bytes is String with a terminating NUL, ready to hand to the driver.
func (t FDBitTiming) Bytes() []byte {
	return append([]byte(t.String()), 0)
}

type pair struct {
	key   string
	value uint32
}

func (t FDBitTiming) pairs() []pair {
	return []pair{
		{pcan.PCAN_BR_CLOCK, FDClockHz},
		{pcan.PCAN_BR_NOM_BRP, uint32(t.nominal.prescaler)},
		{pcan.PCAN_BR_NOM_TSEG1, uint32(t.nominal.tseg1)},
		{pcan.PCAN_BR_NOM_TSEG2, uint32(t.nominal.tseg2)},
		{pcan.PCAN_BR_NOM_SJW, uint32(t.nominal.sjw)},
		{pcan.PCAN_BR_DATA_BRP, uint32(t.data.prescaler)},
		{pcan.PCAN_BR_DATA_TSEG1, uint32(t.data.tseg1)},
		{pcan.PCAN_BR_DATA_TSEG2, uint32(t.data.tseg2)},
		{pcan.PCAN_BR_DATA_SJW, uint32(t.data.sjw)},
	}
}

// ParseFDBitrate reads a key=value bit rate string as returned by the
// PCAN_BITRATE_INFO_FD parameter. The clock is given by f_clock or
// f_clock_mhz; sample point keys are accepted and ignored. Keys may come in
// any order.
func ParseFDBitrate(s string) (FDBitTiming, uint32, error) {
	s = strings.TrimRight(s, "\x00")
	var clock uint32
	fields := map[string]uint16{}
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return FDBitTiming{}, 0, fmt.Errorf("bit rate string: malformed pair %q", kv)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return FDBitTiming{}, 0, fmt.Errorf("bit rate string: %s: %w", key, err)
		}
		switch key {
		case pcan.PCAN_BR_CLOCK:
			clock = uint32(n)
		case pcan.PCAN_BR_CLOCK_MHZ:
			clock = uint32(n) * 1_000_000
		case pcan.PCAN_BR_NOM_SAMPLE, pcan.PCAN_BR_DATA_SAMPLE:
		case pcan.PCAN_BR_NOM_BRP, pcan.PCAN_BR_NOM_TSEG1, pcan.PCAN_BR_NOM_TSEG2, pcan.PCAN_BR_NOM_SJW,
			pcan.PCAN_BR_DATA_BRP, pcan.PCAN_BR_DATA_TSEG1, pcan.PCAN_BR_DATA_TSEG2, pcan.PCAN_BR_DATA_SJW:
			if n > 0xFFFF {
				return FDBitTiming{}, 0, &TimingError{Table: "fd", Field: key, Value: uint32(n), Min: 1, Max: 0xFFFF}
			}
			fields[key] = uint16(n)
		default:
			return FDBitTiming{}, 0, fmt.Errorf("bit rate string: unknown key %q", key)
		}
	}
	if clock == 0 {
		return FDBitTiming{}, 0, fmt.Errorf("bit rate string: missing %s", pcan.PCAN_BR_CLOCK)
	}
	for _, k := range []string{
		pcan.PCAN_BR_NOM_BRP, pcan.PCAN_BR_NOM_TSEG1, pcan.PCAN_BR_NOM_TSEG2, pcan.PCAN_BR_NOM_SJW,
		pcan.PCAN_BR_DATA_BRP, pcan.PCAN_BR_DATA_TSEG1, pcan.PCAN_BR_DATA_TSEG2, pcan.PCAN_BR_DATA_SJW,
	} {
		if _, ok := fields[k]; !ok {
			return FDBitTiming{}, 0, fmt.Errorf("bit rate string: missing %s", k)
		}
	}
	t, err := NewFDBitTiming(
		fields[pcan.PCAN_BR_NOM_BRP], fields[pcan.PCAN_BR_NOM_SJW], fields[pcan.PCAN_BR_NOM_TSEG1], fields[pcan.PCAN_BR_NOM_TSEG2],
		fields[pcan.PCAN_BR_DATA_BRP], fields[pcan.PCAN_BR_DATA_SJW], fields[pcan.PCAN_BR_DATA_TSEG1], fields[pcan.PCAN_BR_DATA_TSEG2],
	)
	if err != nil {
		return FDBitTiming{}, 0, err
	}
	return t, clock, nil
}
