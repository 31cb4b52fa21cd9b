package peakcan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roffe/peakcan/pkg/pcan"
)

var baudrates = map[uint32]pcan.TPCANBaudrate{
	1_000_000: pcan.PCAN_BAUD_1M,
	800_000:   pcan.PCAN_BAUD_800K,
	615_384:   0x4037, // Saab I-bus
	500_000:   pcan.PCAN_BAUD_500K,
	250_000:   pcan.PCAN_BAUD_250K,
	125_000:   pcan.PCAN_BAUD_125K,
	100_000:   pcan.PCAN_BAUD_100K,
	95_000:    pcan.PCAN_BAUD_95K,
	83_000:    pcan.PCAN_BAUD_83K,
	50_000:    pcan.PCAN_BAUD_50K,
	47_000:    pcan.PCAN_BAUD_47K,
	33_000:    pcan.PCAN_BAUD_33K,
	20_000:    pcan.PCAN_BAUD_20K,
	10_000:    pcan.PCAN_BAUD_10K,
	5_000:     pcan.PCAN_BAUD_5K,
}

// BaudrateFor returns the predefined BTR0BTR1 value for a bit rate in bit/s.
func BaudrateFor(bps uint32) (pcan.TPCANBaudrate, error) {
	if b, ok := baudrates[bps]; ok {
		return b, nil
	}
	return 0, fmt.Errorf("unsupported CAN rate: %d", bps)
}

// Baudrates lists the predefined bit rates, fastest first.
func Baudrates() []uint32 {
	out := make([]uint32, 0, len(baudrates))
	for bps := range baudrates {
		out = append(out, bps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// ParseBaudrate accepts a bit rate ("500000", "500k", "1M") or a raw
// register value in hex ("0x001C").
func ParseBaudrate(s string) (pcan.TPCANBaudrate, error) {
	s = strings.TrimSpace(s)
	ls := strings.ToLower(s)
	if strings.HasPrefix(ls, "0x") {
		v, err := strconv.ParseUint(ls[2:], 16, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid BTR0BTR1 %q: %w", s, err)
		}
		return pcan.TPCANBaudrate(v), nil
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(ls, "k"):
		mult, ls = 1_000, strings.TrimSuffix(ls, "k")
	case strings.HasSuffix(ls, "m"):
		mult, ls = 1_000_000, strings.TrimSuffix(ls, "m")
	}
	f, err := strconv.ParseFloat(ls, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid bit rate %q", s)
	}
	return BaudrateFor(uint32(f*mult + 0.5))
}
