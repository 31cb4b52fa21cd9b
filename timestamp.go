package peakcan

import (
	"fmt"
	"time"

	"github.com/roffe/peakcan/pkg/pcan"
)

// Timestamp is the receive time of a classic frame as reported by the
// driver, relative to when the driver started.
type Timestamp struct {
	Millis         uint32
	Micros         uint16 // 0-999
	MillisOverflow uint16 // wraps of Millis
}

func timestampOf(ts pcan.TPCANTimestamp) Timestamp {
	return Timestamp{Millis: ts.Millis, Micros: ts.Micros, MillisOverflow: ts.MillisOverflow}
}

// Microseconds folds the three fields into one counter.
func (t Timestamp) Microseconds() uint64 {
	return uint64(t.Micros) + 1000*uint64(t.Millis) + 0x100000000*1000*uint64(t.MillisOverflow)
}

func (t Timestamp) Duration() time.Duration {
	return time.Duration(t.Microseconds()) * time.Microsecond
}

func (t Timestamp) String() string {
	us := t.Microseconds()
	return fmt.Sprintf("%d.%06d", us/1_000_000, us%1_000_000)
}
