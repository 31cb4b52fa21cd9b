package peakcan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/peakcan/pkg/pcan"
)

// Kind is a PCAN hardware family.
type Kind uint8

const (
	ISA Kind = iota + 1
	DNG
	PCI
	USB
	PCC
	LAN
)

var kinds = []struct {
	kind     Kind
	name     string
	channels uint8
	base     pcan.TPCANHandle
	high     pcan.TPCANHandle // base of channels 9-16, 0 when continuous
	device   pcan.TPCANDevice
}{
	{ISA, "ISA", 8, pcan.PCAN_ISABUS_BASE, 0, pcan.PCAN_ISA},
	{DNG, "DNG", 1, pcan.PCAN_DNGBUS_BASE, 0, pcan.PCAN_DNG},
	{PCI, "PCI", 16, pcan.PCAN_PCIBUS_BASE, pcan.PCAN_PCIBUS_HIGH, pcan.PCAN_PCI},
	{USB, "USB", 16, pcan.PCAN_USBBUS_BASE, pcan.PCAN_USBBUS_HIGH, pcan.PCAN_USB},
	{PCC, "PCC", 2, pcan.PCAN_PCCBUS_BASE, 0, pcan.PCAN_PCC},
	{LAN, "LAN", 16, pcan.PCAN_LANBUS_BASE, 0, pcan.PCAN_LAN},
}

func (k Kind) String() string {
	for _, e := range kinds {
		if e.kind == k {
			return e.name
		}
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Channels is the number of channels the family can address.
func (k Kind) Channels() int {
	for _, e := range kinds {
		if e.kind == k {
			return int(e.channels)
		}
	}
	return 0
}

// KindOfDevice maps the device type reported in a channel information
// record to a Kind.
func KindOfDevice(d pcan.TPCANDevice) (Kind, bool) {
	for _, e := range kinds {
		if e.device == d {
			return e.kind, true
		}
	}
	return 0, false
}

// Bus is one channel of a hardware family. Its zero value is invalid.
type Bus struct {
	kind Kind
	n    uint8
}

// NewBus returns channel n (1-based) of kind.
func NewBus(kind Kind, n int) (Bus, error) {
	c := kind.Channels()
	if c == 0 {
		return Bus{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidBus, kind)
	}
	if n < 1 || n > c {
		return Bus{}, fmt.Errorf("%w: %s has channels 1-%d, got %d", ErrInvalidBus, kind, c, n)
	}
	return Bus{kind: kind, n: uint8(n)}, nil
}

func (b Bus) Kind() Kind   { return b.kind }
func (b Bus) Channel() int { return int(b.n) }

// Handle returns the PCAN channel handle, e.g. 0x51 for USB1 and 0x509 for
// USB9.
func (b Bus) Handle() pcan.TPCANHandle {
	for _, e := range kinds {
		if e.kind != b.kind {
			continue
		}
		if e.high != 0 && b.n >= pcan.PCAN_HIGH_CHANNEL {
			return e.high + pcan.TPCANHandle(b.n)
		}
		return e.base + pcan.TPCANHandle(b.n)
	}
	return pcan.PCAN_NONEBUS
}

func (b Bus) String() string {
	return b.kind.String() + strconv.Itoa(int(b.n))
}

// BusFromHandle is the inverse of Bus.Handle.
func BusFromHandle(h pcan.TPCANHandle) (Bus, error) {
	for _, e := range kinds {
		for n := 1; n <= int(e.channels); n++ {
			b := Bus{kind: e.kind, n: uint8(n)}
			if b.Handle() == h {
				return b, nil
			}
		}
	}
	return Bus{}, fmt.Errorf("%w: handle 0x%X", ErrInvalidBus, uint16(h))
}

// ParseBus accepts "usb1", "USB16", "PCAN_USBBUS1" or a handle such as
// "0x51".
func ParseBus(s string) (Bus, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	if strings.HasPrefix(u, "0X") {
		h, err := strconv.ParseUint(u[2:], 16, 16)
		if err != nil {
			return Bus{}, fmt.Errorf("%w: %q", ErrInvalidBus, s)
		}
		return BusFromHandle(pcan.TPCANHandle(h))
	}
	u = strings.TrimPrefix(u, "PCAN_")
	for _, e := range kinds {
		rest, ok := strings.CutPrefix(u, e.name)
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, "BUS")
		n, err := strconv.Atoi(rest)
		if err != nil {
			return Bus{}, fmt.Errorf("%w: %q", ErrInvalidBus, s)
		}
		return NewBus(e.kind, n)
	}
	return Bus{}, fmt.Errorf("%w: %q", ErrInvalidBus, s)
}
