package peakcan

import (
	"math/bits"
	"strings"
)

// Capability is a set of optional driver features. A hardware family has
// one set for its unopened channels and one for open sockets.
type Capability uint64

const (
	CapRecvCAN Capability = 1 << iota
	CapSendCAN
	CapRecvFD
	CapSendFD
	CapChannelCondition
	CapIdentifying
	CapDeviceID
	CapSetDeviceID
	CapHardwareName
	CapControllerNumber
	CapSetControllerNumber
	CapIPAddress
	CapPartNumber
	CapChannelVersion
	CapChannelFeatures
	CapBitrateInfo
	CapBitrateInfoFD
	CapBusSpeed
	CapFirmwareVersion
	CapFiveVolts
	CapSetFiveVolts
	CapBusOffAutoreset
	CapListenOnly
	CapBitrateAdapting
	CapInterframeDelay
	CapMessageFilter
	CapReceiveStatus
	CapSetReceiveStatus
	CapAllowStatusFrames
	CapAllowRTRFrames
	CapAllowErrorFrames
	CapAllowEchoFrames
	CapAcceptanceFilter11
	CapAcceptanceFilter29
	CapTrace
	CapDigitalIO
	CapAnalogIO

	capEnd
)

var capabilityNames = [...]string{
	"recv-can", "send-can", "recv-fd", "send-fd", "channel-condition",
	"identifying", "device-id", "set-device-id", "hardware-name",
	"controller-number", "set-controller-number", "ip-address",
	"part-number", "channel-version", "channel-features", "bitrate-info",
	"bitrate-info-fd", "bus-speed", "firmware-version", "5v", "set-5v",
	"busoff-autoreset", "listen-only", "bitrate-adapting", "interframe-delay",
	"message-filter", "receive-status", "set-receive-status",
	"allow-status-frames", "allow-rtr-frames", "allow-error-frames",
	"allow-echo-frames", "acceptance-filter-11", "acceptance-filter-29",
	"trace", "digital-io", "analog-io",
}

// Has reports whether every flag in c2 is in c.
func (c Capability) Has(c2 Capability) bool { return c&c2 == c2 }

func (c Capability) String() string {
	var names []string
	for v := c & (capEnd - 1); v != 0; v &= v - 1 {
		names = append(names, capabilityNames[bits.TrailingZeros64(uint64(v))])
	}
	return strings.Join(names, ",")
}

const (
	busCommon = CapChannelCondition | CapHardwareName | CapControllerNumber |
		CapPartNumber | CapChannelVersion | CapChannelFeatures |
		CapBitrateInfo | CapBitrateInfoFD | CapReceiveStatus | CapSetReceiveStatus

	socketCommon = CapRecvCAN | CapSendCAN | CapHardwareName |
		CapControllerNumber | CapSetControllerNumber | CapPartNumber |
		CapChannelVersion | CapChannelFeatures | CapBitrateInfo | CapBusSpeed |
		CapFirmwareVersion | CapBitrateAdapting | CapMessageFilter |
		CapReceiveStatus | CapSetReceiveStatus | CapAllowStatusFrames |
		CapAllowRTRFrames | CapAllowErrorFrames | CapAcceptanceFilter11 |
		CapAcceptanceFilter29 | CapTrace
)

var busCapabilities = map[Kind]Capability{
	ISA: busCommon,
	DNG: busCommon,
	PCI: busCommon | CapDeviceID,
	USB: busCommon | CapIdentifying | CapDeviceID | CapFiveVolts,
	PCC: busCommon | CapFiveVolts,
	LAN: busCommon | CapDeviceID | CapIPAddress,
}

var socketCapabilities = map[Kind]Capability{
	ISA: socketCommon,
	DNG: socketCommon,
	PCI: socketCommon | CapDeviceID | CapSetDeviceID | CapAllowEchoFrames,
	USB: socketCommon | CapRecvFD | CapSendFD | CapBitrateInfoFD | CapIdentifying |
		CapDeviceID | CapSetDeviceID | CapFiveVolts | CapSetFiveVolts |
		CapBusOffAutoreset | CapListenOnly | CapInterframeDelay |
		CapAllowEchoFrames | CapDigitalIO | CapAnalogIO,
	PCC: socketCommon | CapFiveVolts | CapSetFiveVolts,
	LAN: socketCommon | CapDeviceID | CapSetDeviceID | CapIPAddress | CapAllowEchoFrames,
}

// BusCapabilities is what can be queried on a channel of kind k without
// opening it.
func BusCapabilities(k Kind) Capability { return busCapabilities[k] }

// SocketCapabilities is what an open channel of kind k supports.
func SocketCapabilities(k Kind) Capability { return socketCapabilities[k] }
