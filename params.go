package peakcan

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/roffe/peakcan/pkg/pcan"
)

// channel carries the typed parameter accessors shared by Channel and
// Socket. Every accessor checks caps before touching the driver.
type channel struct {
	drv  pcan.Driver
	bus  Bus
	caps Capability
}

// Channel is an unopened bus, queried for information without
// initializing it.
type Channel struct {
	channel
}

// NewChannel returns the query handle of bus. Nothing is sent to the
// driver until a parameter is read.
func NewChannel(drv pcan.Driver, bus Bus) *Channel {
	return &Channel{channel{drv: drv, bus: bus, caps: BusCapabilities(bus.Kind())}}
}

func (c *channel) Bus() Bus                 { return c.bus }
func (c *channel) Capabilities() Capability { return c.caps }

func (c *channel) require(need Capability, op string) error {
	if !c.caps.Has(need) {
		return notSupported(op)
	}
	return nil
}

func (c *channel) get(need Capability, op string, p pcan.TPCANParameter, buf []byte) error {
	if err := c.require(need, op); err != nil {
		return err
	}
	if err := c.drv.GetValue(c.bus.Handle(), p, buf); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *channel) set(need Capability, op string, p pcan.TPCANParameter, buf []byte) error {
	if err := c.require(need, op); err != nil {
		return err
	}
	if err := c.drv.SetValue(c.bus.Handle(), p, buf); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *channel) getUint32(need Capability, op string, p pcan.TPCANParameter) (uint32, error) {
	var buf [4]byte
	if err := c.get(need, op, p, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (c *channel) setUint32(need Capability, op string, p pcan.TPCANParameter, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return c.set(need, op, p, buf[:])
}

func (c *channel) getBool(need Capability, op string, p pcan.TPCANParameter) (bool, error) {
	v, err := c.getUint32(need, op, p)
	if err != nil {
		return false, err
	}
	return parseOnOff(op, v)
}

func parseOnOff(op string, v uint32) (bool, error) {
	switch v {
	case pcan.PCAN_PARAMETER_ON:
		return true, nil
	case pcan.PCAN_PARAMETER_OFF:
		return false, nil
	}
	return false, fmt.Errorf("%s: %w: 0x%X", op, ErrUnexpectedValue, v)
}

func onOff(b bool) uint32 {
	if b {
		return pcan.PCAN_PARAMETER_ON
	}
	return pcan.PCAN_PARAMETER_OFF
}

func (c *channel) setBool(need Capability, op string, p pcan.TPCANParameter, v bool) error {
	return c.setUint32(need, op, p, onOff(v))
}

func (c *channel) getString(need Capability, op string, p pcan.TPCANParameter, size int) (string, error) {
	buf := make([]byte, size)
	if err := c.get(need, op, p, buf); err != nil {
		return "", err
	}
	return pcan.CString(buf), nil
}

// Condition is the availability of a channel.
type Condition uint32

const (
	Unavailable Condition = Condition(pcan.PCAN_CHANNEL_UNAVAILABLE)
	Available   Condition = Condition(pcan.PCAN_CHANNEL_AVAILABLE)
	Occupied    Condition = Condition(pcan.PCAN_CHANNEL_OCCUPIED)
	PCANView    Condition = Condition(pcan.PCAN_CHANNEL_PCANVIEW)
)

func (c Condition) String() string {
	switch c {
	case Unavailable:
		return "unavailable"
	case Available:
		return "available"
	case Occupied:
		return "occupied"
	case PCANView:
		return "pcanview"
	}
	return fmt.Sprintf("condition(0x%X)", uint32(c))
}

func (c *channel) Condition() (Condition, error) {
	const op = "channel condition"
	v, err := c.getUint32(CapChannelCondition, op, pcan.PCAN_CHANNEL_CONDITION)
	if err != nil {
		return 0, err
	}
	switch cond := Condition(v); cond {
	case Unavailable, Available, Occupied, PCANView:
		return cond, nil
	}
	return 0, fmt.Errorf("%s: %w: 0x%X", op, ErrUnexpectedValue, v)
}

// Identifying reports whether the channel LED is blinking.
func (c *channel) Identifying() (bool, error) {
	return c.getBool(CapIdentifying, "channel identifying", pcan.PCAN_CHANNEL_IDENTIFYING)
}

// SetIdentifying blinks the channel LED so the device can be found.
func (c *channel) SetIdentifying(on bool) error {
	return c.setBool(CapIdentifying, "set channel identifying", pcan.PCAN_CHANNEL_IDENTIFYING, on)
}

func (c *channel) DeviceID() (uint32, error) {
	return c.getUint32(CapDeviceID, "device id", pcan.PCAN_DEVICE_ID)
}

func (c *channel) SetDeviceID(id uint32) error {
	return c.setUint32(CapSetDeviceID, "set device id", pcan.PCAN_DEVICE_ID, id)
}

func (c *channel) HardwareName() (string, error) {
	return c.getString(CapHardwareName, "hardware name", pcan.PCAN_HARDWARE_NAME, pcan.MAX_LENGTH_HARDWARE_NAME)
}

func (c *channel) ControllerNumber() (uint32, error) {
	return c.getUint32(CapControllerNumber, "controller number", pcan.PCAN_CONTROLLER_NUMBER)
}

func (c *channel) SetControllerNumber(n uint32) error {
	return c.setUint32(CapSetControllerNumber, "set controller number", pcan.PCAN_CONTROLLER_NUMBER, n)
}

// IPAddress returns the address of a PCAN-Gateway.
func (c *channel) IPAddress() (netip.Addr, error) {
	const op = "ip address"
	s, err := c.getString(CapIPAddress, op, pcan.PCAN_IP_ADDRESS, pcan.MAX_LENGTH_IP_ADDRESS)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%s: %w: %q", op, ErrUnexpectedValue, s)
	}
	return addr, nil
}

func (c *channel) PartNumber() (string, error) {
	return c.getString(CapPartNumber, "part number", pcan.PCAN_DEVICE_PART_NUMBER, pcan.MAX_LENGTH_PART_NUMBER)
}

func (c *channel) ChannelVersion() (string, error) {
	return c.getString(CapChannelVersion, "channel version", pcan.PCAN_CHANNEL_VERSION, pcan.MAX_LENGTH_VERSION_STRING)
}

// Features are the optional hardware features a channel reports.
type Features struct {
	FD    bool // CAN FD capable
	Delay bool // supports an interframe delay
	IO    bool // has I/O pins
}

func (c *channel) Features() (Features, error) {
	v, err := c.getUint32(CapChannelFeatures, "channel features", pcan.PCAN_CHANNEL_FEATURES)
	if err != nil {
		return Features{}, err
	}
	return Features{
		FD:    v&pcan.FEATURE_FD_CAPABLE != 0,
		Delay: v&pcan.FEATURE_DELAY_CAPABLE != 0,
		IO:    v&pcan.FEATURE_IO_CAPABLE != 0,
	}, nil
}

// BitrateInfo returns the classic bit timing the channel runs at.
func (c *channel) BitrateInfo() (BitTiming, error) {
	var buf [4]byte
	if err := c.get(CapBitrateInfo, "bitrate info", pcan.PCAN_BITRATE_INFO, buf[:]); err != nil {
		return BitTiming{}, err
	}
	return DecodeBTR0BTR1(pcan.TPCANBaudrate(binary.LittleEndian.Uint16(buf[:]))), nil
}

// BitrateInfoFD returns the FD bit timing and clock the channel runs at.
func (c *channel) BitrateInfoFD() (FDBitTiming, uint32, error) {
	const op = "bitrate info fd"
	s, err := c.getString(CapBitrateInfoFD, op, pcan.PCAN_BITRATE_INFO_FD, pcan.MAX_LENGTH_VERSION_STRING)
	if err != nil {
		return FDBitTiming{}, 0, err
	}
	t, clock, err := ParseFDBitrate(s)
	if err != nil {
		return FDBitTiming{}, 0, fmt.Errorf("%s: %w", op, err)
	}
	return t, clock, nil
}

// NominalBusSpeed is the nominal bit rate in bit/s.
func (c *channel) NominalBusSpeed() (uint32, error) {
	return c.getUint32(CapBusSpeed, "nominal bus speed", pcan.PCAN_BUSSPEED_NOMINAL)
}

// DataBusSpeed is the data phase bit rate in bit/s.
func (c *channel) DataBusSpeed() (uint32, error) {
	return c.getUint32(CapBusSpeed, "data bus speed", pcan.PCAN_BUSSPEED_DATA)
}

func (c *channel) FirmwareVersion() (string, error) {
	return c.getString(CapFirmwareVersion, "firmware version", pcan.PCAN_FIRMWARE_VERSION, pcan.MAX_LENGTH_FIRMWARE)
}

// FiveVolts reports whether the 5V supply on the connector is on.
func (c *channel) FiveVolts() (bool, error) {
	return c.getBool(CapFiveVolts, "5V power", pcan.PCAN_5VOLTS_POWER)
}

func (c *channel) SetFiveVolts(on bool) error {
	return c.setBool(CapSetFiveVolts, "set 5V power", pcan.PCAN_5VOLTS_POWER, on)
}

func (c *channel) BusOffAutoreset() (bool, error) {
	return c.getBool(CapBusOffAutoreset, "busoff autoreset", pcan.PCAN_BUSOFF_AUTORESET)
}

func (c *channel) SetBusOffAutoreset(on bool) error {
	return c.setBool(CapBusOffAutoreset, "set busoff autoreset", pcan.PCAN_BUSOFF_AUTORESET, on)
}

func (c *channel) ListenOnly() (bool, error) {
	return c.getBool(CapListenOnly, "listen only", pcan.PCAN_LISTEN_ONLY)
}

// SetListenOnly takes effect on the next initialization.
func (c *channel) SetListenOnly(on bool) error {
	return c.setBool(CapListenOnly, "set listen only", pcan.PCAN_LISTEN_ONLY, on)
}

func (c *channel) BitrateAdapting() (bool, error) {
	return c.getBool(CapBitrateAdapting, "bitrate adapting", pcan.PCAN_BITRATE_ADAPTING)
}

// SetBitrateAdapting lets initialization join a bus already running at
// another bit rate. It takes effect on the next initialization.
func (c *channel) SetBitrateAdapting(on bool) error {
	return c.setBool(CapBitrateAdapting, "set bitrate adapting", pcan.PCAN_BITRATE_ADAPTING, on)
}

// InterframeDelay is the pause between two sent frames, in microseconds.
func (c *channel) InterframeDelay() (uint32, error) {
	return c.getUint32(CapInterframeDelay, "interframe delay", pcan.PCAN_INTERFRAME_DELAY)
}

func (c *channel) SetInterframeDelay(us uint32) error {
	return c.setUint32(CapInterframeDelay, "set interframe delay", pcan.PCAN_INTERFRAME_DELAY, us)
}

// FilterState is the state of the reception filter.
type FilterState uint32

const (
	FilterClosed FilterState = FilterState(pcan.PCAN_FILTER_CLOSE)
	FilterOpen   FilterState = FilterState(pcan.PCAN_FILTER_OPEN)
	FilterCustom FilterState = FilterState(pcan.PCAN_FILTER_CUSTOM)
)

func (f FilterState) String() string {
	switch f {
	case FilterClosed:
		return "closed"
	case FilterOpen:
		return "open"
	case FilterCustom:
		return "custom"
	}
	return fmt.Sprintf("filter(0x%X)", uint32(f))
}

func (c *channel) MessageFilter() (FilterState, error) {
	const op = "message filter"
	v, err := c.getUint32(CapMessageFilter, op, pcan.PCAN_MESSAGE_FILTER)
	if err != nil {
		return 0, err
	}
	switch f := FilterState(v); f {
	case FilterClosed, FilterOpen, FilterCustom:
		return f, nil
	}
	return 0, fmt.Errorf("%s: %w: 0x%X", op, ErrUnexpectedValue, v)
}

// SetMessageFilter fully opens or closes reception.
func (c *channel) SetMessageFilter(open bool) error {
	v := pcan.PCAN_FILTER_CLOSE
	if open {
		v = pcan.PCAN_FILTER_OPEN
	}
	return c.setUint32(CapMessageFilter, "set message filter", pcan.PCAN_MESSAGE_FILTER, v)
}

// ReceiveStatus reports whether the receive queue is being filled.
func (c *channel) ReceiveStatus() (bool, error) {
	return c.getBool(CapReceiveStatus, "receive status", pcan.PCAN_RECEIVE_STATUS)
}

func (c *channel) SetReceiveStatus(on bool) error {
	return c.setBool(CapSetReceiveStatus, "set receive status", pcan.PCAN_RECEIVE_STATUS, on)
}

func (c *channel) AllowStatusFrames() (bool, error) {
	return c.getBool(CapAllowStatusFrames, "allow status frames", pcan.PCAN_ALLOW_STATUS_FRAMES)
}

func (c *channel) SetAllowStatusFrames(on bool) error {
	return c.setBool(CapAllowStatusFrames, "set allow status frames", pcan.PCAN_ALLOW_STATUS_FRAMES, on)
}

func (c *channel) AllowRTRFrames() (bool, error) {
	return c.getBool(CapAllowRTRFrames, "allow rtr frames", pcan.PCAN_ALLOW_RTR_FRAMES)
}

func (c *channel) SetAllowRTRFrames(on bool) error {
	return c.setBool(CapAllowRTRFrames, "set allow rtr frames", pcan.PCAN_ALLOW_RTR_FRAMES, on)
}

func (c *channel) AllowErrorFrames() (bool, error) {
	return c.getBool(CapAllowErrorFrames, "allow error frames", pcan.PCAN_ALLOW_ERROR_FRAMES)
}

func (c *channel) SetAllowErrorFrames(on bool) error {
	return c.setBool(CapAllowErrorFrames, "set allow error frames", pcan.PCAN_ALLOW_ERROR_FRAMES, on)
}

// AllowEchoFrames reports whether sent frames are also received.
func (c *channel) AllowEchoFrames() (bool, error) {
	return c.getBool(CapAllowEchoFrames, "allow echo frames", pcan.PCAN_ALLOW_ECHO_FRAMES)
}

func (c *channel) SetAllowEchoFrames(on bool) error {
	return c.setBool(CapAllowEchoFrames, "set allow echo frames", pcan.PCAN_ALLOW_ECHO_FRAMES, on)
}

// AcceptanceFilter is a code/mask pair. Mask bits set to 1 are ignored when
// comparing a received identifier with Code.
type AcceptanceFilter struct {
	Code uint32
	Mask uint32
}

// AcceptanceFilterFor returns the narrowest filter letting all ids
// through. Identifiers are masked to the width of mode first.
func AcceptanceFilterFor(mode Mode, ids ...uint32) AcceptanceFilter {
	if len(ids) == 0 {
		return AcceptanceFilter{Mask: mode.mask()}
	}
	m := mode.mask()
	first := ids[0] & m
	var diff uint32
	for _, id := range ids[1:] {
		diff |= (id & m) ^ first
	}
	return AcceptanceFilter{Code: first &^ diff, Mask: diff}
}

// Accepts reports whether id passes the filter.
func (f AcceptanceFilter) Accepts(id uint32) bool {
	return (id^f.Code)&^f.Mask == 0
}

// the driver takes a 64-bit value: mask in the low word, code in the high
func (f AcceptanceFilter) bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], f.Mask)
	binary.LittleEndian.PutUint32(b[4:], f.Code)
	return b
}

func (c *channel) acceptance(need Capability, op string, p pcan.TPCANParameter) (AcceptanceFilter, error) {
	var buf [8]byte
	if err := c.get(need, op, p, buf[:]); err != nil {
		return AcceptanceFilter{}, err
	}
	return AcceptanceFilter{
		Mask: binary.LittleEndian.Uint32(buf[0:]),
		Code: binary.LittleEndian.Uint32(buf[4:]),
	}, nil
}

func (c *channel) AcceptanceFilter11() (AcceptanceFilter, error) {
	return c.acceptance(CapAcceptanceFilter11, "acceptance filter 11bit", pcan.PCAN_ACCEPTANCE_FILTER_11BIT)
}

func (c *channel) SetAcceptanceFilter11(f AcceptanceFilter) error {
	return c.set(CapAcceptanceFilter11, "set acceptance filter 11bit", pcan.PCAN_ACCEPTANCE_FILTER_11BIT, f.bytes())
}

func (c *channel) AcceptanceFilter29() (AcceptanceFilter, error) {
	return c.acceptance(CapAcceptanceFilter29, "acceptance filter 29bit", pcan.PCAN_ACCEPTANCE_FILTER_29BIT)
}

func (c *channel) SetAcceptanceFilter29(f AcceptanceFilter) error {
	return c.set(CapAcceptanceFilter29, "set acceptance filter 29bit", pcan.PCAN_ACCEPTANCE_FILTER_29BIT, f.bytes())
}

// TraceLocation is the directory trace files are written to.
func (c *channel) TraceLocation() (string, error) {
	return c.getString(CapTrace, "trace location", pcan.PCAN_TRACE_LOCATION, pcan.MAX_LENGTH_PATH)
}

// SetTraceLocation sets the trace directory; an empty path restores the
// driver default.
func (c *channel) SetTraceLocation(dir string) error {
	const op = "set trace location"
	if len(dir) >= pcan.MAX_LENGTH_PATH {
		return fmt.Errorf("%s: path longer than %d bytes", op, pcan.MAX_LENGTH_PATH-1)
	}
	return c.set(CapTrace, op, pcan.PCAN_TRACE_LOCATION, append([]byte(dir), 0))
}

func (c *channel) TraceStatus() (bool, error) {
	return c.getBool(CapTrace, "trace status", pcan.PCAN_TRACE_STATUS)
}

func (c *channel) SetTraceStatus(on bool) error {
	return c.setBool(CapTrace, "set trace status", pcan.PCAN_TRACE_STATUS, on)
}

// TraceSize is the maximum trace file size in megabytes; 0 is the driver
// default.
func (c *channel) TraceSize() (uint32, error) {
	return c.getUint32(CapTrace, "trace size", pcan.PCAN_TRACE_SIZE)
}

func (c *channel) SetTraceSize(mb uint32) error {
	const op = "set trace size"
	if mb > 100 {
		return fmt.Errorf("%s: %d MB exceeds 100", op, mb)
	}
	return c.setUint32(CapTrace, op, pcan.PCAN_TRACE_SIZE, mb)
}

// TraceConfigure returns the TRACE_FILE_* flags.
func (c *channel) TraceConfigure() (uint32, error) {
	return c.getUint32(CapTrace, "trace configure", pcan.PCAN_TRACE_CONFIGURE)
}

func (c *channel) SetTraceConfigure(flags uint32) error {
	return c.setUint32(CapTrace, "set trace configure", pcan.PCAN_TRACE_CONFIGURE, flags)
}

// DigitalConfiguration returns the pin direction word; bit n set means pin
// n is an output.
func (c *channel) DigitalConfiguration() (uint32, error) {
	return c.getUint32(CapDigitalIO, "digital configuration", pcan.PCAN_IO_DIGITAL_CONFIGURATION)
}

func (c *channel) SetDigitalConfiguration(word uint32) error {
	return c.setUint32(CapDigitalIO, "set digital configuration", pcan.PCAN_IO_DIGITAL_CONFIGURATION, word)
}

// SetDigitalMode changes the direction of one pin, leaving the others.
func (c *channel) SetDigitalMode(pin uint8, output bool) error {
	if pin > 31 {
		return fmt.Errorf("set digital mode: pin %d out of range", pin)
	}
	word, err := c.DigitalConfiguration()
	if err != nil {
		return err
	}
	if output {
		word |= 1 << pin
	} else {
		word &^= 1 << pin
	}
	return c.SetDigitalConfiguration(word)
}

func (c *channel) DigitalValue() (uint32, error) {
	return c.getUint32(CapDigitalIO, "digital value", pcan.PCAN_IO_DIGITAL_VALUE)
}

func (c *channel) SetDigitalValue(word uint32) error {
	return c.setUint32(CapDigitalIO, "set digital value", pcan.PCAN_IO_DIGITAL_VALUE, word)
}

// DigitalSet drives the pins in mask high.
func (c *channel) DigitalSet(mask uint32) error {
	return c.setUint32(CapDigitalIO, "digital set", pcan.PCAN_IO_DIGITAL_SET, mask)
}

// DigitalClear drives the pins in mask low.
func (c *channel) DigitalClear(mask uint32) error {
	return c.setUint32(CapDigitalIO, "digital clear", pcan.PCAN_IO_DIGITAL_CLEAR, mask)
}

func (c *channel) AnalogValue() (uint32, error) {
	return c.getUint32(CapAnalogIO, "analog value", pcan.PCAN_IO_ANALOG_VALUE)
}

// APIVersion returns the version of the PCAN-Basic library.
func APIVersion(drv pcan.Driver) (string, error) {
	buf := make([]byte, pcan.MAX_LENGTH_VERSION_STRING)
	if err := drv.GetValue(pcan.PCAN_NONEBUS, pcan.PCAN_API_VERSION, buf); err != nil {
		return "", fmt.Errorf("api version: %w", err)
	}
	return pcan.CString(buf), nil
}

// AttachedChannels lists the channels currently plugged in.
func AttachedChannels(drv pcan.Driver) ([]pcan.TPCANChannelInformation, error) {
	var cnt [4]byte
	if err := drv.GetValue(pcan.PCAN_NONEBUS, pcan.PCAN_ATTACHED_CHANNELS_COUNT, cnt[:]); err != nil {
		return nil, fmt.Errorf("attached channels count: %w", err)
	}
	n := binary.LittleEndian.Uint32(cnt[:])
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, int(n)*pcan.ChannelInformationSize)
	if err := drv.GetValue(pcan.PCAN_NONEBUS, pcan.PCAN_ATTACHED_CHANNELS, buf); err != nil {
		return nil, fmt.Errorf("attached channels: %w", err)
	}
	return pcan.DecodeChannelInformation(buf), nil
}

// LANServiceRunning reports whether the PCAN-LAN service is running.
func LANServiceRunning(drv pcan.Driver) (bool, error) {
	var buf [4]byte
	if err := drv.GetValue(pcan.PCAN_NONEBUS, pcan.PCAN_LAN_SERVICE_STATUS, buf[:]); err != nil {
		return false, fmt.Errorf("lan service status: %w", err)
	}
	switch v := binary.LittleEndian.Uint32(buf[:]); v {
	case pcan.SERVICE_STATUS_RUNNING:
		return true, nil
	case pcan.SERVICE_STATUS_STOPPED:
		return false, nil
	default:
		return false, fmt.Errorf("lan service status: %w: 0x%X", ErrUnexpectedValue, v)
	}
}
