package pcan

import "encoding/binary"

//  Go mirror of the PCAN-Basic header (PCANBasic.h).
//
//  Copyright (C) 1999-2024  PEAK-System Technik GmbH, Darmstadt
//  more Info at http://www.peak-system.com

type TPCANHandle uint16      // channel handle (WORD)
type TPCANStatus uint32      // status / error code (DWORD)
type TPCANParameter uint8    // parameter id for GetValue/SetValue (BYTE)
type TPCANDevice uint8       // hardware family (BYTE)
type TPCANMessageType uint8  // MSGTYPE flag byte (BYTE)
type TPCANType uint8         // non plug-and-play hardware type (BYTE)
type TPCANMode uint8         // filter mode (BYTE)
type TPCANBaudrate uint16    // BTR0BTR1 register value (WORD)
type TPCANTimestampFD uint64 // FD receive timestamp in microseconds (UINT64)

// PCAN_NONEBUS addresses no channel; used for global parameters.
const PCAN_NONEBUS TPCANHandle = 0x00

// First handle of every hardware family. Channels 1-8 follow the low base,
// channels 9-16 follow the high base.
const (
	PCAN_ISABUS_BASE  TPCANHandle = 0x20
	PCAN_DNGBUS_BASE  TPCANHandle = 0x30
	PCAN_PCIBUS_BASE  TPCANHandle = 0x40
	PCAN_PCIBUS_HIGH  TPCANHandle = 0x400
	PCAN_USBBUS_BASE  TPCANHandle = 0x50
	PCAN_USBBUS_HIGH  TPCANHandle = 0x500
	PCAN_PCCBUS_BASE  TPCANHandle = 0x60
	PCAN_LANBUS_BASE  TPCANHandle = 0x800
	PCAN_USBBUS1      TPCANHandle = PCAN_USBBUS_BASE + 1
	PCAN_LANBUS1      TPCANHandle = PCAN_LANBUS_BASE + 1
	PCAN_PCIBUS1      TPCANHandle = PCAN_PCIBUS_BASE + 1
	PCAN_HIGH_CHANNEL             = 9
)

// Status codes
const (
	PCAN_ERROR_OK           TPCANStatus = 0x00000
	PCAN_ERROR_XMTFULL      TPCANStatus = 0x00001 // controller transmit buffer full
	PCAN_ERROR_OVERRUN      TPCANStatus = 0x00002 // controller read too late
	PCAN_ERROR_BUSLIGHT     TPCANStatus = 0x00004
	PCAN_ERROR_BUSHEAVY     TPCANStatus = 0x00008
	PCAN_ERROR_BUSWARNING   TPCANStatus = PCAN_ERROR_BUSHEAVY
	PCAN_ERROR_BUSPASSIVE   TPCANStatus = 0x40000
	PCAN_ERROR_BUSOFF       TPCANStatus = 0x00010
	PCAN_ERROR_ANYBUSERR    TPCANStatus = PCAN_ERROR_BUSWARNING | PCAN_ERROR_BUSLIGHT | PCAN_ERROR_BUSHEAVY | PCAN_ERROR_BUSOFF | PCAN_ERROR_BUSPASSIVE
	PCAN_ERROR_QRCVEMPTY    TPCANStatus = 0x00020 // receive queue empty
	PCAN_ERROR_QOVERRUN     TPCANStatus = 0x00040 // receive queue read too late
	PCAN_ERROR_QXMTFULL     TPCANStatus = 0x00080 // transmit queue full
	PCAN_ERROR_REGTEST      TPCANStatus = 0x00100
	PCAN_ERROR_NODRIVER     TPCANStatus = 0x00200
	PCAN_ERROR_HWINUSE      TPCANStatus = 0x00400
	PCAN_ERROR_NETINUSE     TPCANStatus = 0x00800
	PCAN_ERROR_ILLHW        TPCANStatus = 0x01400
	PCAN_ERROR_ILLNET       TPCANStatus = 0x01800
	PCAN_ERROR_ILLCLIENT    TPCANStatus = 0x01C00
	PCAN_ERROR_ILLHANDLE    TPCANStatus = PCAN_ERROR_ILLHW | PCAN_ERROR_ILLNET | PCAN_ERROR_ILLCLIENT
	PCAN_ERROR_RESOURCE     TPCANStatus = 0x02000
	PCAN_ERROR_ILLPARAMTYPE TPCANStatus = 0x04000
	PCAN_ERROR_ILLPARAMVAL  TPCANStatus = 0x08000
	PCAN_ERROR_UNKNOWN      TPCANStatus = 0x10000
	PCAN_ERROR_ILLDATA      TPCANStatus = 0x20000
	PCAN_ERROR_ILLMODE      TPCANStatus = 0x80000
	PCAN_ERROR_CAUTION      TPCANStatus = 0x2000000
	PCAN_ERROR_INITIALIZE   TPCANStatus = 0x4000000
	PCAN_ERROR_ILLOPERATION TPCANStatus = 0x8000000
)

// Hardware families as reported in TPCANChannelInformation.DeviceType.
const (
	PCAN_NONE    TPCANDevice = 0x00
	PCAN_PEAKCAN TPCANDevice = 0x01
	PCAN_ISA     TPCANDevice = 0x02
	PCAN_DNG     TPCANDevice = 0x03
	PCAN_PCI     TPCANDevice = 0x04
	PCAN_USB     TPCANDevice = 0x05
	PCAN_PCC     TPCANDevice = 0x06
	PCAN_VIRTUAL TPCANDevice = 0x07
	PCAN_LAN     TPCANDevice = 0x08
)

// Parameters for GetValue / SetValue.
const (
	PCAN_DEVICE_ID                TPCANParameter = 0x01
	PCAN_5VOLTS_POWER             TPCANParameter = 0x02
	PCAN_RECEIVE_EVENT            TPCANParameter = 0x03
	PCAN_MESSAGE_FILTER           TPCANParameter = 0x04
	PCAN_API_VERSION              TPCANParameter = 0x05
	PCAN_CHANNEL_VERSION          TPCANParameter = 0x06
	PCAN_BUSOFF_AUTORESET         TPCANParameter = 0x07
	PCAN_LISTEN_ONLY              TPCANParameter = 0x08
	PCAN_CHANNEL_CONDITION        TPCANParameter = 0x0D
	PCAN_HARDWARE_NAME            TPCANParameter = 0x0E
	PCAN_RECEIVE_STATUS           TPCANParameter = 0x0F
	PCAN_CONTROLLER_NUMBER        TPCANParameter = 0x10
	PCAN_TRACE_LOCATION           TPCANParameter = 0x11
	PCAN_TRACE_STATUS             TPCANParameter = 0x12
	PCAN_TRACE_SIZE               TPCANParameter = 0x13
	PCAN_TRACE_CONFIGURE          TPCANParameter = 0x14
	PCAN_CHANNEL_IDENTIFYING      TPCANParameter = 0x15
	PCAN_CHANNEL_FEATURES         TPCANParameter = 0x16
	PCAN_BITRATE_ADAPTING         TPCANParameter = 0x17
	PCAN_BITRATE_INFO             TPCANParameter = 0x18
	PCAN_BITRATE_INFO_FD          TPCANParameter = 0x19
	PCAN_BUSSPEED_NOMINAL         TPCANParameter = 0x1A
	PCAN_BUSSPEED_DATA            TPCANParameter = 0x1B
	PCAN_IP_ADDRESS               TPCANParameter = 0x1C
	PCAN_LAN_SERVICE_STATUS       TPCANParameter = 0x1D
	PCAN_ALLOW_STATUS_FRAMES      TPCANParameter = 0x1E
	PCAN_ALLOW_RTR_FRAMES         TPCANParameter = 0x1F
	PCAN_ALLOW_ERROR_FRAMES       TPCANParameter = 0x20
	PCAN_INTERFRAME_DELAY         TPCANParameter = 0x21
	PCAN_ACCEPTANCE_FILTER_11BIT  TPCANParameter = 0x22
	PCAN_ACCEPTANCE_FILTER_29BIT  TPCANParameter = 0x23
	PCAN_IO_DIGITAL_CONFIGURATION TPCANParameter = 0x24
	PCAN_IO_DIGITAL_VALUE         TPCANParameter = 0x25
	PCAN_IO_DIGITAL_SET           TPCANParameter = 0x26
	PCAN_IO_DIGITAL_CLEAR         TPCANParameter = 0x27
	PCAN_IO_ANALOG_VALUE          TPCANParameter = 0x28
	PCAN_FIRMWARE_VERSION         TPCANParameter = 0x29
	PCAN_ATTACHED_CHANNELS_COUNT  TPCANParameter = 0x2A
	PCAN_ATTACHED_CHANNELS        TPCANParameter = 0x2B
	PCAN_ALLOW_ECHO_FRAMES        TPCANParameter = 0x2C
	PCAN_DEVICE_PART_NUMBER       TPCANParameter = 0x2D
)

// Parameter values
const (
	PCAN_PARAMETER_OFF uint32 = 0x00
	PCAN_PARAMETER_ON  uint32 = 0x01

	PCAN_FILTER_CLOSE  uint32 = 0x00
	PCAN_FILTER_OPEN   uint32 = 0x01
	PCAN_FILTER_CUSTOM uint32 = 0x02

	FEATURE_FD_CAPABLE    uint32 = 0x01
	FEATURE_DELAY_CAPABLE uint32 = 0x02
	FEATURE_IO_CAPABLE    uint32 = 0x04

	SERVICE_STATUS_STOPPED uint32 = 0x01
	SERVICE_STATUS_RUNNING uint32 = 0x04

	PCAN_CHANNEL_UNAVAILABLE uint32 = 0x00
	PCAN_CHANNEL_AVAILABLE   uint32 = 0x01
	PCAN_CHANNEL_OCCUPIED    uint32 = 0x02
	PCAN_CHANNEL_PCANVIEW    uint32 = PCAN_CHANNEL_AVAILABLE | PCAN_CHANNEL_OCCUPIED

	MAX_LENGTH_HARDWARE_NAME  = 33
	MAX_LENGTH_VERSION_STRING = 256
	MAX_LENGTH_FIRMWARE       = 18
	MAX_LENGTH_PART_NUMBER    = 100
	MAX_LENGTH_IP_ADDRESS     = 20
	MAX_LENGTH_PATH           = 260
)

// MSGTYPE flags
const (
	PCAN_MESSAGE_STANDARD TPCANMessageType = 0x00
	PCAN_MESSAGE_RTR      TPCANMessageType = 0x01
	PCAN_MESSAGE_EXTENDED TPCANMessageType = 0x02
	PCAN_MESSAGE_FD       TPCANMessageType = 0x04
	PCAN_MESSAGE_BRS      TPCANMessageType = 0x08
	PCAN_MESSAGE_ESI      TPCANMessageType = 0x10
	PCAN_MESSAGE_ECHO     TPCANMessageType = 0x20
	PCAN_MESSAGE_ERRFRAME TPCANMessageType = 0x40
	PCAN_MESSAGE_STATUS   TPCANMessageType = 0x80
)

const (
	PCAN_MODE_STANDARD = TPCANMode(PCAN_MESSAGE_STANDARD)
	PCAN_MODE_EXTENDED = TPCANMode(PCAN_MESSAGE_EXTENDED)
)

// Predefined classic bit rates (BTR0BTR1, SJA1000 at 16 MHz).
const (
	PCAN_BAUD_1M   TPCANBaudrate = 0x0014
	PCAN_BAUD_800K TPCANBaudrate = 0x0016
	PCAN_BAUD_500K TPCANBaudrate = 0x001C
	PCAN_BAUD_250K TPCANBaudrate = 0x011C
	PCAN_BAUD_125K TPCANBaudrate = 0x031C
	PCAN_BAUD_100K TPCANBaudrate = 0x432F
	PCAN_BAUD_95K  TPCANBaudrate = 0xC34E
	PCAN_BAUD_83K  TPCANBaudrate = 0x852B
	PCAN_BAUD_50K  TPCANBaudrate = 0x472F
	PCAN_BAUD_47K  TPCANBaudrate = 0x1414
	PCAN_BAUD_33K  TPCANBaudrate = 0x8B2F
	PCAN_BAUD_20K  TPCANBaudrate = 0x532F
	PCAN_BAUD_10K  TPCANBaudrate = 0x672F
	PCAN_BAUD_5K   TPCANBaudrate = 0x7F7F
)

// Keys of the FD bit rate string.
const (
	PCAN_BR_CLOCK       = "f_clock"
	PCAN_BR_CLOCK_MHZ   = "f_clock_mhz"
	PCAN_BR_NOM_BRP     = "nom_brp"
	PCAN_BR_NOM_TSEG1   = "nom_tseg1"
	PCAN_BR_NOM_TSEG2   = "nom_tseg2"
	PCAN_BR_NOM_SJW     = "nom_sjw"
	PCAN_BR_NOM_SAMPLE  = "nom_sam"
	PCAN_BR_DATA_BRP    = "data_brp"
	PCAN_BR_DATA_TSEG1  = "data_tseg1"
	PCAN_BR_DATA_TSEG2  = "data_tseg2"
	PCAN_BR_DATA_SJW    = "data_sjw"
	PCAN_BR_DATA_SAMPLE = "data_ssp_offset"
)

// TPCANMsg is the classic frame exchanged with CAN_Read / CAN_Write.
// Field order and sizes match the C struct.
type TPCANMsg struct {
	ID      uint32
	MSGTYPE TPCANMessageType
	LEN     uint8 // 0..8
	DATA    [8]byte
}

// TPCANTimestamp is the receive time of a classic frame.
type TPCANTimestamp struct {
	Millis         uint32
	MillisOverflow uint16
	Micros         uint16
}

// TPCANMsgFD is the frame exchanged with CAN_ReadFD / CAN_WriteFD.
type TPCANMsgFD struct {
	ID      uint32
	MSGTYPE TPCANMessageType
	DLC     uint8 // 0..15, not a byte count
	DATA    [64]byte
}

// TPCANChannelInformation is one entry of PCAN_ATTACHED_CHANNELS.
type TPCANChannelInformation struct {
	ChannelHandle    TPCANHandle
	DeviceType       TPCANDevice
	ControllerNumber uint8
	DeviceFeatures   uint32
	DeviceName       [MAX_LENGTH_HARDWARE_NAME]byte
	DeviceID         uint32
	ChannelCondition uint32
}

// ChannelInformationSize is the size of the C struct, padding included.
const ChannelInformationSize = 52

// DecodeChannelInformation splits the PCAN_ATTACHED_CHANNELS buffer into
// records. A trailing partial record is ignored.
func DecodeChannelInformation(b []byte) []TPCANChannelInformation {
	out := make([]TPCANChannelInformation, 0, len(b)/ChannelInformationSize)
	for ; len(b) >= ChannelInformationSize; b = b[ChannelInformationSize:] {
		var c TPCANChannelInformation
		c.ChannelHandle = TPCANHandle(binary.LittleEndian.Uint16(b[0:]))
		c.DeviceType = TPCANDevice(b[2])
		c.ControllerNumber = b[3]
		c.DeviceFeatures = binary.LittleEndian.Uint32(b[4:])
		copy(c.DeviceName[:], b[8:8+MAX_LENGTH_HARDWARE_NAME])
		c.DeviceID = binary.LittleEndian.Uint32(b[44:])
		c.ChannelCondition = binary.LittleEndian.Uint32(b[48:])
		out = append(out, c)
	}
	return out
}

// Bytes encodes c in the driver layout.
func (c TPCANChannelInformation) Bytes() []byte {
	b := make([]byte, ChannelInformationSize)
	binary.LittleEndian.PutUint16(b[0:], uint16(c.ChannelHandle))
	b[2] = byte(c.DeviceType)
	b[3] = c.ControllerNumber
	binary.LittleEndian.PutUint32(b[4:], c.DeviceFeatures)
	copy(b[8:8+MAX_LENGTH_HARDWARE_NAME], c.DeviceName[:])
	binary.LittleEndian.PutUint32(b[44:], c.DeviceID)
	binary.LittleEndian.PutUint32(b[48:], c.ChannelCondition)
	return b
}

// Name returns DeviceName up to the first NUL.
func (c TPCANChannelInformation) Name() string {
	return CString(c.DeviceName[:])
}

// CString returns b up to the first NUL byte.
func CString(b []byte) string {
	for i, v := range b {
		if v == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
