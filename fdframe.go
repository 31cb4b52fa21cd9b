package peakcan

import (
	"bytes"

	"github.com/roffe/peakcan/pkg/pcan"
)

// FDFrame is a CAN FD frame in the layout CAN_WriteFD and CAN_ReadFD use.
//
// The DLC is derived from the payload length and never set directly, so a
// payload that falls between two DLC sizes grows to the next size with zero
// padding.
type FDFrame struct {
	msg pcan.TPCANMsgFD
}

// NewFDFrame copies data into an FD frame. fd marks the frame as using the FD
// format, brs switches the data phase to the data bit rate.
func NewFDFrame(id uint32, mode Mode, data []byte, fd, brs bool) (FDFrame, error) {
	dlc, err := LenToDLC(len(data))
	if err != nil {
		return FDFrame{}, err
	}
	t := mode.msgType()
	if fd {
		t |= pcan.PCAN_MESSAGE_FD
	}
	if brs {
		t |= pcan.PCAN_MESSAGE_BRS
	}
	f := FDFrame{msg: pcan.TPCANMsgFD{
		ID:      id & mode.mask(),
		MSGTYPE: t,
		DLC:     dlc,
	}}
	copy(f.msg.DATA[:], data)
	return f, nil
}

// FDFrameFromMsg wraps a frame read from the driver.
func FDFrameFromMsg(msg pcan.TPCANMsgFD) (FDFrame, error) {
	if msg.DLC > 15 {
		return FDFrame{}, ErrFrameTooLarge
	}
	return FDFrame{msg: msg}, nil
}

// ID returns the identifier masked by the stored addressing mode.
func (f FDFrame) ID() uint32 {
	return f.msg.ID & f.Mode().mask()
}

func (f FDFrame) Mode() Mode       { return modeOf(f.msg.MSGTYPE) }
func (f FDFrame) IsExtended() bool { return f.Mode() == Extended }
func (f FDFrame) IsStandard() bool { return !f.IsExtended() }
func (f FDFrame) IsFD() bool       { return f.msg.MSGTYPE&pcan.PCAN_MESSAGE_FD != 0 }
func (f FDFrame) IsBRS() bool      { return f.msg.MSGTYPE&pcan.PCAN_MESSAGE_BRS != 0 }

// IsESI reports the error state indicator of a received frame.
func (f FDFrame) IsESI() bool { return f.msg.MSGTYPE&pcan.PCAN_MESSAGE_ESI != 0 }

func (f FDFrame) IsEcho() bool { return f.msg.MSGTYPE&pcan.PCAN_MESSAGE_ECHO != 0 }

func (f FDFrame) Type() pcan.TPCANMessageType { return f.msg.MSGTYPE }
func (f FDFrame) DLC() uint8                  { return f.msg.DLC }

// Len is the payload size encoded by the DLC, which may exceed the length
// the frame was built with.
func (f FDFrame) Len() int { return DLCToLen(f.msg.DLC) }

// Data returns a copy of the payload, Len bytes long.
func (f FDFrame) Data() []byte {
	return append([]byte(nil), f.msg.DATA[:f.Len()]...)
}

// MutData returns the payload of f for in-place edits. Its length is Len.
func (f *FDFrame) MutData() []byte {
	return f.msg.DATA[:f.Len()]
}

// Msg returns the driver representation of f.
func (f FDFrame) Msg() pcan.TPCANMsgFD { return f.msg }

// Equal compares identifier, DLC, flags and the first Len payload bytes.
func (f FDFrame) Equal(o FDFrame) bool {
	return f.msg.ID == o.msg.ID &&
		f.msg.DLC == o.msg.DLC &&
		f.msg.MSGTYPE == o.msg.MSGTYPE &&
		bytes.Equal(f.msg.DATA[:f.Len()], o.msg.DATA[:o.Len()])
}
