// Package peakcan is a typed binding to the PEAK PCAN-Basic driver: CAN and
// CAN FD frames, bit timing, capability gated channel parameters and sockets.
package peakcan

import (
	"bytes"

	"github.com/roffe/peakcan/pkg/pcan"
)

// Mode is the identifier addressing mode of a frame.
type Mode uint8

const (
	Standard Mode = iota // 11-bit identifier
	Extended             // 29-bit identifier
)

const (
	StandardMask uint32 = 0x7FF
	ExtendedMask uint32 = 0x1FFFFFFF

	MaxDataLen   = 8
	MaxFDDataLen = 64
)

func (m Mode) String() string {
	if m == Extended {
		return "extended"
	}
	return "standard"
}

func (m Mode) mask() uint32 {
	if m == Extended {
		return ExtendedMask
	}
	return StandardMask
}

func (m Mode) msgType() pcan.TPCANMessageType {
	if m == Extended {
		return pcan.PCAN_MESSAGE_EXTENDED
	}
	return pcan.PCAN_MESSAGE_STANDARD
}

func modeOf(t pcan.TPCANMessageType) Mode {
	if t&pcan.PCAN_MESSAGE_EXTENDED != 0 {
		return Extended
	}
	return Standard
}

// Frame is a classic CAN frame in the layout CAN_Write and CAN_Read use.
// The zero value is an empty standard frame with identifier 0.
type Frame struct {
	msg pcan.TPCANMsg
}

// NewFrame copies data into a frame and masks id to the width of mode.
func NewFrame(id uint32, mode Mode, data []byte) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, ErrFrameTooLarge
	}
	f := Frame{msg: pcan.TPCANMsg{
		ID:      id & mode.mask(),
		MSGTYPE: mode.msgType(),
		LEN:     uint8(len(data)),
	}}
	copy(f.msg.DATA[:], data)
	return f, nil
}

// FrameFromMsg wraps a frame read from the driver.
func FrameFromMsg(msg pcan.TPCANMsg) (Frame, error) {
	if msg.LEN > MaxDataLen {
		return Frame{}, ErrFrameTooLarge
	}
	return Frame{msg: msg}, nil
}

// ID returns the identifier masked by the stored addressing mode.
func (f Frame) ID() uint32 {
	return f.msg.ID & f.Mode().mask()
}

func (f Frame) Mode() Mode         { return modeOf(f.msg.MSGTYPE) }
func (f Frame) IsExtended() bool   { return f.Mode() == Extended }
func (f Frame) IsStandard() bool   { return !f.IsExtended() }
func (f Frame) IsRTR() bool        { return f.msg.MSGTYPE&pcan.PCAN_MESSAGE_RTR != 0 }
func (f Frame) IsEcho() bool       { return f.msg.MSGTYPE&pcan.PCAN_MESSAGE_ECHO != 0 }
func (f Frame) IsErrorFrame() bool { return f.msg.MSGTYPE&pcan.PCAN_MESSAGE_ERRFRAME != 0 }
func (f Frame) IsStatus() bool     { return f.msg.MSGTYPE&pcan.PCAN_MESSAGE_STATUS != 0 }

// Type returns the raw MSGTYPE flags.
func (f Frame) Type() pcan.TPCANMessageType { return f.msg.MSGTYPE }

func (f Frame) Len() int { return int(f.msg.LEN) }

// Data returns a copy of the payload, Len bytes long.
func (f Frame) Data() []byte {
	return append([]byte(nil), f.msg.DATA[:f.msg.LEN]...)
}

// MutData returns the payload of f for in-place edits. Its length is Len.
func (f *Frame) MutData() []byte {
	return f.msg.DATA[:f.msg.LEN]
}

// Msg returns the driver representation of f.
func (f Frame) Msg() pcan.TPCANMsg { return f.msg }

// Equal compares identifier, length, flags and the first Len payload bytes.
// Bytes past Len are ignored.
func (f Frame) Equal(o Frame) bool {
	return f.msg.ID == o.msg.ID &&
		f.msg.LEN == o.msg.LEN &&
		f.msg.MSGTYPE == o.msg.MSGTYPE &&
		bytes.Equal(f.msg.DATA[:f.msg.LEN], o.msg.DATA[:o.msg.LEN])
}

// WithRTR returns f flagged as a remote transmission request.
func (f Frame) WithRTR() Frame {
	f.msg.MSGTYPE |= pcan.PCAN_MESSAGE_RTR
	return f
}
