// Package pcan binds the PEAK-System PCAN-Basic library.
//
// The library is reached through the Driver interface; Load returns the
// platform binding (PCANBasic.dll on Windows, libpcanbasic.so on Linux).
// Everything above this package talks to a Driver, so tests can run on the
// in-memory implementation in pcantest without hardware.
package pcan

import "time"

// Driver is the set of PCAN-Basic entry points used by this module.
// Non-OK statuses are returned as PCANError.
type Driver interface {
	// Initialize connects a channel with a classic BTR0BTR1 bit rate.
	// Parameters marked "pre-initialization" (listen-only, bitrate
	// adapting) must be set with SetValue before calling it.
	Initialize(channel TPCANHandle, btr0btr1 TPCANBaudrate) error
	// InitializeFD connects a channel with a NUL-terminated FD bit rate
	// string.
	InitializeFD(channel TPCANHandle, bitrate []byte) error
	// Uninitialize disconnects a channel. PCAN_NONEBUS releases all of them.
	Uninitialize(channel TPCANHandle) error
	// Reset flushes the receive and transmit queues.
	Reset(channel TPCANHandle) error
	// GetStatus returns the bus status of an initialized channel as an error;
	// nil means the bus is OK.
	GetStatus(channel TPCANHandle) error
	// Read dequeues one classic frame. ts may be nil.
	// An empty queue yields PCAN_ERROR_QRCVEMPTY.
	Read(channel TPCANHandle, msg *TPCANMsg, ts *TPCANTimestamp) error
	// ReadFD dequeues one FD frame. ts may be nil.
	ReadFD(channel TPCANHandle, msg *TPCANMsgFD, ts *TPCANTimestampFD) error
	Write(channel TPCANHandle, msg *TPCANMsg) error
	WriteFD(channel TPCANHandle, msg *TPCANMsgFD) error
	// FilterMessages limits reception to identifiers in [from, to].
	FilterMessages(channel TPCANHandle, from, to uint32, mode TPCANMode) error
	// GetValue reads parameter into buf; len(buf) is the buffer size.
	GetValue(channel TPCANHandle, parameter TPCANParameter, buf []byte) error
	// SetValue writes buf to parameter.
	SetValue(channel TPCANHandle, parameter TPCANParameter, buf []byte) error
	// ErrorText asks the driver for the description of a status.
	ErrorText(status TPCANStatus) (string, error)
}

// ReceiveWaiter is implemented by drivers able to block until the receive
// queue of a channel has data, instead of being polled.
type ReceiveWaiter interface {
	// WaitReceive returns nil when data is queued and ErrWaitTimeout when
	// timeout elapsed first.
	WaitReceive(channel TPCANHandle, timeout time.Duration) error
	// ReleaseReceive unregisters whatever WaitReceive set up for channel.
	ReleaseReceive(channel TPCANHandle) error
}
