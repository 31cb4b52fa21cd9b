package pcan

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoDriver is returned by Load when the PCAN-Basic library cannot be
// bound on this platform.
var ErrNoDriver = errors.New("pcan: PCAN-Basic library not available")

// PCANError carries a non-OK status returned by the driver.
type PCANError struct {
	Code TPCANStatus
}

func (e PCANError) Error() string {
	return "pcan: " + e.Code.String()
}

// Is reports whether target is a PCANError sharing at least one status bit
// with e. Bus errors are bit flags and may be combined by the driver.
func (e PCANError) Is(target error) bool {
	t, ok := target.(PCANError)
	if !ok {
		return false
	}
	if t.Code == e.Code {
		return true
	}
	return t.Code != PCAN_ERROR_OK && e.Code&t.Code == t.Code
}

// Sentinels usable with errors.Is.
var (
	ErrTransmitFull   error = PCANError{PCAN_ERROR_XMTFULL}
	ErrQueueEmpty     error = PCANError{PCAN_ERROR_QRCVEMPTY}
	ErrQueueFull      error = PCANError{PCAN_ERROR_QXMTFULL}
	ErrBusOff         error = PCANError{PCAN_ERROR_BUSOFF}
	ErrNotInitialized error = PCANError{PCAN_ERROR_INITIALIZE}
	ErrIllegalParam   error = PCANError{PCAN_ERROR_ILLPARAMTYPE}
)

// CheckStatus turns a raw status into an error; OK yields nil.
func CheckStatus(status TPCANStatus) error {
	if status == PCAN_ERROR_OK {
		return nil
	}
	return PCANError{Code: status}
}

// StatusOf extracts the driver status from err, or PCAN_ERROR_OK when err
// does not carry one.
func StatusOf(err error) TPCANStatus {
	var pe PCANError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return PCAN_ERROR_OK
}

var statusText = []struct {
	code TPCANStatus
	text string
}{
	{PCAN_ERROR_XMTFULL, "transmit buffer in CAN controller is full"},
	{PCAN_ERROR_OVERRUN, "CAN controller was read too late"},
	{PCAN_ERROR_BUSLIGHT, "bus error: an error counter reached the 'light' limit"},
	{PCAN_ERROR_BUSHEAVY, "bus error: an error counter reached the 'heavy' limit"},
	{PCAN_ERROR_BUSPASSIVE, "bus error: the CAN controller is error passive"},
	{PCAN_ERROR_BUSOFF, "bus error: the CAN controller is in bus-off state"},
	{PCAN_ERROR_QRCVEMPTY, "receive queue is empty"},
	{PCAN_ERROR_QOVERRUN, "receive queue was read too late"},
	{PCAN_ERROR_QXMTFULL, "transmit queue is full"},
	{PCAN_ERROR_REGTEST, "test of the CAN controller hardware registers failed"},
	{PCAN_ERROR_NODRIVER, "driver not loaded"},
	{PCAN_ERROR_ILLCLIENT, "invalid client handle"},
	{PCAN_ERROR_ILLNET, "invalid net handle"},
	{PCAN_ERROR_ILLHW, "invalid hardware handle"},
	{PCAN_ERROR_HWINUSE, "hardware already in use by a net"},
	{PCAN_ERROR_NETINUSE, "a client is already connected to the net"},
	{PCAN_ERROR_RESOURCE, "resource (FIFO, client, timeout) cannot be created"},
	{PCAN_ERROR_ILLPARAMTYPE, "invalid parameter"},
	{PCAN_ERROR_ILLPARAMVAL, "invalid parameter value"},
	{PCAN_ERROR_UNKNOWN, "unknown error"},
	{PCAN_ERROR_ILLDATA, "invalid data, function, or action"},
	{PCAN_ERROR_ILLMODE, "driver object state is wrong for the attempted operation"},
	{PCAN_ERROR_CAUTION, "operation succeeded but with irregularities"},
	{PCAN_ERROR_INITIALIZE, "channel is not initialized"},
	{PCAN_ERROR_ILLOPERATION, "invalid operation"},
}

// String describes s. Combined bus error flags are joined with "; ".
func (s TPCANStatus) String() string {
	if s == PCAN_ERROR_OK {
		return "ok"
	}
	for _, st := range statusText {
		if st.code == s {
			return st.text
		}
	}
	var parts []string
	rest := s
	for _, st := range statusText {
		// handle errors overlap bitwise, only single-bit codes are split out
		if st.code&(st.code-1) != 0 {
			continue
		}
		if rest&st.code != 0 {
			parts = append(parts, st.text)
			rest &^= st.code
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("status 0x%X", uint32(rest)))
	}
	return strings.Join(parts, "; ")
}

// ErrWaitTimeout is returned by ReceiveWaiter.WaitReceive when nothing
// arrived within the timeout.
var ErrWaitTimeout = errors.New("pcan: receive wait timed out")
