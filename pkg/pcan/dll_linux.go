//go:build linux

package pcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

const libraryName = "libpcanbasic.so"

type lib struct {
	initialize     func(channel TPCANHandle, btr0btr1 TPCANBaudrate, hwType TPCANType, ioPort uint32, interrupt uint16) TPCANStatus
	initializeFD   func(channel TPCANHandle, bitrate unsafe.Pointer) TPCANStatus
	uninitialize   func(channel TPCANHandle) TPCANStatus
	reset          func(channel TPCANHandle) TPCANStatus
	getStatus      func(channel TPCANHandle) TPCANStatus
	read           func(channel TPCANHandle, msg, ts unsafe.Pointer) TPCANStatus
	readFD         func(channel TPCANHandle, msg, ts unsafe.Pointer) TPCANStatus
	write          func(channel TPCANHandle, msg unsafe.Pointer) TPCANStatus
	writeFD        func(channel TPCANHandle, msg unsafe.Pointer) TPCANStatus
	filterMessages func(channel TPCANHandle, from, to uint32, mode TPCANMode) TPCANStatus
	getValue       func(channel TPCANHandle, parameter TPCANParameter, buf unsafe.Pointer, size uint32) TPCANStatus
	setValue       func(channel TPCANHandle, parameter TPCANParameter, buf unsafe.Pointer, size uint32) TPCANStatus
	getErrorText   func(status TPCANStatus, language uint16, buf unsafe.Pointer) TPCANStatus

	mu  sync.Mutex
	fds map[TPCANHandle]int
}

var (
	loadOnce sync.Once
	loaded   *lib
	loadErr  error
)

// Load binds libpcanbasic.so, which ships with PEAK's Linux driver package.
func Load() (Driver, error) {
	loadOnce.Do(func() {
		loaded, loadErr = open()
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return loaded, nil
}

func open() (*lib, error) {
	handle, err := purego.Dlopen(libraryName, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDriver, err)
	}
	l := &lib{fds: make(map[TPCANHandle]int)}
	for name, fptr := range map[string]any{
		"CAN_Initialize":     &l.initialize,
		"CAN_InitializeFD":   &l.initializeFD,
		"CAN_Uninitialize":   &l.uninitialize,
		"CAN_Reset":          &l.reset,
		"CAN_GetStatus":      &l.getStatus,
		"CAN_Read":           &l.read,
		"CAN_ReadFD":         &l.readFD,
		"CAN_Write":          &l.write,
		"CAN_WriteFD":        &l.writeFD,
		"CAN_FilterMessages": &l.filterMessages,
		"CAN_GetValue":       &l.getValue,
		"CAN_SetValue":       &l.setValue,
		"CAN_GetErrorText":   &l.getErrorText,
	} {
		sym, err := purego.Dlsym(handle, name)
		if err != nil {
			purego.Dlclose(handle)
			return nil, fmt.Errorf("%w: %s: %v", ErrNoDriver, name, err)
		}
		purego.RegisterFunc(fptr, sym)
	}
	return l, nil
}

func bufPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func (l *lib) Initialize(channel TPCANHandle, btr0btr1 TPCANBaudrate) error {
	return CheckStatus(l.initialize(channel, btr0btr1, 0, 0, 0))
}

func (l *lib) InitializeFD(channel TPCANHandle, bitrate []byte) error {
	return CheckStatus(l.initializeFD(channel, bufPtr(bitrate)))
}

func (l *lib) Uninitialize(channel TPCANHandle) error {
	return CheckStatus(l.uninitialize(channel))
}

func (l *lib) Reset(channel TPCANHandle) error {
	return CheckStatus(l.reset(channel))
}

func (l *lib) GetStatus(channel TPCANHandle) error {
	return CheckStatus(l.getStatus(channel))
}

func (l *lib) Read(channel TPCANHandle, msg *TPCANMsg, ts *TPCANTimestamp) error {
	return CheckStatus(l.read(channel, unsafe.Pointer(msg), unsafe.Pointer(ts)))
}

func (l *lib) ReadFD(channel TPCANHandle, msg *TPCANMsgFD, ts *TPCANTimestampFD) error {
	return CheckStatus(l.readFD(channel, unsafe.Pointer(msg), unsafe.Pointer(ts)))
}

func (l *lib) Write(channel TPCANHandle, msg *TPCANMsg) error {
	return CheckStatus(l.write(channel, unsafe.Pointer(msg)))
}

func (l *lib) WriteFD(channel TPCANHandle, msg *TPCANMsgFD) error {
	return CheckStatus(l.writeFD(channel, unsafe.Pointer(msg)))
}

func (l *lib) FilterMessages(channel TPCANHandle, from, to uint32, mode TPCANMode) error {
	return CheckStatus(l.filterMessages(channel, from, to, mode))
}

func (l *lib) GetValue(channel TPCANHandle, parameter TPCANParameter, buf []byte) error {
	return CheckStatus(l.getValue(channel, parameter, bufPtr(buf), uint32(len(buf))))
}

func (l *lib) SetValue(channel TPCANHandle, parameter TPCANParameter, buf []byte) error {
	return CheckStatus(l.setValue(channel, parameter, bufPtr(buf), uint32(len(buf))))
}

func (l *lib) ErrorText(status TPCANStatus) (string, error) {
	buf := make([]byte, 256)
	if err := CheckStatus(l.getErrorText(status, 0x09, bufPtr(buf))); err != nil {
		return "", err
	}
	return CString(buf), nil
}

// WaitReceive polls the file descriptor the driver hands out through
// PCAN_RECEIVE_EVENT. The descriptor belongs to the driver and is not
// closed here.
func (l *lib) WaitReceive(channel TPCANHandle, timeout time.Duration) error {
	fd, err := l.fd(channel)
	if err != nil {
		return err
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	ms := pollMillis(timeout)
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("pcan: poll: %w", err)
		}
		if n == 0 {
			return ErrWaitTimeout
		}
		return nil
	}
}

func (l *lib) fd(channel TPCANHandle) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fd, ok := l.fds[channel]; ok {
		return fd, nil
	}
	var buf [4]byte
	if err := l.GetValue(channel, PCAN_RECEIVE_EVENT, buf[:]); err != nil {
		return 0, err
	}
	fd := int(binary.LittleEndian.Uint32(buf[:]))
	l.fds[channel] = fd
	return fd, nil
}

func (l *lib) ReleaseReceive(channel TPCANHandle) error {
	l.mu.Lock()
	delete(l.fds, channel)
	l.mu.Unlock()
	return nil
}

// pollMillis converts timeout to a poll(2) argument. Positive timeouts are
// rounded up to whole milliseconds so a short wait never turns into a spin.
func pollMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
