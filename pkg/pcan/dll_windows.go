//go:build windows

package pcan

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	pcanDLL = windows.NewLazySystemDLL("PCANBasic.dll")

	procCANInitialize     = pcanDLL.NewProc("CAN_Initialize")
	procCANInitializeFD   = pcanDLL.NewProc("CAN_InitializeFD")
	procCANUninitialize   = pcanDLL.NewProc("CAN_Uninitialize")
	procCANReset          = pcanDLL.NewProc("CAN_Reset")
	procCANGetStatus      = pcanDLL.NewProc("CAN_GetStatus")
	procCANRead           = pcanDLL.NewProc("CAN_Read")
	procCANReadFD         = pcanDLL.NewProc("CAN_ReadFD")
	procCANWrite          = pcanDLL.NewProc("CAN_Write")
	procCANWriteFD        = pcanDLL.NewProc("CAN_WriteFD")
	procCANFilterMessages = pcanDLL.NewProc("CAN_FilterMessages")
	procCANGetValue       = pcanDLL.NewProc("CAN_GetValue")
	procCANSetValue       = pcanDLL.NewProc("CAN_SetValue")
	procCANGetErrorText   = pcanDLL.NewProc("CAN_GetErrorText")
)

type dll struct {
	mu     sync.Mutex
	events map[TPCANHandle]windows.Handle
}

// Load binds PCANBasic.dll. The library is resolved once; every proc is
// checked so a partial install fails here instead of on first use.
func Load() (Driver, error) {
	if err := pcanDLL.Load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDriver, err)
	}
	for _, p := range []*windows.LazyProc{
		procCANInitialize, procCANInitializeFD, procCANUninitialize, procCANReset,
		procCANGetStatus, procCANRead, procCANReadFD, procCANWrite, procCANWriteFD,
		procCANFilterMessages, procCANGetValue, procCANSetValue, procCANGetErrorText,
	} {
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDriver, err)
		}
	}
	return &dll{events: make(map[TPCANHandle]windows.Handle)}, nil
}

func checkErr(r1, _ uintptr, _ error) error {
	return CheckStatus(TPCANStatus(r1))
}

func bufPtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func (d *dll) Initialize(channel TPCANHandle, btr0btr1 TPCANBaudrate) error {
	// hardware type, io port and interrupt only matter for non plug-and-play
	return checkErr(procCANInitialize.Call(uintptr(channel), uintptr(btr0btr1), 0, 0, 0))
}

func (d *dll) InitializeFD(channel TPCANHandle, bitrate []byte) error {
	return checkErr(procCANInitializeFD.Call(uintptr(channel), bufPtr(bitrate)))
}

func (d *dll) Uninitialize(channel TPCANHandle) error {
	return checkErr(procCANUninitialize.Call(uintptr(channel)))
}

func (d *dll) Reset(channel TPCANHandle) error {
	return checkErr(procCANReset.Call(uintptr(channel)))
}

func (d *dll) GetStatus(channel TPCANHandle) error {
	return checkErr(procCANGetStatus.Call(uintptr(channel)))
}

func (d *dll) Read(channel TPCANHandle, msg *TPCANMsg, ts *TPCANTimestamp) error {
	return checkErr(procCANRead.Call(uintptr(channel), uintptr(unsafe.Pointer(msg)), uintptr(unsafe.Pointer(ts))))
}

func (d *dll) ReadFD(channel TPCANHandle, msg *TPCANMsgFD, ts *TPCANTimestampFD) error {
	return checkErr(procCANReadFD.Call(uintptr(channel), uintptr(unsafe.Pointer(msg)), uintptr(unsafe.Pointer(ts))))
}

func (d *dll) Write(channel TPCANHandle, msg *TPCANMsg) error {
	return checkErr(procCANWrite.Call(uintptr(channel), uintptr(unsafe.Pointer(msg))))
}

func (d *dll) WriteFD(channel TPCANHandle, msg *TPCANMsgFD) error {
	return checkErr(procCANWriteFD.Call(uintptr(channel), uintptr(unsafe.Pointer(msg))))
}

func (d *dll) FilterMessages(channel TPCANHandle, from, to uint32, mode TPCANMode) error {
	return checkErr(procCANFilterMessages.Call(uintptr(channel), uintptr(from), uintptr(to), uintptr(mode)))
}

func (d *dll) GetValue(channel TPCANHandle, parameter TPCANParameter, buf []byte) error {
	return checkErr(procCANGetValue.Call(uintptr(channel), uintptr(parameter), bufPtr(buf), uintptr(len(buf))))
}

func (d *dll) SetValue(channel TPCANHandle, parameter TPCANParameter, buf []byte) error {
	return checkErr(procCANSetValue.Call(uintptr(channel), uintptr(parameter), bufPtr(buf), uintptr(len(buf))))
}

func (d *dll) ErrorText(status TPCANStatus) (string, error) {
	buf := make([]byte, 256)
	// 0x09 selects English texts
	if err := checkErr(procCANGetErrorText.Call(uintptr(status), 0x09, bufPtr(buf))); err != nil {
		return "", err
	}
	return CString(buf), nil
}

// WaitReceive registers an auto-reset event with the driver on first use
// and waits for it to be signalled.
func (d *dll) WaitReceive(channel TPCANHandle, timeout time.Duration) error {
	h, err := d.event(channel)
	if err != nil {
		return err
	}
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout / time.Millisecond)
	}
	res, err := windows.WaitForSingleObject(h, ms)
	if err != nil {
		return fmt.Errorf("pcan: WaitForSingleObject: %w", err)
	}
	switch res {
	case windows.WAIT_OBJECT_0:
		return nil
	case uint32(windows.WAIT_TIMEOUT):
		return ErrWaitTimeout
	default:
		return fmt.Errorf("pcan: unexpected wait result 0x%X", res)
	}
}

func (d *dll) event(channel TPCANHandle) (windows.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.events[channel]; ok {
		return h, nil
	}
	h, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return 0, fmt.Errorf("pcan: CreateEvent: %w", err)
	}
	// the driver takes the handle as a DWORD, also on 64-bit
	v := uint32(uintptr(h) & 0xFFFFFFFF)
	buf := (*[4]byte)(unsafe.Pointer(&v))[:]
	if err := d.SetValue(channel, PCAN_RECEIVE_EVENT, buf); err != nil {
		windows.CloseHandle(h)
		return 0, err
	}
	d.events[channel] = h
	return h, nil
}

func (d *dll) ReleaseReceive(channel TPCANHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.events[channel]
	if !ok {
		return nil
	}
	delete(d.events, channel)
	var zero [4]byte
	err := d.SetValue(channel, PCAN_RECEIVE_EVENT, zero[:])
	if cerr := windows.CloseHandle(h); cerr != nil && err == nil {
		err = fmt.Errorf("pcan: CloseHandle: %w", cerr)
	}
	return err
}
