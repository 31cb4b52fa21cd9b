package peakcan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roffe/peakcan/internal/metrics"
	"github.com/roffe/peakcan/pkg/pcan"
	"github.com/roffe/peakcan/pkg/pcan/pcantest"
)

func openUSB(t *testing.T, drv pcan.Driver, n int, opts ...Opts) *Socket {
	t.Helper()
	s, err := Open(drv, usb(t, n), pcan.PCAN_BAUD_500K, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSendRecv(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	s := openUSB(t, drv, 1)

	tests := []struct {
		name string
		f    func() Frame
	}{
		{"standard", func() Frame { f, _ := NewFrame(0x7E0, Standard, []byte{0x02, 0x10, 0x03}); return f }},
		{"extended", func() Frame { f, _ := NewFrame(0x18DA10F1, Extended, []byte{1, 2, 3, 4, 5, 6, 7, 8}); return f }},
		{"empty", func() Frame { f, _ := NewFrame(0x001, Standard, nil); return f }},
		{"rtr", func() Frame { f, _ := NewFrame(0x123, Standard, nil); return f.WithRTR() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.f()
			if err := s.Send(want); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			got, _, err := s.Recv()
			if err != nil {
				t.Fatalf("Recv() error = %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("Recv() = %v, want %v", got, want)
			}
		})
	}
	if _, _, err := s.Recv(); !errors.Is(err, pcan.ErrQueueEmpty) {
		t.Errorf("Recv() on empty queue error = %v, want ErrQueueEmpty", err)
	}
}

func TestOpenTwice(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	openUSB(t, drv, 1)
	if _, err := Open(drv, usb(t, 1), pcan.PCAN_BAUD_500K); err == nil {
		t.Fatal("second Open() succeeded")
	}
	if n := drv.Initializations(pcan.PCAN_USBBUS1); n != 1 {
		t.Errorf("%d initializations", n)
	}
}

func TestOpenInvalidBus(t *testing.T) {
	drv := pcantest.New()
	if _, err := Open(drv, Bus{}, pcan.PCAN_BAUD_500K); !errors.Is(err, ErrInvalidBus) {
		t.Errorf("Open(Bus{}) error = %v, want ErrInvalidBus", err)
	}
}

func TestOpenWithTiming(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	bt, _ := NewBitTiming(2, 1, 13, 2)
	s, err := OpenWithTiming(drv, usb(t, 1), bt)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	raw, _ := drv.Param(pcan.PCAN_USBBUS1, pcan.PCAN_BITRATE_INFO)
	if len(raw) != 2 || raw[0] != 0x1C || raw[1] != 0x01 {
		t.Errorf("driver got BTR0BTR1 % X, want 1C 01", raw)
	}
}

func TestClose(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	before := testutil.ToFloat64(metrics.OpenSockets)
	s, err := Open(drv, usb(t, 1), pcan.PCAN_BAUD_500K)
	if err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(metrics.OpenSockets); got != before+1 {
		t.Errorf("open sockets = %v, want %v", got, before+1)
	}
	for i := 0; i < 2; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close() #%d error = %v", i+1, err)
		}
	}
	if drv.Initialized(pcan.PCAN_USBBUS1) {
		t.Error("channel still initialized")
	}
	if got := testutil.ToFloat64(metrics.OpenSockets); got != before {
		t.Errorf("open sockets = %v, want %v", got, before)
	}
	f, _ := NewFrame(0x100, Standard, nil)
	if err := s.Send(f); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v", err)
	}
	if _, _, err := s.Recv(); !errors.Is(err, ErrClosed) {
		t.Errorf("Recv() after Close error = %v", err)
	}
	if err := s.Status(); !errors.Is(err, ErrClosed) {
		t.Errorf("Status() after Close error = %v", err)
	}
	if err := s.Reset(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reset() after Close error = %v", err)
	}
}

func TestSendRetry(t *testing.T) {
	tests := []struct {
		name     string
		fail     []pcan.TPCANStatus
		attempts uint
		wantErr  error
		retries  float64
		written  int
	}{
		{"no failure", nil, 3, nil, 0, 1},
		{"transmit full once", []pcan.TPCANStatus{pcan.PCAN_ERROR_XMTFULL}, 3, nil, 1, 1},
		{"queue full twice", []pcan.TPCANStatus{pcan.PCAN_ERROR_QXMTFULL, pcan.PCAN_ERROR_QXMTFULL}, 3, nil, 2, 1},
		{"exhausted", []pcan.TPCANStatus{pcan.PCAN_ERROR_XMTFULL, pcan.PCAN_ERROR_XMTFULL, pcan.PCAN_ERROR_XMTFULL}, 3, pcan.ErrTransmitFull, 2, 0},
		{"retry disabled", []pcan.TPCANStatus{pcan.PCAN_ERROR_XMTFULL}, 1, pcan.ErrTransmitFull, 0, 0},
		{"bus off not retried", []pcan.TPCANStatus{pcan.PCAN_ERROR_BUSOFF}, 3, pcan.ErrBusOff, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := pcantest.New(pcan.PCAN_USBBUS1)
			s := openUSB(t, drv, 1, OptSendRetry(tt.attempts, time.Millisecond))
			drv.FailWrites(tt.fail...)
			before := testutil.ToFloat64(metrics.SendRetries)
			f, _ := NewFrame(0x7DF, Standard, []byte{0x01, 0x0C})
			err := s.Send(f)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Send() error = %v, want %v", err, tt.wantErr)
			}
			if got := testutil.ToFloat64(metrics.SendRetries) - before; got != tt.retries {
				t.Errorf("retries = %v, want %v", got, tt.retries)
			}
			if got := len(drv.Written()); got != tt.written {
				t.Errorf("written = %d, want %d", got, tt.written)
			}
		})
	}
}

func TestSendContextCancel(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	s := openUSB(t, drv, 1, OptSendRetry(1000, 10*time.Millisecond))
	fails := make([]pcan.TPCANStatus, 1000)
	for i := range fails {
		fails[i] = pcan.PCAN_ERROR_QXMTFULL
	}
	drv.FailWrites(fails...)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	f, _ := NewFrame(0x100, Standard, nil)
	start := time.Now()
	if err := s.SendContext(ctx, f); err == nil {
		t.Fatal("SendContext() succeeded")
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("SendContext() returned after %v", d)
	}
}

func TestRecvContext(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1, pcan.PCAN_USBBUS1+1)
	rx := openUSB(t, drv, 1)
	tx := openUSB(t, drv, 2)
	want, _ := NewFrame(0x7E8, Standard, []byte{0x03, 0x41, 0x0C})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		if err := tx.Send(want); err != nil {
			t.Errorf("Send() error = %v", err)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ts, err := rx.RecvContext(ctx)
	wg.Wait()
	if err != nil {
		t.Fatalf("RecvContext() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("RecvContext() = %v, want %v", got, want)
	}
	if ts.Duration() <= 0 {
		t.Errorf("timestamp %v not set", ts)
	}
}

func TestRecvContextTimeout(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	s := openUSB(t, drv, 1, OptPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, _, err := s.RecvContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RecvContext() error = %v, want DeadlineExceeded", err)
	}
}

// pollingDriver hides the ReceiveWaiter methods of the loopback.
type pollingDriver struct {
	pcan.Driver
}

func TestRecvContextPolling(t *testing.T) {
	lb := pcantest.New(pcan.PCAN_USBBUS1)
	s := openUSB(t, pollingDriver{lb}, 1, OptPollInterval(time.Millisecond))
	want, _ := NewFrame(0x321, Standard, []byte{9})
	go func() {
		time.Sleep(10 * time.Millisecond)
		lb.Inject(pcan.PCAN_USBBUS1, pcan.TPCANMsgFD{ID: 0x321, DLC: 1, DATA: [64]byte{9}})
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, _, err := s.RecvContext(ctx)
	if err != nil || !got.Equal(want) {
		t.Errorf("RecvContext() = %v, %v", got, err)
	}
}

func TestRecvMalformed(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	s := openUSB(t, drv, 1)
	before := testutil.ToFloat64(metrics.MalformedFrames)
	drv.Inject(pcan.PCAN_USBBUS1, pcan.TPCANMsgFD{ID: 0x100, DLC: 9})
	if _, _, err := s.Recv(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Recv() error = %v, want ErrFrameTooLarge", err)
	}
	if got := testutil.ToFloat64(metrics.MalformedFrames) - before; got != 1 {
		t.Errorf("malformed frames = %v, want 1", got)
	}
}

func TestFDSocket(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	ft, _ := NewFDBitTiming(2, 16, 63, 16, 2, 4, 15, 4)
	s, err := OpenFD(drv, usb(t, 1), ft)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !s.FD() {
		t.Fatal("FD() = false")
	}
	raw, _ := drv.Param(pcan.PCAN_USBBUS1, pcan.PCAN_BITRATE_INFO_FD)
	if string(raw) != ft.String()+"\x00" {
		t.Errorf("driver got bit rate %q", raw)
	}

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	fdf, _ := NewFDFrame(0x18DA10F1, Extended, data, true, true)
	if err := s.SendFD(fdf); err != nil {
		t.Fatalf("SendFD() error = %v", err)
	}
	got, _, err := s.RecvFD()
	if err != nil {
		t.Fatalf("RecvFD() error = %v", err)
	}
	if !got.Equal(fdf) || got.Len() != 12 || !got.IsBRS() {
		t.Errorf("RecvFD() = %v", got)
	}
	if d := got.Data(); string(d[:10]) != string(data) || d[10] != 0 || d[11] != 0 {
		t.Errorf("payload = % X", d)
	}

	classic, _ := NewFrame(0x7E0, Standard, []byte{0x02, 0x3E, 0x00})
	if err := s.Send(classic); err != nil {
		t.Fatalf("Send() on FD socket error = %v", err)
	}
	got, _, err = s.RecvFD()
	if err != nil {
		t.Fatal(err)
	}
	if got.IsFD() || got.DLC() != 3 || got.ID() != 0x7E0 {
		t.Errorf("classic frame through FD socket = %v", got)
	}
	if _, _, err := s.Recv(); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Recv() on FD socket error = %v, want ErrWrongMode", err)
	}
}

func TestFDModeMismatch(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	s := openUSB(t, drv, 1)
	f, _ := NewFDFrame(0x100, Standard, []byte{1}, true, false)
	if err := s.SendFD(f); !errors.Is(err, ErrWrongMode) {
		t.Errorf("SendFD() on classic socket error = %v, want ErrWrongMode", err)
	}
	if _, _, err := s.RecvFD(); !errors.Is(err, ErrWrongMode) {
		t.Errorf("RecvFD() on classic socket error = %v, want ErrWrongMode", err)
	}

	pci, _ := NewBus(PCI, 1)
	ft, _ := NewFDBitTiming(2, 16, 63, 16, 2, 4, 15, 4)
	if _, err := OpenFD(pcantest.New(pci.Handle()), pci, ft); !errors.Is(err, ErrNotSupported) {
		t.Errorf("OpenFD(PCI1) error = %v, want ErrNotSupported", err)
	}
}

func TestOptions(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	s := openUSB(t, drv, 1, OptListenOnly(true), OptBitrateAdapting(false))
	raw, ok := drv.Param(pcan.PCAN_USBBUS1, pcan.PCAN_LISTEN_ONLY)
	if !ok || raw[0] != byte(pcan.PCAN_PARAMETER_ON) {
		t.Errorf("listen only = % X, %v", raw, ok)
	}
	if on, err := s.BitrateAdapting(); err != nil || on {
		t.Errorf("BitrateAdapting() = %v, %v", on, err)
	}

	pci, _ := NewBus(PCI, 1)
	if _, err := Open(pcantest.New(pci.Handle()), pci, pcan.PCAN_BAUD_500K, OptListenOnly(true)); !errors.Is(err, ErrNotSupported) {
		t.Errorf("OptListenOnly on PCI error = %v, want ErrNotSupported", err)
	}

	bad := []struct {
		name string
		opt  Opts
	}{
		{"nil logger", OptLogger(nil)},
		{"zero attempts", OptSendRetry(0, 0)},
		{"zero poll", OptPollInterval(0)},
	}
	for _, tt := range bad {
		if _, err := Open(pcantest.New(pcan.PCAN_USBBUS1), usb(t, 1), pcan.PCAN_BAUD_500K, tt.opt); err == nil {
			t.Errorf("%s accepted", tt.name)
		}
	}
}

func TestFilterMessages(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1, pcan.PCAN_USBBUS1+1)
	tx := openUSB(t, drv, 1)
	rx := openUSB(t, drv, 2)

	bad := []struct {
		name     string
		from, to uint32
		mode     Mode
	}{
		{"inverted", 0x200, 0x100, Standard},
		{"upper bound past 11 bits", 0x100, 0x900, Standard},
		{"range across 11 bit limit", 0x7F0, 0x810, Standard},
		{"lower bound past 11 bits", 0x800, 0x801, Standard},
		{"upper bound past 29 bits", 0x100, 0x20000000, Extended},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if err := rx.FilterMessages(tt.from, tt.to, tt.mode); !errors.Is(err, ErrFilterRange) {
				t.Errorf("FilterMessages(0x%X, 0x%X) error = %v, want ErrFilterRange", tt.from, tt.to, err)
			}
		})
	}

	recvIDs := func(t *testing.T, ids ...uint32) []uint32 {
		t.Helper()
		for _, id := range ids {
			f, _ := NewFrame(id, Standard, nil)
			if err := tx.Send(f); err != nil {
				t.Fatal(err)
			}
		}
		var got []uint32
		for {
			f, _, err := rx.Recv()
			if errors.Is(err, pcan.ErrQueueEmpty) {
				return got
			}
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, f.ID())
		}
	}

	steps := []struct {
		name     string
		from, to uint32
		want     []uint32
	}{
		{"first range", 0x100, 0x1FF, []uint32{0x123}},
		{"widened by a later range", 0x300, 0x30F, []uint32{0x123, 0x200, 0x30F}},
		{"full standard width", 0x000, 0x7FF, []uint32{0x7E8, 0x123, 0x200, 0x30F}},
	}
	for _, tt := range steps {
		t.Run(tt.name, func(t *testing.T) {
			if err := rx.FilterMessages(tt.from, tt.to, Standard); err != nil {
				t.Fatal(err)
			}
			got := recvIDs(t, 0x7E8, 0x123, 0x200, 0x30F)
			if len(got) != len(tt.want) {
				t.Fatalf("received %X, want %X", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("received %X, want %X", got, tt.want)
					break
				}
			}
		})
	}
}

func TestCloseRetryAfterDriverError(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	before := testutil.ToFloat64(metrics.OpenSockets)
	s, err := Open(drv, usb(t, 1), pcan.PCAN_BAUD_500K)
	if err != nil {
		t.Fatal(err)
	}
	drv.FailUninitialize(pcan.PCAN_ERROR_UNKNOWN)
	if err := s.Close(); err == nil {
		t.Fatal("Close() error = nil, want the driver error")
	}
	if !drv.Initialized(pcan.PCAN_USBBUS1) {
		t.Fatal("channel released despite the error")
	}
	if got := testutil.ToFloat64(metrics.OpenSockets); got != before+1 {
		t.Errorf("open sockets = %v after failed Close, want %v", got, before+1)
	}
	if err := s.Status(); errors.Is(err, ErrClosed) {
		t.Error("socket reports closed after failed Close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if drv.Initialized(pcan.PCAN_USBBUS1) {
		t.Error("channel still initialized")
	}
	if got := testutil.ToFloat64(metrics.OpenSockets); got != before {
		t.Errorf("open sockets = %v, want %v", got, before)
	}
}

func TestStatusAndReset(t *testing.T) {
	drv := pcantest.New(pcan.PCAN_USBBUS1)
	s := openUSB(t, drv, 1)
	if err := s.Status(); err != nil {
		t.Errorf("Status() = %v", err)
	}
	drv.SetBusStatus(pcan.PCAN_USBBUS1, pcan.PCAN_ERROR_BUSOFF|pcan.PCAN_ERROR_BUSLIGHT)
	if err := s.Status(); !errors.Is(err, pcan.ErrBusOff) {
		t.Errorf("Status() = %v, want ErrBusOff", err)
	}

	f, _ := NewFrame(0x100, Standard, nil)
	for i := 0; i < 3; i++ {
		if err := s.Send(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Recv(); !errors.Is(err, pcan.ErrQueueEmpty) {
		t.Errorf("Recv() after Reset error = %v", err)
	}
}
