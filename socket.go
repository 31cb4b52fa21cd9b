package peakcan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/peakcan/internal/logging"
	"github.com/roffe/peakcan/internal/metrics"
	"github.com/roffe/peakcan/pkg/pcan"
)

const (
	defaultSendAttempts = 5
	defaultSendDelay    = time.Millisecond
	defaultPollInterval = 10 * time.Millisecond
)

// Socket is an initialized channel. Send and Recv may be used from
// different goroutines; the driver serializes access to the channel.
type Socket struct {
	channel
	fd     bool
	closed atomic.Bool
	log    *slog.Logger

	listenOnly *bool
	adapting   *bool
	attempts   uint
	delay      time.Duration
	poll       time.Duration
}

func newSocket(drv pcan.Driver, bus Bus, fd bool, opts []Opts) (*Socket, error) {
	caps := SocketCapabilities(bus.Kind())
	if caps == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBus, bus)
	}
	if fd && !caps.Has(CapSendFD|CapRecvFD) {
		return nil, notSupported("open fd " + bus.String())
	}
	s := &Socket{
		channel:  channel{drv: drv, bus: bus, caps: caps},
		fd:       fd,
		log:      logging.L(),
		attempts: defaultSendAttempts,
		delay:    defaultSendDelay,
		poll:     defaultPollInterval,
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	s.log = s.log.With("bus", bus.String())
	return s, nil
}

// preInit writes the parameters that only take effect before
// initialization.
func (s *Socket) preInit() error {
	if s.listenOnly != nil {
		if err := s.SetListenOnly(*s.listenOnly); err != nil {
			return err
		}
	}
	if s.adapting != nil {
		if err := s.SetBitrateAdapting(*s.adapting); err != nil {
			return err
		}
	}
	return nil
}

// Open initializes bus for classic CAN with a BTR0BTR1 value, see
// BaudrateFor and BitTiming.BTR0BTR1.
func Open(drv pcan.Driver, bus Bus, baud pcan.TPCANBaudrate, opts ...Opts) (*Socket, error) {
	s, err := newSocket(drv, bus, false, opts)
	if err != nil {
		return nil, err
	}
	if err := s.preInit(); err != nil {
		return nil, err
	}
	if err := drv.Initialize(bus.Handle(), baud); err != nil {
		metrics.DriverErrors.WithLabelValues(metrics.OpInit).Inc()
		return nil, fmt.Errorf("initialize %s: %w", bus, err)
	}
	s.opened("btr0btr1", fmt.Sprintf("0x%04X", uint16(baud)))
	return s, nil
}

// OpenWithTiming initializes bus for classic CAN with an explicit bit
// timing.
func OpenWithTiming(drv pcan.Driver, bus Bus, t BitTiming, opts ...Opts) (*Socket, error) {
	return Open(drv, bus, t.BTR0BTR1(), opts...)
}

// OpenFD initializes bus for CAN FD.
func OpenFD(drv pcan.Driver, bus Bus, t FDBitTiming, opts ...Opts) (*Socket, error) {
	s, err := newSocket(drv, bus, true, opts)
	if err != nil {
		return nil, err
	}
	if err := s.preInit(); err != nil {
		return nil, err
	}
	if err := drv.InitializeFD(bus.Handle(), t.Bytes()); err != nil {
		metrics.DriverErrors.WithLabelValues(metrics.OpInit).Inc()
		return nil, fmt.Errorf("initialize fd %s: %w", bus, err)
	}
	s.opened("bitrate", t.String())
	return s, nil
}

func (s *Socket) opened(key, value string) {
	metrics.OpenSockets.Inc()
	s.log.Info("socket_open", "fd", s.fd, key, value)
}

// FD reports whether the socket was opened with OpenFD.
func (s *Socket) FD() bool { return s.fd }

// Close uninitializes the channel. Once it has succeeded, calling it again
// is a no-op. When the driver refuses, the socket stays open and Close may
// be retried.
func (s *Socket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	h := s.bus.Handle()
	if w, ok := s.drv.(pcan.ReceiveWaiter); ok {
		if err := w.ReleaseReceive(h); err != nil {
			s.log.Warn("release_receive", "error", err)
		}
	}
	if err := s.drv.Uninitialize(h); err != nil {
		s.closed.Store(false)
		return fmt.Errorf("uninitialize %s: %w", s.bus, err)
	}
	metrics.OpenSockets.Dec()
	s.log.Info("socket_close")
	return nil
}

func (s *Socket) check(op string, need Capability) error {
	if s.closed.Load() {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return s.require(need, op)
}

func retryable(err error) bool {
	return errors.Is(err, pcan.ErrTransmitFull) || errors.Is(err, pcan.ErrQueueFull)
}

func (s *Socket) write(ctx context.Context, op string, fn func() error) error {
	err := retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			// also called after the final attempt
			if n+1 >= s.attempts {
				return
			}
			metrics.SendRetries.Inc()
			s.log.Debug("send_retry", "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		metrics.DriverErrors.WithLabelValues(metrics.OpWrite).Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Send queues a classic frame. On an FD socket it goes out as a classic
// frame through the FD interface.
func (s *Socket) Send(f Frame) error {
	return s.SendContext(context.Background(), f)
}

// SendContext is Send with ctx bounding the retries on a full transmit
// queue.
func (s *Socket) SendContext(ctx context.Context, f Frame) error {
	if err := s.check("send", CapSendCAN); err != nil {
		return err
	}
	h := s.bus.Handle()
	var err error
	if s.fd {
		msg := pcan.TPCANMsgFD{ID: f.msg.ID, MSGTYPE: f.msg.MSGTYPE, DLC: f.msg.LEN}
		copy(msg.DATA[:], f.msg.DATA[:f.msg.LEN])
		err = s.write(ctx, "send", func() error { return s.drv.WriteFD(h, &msg) })
	} else {
		msg := f.msg
		err = s.write(ctx, "send", func() error { return s.drv.Write(h, &msg) })
	}
	if err == nil {
		metrics.TxFrames.WithLabelValues(metrics.KindClassic).Inc()
	}
	return err
}

// SendFD queues an FD frame. The socket must have been opened with OpenFD.
func (s *Socket) SendFD(f FDFrame) error {
	return s.SendFDContext(context.Background(), f)
}

func (s *Socket) SendFDContext(ctx context.Context, f FDFrame) error {
	if err := s.check("send fd", CapSendFD); err != nil {
		return err
	}
	if !s.fd {
		return fmt.Errorf("send fd: %w", ErrWrongMode)
	}
	h := s.bus.Handle()
	msg := f.msg
	if err := s.write(ctx, "send fd", func() error { return s.drv.WriteFD(h, &msg) }); err != nil {
		return err
	}
	metrics.TxFrames.WithLabelValues(metrics.KindFD).Inc()
	return nil
}

// Recv dequeues one classic frame without blocking. An empty queue
// returns an error matching pcan.ErrQueueEmpty.
func (s *Socket) Recv() (Frame, Timestamp, error) {
	if err := s.check("recv", CapRecvCAN); err != nil {
		return Frame{}, Timestamp{}, err
	}
	if s.fd {
		return Frame{}, Timestamp{}, fmt.Errorf("recv: %w", ErrWrongMode)
	}
	var msg pcan.TPCANMsg
	var ts pcan.TPCANTimestamp
	if err := s.drv.Read(s.bus.Handle(), &msg, &ts); err != nil {
		if !errors.Is(err, pcan.ErrQueueEmpty) {
			metrics.DriverErrors.WithLabelValues(metrics.OpRead).Inc()
		}
		return Frame{}, Timestamp{}, fmt.Errorf("recv: %w", err)
	}
	f, err := FrameFromMsg(msg)
	if err != nil {
		metrics.MalformedFrames.Inc()
		return Frame{}, Timestamp{}, fmt.Errorf("recv: LEN %d: %w", msg.LEN, err)
	}
	metrics.RxFrames.WithLabelValues(metrics.KindClassic).Inc()
	return f, timestampOf(ts), nil
}

// RecvFD dequeues one frame from an FD socket without blocking. The
// timestamp is in microseconds.
func (s *Socket) RecvFD() (FDFrame, uint64, error) {
	if err := s.check("recv fd", CapRecvFD); err != nil {
		return FDFrame{}, 0, err
	}
	if !s.fd {
		return FDFrame{}, 0, fmt.Errorf("recv fd: %w", ErrWrongMode)
	}
	var msg pcan.TPCANMsgFD
	var ts pcan.TPCANTimestampFD
	if err := s.drv.ReadFD(s.bus.Handle(), &msg, &ts); err != nil {
		if !errors.Is(err, pcan.ErrQueueEmpty) {
			metrics.DriverErrors.WithLabelValues(metrics.OpRead).Inc()
		}
		return FDFrame{}, 0, fmt.Errorf("recv fd: %w", err)
	}
	f, err := FDFrameFromMsg(msg)
	if err != nil {
		metrics.MalformedFrames.Inc()
		return FDFrame{}, 0, fmt.Errorf("recv fd: DLC %d: %w", msg.DLC, err)
	}
	metrics.RxFrames.WithLabelValues(metrics.KindFD).Inc()
	return f, uint64(ts), nil
}

// RecvContext blocks until a classic frame arrives or ctx is done.
func (s *Socket) RecvContext(ctx context.Context) (Frame, Timestamp, error) {
	for {
		f, ts, err := s.Recv()
		if !errors.Is(err, pcan.ErrQueueEmpty) {
			return f, ts, err
		}
		if err := s.wait(ctx); err != nil {
			return Frame{}, Timestamp{}, err
		}
	}
}

// RecvFDContext blocks until an FD socket receives a frame or ctx is done.
func (s *Socket) RecvFDContext(ctx context.Context) (FDFrame, uint64, error) {
	for {
		f, ts, err := s.RecvFD()
		if !errors.Is(err, pcan.ErrQueueEmpty) {
			return f, ts, err
		}
		if err := s.wait(ctx); err != nil {
			return FDFrame{}, 0, err
		}
	}
}

// wait returns once the receive queue may hold data. Waits are capped at
// the poll interval so ctx is checked regularly.
func (s *Socket) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w, ok := s.drv.(pcan.ReceiveWaiter); ok {
		err := w.WaitReceive(s.bus.Handle(), s.poll)
		if err == nil || errors.Is(err, pcan.ErrWaitTimeout) {
			return ctx.Err()
		}
		return fmt.Errorf("wait receive: %w", err)
	}
	t := time.NewTimer(s.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset flushes the receive and transmit queues.
func (s *Socket) Reset() error {
	if s.closed.Load() {
		return fmt.Errorf("reset: %w", ErrClosed)
	}
	if err := s.drv.Reset(s.bus.Handle()); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Status returns the bus status as an error; nil means the bus is OK.
// Match the result with errors.Is against pcan.ErrBusOff and friends.
func (s *Socket) Status() error {
	if s.closed.Load() {
		return fmt.Errorf("status: %w", ErrClosed)
	}
	return s.drv.GetStatus(s.bus.Handle())
}

// FilterMessages restricts reception to identifiers in [from, to].
// Successive calls widen the range the driver lets through. Bounds beyond
// the identifier width of mode fail with ErrFilterRange.
func (s *Socket) FilterMessages(from, to uint32, mode Mode) error {
	if err := s.check("filter messages", CapMessageFilter); err != nil {
		return err
	}
	if m := mode.mask(); from > m || to > m {
		return fmt.Errorf("filter messages: %w: 0x%X-0x%X exceeds %s id 0x%X", ErrFilterRange, from, to, mode, m)
	}
	if from > to {
		return fmt.Errorf("filter messages: %w: from 0x%X above to 0x%X", ErrFilterRange, from, to)
	}
	if err := s.drv.FilterMessages(s.bus.Handle(), from, to, pcan.TPCANMode(mode.msgType())); err != nil {
		return fmt.Errorf("filter messages: %w", err)
	}
	return nil
}
