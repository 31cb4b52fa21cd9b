// Package pcantest provides an in-memory pcan.Driver.
//
// Every frame written on an initialized channel is queued on all initialized
// channels, the writer included, so a single socket can read back what it
// sent. Parameters are plain byte slices stored per channel.
package pcantest

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/roffe/peakcan/pkg/pcan"
)

// QueueSize is the receive queue depth of a channel; frames beyond it are
// dropped and flagged with PCAN_ERROR_QOVERRUN on the next GetStatus.
const QueueSize = 1024

type entry struct {
	msg pcan.TPCANMsgFD
	at  time.Duration
}

type channel struct {
	fd       bool
	queue    []entry
	notify   chan struct{}
	filtered bool
	from, to uint32
	status   pcan.TPCANStatus
}

// Loopback is safe for concurrent use.
type Loopback struct {
	mu       sync.Mutex
	start    time.Time
	open     map[pcan.TPCANHandle]*channel
	params   map[pcan.TPCANHandle]map[pcan.TPCANParameter][]byte
	failNext []pcan.TPCANStatus
	written  []pcan.TPCANMsgFD
	inits    map[pcan.TPCANHandle]int
	failDown []pcan.TPCANStatus
}

// New returns a loopback on which the given channels are reported as
// attached and available.
func New(channels ...pcan.TPCANHandle) *Loopback {
	l := &Loopback{
		start:  time.Now(),
		open:   make(map[pcan.TPCANHandle]*channel),
		params: make(map[pcan.TPCANHandle]map[pcan.TPCANParameter][]byte),
		inits:  make(map[pcan.TPCANHandle]int),
	}
	l.SetString(pcan.PCAN_NONEBUS, pcan.PCAN_API_VERSION, "4.8.0.0")
	l.SetUint32(pcan.PCAN_NONEBUS, pcan.PCAN_ATTACHED_CHANNELS_COUNT, uint32(len(channels)))
	var attached []byte
	for i, ch := range channels {
		l.SetUint32(ch, pcan.PCAN_CHANNEL_CONDITION, pcan.PCAN_CHANNEL_AVAILABLE)
		l.SetUint32(ch, pcan.PCAN_CHANNEL_FEATURES, pcan.FEATURE_FD_CAPABLE)
		l.SetString(ch, pcan.PCAN_HARDWARE_NAME, "PCAN-Loopback")
		l.SetUint32(ch, pcan.PCAN_CONTROLLER_NUMBER, uint32(i))
		attached = append(attached, channelInfo(ch, uint8(i))...)
	}
	l.Set(pcan.PCAN_NONEBUS, pcan.PCAN_ATTACHED_CHANNELS, attached)
	return l
}

func channelInfo(ch pcan.TPCANHandle, controller uint8) []byte {
	info := pcan.TPCANChannelInformation{
		ChannelHandle:    ch,
		DeviceType:       pcan.PCAN_USB,
		ControllerNumber: controller,
		DeviceFeatures:   pcan.FEATURE_FD_CAPABLE,
		DeviceID:         uint32(controller),
		ChannelCondition: pcan.PCAN_CHANNEL_AVAILABLE,
	}
	copy(info.DeviceName[:], "PCAN-Loopback")
	return info.Bytes()
}

// Set stores a raw parameter value.
func (l *Loopback) Set(ch pcan.TPCANHandle, p pcan.TPCANParameter, v []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(ch, p, v)
}

func (l *Loopback) set(ch pcan.TPCANHandle, p pcan.TPCANParameter, v []byte) {
	m, ok := l.params[ch]
	if !ok {
		m = make(map[pcan.TPCANParameter][]byte)
		l.params[ch] = m
	}
	m[p] = append([]byte(nil), v...)
}

func (l *Loopback) SetUint32(ch pcan.TPCANHandle, p pcan.TPCANParameter, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	l.Set(ch, p, b[:])
}

func (l *Loopback) SetString(ch pcan.TPCANHandle, p pcan.TPCANParameter, s string) {
	l.Set(ch, p, append([]byte(s), 0))
}

// Param returns the stored value of a parameter.
func (l *Loopback) Param(ch pcan.TPCANHandle, p pcan.TPCANParameter) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.params[ch][p]
	return append([]byte(nil), v...), ok
}

// FailWrites makes the next writes fail with the given statuses, in order.
func (l *Loopback) FailWrites(statuses ...pcan.TPCANStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = append(l.failNext, statuses...)
}

// FailUninitialize makes the next Uninitialize calls on a single channel
// fail with the given statuses, in order. The channel stays initialized.
func (l *Loopback) FailUninitialize(statuses ...pcan.TPCANStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failDown = append(l.failDown, statuses...)
}

// SetBusStatus sets what GetStatus reports for an initialized channel.
func (l *Loopback) SetBusStatus(ch pcan.TPCANHandle, status pcan.TPCANStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.open[ch]; ok {
		c.status = status
	}
}

// Inject queues msg on ch as if it was received from the bus. It bypasses
// filters and is the way to feed malformed frames to a reader.
func (l *Loopback) Inject(ch pcan.TPCANHandle, msg pcan.TPCANMsgFD) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.open[ch]; ok {
		l.enqueue(c, msg)
	}
}

// Written returns every frame accepted by Write and WriteFD.
func (l *Loopback) Written() []pcan.TPCANMsgFD {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]pcan.TPCANMsgFD(nil), l.written...)
}

// Initialized reports whether ch is currently initialized.
func (l *Loopback) Initialized(ch pcan.TPCANHandle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.open[ch]
	return ok
}

// Initializations counts successful Initialize and InitializeFD calls on ch.
func (l *Loopback) Initializations(ch pcan.TPCANHandle) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inits[ch]
}

func (l *Loopback) init(ch pcan.TPCANHandle, fd bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch == pcan.PCAN_NONEBUS {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLHW}
	}
	if _, ok := l.open[ch]; ok {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_INITIALIZE}
	}
	l.open[ch] = &channel{fd: fd, notify: make(chan struct{}, 1)}
	l.inits[ch]++
	return nil
}

// Initialize records btr0btr1 as the PCAN_BITRATE_INFO of ch.
func (l *Loopback) Initialize(ch pcan.TPCANHandle, btr0btr1 pcan.TPCANBaudrate) error {
	if err := l.init(ch, false); err != nil {
		return err
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(btr0btr1))
	l.Set(ch, pcan.PCAN_BITRATE_INFO, b[:])
	return nil
}

func (l *Loopback) InitializeFD(ch pcan.TPCANHandle, bitrate []byte) error {
	if len(bitrate) == 0 || bitrate[len(bitrate)-1] != 0 {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLPARAMVAL}
	}
	if err := l.init(ch, true); err != nil {
		return err
	}
	l.Set(ch, pcan.PCAN_BITRATE_INFO_FD, bitrate)
	return nil
}

func (l *Loopback) Uninitialize(ch pcan.TPCANHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch == pcan.PCAN_NONEBUS {
		l.open = make(map[pcan.TPCANHandle]*channel)
		return nil
	}
	if _, ok := l.open[ch]; !ok {
		return pcan.ErrNotInitialized
	}
	if len(l.failDown) > 0 {
		st := l.failDown[0]
		l.failDown = l.failDown[1:]
		return pcan.CheckStatus(st)
	}
	delete(l.open, ch)
	return nil
}

func (l *Loopback) channel(ch pcan.TPCANHandle) (*channel, error) {
	c, ok := l.open[ch]
	if !ok {
		return nil, pcan.ErrNotInitialized
	}
	return c, nil
}

func (l *Loopback) Reset(ch pcan.TPCANHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.channel(ch)
	if err != nil {
		return err
	}
	c.queue = nil
	return nil
}

func (l *Loopback) GetStatus(ch pcan.TPCANHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.channel(ch)
	if err != nil {
		return err
	}
	st := c.status
	c.status &^= pcan.PCAN_ERROR_QOVERRUN
	return pcan.CheckStatus(st)
}

func (l *Loopback) Read(ch pcan.TPCANHandle, msg *pcan.TPCANMsg, ts *pcan.TPCANTimestamp) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.channel(ch)
	if err != nil {
		return err
	}
	if c.fd {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLOPERATION}
	}
	e, ok := c.pop()
	if !ok {
		return pcan.ErrQueueEmpty
	}
	// classic channels see the DLC as a byte count
	*msg = pcan.TPCANMsg{ID: e.msg.ID, MSGTYPE: e.msg.MSGTYPE, LEN: e.msg.DLC}
	copy(msg.DATA[:], e.msg.DATA[:8])
	if ts != nil {
		us := uint64(e.at / time.Microsecond)
		ms := us / 1000
		*ts = pcan.TPCANTimestamp{
			Millis:         uint32(ms),
			MillisOverflow: uint16(ms >> 32),
			Micros:         uint16(us % 1000),
		}
	}
	return nil
}

func (l *Loopback) ReadFD(ch pcan.TPCANHandle, msg *pcan.TPCANMsgFD, ts *pcan.TPCANTimestampFD) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.channel(ch)
	if err != nil {
		return err
	}
	if !c.fd {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLOPERATION}
	}
	e, ok := c.pop()
	if !ok {
		return pcan.ErrQueueEmpty
	}
	*msg = e.msg
	if ts != nil {
		*ts = pcan.TPCANTimestampFD(e.at / time.Microsecond)
	}
	return nil
}

func (c *channel) pop() (entry, bool) {
	if len(c.queue) == 0 {
		return entry{}, false
	}
	e := c.queue[0]
	c.queue = c.queue[1:]
	return e, true
}

func (l *Loopback) Write(ch pcan.TPCANHandle, msg *pcan.TPCANMsg) error {
	if msg.LEN > 8 {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLDATA}
	}
	fd := pcan.TPCANMsgFD{ID: msg.ID, MSGTYPE: msg.MSGTYPE, DLC: msg.LEN}
	copy(fd.DATA[:], msg.DATA[:])
	return l.write(ch, fd, false)
}

func (l *Loopback) WriteFD(ch pcan.TPCANHandle, msg *pcan.TPCANMsgFD) error {
	if msg.DLC > 15 {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLDATA}
	}
	return l.write(ch, *msg, true)
}

func (l *Loopback) write(ch pcan.TPCANHandle, msg pcan.TPCANMsgFD, fd bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.channel(ch)
	if err != nil {
		return err
	}
	if fd != c.fd {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLOPERATION}
	}
	if len(l.failNext) > 0 {
		st := l.failNext[0]
		l.failNext = l.failNext[1:]
		return pcan.CheckStatus(st)
	}
	l.written = append(l.written, msg)
	for _, rc := range l.open {
		// classic controllers do not see FD frames
		if !rc.fd && msg.MSGTYPE&pcan.PCAN_MESSAGE_FD != 0 {
			continue
		}
		if rc.filtered && (msg.ID < rc.from || msg.ID > rc.to) {
			continue
		}
		l.enqueue(rc, msg)
	}
	return nil
}

func (l *Loopback) enqueue(c *channel, msg pcan.TPCANMsgFD) {
	if len(c.queue) >= QueueSize {
		c.status |= pcan.PCAN_ERROR_QOVERRUN
		return
	}
	c.queue = append(c.queue, entry{msg: msg, at: time.Since(l.start)})
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (l *Loopback) FilterMessages(ch pcan.TPCANHandle, from, to uint32, _ pcan.TPCANMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.channel(ch)
	if err != nil {
		return err
	}
	if from > to {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLPARAMVAL}
	}
	// an open range only grows; a closed or unfiltered channel starts over
	if c.filtered && c.from <= c.to {
		from, to = min(from, c.from), max(to, c.to)
	}
	c.filtered, c.from, c.to = true, from, to
	return nil
}

func (l *Loopback) GetValue(ch pcan.TPCANHandle, p pcan.TPCANParameter, buf []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.params[ch][p]
	if !ok {
		return pcan.ErrIllegalParam
	}
	if len(v) > len(buf) {
		return pcan.PCANError{Code: pcan.PCAN_ERROR_ILLPARAMVAL}
	}
	copy(buf, v)
	return nil
}

func (l *Loopback) SetValue(ch pcan.TPCANHandle, p pcan.TPCANParameter, buf []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p == pcan.PCAN_MESSAGE_FILTER && len(buf) == 4 {
		if c, ok := l.open[ch]; ok {
			switch binary.LittleEndian.Uint32(buf) {
			case pcan.PCAN_FILTER_OPEN:
				c.filtered = false
			case pcan.PCAN_FILTER_CLOSE:
				c.filtered, c.from, c.to = true, 1, 0
			}
		}
	}
	l.set(ch, p, buf)
	return nil
}

func (l *Loopback) ErrorText(status pcan.TPCANStatus) (string, error) {
	return status.String(), nil
}

// WaitReceive returns as soon as ch has a queued frame.
func (l *Loopback) WaitReceive(ch pcan.TPCANHandle, timeout time.Duration) error {
	l.mu.Lock()
	c, err := l.channel(ch)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if len(c.queue) > 0 {
		l.mu.Unlock()
		return nil
	}
	notify := c.notify
	l.mu.Unlock()

	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-notify:
		return nil
	case <-expired:
		return pcan.ErrWaitTimeout
	}
}

func (l *Loopback) ReleaseReceive(pcan.TPCANHandle) error { return nil }
