package peakcan

import (
	"errors"
	"log/slog"
	"time"
)

type Opts func(s *Socket) error

// OptListenOnly opens the channel without acknowledging or sending frames.
func OptListenOnly(on bool) Opts {
	return func(s *Socket) error {
		if !s.caps.Has(CapListenOnly) {
			return notSupported("listen only")
		}
		s.listenOnly = &on
		return nil
	}
}

// OptBitrateAdapting allows joining a bus that is already running with
// another bit rate.
func OptBitrateAdapting(on bool) Opts {
	return func(s *Socket) error {
		if !s.caps.Has(CapBitrateAdapting) {
			return notSupported("bitrate adapting")
		}
		s.adapting = &on
		return nil
	}
}

func OptLogger(l *slog.Logger) Opts {
	return func(s *Socket) error {
		if l == nil {
			return errors.New("nil logger")
		}
		s.log = l
		return nil
	}
}

// OptSendRetry sets how often a write hitting a full transmit queue is
// tried, and the pause between tries. attempts 1 disables retrying.
func OptSendRetry(attempts uint, delay time.Duration) Opts {
	return func(s *Socket) error {
		if attempts == 0 {
			return errors.New("send retry: attempts must be at least 1")
		}
		s.attempts = attempts
		s.delay = delay
		return nil
	}
}

// OptPollInterval sets how often RecvContext polls a driver that cannot
// signal received frames.
func OptPollInterval(d time.Duration) Opts {
	return func(s *Socket) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		s.poll = d
		return nil
	}
}
