package session

import (
	"time"

	"go.uber.org/atomic"
)

type stats struct {
	received     atomic.Int64
	bytes        atomic.Int64
	dispatched   atomic.Int64
	dropped      atomic.Int64
	decodeErrors atomic.Int64
	launchErrors atomic.Int64
	pings        atomic.Int64
}

// Status is a point in time view of the session, safe to read from other goroutines.
type Status struct {
	State           State     `json:"state"`
	Topic           string    `json:"topic"`
	StartedAt       time.Time `json:"started_at"`
	Received        int64     `json:"received"`
	Bytes           int64     `json:"bytes"`
	Dispatched      int64     `json:"dispatched"`
	Dropped         int64     `json:"dropped"`
	DecodeErrors    int64     `json:"decode_errors"`
	LaunchErrors    int64     `json:"launch_errors"`
	Pings           int64     `json:"pings"`
	RunningHandlers int64     `json:"running_handlers"`
}

// Status returns the session counters.
func (s *Session) Status() Status {
	st := Status{
		State:        s.State(),
		Topic:        s.cfg.Topic,
		StartedAt:    s.startedAt,
		Received:     s.stats.received.Load(),
		Bytes:        s.stats.bytes.Load(),
		Dispatched:   s.stats.dispatched.Load(),
		Dropped:      s.stats.dropped.Load(),
		DecodeErrors: s.stats.decodeErrors.Load(),
		LaunchErrors: s.stats.launchErrors.Load(),
		Pings:        s.stats.pings.Load(),
	}
	if r, ok := s.launcher.(interface{ Running() int64 }); ok {
		st.RunningHandlers = r.Running()
	}
	return st
}
