// Package progress periodically reports accumulated counters.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Stat is a snapshot of message counters.
type Stat struct {
	Messages   uint64
	Dispatched uint64
	Dropped    uint64
	Errors     uint64
	Bytes      uint64
}

// Func receives the current totals, the delta since the previous call and the
// time since Start.
type Func func(total, delta Stat, runtime time.Duration)

type Progress struct {
	OnStart  func()
	OnUpdate Func
	OnDone   Func

	sample    func() Stat
	duration  time.Duration
	startTime time.Time
	last      Stat

	mu      sync.Mutex
	cancel  chan struct{}
	stopped chan struct{}
	running bool
}

// NewProgress creates a reporter that calls sample every d.
func NewProgress(d time.Duration, sample func() Stat) *Progress {
	return &Progress{duration: d, sample: sample}
}

// Start runs the reporter. It is a no-op on a nil or running Progress.
func (p *Progress) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.running = true
	p.cancel = make(chan struct{})
	p.stopped = make(chan struct{})
	p.startTime = time.Now()
	p.last = p.sample()

	if p.OnStart != nil {
		p.OnStart()
	}
	go p.reporter(time.NewTicker(p.duration))
}

func (p *Progress) reporter(ticker *time.Ticker) {
	defer close(p.stopped)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.report(p.OnUpdate)
		case <-p.cancel:
			return
		}
	}
}

func (p *Progress) report(fn Func) {
	current := p.sample()
	delta := current.Sub(p.last)
	p.last = current
	if fn != nil {
		fn(current, delta, time.Since(p.startTime))
	}
}

// Done stops the reporter and calls OnDone once with the final totals.
func (p *Progress) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	p.running = false
	close(p.cancel)
	<-p.stopped
	p.report(p.OnDone)
}

// Sub returns s minus prev, counter by counter.
func (s Stat) Sub(prev Stat) Stat {
	return Stat{
		Messages:   s.Messages - prev.Messages,
		Dispatched: s.Dispatched - prev.Dispatched,
		Dropped:    s.Dropped - prev.Dropped,
		Errors:     s.Errors - prev.Errors,
		Bytes:      s.Bytes - prev.Bytes,
	}
}

func (s Stat) String() string {
	return fmt.Sprintf("Stat(%d messages, %d dispatched, %d dropped, %d errors, %s)",
		s.Messages, s.Dispatched, s.Dropped, s.Errors, humanize.Bytes(s.Bytes))
}
