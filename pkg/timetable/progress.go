package timetable

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultProgressInterval bounds how often a throttled sink is written to.
const DefaultProgressInterval = 2 * time.Second

// ProgressSink receives (placed, total) whenever a run finds a new best schedule.
type ProgressSink interface {
	Report(placed, total int)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(placed, total int)

// Report calls f.
func (f ProgressFunc) Report(placed, total int) {
	f(placed, total)
}

type progressUpdate struct {
	placed int
	total  int
}

// ThrottledProgress decouples the search loop from a slow sink. Report never
// blocks: only the latest update is kept and a background goroutine forwards
// it at most once per interval. Close flushes the last pending update.
type ThrottledProgress struct {
	sink     ProgressSink
	interval time.Duration
	now      func() time.Time

	updates chan progressUpdate
	stop    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
}

// NewThrottledProgress starts the forwarding goroutine. It exits on Close or when ctx is done.
func NewThrottledProgress(ctx context.Context, sink ProgressSink, interval time.Duration) *ThrottledProgress {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	p := &ThrottledProgress{
		sink:     sink,
		interval: interval,
		now:      time.Now,
		updates:  make(chan progressUpdate, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.loop(ctx)
	return p
}

// Report records the latest progress without blocking.
func (p *ThrottledProgress) Report(placed, total int) {
	if p.closed.Load() {
		return
	}
	update := progressUpdate{placed: placed, total: total}
	for {
		select {
		case p.updates <- update:
			return
		default:
		}
		select {
		case <-p.updates:
		default:
		}
	}
}

// Close stops the goroutine after delivering any pending update.
func (p *ThrottledProgress) Close() {
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.stop)
	})
	<-p.done
}

func (p *ThrottledProgress) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var (
		last    time.Time
		pending *progressUpdate
	)
	emit := func(u progressUpdate) {
		p.sink.Report(u.placed, u.total)
		last = p.now()
		pending = nil
	}

	for {
		select {
		case u := <-p.updates:
			if last.IsZero() || p.now().Sub(last) >= p.interval {
				emit(u)
			} else {
				pending = &u
			}
		case <-ticker.C:
			if pending != nil && p.now().Sub(last) >= p.interval {
				emit(*pending)
			}
		case <-p.stop:
			select {
			case u := <-p.updates:
				pending = &u
			default:
			}
			if pending != nil {
				emit(*pending)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}
