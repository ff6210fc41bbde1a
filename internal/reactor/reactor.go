package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"crashd/internal/logging"
)

// Capacity is the maximum number of channel sources in the poll set.
const Capacity = 32

// ErrPollSetOverflow reports a source registered beyond Capacity.
var ErrPollSetOverflow = errors.New("reactor: poll set overflow")

// TimerID identifies a timer registered with AfterFunc or Every.
type TimerID uint64

type source struct {
	name    string
	ch      reflect.Value
	handler func(reflect.Value, bool)
}

type timer struct {
	id     TimerID
	due    time.Time
	period time.Duration
	fn     func()
}

// Reactor is a single-threaded event loop. Its methods must be called from
// handlers running inside Run, or before Run starts.
type Reactor struct {
	logger  *slog.Logger
	now     func() time.Time
	idle    time.Duration
	sources []source
	timers  map[TimerID]*timer
	nextID  TimerID

	stopping bool
	reason   string
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithIdleTimeout shuts the loop down after d without source activity.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Reactor) { r.idle = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reactor) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs an empty reactor.
func New(logger *slog.Logger, opts ...Option) *Reactor {
	r := &Reactor{
		logger: logging.NewComponentLogger(logger, "reactor"),
		now:    time.Now,
		timers: map[TimerID]*timer{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch adds ch to the poll set. fn receives each value; ok is false once
// the channel is closed, after which the source is dropped.
func Watch[T any](r *Reactor, name string, ch <-chan T, fn func(v T, ok bool)) error {
	if len(r.sources) >= Capacity {
		return fmt.Errorf("%w: cannot add %q", ErrPollSetOverflow, name)
	}
	r.sources = append(r.sources, source{
		name: name,
		ch:   reflect.ValueOf(ch),
		handler: func(v reflect.Value, ok bool) {
			var value T
			if ok {
				value = v.Interface().(T)
			}
			fn(value, ok)
		},
	})
	return nil
}

// Sources returns the number of registered channel sources.
func (r *Reactor) Sources() int { return len(r.sources) }

// AfterFunc runs fn once after d.
func (r *Reactor) AfterFunc(d time.Duration, fn func()) TimerID {
	return r.addTimer(d, 0, fn)
}

// Every runs fn every period, first after one period.
func (r *Reactor) Every(period time.Duration, fn func()) TimerID {
	if period <= 0 {
		period = time.Second
	}
	return r.addTimer(period, period, fn)
}

func (r *Reactor) addTimer(d, period time.Duration, fn func()) TimerID {
	r.nextID++
	id := r.nextID
	r.timers[id] = &timer{id: id, due: r.now().Add(d), period: period, fn: fn}
	return id
}

// Cancel removes a timer. Unknown ids are ignored.
func (r *Reactor) Cancel(id TimerID) {
	delete(r.timers, id)
}

// Pending returns the number of live timers.
func (r *Reactor) Pending() int { return len(r.timers) }

// NextDue reports when the given timer fires next.
func (r *Reactor) NextDue(id TimerID) (time.Time, bool) {
	t, ok := r.timers[id]
	if !ok {
		return time.Time{}, false
	}
	return t.due, true
}

// Shutdown flags the loop to exit after the current dispatch pass.
func (r *Reactor) Shutdown(reason string) {
	if r.stopping {
		return
	}
	r.stopping = true
	r.reason = reason
}

// Stopping reports whether Shutdown has been requested. Long handlers may
// poll it.
func (r *Reactor) Stopping() bool { return r.stopping }

// Reason returns why the loop stopped.
func (r *Reactor) Reason() string { return r.reason }

// Run dispatches events until Shutdown is called, ctx is cancelled, or the
// idle timeout elapses.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Debug("event loop started",
		logging.Int("sources", len(r.sources)),
		logging.Int("timers", len(r.timers)),
	)
	lastActivity := r.now()
	for !r.stopping {
		now := r.now()
		wait, hasDeadline := r.nextWait(now)
		if r.idle > 0 {
			remaining := lastActivity.Add(r.idle).Sub(now)
			if remaining <= 0 {
				r.Shutdown("idle timeout")
				break
			}
			if !hasDeadline || remaining < wait {
				wait = remaining
				hasDeadline = true
			}
		}

		dispatched, err := r.poll(ctx, wait, hasDeadline)
		if err != nil {
			return err
		}
		if dispatched > 0 {
			lastActivity = r.now()
		}
		r.fireTimers()
	}
	r.logger.Info("event loop stopped", logging.String("reason", r.reason))
	return nil
}

// nextWait returns the time until the earliest timer.
func (r *Reactor) nextWait(now time.Time) (time.Duration, bool) {
	var (
		earliest time.Time
		found    bool
	)
	for _, t := range r.timers {
		if !found || t.due.Before(earliest) {
			earliest = t.due
			found = true
		}
	}
	if !found {
		return 0, false
	}
	wait := earliest.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

const (
	caseContext = iota
	caseTimer
	firstSource
)

// poll blocks for the first ready source, then drains every other source
// that is already ready without blocking.
func (r *Reactor) poll(ctx context.Context, wait time.Duration, hasDeadline bool) (int, error) {
	cases := make([]reflect.SelectCase, firstSource, firstSource+len(r.sources)+1)
	cases[caseContext] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())}
	cases[caseTimer] = reflect.SelectCase{Dir: reflect.SelectRecv}
	if hasDeadline {
		tm := time.NewTimer(wait)
		defer tm.Stop()
		cases[caseTimer].Chan = reflect.ValueOf(tm.C)
	}
	for _, src := range r.sources {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: src.ch})
	}
	if len(cases)-firstSource > Capacity {
		return 0, ErrPollSetOverflow
	}

	chosen, value, ok := reflect.Select(cases)
	switch chosen {
	case caseContext:
		r.Shutdown("context cancelled")
		return 0, nil
	case caseTimer:
		return 0, nil
	}

	ready := map[int]bool{chosen: true}
	dispatched := 0
	closed := r.dispatch(chosen-firstSource, value, ok)
	dispatched++

	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectDefault})
	cases[caseTimer].Chan = reflect.Value{}
	cases[caseContext].Chan = reflect.Value{}
	for !r.stopping {
		for idx := range ready {
			cases[idx].Chan = reflect.Value{}
		}
		chosen, value, ok = reflect.Select(cases)
		if chosen == len(cases)-1 {
			break
		}
		ready[chosen] = true
		if r.dispatch(chosen-firstSource, value, ok) {
			closed = true
		}
		dispatched++
	}

	if closed {
		r.dropClosed()
	}
	return dispatched, nil
}

// dispatch runs the handler of source idx and reports whether it closed.
func (r *Reactor) dispatch(idx int, value reflect.Value, ok bool) bool {
	src := r.sources[idx]
	src.handler(value, ok)
	if !ok {
		r.logger.Debug("event source closed", logging.String("source", src.name))
		r.sources[idx].ch = reflect.Value{}
		return true
	}
	return false
}

func (r *Reactor) dropClosed() {
	kept := r.sources[:0]
	for _, src := range r.sources {
		if src.ch.IsValid() {
			kept = append(kept, src)
		}
	}
	r.sources = kept
}

// fireTimers runs every expired timer in due order. Recurring timers are
// rescheduled from their previous due time.
func (r *Reactor) fireTimers() {
	now := r.now()
	var due []*timer
	for _, t := range r.timers {
		if !t.due.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].id < due[j].id
		}
		return due[i].due.Before(due[j].due)
	})
	for _, t := range due {
		if r.stopping {
			return
		}
		if _, live := r.timers[t.id]; !live {
			continue
		}
		if t.period > 0 {
			t.due = t.due.Add(t.period)
			if !t.due.After(now) {
				t.due = now.Add(t.period)
			}
		} else {
			delete(r.timers, t.id)
		}
		t.fn()
	}
}
