package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"crashd/internal/config"
	"crashd/internal/logging"
	"crashd/internal/reactor"
	"crashd/internal/scheduler"
)

type registered struct {
	delay     time.Duration
	recurring bool
	fn        func()
}

type fakeTimers struct {
	next      reactor.TimerID
	timers    map[reactor.TimerID]*registered
	cancelled []reactor.TimerID
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{timers: map[reactor.TimerID]*registered{}}
}

func (f *fakeTimers) add(d time.Duration, recurring bool, fn func()) reactor.TimerID {
	f.next++
	f.timers[f.next] = &registered{delay: d, recurring: recurring, fn: fn}
	return f.next
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) reactor.TimerID {
	return f.add(d, false, fn)
}
func (f *fakeTimers) Every(d time.Duration, fn func()) reactor.TimerID { return f.add(d, true, fn) }
func (f *fakeTimers) Cancel(id reactor.TimerID) {
	f.cancelled = append(f.cancelled, id)
	delete(f.timers, id)
}

func TestParse(t *testing.T) {
	tests := []struct {
		spec    string
		want    scheduler.Trigger
		wantErr bool
	}{
		{spec: "10", want: scheduler.Trigger{Kind: scheduler.Periodic, Period: 10 * time.Second}},
		{spec: "0", want: scheduler.Trigger{Kind: scheduler.Periodic, Period: time.Second}},
		{spec: " 3600 ", want: scheduler.Trigger{Kind: scheduler.Periodic, Period: time.Hour}},
		{spec: "23:59", want: scheduler.Trigger{Kind: scheduler.Daily, Hour: 23, Minute: 59}},
		{spec: "25:70", want: scheduler.Trigger{Kind: scheduler.Daily, Hour: 23, Minute: 59}},
		{spec: "-1:-5", want: scheduler.Trigger{Kind: scheduler.Daily}},
		{spec: "-5", wantErr: true},
		{spec: "often", wantErr: true},
		{spec: "12:xx", wantErr: true},
		{spec: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := scheduler.Parse(tt.spec)
		if tt.wantErr {
			if !errors.Is(err, scheduler.ErrBadSpec) {
				t.Fatalf("Parse(%q) expected ErrBadSpec, got %v", tt.spec, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("Parse(%q) = %+v, %v; want %+v", tt.spec, got, err, tt.want)
		}
	}
}

func TestPeriodicSpecRegistersRecurringTimer(t *testing.T) {
	timers := newFakeTimers()
	var ran []config.ActionSpec
	s := scheduler.New(timers, func(_ context.Context, job config.ActionSpec) { ran = append(ran, job) }, logging.NewNop())

	if err := s.Install(context.Background(), map[string][]string{"10": {"RunApp(date,stamp)", "Logger"}}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(timers.timers) != 2 {
		t.Fatalf("expected one timer per action, got %d", len(timers.timers))
	}
	for _, reg := range timers.timers {
		if reg.delay != 10*time.Second || !reg.recurring {
			t.Fatalf("unexpected timer %+v", reg)
		}
	}
	timers.timers[1].fn()
	timers.timers[1].fn()
	if len(ran) != 2 || ran[0].Plugin != "RunApp" || ran[0].Arg != "date,stamp" {
		t.Fatalf("ran = %+v", ran)
	}
}

func TestDailySpecFiresOnceThenEvery24h(t *testing.T) {
	timers := newFakeTimers()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	runs := 0
	s := scheduler.New(timers, func(context.Context, config.ActionSpec) { runs++ }, logging.NewNop(),
		scheduler.WithClock(func() time.Time { return now }))

	if err := s.Install(context.Background(), map[string][]string{"23:59": {"RunApp(cleanup)"}}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	first := timers.timers[1]
	if first == nil || first.recurring || first.delay != 11*time.Hour+59*time.Minute {
		t.Fatalf("unexpected first timer %+v", first)
	}

	first.fn()
	if runs != 1 {
		t.Fatalf("runs = %d", runs)
	}
	again := timers.timers[2]
	if again == nil || !again.recurring || again.delay != scheduler.Day {
		t.Fatalf("expected 24h recurring timer, got %+v", again)
	}
	tasks := s.Tasks()
	if len(tasks) != 1 || !tasks[0].Recurring || tasks[0].Timer != 2 {
		t.Fatalf("tasks = %+v", tasks)
	}

	s.Stop()
	if len(timers.cancelled) != 1 || timers.cancelled[0] != 2 {
		t.Fatalf("cancelled = %v", timers.cancelled)
	}
}

func TestDailySpecAlreadyPassedWaitsUntilTomorrow(t *testing.T) {
	now := time.Date(2024, 5, 1, 23, 59, 30, 0, time.Local)
	trigger, _ := scheduler.Parse("23:59")
	if got := trigger.NextDelay(now); got != 23*time.Hour+59*time.Minute+30*time.Second {
		t.Fatalf("NextDelay = %s", got)
	}
}

func TestInstallRejectsBadSpecWithoutTimers(t *testing.T) {
	timers := newFakeTimers()
	s := scheduler.New(timers, func(context.Context, config.ActionSpec) {}, logging.NewNop())
	err := s.Install(context.Background(), map[string][]string{
		"10":      {"Logger"},
		"someday": {"Logger"},
	})
	if !errors.Is(err, scheduler.ErrBadSpec) {
		t.Fatalf("expected ErrBadSpec, got %v", err)
	}
	if len(timers.timers) != 0 {
		t.Fatalf("expected no timers, got %d", len(timers.timers))
	}
}

func TestSchedulerOnReactor(t *testing.T) {
	r := reactor.New(logging.NewNop())
	runs := 0
	s := scheduler.New(r, func(context.Context, config.ActionSpec) {
		runs++
		r.Shutdown("ran")
	}, logging.NewNop())
	if err := s.Install(context.Background(), map[string][]string{"1": {"Logger"}}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runs != 1 || r.Reason() != "ran" {
		t.Fatalf("runs=%d reason=%q", runs, r.Reason())
	}
}
