package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"crashd/internal/config"
	"crashd/internal/logging"
	"crashd/internal/reactor"
)

// ErrBadSpec reports a time specification that is neither seconds nor HH:MM.
var ErrBadSpec = errors.New("invalid schedule specification")

// Day is the period of a daily trigger after its first firing.
const Day = 24 * time.Hour

// Kind distinguishes periodic from daily triggers.
type Kind int

const (
	Periodic Kind = iota
	Daily
)

func (k Kind) String() string {
	if k == Daily {
		return "daily"
	}
	return "periodic"
}

// Trigger is a parsed time specification.
type Trigger struct {
	Kind   Kind
	Period time.Duration
	Hour   int
	Minute int
}

func (t Trigger) String() string {
	if t.Kind == Daily {
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
	return t.Period.String()
}

// Parse reads "SECONDS" (minimum 1) or "HH:MM" (clamped to a valid time).
func Parse(spec string) (Trigger, error) {
	trimmed := strings.TrimSpace(spec)
	if hh, mm, ok := strings.Cut(trimmed, ":"); ok {
		hour, errH := strconv.Atoi(strings.TrimSpace(hh))
		minute, errM := strconv.Atoi(strings.TrimSpace(mm))
		if errH != nil || errM != nil {
			return Trigger{}, fmt.Errorf("%w: %q", ErrBadSpec, spec)
		}
		return Trigger{Kind: Daily, Hour: clamp(hour, 0, 23), Minute: clamp(minute, 0, 59)}, nil
	}
	seconds, err := strconv.Atoi(trimmed)
	if err != nil || seconds < 0 {
		return Trigger{}, fmt.Errorf("%w: %q", ErrBadSpec, spec)
	}
	if seconds < 1 {
		seconds = 1
	}
	return Trigger{Kind: Periodic, Period: time.Duration(seconds) * time.Second}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NextDelay returns how long after now the trigger first fires.
func (t Trigger) NextDelay(now time.Time) time.Duration {
	if t.Kind == Periodic {
		return t.Period
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", t.Minute, t.Hour))
	if err != nil {
		return Day
	}
	return sched.Next(now).Sub(now)
}

// Timers is the part of the reactor the scheduler needs.
type Timers interface {
	AfterFunc(d time.Duration, fn func()) reactor.TimerID
	Every(d time.Duration, fn func()) reactor.TimerID
	Cancel(id reactor.TimerID)
}

// RunFunc invokes one action through the plugin registry.
type RunFunc func(ctx context.Context, job config.ActionSpec)

// Task is one installed (trigger, action) pair.
type Task struct {
	Spec    string
	Trigger Trigger
	Job     config.ActionSpec
	Timer   reactor.TimerID
	// Recurring is false while a daily task waits for its first firing.
	Recurring bool
}

// Scheduler owns the timers installed from the cron table.
type Scheduler struct {
	timers Timers
	run    RunFunc
	logger *slog.Logger
	now    func() time.Time
	tasks  []*Task
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock used for daily triggers.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a scheduler on top of timers.
func New(timers Timers, run RunFunc, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		timers: timers,
		run:    run,
		logger: logging.NewComponentLogger(logger, "scheduler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Install parses the whole table first so a bad entry installs nothing,
// then registers one timer per action.
func (s *Scheduler) Install(ctx context.Context, table map[string][]string) error {
	type entry struct {
		spec    string
		trigger Trigger
		jobs    []config.ActionSpec
	}
	specs := make([]string, 0, len(table))
	for spec := range table {
		specs = append(specs, spec)
	}
	sort.Strings(specs)

	entries := make([]entry, 0, len(specs))
	for _, spec := range specs {
		trigger, err := Parse(spec)
		if err != nil {
			return err
		}
		jobs, err := config.ParseActionList(table[spec])
		if err != nil {
			return fmt.Errorf("cron %q: %w", spec, err)
		}
		entries = append(entries, entry{spec: spec, trigger: trigger, jobs: jobs})
	}

	for _, e := range entries {
		for _, job := range e.jobs {
			task := &Task{Spec: e.spec, Trigger: e.trigger, Job: job}
			s.schedule(ctx, task)
			s.tasks = append(s.tasks, task)
		}
	}
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, task *Task) {
	if task.Trigger.Kind == Periodic {
		task.Recurring = true
		task.Timer = s.timers.Every(task.Trigger.Period, func() { s.fire(ctx, task) })
		s.logger.Info("scheduled periodic action",
			logging.Plugin(task.Job.Plugin),
			logging.String("args", task.Job.Arg),
			logging.Duration("period", task.Trigger.Period),
		)
		return
	}

	delay := task.Trigger.NextDelay(s.now())
	task.Timer = s.timers.AfterFunc(delay, func() {
		s.fire(ctx, task)
		s.logger.Debug("rescheduling daily action", logging.Plugin(task.Job.Plugin))
		task.Recurring = true
		task.Timer = s.timers.Every(Day, func() { s.fire(ctx, task) })
	})
	s.logger.Info("scheduled daily action",
		logging.Plugin(task.Job.Plugin),
		logging.String("args", task.Job.Arg),
		logging.String("at", task.Trigger.String()),
		logging.Duration("first_in", delay),
	)
}

func (s *Scheduler) fire(ctx context.Context, task *Task) {
	s.logger.Debug("activating plugin",
		logging.Plugin(task.Job.Plugin),
		logging.String("schedule", task.Spec),
	)
	s.run(ctx, task.Job)
}

// Tasks returns a copy of the installed tasks.
func (s *Scheduler) Tasks() []Task {
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// Stop cancels every installed timer.
func (s *Scheduler) Stop() {
	for _, t := range s.tasks {
		s.timers.Cancel(t.Timer)
	}
	s.tasks = nil
}
