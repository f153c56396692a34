// Package alerts raises cognitive overload alerts after long stretches of
// continuous focus.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"mind-ease/domain"
	"mind-ease/schedule"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultDebounce     = 5 * time.Minute
)

// Alert is a raised notification.
type Alert struct {
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	ActionLabel    string    `json:"actionLabel"`
	ElapsedMinutes int       `json:"elapsedMinutes"`
	RaisedAt       time.Time `json:"raisedAt"`
}

func newAlert(sev Severity, intervalMinutes int, elapsed time.Duration, now time.Time) Alert {
	a := Alert{Severity: sev, ElapsedMinutes: int(elapsed / time.Minute), RaisedAt: now}
	switch sev {
	case SeverityWarning:
		a.Message = fmt.Sprintf("You have been focused for more than %d minutes. Take a longer break.", 2*intervalMinutes)
		a.ActionLabel = "Take a break now"
	default:
		a.Message = fmt.Sprintf("%d minutes of continuous focus. Time to pause.", intervalMinutes)
		a.ActionLabel = "Good idea!"
	}
	return a
}

// Config wires a Scheduler.
type Config struct {
	Runner       schedule.Runner
	PollInterval time.Duration
	Debounce     time.Duration
	// OnAlert receives every raised alert outside the scheduler's lock.
	OnAlert func(ctx context.Context, a Alert)
	// OnDismiss runs after the user dismissed an alert.
	OnDismiss func(ctx context.Context)
	Logger    *log.Entry
}

// Scheduler tracks one focus window and polls it while alerts are enabled.
type Scheduler struct {
	cfg Config
	log *log.Entry

	mu          sync.Mutex
	enabled     bool
	interval    int
	windowStart time.Time
	lastAlert   time.Time
	current     *Alert
	job         schedule.Job
}

// New returns a disabled scheduler. Call Configure to start it.
func New(cfg Config) *Scheduler {
	if cfg.Runner == nil {
		panic("alerts.New: runner is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	l := cfg.Logger
	if l == nil {
		l = log.WithField("component", "alerts")
	}
	return &Scheduler{cfg: cfg, log: l}
}

// Configure applies the user's preferences. Turning alerts on or changing
// the interval restarts the focus window; turning them off stops polling.
func (s *Scheduler) Configure(prefs domain.CognitivePreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !prefs.CognitiveAlerts {
		if s.job != nil {
			s.job.Stop()
			s.job = nil
		}
		s.enabled = false
		s.current = nil
		return
	}
	interval := prefs.AlertInterval()
	if !s.enabled || interval != s.interval {
		s.restartLocked(s.cfg.Runner.Now())
		s.lastAlert = time.Time{}
		s.log.WithField("interval", interval).Debug("alert window restarted")
	}
	s.enabled = true
	s.interval = interval
	if s.job == nil {
		s.job = s.cfg.Runner.Every(s.cfg.PollInterval, s.poll)
	}
}

// Check evaluates the firing rule at the current time.
func (s *Scheduler) Check(ctx context.Context) {
	s.poll(ctx, s.cfg.Runner.Now())
}

func (s *Scheduler) poll(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	if !s.lastAlert.IsZero() && now.Sub(s.lastAlert) < s.cfg.Debounce {
		s.mu.Unlock()
		return
	}
	elapsed := now.Sub(s.windowStart)
	interval := time.Duration(s.interval) * time.Minute
	// An ignored alert comes back once per debounce window.
	var a *Alert
	switch {
	case elapsed >= 2*interval:
		al := newAlert(SeverityWarning, s.interval, elapsed, now)
		a = &al
	case elapsed >= interval:
		al := newAlert(SeverityInfo, s.interval, elapsed, now)
		a = &al
	}
	if a == nil {
		s.mu.Unlock()
		return
	}
	s.lastAlert = now
	cur := *a
	s.current = &cur
	s.mu.Unlock()

	s.log.WithFields(log.Fields{"severity": a.Severity, "elapsed": a.ElapsedMinutes}).Info("cognitive alert raised")
	if s.cfg.OnAlert != nil {
		s.cfg.OnAlert(ctx, *a)
	}
}

// Current returns the alert being shown, if any.
func (s *Scheduler) Current() (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Alert{}, false
	}
	return *s.current, true
}

// Enabled reports whether alerts are switched on.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Dismiss closes the current alert and restarts the focus window from now.
func (s *Scheduler) Dismiss(ctx context.Context) {
	s.mu.Lock()
	now := s.cfg.Runner.Now()
	s.restartLocked(now)
	s.lastAlert = now
	s.mu.Unlock()

	if s.cfg.OnDismiss != nil {
		s.cfg.OnDismiss(ctx)
	}
}

// Close stops polling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil {
		s.job.Stop()
		s.job = nil
	}
	s.enabled = false
}

func (s *Scheduler) restartLocked(now time.Time) {
	s.windowStart = now
	s.current = nil
}
