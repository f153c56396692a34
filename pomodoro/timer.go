// Package pomodoro implements the per-task focus timer that cycles through
// focus, short break and long break phases.
package pomodoro

import (
	"context"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"mind-ease/domain"
	"mind-ease/schedule"
)

// LongBreakEvery is the number of completed focus phases between long breaks.
const LongBreakEvery = 4

// Durations holds the full length of each phase.
type Durations struct {
	Focus      time.Duration
	ShortBreak time.Duration
	LongBreak  time.Duration
}

func DefaultDurations() Durations {
	return Durations{Focus: 25 * time.Minute, ShortBreak: 5 * time.Minute, LongBreak: 15 * time.Minute}
}

// Seconds returns the full length of phase in whole seconds.
func (d Durations) Seconds(phase domain.Phase) int {
	switch phase {
	case domain.PhaseShortBreak:
		return int(d.ShortBreak / time.Second)
	case domain.PhaseLongBreak:
		return int(d.LongBreak / time.Second)
	default:
		return int(d.Focus / time.Second)
	}
}

// Sessions records focus sessions remotely. Both calls are best effort.
type Sessions interface {
	StartSession(ctx context.Context, userID, taskID string, phase domain.Phase) (string, error)
	CompleteSession(ctx context.Context, userID, sessionID string, durationMinutes int) error
}

// Config wires a Timer.
type Config struct {
	UserID string
	TaskID string
	// Durations defaults to DefaultDurations when zero.
	Durations Durations
	Sessions  Sessions
	Runner    schedule.Runner
	// OnFocusComplete runs once for every completed focus phase, after the
	// timer's lock is released.
	OnFocusComplete func(ctx context.Context)
	Logger          *log.Entry
	// RemoteTimeout bounds session bookkeeping calls made from the ticker.
	RemoteTimeout time.Duration
}

// State is a point-in-time view of a timer.
type State struct {
	TaskID        string       `json:"taskId"`
	Phase         domain.Phase `json:"phase"`
	SecondsLeft   int          `json:"secondsLeft"`
	TotalSeconds  int          `json:"totalSeconds"`
	Running       bool         `json:"isRunning"`
	PomodoroCount int          `json:"pomodoroCount"`
	Progress      int          `json:"progress"`
	SessionID     string       `json:"sessionId,omitempty"`
}

// Timer is a single pomodoro countdown. It is safe for concurrent use.
type Timer struct {
	cfg Config
	log *log.Entry

	mu             sync.Mutex
	phase          domain.Phase
	secondsLeft    int
	running        bool
	completedFocus int
	ticker         schedule.Job
	ticks          uint64
	sessionID      string
	sessionStart   time.Time
	opening        bool
	epoch          uint64
	closed         bool
}

// New returns a timer in the focus phase at full duration, not running.
func New(cfg Config) *Timer {
	if cfg.Runner == nil {
		panic("pomodoro.New: runner is nil")
	}
	if cfg.Durations == (Durations{}) {
		cfg.Durations = DefaultDurations()
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 10 * time.Second
	}
	l := cfg.Logger
	if l == nil {
		l = log.WithField("component", "pomodoro")
	}
	t := &Timer{
		cfg:   cfg,
		log:   l.WithFields(log.Fields{"user": cfg.UserID, "task": cfg.TaskID}),
		phase: domain.PhaseFocus,
	}
	t.secondsLeft = cfg.Durations.Seconds(domain.PhaseFocus)
	return t
}

// Progress is the completed share of a phase as a whole percentage.
func Progress(totalSeconds, secondsLeft int) int {
	if totalSeconds <= 0 {
		return 0
	}
	return int(math.Round(float64(totalSeconds-secondsLeft) / float64(totalSeconds) * 100))
}

// State returns the current timer state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.cfg.Durations.Seconds(t.phase)
	return State{
		TaskID:        t.cfg.TaskID,
		Phase:         t.phase,
		SecondsLeft:   t.secondsLeft,
		TotalSeconds:  total,
		Running:       t.running,
		PomodoroCount: t.completedFocus,
		Progress:      Progress(total, t.secondsLeft),
		SessionID:     t.sessionID,
	}
}

// Start resumes the countdown. Starting a focus phase opens a session
// record when none is open; a failure to open one is logged and the timer
// runs untracked.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running || t.closed {
		t.mu.Unlock()
		return
	}
	t.running = true
	// Session minutes count from the latest start. Time before a pause is not kept.
	t.sessionStart = t.cfg.Runner.Now()
	t.ticks++
	gen := t.ticks
	t.ticker = t.cfg.Runner.Every(time.Second, func(ctx context.Context, _ time.Time) {
		t.tick(ctx, gen)
	})
	open := t.cfg.UserID != "" && t.cfg.Sessions != nil && t.phase == domain.PhaseFocus &&
		t.sessionID == "" && !t.opening
	if !open {
		t.mu.Unlock()
		return
	}
	t.opening = true
	epoch := t.epoch
	phase := t.phase
	t.mu.Unlock()

	id, err := t.cfg.Sessions.StartSession(ctx, t.cfg.UserID, t.cfg.TaskID, phase)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.opening = false
	if err != nil {
		t.log.WithError(err).Debug("start session failed, timer runs untracked")
		return
	}
	if epoch != t.epoch {
		t.log.WithField("session", id).Debug("session opened after phase ended, dropping reference")
		return
	}
	t.sessionID = id
}

// Pause stops the countdown without touching the phase or remaining time.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Reset stops the timer and returns it to a full focus phase. An open
// session is forgotten without being closed remotely.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	if t.sessionID != "" {
		t.log.WithField("session", t.sessionID).Debug("reset leaves session open")
	}
	t.phase = domain.PhaseFocus
	t.secondsLeft = t.cfg.Durations.Seconds(domain.PhaseFocus)
	t.sessionID = ""
	t.epoch++
}

// Complete ends the current phase immediately, exactly as if the countdown
// had reached zero.
func (t *Timer) Complete(ctx context.Context) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	exp := t.expireLocked()
	t.mu.Unlock()
	t.finish(ctx, exp)
}

// Close stops the countdown for good.
func (t *Timer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.closed = true
}

// tick ignores callbacks from a ticker that has since been replaced.
func (t *Timer) tick(ctx context.Context, gen uint64) {
	t.mu.Lock()
	if !t.running || gen != t.ticks || ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	if t.secondsLeft > 0 {
		t.secondsLeft--
	}
	if t.secondsLeft > 0 {
		t.mu.Unlock()
		return
	}
	exp := t.expireLocked()
	t.mu.Unlock()

	// The tick context ends with the ticker, which expiry has just stopped.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.RemoteTimeout)
	defer cancel()
	t.finish(rctx, exp)
}

type expiry struct {
	finished  domain.Phase
	next      domain.Phase
	sessionID string
	minutes   int
}

func (t *Timer) expireLocked() expiry {
	t.stopLocked()
	exp := expiry{finished: t.phase}
	if t.sessionID != "" {
		exp.sessionID = t.sessionID
		exp.minutes = int(math.Round(t.cfg.Runner.Now().Sub(t.sessionStart).Minutes()))
	}
	t.sessionID = ""
	t.epoch++
	if t.phase == domain.PhaseFocus {
		t.completedFocus++
		if t.completedFocus%LongBreakEvery == 0 {
			t.phase = domain.PhaseLongBreak
		} else {
			t.phase = domain.PhaseShortBreak
		}
	} else {
		t.phase = domain.PhaseFocus
	}
	t.secondsLeft = t.cfg.Durations.Seconds(t.phase)
	exp.next = t.phase
	return exp
}

func (t *Timer) finish(ctx context.Context, exp expiry) {
	entry := t.log.WithFields(log.Fields{"finished": exp.finished, "next": exp.next})
	if exp.sessionID != "" && t.cfg.Sessions != nil {
		if err := t.cfg.Sessions.CompleteSession(ctx, t.cfg.UserID, exp.sessionID, exp.minutes); err != nil {
			entry.WithError(err).WithField("session", exp.sessionID).Debug("complete session failed")
		}
	}
	entry.Debug("phase complete")
	if exp.finished == domain.PhaseFocus && t.cfg.OnFocusComplete != nil {
		t.cfg.OnFocusComplete(ctx)
	}
}

func (t *Timer) stopLocked() {
	t.running = false
	if t.ticker != nil {
		t.ticker.Stop()
		t.ticker = nil
	}
}
