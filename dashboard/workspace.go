// Package dashboard assembles the per-user engine: task store, board,
// pomodoro timers, cognitive alerts and profile, wired to remote storage
// and live event delivery.
package dashboard

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"mind-ease/alerts"
	"mind-ease/analytics"
	"mind-ease/board"
	"mind-ease/domain"
	"mind-ease/optimistic"
	"mind-ease/pomodoro"
	"mind-ease/schedule"
	"mind-ease/tasks"
	"mind-ease/userinfo"
)

// Publisher delivers events to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Outbox forwards events to downstream consumers without blocking.
type Outbox interface {
	Publish(ev domain.Event) error
}

// SessionStore records pomodoro sessions and lists a user's history.
type SessionStore interface {
	pomodoro.Sessions
	ListSessions(ctx context.Context, userID string) ([]domain.PomodoroSession, error)
}

// Deps are the collaborators shared by every workspace.
type Deps struct {
	Tasks    tasks.Persistence
	Profiles userinfo.Persistence
	Sessions SessionStore
	Runner   schedule.Runner
	// Events and Outbox are optional.
	Events Publisher
	Outbox Outbox

	Durations         pomodoro.Durations
	AlertPollInterval time.Duration
	AlertDebounce     time.Duration
	RemoteTimeout     time.Duration
	Logger            *log.Entry
}

// ErrClosed is returned by a workspace that has been shut down.
var ErrClosed = errors.New("workspace closed")

// outboxTypes are the events forwarded to the downstream queue.
var outboxTypes = map[string]bool{
	domain.EventTaskCreated:       true,
	domain.EventTaskUpdated:       true,
	domain.EventTaskMoved:         true,
	domain.EventTaskDeleted:       true,
	domain.EventPomodoroCompleted: true,
	domain.EventSessionCompleted:  true,
}

// Workspace is one user's live engine.
type Workspace struct {
	deps     Deps
	identity userinfo.Identity
	log      *log.Entry

	store   *tasks.Store
	profile *userinfo.Holder
	alerts  *alerts.Scheduler

	mu     sync.Mutex
	timers map[string]*pomodoro.Timer
	closed bool
}

// Open builds a workspace for id and loads its tasks and profile. Load
// failures are kept as the components' error state; the workspace is
// returned either way.
func Open(ctx context.Context, deps Deps, id userinfo.Identity) *Workspace {
	if deps.Runner == nil || deps.Tasks == nil || deps.Profiles == nil {
		panic("dashboard.Open: missing dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = log.WithField("component", "dashboard")
	}
	if deps.RemoteTimeout <= 0 {
		deps.RemoteTimeout = 10 * time.Second
	}
	w := &Workspace{
		deps:     deps,
		identity: id,
		log:      deps.Logger.WithField("user", id.ID),
		timers:   map[string]*pomodoro.Timer{},
	}
	w.store = tasks.New(deps.Tasks, id.ID,
		tasks.WithLogger(w.log.WithField("component", "tasks")),
		tasks.WithEvents(func(typ string, data any) { w.emit(typ, data) }),
		tasks.WithClock(deps.Runner.Now),
	)
	w.alerts = alerts.New(alerts.Config{
		Runner:       deps.Runner,
		PollInterval: deps.AlertPollInterval,
		Debounce:     deps.AlertDebounce,
		OnAlert:      func(ctx context.Context, a alerts.Alert) { w.emit(domain.EventAlertRaised, a) },
		OnDismiss:    func(ctx context.Context) { w.emit(domain.EventAlertDismissed, nil) },
		Logger:       w.log.WithField("component", "alerts"),
	})
	w.profile = userinfo.New(deps.Profiles, id, func(info domain.UserInfo) {
		w.alerts.Configure(info.CognitivePreferences)
	}, w.log.WithField("component", "userinfo"))

	if err := w.profile.Load(ctx); err != nil {
		w.log.WithError(err).Warn("profile unavailable, using defaults")
		w.alerts.Configure(w.profile.Preferences())
	}
	if err := w.store.Load(ctx); err != nil {
		w.log.WithError(err).Warn("tasks unavailable")
	}
	return w
}

func (w *Workspace) UserID() string { return w.identity.ID }

func (w *Workspace) Tasks() *tasks.Store { return w.store }

func (w *Workspace) Profile() *userinfo.Holder { return w.profile }

func (w *Workspace) Alerts() *alerts.Scheduler { return w.alerts }

// Board returns a board constrained by the user's current navigation
// profile.
func (w *Workspace) Board() *board.Board {
	return board.New(w.store, w.profile.Config(), w.log.WithField("component", "board"))
}

// Reload refetches whatever is in a load failure state.
func (w *Workspace) Reload(ctx context.Context) error {
	var errs []error
	if w.profile.Err() != nil {
		errs = append(errs, w.profile.Load(ctx))
	}
	if err := w.store.Load(ctx); err != nil {
		errs = append(errs, err)
	} else {
		w.emit(domain.EventTasksResynced, w.store.Tasks())
	}
	return errors.Join(errs...)
}

// Timer returns the task's timer, creating it on first use. Only known
// tasks get a new timer.
func (w *Workspace) Timer(taskID string) (*pomodoro.Timer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if t, ok := w.timers[taskID]; ok {
		return t, nil
	}
	if _, ok := w.store.Task(taskID); !ok {
		return nil, domain.ErrTaskNotFound
	}
	t := pomodoro.New(pomodoro.Config{
		UserID:    w.identity.ID,
		TaskID:    taskID,
		Durations: w.deps.Durations,
		Sessions:  w.sessions(),
		Runner:    w.deps.Runner,
		OnFocusComplete: func(ctx context.Context) {
			w.focusCompleted(ctx, taskID)
		},
		Logger:        w.log.WithField("component", "pomodoro"),
		RemoteTimeout: w.deps.RemoteTimeout,
	})
	w.timers[taskID] = t
	return t, nil
}

// RemoveTask deletes a task and stops its timer once the removal stuck.
func (w *Workspace) RemoveTask(ctx context.Context, taskID string) optimistic.Result[domain.Task] {
	res := w.store.RemoveTask(ctx, taskID)
	if res.Err != nil {
		return res
	}
	w.mu.Lock()
	t, ok := w.timers[taskID]
	delete(w.timers, taskID)
	w.mu.Unlock()
	if ok {
		t.Close()
	}
	return res
}

func (w *Workspace) focusCompleted(ctx context.Context, taskID string) {
	res := w.store.IncrementCompletedPomodoro(ctx, taskID)
	if res.Err != nil {
		w.log.WithError(res.Err).WithField("task", taskID).Warn("record completed pomodoro")
		return
	}
	w.emit(domain.EventPomodoroCompleted, map[string]any{
		"taskId":             taskID,
		"completedPomodoros": res.Value.CompletedPomodoros,
	})
}

// Sessions returns the user's session history, most recent first.
func (w *Workspace) Sessions(ctx context.Context) ([]domain.PomodoroSession, error) {
	if w.deps.Sessions == nil {
		return []domain.PomodoroSession{}, nil
	}
	return w.deps.Sessions.ListSessions(ctx, w.identity.ID)
}

// FocusChart returns the weekly focus chart. ok is false when the user's
// profile hides analytics.
func (w *Workspace) FocusChart(ctx context.Context) (series analytics.Series, ok bool, err error) {
	if !w.profile.Config().ShowAnalytics {
		return analytics.Series{}, false, nil
	}
	sessions, err := w.Sessions(ctx)
	if err != nil {
		return analytics.Series{}, true, err
	}
	return analytics.WeeklyFocus(sessions, w.deps.Runner.Now()), true, nil
}

// Close stops every timer and the alert poller.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	timers := w.timers
	w.timers = map[string]*pomodoro.Timer{}
	w.mu.Unlock()

	for _, t := range timers {
		t.Close()
	}
	w.alerts.Close()
	w.store.Close()
}

func (w *Workspace) sessions() pomodoro.Sessions {
	if w.deps.Sessions == nil {
		return nil
	}
	return sessionRecorder{SessionStore: w.deps.Sessions, w: w}
}

// sessionRecorder announces completed sessions.
type sessionRecorder struct {
	SessionStore
	w *Workspace
}

func (r sessionRecorder) CompleteSession(ctx context.Context, userID, sessionID string, minutes int) error {
	if err := r.SessionStore.CompleteSession(ctx, userID, sessionID, minutes); err != nil {
		return err
	}
	r.w.emit(domain.EventSessionCompleted, map[string]any{"sessionId": sessionID, "duration": minutes})
	return nil
}

func (w *Workspace) emit(typ string, data any) {
	ev, err := domain.NewEvent(typ, w.identity.ID, data, w.deps.Runner.Now().UnixMilli())
	if err != nil {
		w.log.WithError(err).WithField("type", typ).Error("encode event")
		return
	}
	if w.deps.Events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), w.deps.RemoteTimeout)
		if err := w.deps.Events.Publish(ctx, ev); err != nil {
			w.log.WithError(err).WithField("type", typ).Debug("live event not delivered")
		}
		cancel()
	}
	if w.deps.Outbox != nil && outboxTypes[typ] {
		if err := w.deps.Outbox.Publish(ev); err != nil {
			w.log.WithError(err).WithField("type", typ).Warn("event not queued")
		}
	}
}
