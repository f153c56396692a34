// Package tasks holds the in-memory task list of one user and keeps it in
// sync with a remote task store using optimistic updates.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"mind-ease/domain"
	"mind-ease/optimistic"
)

// ProvisionalPrefix marks ids assigned locally before the remote store
// confirms a new task.
const ProvisionalPrefix = "optimistic-"

// OrderChange assigns a new position to a task within its column.
type OrderChange struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// Persistence is the remote task store.
type Persistence interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, userID string, draft domain.TaskDraft) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, userID, taskID string) error
	MoveTask(ctx context.Context, userID, taskID string, status domain.Status, order int) error
	SetSubtasks(ctx context.Context, userID, taskID string, subtasks []domain.Subtask) error
	IncrementCompletedPomodoro(ctx context.Context, userID, taskID string, previous int) error
	ReorderTasks(ctx context.Context, userID string, changes []OrderChange) error
}

// EventFunc receives a notification after a change has been confirmed or
// local state has been resynchronised.
type EventFunc func(typ string, data any)

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *log.Entry) Option { return func(s *Store) { s.log = l } }

func WithEvents(fn EventFunc) Option { return func(s *Store) { s.events = fn } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Store is the local task collection of a single user.
type Store struct {
	backend Persistence
	userID  string
	log     *log.Entry
	events  EventFunc
	now     func() time.Time

	mu      sync.Mutex
	tasks   []domain.Task
	loaded  bool
	loadErr error
	gen     uint64
	closed  bool
}

// New returns a store for userID. An empty userID makes every operation a
// no-op.
func New(backend Persistence, userID string, opts ...Option) *Store {
	if backend == nil {
		panic("tasks.New: persistence is nil")
	}
	s := &Store{backend: backend, userID: userID, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.WithField("component", "tasks")
	}
	s.log = s.log.WithField("user", userID)
	return s
}

func (s *Store) UserID() string { return s.userID }

// Load fetches the task list. A newer Load or a Close discards the result of
// an older one. A failed load is kept as the store's error state until the
// next successful load; there is no automatic retry.
func (s *Store) Load(ctx context.Context) error {
	if s.userID == "" {
		return nil
	}
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	list, err := s.backend.ListTasks(ctx, s.userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		s.log.WithField("generation", gen).Debug("discarding superseded task fetch")
		return nil
	}
	if err != nil {
		s.loadErr = fmt.Errorf("%w: %w", domain.ErrLoadTasks, err)
		s.log.WithError(err).Error("load tasks")
		return s.loadErr
	}
	s.tasks = make([]domain.Task, 0, len(list))
	for _, t := range list {
		s.tasks = append(s.tasks, t.Clone())
	}
	s.loaded = true
	s.loadErr = nil
	return nil
}

// Err returns the load failure state, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// Loaded reports whether at least one load has succeeded.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Close discards results of fetches still in flight.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.gen++
	s.mu.Unlock()
}

// Tasks returns a copy of every task in insertion order.
func (s *Store) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Task returns a copy of the task with id.
func (s *Store) Task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.tasks[i].Clone(), true
	}
	return domain.Task{}, false
}

// Column returns the tasks in status ordered by position. Equal positions
// keep insertion order.
func (s *Store) Column(status domain.Status) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Task) int { return a.Order - b.Order })
	return out
}

// Count returns the number of tasks in status.
func (s *Store) Count(status domain.Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(status)
}

// AddTask inserts the draft under a provisional id and creates it remotely.
// The draft's order is replaced by the current length of its column. On
// success the provisional entry is swapped for the persisted task; on failure
// it is removed and ErrCreateTask is reported.
func (s *Store) AddTask(ctx context.Context, draft domain.TaskDraft) optimistic.Result[domain.Task] {
	if s.userID == "" {
		return optimistic.Fail[domain.Task](domain.ErrNoUser)
	}
	if err := draft.Validate(); err != nil {
		return optimistic.Fail[domain.Task](err)
	}
	provisional := ProvisionalPrefix + uuid.NewString()
	res := optimistic.Run(optimistic.Mutation[struct{}, domain.Task]{
		Local: func() (domain.Task, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			draft.Order = s.countLocked(draft.Status)
			t := draft.NewTask(provisional, s.userID, s.now())
			s.tasks = append(s.tasks, t)
			return t.Clone(), nil
		},
		Remote: func(domain.Task) (domain.Task, error) {
			return s.backend.CreateTask(ctx, s.userID, draft)
		},
		Confirm: func(created domain.Task) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.replaceProvisionalLocked(provisional, created)
		},
		Restore: func(struct{}) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if i := s.indexLocked(provisional); i >= 0 {
				s.tasks = slices.Delete(s.tasks, i, i+1)
			}
		},
		Wrap: wrap(domain.ErrCreateTask),
	})
	s.finish("add task", provisional, domain.EventTaskCreated, res.Value, res.Outcome, res.Err)
	return res
}

// MoveTaskTo puts the task at the end of newStatus. Moving a task to the
// column it is already in changes nothing and is not persisted. On failure
// the whole list is refetched.
func (s *Store) MoveTaskTo(ctx context.Context, id string, newStatus domain.Status) optimistic.Result[domain.Task] {
	if s.userID == "" {
		return optimistic.Fail[domain.Task](domain.ErrNoUser)
	}
	if !newStatus.Valid() {
		return optimistic.Fail[domain.Task](fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTask, newStatus))
	}
	res := optimistic.Run(optimistic.Mutation[struct{}, domain.Task]{
		Local: func() (domain.Task, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			i := s.indexLocked(id)
			if i < 0 {
				return domain.Task{}, domain.ErrTaskNotFound
			}
			if s.tasks[i].Status == newStatus {
				return domain.Task{}, optimistic.ErrNoop
			}
			s.tasks[i].Order = s.countLocked(newStatus)
			s.tasks[i].Status = newStatus
			return s.tasks[i].Clone(), nil
		},
		Remote: func(t domain.Task) (domain.Task, error) {
			return t, s.backend.MoveTask(ctx, s.userID, id, t.Status, t.Order)
		},
		Refetch:  func() { s.resync(ctx) },
		Recovery: optimistic.Refetch,
		Wrap:     wrap(domain.ErrUpdateTask),
	})
	s.finish("move task", id, domain.EventTaskMoved, res.Value, res.Outcome, res.Err)
	return res
}

// EditTask shallow-merges patch into the task. On failure the whole list is
// refetched and ErrUpdateTask is reported.
func (s *Store) EditTask(ctx context.Context, id string, patch domain.TaskPatch) optimistic.Result[domain.Task] {
	if s.userID == "" {
		return optimistic.Fail[domain.Task](domain.ErrNoUser)
	}
	if patch.Tags != nil {
		tags := domain.NormalizeTags(*patch.Tags)
		patch.Tags = &tags
	}
	res := optimistic.Run(optimistic.Mutation[struct{}, domain.Task]{
		Local: func() (domain.Task, error) {
			if patch.Empty() {
				return domain.Task{}, optimistic.ErrNoop
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			i := s.indexLocked(id)
			if i < 0 {
				return domain.Task{}, domain.ErrTaskNotFound
			}
			if err := patch.Validate(s.tasks[i]); err != nil {
				return domain.Task{}, err
			}
			s.tasks[i] = patch.Apply(s.tasks[i])
			return s.tasks[i].Clone(), nil
		},
		Remote: func(t domain.Task) (domain.Task, error) {
			return t, s.backend.UpdateTask(ctx, s.userID, id, patch)
		},
		Refetch:  func() { s.resync(ctx) },
		Recovery: optimistic.Refetch,
		Wrap:     wrap(domain.ErrUpdateTask),
	})
	s.finish("edit task", id, domain.EventTaskUpdated, res.Value, res.Outcome, res.Err)
	return res
}

// RemoveTask deletes the task. On failure the list as it was before the
// removal is restored and ErrRemoveTask is reported.
func (s *Store) RemoveTask(ctx context.Context, id string) optimistic.Result[domain.Task] {
	if s.userID == "" {
		return optimistic.Fail[domain.Task](domain.ErrNoUser)
	}
	var snapshot []domain.Task
	res := optimistic.Run(optimistic.Mutation[struct{}, domain.Task]{
		Local: func() (domain.Task, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			i := s.indexLocked(id)
			if i < 0 {
				return domain.Task{}, domain.ErrTaskNotFound
			}
			snapshot = slices.Clone(s.tasks)
			removed := s.tasks[i]
			s.tasks = slices.Delete(slices.Clone(s.tasks), i, i+1)
			return removed, nil
		},
		Remote: func(t domain.Task) (domain.Task, error) {
			return t, s.backend.DeleteTask(ctx, s.userID, id)
		},
		Restore: func(struct{}) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.tasks = snapshot
		},
		Wrap: wrap(domain.ErrRemoveTask),
	})
	s.finish("remove task", id, domain.EventTaskDeleted, res.Value, res.Outcome, res.Err)
	return res
}

// IncrementCompletedPomodoro adds one to the task's completed count. The
// remote store receives the count before the increment. On failure the
// whole list is refetched.
func (s *Store) IncrementCompletedPomodoro(ctx context.Context, id string) optimistic.Result[domain.Task] {
	if s.userID == "" {
		return optimistic.Fail[domain.Task](domain.ErrNoUser)
	}
	var previous int
	res := optimistic.Run(optimistic.Mutation[struct{}, domain.Task]{
		Local: func() (domain.Task, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			i := s.indexLocked(id)
			if i < 0 {
				return domain.Task{}, domain.ErrTaskNotFound
			}
			previous = s.tasks[i].CompletedPomodoros
			s.tasks[i].CompletedPomodoros = previous + 1
			return s.tasks[i].Clone(), nil
		},
		Remote: func(t domain.Task) (domain.Task, error) {
			return t, s.backend.IncrementCompletedPomodoro(ctx, s.userID, id, previous)
		},
		Refetch:  func() { s.resync(ctx) },
		Recovery: optimistic.Refetch,
		Wrap:     wrap(domain.ErrUpdateTask),
	})
	s.finish("increment pomodoro", id, domain.EventTaskUpdated, res.Value, res.Outcome, res.Err)
	return res
}

// SetSubtasks replaces the task's whole subtask list. On failure the whole
// list is refetched.
func (s *Store) SetSubtasks(ctx context.Context, id string, subtasks []domain.Subtask) optimistic.Result[domain.Task] {
	if s.userID == "" {
		return optimistic.Fail[domain.Task](domain.ErrNoUser)
	}
	list := append([]domain.Subtask{}, subtasks...)
	res := optimistic.Run(optimistic.Mutation[struct{}, domain.Task]{
		Local: func() (domain.Task, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			i := s.indexLocked(id)
			if i < 0 {
				return domain.Task{}, domain.ErrTaskNotFound
			}
			s.tasks[i].Subtasks = slices.Clone(list)
			return s.tasks[i].Clone(), nil
		},
		Remote: func(t domain.Task) (domain.Task, error) {
			return t, s.backend.SetSubtasks(ctx, s.userID, id, list)
		},
		Refetch:  func() { s.resync(ctx) },
		Recovery: optimistic.Refetch,
		Wrap:     wrap(domain.ErrUpdateTask),
	})
	s.finish("set subtasks", id, domain.EventTaskUpdated, res.Value, res.Outcome, res.Err)
	return res
}

// Reorder assigns positions 0..n-1 to ids inside status, persisted as one
// batch. Every id must belong to the column. On failure the whole list is
// refetched.
func (s *Store) Reorder(ctx context.Context, status domain.Status, ids []string) optimistic.Result[[]OrderChange] {
	if s.userID == "" {
		return optimistic.Fail[[]OrderChange](domain.ErrNoUser)
	}
	res := optimistic.Run(optimistic.Mutation[struct{}, []OrderChange]{
		Local: func() ([]OrderChange, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			idx := make([]int, len(ids))
			seen := make(map[string]struct{}, len(ids))
			for n, id := range ids {
				i := s.indexLocked(id)
				if i < 0 {
					return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
				}
				if s.tasks[i].Status != status {
					return nil, fmt.Errorf("%w: task %s is not in %s", domain.ErrInvalidTask, id, status)
				}
				if _, dup := seen[id]; dup {
					return nil, fmt.Errorf("%w: duplicate id %s", domain.ErrInvalidTask, id)
				}
				seen[id] = struct{}{}
				idx[n] = i
			}
			var changes []OrderChange
			for n, i := range idx {
				if s.tasks[i].Order == n {
					continue
				}
				s.tasks[i].Order = n
				changes = append(changes, OrderChange{ID: ids[n], Order: n})
			}
			if len(changes) == 0 {
				return nil, optimistic.ErrNoop
			}
			return changes, nil
		},
		Remote: func(changes []OrderChange) ([]OrderChange, error) {
			return changes, s.backend.ReorderTasks(ctx, s.userID, changes)
		},
		Refetch:  func() { s.resync(ctx) },
		Recovery: optimistic.Refetch,
		Wrap:     wrap(domain.ErrUpdateTask),
	})
	s.finish("reorder tasks", string(status), domain.EventTaskMoved, res.Value, res.Outcome, res.Err)
	return res
}

func (s *Store) resync(ctx context.Context) {
	if err := s.Load(ctx); err != nil {
		s.log.WithError(err).Warn("resync after failed mutation")
		return
	}
	s.emit(domain.EventTasksResynced, s.Tasks())
}

func (s *Store) finish(op, id, typ string, value any, outcome optimistic.Outcome, err error) {
	entry := s.log.WithFields(log.Fields{"op": op, "task": id, "outcome": outcome.String()})
	switch {
	case err != nil && (outcome == optimistic.RolledBack || outcome == optimistic.Resynced):
		entry.WithError(err).Warn("remote task write failed")
	case err != nil:
		entry.WithError(err).Debug("task mutation rejected")
	case outcome == optimistic.Applied:
		entry.Debug("task mutation applied")
		s.emit(typ, value)
	}
}

func (s *Store) emit(typ string, data any) {
	if s.events != nil {
		s.events(typ, data)
	}
}

func (s *Store) replaceProvisionalLocked(provisional string, created domain.Task) {
	i := s.indexLocked(provisional)
	if s.indexLocked(created.ID) >= 0 {
		if i >= 0 {
			s.tasks = slices.Delete(s.tasks, i, i+1)
		}
		return
	}
	if i < 0 {
		s.tasks = append(s.tasks, created.Clone())
		return
	}
	s.tasks[i] = created.Clone()
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.tasks, func(t domain.Task) bool { return t.ID == id })
}

func (s *Store) countLocked(status domain.Status) int {
	n := 0
	for _, t := range s.tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

func wrap(sentinel error) func(error) error {
	return func(err error) error {
		if errors.Is(err, sentinel) {
			return err
		}
		return fmt.Errorf("%w: %w", sentinel, err)
	}
}

// IsProvisional reports whether id was assigned locally and is still
// awaiting remote confirmation.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}
