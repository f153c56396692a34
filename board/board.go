// Package board projects a task store onto Kanban columns and applies the
// navigation profile's limits to drag and drop.
package board

import (
	"context"

	log "github.com/sirupsen/logrus"

	"mind-ease/domain"
	"mind-ease/optimistic"
	"mind-ease/profile"
	"mind-ease/tasks"
)

// Store is the part of the task store the board needs.
type Store interface {
	Task(id string) (domain.Task, bool)
	Column(status domain.Status) []domain.Task
	Count(status domain.Status) int
	AddTask(ctx context.Context, draft domain.TaskDraft) optimistic.Result[domain.Task]
	MoveTaskTo(ctx context.Context, id string, status domain.Status) optimistic.Result[domain.Task]
}

var _ Store = (*tasks.Store)(nil)

// Column is one rendered board column.
type Column struct {
	Status domain.Status `json:"status"`
	Tasks  []domain.Task `json:"tasks"`
	// Limit is the capacity shown for the column, zero when unlimited.
	Limit int `json:"limit,omitempty"`
}

// View is the whole board as rendered for the user.
type View struct {
	Columns    []Column       `json:"columns"`
	DoingCount int            `json:"doingCount"`
	DoingLimit int            `json:"doingLimit"`
	Config     profile.Config `json:"config"`
}

// Board mediates between the UI and the task store.
type Board struct {
	store Store
	cfg   profile.Config
	log   *log.Entry
}

// New returns a board over store constrained by cfg.
func New(store Store, cfg profile.Config, logger *log.Entry) *Board {
	if logger == nil {
		logger = log.WithField("component", "board")
	}
	return &Board{store: store, cfg: cfg, log: logger}
}

func (b *Board) Config() profile.Config { return b.cfg }

// Columns returns the visible statuses. Done is hidden on a simplified
// board; tasks already in done stay in the store.
func (b *Board) Columns() []domain.Status {
	if b.cfg.SimplifiedKanban {
		return []domain.Status{domain.StatusTodo, domain.StatusDoing}
	}
	return []domain.Status{domain.StatusTodo, domain.StatusDoing, domain.StatusDone}
}

// View renders the visible columns with their tasks in board order.
func (b *Board) View() View {
	v := View{
		DoingCount: b.store.Count(domain.StatusDoing),
		DoingLimit: b.cfg.MaxTasksInDoing,
		Config:     b.cfg,
	}
	for _, st := range b.Columns() {
		col := Column{Status: st, Tasks: b.store.Column(st)}
		if col.Tasks == nil {
			col.Tasks = []domain.Task{}
		}
		if st == domain.StatusDoing && b.cfg.ShowLimits {
			col.Limit = b.cfg.MaxTasksInDoing
		}
		v.Columns = append(v.Columns, col)
	}
	return v
}

// DropResult reports what a drop did.
type DropResult struct {
	Moved bool
	// Rejected is set when the doing column was full.
	Rejected bool
	Status   domain.Status
	Err      error
}

// CanDrop reports whether the task may enter status under the doing limit.
func (b *Board) CanDrop(task domain.Task, status domain.Status) bool {
	if status != domain.StatusDoing || task.Status == domain.StatusDoing {
		return true
	}
	return b.store.Count(domain.StatusDoing) < b.cfg.MaxTasksInDoing
}

// ResolveDrop handles a task dropped on target, which is either another
// task's id or a column id. Dropping on the task's own column does nothing.
// A drop into a full doing column is ignored without an error.
func (b *Board) ResolveDrop(ctx context.Context, taskID, target string) DropResult {
	task, ok := b.store.Task(taskID)
	if !ok {
		return DropResult{Err: domain.ErrTaskNotFound}
	}
	status := domain.Status(target)
	if other, ok := b.store.Task(target); ok {
		status = other.Status
	}
	entry := b.log.WithFields(log.Fields{"task": taskID, "target": target, "status": status})
	if !status.Valid() {
		entry.Debug("drop on unknown target ignored")
		return DropResult{Status: task.Status}
	}
	if status == task.Status {
		return DropResult{Status: task.Status}
	}
	if !b.CanDrop(task, status) {
		entry.WithField("limit", b.cfg.MaxTasksInDoing).Debug("doing column full, drop ignored")
		return DropResult{Rejected: true, Status: task.Status}
	}
	res := b.store.MoveTaskTo(ctx, taskID, status)
	if res.Err != nil {
		return DropResult{Status: status, Err: res.Err}
	}
	return DropResult{Moved: res.Outcome == optimistic.Applied, Status: status}
}

// CreateTask adds a task to the column the user is looking at, todo when
// none is given. Tags are normalised before the task is stored.
func (b *Board) CreateTask(ctx context.Context, statusContext domain.Status, draft domain.TaskDraft) optimistic.Result[domain.Task] {
	if draft.Status == "" {
		draft.Status = statusContext
	}
	if draft.Status == "" {
		draft.Status = domain.StatusTodo
	}
	if draft.CognitiveLoad == "" {
		draft.CognitiveLoad = domain.LoadMedium
	}
	if draft.EstimatedPomodoros == 0 {
		draft.EstimatedPomodoros = 1
	}
	draft.Tags = domain.NormalizeTags(draft.Tags)
	return b.store.AddTask(ctx, draft)
}
