package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the Kanban column a task belongs to.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

// Statuses lists every column in board order.
var Statuses = []Status{StatusTodo, StatusDoing, StatusDone}

// Valid reports whether s is one of the known columns.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusDone:
		return true
	}
	return false
}

// Rank is the position of the column on the board, used for stable listing.
func (s Status) Rank() int {
	switch s {
	case StatusDoing:
		return 1
	case StatusDone:
		return 2
	default:
		return 0
	}
}

// CognitiveLoad is the expected mental effort of a task.
type CognitiveLoad string

const (
	LoadLow    CognitiveLoad = "low"
	LoadMedium CognitiveLoad = "medium"
	LoadHigh   CognitiveLoad = "high"
)

func (l CognitiveLoad) Valid() bool {
	return l == LoadLow || l == LoadMedium || l == LoadHigh
}

// Subtask is a checklist entry embedded in its parent task.
type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Task represents a single board card.
type Task struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"userId"`
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	Status             Status        `json:"status"`
	CognitiveLoad      CognitiveLoad `json:"cognitiveLoad"`
	Tags               []string      `json:"tags"`
	EstimatedPomodoros int           `json:"estimatedPomodoros"`
	CompletedPomodoros int           `json:"completedPomodoros"`
	Subtasks           []Subtask     `json:"subtasks"`
	Order              int           `json:"order"`
	CreatedAt          time.Time     `json:"createdAt"`
	DueDate            *time.Time    `json:"dueDate,omitempty"`
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	c := t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.Subtasks != nil {
		c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	return c
}

// TaskDraft carries the fields of a task that does not exist yet.
type TaskDraft struct {
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	Status             Status        `json:"status"`
	CognitiveLoad      CognitiveLoad `json:"cognitiveLoad"`
	Tags               []string      `json:"tags"`
	EstimatedPomodoros int           `json:"estimatedPomodoros"`
	Subtasks           []Subtask     `json:"subtasks"`
	Order              int           `json:"order"`
	DueDate            *time.Time    `json:"dueDate,omitempty"`
}

// Validate checks the rules every new task must satisfy.
func (d TaskDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, d.Status)
	}
	if !d.CognitiveLoad.Valid() {
		return fmt.Errorf("%w: unknown cognitive load %q", ErrInvalidTask, d.CognitiveLoad)
	}
	if d.EstimatedPomodoros < 1 {
		return fmt.Errorf("%w: estimated pomodoros must be positive", ErrInvalidTask)
	}
	return nil
}

// NewTask materialises a draft for the given user.
func (d TaskDraft) NewTask(id, userID string, createdAt time.Time) Task {
	t := Task{
		ID:                 id,
		UserID:             userID,
		Title:              d.Title,
		Description:        d.Description,
		Status:             d.Status,
		CognitiveLoad:      d.CognitiveLoad,
		Tags:               append([]string{}, d.Tags...),
		EstimatedPomodoros: d.EstimatedPomodoros,
		Subtasks:           append([]Subtask{}, d.Subtasks...),
		Order:              d.Order,
		CreatedAt:          createdAt,
	}
	if d.DueDate != nil {
		due := *d.DueDate
		t.DueDate = &due
	}
	return t
}

// TaskPatch carries a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	Title              *string        `json:"title,omitempty"`
	Description        *string        `json:"description,omitempty"`
	Status             *Status        `json:"status,omitempty"`
	CognitiveLoad      *CognitiveLoad `json:"cognitiveLoad,omitempty"`
	Tags               *[]string      `json:"tags,omitempty"`
	EstimatedPomodoros *int           `json:"estimatedPomodoros,omitempty"`
	CompletedPomodoros *int           `json:"completedPomodoros,omitempty"`
	Subtasks           *[]Subtask     `json:"subtasks,omitempty"`
	Order              *int           `json:"order,omitempty"`
	DueDate            *time.Time     `json:"dueDate,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.CognitiveLoad == nil &&
		p.Tags == nil && p.EstimatedPomodoros == nil && p.CompletedPomodoros == nil &&
		p.Subtasks == nil && p.Order == nil && p.DueDate == nil
}

// Validate checks the patch against the task it will be applied to.
func (p TaskPatch) Validate(current Task) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, *p.Status)
	}
	if p.CognitiveLoad != nil && !p.CognitiveLoad.Valid() {
		return fmt.Errorf("%w: unknown cognitive load %q", ErrInvalidTask, *p.CognitiveLoad)
	}
	if p.EstimatedPomodoros != nil && *p.EstimatedPomodoros < 1 {
		return fmt.Errorf("%w: estimated pomodoros must be positive", ErrInvalidTask)
	}
	if p.CompletedPomodoros != nil && *p.CompletedPomodoros < current.CompletedPomodoros {
		return fmt.Errorf("%w: completed pomodoros cannot decrease", ErrInvalidTask)
	}
	return nil
}

// Apply shallow-merges the patch into t and returns the result.
func (p TaskPatch) Apply(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.CognitiveLoad != nil {
		out.CognitiveLoad = *p.CognitiveLoad
	}
	if p.Tags != nil {
		out.Tags = append([]string{}, (*p.Tags)...)
	}
	if p.EstimatedPomodoros != nil {
		out.EstimatedPomodoros = *p.EstimatedPomodoros
	}
	if p.CompletedPomodoros != nil {
		out.CompletedPomodoros = *p.CompletedPomodoros
	}
	if p.Subtasks != nil {
		out.Subtasks = append([]Subtask{}, (*p.Subtasks)...)
	}
	if p.Order != nil {
		out.Order = *p.Order
	}
	if p.DueDate != nil {
		due := *p.DueDate
		out.DueDate = &due
	}
	return out
}

// NormalizeTags lowercases and trims tags, dropping empties and duplicates
// while keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
