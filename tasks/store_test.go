package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"mind-ease/domain"
	"mind-ease/optimistic"
)

type stubBackend struct {
	mu sync.Mutex

	listTasksFn   func(ctx context.Context, userID string) ([]domain.Task, error)
	createTaskFn  func(ctx context.Context, userID string, draft domain.TaskDraft) (domain.Task, error)
	updateTaskFn  func(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error
	deleteTaskFn  func(ctx context.Context, userID, taskID string) error
	moveTaskFn    func(ctx context.Context, userID, taskID string, status domain.Status, order int) error
	setSubtasksFn func(ctx context.Context, userID, taskID string, subtasks []domain.Subtask) error
	incrementFn   func(ctx context.Context, userID, taskID string, previous int) error
	reorderFn     func(ctx context.Context, userID string, changes []OrderChange) error

	calls []string
}

func (s *stubBackend) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *stubBackend) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	s.record("ListTasks")
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, userID)
}

func (s *stubBackend) CreateTask(ctx context.Context, userID string, draft domain.TaskDraft) (domain.Task, error) {
	s.record("CreateTask")
	if s.createTaskFn == nil {
		return domain.Task{}, errors.New("unexpected CreateTask call")
	}
	return s.createTaskFn(ctx, userID, draft)
}

func (s *stubBackend) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	s.record("UpdateTask")
	if s.updateTaskFn == nil {
		return errors.New("unexpected UpdateTask call")
	}
	return s.updateTaskFn(ctx, userID, taskID, patch)
}

func (s *stubBackend) DeleteTask(ctx context.Context, userID, taskID string) error {
	s.record("DeleteTask")
	if s.deleteTaskFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return s.deleteTaskFn(ctx, userID, taskID)
}

func (s *stubBackend) MoveTask(ctx context.Context, userID, taskID string, status domain.Status, order int) error {
	s.record("MoveTask")
	if s.moveTaskFn == nil {
		return errors.New("unexpected MoveTask call")
	}
	return s.moveTaskFn(ctx, userID, taskID, status, order)
}

func (s *stubBackend) SetSubtasks(ctx context.Context, userID, taskID string, subtasks []domain.Subtask) error {
	s.record("SetSubtasks")
	if s.setSubtasksFn == nil {
		return errors.New("unexpected SetSubtasks call")
	}
	return s.setSubtasksFn(ctx, userID, taskID, subtasks)
}

func (s *stubBackend) IncrementCompletedPomodoro(ctx context.Context, userID, taskID string, previous int) error {
	s.record("IncrementCompletedPomodoro")
	if s.incrementFn == nil {
		return errors.New("unexpected IncrementCompletedPomodoro call")
	}
	return s.incrementFn(ctx, userID, taskID, previous)
}

func (s *stubBackend) ReorderTasks(ctx context.Context, userID string, changes []OrderChange) error {
	s.record("ReorderTasks")
	if s.reorderFn == nil {
		return errors.New("unexpected ReorderTasks call")
	}
	return s.reorderFn(ctx, userID, changes)
}

func (s *stubBackend) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

func seed() []domain.Task {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return []domain.Task{
		{ID: "t1", UserID: "u1", Title: "Plan", Status: domain.StatusTodo, CognitiveLoad: domain.LoadLow, EstimatedPomodoros: 1, Order: 0, CreatedAt: created},
		{ID: "t2", UserID: "u1", Title: "Write", Status: domain.StatusTodo, CognitiveLoad: domain.LoadHigh, EstimatedPomodoros: 3, Order: 1, CreatedAt: created},
		{ID: "t3", UserID: "u1", Title: "Review", Status: domain.StatusDoing, CognitiveLoad: domain.LoadMedium, EstimatedPomodoros: 2, CompletedPomodoros: 1, Order: 0, CreatedAt: created},
	}
}

func loadedStore(t *testing.T, b *stubBackend) *Store {
	t.Helper()
	if b.listTasksFn == nil {
		b.listTasksFn = func(ctx context.Context, userID string) ([]domain.Task, error) { return seed(), nil }
	}
	s := New(b, "u1")
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func ids(tasks []domain.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func draft(title string, status domain.Status) domain.TaskDraft {
	return domain.TaskDraft{Title: title, Status: status, CognitiveLoad: domain.LoadLow, EstimatedPomodoros: 1}
}

func TestAddTaskReplacesProvisionalEntry(t *testing.T) {
	b := &stubBackend{}
	s := loadedStore(t, b)

	var seenOrder int
	b.createTaskFn = func(ctx context.Context, userID string, d domain.TaskDraft) (domain.Task, error) {
		seenOrder = d.Order
		if _, ok := s.Task("t1"); !ok {
			t.Fatalf("store lost existing tasks")
		}
		provisional := 0
		for _, task := range s.Tasks() {
			if IsProvisional(task.ID) {
				provisional++
			}
		}
		if provisional != 1 {
			t.Fatalf("expected provisional entry during create, got %d", provisional)
		}
		return d.NewTask("srv-1", userID, time.Now()), nil
	}

	res := s.AddTask(context.Background(), draft("Read", domain.StatusTodo))
	if res.Outcome != optimistic.Applied || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if seenOrder != 2 {
		t.Fatalf("expected order 2 (column length), got %d", seenOrder)
	}
	if diff := cmp.Diff([]string{"t1", "t2", "srv-1"}, ids(s.Column(domain.StatusTodo))); diff != "" {
		t.Fatalf("unexpected todo column (-want +got):\n%s", diff)
	}
}

func TestAddTaskFailureRemovesProvisionalEntry(t *testing.T) {
	b := &stubBackend{
		createTaskFn: func(ctx context.Context, userID string, d domain.TaskDraft) (domain.Task, error) {
			return domain.Task{}, errors.New("network down")
		},
	}
	s := loadedStore(t, b)

	res := s.AddTask(context.Background(), draft("Read", domain.StatusDoing))
	if res.Outcome != optimistic.RolledBack {
		t.Fatalf("expected rollback, got %v", res.Outcome)
	}
	if !errors.Is(res.Err, domain.ErrCreateTask) {
		t.Fatalf("expected ErrCreateTask, got %v", res.Err)
	}
	if diff := cmp.Diff(ids(seed()), ids(s.Tasks())); diff != "" {
		t.Fatalf("store not rolled back (-want +got):\n%s", diff)
	}
}

func TestAddTaskRejectsInvalidDraft(t *testing.T) {
	b := &stubBackend{}
	s := loadedStore(t, b)
	res := s.AddTask(context.Background(), draft("", domain.StatusTodo))
	if !errors.Is(res.Err, domain.ErrInvalidTask) || b.callCount("CreateTask") != 0 {
		t.Fatalf("expected invalid task without remote call, got %+v", res)
	}
}

func TestMoveTaskToSameStatusIsNoop(t *testing.T) {
	b := &stubBackend{}
	s := loadedStore(t, b)
	before := s.Tasks()

	res := s.MoveTaskTo(context.Background(), "t2", domain.StatusTodo)
	if res.Outcome != optimistic.Skipped || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if b.callCount("MoveTask") != 0 {
		t.Fatalf("expected no persistence call")
	}
	if diff := cmp.Diff(before, s.Tasks()); diff != "" {
		t.Fatalf("store changed (-want +got):\n%s", diff)
	}
}

func TestMoveTaskToAppendsToColumn(t *testing.T) {
	var gotStatus domain.Status
	var gotOrder int
	b := &stubBackend{
		moveTaskFn: func(ctx context.Context, userID, taskID string, status domain.Status, order int) error {
			gotStatus, gotOrder = status, order
			return nil
		},
	}
	var events []string
	b.listTasksFn = func(ctx context.Context, userID string) ([]domain.Task, error) { return seed(), nil }
	s := New(b, "u1", WithEvents(func(typ string, data any) { events = append(events, typ) }))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	res := s.MoveTaskTo(context.Background(), "t1", domain.StatusDoing)
	if res.Outcome != optimistic.Applied {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotStatus != domain.StatusDoing || gotOrder != 1 {
		t.Fatalf("unexpected persisted move %s/%d", gotStatus, gotOrder)
	}
	if diff := cmp.Diff([]string{"t3", "t1"}, ids(s.Column(domain.StatusDoing))); diff != "" {
		t.Fatalf("unexpected doing column (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{domain.EventTaskMoved}, events); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
}

func TestMoveTaskToFailureRefetches(t *testing.T) {
	b := &stubBackend{
		moveTaskFn: func(ctx context.Context, userID, taskID string, status domain.Status, order int) error {
			return errors.New("boom")
		},
	}
	s := loadedStore(t, b)

	res := s.MoveTaskTo(context.Background(), "t1", domain.StatusDone)
	if res.Outcome != optimistic.Resynced || !errors.Is(res.Err, domain.ErrUpdateTask) {
		t.Fatalf("unexpected result %+v", res)
	}
	if b.callCount("ListTasks") != 2 {
		t.Fatalf("expected refetch, ListTasks calls=%d", b.callCount("ListTasks"))
	}
	if task, _ := s.Task("t1"); task.Status != domain.StatusTodo {
		t.Fatalf("expected server state after refetch, got %s", task.Status)
	}
}

func TestMoveUnknownTask(t *testing.T) {
	b := &stubBackend{}
	s := loadedStore(t, b)
	if res := s.MoveTaskTo(context.Background(), "nope", domain.StatusDone); !errors.Is(res.Err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %+v", res)
	}
}

func TestEditTaskFailureRefetchesAndReports(t *testing.T) {
	b := &stubBackend{
		updateTaskFn: func(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
			return errors.New("timeout")
		},
	}
	s := loadedStore(t, b)
	title := "Renamed"

	res := s.EditTask(context.Background(), "t2", domain.TaskPatch{Title: &title})
	if res.Outcome != optimistic.Resynced || !errors.Is(res.Err, domain.ErrUpdateTask) {
		t.Fatalf("unexpected result %+v", res)
	}
	if task, _ := s.Task("t2"); task.Title != "Write" {
		t.Fatalf("expected refetched title, got %q", task.Title)
	}
}

func TestEditTaskMergesFields(t *testing.T) {
	var got domain.TaskPatch
	b := &stubBackend{
		updateTaskFn: func(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
			got = patch
			return nil
		},
	}
	s := loadedStore(t, b)
	desc := "with notes"

	res := s.EditTask(context.Background(), "t2", domain.TaskPatch{Description: &desc})
	if res.Outcome != optimistic.Applied {
		t.Fatalf("unexpected result %+v", res)
	}
	task, _ := s.Task("t2")
	if task.Description != desc || task.Title != "Write" {
		t.Fatalf("unexpected merge %+v", task)
	}
	if got.Description == nil || *got.Description != desc || got.Title != nil {
		t.Fatalf("unexpected persisted patch %+v", got)
	}
}

func TestEditTaskNormalizesTags(t *testing.T) {
	var got domain.TaskPatch
	b := &stubBackend{
		updateTaskFn: func(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
			got = patch
			return nil
		},
	}
	s := loadedStore(t, b)
	tags := []string{" Focus", "focus", "FOCUS", "  "}

	res := s.EditTask(context.Background(), "t1", domain.TaskPatch{Tags: &tags})
	if res.Outcome != optimistic.Applied {
		t.Fatalf("unexpected result %+v", res)
	}
	task, _ := s.Task("t1")
	if diff := cmp.Diff([]string{"focus"}, task.Tags); diff != "" {
		t.Fatalf("unexpected local tags (-want +got):\n%s", diff)
	}
	if got.Tags == nil {
		t.Fatalf("expected tags in persisted patch")
	}
	if diff := cmp.Diff([]string{"focus"}, *got.Tags); diff != "" {
		t.Fatalf("unexpected persisted tags (-want +got):\n%s", diff)
	}
	if tags[0] != " Focus" {
		t.Fatalf("caller's slice must not be rewritten, got %q", tags)
	}
}

func TestRemoveTaskFailureRestoresSnapshot(t *testing.T) {
	b := &stubBackend{
		deleteTaskFn: func(ctx context.Context, userID, taskID string) error { return errors.New("denied") },
	}
	s := loadedStore(t, b)
	before := s.Tasks()

	res := s.RemoveTask(context.Background(), "t2")
	if res.Outcome != optimistic.RolledBack || !errors.Is(res.Err, domain.ErrRemoveTask) {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff(before, s.Tasks()); diff != "" {
		t.Fatalf("snapshot not restored (-want +got):\n%s", diff)
	}
}

func TestRemoveTask(t *testing.T) {
	b := &stubBackend{
		deleteTaskFn: func(ctx context.Context, userID, taskID string) error { return nil },
	}
	s := loadedStore(t, b)
	if res := s.RemoveTask(context.Background(), "t1"); res.Outcome != optimistic.Applied {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, ok := s.Task("t1"); ok {
		t.Fatalf("task still present")
	}
}

func TestIncrementCompletedPomodoroPassesPreviousCount(t *testing.T) {
	var previous int
	b := &stubBackend{
		incrementFn: func(ctx context.Context, userID, taskID string, prev int) error {
			previous = prev
			return nil
		},
	}
	s := loadedStore(t, b)

	res := s.IncrementCompletedPomodoro(context.Background(), "t3")
	if res.Outcome != optimistic.Applied || res.Value.CompletedPomodoros != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if previous != 1 {
		t.Fatalf("expected previous count 1, got %d", previous)
	}
}

func TestIncrementCompletedPomodoroFailureRefetches(t *testing.T) {
	b := &stubBackend{
		incrementFn: func(ctx context.Context, userID, taskID string, prev int) error {
			return domain.ErrConcurrencyConflict
		},
	}
	s := loadedStore(t, b)

	res := s.IncrementCompletedPomodoro(context.Background(), "t3")
	if res.Outcome != optimistic.Resynced || !errors.Is(res.Err, domain.ErrConcurrencyConflict) {
		t.Fatalf("unexpected result %+v", res)
	}
	if task, _ := s.Task("t3"); task.CompletedPomodoros != 1 {
		t.Fatalf("expected refetched count 1, got %d", task.CompletedPomodoros)
	}
}

func TestSetSubtasksReplacesWholeList(t *testing.T) {
	var remote []domain.Subtask
	b := &stubBackend{}
	b.listTasksFn = func(ctx context.Context, userID string) ([]domain.Task, error) {
		list := seed()
		list[0].Subtasks = []domain.Subtask{{ID: "old", Title: "stale"}}
		if remote != nil {
			list[0].Subtasks = append([]domain.Subtask(nil), remote...)
		}
		return list, nil
	}
	b.setSubtasksFn = func(ctx context.Context, userID, taskID string, subtasks []domain.Subtask) error {
		remote = append([]domain.Subtask(nil), subtasks...)
		return nil
	}
	s := loadedStore(t, b)

	want := []domain.Subtask{{ID: "a", Title: "outline", Completed: true}, {ID: "b", Title: "draft"}}
	if res := s.SetSubtasks(context.Background(), "t1", want); res.Outcome != optimistic.Applied {
		t.Fatalf("unexpected result %+v", res)
	}
	task, _ := s.Task("t1")
	if diff := cmp.Diff(want, task.Subtasks); diff != "" {
		t.Fatalf("unexpected local subtasks (-want +got):\n%s", diff)
	}

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	task, _ = s.Task("t1")
	if diff := cmp.Diff(want, task.Subtasks); diff != "" {
		t.Fatalf("unexpected reloaded subtasks (-want +got):\n%s", diff)
	}
}

func TestReorderColumn(t *testing.T) {
	var got []OrderChange
	b := &stubBackend{
		reorderFn: func(ctx context.Context, userID string, changes []OrderChange) error {
			got = changes
			return nil
		},
	}
	s := loadedStore(t, b)

	res := s.Reorder(context.Background(), domain.StatusTodo, []string{"t2", "t1"})
	if res.Outcome != optimistic.Applied {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []OrderChange{{ID: "t2", Order: 0}, {ID: "t1", Order: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected changes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"t2", "t1"}, ids(s.Column(domain.StatusTodo))); diff != "" {
		t.Fatalf("unexpected column (-want +got):\n%s", diff)
	}

	if res := s.Reorder(context.Background(), domain.StatusTodo, []string{"t3"}); !errors.Is(res.Err, domain.ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask for foreign task, got %+v", res)
	}
}

func TestLoadFailureIsPersistentState(t *testing.T) {
	fail := true
	b := &stubBackend{
		listTasksFn: func(ctx context.Context, userID string) ([]domain.Task, error) {
			if fail {
				return nil, errors.New("offline")
			}
			return seed(), nil
		},
	}
	s := New(b, "u1")

	if err := s.Load(context.Background()); !errors.Is(err, domain.ErrLoadTasks) {
		t.Fatalf("expected ErrLoadTasks, got %v", err)
	}
	if !errors.Is(s.Err(), domain.ErrLoadTasks) || s.Loaded() {
		t.Fatalf("expected persistent load error, err=%v loaded=%v", s.Err(), s.Loaded())
	}
	if b.callCount("ListTasks") != 1 {
		t.Fatalf("expected no automatic retry")
	}

	fail = false
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("manual reload: %v", err)
	}
	if s.Err() != nil || len(s.Tasks()) != 3 {
		t.Fatalf("expected recovered state, err=%v tasks=%d", s.Err(), len(s.Tasks()))
	}
}

func TestSupersededLoadIsDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var n int
	var mu sync.Mutex
	b := &stubBackend{
		listTasksFn: func(ctx context.Context, userID string) ([]domain.Task, error) {
			mu.Lock()
			n++
			call := n
			mu.Unlock()
			if call == 1 {
				close(entered)
				<-release
				return []domain.Task{{ID: "stale", Status: domain.StatusTodo}}, nil
			}
			return seed(), nil
		},
	}
	s := New(b, "u1")

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background()) }()
	<-entered
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("second load: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first load: %v", err)
	}

	if diff := cmp.Diff(ids(seed()), ids(s.Tasks())); diff != "" {
		t.Fatalf("stale fetch applied (-want +got):\n%s", diff)
	}
}

func TestOperationsWithoutUserAreNoops(t *testing.T) {
	b := &stubBackend{}
	s := New(b, "")
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if res := s.AddTask(context.Background(), draft("x", domain.StatusTodo)); !errors.Is(res.Err, domain.ErrNoUser) {
		t.Fatalf("expected ErrNoUser, got %+v", res)
	}
	if res := s.MoveTaskTo(context.Background(), "t1", domain.StatusDone); !errors.Is(res.Err, domain.ErrNoUser) {
		t.Fatalf("expected ErrNoUser, got %+v", res)
	}
	if len(b.calls) != 0 || len(s.Tasks()) != 0 {
		t.Fatalf("expected no backend calls, got %v", b.calls)
	}
}

func TestFailedWriteIsLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	b := &stubBackend{
		listTasksFn:  func(ctx context.Context, userID string) ([]domain.Task, error) { return seed(), nil },
		deleteTaskFn: func(ctx context.Context, userID, taskID string) error { return errors.New("denied") },
	}
	s := New(b, "u1", WithLogger(logger.WithField("component", "tasks")))
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.RemoveTask(context.Background(), "t1")

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "remote task write failed" {
		t.Fatalf("expected warning entry, got %+v", entry)
	}
	if entry.Data["outcome"] != "rolled-back" || entry.Data["task"] != "t1" {
		t.Fatalf("unexpected fields %v", entry.Data)
	}
}
