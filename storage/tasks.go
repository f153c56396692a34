package storage

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"mind-ease/domain"
	"mind-ease/tasks"
)

// maxBatch is the entity limit of a single table transaction.
const maxBatch = 100

// ListTasks retrieves all tasks for the provided user.
func (s *Tables) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return listPartition(ctx, s.taskTable, userID, decodeTaskEntity)
}

// CreateTask stores a new task under a server generated id.
func (s *Tables) CreateTask(ctx context.Context, userID string, draft domain.TaskDraft) (domain.Task, error) {
	task := draft.NewTask(uuid.NewString(), userID, s.now().UTC())
	ent, err := newTaskEntity(task)
	if err != nil {
		return domain.Task{}, err
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (s *Tables) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	upd, err := newTaskUpdate(userID, taskID, patch)
	if err != nil {
		return err
	}
	return s.mergeTask(ctx, upd, azcore.ETagAny)
}

// DeleteTask removes a task. Deleting a missing task succeeds.
func (s *Tables) DeleteTask(ctx context.Context, userID, taskID string) error {
	et := azcore.ETagAny
	_, err := s.taskTable.DeleteEntity(ctx, userID, taskID, &aztables.DeleteEntityOptions{IfMatch: &et})
	if statusCode(err) == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *Tables) MoveTask(ctx context.Context, userID, taskID string, status domain.Status, order int) error {
	st := string(status)
	return s.mergeTask(ctx, taskUpdate{
		entity: entity{PartitionKey: userID, RowKey: taskID},
		Status: &st,
		Order:  &order,
	}, azcore.ETagAny)
}

func (s *Tables) SetSubtasks(ctx context.Context, userID, taskID string, subtasks []domain.Subtask) error {
	upd, err := newTaskUpdate(userID, taskID, domain.TaskPatch{Subtasks: &subtasks})
	if err != nil {
		return err
	}
	return s.mergeTask(ctx, upd, azcore.ETagAny)
}

// IncrementCompletedPomodoro sets the completed count to previous+1 only if
// the stored count still equals previous.
func (s *Tables) IncrementCompletedPomodoro(ctx context.Context, userID, taskID string, previous int) error {
	resp, err := s.taskTable.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		return mapErr(err, domain.ErrTaskNotFound)
	}
	var current struct {
		CompletedPomodoros int `json:"CompletedPomodoros"`
	}
	if err := sonic.Unmarshal(resp.Value, &current); err != nil {
		return err
	}
	if current.CompletedPomodoros != previous {
		return fmt.Errorf("%w: task %s has %d completed pomodoros, expected %d",
			domain.ErrConcurrencyConflict, taskID, current.CompletedPomodoros, previous)
	}
	next := previous + 1
	return s.mergeTask(ctx, taskUpdate{
		entity:             entity{PartitionKey: userID, RowKey: taskID},
		CompletedPomodoros: &next,
	}, resp.ETag)
}

// ReorderTasks writes the new positions in as few transactions as possible.
func (s *Tables) ReorderTasks(ctx context.Context, userID string, changes []tasks.OrderChange) error {
	et := azcore.ETagAny
	for start := 0; start < len(changes); start += maxBatch {
		end := min(start+maxBatch, len(changes))
		actions := make([]aztables.TransactionAction, 0, end-start)
		for _, c := range changes[start:end] {
			order := c.Order
			payload, err := sonic.Marshal(taskUpdate{
				entity: entity{PartitionKey: userID, RowKey: c.ID},
				Order:  &order,
			})
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeUpdateMerge,
				Entity:     payload,
				IfMatch:    &et,
			})
		}
		if _, err := s.taskTable.SubmitTransaction(ctx, actions, nil); err != nil {
			logger(ctx).WithError(err).WithField("user", userID).Warn("reorder batch failed")
			return mapErr(err, domain.ErrTaskNotFound)
		}
	}
	return nil
}

func (s *Tables) mergeTask(ctx context.Context, upd taskUpdate, etag azcore.ETag) error {
	payload, err := sonic.Marshal(upd)
	if err != nil {
		return err
	}
	return mapErr(merge(ctx, s.taskTable, payload, etag), domain.ErrTaskNotFound)
}
