package storage

import (
	"context"
	"slices"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"mind-ease/domain"
)

// StartSession records an open session and returns its id.
func (s *Tables) StartSession(ctx context.Context, userID, taskID string, phase domain.Phase) (string, error) {
	sess := domain.PomodoroSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		TaskID:    taskID,
		Type:      phase,
		StartTime: s.now().UTC(),
	}
	payload, err := sonic.Marshal(newSessionEntity(sess))
	if err != nil {
		return "", err
	}
	if _, err := s.sessionTable.AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// CompleteSession closes a session with its real duration in minutes.
func (s *Tables) CompleteSession(ctx context.Context, userID, sessionID string, minutes int) error {
	end := s.now().UnixMilli()
	upd := struct {
		entity
		EndTime     int64  `json:"EndTime,string"`
		EndTimeType string `json:"EndTime@odata.type"`
		Duration    int    `json:"Duration"`
		Completed   bool   `json:"Completed"`
	}{
		entity:      entity{PartitionKey: userID, RowKey: sessionID},
		EndTime:     end,
		EndTimeType: edmInt64,
		Duration:    minutes,
		Completed:   true,
	}
	payload, err := sonic.Marshal(upd)
	if err != nil {
		return err
	}
	return mapErr(merge(ctx, s.sessionTable, payload, azcore.ETagAny), domain.ErrSessionNotFound)
}

// ListSessions returns the user's sessions, most recent first.
func (s *Tables) ListSessions(ctx context.Context, userID string) ([]domain.PomodoroSession, error) {
	sessions, err := listPartition(ctx, s.sessionTable, userID, decodeSessionEntity)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(sessions, func(a, b domain.PomodoroSession) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return sessions, nil
}
