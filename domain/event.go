package domain

import "github.com/bytedance/sonic"

const (
	EventTaskCreated       = "task-created"
	EventTaskUpdated       = "task-updated"
	EventTaskMoved         = "task-moved"
	EventTaskDeleted       = "task-deleted"
	EventTasksResynced     = "tasks-resynced"
	EventPomodoroCompleted = "pomodoro-completed"
	EventSessionCompleted  = "session-completed"
	EventAlertRaised       = "alert-raised"
	EventAlertDismissed    = "alert-dismissed"
)

// Event is the envelope published to live subscribers and the event queue.
type Event struct {
	Type   string                 `json:"type"`
	UserID string                 `json:"userId"`
	Data   sonic.NoCopyRawMessage `json:"data,omitempty"`
	Time   int64                  `json:"time"`
}

// NewEvent encodes data into an event envelope.
func NewEvent(typ, userID string, data any, unixMilli int64) (Event, error) {
	ev := Event{Type: typ, UserID: userID, Time: unixMilli}
	if data == nil {
		return ev, nil
	}
	raw, err := sonic.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	ev.Data = raw
	return ev, nil
}
