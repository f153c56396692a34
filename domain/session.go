package domain

import "time"

// Phase is a pomodoro cycle phase; it doubles as the session type.
type Phase string

const (
	PhaseFocus      Phase = "focus"
	PhaseShortBreak Phase = "shortBreak"
	PhaseLongBreak  Phase = "longBreak"
)

func (p Phase) Valid() bool {
	return p == PhaseFocus || p == PhaseShortBreak || p == PhaseLongBreak
}

// PomodoroSession records one focus phase. TaskID is a weak reference.
type PomodoroSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	TaskID    string     `json:"taskId"`
	Type      Phase      `json:"type"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	// Duration is the real length in whole minutes, set on completion.
	Duration  int  `json:"duration"`
	Completed bool `json:"completed"`
}
