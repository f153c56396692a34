package tasks

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"mind-ease/domain"
)

// The helpers below build a new subtask list for SetSubtasks. None of them
// modify their input.

// AddSubtask appends a new unchecked subtask.
func AddSubtask(list []domain.Subtask, title string) ([]domain.Subtask, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: subtask title is required", domain.ErrInvalidTask)
	}
	out := make([]domain.Subtask, 0, len(list)+1)
	out = append(out, list...)
	return append(out, domain.Subtask{ID: uuid.NewString(), Title: title}), nil
}

// ToggleSubtask flips the completed flag of the subtask with id.
func ToggleSubtask(list []domain.Subtask, id string) []domain.Subtask {
	out := append([]domain.Subtask{}, list...)
	for i := range out {
		if out[i].ID == id {
			out[i].Completed = !out[i].Completed
		}
	}
	return out
}

// RemoveSubtask drops the subtask with id.
func RemoveSubtask(list []domain.Subtask, id string) []domain.Subtask {
	out := make([]domain.Subtask, 0, len(list))
	for _, st := range list {
		if st.ID != id {
			out = append(out, st)
		}
	}
	return out
}

// Progress summarises a checklist.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Percent   int `json:"percent"`
}

func SubtaskProgress(list []domain.Subtask) Progress {
	p := Progress{Total: len(list)}
	for _, st := range list {
		if st.Completed {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percent = int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
	}
	return p
}
