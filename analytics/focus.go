// Package analytics turns session history into chart data.
package analytics

import (
	"time"

	"mind-ease/domain"
)

// Series is the {labels, values} contract consumed by chart widgets.
type Series struct {
	Labels []string `json:"labels"`
	Values []int    `json:"values"`
}

// Days is the length of the focus chart window.
const Days = 7

// WeeklyFocus sums the minutes of completed focus sessions for each of the
// last seven days ending with now's day, oldest first. Days are taken in
// now's location.
func WeeklyFocus(sessions []domain.PomodoroSession, now time.Time) Series {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	first := today.AddDate(0, 0, -(Days - 1))

	s := Series{Labels: make([]string, Days), Values: make([]int, Days)}
	for i := 0; i < Days; i++ {
		s.Labels[i] = first.AddDate(0, 0, i).Format("Mon 02/01")
	}
	for _, sess := range sessions {
		if sess.Type != domain.PhaseFocus || !sess.Completed {
			continue
		}
		at := sess.StartTime.In(loc)
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, loc)
		if day.Before(first) || day.After(today) {
			continue
		}
		idx := 0
		for d := first; d.Before(day); d = d.AddDate(0, 0, 1) {
			idx++
		}
		s.Values[idx] += sess.Duration
	}
	return s
}

// Totals summarises a session history.
type Totals struct {
	CompletedFocus int `json:"completedFocus"`
	FocusMinutes   int `json:"focusMinutes"`
	OpenSessions   int `json:"openSessions"`
}

func Summarize(sessions []domain.PomodoroSession) Totals {
	var t Totals
	for _, s := range sessions {
		switch {
		case !s.Completed:
			t.OpenSessions++
		case s.Type == domain.PhaseFocus:
			t.CompletedFocus++
			t.FocusMinutes += s.Duration
		}
	}
	return t
}
