package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/go-cmp/cmp"
)

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" Focus", "deep-work", "FOCUS", "", "  ", "Deep-Work", "study"})
	want := []string{"focus", "deep-work", "study"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected tags (-want +got):\n%s", diff)
	}
}

func TestTaskDraftValidate(t *testing.T) {
	valid := TaskDraft{Title: "Read", Status: StatusTodo, CognitiveLoad: LoadLow, EstimatedPomodoros: 1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}

	cases := map[string]TaskDraft{
		"blank title": {Title: "  ", Status: StatusTodo, CognitiveLoad: LoadLow, EstimatedPomodoros: 1},
		"bad status":  {Title: "x", Status: "archived", CognitiveLoad: LoadLow, EstimatedPomodoros: 1},
		"bad load":    {Title: "x", Status: StatusTodo, CognitiveLoad: "extreme", EstimatedPomodoros: 1},
		"no estimate": {Title: "x", Status: StatusTodo, CognitiveLoad: LoadLow},
	}
	for name, d := range cases {
		if err := d.Validate(); !errors.Is(err, ErrInvalidTask) {
			t.Fatalf("%s: expected ErrInvalidTask, got %v", name, err)
		}
	}
}

func TestTaskPatchApplyLeavesOriginalUntouched(t *testing.T) {
	orig := Task{ID: "t1", Title: "Old", Tags: []string{"a"}, Subtasks: []Subtask{{ID: "s1", Title: "one"}}}
	title := "New"
	tags := []string{"b", "c"}
	out := TaskPatch{Title: &title, Tags: &tags}.Apply(orig)

	if out.Title != "New" || orig.Title != "Old" {
		t.Fatalf("unexpected titles: out=%q orig=%q", out.Title, orig.Title)
	}
	if diff := cmp.Diff([]string{"b", "c"}, out.Tags); diff != "" {
		t.Fatalf("unexpected tags (-want +got):\n%s", diff)
	}
	out.Subtasks[0].Title = "changed"
	if orig.Subtasks[0].Title != "one" {
		t.Fatalf("patch result shares subtasks with original")
	}
}

func TestTaskPatchRejectsDecreasingPomodoros(t *testing.T) {
	cur := Task{CompletedPomodoros: 3}
	lower := 2
	if err := (TaskPatch{CompletedPomodoros: &lower}).Validate(cur); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
	same := 3
	if err := (TaskPatch{CompletedPomodoros: &same}).Validate(cur); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTaskMarshalIncludesZeroOrder(t *testing.T) {
	task := Task{ID: "t1", Title: "Title", Status: StatusTodo, Order: 0, CreatedAt: time.Unix(0, 0).UTC()}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	if !strings.Contains(string(payload), "\"order\":0") {
		t.Fatalf("expected order field to be present, got %s", payload)
	}
	if strings.Contains(string(payload), "dueDate") {
		t.Fatalf("expected dueDate to be omitted, got %s", payload)
	}
}

func TestPreferencesPatch(t *testing.T) {
	focus := true
	interval := 40
	p := PreferencesPatch{FocusMode: &focus, AlertIntervalMinutes: &interval}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	got := p.Apply(DefaultCognitivePreferences())
	want := DefaultCognitivePreferences()
	want.FocusMode = true
	want.AlertIntervalMinutes = 40
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected prefs (-want +got):\n%s", diff)
	}

	zero := 0
	if err := (PreferencesPatch{AlertIntervalMinutes: &zero}).Validate(); !errors.Is(err, ErrInvalidPreferences) {
		t.Fatalf("expected ErrInvalidPreferences, got %v", err)
	}
	font := FontSize("huge")
	if err := (PreferencesPatch{FontSize: &font}).Validate(); !errors.Is(err, ErrInvalidPreferences) {
		t.Fatalf("expected ErrInvalidPreferences, got %v", err)
	}
}

func TestNewEventEncodesData(t *testing.T) {
	ev, err := NewEvent(EventTaskMoved, "u1", map[string]string{"id": "t1"}, 42)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	payload, err := sonic.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"task-moved","userId":"u1","data":{"id":"t1"},"time":42}`
	if string(payload) != want {
		t.Fatalf("unexpected payload %s", payload)
	}
}
