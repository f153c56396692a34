package optimistic

import (
	"errors"
	"testing"
)

func TestRunRestoresSnapshotOnFailure(t *testing.T) {
	state := []string{"a"}
	boom := errors.New("boom")

	res := Run(Mutation[[]string, string]{
		Snapshot: func() []string { return append([]string(nil), state...) },
		Local: func() (string, error) {
			state = append(state, "b")
			return "b", nil
		},
		Remote:  func(v string) (string, error) { return "", boom },
		Restore: func(s []string) { state = s },
		Wrap:    func(err error) error { return errors.Join(errors.New("wrapped"), err) },
	})

	if res.Outcome != RolledBack {
		t.Fatalf("expected rolled back, got %v", res.Outcome)
	}
	if !errors.Is(res.Err, boom) {
		t.Fatalf("expected wrapped boom, got %v", res.Err)
	}
	if len(state) != 1 || state[0] != "a" {
		t.Fatalf("state not restored: %v", state)
	}
	if res.OK() {
		t.Fatalf("rolled back result reported OK")
	}
}

func TestRunRefetchesOnFailure(t *testing.T) {
	var refetched, restored bool
	res := Run(Mutation[int, int]{
		Local:    func() (int, error) { return 1, nil },
		Remote:   func(v int) (int, error) { return 0, errors.New("down") },
		Restore:  func(int) { restored = true },
		Refetch:  func() { refetched = true },
		Recovery: Refetch,
	})
	if res.Outcome != Resynced || !refetched || restored {
		t.Fatalf("unexpected recovery: outcome=%v refetched=%v restored=%v", res.Outcome, refetched, restored)
	}
}

func TestRunSkipsWithoutRemoteCall(t *testing.T) {
	called := false
	res := Run(Mutation[int, int]{
		Local:  func() (int, error) { return 0, ErrNoop },
		Remote: func(v int) (int, error) { called = true; return v, nil },
	})
	if res.Outcome != Skipped || called {
		t.Fatalf("expected skip without remote call, outcome=%v called=%v", res.Outcome, called)
	}
	if !res.OK() {
		t.Fatalf("skipped result should be OK")
	}
}

func TestRunConfirmsRemoteValue(t *testing.T) {
	var confirmed string
	res := Run(Mutation[struct{}, string]{
		Local:   func() (string, error) { return "provisional", nil },
		Remote:  func(v string) (string, error) { return "stable", nil },
		Confirm: func(v string) { confirmed = v },
	})
	if res.Outcome != Applied || res.Value != "stable" || confirmed != "stable" {
		t.Fatalf("unexpected result %+v confirmed=%q", res, confirmed)
	}
}

func TestRunReportsLocalError(t *testing.T) {
	missing := errors.New("missing")
	called := false
	res := Run(Mutation[int, int]{
		Local:  func() (int, error) { return 0, missing },
		Remote: func(v int) (int, error) { called = true; return v, nil },
	})
	if res.Outcome != Skipped || !errors.Is(res.Err, missing) || called {
		t.Fatalf("unexpected result %+v called=%v", res, called)
	}
	if res.OK() {
		t.Fatalf("failed result reported OK")
	}
}
