// Package optimistic describes the outcome of a mutation that is applied
// locally before the remote store confirms it.
package optimistic

import (
	"errors"
	"fmt"
)

// Outcome is the terminal state of an optimistic mutation.
type Outcome int

const (
	// Applied means the local change stands and the remote call succeeded.
	Applied Outcome = iota
	// Skipped means nothing was changed locally and nothing was persisted.
	Skipped
	// RolledBack means the remote call failed and the pre-mutation snapshot
	// was restored.
	RolledBack
	// Resynced means the remote call failed and local state was reloaded
	// from the remote store.
	Resynced
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	case RolledBack:
		return "rolled-back"
	case Resynced:
		return "resynced"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result carries the outcome, the resulting value when there is one, and the
// error that caused a recovery.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// OK reports whether the mutation was persisted or was a harmless no-op.
func (r Result[T]) OK() bool {
	return r.Err == nil && (r.Outcome == Applied || r.Outcome == Skipped)
}

// Fail is a skipped mutation that still reports err, such as a rejected
// input or an unknown id.
func Fail[T any](err error) Result[T] { return Result[T]{Outcome: Skipped, Err: err} }

func Apply[T any](v T) Result[T] { return Result[T]{Outcome: Applied, Value: v} }

func Skip[T any]() Result[T] { return Result[T]{Outcome: Skipped} }

func RollBack[T any](err error) Result[T] { return Result[T]{Outcome: RolledBack, Err: err} }

func Resync[T any](err error) Result[T] { return Result[T]{Outcome: Resynced, Err: err} }

// ErrNoop is returned by Mutation.Local when there is nothing to change.
var ErrNoop = errors.New("optimistic: no-op")

// Recovery decides how local state is repaired after a failed remote call.
type Recovery int

const (
	// Restore puts the snapshot back. Used for point mutations.
	Restore Recovery = iota
	// Refetch reloads the whole collection. Used for order-sensitive
	// mutations.
	Refetch
)

// Mutation is one optimistic step over a state of type S.
type Mutation[S, T any] struct {
	// Snapshot captures state before Local runs.
	Snapshot func() S
	// Local applies the change and returns the value to persist. Returning
	// ErrNoop skips the mutation; any other error is reported without a
	// remote call.
	Local func() (T, error)
	// Remote persists the change and may replace the local value.
	Remote func(T) (T, error)
	// Confirm installs the value returned by Remote.
	Confirm func(T)
	// Restore puts a snapshot back.
	Restore func(S)
	// Refetch reloads state from the remote store.
	Refetch func()
	// Recovery selects Restore or Refetch on failure.
	Recovery Recovery
	// Wrap turns the remote error into the error reported to the caller.
	Wrap func(error) error
}

// Run executes m: snapshot, apply locally, persist, then confirm or recover.
func Run[S, T any](m Mutation[S, T]) Result[T] {
	var snap S
	if m.Snapshot != nil {
		snap = m.Snapshot()
	}
	v, err := m.Local()
	if errors.Is(err, ErrNoop) {
		return Skip[T]()
	}
	if err != nil {
		return Fail[T](err)
	}
	out, err := m.Remote(v)
	if err != nil {
		if m.Wrap != nil {
			err = m.Wrap(err)
		}
		if m.Recovery == Refetch {
			if m.Refetch != nil {
				m.Refetch()
			}
			return Resync[T](err)
		}
		if m.Restore != nil {
			m.Restore(snap)
		}
		return RollBack[T](err)
	}
	if m.Confirm != nil {
		m.Confirm(out)
	}
	return Apply(out)
}
