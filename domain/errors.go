package domain

import "errors"

var (
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrTaskNotFound indicates the task id is unknown to the store or the backend.
	ErrTaskNotFound = errors.New("task not found")

	// ErrSessionNotFound indicates the pomodoro session id is unknown to the backend.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTask indicates a draft or patch that breaks a task rule.
	ErrInvalidTask = errors.New("invalid task")

	// ErrNoUser indicates an operation that needs an authenticated user.
	ErrNoUser = errors.New("no authenticated user")

	ErrCreateTask = errors.New("could not create task")
	ErrUpdateTask = errors.New("could not update task")
	ErrRemoveTask = errors.New("could not remove task")

	// ErrLoadTasks is the persistent load-failure state of a task store.
	ErrLoadTasks = errors.New("could not load tasks")

	// ErrLoadProfile is the persistent load-failure state of a user profile.
	ErrLoadProfile = errors.New("could not load profile")

	ErrUpdatePreferences  = errors.New("could not update preferences")
	ErrInvalidPreferences = errors.New("invalid preferences")
)
