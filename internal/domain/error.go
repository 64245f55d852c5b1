package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid exec context")
	ErrInvalidConfig      = errors.New("invalid configuration")

	// Queue / worker errors
	ErrActiveTaskExists = errors.New("article already has an active embedding task")
	ErrWorkerRunning    = errors.New("worker already running")
	ErrWorkerNotRunning = errors.New("worker not running")
	ErrLockNotAcquired  = errors.New("lock not acquired")
	ErrEmptyArticle     = errors.New("article has no content to embed")
	ErrEmptyEmbedding   = errors.New("embedding provider returned an empty vector")
)

// TaskErrorKind classifies a failure raised while processing a task.
type TaskErrorKind string

const (
	// TaskErrorTransient failures may succeed on a later attempt.
	TaskErrorTransient TaskErrorKind = "transient"
	// TaskErrorTerminal failures will fail again no matter how often they are retried.
	TaskErrorTerminal TaskErrorKind = "terminal"
)

// TaskError is the typed result collaborators return instead of bare errors,
// so the worker can decide between "retry later" and "give up now".
type TaskError struct {
	Kind TaskErrorKind
	Op   string
	Err  error
}

func (e *TaskError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Kind: TaskErrorTransient, Op: op, Err: err}
}

// Terminal wraps err as a non-retryable failure of op.
func Terminal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Kind: TaskErrorTerminal, Op: op, Err: err}
}

// IsTerminal reports whether err (or anything it wraps) was classified terminal.
// Unclassified errors are treated as transient.
func IsTerminal(err error) bool {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind == TaskErrorTerminal
	}
	return false
}
