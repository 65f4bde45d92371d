package swfservice

import (
	"errors"
	"time"
)

// Config controls the SWF adapter.
type Config struct {
	// Required: the SWF domain executions run in
	Domain string

	// Optional: AWS region; falls back to default chain if empty
	Region string
	// Optional: endpoint override, e.g. a localstack URL
	Endpoint string

	// Identity is reported with every poll. Defaults to the hostname.
	Identity string

	// Task list new top-level executions are started on when the request names none.
	TaskList string

	// Defaults for new top-level executions. Zero leaves the registered default in effect.
	ExecutionStartToClose time.Duration
	TaskStartToClose      time.Duration
}

// DefaultTaskList is polled and started on when neither the call nor the
// config names a task list.
const DefaultTaskList = "leech"

// ErrAlreadyStarted is returned when an open execution already uses the workflow id.
var ErrAlreadyStarted = errors.New("workflow execution already started")
