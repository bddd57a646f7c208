package flow

import "errors"

// Validation and integrity errors surfaced while building or re-opening a
// flow. Callers match with errors.Is.
var (
	// ErrDatasetExists reports a duplicate dataset registration.
	ErrDatasetExists = errors.New("dataset already exists")
	// ErrDatasetNotFound reports a dataset name absent from the context.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrImageExists reports a duplicate image registration.
	ErrImageExists = errors.New("image already exists")
	// ErrImageNotFound reports an image name absent from the context.
	ErrImageNotFound = errors.New("image not found")
	// ErrTaskExists reports a duplicate task name.
	ErrTaskExists = errors.New("task already exists")
	// ErrTaskNotFound reports a task id or name absent from the context.
	ErrTaskNotFound = errors.New("task not found")
	// ErrPlaceholderMissing reports a command lacking a required %TOKEN.
	ErrPlaceholderMissing = errors.New("command placeholder missing")
	// ErrCycle reports a task whose inputs trace back to itself.
	ErrCycle = errors.New("dependency cycle")
	// ErrFlowMutated reports that the declared DAG no longer matches the
	// persisted flow.json. Create a new flow directory to proceed.
	ErrFlowMutated = errors.New("flow definition has changed")
)
