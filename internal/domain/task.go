package domain

import "time"

// TaskType enumerates the work items the pipeline worker executes. Tasks
// carry only identifiers; the worker re-reads authoritative state from the
// store rather than trusting event payloads.
type TaskType string

const (
	TaskTypeBookGenerate    TaskType = "book_generate"
	TaskTypeLibraryAssemble TaskType = "library_assemble"
	TaskTypePageRegenerate  TaskType = "page_regenerate"
	TaskTypeCreditGrant     TaskType = "credit_grant"
)

// TaskStatus enumerates task lifecycle states. Sleeping tasks hold a
// run_after deadline and are reclaimed once it passes.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSleeping  TaskStatus = "sleeping"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task is one queued pipeline trigger.
type Task struct {
	ID           string
	Type         TaskType
	ReferenceID  string
	PageNo       int
	Status       TaskStatus
	RunAfter     time.Time
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
