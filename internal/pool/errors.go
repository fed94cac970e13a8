package pool

import "fmt"

// ContextUnavailableError is returned by QueueInContext when no Connection
// is currently tenanted by the given context id.
type ContextUnavailableError struct {
	ContextID string
}

func (e *ContextUnavailableError) Error() string {
	return fmt.Sprintf("context %q is not active on any connection", e.ContextID)
}

// AttachBlockedError is returned by Attach/Detach when any Connection is
// currently tenanted.
type AttachBlockedError struct {
	Reason string
}

func (e *AttachBlockedError) Error() string {
	return "attach blocked: " + e.Reason
}

// OpenFailedError mirrors engine.OpenFailedError at the Pool level for
// callers that only import pool, not engine.
type OpenFailedError struct {
	Message string
}

func (e *OpenFailedError) Error() string { return "open failed: " + e.Message }

// BatchAbortedError reports the first failing statement in a batch; the
// batch's transaction has already been rolled back by the time this is
// returned.
type BatchAbortedError struct {
	FailedIndex int
	FirstError  error
}

func (e *BatchAbortedError) Error() string {
	return fmt.Sprintf("batch aborted at statement %d: %v", e.FailedIndex, e.FirstError)
}

func (e *BatchAbortedError) Unwrap() error { return e.FirstError }
