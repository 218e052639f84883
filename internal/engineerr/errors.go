// Package engineerr defines the typed error taxonomy of spec.md §7: the
// kinds of failure the engine's components raise and how callers are meant
// to branch on them with errors.As instead of string matching.
package engineerr

import (
	"errors"
	"fmt"
)

// AlreadyExistsError is returned by Store.Create when the id is already
// present in the collection.
type AlreadyExistsError struct {
	Collection string
	ID         string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s: record %q already exists", e.Collection, e.ID)
}

// NotFoundError is returned by Store.Update/Delete for a missing record;
// Get reports a missing record through its found result instead.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: record %q not found", e.Collection, e.ID)
}

// InvalidStateError is returned for an illegal lifecycle transition or an
// operation attempted against a loop/plan in the wrong state (spec.md §7,
// §4.8 "InvalidState").
type InvalidStateError struct {
	EntityID string
	Current  string
	Attempted string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: invalid transition from %s to %s", e.EntityID, e.Current, e.Attempted)
}

// SandboxViolationError is returned by ToolRouter when a job's cwd or a
// file_paths entry escapes the loop's worktree (spec.md §4.4, §8.1 #8).
type SandboxViolationError struct {
	Path     string
	Worktree string
}

func (e *SandboxViolationError) Error() string {
	return fmt.Sprintf("sandbox violation: %q escapes worktree %q", e.Path, e.Worktree)
}

// InsufficientSpaceError is returned by WorktreeOps.Create when free space is
// below the configured floor even after one aggressive cleanup attempt
// (spec.md §4.2, §8.3).
type InsufficientSpaceError struct {
	LoopID       string
	FreeBytes    int64
	RequiredFloor int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("loop %s: insufficient space (%d bytes free, floor %d)", e.LoopID, e.FreeBytes, e.RequiredFloor)
}

// ContextOverflowError is returned by the LoopDriver's prompt-build step when
// the context budget is exceeded even after the truncation policy of
// spec.md §4.6 step 2.
type ContextOverflowError struct {
	UsedTokens  int
	LimitTokens int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow: used %d tokens, limit %d", e.UsedTokens, e.LimitTokens)
}

// RateLimitedError is returned by LlmGateway when the upstream model service
// responds 429, carrying the server-specified retry delay (spec.md §4.3).
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", e.RetryAfterSeconds)
}

// RebaseConflictError is returned by WorktreeOps.Rebase when the rebase
// cannot complete cleanly (spec.md §4.9).
type RebaseConflictError struct {
	LoopID string
	Files  []string
}

func (e *RebaseConflictError) Error() string {
	return fmt.Sprintf("loop %s: rebase conflict in %d file(s)", e.LoopID, len(e.Files))
}

// WorktreeLostError is returned during crash recovery when a Running loop's
// worktree directory no longer exists (spec.md §4.7 crash recovery).
type WorktreeLostError struct {
	LoopID   string
	Worktree string
}

func (e *WorktreeLostError) Error() string {
	return fmt.Sprintf("loop %s: worktree %q is missing", e.LoopID, e.Worktree)
}

// MaxIterationsError is returned when a loop exhausts its iteration budget
// without passing validation (spec.md §4.6 step 6).
type MaxIterationsError struct {
	LoopID        string
	MaxIterations int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("loop %s: exhausted %d iterations without passing validation", e.LoopID, e.MaxIterations)
}

// ApiError is returned by LlmGateway when the model service responds with a
// non-2xx status other than a rate limit (spec.md §4.3).
type ApiError struct {
	Status  int
	Message string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// NetworkError is returned by LlmGateway when the underlying subprocess or
// transport fails before producing a response (spec.md §4.3).
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// TimeoutError is returned by LlmGateway or ToolRouter when an operation
// exceeds its configured deadline (spec.md §4.3, §4.4).
type TimeoutError struct {
	Operation string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out", e.Operation)
}

// InvalidResponseError is returned by LlmGateway when the model's output
// cannot be parsed into a well-formed Response (spec.md §4.3). It is not
// retried, since a malformed response is not a transient condition.
type InvalidResponseError struct {
	Detail string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid llm response: %s", e.Detail)
}

// Is* helpers let callers branch on category per spec.md §7's propagation
// policy without repeating errors.As boilerplate at every call site.

func IsAlreadyExists(err error) bool {
	var e *AlreadyExistsError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

func IsSandboxViolation(err error) bool {
	var e *SandboxViolationError
	return errors.As(err, &e)
}

func IsInsufficientSpace(err error) bool {
	var e *InsufficientSpaceError
	return errors.As(err, &e)
}

func IsContextOverflow(err error) bool {
	var e *ContextOverflowError
	return errors.As(err, &e)
}

func IsRateLimited(err error) bool {
	var e *RateLimitedError
	return errors.As(err, &e)
}

func IsRebaseConflict(err error) bool {
	var e *RebaseConflictError
	return errors.As(err, &e)
}

func IsWorktreeLost(err error) bool {
	var e *WorktreeLostError
	return errors.As(err, &e)
}

func IsMaxIterations(err error) bool {
	var e *MaxIterationsError
	return errors.As(err, &e)
}

func IsApiError(err error) bool {
	var e *ApiError
	return errors.As(err, &e)
}

func IsNetwork(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

func IsTimeout(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e)
}

func IsInvalidResponse(err error) bool {
	var e *InvalidResponseError
	return errors.As(err, &e)
}
