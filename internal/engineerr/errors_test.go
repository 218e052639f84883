package engineerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHelpers_MatchWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("dispatch failed: %w", &SandboxViolationError{Path: "/etc/passwd", Worktree: "/data/w/001"})
	assert.True(t, IsSandboxViolation(wrapped))
	assert.False(t, IsNotFound(wrapped))

	assert.True(t, IsMaxIterations(&MaxIterationsError{LoopID: "001", MaxIterations: 3}))
	assert.True(t, IsRateLimited(&RateLimitedError{RetryAfterSeconds: 30}))
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&AlreadyExistsError{Collection: "loops", ID: "001"}).Error(), "001")
	assert.Contains(t, (&NotFoundError{Collection: "signals", ID: "sig-1"}).Error(), "sig-1")
	assert.Contains(t, (&InvalidStateError{EntityID: "001", Current: "complete", Attempted: "running"}).Error(), "complete")
}

func TestLlmErrorHelpers(t *testing.T) {
	assert.True(t, IsApiError(&ApiError{Status: 500, Message: "boom"}))
	assert.True(t, IsNetwork(fmt.Errorf("dial: %w", &NetworkError{Cause: fmt.Errorf("refused")})))
	assert.True(t, IsTimeout(&TimeoutError{Operation: "llm completion"}))
	assert.True(t, IsInvalidResponse(&InvalidResponseError{Detail: "no JSON"}))
	assert.False(t, IsApiError(&TimeoutError{Operation: "x"}))
}
