package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError("github", 403, "forbidden")
	assert.Contains(t, err.Error(), "github")
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestAPIError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := &APIError{Service: "openrouter", StatusCode: 500, Message: "fail", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError("gh", 429, "rate limit")))
	assert.True(t, IsRetryable(NewAPIError("gh", 502, "bad gateway")))
	assert.True(t, IsRetryable(fmt.Errorf("token exchange: %w", NewAPIError("gh", 503, "unavailable"))))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrRateLimit))

	assert.False(t, IsRetryable(NewAPIError("gh", 401, "unauth")))
	assert.False(t, IsRetryable(NewAPIError("gh", 404, "not found")))
	assert.False(t, IsRetryable(ErrAuthFailure))
	assert.False(t, IsRetryable(Validation("op", "bad")))
}

func TestError_IsMatchesSentinel(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		kind     Kind
	}{
		{Validation("github.UpsertFile", "path %q must end in .md", "a.txt"), ErrInvalidInput, KindValidation},
		{Authentication("github.token", errors.New("401")), ErrAuthFailure, KindAuthentication},
		{NotFound("github.GetFile", "missing"), ErrNotFound, KindNotFound},
		{Provider("llm.Complete", errors.New("boom")), ErrProvider, KindProvider},
		{Gateway("github.PostComment", errors.New("boom")), ErrGateway, KindGateway},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(wrapped))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := Gateway("github.GetDiff", errors.New("connection reset"))
	assert.Equal(t, "github.GetDiff: connection reset", err.Error())

	err = Validation("tool.upsert", "filePath is required")
	assert.Equal(t, "tool.upsert: filePath is required", err.Error())
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestKindOf_Plain(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "unknown", Kind(0).String())
}
