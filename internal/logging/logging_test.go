package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test", "info", "json")
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	logger.WithContext(ctx).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "test", entry["service"])
	assert.Equal(t, "hello", entry["msg"])
}

func TestLogRequestLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "info"},
		{404, "warning"},
		{502, "error"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := New("test", "debug", "json")
		logger.SetOutput(&buf)

		logger.LogRequest(context.Background(), "GET", "/progress", tt.status, 5*time.Millisecond)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, tt.level, entry["level"], "status %d", tt.status)
		assert.EqualValues(t, tt.status, entry["status"])
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	logger := New("test", "loud", "text")
	assert.Equal(t, "info", logger.GetLevel().String())
}

func TestContextHelpersEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetUserID(ctx))
	assert.Empty(t, GetRole(ctx))
	assert.Equal(t, ctx, WithTraceID(ctx, ""))
}
