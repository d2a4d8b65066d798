package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestAgentAndTenantContext(t *testing.T) {
	ctx := WithAgentID(context.Background(), "agent-7")
	ctx = WithTenantID(ctx, "acme")

	assert.Equal(t, "agent-7", AgentIDFromContext(ctx))
	assert.Equal(t, "acme", TenantIDFromContext(ctx))
	assert.Equal(t, "", TenantIDFromContext(context.Background()))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTenantID(ctx, "globex")

	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("admin call")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "globex", entry["tenant_id"])
	_, hasAgent := entry["agent_id"]
	assert.False(t, hasAgent)
}
