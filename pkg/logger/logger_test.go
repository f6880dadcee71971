package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appctx "shopfiscal/internal/core/context"
)

func TestWithContext_AttachesRequestFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{zap.New(core).Sugar()}

	ctx := appctx.WithTrace(context.Background(), &appctx.TraceContext{TraceID: "t-1", RequestID: "r-1", OrgID: "org-1"})
	ctx = appctx.WithActor(ctx, &appctx.Actor{UserID: "accountant"})

	l.WithContext(ctx).Infow("period closed", "period", "2025-03")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "t-1", fields["trace_id"])
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, "org-1", fields["org_id"])
	assert.Equal(t, "accountant", fields["user_id"])
	assert.Equal(t, "2025-03", fields["period"])
}

func TestWithContext_EmptyContextKeepsLogger(t *testing.T) {
	l := Nop()
	assert.Same(t, l, l.WithContext(context.Background()))
}
