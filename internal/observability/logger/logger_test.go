package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/settlement/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactingCoreMasksBankFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(NewRedactingCore(core)).With(zap.String("account_number", "001122334455"))

	log.Info("payout completed",
		zap.String("transaction_id", "TRX-9988776655"),
		zap.String("vendor_id", "2002"),
		zap.Int64("net_amount", 9000),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "****4455", fields["account_number"])
	assert.Equal(t, "****6655", fields["transaction_id"])
	assert.Equal(t, "2002", fields["vendor_id"])
	assert.Equal(t, int64(9000), fields["net_amount"])
}

func TestRedactingCoreHonoursLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := zap.New(NewRedactingCore(core))

	log.Info("dropped")
	log.Warn("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestWithContextAddsOnlyPresentFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("bare")

	ctx := obscontext.WithRequestID(context.Background(), "req-7")
	ctx = obscontext.WithActor(ctx, "vendor", "2002")
	WithVendor(WithContext(ctx, base), "2002", "").Info("scoped")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].ContextMap())

	fields := entries[1].ContextMap()
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, "vendor", fields["actor_type"])
	assert.Equal(t, "2002", fields["vendor_id"])
	assert.NotContains(t, fields, "cabin_id")
	assert.NotContains(t, fields, "trace_id")
}
