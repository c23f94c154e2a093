// Package zaplog adapts a zap logger to the ledger's operation callback.
package zaplog

import (
	"context"

	"github.com/rewardstack/pointledger/pkg/pointledger"
	"go.uber.org/zap"
)

// Logger emits one structured log line per ledger operation.
type Logger struct {
	base *zap.Logger
}

// New wraps a zap logger. A nil logger falls back to zap.NewNop.
func New(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{base: base}
}

func (logger *Logger) LogOperation(_ context.Context, entry pointledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("kind", entry.Kind.String()),
		zap.Int64("amount", entry.Amount),
		zap.String("reason", entry.Reason),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		logger.base.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	logger.base.Info("ledger operation", fields...)
}
