package pointledger

import (
	"context"
	"testing"
	"time"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsGrantOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	logger := &recorderLogger{}
	service, err := NewService(store, func() time.Time { return testClock }, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	userID := mustUserID(test, "user-logged")
	if _, err := service.Grant(context.Background(), userID, mustPositivePoints(test, 100), mustReason(test, "award"), nil); err != nil {
		test.Fatalf("grant failed: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationGrant || entry.UserID != userID || entry.Amount != 100 {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	store.overrideRatio(CategoryDigitalGift, 9999)
	logger := &recorderLogger{}
	service, err := NewService(store, func() time.Time { return testClock }, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	userID := mustUserID(test, "user-logged")
	if _, err := service.Grant(context.Background(), userID, mustPositivePoints(test, 100), mustReason(test, "award"), nil); err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}
