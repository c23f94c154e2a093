package pointledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAdjustPositiveCreatesLot(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-adjust")
	admin := mustUserID(test, "admin-1")

	if err := service.Adjust(context.Background(), userID, CategoryDigitalGift, 50, mustReason(test, "manual credit"), &admin); err != nil {
		test.Fatalf("adjust: %v", err)
	}
	summary, err := service.Summarize(context.Background(), userID)
	if err != nil {
		test.Fatalf("summarize: %v", err)
	}
	if summary.BalanceFor(CategoryDigitalGift) != 50 {
		test.Fatalf("expected balance 50, got %d", summary.BalanceFor(CategoryDigitalGift))
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected one adjustment transaction, got %d", len(store.transactions))
	}
	adjustment := store.transactions[0]
	if adjustment.Type != TransactionAdjustment || adjustment.Amount != 50 || adjustment.BalanceAfter != 50 {
		test.Fatalf("unexpected adjustment transaction: %+v", adjustment)
	}
	if adjustment.CreatedBy == nil || *adjustment.CreatedBy != "admin-1" {
		test.Fatalf("expected creator recorded, got %+v", adjustment.CreatedBy)
	}
	if adjustment.Link.LotID == nil {
		test.Fatalf("expected lot link on positive adjustment")
	}
}

func TestAdjustNegativeDrawsFIFO(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-debit")
	earliest := store.seedLot(userID, CategoryDigitalGift, 30, time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC))
	later := store.seedLot(userID, CategoryDigitalGift, 30, time.Date(2024, time.April, 30, 23, 59, 59, 0, time.UTC))

	if err := service.Adjust(context.Background(), userID, CategoryDigitalGift, -40, mustReason(test, "manual debit"), nil); err != nil {
		test.Fatalf("adjust: %v", err)
	}
	if got := store.remainingOf(earliest.LotID); got != 0 {
		test.Fatalf("expected earliest lot drained, got %d", got)
	}
	if got := store.remainingOf(later.LotID); got != 20 {
		test.Fatalf("expected later lot at 20, got %d", got)
	}
	adjustment := store.transactions[0]
	if adjustment.Amount != -40 || adjustment.BalanceAfter != 20 {
		test.Fatalf("unexpected adjustment transaction: %+v", adjustment)
	}
}

func TestAdjustRejectsZeroAndInsufficient(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-bad-adjust")

	err := service.Adjust(context.Background(), userID, CategoryDigitalGift, 0, mustReason(test, "noop"), nil)
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	err = service.Adjust(context.Background(), userID, CategoryDigitalGift, -10, mustReason(test, "debit"), nil)
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestExpiringSoonWindow(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store)
	userID := mustUserID(test, "user-window")
	soon := store.seedLot(userID, CategoryDigitalGift, 10, testClock.Add(10*24*time.Hour))
	store.seedLot(userID, CategoryCorporateProduct, 10, testClock.Add(90*24*time.Hour))

	lots, err := service.ExpiringSoon(context.Background(), userID, 30*24*time.Hour)
	if err != nil {
		test.Fatalf("expiring soon: %v", err)
	}
	if len(lots) != 1 || lots[0].LotID != soon.LotID {
		test.Fatalf("expected only the near-expiry lot, got %+v", lots)
	}
}
