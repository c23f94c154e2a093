package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rewardstack/pointledger/pkg/pointledger"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testClock = time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)

func newTestStore(test *testing.T) (*Store, *gorm.DB) {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db), db
}

func TestResolveCategoryIdempotent(test *testing.T) {
	test.Parallel()
	store, _ := newTestStore(test)

	first, err := store.ResolveCategory(context.Background(), pointledger.CategoryDigitalGift)
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if first.RatioBasisPoints != 6000 || !first.Active {
		test.Fatalf("unexpected default category: %+v", first)
	}
	second, err := store.ResolveCategory(context.Background(), pointledger.CategoryDigitalGift)
	if err != nil {
		test.Fatalf("resolve again: %v", err)
	}
	if second.ID != first.ID {
		test.Fatalf("expected same category row, got %d and %d", first.ID, second.ID)
	}
	corporate, err := store.ResolveCategory(context.Background(), pointledger.CategoryCorporateProduct)
	if err != nil {
		test.Fatalf("resolve corporate: %v", err)
	}
	if corporate.RatioBasisPoints != 4000 {
		test.Fatalf("unexpected corporate ratio: %d", corporate.RatioBasisPoints)
	}
}

func TestAvailableLotsOrderedByExpiryThenSequence(test *testing.T) {
	test.Parallel()
	store, _ := newTestStore(test)
	userID := mustUserID(test, "user-order")

	march := mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 50, time.Date(2024, time.March, 31, 23, 59, 59, 0, time.UTC))
	februaryFirst := mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 50, time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC))
	februarySecond := mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 50, time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC))

	kind := pointledger.CategoryDigitalGift
	lots, err := store.AvailableLots(context.Background(), userID, &kind, testClock)
	if err != nil {
		test.Fatalf("available lots: %v", err)
	}
	if len(lots) != 3 {
		test.Fatalf("expected 3 lots, got %d", len(lots))
	}
	if lots[0].LotID != februaryFirst.LotID || lots[1].LotID != februarySecond.LotID || lots[2].LotID != march.LotID {
		test.Fatalf("unexpected FIFO order: %v, %v, %v", lots[0].LotID, lots[1].LotID, lots[2].LotID)
	}
}

func TestDecrementLotGuards(test *testing.T) {
	test.Parallel()
	store, _ := newTestStore(test)
	userID := mustUserID(test, "user-decrement")
	lot := mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 30, time.Date(2024, time.June, 30, 23, 59, 59, 0, time.UTC))

	if err := store.DecrementLot(context.Background(), lot.LotID, 20, testClock); err != nil {
		test.Fatalf("decrement: %v", err)
	}
	err := store.DecrementLot(context.Background(), lot.LotID, 20, testClock)
	if !errors.Is(err, pointledger.ErrInsufficientLotBalance) {
		test.Fatalf("expected ErrInsufficientLotBalance, got %v", err)
	}
	err = store.DecrementLot(context.Background(), "00000000-0000-0000-0000-000000000000", 1, testClock)
	if !errors.Is(err, pointledger.ErrUnknownLot) {
		test.Fatalf("expected ErrUnknownLot, got %v", err)
	}
	kind := pointledger.CategoryDigitalGift
	remaining, err := store.SumAvailable(context.Background(), userID, kind, testClock)
	if err != nil {
		test.Fatalf("sum: %v", err)
	}
	if remaining != 10 {
		test.Fatalf("expected 10 remaining, got %d", remaining)
	}
}

func TestDecrementLotRefusesSweptLot(test *testing.T) {
	test.Parallel()
	store, _ := newTestStore(test)
	userID := mustUserID(test, "user-swept")
	lot := mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 30, time.Date(2024, time.January, 31, 23, 59, 59, 0, time.UTC))

	asOf := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.MarkExpired(context.Background(), asOf, nil); err != nil {
		test.Fatalf("mark expired: %v", err)
	}
	err := store.DecrementLot(context.Background(), lot.LotID, 10, testClock)
	if !errors.Is(err, pointledger.ErrInsufficientLotBalance) {
		test.Fatalf("expected ErrInsufficientLotBalance on swept lot, got %v", err)
	}
}

func TestMarkExpiredFlipsOnce(test *testing.T) {
	test.Parallel()
	store, _ := newTestStore(test)
	userID := mustUserID(test, "user-expire")
	mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 30, time.Date(2024, time.January, 31, 23, 59, 59, 0, time.UTC))
	mustCreateLot(test, store, userID, pointledger.CategoryCorporateProduct, 20, time.Date(2024, time.May, 31, 23, 59, 59, 0, time.UTC))

	asOf := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	expired, err := store.MarkExpired(context.Background(), asOf, nil)
	if err != nil {
		test.Fatalf("mark expired: %v", err)
	}
	if len(expired) != 1 {
		test.Fatalf("expected 1 expired lot, got %d", len(expired))
	}
	if !expired[0].Expired || expired[0].RemainingPoints != 30 {
		test.Fatalf("expected expired lot with remaining snapshot, got %+v", expired[0])
	}
	again, err := store.MarkExpired(context.Background(), asOf, nil)
	if err != nil {
		test.Fatalf("mark expired again: %v", err)
	}
	if len(again) != 0 {
		test.Fatalf("expected no lots on repeat sweep, got %d", len(again))
	}
}

func TestSummarizeAvailableGroupsByKind(test *testing.T) {
	test.Parallel()
	store, _ := newTestStore(test)
	userID := mustUserID(test, "user-summary")
	mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 60, time.Date(2024, time.July, 31, 23, 59, 59, 0, time.UTC))
	mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 15, time.Date(2024, time.August, 31, 23, 59, 59, 0, time.UTC))
	mustCreateLot(test, store, userID, pointledger.CategoryCorporateProduct, 40, time.Date(2024, time.July, 31, 23, 59, 59, 0, time.UTC))
	// Already past expiry at the test clock; must not be counted.
	mustCreateLot(test, store, userID, pointledger.CategoryDigitalGift, 99, time.Date(2023, time.December, 31, 23, 59, 59, 0, time.UTC))

	balances, err := store.SummarizeAvailable(context.Background(), userID, testClock)
	if err != nil {
		test.Fatalf("summarize: %v", err)
	}
	byKind := make(map[pointledger.CategoryKind]int64, len(balances))
	for _, balance := range balances {
		byKind[balance.Kind] = balance.Balance
	}
	if byKind[pointledger.CategoryDigitalGift] != 75 {
		test.Fatalf("expected 75 digital, got %d", byKind[pointledger.CategoryDigitalGift])
	}
	if byKind[pointledger.CategoryCorporateProduct] != 40 {
		test.Fatalf("expected 40 corporate, got %d", byKind[pointledger.CategoryCorporateProduct])
	}
}

func TestTransactionsAreImmutable(test *testing.T) {
	test.Parallel()
	store, db := newTestStore(test)
	userID := mustUserID(test, "user-immutable")

	appended, err := store.AppendTransaction(context.Background(), pointledger.TransactionInput{
		UserID:       userID,
		Type:         pointledger.TransactionGrant,
		Kind:         pointledger.CategoryDigitalGift,
		Amount:       60,
		BalanceAfter: 60,
		Reason:       mustReason(test, "award"),
		CreatedAt:    testClock,
	})
	if err != nil {
		test.Fatalf("append: %v", err)
	}

	var model PointTransaction
	if err := db.Where("transaction_id = ?", appended.TransactionID).Take(&model).Error; err != nil {
		test.Fatalf("load: %v", err)
	}
	err = db.Model(&model).Update("amount", 999).Error
	if !errors.Is(err, pointledger.ErrImmutableRecord) {
		test.Fatalf("expected ErrImmutableRecord on update, got %v", err)
	}
	err = db.Delete(&model).Error
	if !errors.Is(err, pointledger.ErrImmutableRecord) {
		test.Fatalf("expected ErrImmutableRecord on delete, got %v", err)
	}
	var count int64
	if err := db.Model(&PointTransaction{}).Count(&count).Error; err != nil {
		test.Fatalf("count: %v", err)
	}
	if count != 1 {
		test.Fatalf("expected transaction row preserved, got %d", count)
	}
}

func TestListTransactionsFiltersAndPaginates(test *testing.T) {
	test.Parallel()
	store, _ := newTestStore(test)
	userID := mustUserID(test, "user-list")

	for index := 0; index < 5; index++ {
		transactionType := pointledger.TransactionGrant
		amount := int64(10)
		if index%2 == 1 {
			transactionType = pointledger.TransactionExchange
			amount = -10
		}
		_, err := store.AppendTransaction(context.Background(), pointledger.TransactionInput{
			UserID:       userID,
			Type:         transactionType,
			Kind:         pointledger.CategoryDigitalGift,
			Amount:       amount,
			BalanceAfter: 0,
			Reason:       mustReason(test, fmt.Sprintf("entry %d", index)),
			CreatedAt:    testClock.Add(time.Duration(index) * time.Minute),
		})
		if err != nil {
			test.Fatalf("append %d: %v", index, err)
		}
	}

	rows, err := store.ListTransactions(context.Background(), pointledger.TransactionFilter{UserID: &userID})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(rows) != 5 {
		test.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if !rows[0].CreatedAt.After(rows[4].CreatedAt) {
		test.Fatalf("expected newest first, got %v then %v", rows[0].CreatedAt, rows[4].CreatedAt)
	}

	exchangeType := pointledger.TransactionExchange
	rows, err = store.ListTransactions(context.Background(), pointledger.TransactionFilter{UserID: &userID, Type: &exchangeType})
	if err != nil {
		test.Fatalf("list exchanges: %v", err)
	}
	if len(rows) != 2 {
		test.Fatalf("expected 2 exchanges, got %d", len(rows))
	}

	rows, err = store.ListTransactions(context.Background(), pointledger.TransactionFilter{UserID: &userID, Limit: 2, Offset: 2})
	if err != nil {
		test.Fatalf("list page: %v", err)
	}
	if len(rows) != 2 {
		test.Fatalf("expected page of 2, got %d", len(rows))
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	store, db := newTestStore(test)
	userID := mustUserID(test, "user-rollback")
	sentinel := errors.New("abort")

	err := store.WithTx(context.Background(), func(ctx context.Context, txStore pointledger.Store) error {
		_, err := txStore.CreateLot(ctx, pointledger.LotInput{
			UserID:        userID,
			Kind:          pointledger.CategoryDigitalGift,
			GrantedPoints: 10,
			Reason:        mustReason(test, "doomed"),
			IssuedAt:      testClock,
			ExpiresAt:     time.Date(2024, time.July, 31, 23, 59, 59, 0, time.UTC),
		})
		if err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		test.Fatalf("expected sentinel error, got %v", err)
	}
	var count int64
	if err := db.Model(&PointLot{}).Count(&count).Error; err != nil {
		test.Fatalf("count: %v", err)
	}
	if count != 0 {
		test.Fatalf("expected rollback to discard lot, got %d rows", count)
	}
}

func mustCreateLot(test *testing.T, store *Store, userID pointledger.UserID, kind pointledger.CategoryKind, points int64, expiresAt time.Time) pointledger.Lot {
	test.Helper()
	lot, err := store.CreateLot(context.Background(), pointledger.LotInput{
		UserID:        userID,
		Kind:          kind,
		GrantedPoints: points,
		Reason:        mustReason(test, "seeded"),
		IssuedAt:      testClock,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		test.Fatalf("create lot: %v", err)
	}
	return lot
}

func mustUserID(test *testing.T, raw string) pointledger.UserID {
	test.Helper()
	value, err := pointledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustReason(test *testing.T, raw string) pointledger.Reason {
	test.Helper()
	value, err := pointledger.NewReason(raw)
	if err != nil {
		test.Fatalf("reason: %v", err)
	}
	return value
}
