package pointledger

import (
	"context"
	"fmt"
	"time"
)

// Service is the ledger engine: it orchestrates grant splitting, lot
// creation, FIFO consumption, expiry sweeps, and balance summarization over
// a Store. Balances are always derived by summing available lots at read
// time; no cached balance column exists anywhere.
type Service struct {
	store        Store
	nowFn        func() time.Time
	logger       OperationLogger
	locks        *lockRegistry
	lockTimeout  time.Duration
	expiryMonths int
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:        store,
		nowFn:        now,
		locks:        newLockRegistry(),
		lockTimeout:  defaultLockTimeout,
		expiryMonths: defaultExpiryHorizonMonths,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Grant splits totalPoints across the two active categories by the primary
// category's ratio and creates one lot plus one grant transaction per
// non-zero share. The secondary category receives the floor remainder, so no
// point is lost or created to rounding.
func (service *Service) Grant(ctx context.Context, userID UserID, totalPoints PositivePoints, reason Reason, grantedBy *UserID) ([]Lot, error) {
	var lots []Lot
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		primaryCategory, err := transactionStore.ResolveCategory(ctx, CategoryDigitalGift)
		if err != nil {
			return err
		}
		secondaryCategory, err := transactionStore.ResolveCategory(ctx, CategoryCorporateProduct)
		if err != nil {
			return err
		}
		if err := validateSplitRatios(primaryCategory, secondaryCategory); err != nil {
			return err
		}
		primaryAmount, secondaryAmount := splitGrant(totalPoints.Int64(), primaryCategory.RatioBasisPoints)
		now := service.nowFn().UTC()
		expiresAt := ExpiryDate(now, service.expiryMonths)
		shares := []struct {
			category Category
			amount   int64
		}{
			{category: primaryCategory, amount: primaryAmount},
			{category: secondaryCategory, amount: secondaryAmount},
		}
		for _, share := range shares {
			if share.amount <= 0 {
				continue
			}
			lot, err := transactionStore.CreateLot(ctx, LotInput{
				UserID:        userID,
				Kind:          share.category.Kind,
				GrantedPoints: share.amount,
				Reason:        reason,
				IssuedAt:      now,
				ExpiresAt:     expiresAt,
			})
			if err != nil {
				return err
			}
			balanceAfter, err := transactionStore.SumAvailable(ctx, userID, share.category.Kind, now)
			if err != nil {
				return err
			}
			lotID := lot.LotID
			if _, err := transactionStore.AppendTransaction(ctx, TransactionInput{
				UserID:       userID,
				Type:         TransactionGrant,
				Kind:         share.category.Kind,
				Amount:       share.amount,
				BalanceAfter: balanceAfter,
				Reason:       reason,
				Link:         TransactionLink{LotID: &lotID},
				CreatedBy:    grantedBy,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
			lots = append(lots, lot)
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationGrant,
		UserID:    userID,
		Amount:    totalPoints.Int64(),
		Reason:    reason.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return lots, nil
}

// Summarize returns per-category available balances plus the total, derived
// by summing remaining points over available lots at read time. Every balance
// check goes through here; there is no cached field to read instead.
func (service *Service) Summarize(ctx context.Context, userID UserID) (Summary, error) {
	now := service.nowFn().UTC()
	rows, err := service.store.SummarizeAvailable(ctx, userID, now)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Balances: map[CategoryKind]int64{
		CategoryDigitalGift:      0,
		CategoryCorporateProduct: 0,
	}}
	for _, row := range rows {
		summary.Balances[row.Kind] = row.Balance
		summary.Total += row.Balance
	}
	return summary, nil
}

// Consume draws requiredPoints from the user's available lots in FIFO order
// (nearest expiry first) and appends a single exchange transaction. The
// availability check, the lot decrements, and the log append share one
// transactional scope: either all of them land or none do.
func (service *Service) Consume(ctx context.Context, userID UserID, kind CategoryKind, requiredPoints PositivePoints, reason Reason, link TransactionLink) ([]Consumption, error) {
	release, err := service.locks.acquire(ctx, consumeLockKey(userID, kind), service.lockTimeout)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationConsume,
			UserID:    userID,
			Kind:      kind,
			Amount:    requiredPoints.Int64(),
			Reason:    reason.String(),
			Error:     err,
		})
		return nil, err
	}
	defer release()

	var consumptions []Consumption
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		now := service.nowFn().UTC()
		kindFilter := kind
		lots, err := transactionStore.AvailableLots(ctx, userID, &kindFilter, now)
		if err != nil {
			return err
		}
		var totalAvailable int64
		for _, lot := range lots {
			totalAvailable += lot.RemainingPoints
		}
		if totalAvailable < requiredPoints.Int64() {
			return fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, requiredPoints.Int64(), totalAvailable)
		}
		remainingRequired := requiredPoints.Int64()
		for _, lot := range lots {
			if remainingRequired <= 0 {
				break
			}
			consumeAmount := remainingRequired
			if lot.RemainingPoints < consumeAmount {
				consumeAmount = lot.RemainingPoints
			}
			if err := transactionStore.DecrementLot(ctx, lot.LotID, consumeAmount, now); err != nil {
				return err
			}
			consumptions = append(consumptions, Consumption{LotID: lot.LotID, ConsumedPoints: consumeAmount})
			remainingRequired -= consumeAmount
		}
		balanceAfter, err := transactionStore.SumAvailable(ctx, userID, kind, now)
		if err != nil {
			return err
		}
		_, err = transactionStore.AppendTransaction(ctx, TransactionInput{
			UserID:       userID,
			Type:         TransactionExchange,
			Kind:         kind,
			Amount:       -requiredPoints.Int64(),
			BalanceAfter: balanceAfter,
			Reason:       reason,
			Link:         link,
			CreatedAt:    now,
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationConsume,
		UserID:    userID,
		Kind:      kind,
		Amount:    requiredPoints.Int64(),
		Reason:    reason.String(),
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return consumptions, nil
}

// ExpireSweep marks every lot past its expiry as expired and appends one
// expire transaction per newly flipped lot that still had points. The
// expired flag only moves false to true, so repeated sweeps for the same
// asOf never log a forfeiture twice. A nil userID sweeps all users.
func (service *Service) ExpireSweep(ctx context.Context, asOf time.Time, userID *UserID) (int, error) {
	if userID != nil {
		for _, kind := range []CategoryKind{CategoryDigitalGift, CategoryCorporateProduct} {
			release, err := service.locks.acquire(ctx, consumeLockKey(*userID, kind), service.lockTimeout)
			if err != nil {
				return 0, err
			}
			defer release()
		}
	}
	var expiredCount int
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		expiredLots, err := transactionStore.MarkExpired(ctx, asOf.UTC(), userID)
		if err != nil {
			return err
		}
		expiredCount = len(expiredLots)
		for _, lot := range expiredLots {
			if lot.RemainingPoints <= 0 {
				continue
			}
			owner, err := NewUserID(lot.UserID)
			if err != nil {
				return err
			}
			balanceAfter, err := transactionStore.SumAvailable(ctx, owner, lot.Kind, asOf.UTC())
			if err != nil {
				return err
			}
			reason, err := NewReason(fmt.Sprintf("points expired %s", lot.ExpiresAt.UTC().Format("2006-01-02")))
			if err != nil {
				return err
			}
			lotID := lot.LotID
			if _, err := transactionStore.AppendTransaction(ctx, TransactionInput{
				UserID:       owner,
				Type:         TransactionExpire,
				Kind:         lot.Kind,
				Amount:       -lot.RemainingPoints,
				BalanceAfter: balanceAfter,
				Reason:       reason,
				Link:         TransactionLink{LotID: &lotID},
				CreatedAt:    service.nowFn().UTC(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	logEntry := OperationLog{
		Operation: operationExpireSweep,
		Amount:    int64(expiredCount),
		Error:     operationError,
	}
	if userID != nil {
		logEntry.UserID = *userID
	}
	service.logOperation(ctx, logEntry)
	if operationError != nil {
		return 0, operationError
	}
	return expiredCount, nil
}

// QueryTransactions lists ledger entries, newest first.
func (service *Service) QueryTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidTransactionFilter)
	}
	return service.store.ListTransactions(ctx, filter)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func validateSplitRatios(primary Category, secondary Category) error {
	if !primary.Active || !secondary.Active {
		return fmt.Errorf("%w: inactive category in split", ErrConfiguration)
	}
	if primary.RatioBasisPoints <= 0 || primary.RatioBasisPoints >= RatioScale {
		return fmt.Errorf("%w: primary ratio %d out of range", ErrConfiguration, primary.RatioBasisPoints)
	}
	if primary.RatioBasisPoints+secondary.RatioBasisPoints != RatioScale {
		return fmt.Errorf("%w: ratios sum to %d, want %d", ErrConfiguration, primary.RatioBasisPoints+secondary.RatioBasisPoints, RatioScale)
	}
	return nil
}
