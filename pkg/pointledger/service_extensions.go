package pointledger

import (
	"context"
	"fmt"
	"time"
)

// Adjust applies a manual correction. A positive delta creates a fresh lot;
// a negative delta draws down available lots FIFO like a consume. Either way
// exactly one adjustment transaction is appended.
func (service *Service) Adjust(ctx context.Context, userID UserID, kind CategoryKind, delta int64, reason Reason, adjustedBy *UserID) error {
	if delta == 0 {
		return fmt.Errorf("%w: zero adjustment", ErrInvalidAmount)
	}
	if delta < 0 {
		release, err := service.locks.acquire(ctx, consumeLockKey(userID, kind), service.lockTimeout)
		if err != nil {
			return err
		}
		defer release()
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		now := service.nowFn().UTC()
		var lotLink TransactionLink
		if delta > 0 {
			lot, err := transactionStore.CreateLot(ctx, LotInput{
				UserID:        userID,
				Kind:          kind,
				GrantedPoints: delta,
				Reason:        reason,
				IssuedAt:      now,
				ExpiresAt:     ExpiryDate(now, service.expiryMonths),
			})
			if err != nil {
				return err
			}
			lotID := lot.LotID
			lotLink.LotID = &lotID
		} else {
			kindFilter := kind
			lots, err := transactionStore.AvailableLots(ctx, userID, &kindFilter, now)
			if err != nil {
				return err
			}
			var totalAvailable int64
			for _, lot := range lots {
				totalAvailable += lot.RemainingPoints
			}
			required := -delta
			if totalAvailable < required {
				return fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, required, totalAvailable)
			}
			for _, lot := range lots {
				if required <= 0 {
					break
				}
				consumeAmount := required
				if lot.RemainingPoints < consumeAmount {
					consumeAmount = lot.RemainingPoints
				}
				if err := transactionStore.DecrementLot(ctx, lot.LotID, consumeAmount, now); err != nil {
					return err
				}
				required -= consumeAmount
			}
		}
		balanceAfter, err := transactionStore.SumAvailable(ctx, userID, kind, now)
		if err != nil {
			return err
		}
		_, err = transactionStore.AppendTransaction(ctx, TransactionInput{
			UserID:       userID,
			Type:         TransactionAdjustment,
			Kind:         kind,
			Amount:       delta,
			BalanceAfter: balanceAfter,
			Reason:       reason,
			Link:         lotLink,
			CreatedBy:    adjustedBy,
			CreatedAt:    now,
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAdjust,
		UserID:    userID,
		Kind:      kind,
		Amount:    delta,
		Reason:    reason.String(),
		Error:     operationError,
	})
	return operationError
}

// ExpiringSoon lists the user's available lots whose expiry falls within the
// given window, nearest first.
func (service *Service) ExpiringSoon(ctx context.Context, userID UserID, within time.Duration) ([]Lot, error) {
	now := service.nowFn().UTC()
	lots, err := service.store.AvailableLots(ctx, userID, nil, now)
	if err != nil {
		return nil, err
	}
	threshold := now.Add(within)
	expiring := make([]Lot, 0, len(lots))
	for _, lot := range lots {
		if !lot.ExpiresAt.After(threshold) {
			expiring = append(expiring, lot)
		}
	}
	return expiring, nil
}
