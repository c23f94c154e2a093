// Package redemption coordinates product exchanges against the point ledger.
// It owns the product catalog and exchange records; all point movement goes
// through the ledger engine so the transaction log stays the single source
// of truth.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewardstack/pointledger/pkg/pointledger"
)

var (
	ErrUnknownProduct   = errors.New("unknown product")
	ErrInactiveProduct  = errors.New("product not active")
	ErrUnknownExchange  = errors.New("unknown exchange")
	ErrExchangeClosed   = errors.New("exchange already closed")
	ErrInvalidNextState = errors.New("invalid exchange state transition")
	ErrUnfundedExchange = errors.New("exchange has no ledger charge")
)

// ExchangeStatus tracks fulfillment progress of a redemption.
type ExchangeStatus string

const (
	StatusPending    ExchangeStatus = "pending"
	StatusProcessing ExchangeStatus = "processing"
	StatusCompleted  ExchangeStatus = "completed"
	StatusCancelled  ExchangeStatus = "cancelled"
)

// ParseExchangeStatus validates a raw status value.
func ParseExchangeStatus(raw string) (ExchangeStatus, error) {
	switch ExchangeStatus(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return ExchangeStatus(raw), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidNextState, raw)
}

// String returns the status as stored.
func (status ExchangeStatus) String() string {
	return string(status)
}

// terminal statuses accept no further transitions.
func (status ExchangeStatus) terminal() bool {
	return status == StatusCompleted || status == StatusCancelled
}

func (status ExchangeStatus) next() (ExchangeStatus, error) {
	switch status {
	case StatusPending:
		return StatusProcessing, nil
	case StatusProcessing:
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("%w: no transition from %q", ErrInvalidNextState, status)
}

// Product is one redeemable catalog item. RequiredPoints is charged against
// the category named by Kind.
type Product struct {
	ID             int64
	Kind           pointledger.CategoryKind
	Name           string
	Description    string
	RequiredPoints int64
	Active         bool
	SortOrder      int64
}

// Exchange is one redemption of a product by a user.
type Exchange struct {
	ID         int64
	UserID     string
	ProductID  int64
	Kind       pointledger.CategoryKind
	PointsUsed int64
	Status     ExchangeStatus
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ExchangeInput carries the fields needed to persist a new exchange record.
type ExchangeInput struct {
	UserID     pointledger.UserID
	ProductID  int64
	Kind       pointledger.CategoryKind
	PointsUsed int64
	Status     ExchangeStatus
	Notes      string
	CreatedAt  time.Time
}

// CatalogStore is the persistence contract for products and exchanges.
type CatalogStore interface {
	GetProduct(ctx context.Context, productID int64) (Product, error)
	ListProducts(ctx context.Context, kind *pointledger.CategoryKind, activeOnly bool) ([]Product, error)
	CreateExchange(ctx context.Context, input ExchangeInput) (Exchange, error)
	GetExchange(ctx context.Context, exchangeID int64) (Exchange, error)
	UpdateExchangeStatus(ctx context.Context, exchangeID int64, from, to ExchangeStatus) error
}

// Ledger is the slice of the ledger engine the coordinator needs.
type Ledger interface {
	Summarize(ctx context.Context, userID pointledger.UserID) (pointledger.Summary, error)
	Consume(ctx context.Context, userID pointledger.UserID, kind pointledger.CategoryKind, requiredPoints pointledger.PositivePoints, reason pointledger.Reason, link pointledger.TransactionLink) ([]pointledger.Consumption, error)
	Adjust(ctx context.Context, userID pointledger.UserID, kind pointledger.CategoryKind, delta int64, reason pointledger.Reason, adjustedBy *pointledger.UserID) error
	QueryTransactions(ctx context.Context, filter pointledger.TransactionFilter) ([]pointledger.Transaction, error)
}

// Coordinator validates redemptions and drives exchange state transitions.
type Coordinator struct {
	catalog CatalogStore
	ledger  Ledger
	nowFn   func() time.Time
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(catalog CatalogStore, ledger Ledger, now func() time.Time) (*Coordinator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", pointledger.ErrInvalidServiceConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", pointledger.ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", pointledger.ErrInvalidServiceConfig)
	}
	return &Coordinator{catalog: catalog, ledger: ledger, nowFn: now}, nil
}

// Products lists catalog items, optionally narrowed to one category.
func (coordinator *Coordinator) Products(ctx context.Context, kind *pointledger.CategoryKind) ([]Product, error) {
	return coordinator.catalog.ListProducts(ctx, kind, true)
}

// Redeem charges the product's point cost against the user's balance in the
// product's category and records the exchange. The balance check happens up
// front so an obviously short balance never creates an exchange record; the
// consume itself re-checks under its serialization lock.
func (coordinator *Coordinator) Redeem(ctx context.Context, userID pointledger.UserID, productID int64, notes string) (Exchange, error) {
	product, err := coordinator.catalog.GetProduct(ctx, productID)
	if err != nil {
		return Exchange{}, err
	}
	if !product.Active {
		return Exchange{}, fmt.Errorf("%w: product %d", ErrInactiveProduct, productID)
	}
	summary, err := coordinator.ledger.Summarize(ctx, userID)
	if err != nil {
		return Exchange{}, err
	}
	if summary.BalanceFor(product.Kind) < product.RequiredPoints {
		return Exchange{}, fmt.Errorf("%w: product %q needs %d, have %d",
			pointledger.ErrInsufficientBalance, product.Name, product.RequiredPoints, summary.BalanceFor(product.Kind))
	}

	exchange, err := coordinator.catalog.CreateExchange(ctx, ExchangeInput{
		UserID:     userID,
		ProductID:  product.ID,
		Kind:       product.Kind,
		PointsUsed: product.RequiredPoints,
		Status:     StatusPending,
		Notes:      notes,
		CreatedAt:  coordinator.nowFn().UTC(),
	})
	if err != nil {
		return Exchange{}, err
	}

	requiredPoints, err := pointledger.NewPositivePoints(product.RequiredPoints)
	if err != nil {
		return Exchange{}, err
	}
	reason, err := pointledger.NewReason(fmt.Sprintf("redeem %s", product.Name))
	if err != nil {
		return Exchange{}, err
	}
	_, err = coordinator.ledger.Consume(ctx, userID, product.Kind, requiredPoints, reason, pointledger.TransactionLink{
		ProductID:  &product.ID,
		ExchangeID: &exchange.ID,
	})
	if err != nil {
		// The exchange never charged; close it so it cannot be advanced.
		// If the close itself fails the record stays pending, and Advance
		// refuses pending exchanges without a matching ledger charge.
		if cancelErr := coordinator.catalog.UpdateExchangeStatus(ctx, exchange.ID, StatusPending, StatusCancelled); cancelErr != nil {
			return Exchange{}, fmt.Errorf("%w (closing exchange %d also failed: %v)", err, exchange.ID, cancelErr)
		}
		return Exchange{}, err
	}
	return exchange, nil
}

// funded reports whether an exchange transaction linked to this exchange was
// ever appended to the ledger.
func (coordinator *Coordinator) funded(ctx context.Context, exchange Exchange) (bool, error) {
	userID, err := pointledger.NewUserID(exchange.UserID)
	if err != nil {
		return false, err
	}
	exchangeType := pointledger.TransactionExchange
	transactions, err := coordinator.ledger.QueryTransactions(ctx, pointledger.TransactionFilter{UserID: &userID, Type: &exchangeType})
	if err != nil {
		return false, err
	}
	for _, transaction := range transactions {
		if transaction.Link.ExchangeID != nil && *transaction.Link.ExchangeID == exchange.ID {
			return true, nil
		}
	}
	return false, nil
}

// Advance moves an exchange one step along pending, processing, completed.
// A pending exchange only advances once its ledger charge exists, so a
// record orphaned by a failed redeem can never reach fulfillment.
func (coordinator *Coordinator) Advance(ctx context.Context, exchangeID int64) (Exchange, error) {
	exchange, err := coordinator.catalog.GetExchange(ctx, exchangeID)
	if err != nil {
		return Exchange{}, err
	}
	if exchange.Status.terminal() {
		return Exchange{}, fmt.Errorf("%w: exchange %d is %s", ErrExchangeClosed, exchangeID, exchange.Status)
	}
	if exchange.Status == StatusPending {
		charged, err := coordinator.funded(ctx, exchange)
		if err != nil {
			return Exchange{}, err
		}
		if !charged {
			return Exchange{}, fmt.Errorf("%w: exchange %d", ErrUnfundedExchange, exchangeID)
		}
	}
	nextStatus, err := exchange.Status.next()
	if err != nil {
		return Exchange{}, err
	}
	if err := coordinator.catalog.UpdateExchangeStatus(ctx, exchangeID, exchange.Status, nextStatus); err != nil {
		return Exchange{}, err
	}
	exchange.Status = nextStatus
	return exchange, nil
}

// Cancel closes a pending or processing exchange and refunds the charged
// points as a positive adjustment. Completed and cancelled exchanges are
// final. An exchange that was never charged is closed without a refund.
func (coordinator *Coordinator) Cancel(ctx context.Context, exchangeID int64, cancelledBy *pointledger.UserID) (Exchange, error) {
	exchange, err := coordinator.catalog.GetExchange(ctx, exchangeID)
	if err != nil {
		return Exchange{}, err
	}
	if exchange.Status.terminal() {
		return Exchange{}, fmt.Errorf("%w: exchange %d is %s", ErrExchangeClosed, exchangeID, exchange.Status)
	}
	charged, err := coordinator.funded(ctx, exchange)
	if err != nil {
		return Exchange{}, err
	}
	if err := coordinator.catalog.UpdateExchangeStatus(ctx, exchangeID, exchange.Status, StatusCancelled); err != nil {
		return Exchange{}, err
	}
	if !charged {
		exchange.Status = StatusCancelled
		return exchange, nil
	}
	userID, err := pointledger.NewUserID(exchange.UserID)
	if err != nil {
		return Exchange{}, err
	}
	reason, err := pointledger.NewReason(fmt.Sprintf("exchange %d cancelled", exchangeID))
	if err != nil {
		return Exchange{}, err
	}
	if err := coordinator.ledger.Adjust(ctx, userID, exchange.Kind, exchange.PointsUsed, reason, cancelledBy); err != nil {
		return Exchange{}, err
	}
	exchange.Status = StatusCancelled
	return exchange, nil
}
