package pointledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserID identifies a lot owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// CategoryKind enumerates the point categories a grant is split across.
type CategoryKind string

const (
	CategoryDigitalGift      CategoryKind = "digital_gift"
	CategoryCorporateProduct CategoryKind = "corporate_product"
)

// ParseCategoryKind validates a raw category kind.
func ParseCategoryKind(raw string) (CategoryKind, error) {
	switch CategoryKind(raw) {
	case CategoryDigitalGift, CategoryCorporateProduct:
		return CategoryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategoryKind, raw)
}

// String returns the kind as stored.
func (kind CategoryKind) String() string {
	return string(kind)
}

// Category is a registered point category with its grant-split ratio.
type Category struct {
	ID               int64
	Kind             CategoryKind
	RatioBasisPoints int64
	Description      string
	Active           bool
}

// PositivePoints is a strictly positive point amount.
type PositivePoints struct {
	value int64
}

// NewPositivePoints validates an amount and ensures it is strictly positive.
func NewPositivePoints(raw int64) (PositivePoints, error) {
	if raw <= 0 {
		return PositivePoints{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositivePoints{value: raw}, nil
}

// Int64 returns the raw amount.
func (points PositivePoints) Int64() int64 {
	return points.value
}

// Reason is the human-readable cause attached to grants and consumptions.
type Reason struct {
	value string
}

// NewReason validates and normalizes a reason string.
func NewReason(raw string) (Reason, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reason{}, fmt.Errorf("%w: empty value", ErrInvalidReason)
	}
	return Reason{value: trimmed}, nil
}

// String returns the normalized reason.
func (reason Reason) String() string {
	return reason.value
}

// MetadataJSON stores arbitrary request metadata on a transaction.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// Lot is a single point grant batch with its own expiry and remaining balance.
type Lot struct {
	LotID           string
	Sequence        int64
	UserID          string
	Kind            CategoryKind
	GrantedPoints   int64
	RemainingPoints int64
	Reason          string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	Expired         bool
}

// Available reports whether the lot can still be drawn from at the given time.
func (lot Lot) Available(asOf time.Time) bool {
	return lot.RemainingPoints > 0 && !lot.Expired && lot.ExpiresAt.After(asOf)
}

// LotInput carries the fields needed to persist a new lot.
type LotInput struct {
	UserID        UserID
	Kind          CategoryKind
	GrantedPoints int64
	Reason        Reason
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionGrant      TransactionType = "grant"
	TransactionExchange   TransactionType = "exchange"
	TransactionExpire     TransactionType = "expire"
	TransactionAdjustment TransactionType = "adjustment"
)

// ParseTransactionType validates a raw transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionGrant, TransactionExchange, TransactionExpire, TransactionAdjustment:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the type as stored.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// TransactionLink carries optional weak references from a transaction to the
// record that caused it. Links are ids only; the log never owns the targets.
type TransactionLink struct {
	LotID      *string
	ProductID  *int64
	ExchangeID *int64
}

// Transaction is a single immutable line in the point ledger.
type Transaction struct {
	TransactionID string
	UserID        string
	Type          TransactionType
	Kind          CategoryKind
	Amount        int64
	BalanceAfter  int64
	Reason        string
	Link          TransactionLink
	CreatedBy     *string
	Metadata      string
	CreatedAt     time.Time
}

// TransactionInput carries the fields needed to append a ledger line.
type TransactionInput struct {
	UserID       UserID
	Type         TransactionType
	Kind         CategoryKind
	Amount       int64
	BalanceAfter int64
	Reason       Reason
	Link         TransactionLink
	CreatedBy    *UserID
	Metadata     MetadataJSON
	CreatedAt    time.Time
}

// TransactionFilter narrows a transaction log query. Nil fields match everything.
type TransactionFilter struct {
	UserID *UserID
	Kind   *CategoryKind
	Type   *TransactionType
	Since  *time.Time
	Limit  int
	Offset int
}

// Consumption records how much was drawn from one lot during a consume.
type Consumption struct {
	LotID          string
	ConsumedPoints int64
}

// CategoryBalance is one category's derived available balance.
type CategoryBalance struct {
	Kind    CategoryKind
	Balance int64
}

// Summary is the authoritative balance view for a user.
type Summary struct {
	Balances map[CategoryKind]int64
	Total    int64
}

// BalanceFor returns the available balance for one category.
func (summary Summary) BalanceFor(kind CategoryKind) int64 {
	return summary.Balances[kind]
}

// Store is the persistence contract used by Service.
// (gormstore and pgstore both implement this.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	ResolveCategory(ctx context.Context, kind CategoryKind) (Category, error)
	ActiveCategories(ctx context.Context) ([]Category, error)
	CreateLot(ctx context.Context, input LotInput) (Lot, error)
	AvailableLots(ctx context.Context, userID UserID, kind *CategoryKind, asOf time.Time) ([]Lot, error)
	DecrementLot(ctx context.Context, lotID string, amount int64, asOf time.Time) error
	MarkExpired(ctx context.Context, asOf time.Time, userID *UserID) ([]Lot, error)
	SumAvailable(ctx context.Context, userID UserID, kind CategoryKind, asOf time.Time) (int64, error)
	SummarizeAvailable(ctx context.Context, userID UserID, asOf time.Time) ([]CategoryBalance, error)
	AppendTransaction(ctx context.Context, input TransactionInput) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}
