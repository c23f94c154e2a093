package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rewardstack/pointledger/pkg/pointledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectCategory  = "category"
	errorSubjectLot       = "lot"
	errorSubjectBalance   = "balance"
	errorSubjectLedger    = "ledger"
	errorCodeResolve      = "resolve"
	errorCodeCreate       = "create"
	errorCodeDecrement    = "decrement"
	errorCodeSweep        = "sweep"
	errorCodeSum          = "sum"
	errorCodeSummarize    = "summarize"
	errorCodeAppend       = "append"
	errorCodeList         = "list"
	errorCodeInvalid      = "invalid"
)

// Store implements pointledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the ledger tables. Intended for sqlite deployments; the
// postgres schema ships as migrations.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&PointCategory{}, &PointLot{}, &PointTransaction{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore pointledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) ResolveCategory(ctx context.Context, kind pointledger.CategoryKind) (pointledger.Category, error) {
	defaults, err := pointledger.DefaultCategory(kind)
	if err != nil {
		return pointledger.Category{}, wrapStoreError(errorSubjectCategory, errorCodeInvalid, err)
	}
	var model PointCategory
	err = store.db.WithContext(ctx).
		Where(PointCategory{Kind: kind.String()}).
		Attrs(PointCategory{
			RatioBasisPoints: defaults.RatioBasisPoints,
			Description:      defaults.Description,
			Active:           true,
		}).
		FirstOrCreate(&model).Error
	if isUniqueViolation(err) {
		// Lost a create race; the row exists now.
		err = store.db.WithContext(ctx).Where("kind = ?", kind.String()).Take(&model).Error
	}
	if err != nil {
		return pointledger.Category{}, wrapStoreError(errorSubjectCategory, errorCodeResolve, err)
	}
	return mapCategory(model), nil
}

func (store *Store) ActiveCategories(ctx context.Context) ([]pointledger.Category, error) {
	var models []PointCategory
	err := store.db.WithContext(ctx).
		Where("active = ?", true).
		Order("kind asc").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCategory, errorCodeList, err)
	}
	categories := make([]pointledger.Category, 0, len(models))
	for _, model := range models {
		categories = append(categories, mapCategory(model))
	}
	return categories, nil
}

func (store *Store) CreateLot(ctx context.Context, input pointledger.LotInput) (pointledger.Lot, error) {
	model := PointLot{
		UserID:          input.UserID.String(),
		Kind:            input.Kind.String(),
		GrantedPoints:   input.GrantedPoints,
		RemainingPoints: input.GrantedPoints,
		Reason:          input.Reason.String(),
		IssuedAt:        input.IssuedAt.UTC(),
		ExpiresAt:       input.ExpiresAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return pointledger.Lot{}, wrapStoreError(errorSubjectLot, errorCodeCreate, err)
	}
	lot, err := mapLot(model)
	if err != nil {
		return pointledger.Lot{}, wrapStoreError(errorSubjectLot, errorCodeInvalid, err)
	}
	return lot, nil
}

func (store *Store) AvailableLots(ctx context.Context, userID pointledger.UserID, kind *pointledger.CategoryKind, asOf time.Time) ([]pointledger.Lot, error) {
	query := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Where("remaining_points > 0").
		Where("expired = ?", false).
		Where("expires_at > ?", asOf.UTC())
	if kind != nil {
		query = query.Where("kind = ?", kind.String())
	}
	var models []PointLot
	err := query.Order("expires_at asc, sequence asc").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLot, errorCodeList, err)
	}
	lots := make([]pointledger.Lot, 0, len(models))
	for _, model := range models {
		lot, err := mapLot(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLot, errorCodeInvalid, err)
		}
		lots = append(lots, lot)
	}
	return lots, nil
}

func (store *Store) DecrementLot(ctx context.Context, lotID string, amount int64, asOf time.Time) error {
	if amount <= 0 {
		return wrapStoreError(errorSubjectLot, errorCodeInvalid, pointledger.ErrInvalidAmount)
	}
	result := store.db.WithContext(ctx).
		Model(&PointLot{}).
		Where("lot_id = ?", lotID).
		Where("expired = ?", false).
		Where("expires_at > ?", asOf.UTC()).
		Where("remaining_points >= ?", amount).
		Update("remaining_points", gorm.Expr("remaining_points - ?", amount))
	if result.Error != nil {
		return wrapStoreError(errorSubjectLot, errorCodeDecrement, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := store.db.WithContext(ctx).Model(&PointLot{}).Where("lot_id = ?", lotID).Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectLot, errorCodeDecrement, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectLot, errorCodeDecrement, pointledger.ErrUnknownLot)
		}
		return wrapStoreError(errorSubjectLot, errorCodeDecrement, pointledger.ErrInsufficientLotBalance)
	}
	return nil
}

func (store *Store) MarkExpired(ctx context.Context, asOf time.Time, userID *pointledger.UserID) ([]pointledger.Lot, error) {
	query := store.db.WithContext(ctx).
		Where("expired = ?", false).
		Where("expires_at <= ?", asOf.UTC())
	if userID != nil {
		query = query.Where("user_id = ?", userID.String())
	}
	var models []PointLot
	if err := query.Order("sequence asc").Find(&models).Error; err != nil {
		return nil, wrapStoreError(errorSubjectLot, errorCodeSweep, err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	sequences := make([]int64, 0, len(models))
	for _, model := range models {
		sequences = append(sequences, model.Sequence)
	}
	result := store.db.WithContext(ctx).
		Model(&PointLot{}).
		Where("sequence in ?", sequences).
		Where("expired = ?", false).
		Update("expired", true)
	if result.Error != nil {
		return nil, wrapStoreError(errorSubjectLot, errorCodeSweep, result.Error)
	}
	lots := make([]pointledger.Lot, 0, len(models))
	for _, model := range models {
		model.Expired = true
		lot, err := mapLot(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLot, errorCodeInvalid, err)
		}
		lots = append(lots, lot)
	}
	return lots, nil
}

func (store *Store) SumAvailable(ctx context.Context, userID pointledger.UserID, kind pointledger.CategoryKind, asOf time.Time) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&PointLot{}).
		Select("coalesce(sum(remaining_points),0) as total").
		Where("user_id = ?", userID.String()).
		Where("kind = ?", kind.String()).
		Where("remaining_points > 0").
		Where("expired = ?", false).
		Where("expires_at > ?", asOf.UTC()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum.Total, nil
}

func (store *Store) SummarizeAvailable(ctx context.Context, userID pointledger.UserID, asOf time.Time) ([]pointledger.CategoryBalance, error) {
	var rows []sqlKindSum
	err := store.db.WithContext(ctx).
		Model(&PointLot{}).
		Select("kind, coalesce(sum(remaining_points),0) as total").
		Where("user_id = ?", userID.String()).
		Where("remaining_points > 0").
		Where("expired = ?", false).
		Where("expires_at > ?", asOf.UTC()).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeSummarize, err)
	}
	balances := make([]pointledger.CategoryBalance, 0, len(rows))
	for _, row := range rows {
		kind, err := pointledger.ParseCategoryKind(row.Kind)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
		}
		balances = append(balances, pointledger.CategoryBalance{Kind: kind, Balance: row.Total})
	}
	return balances, nil
}

func (store *Store) AppendTransaction(ctx context.Context, input pointledger.TransactionInput) (pointledger.Transaction, error) {
	var createdBy *string
	if input.CreatedBy != nil {
		value := input.CreatedBy.String()
		createdBy = &value
	}
	model := PointTransaction{
		UserID:       input.UserID.String(),
		Type:         input.Type.String(),
		Kind:         input.Kind.String(),
		Amount:       input.Amount,
		BalanceAfter: input.BalanceAfter,
		Reason:       input.Reason.String(),
		LotID:        input.Link.LotID,
		ProductID:    input.Link.ProductID,
		ExchangeID:   input.Link.ExchangeID,
		CreatedBy:    createdBy,
		Metadata:     datatypesJSON(input.Metadata.String()),
		CreatedAt:    input.CreatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return pointledger.Transaction{}, wrapStoreError(errorSubjectLedger, errorCodeAppend, err)
	}
	transaction, err := mapTransaction(model)
	if err != nil {
		return pointledger.Transaction{}, wrapStoreError(errorSubjectLedger, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *Store) ListTransactions(ctx context.Context, filter pointledger.TransactionFilter) ([]pointledger.Transaction, error) {
	query := store.db.WithContext(ctx).Model(&PointTransaction{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", filter.UserID.String())
	}
	if filter.Kind != nil {
		query = query.Where("kind = ?", filter.Kind.String())
	}
	if filter.Type != nil {
		query = query.Where("type = ?", filter.Type.String())
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", filter.Since.UTC())
	}
	query = query.Order("created_at desc, transaction_id desc")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var models []PointTransaction
	if err := query.Find(&models).Error; err != nil {
		return nil, wrapStoreError(errorSubjectLedger, errorCodeList, err)
	}
	transactions := make([]pointledger.Transaction, 0, len(models))
	for _, model := range models {
		transaction, err := mapTransaction(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLedger, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return pointledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

type sqlKindSum struct {
	Kind  string
	Total int64
}

func mapCategory(model PointCategory) pointledger.Category {
	return pointledger.Category{
		ID:               model.ID,
		Kind:             pointledger.CategoryKind(model.Kind),
		RatioBasisPoints: model.RatioBasisPoints,
		Description:      model.Description,
		Active:           model.Active,
	}
}

func mapLot(model PointLot) (pointledger.Lot, error) {
	kind, err := pointledger.ParseCategoryKind(model.Kind)
	if err != nil {
		return pointledger.Lot{}, err
	}
	return pointledger.Lot{
		LotID:           model.LotID,
		Sequence:        model.Sequence,
		UserID:          model.UserID,
		Kind:            kind,
		GrantedPoints:   model.GrantedPoints,
		RemainingPoints: model.RemainingPoints,
		Reason:          model.Reason,
		IssuedAt:        model.IssuedAt.UTC(),
		ExpiresAt:       model.ExpiresAt.UTC(),
		Expired:         model.Expired,
	}, nil
}

func mapTransaction(model PointTransaction) (pointledger.Transaction, error) {
	transactionType, err := pointledger.ParseTransactionType(model.Type)
	if err != nil {
		return pointledger.Transaction{}, err
	}
	kind, err := pointledger.ParseCategoryKind(model.Kind)
	if err != nil {
		return pointledger.Transaction{}, err
	}
	return pointledger.Transaction{
		TransactionID: model.TransactionID,
		UserID:        model.UserID,
		Type:          transactionType,
		Kind:          kind,
		Amount:        model.Amount,
		BalanceAfter:  model.BalanceAfter,
		Reason:        model.Reason,
		Link: pointledger.TransactionLink{
			LotID:      model.LotID,
			ProductID:  model.ProductID,
			ExchangeID: model.ExchangeID,
		},
		CreatedBy: model.CreatedBy,
		Metadata:  string(model.Metadata),
		CreatedAt: model.CreatedAt.UTC(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
