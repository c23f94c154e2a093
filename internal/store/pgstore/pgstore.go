package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rewardstack/pointledger/pkg/pointledger"
)

const (
	errorOperationStore  = "store"
	errorSubjectCategory = "category"
	errorSubjectLot      = "lot"
	errorSubjectBalance  = "balance"
	errorSubjectLedger   = "ledger"
	errorSubjectTx       = "transaction"
	errorCodeBegin       = "begin"
	errorCodeCommit      = "commit"
	errorCodeResolve     = "resolve"
	errorCodeCreate      = "create"
	errorCodeDecrement   = "decrement"
	errorCodeSweep       = "sweep"
	errorCodeSum         = "sum"
	errorCodeSummarize   = "summarize"
	errorCodeAppend      = "append"
	errorCodeList        = "list"
	errorCodeInvalid     = "invalid"

	sqlInsertOrGetCategory = `
		insert into point_categories(kind, ratio_basis_points, description, active)
		values($1, $2, $3, true)
		on conflict (kind) do update set kind = excluded.kind
		returning id, kind, ratio_basis_points, description, active
	`

	sqlSelectActiveCategories = `
		select id, kind, ratio_basis_points, description, active
		from point_categories
		where active
		order by kind asc
	`

	lotColumns = `
		lot_id::text, sequence, user_id, kind, granted_points, remaining_points,
		reason, issued_at, expires_at, expired
	`

	sqlInsertLot = `
		insert into point_lots(
			lot_id, user_id, kind, granted_points, remaining_points, reason, issued_at, expires_at, expired
		)
		values(gen_random_uuid(), $1, $2, $3, $3, $4, $5, $6, false)
		returning ` + lotColumns

	sqlSelectAvailableLots = `
		select ` + lotColumns + `
		from point_lots
		where user_id = $1
		and remaining_points > 0
		and not expired
		and expires_at > $2
		and ($3 = '' or kind = $3)
		order by expires_at asc, sequence asc
	`

	sqlDecrementLot = `
		update point_lots
		set remaining_points = remaining_points - $2
		where lot_id = $1
		and not expired
		and expires_at > $3
		and remaining_points >= $2
	`

	sqlCountLot = `
		select count(*) from point_lots where lot_id = $1
	`

	sqlMarkExpired = `
		update point_lots
		set expired = true
		where not expired
		and expires_at <= $1
		and ($2 = '' or user_id = $2)
		returning ` + lotColumns

	sqlSumAvailable = `
		select coalesce(sum(remaining_points),0)
		from point_lots
		where user_id = $1
		and kind = $2
		and remaining_points > 0
		and not expired
		and expires_at > $3
	`

	sqlSummarizeAvailable = `
		select kind, coalesce(sum(remaining_points),0)
		from point_lots
		where user_id = $1
		and remaining_points > 0
		and not expired
		and expires_at > $2
		group by kind
		order by kind asc
	`

	transactionColumns = `
		transaction_id::text, user_id, type, kind, amount, balance_after, reason,
		coalesce(lot_id::text,''), coalesce(product_id,0), coalesce(exchange_id,0),
		coalesce(created_by,''), coalesce(metadata::text,'{}'), created_at
	`

	sqlInsertTransaction = `
		insert into point_transactions(
			transaction_id, user_id, type, kind, amount, balance_after, reason,
			lot_id, product_id, exchange_id, created_by, metadata, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4, $5, $6,
			nullif($7,'')::uuid, nullif($8,0::bigint), nullif($9,0::bigint), nullif($10,''),
			coalesce(nullif($11,''),'{}')::jsonb, $12
		)
		returning ` + transactionColumns

	sqlListTransactions = `
		select ` + transactionColumns + `
		from point_transactions
		where ($1 = '' or user_id = $1)
		and ($2 = '' or kind = $2)
		and ($3 = '' or type = $3)
		and ($4::timestamptz is null or created_at >= $4)
		order by created_at desc, transaction_id desc
		limit nullif($5::bigint, 0) offset $6
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements pointledger.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements pointledger.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore pointledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) ResolveCategory(ctx context.Context, kind pointledger.CategoryKind) (pointledger.Category, error) {
	return resolveCategory(ctx, store.pool, kind)
}

func (store *Store) ActiveCategories(ctx context.Context) ([]pointledger.Category, error) {
	return activeCategories(ctx, store.pool)
}

func (store *Store) CreateLot(ctx context.Context, input pointledger.LotInput) (pointledger.Lot, error) {
	return createLot(ctx, store.pool, input)
}

func (store *Store) AvailableLots(ctx context.Context, userID pointledger.UserID, kind *pointledger.CategoryKind, asOf time.Time) ([]pointledger.Lot, error) {
	return availableLots(ctx, store.pool, userID, kind, asOf)
}

func (store *Store) DecrementLot(ctx context.Context, lotID string, amount int64, asOf time.Time) error {
	return decrementLot(ctx, store.pool, lotID, amount, asOf)
}

func (store *Store) MarkExpired(ctx context.Context, asOf time.Time, userID *pointledger.UserID) ([]pointledger.Lot, error) {
	return markExpired(ctx, store.pool, asOf, userID)
}

func (store *Store) SumAvailable(ctx context.Context, userID pointledger.UserID, kind pointledger.CategoryKind, asOf time.Time) (int64, error) {
	return sumAvailable(ctx, store.pool, userID, kind, asOf)
}

func (store *Store) SummarizeAvailable(ctx context.Context, userID pointledger.UserID, asOf time.Time) ([]pointledger.CategoryBalance, error) {
	return summarizeAvailable(ctx, store.pool, userID, asOf)
}

func (store *Store) AppendTransaction(ctx context.Context, input pointledger.TransactionInput) (pointledger.Transaction, error) {
	return appendTransaction(ctx, store.pool, input)
}

func (store *Store) ListTransactions(ctx context.Context, filter pointledger.TransactionFilter) ([]pointledger.Transaction, error) {
	return listTransactions(ctx, store.pool, filter)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore pointledger.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) ResolveCategory(ctx context.Context, kind pointledger.CategoryKind) (pointledger.Category, error) {
	return resolveCategory(ctx, store.tx, kind)
}

func (store *TxStore) ActiveCategories(ctx context.Context) ([]pointledger.Category, error) {
	return activeCategories(ctx, store.tx)
}

func (store *TxStore) CreateLot(ctx context.Context, input pointledger.LotInput) (pointledger.Lot, error) {
	return createLot(ctx, store.tx, input)
}

func (store *TxStore) AvailableLots(ctx context.Context, userID pointledger.UserID, kind *pointledger.CategoryKind, asOf time.Time) ([]pointledger.Lot, error) {
	return availableLots(ctx, store.tx, userID, kind, asOf)
}

func (store *TxStore) DecrementLot(ctx context.Context, lotID string, amount int64, asOf time.Time) error {
	return decrementLot(ctx, store.tx, lotID, amount, asOf)
}

func (store *TxStore) MarkExpired(ctx context.Context, asOf time.Time, userID *pointledger.UserID) ([]pointledger.Lot, error) {
	return markExpired(ctx, store.tx, asOf, userID)
}

func (store *TxStore) SumAvailable(ctx context.Context, userID pointledger.UserID, kind pointledger.CategoryKind, asOf time.Time) (int64, error) {
	return sumAvailable(ctx, store.tx, userID, kind, asOf)
}

func (store *TxStore) SummarizeAvailable(ctx context.Context, userID pointledger.UserID, asOf time.Time) ([]pointledger.CategoryBalance, error) {
	return summarizeAvailable(ctx, store.tx, userID, asOf)
}

func (store *TxStore) AppendTransaction(ctx context.Context, input pointledger.TransactionInput) (pointledger.Transaction, error) {
	return appendTransaction(ctx, store.tx, input)
}

func (store *TxStore) ListTransactions(ctx context.Context, filter pointledger.TransactionFilter) ([]pointledger.Transaction, error) {
	return listTransactions(ctx, store.tx, filter)
}

func resolveCategory(ctx context.Context, db querier, kind pointledger.CategoryKind) (pointledger.Category, error) {
	defaults, err := pointledger.DefaultCategory(kind)
	if err != nil {
		return pointledger.Category{}, wrapStoreError(errorSubjectCategory, errorCodeInvalid, err)
	}
	var category pointledger.Category
	var kindValue string
	err = db.QueryRow(ctx, sqlInsertOrGetCategory,
		kind.String(),
		defaults.RatioBasisPoints,
		defaults.Description,
	).Scan(&category.ID, &kindValue, &category.RatioBasisPoints, &category.Description, &category.Active)
	if err != nil {
		return pointledger.Category{}, wrapStoreError(errorSubjectCategory, errorCodeResolve, err)
	}
	parsedKind, err := pointledger.ParseCategoryKind(kindValue)
	if err != nil {
		return pointledger.Category{}, wrapStoreError(errorSubjectCategory, errorCodeInvalid, err)
	}
	category.Kind = parsedKind
	return category, nil
}

func activeCategories(ctx context.Context, db querier) ([]pointledger.Category, error) {
	rows, err := db.Query(ctx, sqlSelectActiveCategories)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCategory, errorCodeList, err)
	}
	defer rows.Close()
	categories := make([]pointledger.Category, 0, 2)
	for rows.Next() {
		var category pointledger.Category
		var kindValue string
		if err := rows.Scan(&category.ID, &kindValue, &category.RatioBasisPoints, &category.Description, &category.Active); err != nil {
			return nil, wrapStoreError(errorSubjectCategory, errorCodeInvalid, err)
		}
		parsedKind, err := pointledger.ParseCategoryKind(kindValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCategory, errorCodeInvalid, err)
		}
		category.Kind = parsedKind
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCategory, errorCodeList, err)
	}
	return categories, nil
}

func createLot(ctx context.Context, db querier, input pointledger.LotInput) (pointledger.Lot, error) {
	row := db.QueryRow(ctx, sqlInsertLot,
		input.UserID.String(),
		input.Kind.String(),
		input.GrantedPoints,
		input.Reason.String(),
		input.IssuedAt.UTC(),
		input.ExpiresAt.UTC(),
	)
	lot, err := scanLot(row)
	if err != nil {
		return pointledger.Lot{}, wrapStoreError(errorSubjectLot, errorCodeCreate, err)
	}
	return lot, nil
}

func availableLots(ctx context.Context, db querier, userID pointledger.UserID, kind *pointledger.CategoryKind, asOf time.Time) ([]pointledger.Lot, error) {
	kindFilter := ""
	if kind != nil {
		kindFilter = kind.String()
	}
	rows, err := db.Query(ctx, sqlSelectAvailableLots, userID.String(), asOf.UTC(), kindFilter)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLot, errorCodeList, err)
	}
	defer rows.Close()
	lots, err := scanLots(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLot, errorCodeInvalid, err)
	}
	return lots, nil
}

func decrementLot(ctx context.Context, db querier, lotID string, amount int64, asOf time.Time) error {
	if amount <= 0 {
		return wrapStoreError(errorSubjectLot, errorCodeInvalid, pointledger.ErrInvalidAmount)
	}
	tag, err := db.Exec(ctx, sqlDecrementLot, lotID, amount, asOf.UTC())
	if err != nil {
		return wrapStoreError(errorSubjectLot, errorCodeDecrement, err)
	}
	if tag.RowsAffected() == 0 {
		var count int64
		if err := db.QueryRow(ctx, sqlCountLot, lotID).Scan(&count); err != nil {
			return wrapStoreError(errorSubjectLot, errorCodeDecrement, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectLot, errorCodeDecrement, pointledger.ErrUnknownLot)
		}
		return wrapStoreError(errorSubjectLot, errorCodeDecrement, pointledger.ErrInsufficientLotBalance)
	}
	return nil
}

func markExpired(ctx context.Context, db querier, asOf time.Time, userID *pointledger.UserID) ([]pointledger.Lot, error) {
	userFilter := ""
	if userID != nil {
		userFilter = userID.String()
	}
	rows, err := db.Query(ctx, sqlMarkExpired, asOf.UTC(), userFilter)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLot, errorCodeSweep, err)
	}
	defer rows.Close()
	lots, err := scanLots(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLot, errorCodeInvalid, err)
	}
	return lots, nil
}

func sumAvailable(ctx context.Context, db querier, userID pointledger.UserID, kind pointledger.CategoryKind, asOf time.Time) (int64, error) {
	var sum int64
	err := db.QueryRow(ctx, sqlSumAvailable, userID.String(), kind.String(), asOf.UTC()).Scan(&sum)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return sum, nil
}

func summarizeAvailable(ctx context.Context, db querier, userID pointledger.UserID, asOf time.Time) ([]pointledger.CategoryBalance, error) {
	rows, err := db.Query(ctx, sqlSummarizeAvailable, userID.String(), asOf.UTC())
	if err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeSummarize, err)
	}
	defer rows.Close()
	balances := make([]pointledger.CategoryBalance, 0, 2)
	for rows.Next() {
		var kindValue string
		var total int64
		if err := rows.Scan(&kindValue, &total); err != nil {
			return nil, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
		}
		kind, err := pointledger.ParseCategoryKind(kindValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
		}
		balances = append(balances, pointledger.CategoryBalance{Kind: kind, Balance: total})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBalance, errorCodeSummarize, err)
	}
	return balances, nil
}

func appendTransaction(ctx context.Context, db querier, input pointledger.TransactionInput) (pointledger.Transaction, error) {
	lotID := ""
	if input.Link.LotID != nil {
		lotID = *input.Link.LotID
	}
	var productID, exchangeID int64
	if input.Link.ProductID != nil {
		productID = *input.Link.ProductID
	}
	if input.Link.ExchangeID != nil {
		exchangeID = *input.Link.ExchangeID
	}
	createdBy := ""
	if input.CreatedBy != nil {
		createdBy = input.CreatedBy.String()
	}
	createdAt := input.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := db.QueryRow(ctx, sqlInsertTransaction,
		input.UserID.String(),
		input.Type.String(),
		input.Kind.String(),
		input.Amount,
		input.BalanceAfter,
		input.Reason.String(),
		lotID,
		productID,
		exchangeID,
		createdBy,
		input.Metadata.String(),
		createdAt,
	)
	transaction, err := scanTransaction(row)
	if err != nil {
		return pointledger.Transaction{}, wrapStoreError(errorSubjectLedger, errorCodeAppend, err)
	}
	return transaction, nil
}

func listTransactions(ctx context.Context, db querier, filter pointledger.TransactionFilter) ([]pointledger.Transaction, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, wrapStoreError(errorSubjectLedger, errorCodeInvalid, pointledger.ErrInvalidTransactionFilter)
	}
	userFilter := ""
	if filter.UserID != nil {
		userFilter = filter.UserID.String()
	}
	kindFilter := ""
	if filter.Kind != nil {
		kindFilter = filter.Kind.String()
	}
	typeFilter := ""
	if filter.Type != nil {
		typeFilter = filter.Type.String()
	}
	var since *time.Time
	if filter.Since != nil {
		value := filter.Since.UTC()
		since = &value
	}
	rows, err := db.Query(ctx, sqlListTransactions,
		userFilter,
		kindFilter,
		typeFilter,
		since,
		int64(filter.Limit),
		int64(filter.Offset),
	)
	if err != nil {
		return nil, wrapStoreError(errorSubjectLedger, errorCodeList, err)
	}
	defer rows.Close()
	transactions := make([]pointledger.Transaction, 0, 32)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLedger, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectLedger, errorCodeList, err)
	}
	return transactions, nil
}

func scanLot(row pgx.Row) (pointledger.Lot, error) {
	var lot pointledger.Lot
	var kindValue string
	err := row.Scan(
		&lot.LotID,
		&lot.Sequence,
		&lot.UserID,
		&kindValue,
		&lot.GrantedPoints,
		&lot.RemainingPoints,
		&lot.Reason,
		&lot.IssuedAt,
		&lot.ExpiresAt,
		&lot.Expired,
	)
	if err != nil {
		return pointledger.Lot{}, err
	}
	kind, err := pointledger.ParseCategoryKind(kindValue)
	if err != nil {
		return pointledger.Lot{}, err
	}
	lot.Kind = kind
	lot.IssuedAt = lot.IssuedAt.UTC()
	lot.ExpiresAt = lot.ExpiresAt.UTC()
	return lot, nil
}

func scanLots(rows pgx.Rows) ([]pointledger.Lot, error) {
	lots := make([]pointledger.Lot, 0, 8)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func scanTransaction(row pgx.Row) (pointledger.Transaction, error) {
	var (
		transaction pointledger.Transaction
		typeValue   string
		kindValue   string
		lotID       string
		productID   int64
		exchangeID  int64
		createdBy   string
	)
	err := row.Scan(
		&transaction.TransactionID,
		&transaction.UserID,
		&typeValue,
		&kindValue,
		&transaction.Amount,
		&transaction.BalanceAfter,
		&transaction.Reason,
		&lotID,
		&productID,
		&exchangeID,
		&createdBy,
		&transaction.Metadata,
		&transaction.CreatedAt,
	)
	if err != nil {
		return pointledger.Transaction{}, err
	}
	transactionType, err := pointledger.ParseTransactionType(typeValue)
	if err != nil {
		return pointledger.Transaction{}, err
	}
	kind, err := pointledger.ParseCategoryKind(kindValue)
	if err != nil {
		return pointledger.Transaction{}, err
	}
	transaction.Type = transactionType
	transaction.Kind = kind
	if lotID != "" {
		transaction.Link.LotID = &lotID
	}
	if productID != 0 {
		transaction.Link.ProductID = &productID
	}
	if exchangeID != 0 {
		transaction.Link.ExchangeID = &exchangeID
	}
	if createdBy != "" {
		transaction.CreatedBy = &createdBy
	}
	transaction.CreatedAt = transaction.CreatedAt.UTC()
	return transaction, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return pointledger.WrapError(errorOperationStore, subject, code, err)
}
