package redemption

import (
	"context"
	"errors"
	"time"

	"github.com/rewardstack/pointledger/pkg/pointledger"
	"gorm.io/gorm"
)

const (
	errorOperationCatalog = "catalog"
	errorSubjectProduct   = "product"
	errorSubjectExchange  = "exchange"
	errorCodeGet          = "get"
	errorCodeList         = "list"
	errorCodeCreate       = "create"
	errorCodeUpdate       = "update"
	errorCodeInvalid      = "invalid"
)

// RewardProduct represents the products table.
type RewardProduct struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	Kind           string    `gorm:"size:50;not null;index"`
	Name           string    `gorm:"size:100;not null"`
	Description    string    `gorm:"size:500"`
	RequiredPoints int64     `gorm:"not null"`
	Active         bool      `gorm:"not null;default:true"`
	SortOrder      int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (RewardProduct) TableName() string { return "products" }

// ProductExchange represents the product_exchanges table.
type ProductExchange struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	UserID     string    `gorm:"not null;index:idx_product_exchanges_user_created,priority:1"`
	ProductID  int64     `gorm:"not null;index"`
	Kind       string    `gorm:"size:50;not null"`
	PointsUsed int64     `gorm:"not null"`
	Status     string    `gorm:"size:20;not null;index"`
	Notes      string    `gorm:"size:500"`
	CreatedAt  time.Time `gorm:"not null;index:idx_product_exchanges_user_created,priority:2"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (ProductExchange) TableName() string { return "product_exchanges" }

// Catalog is the GORM-backed CatalogStore.
type Catalog struct {
	db *gorm.DB
}

// NewCatalog returns a Catalog backed by gorm.DB.
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// Migrate creates the catalog tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&RewardProduct{}, &ProductExchange{})
}

func (catalog *Catalog) GetProduct(ctx context.Context, productID int64) (Product, error) {
	var model RewardProduct
	err := catalog.db.WithContext(ctx).Take(&model, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Product{}, wrapCatalogError(errorSubjectProduct, errorCodeGet, ErrUnknownProduct)
	}
	if err != nil {
		return Product{}, wrapCatalogError(errorSubjectProduct, errorCodeGet, err)
	}
	return mapProduct(model)
}

func (catalog *Catalog) ListProducts(ctx context.Context, kind *pointledger.CategoryKind, activeOnly bool) ([]Product, error) {
	query := catalog.db.WithContext(ctx).Model(&RewardProduct{})
	if kind != nil {
		query = query.Where("kind = ?", kind.String())
	}
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var models []RewardProduct
	if err := query.Order("sort_order asc, id asc").Find(&models).Error; err != nil {
		return nil, wrapCatalogError(errorSubjectProduct, errorCodeList, err)
	}
	products := make([]Product, 0, len(models))
	for _, model := range models {
		product, err := mapProduct(model)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

func (catalog *Catalog) CreateExchange(ctx context.Context, input ExchangeInput) (Exchange, error) {
	model := ProductExchange{
		UserID:     input.UserID.String(),
		ProductID:  input.ProductID,
		Kind:       input.Kind.String(),
		PointsUsed: input.PointsUsed,
		Status:     input.Status.String(),
		Notes:      input.Notes,
		CreatedAt:  input.CreatedAt.UTC(),
	}
	if err := catalog.db.WithContext(ctx).Create(&model).Error; err != nil {
		return Exchange{}, wrapCatalogError(errorSubjectExchange, errorCodeCreate, err)
	}
	return mapExchange(model)
}

func (catalog *Catalog) GetExchange(ctx context.Context, exchangeID int64) (Exchange, error) {
	var model ProductExchange
	err := catalog.db.WithContext(ctx).Take(&model, exchangeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Exchange{}, wrapCatalogError(errorSubjectExchange, errorCodeGet, ErrUnknownExchange)
	}
	if err != nil {
		return Exchange{}, wrapCatalogError(errorSubjectExchange, errorCodeGet, err)
	}
	return mapExchange(model)
}

func (catalog *Catalog) UpdateExchangeStatus(ctx context.Context, exchangeID int64, from, to ExchangeStatus) error {
	result := catalog.db.WithContext(ctx).
		Model(&ProductExchange{}).
		Where("id = ?", exchangeID).
		Where("status = ?", from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapCatalogError(errorSubjectExchange, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := catalog.db.WithContext(ctx).Model(&ProductExchange{}).Where("id = ?", exchangeID).Count(&count).Error; err != nil {
			return wrapCatalogError(errorSubjectExchange, errorCodeUpdate, err)
		}
		if count == 0 {
			return wrapCatalogError(errorSubjectExchange, errorCodeUpdate, ErrUnknownExchange)
		}
		return wrapCatalogError(errorSubjectExchange, errorCodeUpdate, ErrExchangeClosed)
	}
	return nil
}

func mapProduct(model RewardProduct) (Product, error) {
	kind, err := pointledger.ParseCategoryKind(model.Kind)
	if err != nil {
		return Product{}, wrapCatalogError(errorSubjectProduct, errorCodeInvalid, err)
	}
	return Product{
		ID:             model.ID,
		Kind:           kind,
		Name:           model.Name,
		Description:    model.Description,
		RequiredPoints: model.RequiredPoints,
		Active:         model.Active,
		SortOrder:      model.SortOrder,
	}, nil
}

func mapExchange(model ProductExchange) (Exchange, error) {
	kind, err := pointledger.ParseCategoryKind(model.Kind)
	if err != nil {
		return Exchange{}, wrapCatalogError(errorSubjectExchange, errorCodeInvalid, err)
	}
	status, err := ParseExchangeStatus(model.Status)
	if err != nil {
		return Exchange{}, wrapCatalogError(errorSubjectExchange, errorCodeInvalid, err)
	}
	return Exchange{
		ID:         model.ID,
		UserID:     model.UserID,
		ProductID:  model.ProductID,
		Kind:       kind,
		PointsUsed: model.PointsUsed,
		Status:     status,
		Notes:      model.Notes,
		CreatedAt:  model.CreatedAt.UTC(),
		UpdatedAt:  model.UpdatedAt.UTC(),
	}, nil
}

func wrapCatalogError(subject string, code string, err error) error {
	return pointledger.WrapError(errorOperationCatalog, subject, code, err)
}
