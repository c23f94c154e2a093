package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/rewardstack/pointledger/pkg/pointledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PointCategory represents the point_categories table.
type PointCategory struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Kind             string    `gorm:"size:50;not null;uniqueIndex"`
	RatioBasisPoints int64     `gorm:"not null"`
	Description      string    `gorm:"size:200"`
	Active           bool      `gorm:"not null;default:true"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (PointCategory) TableName() string { return "point_categories" }

// PointLot mirrors the point_lots table. The auto-increment sequence is the
// primary key so creation order survives as the FIFO tie-break; the uuid is
// the external identifier.
type PointLot struct {
	Sequence        int64     `gorm:"primaryKey;autoIncrement"`
	LotID           string    `gorm:"type:uuid;not null;uniqueIndex"`
	UserID          string    `gorm:"not null;index:idx_point_lots_user_kind_expiry,priority:1"`
	Kind            string    `gorm:"size:50;not null;index:idx_point_lots_user_kind_expiry,priority:2"`
	GrantedPoints   int64     `gorm:"not null"`
	RemainingPoints int64     `gorm:"not null"`
	Reason          string    `gorm:"size:200;not null"`
	IssuedAt        time.Time `gorm:"not null"`
	ExpiresAt       time.Time `gorm:"not null;index:idx_point_lots_user_kind_expiry,priority:3;index:idx_point_lots_expiry_expired,priority:1"`
	Expired         bool      `gorm:"not null;default:false;index:idx_point_lots_expiry_expired,priority:2"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (PointLot) TableName() string { return "point_lots" }

func (lot *PointLot) BeforeCreate(tx *gorm.DB) error {
	if lot.LotID == "" {
		lot.LotID = uuid.NewString()
	}
	return nil
}

// PointTransaction mirrors the point_transactions table. Rows are write-once:
// the update and delete hooks reject every mutation after the initial insert.
type PointTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	UserID        string         `gorm:"not null;index:idx_point_transactions_user_created,priority:1"`
	Type          string         `gorm:"size:20;not null;index:idx_point_transactions_type_created,priority:1"`
	Kind          string         `gorm:"size:50;not null;index:idx_point_transactions_kind_created,priority:1"`
	Amount        int64          `gorm:"not null"`
	BalanceAfter  int64          `gorm:"not null"`
	Reason        string         `gorm:"size:200;not null"`
	LotID         *string        `gorm:"type:uuid"`
	ProductID     *int64         `gorm:""`
	ExchangeID    *int64         `gorm:""`
	CreatedBy     *string        `gorm:""`
	Metadata      datatypes.JSON `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_point_transactions_user_created,priority:2;index:idx_point_transactions_type_created,priority:2;index:idx_point_transactions_kind_created,priority:2"`
}

func (PointTransaction) TableName() string { return "point_transactions" }

func (transaction *PointTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

func (transaction *PointTransaction) BeforeUpdate(tx *gorm.DB) error {
	return pointledger.ErrImmutableRecord
}

func (transaction *PointTransaction) BeforeDelete(tx *gorm.DB) error {
	return pointledger.ErrImmutableRecord
}
