package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Inventory movement reasons.
const (
	StockSaleDebit          = "sale_debit"
	StockCancellationCredit = "cancellation_credit"
	StockAdjustment         = "adjustment"
)

// InventoryMovement is an immutable signed stock delta. Movements are never
// edited or deleted; a cancellation appends the inverse entry.
type InventoryMovement struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProductID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Delta          decimal.Decimal `gorm:"type:decimal(14,3);not null"`
	QuantityBefore decimal.Decimal `gorm:"type:decimal(14,3);not null"`
	QuantityAfter  decimal.Decimal `gorm:"type:decimal(14,3);not null"`
	SaleID         *uuid.UUID      `gorm:"type:uuid;index"`
	Reason         string          `gorm:"type:varchar(30);not null"`
	Note           string
	CreatedAt      time.Time
}

func (InventoryMovement) TableName() string { return "inventory_movements" }

// Cash movement reasons.
const (
	CashOpening           = "opening"
	CashSaleCredit        = "sale_credit"
	CashCancellationDebit = "cancellation_debit"
	CashWithdrawal        = "withdrawal"
	CashSupply            = "supply"
	CashClosing           = "closing"
)

// CashMovement is an immutable signed entry in a register's ledger.
type CashMovement struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	RegisterID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	SaleID        *uuid.UUID      `gorm:"type:uuid;index"`
	Reason        string          `gorm:"type:varchar(30);not null"`
	Description   string
	OperatorID    *uuid.UUID `gorm:"type:uuid"`
	CreatedAt     time.Time
}

func (CashMovement) TableName() string { return "cash_movements" }
