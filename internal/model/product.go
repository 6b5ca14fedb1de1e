package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog row the sale core reads. Stock is only changed by the
// inventory ledger, always alongside an InventoryMovement.
type Product struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Code         string          `gorm:"type:varchar(60);uniqueIndex;not null"`
	Name         string          `gorm:"type:varchar(120);not null"`
	Unit         string          `gorm:"type:varchar(6);not null;default:'UN'"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Active       bool            `gorm:"not null;default:true"`
	StockTracked bool            `gorm:"not null;default:true"`
	Stock        decimal.Decimal `gorm:"type:decimal(14,3);not null;default:0"`

	TaxOrigin           string          `gorm:"type:varchar(1);not null;default:'0'"`
	TaxClassification   string          `gorm:"type:varchar(8);not null"`
	FiscalOperationCode string          `gorm:"type:varchar(4);not null;default:'5102'"`
	TaxSituationCode    string          `gorm:"type:varchar(3);not null;default:'102'"`
	TaxRate             decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// unitPrecision lists measured units that accept fractional quantities.
// Every other unit of measure is countable and takes whole quantities only.
var unitPrecision = map[string]int32{
	"KG": 3,
	"G":  3,
	"L":  3,
	"ML": 3,
	"M":  3,
	"M2": 3,
	"M3": 3,
}

// UnitPrecision returns how many decimal places a quantity of unit may carry.
func UnitPrecision(unit string) int32 {
	return unitPrecision[unit]
}
