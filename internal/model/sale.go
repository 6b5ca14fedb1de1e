package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sale statuses. No transition leaves SaleCancelled.
const (
	SaleOpen      = "open"
	SaleFinalized = "finalized"
	SaleCancelled = "cancelled"
)

// Sale is the aggregate root of a checkout. It owns its lines, payments and
// fiscal documents; inventory and cash movements only reference it by id.
type Sale struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	// SequenceNumber is yyyyMMdd + 4-digit counter, unique per register.
	SequenceNumber string     `gorm:"type:varchar(16);not null;uniqueIndex:idx_sales_register_sequence,priority:2"`
	RegisterID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_sales_register_sequence,priority:1"`
	OperatorID     uuid.UUID  `gorm:"type:uuid;not null"`
	CustomerID     *uuid.UUID `gorm:"type:uuid;index"`
	// BusinessDate is the register-local calendar day the sequence belongs to (yyyy-mm-dd).
	BusinessDate   string          `gorm:"type:varchar(10);not null;index"`
	Status         string          `gorm:"type:varchar(20);not null;default:'open'"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Discount       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Total          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	AmountTendered decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Change         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0;column:change_due"`
	// CancellationReason holds the operator justification once cancelled.
	CancellationReason *string
	OpenedAt           time.Time
	FinalizedAt        *time.Time
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Lines           []SaleLine       `gorm:"foreignKey:SaleID"`
	Payments        []Payment        `gorm:"foreignKey:SaleID"`
	FiscalDocuments []FiscalDocument `gorm:"foreignKey:SaleID"`
}

// SaleLine snapshots the catalog at the moment the line was added. The fiscal
// payload is built from these fields, never from the current catalog row.
type SaleLine struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SaleID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position     int             `gorm:"not null"`
	ProductID    uuid.UUID       `gorm:"type:uuid;not null"`
	ProductCode  string          `gorm:"type:varchar(60);not null"`
	ProductName  string          `gorm:"type:varchar(120);not null"`
	Unit         string          `gorm:"type:varchar(6);not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Quantity     decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	Total        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	StockTracked bool            `gorm:"not null"`

	// Tax attributes: origin (orig), classification (NCM), operation (CFOP),
	// situation (CST/CSOSN) and the applicable rate in percent.
	TaxOrigin           string          `gorm:"type:varchar(1);not null"`
	TaxClassification   string          `gorm:"type:varchar(8);not null"`
	FiscalOperationCode string          `gorm:"type:varchar(4);not null"`
	TaxSituationCode    string          `gorm:"type:varchar(3);not null"`
	TaxRate             decimal.Decimal `gorm:"type:decimal(5,2);not null"`
	CreatedAt           time.Time
}

func (SaleLine) TableName() string { return "sale_lines" }

// Payment methods accepted at finalize.
const (
	PaymentCash            = "cash"
	PaymentCreditCard      = "credit_card"
	PaymentDebitCard       = "debit_card"
	PaymentInstantTransfer = "instant_transfer"
	PaymentOther           = "other"
)

// Payment is one tender applied to a sale.
type Payment struct {
	ID     uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SaleID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Method string          `gorm:"type:varchar(20);not null"`
	Amount decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	// AuthorizationRef is the acquirer authorization / NSU for card and transfer tenders.
	AuthorizationRef *string `gorm:"type:varchar(60)"`
	CardBrand        *string `gorm:"type:varchar(30)"`
	CreatedAt        time.Time
}

// IsValidPaymentMethod reports whether m is one of the accepted methods.
func IsValidPaymentMethod(m string) bool {
	switch m {
	case PaymentCash, PaymentCreditCard, PaymentDebitCard, PaymentInstantTransfer, PaymentOther:
		return true
	}
	return false
}
