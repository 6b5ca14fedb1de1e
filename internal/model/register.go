package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Register statuses.
const (
	RegisterOpen   = "open"
	RegisterClosed = "closed"
)

// Deviation classes recorded on close.
const (
	DeviationNormal   = "normal"
	DeviationWarning  = "warning"
	DeviationCritical = "critical"
)

// Register is a cash drawer. Balance always equals the sum of its CashMovements.
type Register struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Code           string          `gorm:"type:varchar(20);uniqueIndex;not null"`
	Name           string          `gorm:"type:varchar(60);not null"`
	Status         string          `gorm:"type:varchar(10);not null;default:'closed'"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	Balance        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	OperatorID     *uuid.UUID      `gorm:"type:uuid"`
	OpenedAt       *time.Time
	ClosedAt       *time.Time

	// Closing declaration of the last session.
	ExpectedAmount *decimal.Decimal `gorm:"type:decimal(12,2)"`
	DeclaredAmount *decimal.Decimal `gorm:"type:decimal(12,2)"`
	Deviation      *decimal.Decimal `gorm:"type:decimal(12,2)"`
	DeviationPct   *decimal.Decimal `gorm:"type:decimal(7,2)"`
	DeviationClass *string          `gorm:"type:varchar(10)"`
	ClosingNotes   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}
