package model

import (
	"time"

	"github.com/google/uuid"
)

// Fiscal document statuses. FiscalProcessing marks an in-flight submission.
const (
	FiscalNotEmitted = "not_emitted"
	FiscalProcessing = "processing"
	FiscalEmitted    = "emitted"
	FiscalError      = "error"
	FiscalCancelled  = "cancelled"
)

// Failure categories recorded with FiscalError.
const (
	FailureTransport   = "transport"
	FailureTimeout     = "timeout"
	FailureRejected    = "rejected"
	FailureUnavailable = "unavailable"
	FailurePayload     = "payload"
	// FailureSaleVoided marks a document whose sale was cancelled before
	// anything reached the authority. It is terminal and needs no operator.
	FailureSaleVoided  = "sale_voided"
)

// FiscalDocument tracks one document kind for one sale.
type FiscalDocument struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SaleID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_fiscal_sale_kind,priority:1"`
	Kind   string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_fiscal_sale_kind,priority:2"`
	Status string    `gorm:"type:varchar(20);not null;default:'not_emitted';index"`
	// DocumentNumber is the authority-facing number (nNF / session number).
	DocumentNumber int64
	AccessKey      *string `gorm:"type:varchar(50);index"`
	ProtocolNumber *string `gorm:"type:varchar(30)"`
	Payload        string  `gorm:"type:text"`
	IssuedAt       *time.Time

	Attempts       int `gorm:"not null;default:0"`
	// ClaimedAt is when the current (or last) submission took the document
	// into processing, on the emitter's clock.
	ClaimedAt      *time.Time
	LastError      *string
	ErrorCategory  *string `gorm:"type:varchar(20)"`
	OutcomeUnknown bool    `gorm:"not null;default:false"`
	NextAttemptAt  *time.Time

	EmittedAt                 *time.Time
	CancelledAt               *time.Time
	CancellationJustification *string
	CancellationProtocol      *string `gorm:"type:varchar(30)"`
	CancellationError         *string
	CancellationPending       bool `gorm:"not null;default:false"`
	CancellationAttempts      int  `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (FiscalDocument) TableName() string { return "fiscal_documents" }
