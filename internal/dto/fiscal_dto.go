package dto

import (
	"time"

	"pdv/internal/model"
)

type CancelFiscalDocumentRequest struct {
	Justification string `json:"justification" validate:"required"`
}

type FiscalDocumentResponse struct {
	ID             string     `json:"id"`
	SaleID         string     `json:"sale_id"`
	Kind           string     `json:"kind"`
	Status         string     `json:"status"`
	DocumentNumber int64      `json:"document_number"`
	AccessKey      *string    `json:"access_key,omitempty"`
	ProtocolNumber *string    `json:"protocol_number,omitempty"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
	EmittedAt      *time.Time `json:"emitted_at,omitempty"`

	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"last_error,omitempty"`
	ErrorCategory  *string    `json:"error_category,omitempty"`
	OutcomeUnknown bool       `json:"outcome_unknown"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`

	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
	CancellationProtocol *string    `json:"cancellation_protocol,omitempty"`
	CancellationPending  bool       `json:"cancellation_pending"`
	CancellationError    *string    `json:"cancellation_error,omitempty"`
}

func NewFiscalDocumentResponse(d *model.FiscalDocument) FiscalDocumentResponse {
	return FiscalDocumentResponse{
		ID:                   d.ID.String(),
		SaleID:               d.SaleID.String(),
		Kind:                 d.Kind,
		Status:               d.Status,
		DocumentNumber:       d.DocumentNumber,
		AccessKey:            d.AccessKey,
		ProtocolNumber:       d.ProtocolNumber,
		IssuedAt:             d.IssuedAt,
		EmittedAt:            d.EmittedAt,
		Attempts:             d.Attempts,
		LastError:            d.LastError,
		ErrorCategory:        d.ErrorCategory,
		OutcomeUnknown:       d.OutcomeUnknown,
		NextAttemptAt:        d.NextAttemptAt,
		CancelledAt:          d.CancelledAt,
		CancellationProtocol: d.CancellationProtocol,
		CancellationPending:  d.CancellationPending,
		CancellationError:    d.CancellationError,
	}
}

func NewFiscalDocumentList(docs []model.FiscalDocument) []FiscalDocumentResponse {
	out := make([]FiscalDocumentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, NewFiscalDocumentResponse(&docs[i]))
	}
	return out
}
