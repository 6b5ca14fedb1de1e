package dto

import (
	"time"

	"pdv/internal/model"

	"github.com/shopspring/decimal"
)

// ── Requests ──────────────────────────────────────────────────────────────────

type OpenSaleRequest struct {
	RegisterID string  `json:"register_id" validate:"required,uuid"`
	CustomerID *string `json:"customer_id" validate:"omitempty,uuid"`
}

type AddLineRequest struct {
	ProductID string          `json:"product_id" validate:"required,uuid"`
	Quantity  decimal.Decimal `json:"quantity"   validate:"required"`
	// UnitPrice overrides the catalog price for this line.
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type ApplyDiscountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"min=0"`
}

type PaymentRequest struct {
	Method           string          `json:"method"            validate:"required,oneof=cash credit_card debit_card instant_transfer other"`
	Amount           decimal.Decimal `json:"amount"            validate:"required,gt=0"`
	AuthorizationRef *string         `json:"authorization_ref" validate:"omitempty,max=60"`
	CardBrand        *string         `json:"card_brand"        validate:"omitempty,max=30"`
}

// FinalizeSaleRequest may omit payments only when the sale total is zero.
type FinalizeSaleRequest struct {
	Payments []PaymentRequest `json:"payments" validate:"dive"`
}

type CancelSaleRequest struct {
	Justification string `json:"justification" validate:"required"`
}

// SaleFilter is bound from the query string of GET /v1/sales.
type SaleFilter struct {
	RegisterID string `form:"register_id" validate:"omitempty,uuid"`
	CustomerID string `form:"customer_id" validate:"omitempty,uuid"`
	Status     string `form:"status"      validate:"omitempty,oneof=open finalized cancelled"`
	From       string `form:"from"        validate:"omitempty,datetime=2006-01-02"`
	To         string `form:"to"          validate:"omitempty,datetime=2006-01-02"`
	Limit      int    `form:"limit"       validate:"omitempty,min=1,max=500"`
}

type SalesSummaryQuery struct {
	From string `form:"from" validate:"required,datetime=2006-01-02"`
	To   string `form:"to"   validate:"required,datetime=2006-01-02"`
}

// ── Responses ─────────────────────────────────────────────────────────────────

type SaleLineResponse struct {
	Position    int             `json:"position"`
	ProductID   string          `json:"product_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
}

type PaymentResponse struct {
	Method           string          `json:"method"`
	Amount           decimal.Decimal `json:"amount"`
	AuthorizationRef *string         `json:"authorization_ref,omitempty"`
	CardBrand        *string         `json:"card_brand,omitempty"`
}

type SaleResponse struct {
	ID                 string                   `json:"id"`
	SequenceNumber     string                   `json:"sequence_number"`
	RegisterID         string                   `json:"register_id"`
	OperatorID         string                   `json:"operator_id"`
	CustomerID         *string                  `json:"customer_id,omitempty"`
	BusinessDate       string                   `json:"business_date"`
	Status             string                   `json:"status"`
	Subtotal           decimal.Decimal          `json:"subtotal"`
	Discount           decimal.Decimal          `json:"discount"`
	Total              decimal.Decimal          `json:"total"`
	AmountTendered     decimal.Decimal          `json:"amount_tendered"`
	Change             decimal.Decimal          `json:"change"`
	CancellationReason *string                  `json:"cancellation_reason,omitempty"`
	OpenedAt           time.Time                `json:"opened_at"`
	FinalizedAt        *time.Time               `json:"finalized_at,omitempty"`
	CancelledAt        *time.Time               `json:"cancelled_at,omitempty"`
	Lines              []SaleLineResponse       `json:"lines"`
	Payments           []PaymentResponse        `json:"payments"`
	FiscalDocuments    []FiscalDocumentResponse `json:"fiscal_documents"`
}

func NewSaleResponse(s *model.Sale) SaleResponse {
	resp := SaleResponse{
		ID:                 s.ID.String(),
		SequenceNumber:     s.SequenceNumber,
		RegisterID:         s.RegisterID.String(),
		OperatorID:         s.OperatorID.String(),
		BusinessDate:       s.BusinessDate,
		Status:             s.Status,
		Subtotal:           s.Subtotal,
		Discount:           s.Discount,
		Total:              s.Total,
		AmountTendered:     s.AmountTendered,
		Change:             s.Change,
		CancellationReason: s.CancellationReason,
		OpenedAt:           s.OpenedAt,
		FinalizedAt:        s.FinalizedAt,
		CancelledAt:        s.CancelledAt,
		Lines:              make([]SaleLineResponse, 0, len(s.Lines)),
		Payments:           make([]PaymentResponse, 0, len(s.Payments)),
		FiscalDocuments:    make([]FiscalDocumentResponse, 0, len(s.FiscalDocuments)),
	}
	if s.CustomerID != nil {
		id := s.CustomerID.String()
		resp.CustomerID = &id
	}
	for _, l := range s.Lines {
		resp.Lines = append(resp.Lines, SaleLineResponse{
			Position:    l.Position,
			ProductID:   l.ProductID.String(),
			ProductCode: l.ProductCode,
			ProductName: l.ProductName,
			Unit:        l.Unit,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			Total:       l.Total,
		})
	}
	for _, p := range s.Payments {
		resp.Payments = append(resp.Payments, PaymentResponse{
			Method:           p.Method,
			Amount:           p.Amount,
			AuthorizationRef: p.AuthorizationRef,
			CardBrand:        p.CardBrand,
		})
	}
	for i := range s.FiscalDocuments {
		resp.FiscalDocuments = append(resp.FiscalDocuments, NewFiscalDocumentResponse(&s.FiscalDocuments[i]))
	}
	return resp
}

type SaleListResponse struct {
	Data  []SaleResponse `json:"data"`
	Count int            `json:"count"`
}

func NewSaleListResponse(sales []model.Sale) SaleListResponse {
	out := SaleListResponse{Data: make([]SaleResponse, 0, len(sales)), Count: len(sales)}
	for i := range sales {
		out.Data = append(out.Data, NewSaleResponse(&sales[i]))
	}
	return out
}
