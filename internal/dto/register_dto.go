package dto

import (
	"time"

	"pdv/internal/model"

	"github.com/shopspring/decimal"
)

type OpenRegisterRequest struct {
	OpeningBalance decimal.Decimal `json:"opening_balance" validate:"min=0"`
}

type CloseRegisterRequest struct {
	DeclaredAmount decimal.Decimal `json:"declared_amount" validate:"min=0"`
	Notes          *string         `json:"notes"           validate:"omitempty,max=500"`
}

type CashMovementRequest struct {
	Kind        string          `json:"kind"        validate:"required,oneof=withdrawal supply"`
	Amount      decimal.Decimal `json:"amount"      validate:"required,gt=0"`
	Description string          `json:"description" validate:"required,max=200"`
}

type RegisterResponse struct {
	ID             string           `json:"id"`
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	Status         string           `json:"status"`
	OpeningBalance decimal.Decimal  `json:"opening_balance"`
	Balance        decimal.Decimal  `json:"balance"`
	OperatorID     *string          `json:"operator_id,omitempty"`
	OpenedAt       *time.Time       `json:"opened_at,omitempty"`
	ClosedAt       *time.Time       `json:"closed_at,omitempty"`
	ExpectedAmount *decimal.Decimal `json:"expected_amount,omitempty"`
	DeclaredAmount *decimal.Decimal `json:"declared_amount,omitempty"`
	Deviation      *decimal.Decimal `json:"deviation,omitempty"`
	DeviationPct   *decimal.Decimal `json:"deviation_pct,omitempty"`
	DeviationClass *string          `json:"deviation_class,omitempty"`
	ClosingNotes   *string          `json:"closing_notes,omitempty"`
}

func NewRegisterResponse(r *model.Register) RegisterResponse {
	resp := RegisterResponse{
		ID:             r.ID.String(),
		Code:           r.Code,
		Name:           r.Name,
		Status:         r.Status,
		OpeningBalance: r.OpeningBalance,
		Balance:        r.Balance,
		OpenedAt:       r.OpenedAt,
		ClosedAt:       r.ClosedAt,
		ExpectedAmount: r.ExpectedAmount,
		DeclaredAmount: r.DeclaredAmount,
		Deviation:      r.Deviation,
		DeviationPct:   r.DeviationPct,
		DeviationClass: r.DeviationClass,
		ClosingNotes:   r.ClosingNotes,
	}
	if r.OperatorID != nil {
		id := r.OperatorID.String()
		resp.OperatorID = &id
	}
	return resp
}

type CashMovementResponse struct {
	ID            string          `json:"id"`
	Reason        string          `json:"reason"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	SaleID        *string         `json:"sale_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewCashMovementResponse(m *model.CashMovement) CashMovementResponse {
	return CashMovementResponse{
		ID:            m.ID.String(),
		Reason:        m.Reason,
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		SaleID:        uuidString(m.SaleID),
		Description:   m.Description,
		CreatedAt:     m.CreatedAt,
	}
}

func NewCashMovementList(ms []model.CashMovement) []CashMovementResponse {
	out := make([]CashMovementResponse, 0, len(ms))
	for i := range ms {
		out = append(out, NewCashMovementResponse(&ms[i]))
	}
	return out
}
