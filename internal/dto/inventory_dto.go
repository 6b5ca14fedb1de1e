package dto

import (
	"time"

	"pdv/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AdjustStockRequest struct {
	Delta decimal.Decimal `json:"delta" validate:"required"`
	Note  string          `json:"note"  validate:"max=200"`
}

// ListQuery bounds list endpoints.
type ListQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=500"`
}

type StockLevelResponse struct {
	ProductID    string          `json:"product_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Active       bool            `json:"active"`
	StockTracked bool            `json:"stock_tracked"`
	Stock        decimal.Decimal `json:"stock"`
}

func NewStockLevelResponse(p *model.Product) StockLevelResponse {
	return StockLevelResponse{
		ProductID:    p.ID.String(),
		Code:         p.Code,
		Name:         p.Name,
		Unit:         p.Unit,
		Active:       p.Active,
		StockTracked: p.StockTracked,
		Stock:        p.Stock,
	}
}

type InventoryMovementResponse struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	Reason         string          `json:"reason"`
	Delta          decimal.Decimal `json:"delta"`
	QuantityBefore decimal.Decimal `json:"quantity_before"`
	QuantityAfter  decimal.Decimal `json:"quantity_after"`
	SaleID         *string         `json:"sale_id,omitempty"`
	Note           string          `json:"note,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func NewInventoryMovementResponse(m *model.InventoryMovement) InventoryMovementResponse {
	return InventoryMovementResponse{
		ID:             m.ID.String(),
		ProductID:      m.ProductID.String(),
		Reason:         m.Reason,
		Delta:          m.Delta,
		QuantityBefore: m.QuantityBefore,
		QuantityAfter:  m.QuantityAfter,
		SaleID:         uuidString(m.SaleID),
		Note:           m.Note,
		CreatedAt:      m.CreatedAt,
	}
}

func NewInventoryMovementList(ms []model.InventoryMovement) []InventoryMovementResponse {
	out := make([]InventoryMovementResponse, 0, len(ms))
	for i := range ms {
		out = append(out, NewInventoryMovementResponse(&ms[i]))
	}
	return out
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
