package handler

import (
	"net/http"

	"pdv/internal/dto"
	"pdv/internal/service"

	"github.com/gin-gonic/gin"
)

type InventoryHandler struct{ svc service.InventoryLedger }

func NewInventoryHandler(svc service.InventoryLedger) *InventoryHandler {
	return &InventoryHandler{svc: svc}
}

// Adjust godoc
// @Summary      Adjust stock
// @Description  Records a stock receipt (positive delta) or count correction (negative delta).
// @Tags         inventory
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                 true "Product UUID"
// @Param        body body     dto.AdjustStockRequest true "Delta and note"
// @Success      201  {object} dto.InventoryMovementResponse
// @Failure      422  {object} apierror.APIError
// @Router       /v1/products/{id}/stock [post]
func (h *InventoryHandler) Adjust(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.AdjustStockRequest
	if !bindAndValidate(c, &req) {
		return
	}
	mov, err := h.svc.Adjust(c.Request.Context(), id, req.Delta, req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewInventoryMovementResponse(mov))
}

// Level godoc
// @Summary      Stock level
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Param        id  path     string true "Product UUID"
// @Success      200 {object} dto.StockLevelResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/products/{id}/stock [get]
func (h *InventoryHandler) Level(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	p, err := h.svc.Level(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewStockLevelResponse(p))
}

// Movements godoc
// @Summary      List stock movements
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Param        id    path  string true  "Product UUID"
// @Param        limit query int    false "Max rows (default 100)"
// @Success      200   {array} dto.InventoryMovementResponse
// @Router       /v1/products/{id}/movements [get]
func (h *InventoryHandler) Movements(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var q dto.ListQuery
	if !bindQuery(c, &q) {
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}
	ms, err := h.svc.Movements(c.Request.Context(), id, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewInventoryMovementList(ms))
}

// Reconcile godoc
// @Summary      Reconcile stock against the movement log
// @Tags         inventory
// @Produce      json
// @Security     BearerAuth
// @Param        id  path     string true "Product UUID"
// @Success      200 {object} service.StockReconciliation
// @Router       /v1/products/{id}/reconcile [get]
func (h *InventoryHandler) Reconcile(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	rec, err := h.svc.Reconcile(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
