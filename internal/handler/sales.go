package handler

import (
	"net/http"

	"pdv/internal/dto"
	"pdv/internal/middleware"
	"pdv/internal/repository"
	"pdv/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type SalesHandler struct{ svc service.SaleOrchestrator }

func NewSalesHandler(svc service.SaleOrchestrator) *SalesHandler { return &SalesHandler{svc: svc} }

// Open godoc
// @Summary      Open a sale
// @Description  Opens a sale on an open register and assigns its per-register daily sequence number.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.OpenSaleRequest true "Register and optional customer"
// @Success      201  {object} dto.SaleResponse
// @Failure      404  {object} apierror.APIError
// @Failure      422  {object} apierror.APIError
// @Router       /v1/sales [post]
func (h *SalesHandler) Open(c *gin.Context) {
	var req dto.OpenSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	registerID := uuid.MustParse(req.RegisterID)
	var customerID *uuid.UUID
	if req.CustomerID != nil {
		customerID = optionalUUID(*req.CustomerID)
	}

	sale, err := h.svc.OpenSale(c.Request.Context(), registerID, middleware.OperatorID(c), customerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSaleResponse(sale))
}

// AddLine godoc
// @Summary      Add a line
// @Description  Adds a product line to an open sale, snapshotting the catalog price and tax attributes.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string             true "Sale UUID"
// @Param        body body     dto.AddLineRequest true "Product and quantity"
// @Success      200  {object} dto.SaleResponse
// @Failure      422  {object} apierror.APIError
// @Router       /v1/sales/{id}/lines [post]
func (h *SalesHandler) AddLine(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.AddLineRequest
	if !bindAndValidate(c, &req) {
		return
	}
	sale, err := h.svc.AddLine(c.Request.Context(), id, uuid.MustParse(req.ProductID), req.Quantity, req.UnitPrice)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleResponse(sale))
}

// ApplyDiscount godoc
// @Summary      Apply a discount
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                   true "Sale UUID"
// @Param        body body     dto.ApplyDiscountRequest true "Discount amount"
// @Success      200  {object} dto.SaleResponse
// @Failure      422  {object} apierror.APIError
// @Router       /v1/sales/{id}/discount [post]
func (h *SalesHandler) ApplyDiscount(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ApplyDiscountRequest
	if !bindAndValidate(c, &req) {
		return
	}
	sale, err := h.svc.ApplyDiscount(c.Request.Context(), id, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleResponse(sale))
}

// Finalize godoc
// @Summary      Finalize a sale
// @Description  Debits stock, records payments and credits the register in one transaction, then triggers fiscal emission.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                  true "Sale UUID"
// @Param        body body     dto.FinalizeSaleRequest true "Payments"
// @Success      200  {object} dto.SaleResponse
// @Failure      409  {object} apierror.APIError
// @Failure      422  {object} apierror.APIError
// @Router       /v1/sales/{id}/finalize [post]
func (h *SalesHandler) Finalize(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.FinalizeSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	payments := make([]service.PaymentInput, 0, len(req.Payments))
	for _, p := range req.Payments {
		payments = append(payments, service.PaymentInput{
			Method:           p.Method,
			Amount:           p.Amount,
			AuthorizationRef: p.AuthorizationRef,
			CardBrand:        p.CardBrand,
		})
	}
	sale, err := h.svc.FinalizeSale(c.Request.Context(), id, payments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleResponse(sale))
}

// Cancel godoc
// @Summary      Cancel a sale
// @Description  Reverses stock and cash movements and voids emitted fiscal documents.
// @Tags         sales
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                true "Sale UUID"
// @Param        body body     dto.CancelSaleRequest true "Justification (15 to 255 characters)"
// @Success      200  {object} dto.SaleResponse
// @Failure      422  {object} apierror.APIError
// @Router       /v1/sales/{id}/cancel [post]
func (h *SalesHandler) Cancel(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CancelSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	sale, err := h.svc.CancelSale(c.Request.Context(), id, req.Justification)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleResponse(sale))
}

// Get godoc
// @Summary      Get a sale
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        id  path     string true "Sale UUID"
// @Success      200 {object} dto.SaleResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/sales/{id} [get]
func (h *SalesHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	sale, err := h.svc.GetSale(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleResponse(sale))
}

// List godoc
// @Summary      List sales
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        register_id query string false "Register UUID"
// @Param        customer_id query string false "Customer UUID"
// @Param        status      query string false "open | finalized | cancelled"
// @Param        from        query string false "Business date YYYY-MM-DD"
// @Param        to          query string false "Business date YYYY-MM-DD"
// @Param        limit       query int    false "Max rows (default 100)"
// @Success      200 {object} dto.SaleListResponse
// @Router       /v1/sales [get]
func (h *SalesHandler) List(c *gin.Context) {
	var q dto.SaleFilter
	if !bindQuery(c, &q) {
		return
	}
	limit := q.Limit
	if limit == 0 {
		limit = 100
	}
	sales, err := h.svc.ListSales(c.Request.Context(), repository.SaleFilter{
		RegisterID: optionalUUID(q.RegisterID),
		CustomerID: optionalUUID(q.CustomerID),
		Status:     q.Status,
		From:       q.From,
		To:         q.To,
		Limit:      limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSaleListResponse(sales))
}

// Summary godoc
// @Summary      Sales summary
// @Description  Totals of finalized sales per payment method over a business-date range.
// @Tags         sales
// @Produce      json
// @Security     BearerAuth
// @Param        from query string true "Business date YYYY-MM-DD"
// @Param        to   query string true "Business date YYYY-MM-DD"
// @Success      200  {object} service.SalesSummary
// @Router       /v1/sales/summary [get]
func (h *SalesHandler) Summary(c *gin.Context) {
	var q dto.SalesSummaryQuery
	if !bindQuery(c, &q) {
		return
	}
	sum, err := h.svc.Summary(c.Request.Context(), q.From, q.To)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
