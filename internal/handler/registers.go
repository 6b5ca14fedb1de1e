package handler

import (
	"net/http"

	"pdv/internal/dto"
	"pdv/internal/middleware"
	"pdv/internal/service"

	"github.com/gin-gonic/gin"
)

type RegistersHandler struct{ svc service.CashLedger }

func NewRegistersHandler(svc service.CashLedger) *RegistersHandler {
	return &RegistersHandler{svc: svc}
}

// Open godoc
// @Summary      Open a register
// @Tags         registers
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                  true "Register UUID"
// @Param        body body     dto.OpenRegisterRequest true "Opening balance"
// @Success      200  {object} dto.RegisterResponse
// @Failure      409  {object} apierror.APIError
// @Router       /v1/registers/{id}/open [post]
func (h *RegistersHandler) Open(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.OpenRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	reg, err := h.svc.OpenRegister(c.Request.Context(), id, middleware.OperatorID(c), req.OpeningBalance)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRegisterResponse(reg))
}

// Close godoc
// @Summary      Close a register
// @Description  Compares the declared drawer amount with the ledger balance and classifies the deviation.
// @Tags         registers
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                   true "Register UUID"
// @Param        body body     dto.CloseRegisterRequest true "Declared amount and notes"
// @Success      200  {object} dto.RegisterResponse
// @Failure      422  {object} apierror.APIError
// @Router       /v1/registers/{id}/close [post]
func (h *RegistersHandler) Close(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CloseRegisterRequest
	if !bindAndValidate(c, &req) {
		return
	}
	reg, err := h.svc.CloseRegister(c.Request.Context(), id, req.DeclaredAmount, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRegisterResponse(reg))
}

// RecordMovement godoc
// @Summary      Record a withdrawal or supply
// @Tags         registers
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                  true "Register UUID"
// @Param        body body     dto.CashMovementRequest true "Movement"
// @Success      201  {object} dto.CashMovementResponse
// @Failure      422  {object} apierror.APIError
// @Router       /v1/registers/{id}/movements [post]
func (h *RegistersHandler) RecordMovement(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CashMovementRequest
	if !bindAndValidate(c, &req) {
		return
	}
	mov, err := h.svc.RecordMovement(c.Request.Context(), id, req.Kind, req.Amount, req.Description, middleware.OperatorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewCashMovementResponse(mov))
}

// Get godoc
// @Summary      Get a register
// @Tags         registers
// @Produce      json
// @Security     BearerAuth
// @Param        id  path     string true "Register UUID"
// @Success      200 {object} dto.RegisterResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/registers/{id} [get]
func (h *RegistersHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	reg, err := h.svc.Register(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRegisterResponse(reg))
}

// Current godoc
// @Summary      Get the caller's open register
// @Tags         registers
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.RegisterResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/registers/current [get]
func (h *RegistersHandler) Current(c *gin.Context) {
	reg, err := h.svc.CurrentRegister(c.Request.Context(), middleware.OperatorID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRegisterResponse(reg))
}

// Movements godoc
// @Summary      List register movements
// @Tags         registers
// @Produce      json
// @Security     BearerAuth
// @Param        id    path  string true  "Register UUID"
// @Param        limit query int    false "Max rows (default 100)"
// @Success      200   {array} dto.CashMovementResponse
// @Router       /v1/registers/{id}/movements [get]
func (h *RegistersHandler) Movements(c *gin.Context) {
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
	c.JSON(http.StatusOK, dto.NewCashMovementList(ms))
}

// Summary godoc
// @Summary      Register session summary
// @Tags         registers
// @Produce      json
// @Security     BearerAuth
// @Param        id  path     string true "Register UUID"
// @Success      200 {object} service.CashSummary
// @Router       /v1/registers/{id}/summary [get]
func (h *RegistersHandler) Summary(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	sum, err := h.svc.Summary(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Reconcile godoc
// @Summary      Reconcile a register balance against its movement log
// @Tags         registers
// @Produce      json
// @Security     BearerAuth
// @Param        id  path     string true "Register UUID"
// @Success      200 {object} service.CashReconciliation
// @Router       /v1/registers/{id}/reconcile [get]
func (h *RegistersHandler) Reconcile(c *gin.Context) {
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
