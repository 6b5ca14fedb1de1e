package handler

import (
	"context"
	"net/http"

	"pdv/internal/dto"
	"pdv/internal/service"
	"pdv/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type FiscalHandler struct {
	svc service.FiscalEmitter
	rdb *redis.Client
}

// NewFiscalHandler builds the fiscal operations surface. rdb may be nil, in
// which case the dead-letter listing is always empty.
func NewFiscalHandler(svc service.FiscalEmitter, rdb *redis.Client) *FiscalHandler {
	return &FiscalHandler{svc: svc, rdb: rdb}
}

// Emit godoc
// @Summary      Emit a fiscal document
// @Description  Submits the document of the given kind for a finalized sale. Safe to repeat: a sale never gets two authorized documents of one kind.
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string true "Sale UUID"
// @Param        kind path     string true "nfce | cfe-sat"
// @Success      200  {object} dto.FiscalDocumentResponse
// @Failure      409  {object} apierror.APIError
// @Failure      422  {object} apierror.APIError
// @Failure      502  {object} apierror.APIError
// @Router       /v1/sales/{id}/fiscal/{kind} [post]
func (h *FiscalHandler) Emit(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	doc, err := h.svc.Emit(c.Request.Context(), id, c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFiscalDocumentResponse(doc))
}

// Cancel godoc
// @Summary      Cancel a fiscal document
// @Tags         fiscal
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string                          true "Sale UUID"
// @Param        kind path     string                          true "nfce | cfe-sat"
// @Param        body body     dto.CancelFiscalDocumentRequest true "Justification (15 to 255 characters)"
// @Success      200  {object} dto.FiscalDocumentResponse
// @Failure      422  {object} apierror.APIError
// @Failure      502  {object} apierror.APIError
// @Router       /v1/sales/{id}/fiscal/{kind}/cancel [post]
func (h *FiscalHandler) Cancel(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CancelFiscalDocumentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	doc, err := h.svc.Cancel(c.Request.Context(), id, c.Param("kind"), req.Justification)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFiscalDocumentResponse(doc))
}

// Get godoc
// @Summary      Get a fiscal document
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string true "Sale UUID"
// @Param        kind path     string true "nfce | cfe-sat"
// @Success      200  {object} dto.FiscalDocumentResponse
// @Failure      404  {object} apierror.APIError
// @Router       /v1/sales/{id}/fiscal/{kind} [get]
func (h *FiscalHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	doc, err := h.svc.Get(c.Request.Context(), id, c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFiscalDocumentResponse(doc))
}

// Reconcile godoc
// @Summary      Reconcile a fiscal document with the authority
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        id   path     string true "Sale UUID"
// @Param        kind path     string true "nfce | cfe-sat"
// @Success      200  {object} dto.FiscalDocumentResponse
// @Failure      502  {object} apierror.APIError
// @Router       /v1/sales/{id}/fiscal/{kind}/reconcile [post]
func (h *FiscalHandler) Reconcile(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	doc, err := h.svc.Reconcile(c.Request.Context(), id, c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFiscalDocumentResponse(doc))
}

// QueryStatus godoc
// @Summary      Query document status by access key
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        key path     string true "44-digit access key"
// @Success      200 {object} fiscal.StatusReport
// @Failure      422 {object} apierror.APIError
// @Failure      502 {object} apierror.APIError
// @Router       /v1/fiscal/status/{key} [get]
func (h *FiscalHandler) QueryStatus(c *gin.Context) {
	report, err := h.svc.QueryStatus(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Attention godoc
// @Summary      Documents needing attention
// @Description  Documents in error or with a pending cancellation.
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        limit query int false "Max rows (default 100)"
// @Success      200   {array} dto.FiscalDocumentResponse
// @Router       /v1/fiscal/attention [get]
func (h *FiscalHandler) Attention(c *gin.Context) {
	var q dto.ListQuery
	if !bindQuery(c, &q) {
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}
	docs, err := h.svc.ListAttention(c.Request.Context(), q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewFiscalDocumentList(docs))
}

// DeadLetters godoc
// @Summary      Dead-lettered emissions
// @Description  Emission jobs and documents that exhausted their automatic attempts.
// @Tags         fiscal
// @Produce      json
// @Security     BearerAuth
// @Param        limit query int false "Max rows per queue (default 100)"
// @Success      200   {object} map[string][]worker.DLQEntry
// @Router       /v1/fiscal/dead-letters [get]
func (h *FiscalHandler) DeadLetters(c *gin.Context) {
	var q dto.ListQuery
	if !bindQuery(c, &q) {
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}
	out := map[string][]worker.DLQEntry{}
	for _, queue := range []string{worker.QueueEmission, worker.QueueFiscalRetry} {
		entries, err := h.deadLetters(c.Request.Context(), queue, int64(q.Limit))
		if err != nil {
			writeError(c, err)
			return
		}
		out[queue] = entries
	}
	c.JSON(http.StatusOK, out)
}

func (h *FiscalHandler) deadLetters(ctx context.Context, queue string, limit int64) ([]worker.DLQEntry, error) {
	if h.rdb == nil {
		return []worker.DLQEntry{}, nil
	}
	return worker.DLQEntries(ctx, h.rdb, queue, limit)
}
