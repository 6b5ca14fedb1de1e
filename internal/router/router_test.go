package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pdv/internal/apierror"
	"pdv/internal/config"
	"pdv/internal/dto"
	"pdv/internal/fiscal"
	"pdv/internal/metrics"
	"pdv/internal/middleware"
	"pdv/internal/model"
	"pdv/internal/repository/memory"
	"pdv/internal/router"
	"pdv/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

type api struct {
	t          *testing.T
	engine     *gin.Engine
	store      *memory.Store
	registerID uuid.UUID
	productID  uuid.UUID
	operatorID uuid.UUID
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	inventory := service.NewInventoryLedger(store)
	cash := service.NewCashLedger(store, nil)
	emitter := service.NewFiscalEmitter(service.FiscalConfig{
		UnitOfWork: store,
		Builder: fiscal.NewBuilder(fiscal.Issuer{
			CNPJ:              "12345678000195",
			Name:              "Mercado Exemplo Ltda",
			StateRegistration: "123456789",
			TaxRegime:         1,
			Address: fiscal.Address{
				Street: "Rua A", Number: "10", District: "Centro",
				CityCode: "3550308", City: "Sao Paulo", State: "SP", ZipCode: "01001000",
			},
			Environment: 2,
			Series:      1,
		}),
		Transports:    map[fiscal.Kind]fiscal.Transport{fiscal.KindNFCe: fiscal.NewFakeTransport()},
		Metrics:       m,
		SubmitTimeout: time.Second,
	})
	sales := service.NewSaleOrchestrator(service.SaleConfig{
		UnitOfWork: store,
		Inventory:  inventory,
		Cash:       cash,
		Fiscal:     emitter,
		Metrics:    m,
	})

	register := &model.Register{Code: "001", Name: "Caixa 001", Status: model.RegisterClosed}
	require.NoError(t, store.Registers().Create(ctx, register))
	product := &model.Product{
		Code: "7891000100103", Name: "Refrigerante 2L", Unit: "UN",
		UnitPrice: decimal.RequireFromString("12.50"), Active: true, StockTracked: true,
		TaxOrigin: "0", TaxClassification: "22021000", FiscalOperationCode: "5102", TaxSituationCode: "102",
	}
	require.NoError(t, store.Products().Create(ctx, product))
	_, err := inventory.Adjust(ctx, product.ID, decimal.NewFromInt(5), "initial load")
	require.NoError(t, err)

	engine := router.New(router.Deps{
		Config:    &config.Config{Env: "test", JWTSecret: secret},
		Sales:     sales,
		Cash:      cash,
		Inventory: inventory,
		Fiscal:    emitter,
		Gatherer:  reg,
	})
	return &api{t: t, engine: engine, store: store, registerID: register.ID, productID: product.ID, operatorID: uuid.New()}
}

func token(t *testing.T, role string, operatorID uuid.UUID) string {
	t.Helper()
	claims := middleware.JWTClaims{
		OperatorID: operatorID.String(),
		Name:       "Ana",
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (a *api) do(method, path, role string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(a.t, role, a.operatorID))
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *api) openRegister() {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/registers/"+a.registerID.String()+"/open", middleware.RoleOperator,
		map[string]string{"opening_balance": "50.00"})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
}

func (a *api) openSale() dto.SaleResponse {
	a.t.Helper()
	w := a.do(http.MethodPost, "/v1/sales", middleware.RoleOperator, map[string]string{"register_id": a.registerID.String()})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.SaleResponse](a.t, w)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	w = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pdv_sales_finalized_total")
}

func TestAuthentication(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/v1/sales", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sales", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Cancelling is reserved to supervisors.
	w = a.do(http.MethodPost, "/v1/sales/"+uuid.NewString()+"/cancel", middleware.RoleOperator,
		map[string]string{"justification": "cliente desistiu da compra"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSaleCheckoutFlow(t *testing.T) {
	a := newAPI(t)
	a.openRegister()
	sale := a.openSale()
	assert.Equal(t, model.SaleOpen, sale.Status)
	assert.True(t, strings.HasSuffix(sale.SequenceNumber, "0001"), sale.SequenceNumber)

	w := a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/lines", middleware.RoleOperator,
		map[string]string{"product_id": a.productID.String(), "quantity": "2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sale = decode[dto.SaleResponse](t, w)
	assert.True(t, decimal.RequireFromString("25.00").Equal(sale.Total), sale.Total.String())

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/finalize", middleware.RoleOperator, map[string]interface{}{
		"payments": []map[string]string{{"method": "cash", "amount": "30.00"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sale = decode[dto.SaleResponse](t, w)
	assert.Equal(t, model.SaleFinalized, sale.Status)
	assert.True(t, decimal.RequireFromString("5.00").Equal(sale.Change))

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/fiscal/nfce", middleware.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc := decode[dto.FiscalDocumentResponse](t, w)
	assert.Equal(t, model.FiscalEmitted, doc.Status)
	require.NotNil(t, doc.AccessKey)
	assert.Len(t, *doc.AccessKey, 44)

	w = a.do(http.MethodGet, "/v1/products/"+a.productID.String()+"/stock", middleware.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	level := decode[dto.StockLevelResponse](t, w)
	assert.True(t, decimal.NewFromInt(3).Equal(level.Stock))

	w = a.do(http.MethodGet, "/v1/registers/"+a.registerID.String(), middleware.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	register := decode[dto.RegisterResponse](t, w)
	assert.True(t, decimal.RequireFromString("75.00").Equal(register.Balance), register.Balance.String())

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/cancel", middleware.RoleSupervisor,
		map[string]string{"justification": "cliente desistiu da compra"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sale = decode[dto.SaleResponse](t, w)
	assert.Equal(t, model.SaleCancelled, sale.Status)
	require.Len(t, sale.FiscalDocuments, 1)
	assert.Equal(t, model.FiscalCancelled, sale.FiscalDocuments[0].Status)
}

func TestZeroTotalSaleFinalizesWithoutPayments(t *testing.T) {
	a := newAPI(t)
	a.openRegister()
	sale := a.openSale()

	w := a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/lines", middleware.RoleOperator,
		map[string]string{"product_id": a.productID.String(), "quantity": "1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Unpaid while the total is positive.
	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/finalize", middleware.RoleOperator, map[string]interface{}{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_PAYMENT", decode[apierror.APIError](t, w).Code)

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/discount", middleware.RoleOperator,
		map[string]string{"amount": "12.50"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/finalize", middleware.RoleOperator, map[string]interface{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sale = decode[dto.SaleResponse](t, w)
	assert.Equal(t, model.SaleFinalized, sale.Status)
	assert.True(t, sale.Total.IsZero())

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/fiscal/nfce", middleware.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.FiscalEmitted, decode[dto.FiscalDocumentResponse](t, w).Status)
}

func TestCurrentRegister(t *testing.T) {
	a := newAPI(t)

	w := a.do(http.MethodGet, "/v1/registers/current", middleware.RoleOperator, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "REGISTER_NOT_FOUND", decode[apierror.APIError](t, w).Code)

	a.openRegister()
	w = a.do(http.MethodGet, "/v1/registers/current", middleware.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reg := decode[dto.RegisterResponse](t, w)
	assert.Equal(t, a.registerID.String(), reg.ID)
	assert.Equal(t, model.RegisterOpen, reg.Status)
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)

	// Register still closed.
	w := a.do(http.MethodPost, "/v1/sales", middleware.RoleOperator, map[string]string{"register_id": a.registerID.String()})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "REGISTER_NOT_OPEN", decode[apierror.APIError](t, w).Code)

	a.openRegister()
	w = a.do(http.MethodPost, "/v1/registers/"+a.registerID.String()+"/open", middleware.RoleOperator,
		map[string]string{"opening_balance": "50.00"})
	assert.Equal(t, http.StatusConflict, w.Code)

	sale := a.openSale()

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/lines", middleware.RoleOperator,
		map[string]string{"product_id": a.productID.String(), "quantity": "6"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", decode[apierror.APIError](t, w).Code)

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/finalize", middleware.RoleOperator, map[string]interface{}{
		"payments": []map[string]string{{"method": "cheque", "amount": "10"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	verr := decode[apierror.ValidationError](t, w)
	assert.Equal(t, "VALIDATION_ERROR", verr.Code)
	assert.Equal(t, "oneof", verr.Fields["Method"])

	w = a.do(http.MethodGet, "/v1/sales/"+uuid.NewString(), middleware.RoleOperator, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SALE_NOT_FOUND", decode[apierror.APIError](t, w).Code)

	w = a.do(http.MethodGet, "/v1/sales/not-a-uuid", middleware.RoleOperator, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPost, "/v1/sales/"+sale.ID+"/fiscal/nfce", middleware.RoleOperator, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "SALE_NOT_FINALIZED", decode[apierror.APIError](t, w).Code)

	w = a.do(http.MethodGet, "/v1/fiscal/status/123", middleware.RoleSupervisor, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_ACCESS_KEY", decode[apierror.APIError](t, w).Code)
}

func TestRegisterCloseAndDeadLetters(t *testing.T) {
	a := newAPI(t)
	a.openRegister()

	w := a.do(http.MethodPost, "/v1/registers/"+a.registerID.String()+"/movements", middleware.RoleOperator,
		map[string]string{"kind": "withdrawal", "amount": "20.00", "description": "troco para o cofre"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(http.MethodPost, "/v1/registers/"+a.registerID.String()+"/close", middleware.RoleOperator,
		map[string]string{"declared_amount": "30.00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reg := decode[dto.RegisterResponse](t, w)
	assert.Equal(t, model.RegisterClosed, reg.Status)
	require.NotNil(t, reg.DeviationClass)
	assert.Equal(t, model.DeviationNormal, *reg.DeviationClass)

	w = a.do(http.MethodGet, "/v1/fiscal/dead-letters", middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	letters := decode[map[string][]json.RawMessage](t, w)
	assert.Contains(t, letters, "jobs:fiscal_emission")
	assert.Empty(t, letters["jobs:fiscal_emission"])
}
