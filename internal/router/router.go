package router

import (
	"time"

	"pdv/internal/config"
	"pdv/internal/handler"
	"pdv/internal/infra"
	"pdv/internal/middleware"
	"pdv/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Deps are the already-wired services the HTTP surface exposes.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
type Deps struct {
	Config    *config.Config
	Sales     service.SaleOrchestrator
	Cash      service.CashLedger
	Inventory service.InventoryLedger
	Fiscal    service.FiscalEmitter
	// RDB backs the dead-letter listing; nil disables it.
	RDB      *redis.Client
	Probes   []handler.Probe
	Breakers map[string]*infra.CircuitBreaker
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// New returns a configured Gin engine.
func New(d Deps) *gin.Engine {
	cfg := d.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	if cfg.RateLimitRPS > 0 {
		r.Use(middleware.RateLimiter(cfg.RateLimitRPS*60, time.Minute))
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	salesH := handler.NewSalesHandler(d.Sales)
	registersH := handler.NewRegistersHandler(d.Cash)
	inventoryH := handler.NewInventoryHandler(d.Inventory)
	fiscalH := handler.NewFiscalHandler(d.Fiscal, d.RDB)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(d.Probes, d.Breakers))
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	all := []string{middleware.RoleOperator, middleware.RoleSupervisor, middleware.RoleAdmin}
	managers := []string{middleware.RoleSupervisor, middleware.RoleAdmin}

	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret))
	{
		sales := v1.Group("/sales")
		{
			sales.POST("", middleware.RequireRole(all...), salesH.Open)
			sales.GET("", middleware.RequireRole(all...), salesH.List)
			sales.GET("/summary", middleware.RequireRole(managers...), salesH.Summary)
			sales.GET("/:id", middleware.RequireRole(all...), salesH.Get)
			sales.POST("/:id/lines", middleware.RequireRole(all...), salesH.AddLine)
			sales.POST("/:id/discount", middleware.RequireRole(all...), salesH.ApplyDiscount)
			sales.POST("/:id/finalize", middleware.RequireRole(all...), salesH.Finalize)
			sales.POST("/:id/cancel", middleware.RequireRole(managers...), salesH.Cancel)

			sales.GET("/:id/fiscal/:kind", middleware.RequireRole(all...), fiscalH.Get)
			sales.POST("/:id/fiscal/:kind", middleware.RequireRole(all...), fiscalH.Emit)
			sales.POST("/:id/fiscal/:kind/cancel", middleware.RequireRole(managers...), fiscalH.Cancel)
			sales.POST("/:id/fiscal/:kind/reconcile", middleware.RequireRole(managers...), fiscalH.Reconcile)
		}

		registers := v1.Group("/registers")
		{
			registers.GET("/current", middleware.RequireRole(all...), registersH.Current)
			registers.GET("/:id", middleware.RequireRole(all...), registersH.Get)
			registers.POST("/:id/open", middleware.RequireRole(all...), registersH.Open)
			registers.POST("/:id/close", middleware.RequireRole(all...), registersH.Close)
			registers.POST("/:id/movements", middleware.RequireRole(all...), registersH.RecordMovement)
			registers.GET("/:id/movements", middleware.RequireRole(managers...), registersH.Movements)
			registers.GET("/:id/summary", middleware.RequireRole(all...), registersH.Summary)
			registers.GET("/:id/reconcile", middleware.RequireRole(managers...), registersH.Reconcile)
		}

		products := v1.Group("/products")
		{
			products.GET("/:id/stock", middleware.RequireRole(all...), inventoryH.Level)
			products.POST("/:id/stock", middleware.RequireRole(managers...), inventoryH.Adjust)
			products.GET("/:id/movements", middleware.RequireRole(managers...), inventoryH.Movements)
			products.GET("/:id/reconcile", middleware.RequireRole(managers...), inventoryH.Reconcile)
		}

		fiscal := v1.Group("/fiscal", middleware.RequireRole(managers...))
		{
			fiscal.GET("/status/:key", fiscalH.QueryStatus)
			fiscal.GET("/attention", fiscalH.Attention)
			fiscal.GET("/dead-letters", fiscalH.DeadLetters)
		}
	}

	// Swagger UI, only enabled outside production
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
