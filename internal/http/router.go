// README: HTTP router registration; one gin engine with per-role route groups.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"drop/internal/http/handlers"
	"drop/internal/http/middleware"
	"drop/internal/infra"
	"drop/internal/metrics"
	"drop/internal/modules/order"
)

type RouterDeps struct {
	Order    handlers.OrderEngine
	Earnings handlers.EarningsReader
	Verifier infra.TokenVerifier
	// Responses backs Idempotency-Key replay; nil disables it.
	Responses middleware.ResponseStore
	Log       *zap.Logger
}

func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))
	if deps.Responses != nil {
		api.Use(middleware.Idempotency(deps.Responses, log))
	}

	rider := handlers.NewRiderHandler(deps.Order, deps.Earnings)
	riders := api.Group("/rider", middleware.RequireRole(string(order.RoleRider)))
	riders.GET("/orders", rider.List)
	riders.POST("/orders/:id/accept", rider.Accept)
	riders.POST("/orders/:id/status", rider.Advance)
	riders.GET("/earnings", rider.Earnings)

	vendor := handlers.NewVendorHandler(deps.Order)
	vendors := api.Group("/vendor", middleware.RequireRole(string(order.RoleVendor)))
	vendors.POST("/orders/:id/status", vendor.Advance)

	admin := handlers.NewAdminHandler(deps.Order)
	admins := api.Group("/admin", middleware.RequireRole(string(order.RoleAdmin)))
	admins.GET("/orders/:id", admin.Get)
	admins.POST("/orders/:id/cancel", admin.Cancel)

	system := handlers.NewSystemHandler(deps.Order)
	systems := api.Group("/system", middleware.RequireRole(string(order.RoleSystem)))
	systems.POST("/orders", system.Place)
	systems.POST("/orders/:id/payment", system.Payment)

	return r, nil
}
