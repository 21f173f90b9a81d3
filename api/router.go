package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"icosale/internal/bank"
	"icosale/internal/sales"
)

// Deps are the components the HTTP surface is built on.
type Deps struct {
	Sales     *sales.Service
	Bank      *bank.Bank
	Gatherer  prometheus.Gatherer
	RateLimit RateLimit
	Auth      Auth

	// TrustedProxies may set X-Forwarded-For. Nil trusts none and the
	// client address is the connection's peer.
	TrustedProxies []string
	Logger         *zap.Logger
}

// InitRoutes registers the sale and account endpoints on the given Gin
// engine. Mutating endpoints require a signed request.
func InitRoutes(e *gin.Engine, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := e.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return fmt.Errorf("api: trusted proxies: %w", err)
	}
	h := newSaleHandler(deps.Sales, deps.Bank, logger)
	signed := newVerifier(deps.Auth, logger).middleware()

	e.Use(requestID(), newRateLimiter(deps.RateLimit).middleware())

	e.POST("/sales", signed, h.handleInitialize)
	e.GET("/sales/by-admin/:admin", h.handleGetSaleByAdmin)
	e.GET("/sales/:seed", h.handleGetSale)
	e.POST("/sales/:seed/top-up", signed, h.handleTopUp)
	e.POST("/sales/:seed/purchase", signed, h.handlePurchase)

	e.POST("/accounts", signed, h.handleOpenAccount)
	e.GET("/accounts/:address", h.handleGetAccount)

	if deps.Gatherer != nil {
		e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	return nil
}
