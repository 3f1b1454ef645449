package handler

import (
	"pesabridge/internal/adapter/http/middleware"
	"pesabridge/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentSvc      ports.PaymentService
	SubscriptionSvc ports.SubscriptionService
	TokenSvc        ports.TokenService
	AuditSvc        ports.AuditService // nil = audit logging disabled
	HealthCheckers  []ports.HealthChecker
	MetricsRegistry *prometheus.Registry // nil = metrics endpoint disabled
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check (deep: verifies PostgreSQL + Redis when configured)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	if deps.MetricsRegistry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.MetricsRegistry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")

	// --- Provider callback ingress (authenticated by payload signature,
	// not by bearer token). Lives under /callbacks because the subscription
	// CRUD already owns /webhooks/:id and gin cannot register a second
	// wildcard name on the same segment. ---
	webhookHandler := NewWebhookHandler(deps.PaymentSvc, deps.SubscriptionSvc, deps.Logger)
	v1.POST("/callbacks/:provider", webhookHandler.ProviderCallback)

	// --- JWT-authenticated merchant API ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	paymentHandler := NewPaymentHandler(deps.PaymentSvc)

	payments := v1.Group("/payments", jwtAuth)
	{
		payments.POST("/create-intent", paymentHandler.CreateIntent)
		payments.POST("/initiate/:transactionId", paymentHandler.Initiate)
		payments.POST("/refund/:transactionId", paymentHandler.Refund)
		payments.POST("/cancel/:transactionId", paymentHandler.Cancel)
		payments.POST("/reconcile/:transactionId", paymentHandler.Reconcile)
	}

	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("", paymentHandler.List)
		transactions.GET("/:transactionId", paymentHandler.Get)
	}

	webhooks := v1.Group("/webhooks", jwtAuth)
	{
		webhooks.POST("", webhookHandler.CreateSubscription)
		webhooks.GET("", webhookHandler.ListSubscriptions)
		webhooks.PUT("/:id", webhookHandler.UpdateSubscription)
		webhooks.GET("/:id/deliveries", webhookHandler.ListDeliveries)
	}

	return r
}
