package middleware

import (
	"encoding/json"
	"time"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that records successful write
// operations. Route templates are matched so parametrized paths map cleanly.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == "GET" || c.Request.Method == "HEAD" || c.Request.Method == "OPTIONS" {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var actorID *uuid.UUID
		if p, ok := PrincipalFrom(c); ok {
			id := p.UserID
			actorID = &id
		}

		resourceID := c.Param("transactionId")
		if resourceID == "" {
			resourceID = c.Param("id")
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			ActorID:      actorID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/payments/create-intent" && method == "POST":
		return domain.AuditActionCreateIntent, "transaction"
	case route == "/api/v1/payments/initiate/:transactionId" && method == "POST":
		return domain.AuditActionInitiate, "transaction"
	case route == "/api/v1/payments/refund/:transactionId" && method == "POST":
		return domain.AuditActionRefund, "transaction"
	case route == "/api/v1/payments/cancel/:transactionId" && method == "POST":
		return domain.AuditActionCancel, "transaction"
	case route == "/api/v1/payments/reconcile/:transactionId" && method == "POST":
		return domain.AuditActionReconcile, "transaction"
	case route == "/api/v1/callbacks/:provider" && method == "POST":
		return domain.AuditActionProviderCallback, "transaction"
	case route == "/api/v1/webhooks" && method == "POST":
		return domain.AuditActionSubscriptionCreate, "subscription"
	case route == "/api/v1/webhooks/:id" && method == "PUT":
		return domain.AuditActionSubscriptionUpdate, "subscription"
	}
	return "", ""
}
