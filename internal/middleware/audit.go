// audit.go provides Gin middleware that records authenticated write operations to the audit
// log, with optional shipping to external audit destinations.
package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heirloom-app/heirloom/internal/audit"
	"github.com/heirloom-app/heirloom/internal/config"
	"github.com/heirloom-app/heirloom/internal/db/models"
	"github.com/heirloom-app/heirloom/internal/db/repositories"
)

// AuditMiddleware logs authenticated actions to the database only (backward compatible)
func AuditMiddleware(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return AuditMiddlewareWithShipper(auditRepo, nil, nil)
}

// AuditMiddlewareWithShipper logs authenticated actions and ships to external destinations
func AuditMiddlewareWithShipper(auditRepo *repositories.AuditRepository, shipper audit.Shipper, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request first
		c.Next()

		// Skip OPTIONS always
		if c.Request.Method == "OPTIONS" {
			return
		}

		// Determine what to log based on config
		logReadOps := auditCfg != nil && auditCfg.LogReadOperations
		logFailedReqs := auditCfg != nil && auditCfg.LogFailedRequests

		isReadOp := c.Request.Method == "GET"
		isFailed := c.Writer.Status() >= 400

		// Default behavior: only log successful write operations
		if auditCfg == nil {
			if isReadOp || isFailed {
				return
			}
		} else {
			// With config: check specific settings
			if isReadOp && !logReadOps {
				return
			}
			if isFailed && !logFailedReqs && isReadOp {
				// Skip failed read operations if not configured to log them
				return
			}
		}

		// Extract context
		userID, _ := c.Get("user_id")
		familyID, _ := c.Get("family_id")

		// Create audit log entry
		action := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		ipAddress := c.ClientIP()

		auditLog := &models.AuditLog{
			Action:    action,
			IPAddress: &ipAddress,
			CreatedAt: time.Now(),
		}

		// Set user ID if present
		var userIDStr string
		if userID != nil {
			if uid, ok := userID.(string); ok {
				userIDStr = uid
				auditLog.UserID = &userIDStr
			}
		}

		// Set family ID if a handler resolved one
		var familyIDStr string
		if familyID != nil {
			if fid, ok := familyID.(string); ok {
				familyIDStr = fid
				auditLog.FamilyID = &familyIDStr
			}
		}

		// Set resource type based on URL path
		var resourceType string
		if contains(c.Request.URL.Path, "/endorsements") {
			resourceType = "endorsement"
			auditLog.ResourceType = &resourceType
		} else if contains(c.Request.URL.Path, "/claims") {
			resourceType = "claim"
			auditLog.ResourceType = &resourceType
			// Add specific claim action details
			if contains(c.Request.URL.Path, "/process") {
				action = "claim.processed"
			} else if c.Request.Method == "POST" {
				action = "claim.created"
			}
			auditLog.Action = action
		} else if contains(c.Request.URL.Path, "/families") {
			resourceType = "family"
			auditLog.ResourceType = &resourceType
		} else if contains(c.Request.URL.Path, "/notifications") {
			resourceType = "notification"
			auditLog.ResourceType = &resourceType
		} else if contains(c.Request.URL.Path, "/users") || contains(c.Request.URL.Path, "/auth") {
			resourceType = "user"
			auditLog.ResourceType = &resourceType
		}

		// Extract metadata from context if available
		metadata := make(map[string]interface{})
		metadata["status_code"] = c.Writer.Status()

		if len(metadata) > 0 {
			auditLog.Metadata = metadata
		}

		// Async log creation (non-blocking)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// Write to database
			if auditRepo != nil {
				if err := auditRepo.CreateAuditLog(ctx, auditLog); err != nil {
					fmt.Printf("Failed to create audit log in database: %v\n", err)
				}
			}

			// Ship to external destinations
			if shipper != nil {
				entry := &audit.LogEntry{
					Timestamp:    auditLog.CreatedAt,
					Action:       auditLog.Action,
					UserID:       userIDStr,
					FamilyID:     familyIDStr,
					ResourceType: resourceType,
					IPAddress:    ipAddress,
					StatusCode:   c.Writer.Status(),
					Metadata:     metadata,
				}

				if err := shipper.Ship(ctx, entry); err != nil {
					fmt.Printf("Failed to ship audit log: %v\n", err)
				}
			}
		}()
	}
}

// contains is a simple helper to check if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > len(substr) &&
		(s[:len(substr)] == substr || s[len(s)-len(substr):] == substr ||
			indexOf(s, substr) >= 0))
}

// indexOf returns the index of the first instance of substr in s, or -1 if substr is not present
func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
