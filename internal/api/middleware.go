package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const tenantKey = "tenant_id"

// TenantRequired extracts the tenant id that the auth layer in front of this
// service resolves into the X-Tenant-ID header. Every query below is scoped
// to it; nothing operates across tenants.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Tenant-ID")
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Tenant-ID header is required"})
			return
		}
		c.Set(tenantKey, id)
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}
