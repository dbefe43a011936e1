package utils

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

func CurrentUserID(c *gin.Context) uint {
	v, _ := c.Get("userId")
	switch id := v.(type) {
	case uint:
		return id
	case int:
		return uint(id)
	case int64:
		return uint(id)
	case float64:
		return uint(id)
	default:
		return 0
	}
}

func CurrentRole(c *gin.Context) string {
	if v, ok := c.Get("role"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CurrentActor เป็นชื่อที่ใช้ใน audit log เช่น "admin:1"
func CurrentActor(c *gin.Context) string {
	role := CurrentRole(c)
	if role == "" {
		return "anonymous"
	}
	return fmt.Sprintf("%s:%d", role, CurrentUserID(c))
}
