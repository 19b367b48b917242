package httpapi

import "github.com/gin-gonic/gin"

// ok writes the standard success envelope.
func ok(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{"success": true, "data": data})
}

// fail writes the standard error envelope.
func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"success": false, "error": gin.H{"message": msg}})
}
