package common

import "github.com/gin-gonic/gin"

// Fail writes the relay's non-streaming error body: {"error": msg, "details": ...}.
func Fail(c *gin.Context, httpStatus int, msg string, details any) {
	body := gin.H{"error": msg}
	if details != nil {
		body["details"] = details
	}
	c.AbortWithStatusJSON(httpStatus, body)
}

func OK(c *gin.Context, httpStatus int, data any) {
	c.JSON(httpStatus, data)
}
