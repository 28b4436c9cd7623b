package httptransport

import (
	"github.com/gin-gonic/gin"
)

// Success 写入成功响应，payload 的键平铺在 {"success": true} 信封中。
func Success(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for key, value := range payload {
		body[key] = value
	}
	c.JSON(status, body)
}

// Fail 写入失败响应并中止后续处理。
func Fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}
