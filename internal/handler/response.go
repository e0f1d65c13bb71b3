package handler

import (
	"github.com/gin-gonic/gin"
)

// 响应状态判别值
const (
	StatusOk      = "ok"
	StatusError   = "error"
	StatusWarning = "warning"
)

// OkResponse 成功响应
func OkResponse(c *gin.Context, statusCode int, data gin.H) {
	body := gin.H{"status": StatusOk}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(statusCode, body)
}

// WarningResponse 警告响应（请求已受理但未产生新效果，如重放）
func WarningResponse(c *gin.Context, statusCode int, message string, data gin.H) {
	body := gin.H{"status": StatusWarning, "message": message}
	for k, v := range data {
		body[k] = v
	}
	c.JSON(statusCode, body)
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"status":  StatusError,
		"message": message,
	})
}
