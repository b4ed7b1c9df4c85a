package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// OK writes {status:"success", data}.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"status": StatusSuccess,
		"data":   data,
	})
}

// Notice writes a success envelope that carries only a message.
func Notice(c *gin.Context, httpStatus int, msg string) {
	c.JSON(httpStatus, gin.H{
		"status":  StatusSuccess,
		"message": msg,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"status":  StatusError,
		"code":    code,
		"message": msg,
	})
}

func FailWithData(c *gin.Context, httpStatus int, code int, msg string, data any) {
	c.JSON(httpStatus, gin.H{
		"status":  StatusError,
		"code":    code,
		"message": msg,
		"data":    data,
	})
}
