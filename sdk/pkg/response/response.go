// Package response 管理接口统一的 JSON 返回格式
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
)

// Response 返回体
type Response struct {
	RequestId string      `json:"requestId,omitempty"`
	Code      int         `json:"code"`
	Msg       string      `json:"msg,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Page 分页数据
type Page struct {
	List      interface{} `json:"list"`
	Count     int         `json:"count"`
	PageIndex int         `json:"pageIndex"`
	PageSize  int         `json:"pageSize"`
}

func requestID(c *gin.Context) string {
	if id, ok := c.Request.Context().Value(logger.TrafficKey).(string); ok {
		return id
	}
	return c.GetHeader(string(logger.TrafficKey))
}

// Error 失败返回，code 同时作为 HTTP 状态码
func Error(c *gin.Context, code int, err error, msg string) {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(code, Response{
		RequestId: requestID(c),
		Code:      code,
		Msg:       msg,
	})
}

// OK 成功返回
func OK(c *gin.Context, data interface{}, msg string) {
	Status(c, http.StatusOK, data, msg)
}

// Status 指定状态码的成功返回，例如 202
func Status(c *gin.Context, code int, data interface{}, msg string) {
	c.JSON(code, Response{
		RequestId: requestID(c),
		Code:      code,
		Msg:       msg,
		Data:      data,
	})
}

// PageOK 分页数据返回
func PageOK(c *gin.Context, result interface{}, count int, pageIndex int, pageSize int, msg string) {
	OK(c, Page{List: result, Count: count, PageIndex: pageIndex, PageSize: pageSize}, msg)
}
