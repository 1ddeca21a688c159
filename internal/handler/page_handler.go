// Package handler 提供 HTTP 请求处理器
// 本文件渲染浏览器页面
package handler

import (
	"net/http"
	"strings"

	"supa_discord/pkg/errorx"

	"github.com/gin-gonic/gin"
)

// PageHandler 页面处理器，模板由 https_server 通过 engine.SetHTMLTemplate 注册
type PageHandler struct {
	appName string
}

// NewPageHandler 创建页面处理器
func NewPageHandler(appName string) *PageHandler {
	return &PageHandler{appName: appName}
}

// Index 聊天页面外壳，内容由 /ws 推送的快照渲染
// GET /
func (h *PageHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"AppName": h.appName})
}

// Callback 登录链接回跳页面
// GET /auth/callback
// token 在 URL 片段中，服务端拿不到，由页面脚本提交到 /api/auth/session
func (h *PageHandler) Callback(c *gin.Context) {
	c.HTML(http.StatusOK, "callback.html", gin.H{"AppName": h.appName})
}

// ConfigErrorHandler 缺少后端配置时的兜底处理器
// /api 和 /ws 返回 CodeConfigMissing，其余路径返回配置错误页面
func ConfigErrorHandler(appName string, cause error, missing []string) gin.HandlerFunc {
	msg := errorx.Message(cause)
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || path == "/ws" {
			c.JSON(http.StatusOK, ResponseData{Code: errorx.CodeConfigMissing, Msg: msg})
			return
		}
		c.HTML(http.StatusServiceUnavailable, "config_error.html", gin.H{
			"AppName": appName,
			"Message": msg,
			"Missing": missing,
		})
	}
}
