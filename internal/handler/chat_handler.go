// Package handler 提供 HTTP 请求处理器
// 本文件处理频道和消息相关的 API 请求
package handler

import (
	"supa_discord/internal/dto/request"
	"supa_discord/internal/infrastructure/middleware"
	"supa_discord/internal/model"
	"supa_discord/internal/service"

	"github.com/gin-gonic/gin"
)

// ChatHandler 频道和消息请求处理器
type ChatHandler struct {
	views service.ViewManager
}

// NewChatHandler 创建聊天处理器实例
func NewChatHandler(views service.ViewManager) *ChatHandler {
	return &ChatHandler{views: views}
}

// State 返回当前视图快照
// GET /api/state
func (h *ChatHandler) State(c *gin.Context) {
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	HandleSuccess(c, v.State())
}

// SelectChannel 切换当前频道
// POST /api/channels/select
// 请求体: request.SelectChannelRequest
func (h *ChatHandler) SelectChannel(c *gin.Context) {
	var req request.SelectChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	if err := v.SelectChannel(c.Request.Context(), model.ID(req.ChannelID)); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, v.State())
}

// Retry 重试最近一次失败的加载
// POST /api/channels/retry
func (h *ChatHandler) Retry(c *gin.Context) {
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	if err := v.Retry(c.Request.Context()); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, v.State())
}

// SendMessage 在当前频道发送消息
// POST /api/messages
// 请求体: request.SendMessageRequest
// 消息写入后不立即出现在列表中，等实时订阅推送回来
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req request.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	if err := v.SendMessage(c.Request.Context(), req.Content); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, v.State())
}

// SetDraft 同步输入框内容
// POST /api/messages/draft
func (h *ChatHandler) SetDraft(c *gin.Context) {
	var req request.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	if err := v.SetDraft(c.Request.Context(), req.Content); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// currentView 按 cookie 中的视图 ID 取视图，失败时已写出错误响应
func currentView(c *gin.Context, views service.ViewManager) (service.View, bool) {
	v, err := views.Get(c.Request.Context(), middleware.GetViewID(c))
	if err != nil {
		HandleError(c, err)
		return nil, false
	}
	return v, true
}
