// Package handler 提供 HTTP 请求处理器
// 本文件处理登录相关的 API 请求
package handler

import (
	"supa_discord/internal/dto/request"
	"supa_discord/internal/service"

	"github.com/gin-gonic/gin"
)

// AuthHandler 登录请求处理器
// 每个请求通过 cookie 中的视图 ID 找到对应视图，再把命令交给视图
type AuthHandler struct {
	views service.ViewManager
}

// NewAuthHandler 创建登录处理器实例
func NewAuthHandler(views service.ViewManager) *AuthHandler {
	return &AuthHandler{views: views}
}

// RequestLoginLink 发送一次性登录链接
// POST /api/auth/login-link
// 请求体: request.LoginLinkRequest
// 响应: respond.ViewState
func (h *AuthHandler) RequestLoginLink(c *gin.Context) {
	var req request.LoginLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	if err := v.RequestLoginLink(c.Request.Context(), req.Email); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, v.State())
}

// VerifyCode 用邮件中的验证码登录
// POST /api/auth/verify
// 请求体: request.VerifyCodeRequest
func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req request.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	if err := v.VerifyCode(c.Request.Context(), req.Email, req.Code); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, v.State())
}

// CompleteLink 登录链接回跳页面提交 URL 片段中的 token
// POST /api/auth/session
// 请求体: request.SessionTokensRequest
func (h *AuthHandler) CompleteLink(c *gin.Context) {
	var req request.SessionTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	if err := v.CompleteLink(c.Request.Context(), req.AccessToken, req.RefreshToken); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, v.State())
}

// SignOut 登出
// POST /api/auth/logout
func (h *AuthHandler) SignOut(c *gin.Context) {
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	if err := v.SignOut(c.Request.Context()); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, v.State())
}
