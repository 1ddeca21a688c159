// Package router 提供 HTTP 路由注册
// 本文件定义页面和登录相关的路由
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterPageRoutes 注册页面路由
func (rt *Router) RegisterPageRoutes(rg *gin.RouterGroup) {
	rg.GET("/", rt.handlers.Page.Index)
	// 登录邮件中链接的回跳地址
	rg.GET("/auth/callback", rt.handlers.Page.Callback)
}

// RegisterAuthRoutes 注册登录路由
func (rt *Router) RegisterAuthRoutes(rg *gin.RouterGroup) {
	authGroup := rg.Group("/api/auth")
	{
		authGroup.POST("/login-link", rt.handlers.Auth.RequestLoginLink)
		authGroup.POST("/verify", rt.handlers.Auth.VerifyCode)
		authGroup.POST("/session", rt.handlers.Auth.CompleteLink)
		authGroup.POST("/logout", rt.handlers.Auth.SignOut)
	}
}
