// Package router 提供 HTTP 路由注册
// 本文件是路由注册的入口，聚合所有子模块的路由
package router

import (
	"supa_discord/internal/handler"
	"supa_discord/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

// Router 路由管理器，持有 Handler 聚合
type Router struct {
	handlers     *handler.Handlers
	secureCookie bool
}

// NewRouter 创建路由管理器
func NewRouter(handlers *handler.Handlers, secureCookie bool) *Router {
	return &Router{handlers: handlers, secureCookie: secureCookie}
}

// RegisterRoutes 注册所有路由
// 所有路由都需要视图 ID，由 ViewIdentity 中间件从 cookie 读取或分配
func (rt *Router) RegisterRoutes(r *gin.Engine) {
	rg := r.Group("/")
	rg.Use(middleware.ViewIdentity(rt.secureCookie))

	rt.RegisterPageRoutes(rg)      // 页面
	rt.RegisterAuthRoutes(rg)      // 登录
	rt.RegisterChatRoutes(rg)      // 频道和消息
	rt.RegisterWebSocketRoutes(rg) // 快照推送
}
