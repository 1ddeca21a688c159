// Package handler 提供 HTTP 请求处理器
// 本文件定义 Handler 聚合结构和构造函数
package handler

import (
	"supa_discord/internal/service"

	"go.uber.org/zap"
)

// Handlers 聚合所有 Handler 实例
// Router 层通过此结构访问各个 Handler
type Handlers struct {
	Auth *AuthHandler
	Chat *ChatHandler
	Ws   *WsHandler
	Page *PageHandler
}

// NewHandlers 创建并注入所有 Handler 实例
// views: 视图管理器，所有命令都按 cookie 中的视图 ID 转交给对应视图
func NewHandlers(appName string, views service.ViewManager, lg *zap.Logger) *Handlers {
	return &Handlers{
		Auth: NewAuthHandler(views),
		Chat: NewChatHandler(views),
		Ws:   NewWsHandler(views, lg),
		Page: NewPageHandler(appName),
	}
}
