package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterChatRoutes 注册频道和消息路由
// 未登录时视图返回 CodeUnauthorized
func (rt *Router) RegisterChatRoutes(rg *gin.RouterGroup) {
	api := rg.Group("/api")
	{
		api.GET("/state", rt.handlers.Chat.State)
		api.POST("/channels/select", rt.handlers.Chat.SelectChannel)
		api.POST("/channels/retry", rt.handlers.Chat.Retry)
		api.POST("/messages", rt.handlers.Chat.SendMessage)
		api.POST("/messages/draft", rt.handlers.Chat.SetDraft)
	}
}
