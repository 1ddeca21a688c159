// Package handler 提供 HTTP 请求处理器
// 本文件把视图快照通过 WebSocket 推送给浏览器
package handler

import (
	"time"

	"supa_discord/internal/dto/respond"
	"supa_discord/internal/service"
	"supa_discord/pkg/constants"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WsHandler 快照推送处理器
type WsHandler struct {
	views    service.ViewManager
	upgrader websocket.Upgrader
	lg       *zap.Logger
}

// NewWsHandler 创建推送处理器
// 只接受同源连接，cookie 中的视图 ID 决定推送哪个视图
func NewWsHandler(views service.ViewManager, lg *zap.Logger) *WsHandler {
	return &WsHandler{
		views: views,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		lg: lg,
	}
}

// Stream 推送视图快照
// GET /ws
// 功能:
//   - 将 HTTP 连接升级为 WebSocket 连接
//   - 每次视图状态变化推送一份完整的 respond.ViewState
//   - 浏览器只读，命令走 /api 接口
func (h *WsHandler) Stream(c *gin.Context) {
	v, ok := currentView(c, h.views)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时已写出 HTTP 错误
		h.lg.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	states, cancel := v.Watch()
	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, states, done)
	cancel()
	h.lg.Debug("state stream closed", zap.String("view_id", v.ID()))
}

// readPump 只处理控制帧，浏览器关闭或读超时即结束
func (h *WsHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(constants.WsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(constants.WsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.lg.Debug("state stream read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump 写快照和心跳，同一连接只有这里写
func (h *WsHandler) writePump(conn *websocket.Conn, states <-chan respond.ViewState, done <-chan struct{}) {
	ticker := time.NewTicker(constants.WsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case st, ok := <-states:
			_ = conn.SetWriteDeadline(time.Now().Add(constants.WsWriteWait))
			if !ok {
				// 视图已关闭
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "view closed"))
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				h.lg.Debug("state stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(constants.WsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
