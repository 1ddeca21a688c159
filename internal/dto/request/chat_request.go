package request

// SelectChannelRequest 切换当前频道
// 使用位置:
//   - internal/handler/chat_handler.go: SelectChannel
type SelectChannelRequest struct {
	ChannelID string `json:"channel_id" binding:"required"`
}

// SendMessageRequest 在当前频道发送消息
// 内容去除首尾空白后不能为空，由 Store 校验
type SendMessageRequest struct {
	Content string `json:"content" binding:"max=4000"`
}

// DraftRequest 同步输入框内容
type DraftRequest struct {
	Content string `json:"content" binding:"max=4000"`
}
