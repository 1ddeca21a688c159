package respond

import "time"

// Phase 视图所处阶段
type Phase string

const (
	PhaseLoading     Phase = "loading"      // 正在恢复会话
	PhaseSignedOut   Phase = "signed_out"   // 显示登录表单
	PhaseLinkSent    Phase = "link_sent"    // 已发送登录链接
	PhaseChat        Phase = "chat"         // 已登录
	PhaseConfigError Phase = "config_error" // 缺少后端配置
)

// NoticeKind 非阻塞提示的来源
type NoticeKind string

const (
	NoticeChannels NoticeKind = "channels" // 频道列表加载失败
	NoticeMessages NoticeKind = "messages" // 消息加载失败
	NoticeSend     NoticeKind = "send"     // 消息发送失败
	NoticeFeed     NoticeKind = "feed"     // 实时订阅断开
	NoticeAuth     NoticeKind = "auth"     // 登录相关
)

// ViewState 推送给浏览器的完整视图快照
// 使用位置:
//   - internal/service/chat/view.go: render
//   - internal/handler/ws_handler.go: 写给浏览器
type ViewState struct {
	Version uint64     `json:"version"`
	Phase   Phase      `json:"phase"`
	User    *UserView  `json:"user,omitempty"`
	Email   string     `json:"email,omitempty"` // link_sent 时登录链接的收件地址
	Busy    bool       `json:"busy"`            // 登录请求进行中
	Notice  *Notice    `json:"notice,omitempty"`
	Chat    *ChatState `json:"chat,omitempty"`
}

// UserView 当前登录用户
type UserView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Notice 非阻塞提示
// Retryable 为 true 时浏览器显示重试按钮
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable"`
}

// ChatState 聊天界面
type ChatState struct {
	Channels        []ChannelView `json:"channels"`
	ActiveChannel   *ChannelView  `json:"active_channel,omitempty"`
	Messages        []MessageView `json:"messages"`
	Draft           string        `json:"draft"`
	ChannelsLoading bool          `json:"channels_loading"`
	MessagesLoading bool          `json:"messages_loading"`
	FeedAttached    bool          `json:"feed_attached"`
	// ScrollToLatest 本次快照中消息列表有变化，浏览器应滚动到底部
	ScrollToLatest bool `json:"scroll_to_latest"`
}

// ChannelView 频道
type ChannelView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MessageView 消息
type MessageView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Mine      bool      `json:"mine"`
	Author    string    `json:"author"`   // "You" 或 "User xxxxxx"
	Initials  string    `json:"initials"` // 头像上的两个字母
}
