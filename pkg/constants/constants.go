package constants

import "time"

const (
	CHANNEL_SIZE = 100 // 通道大小

	SessionKeyPrefix  = "supa_discord:session:" // 会话缓存 key 前缀，后接视图 ID
	ViewCookieName    = "supa_discord_view"     // 浏览器视图 ID cookie
	ViewCookieMaxAge  = 30 * 24 * 60 * 60       // cookie 有效期（秒），30 天
	TokenExpiryMargin = 60 * time.Second        // Access Token 剩余有效期低于此值即刷新

	RealtimeHeartbeat   = 25 * time.Second // Realtime 心跳间隔
	RealtimeJoinTimeout = 10 * time.Second // 加入频道等待 phx_reply 的超时
	FeedReattachDelay   = 3 * time.Second  // 订阅断开后重新订阅的延迟

	WsWriteWait  = 10 * time.Second // 浏览器 websocket 写超时
	WsPongWait   = 60 * time.Second
	WsPingPeriod = 30 * time.Second
)
