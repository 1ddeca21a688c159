package model

import "time"

// Session 当前登录身份
// 由后端签发，应用只持有只读的缓存副本
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthEventType 登录状态变化类型
type AuthEventType string

const (
	AuthSignedIn       AuthEventType = "SIGNED_IN"
	AuthSignedOut      AuthEventType = "SIGNED_OUT"
	AuthTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent 登录状态变化事件
// SignedOut 时 Session 为 nil
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}
