package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"supa_discord/pkg/constants"

	"go.uber.org/zap"
)

// User 登录用户
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session GoTrue 返回的会话
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"` // unix 秒
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Expiry Access Token 过期时间
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// AuthChangeEvent 登录状态变化类型
type AuthChangeEvent string

const (
	SignedIn       AuthChangeEvent = "SIGNED_IN"
	SignedOut      AuthChangeEvent = "SIGNED_OUT"
	TokenRefreshed AuthChangeEvent = "TOKEN_REFRESHED"
)

// AuthEvent 登录状态变化事件，SignedOut 时 Session 为 nil
type AuthEvent struct {
	Event   AuthChangeEvent
	Session *Session
}

// AuthSubscription 登录状态订阅
// 事件按发生顺序写入 Events()，Unsubscribe 后通道关闭
type AuthSubscription struct {
	id   int
	ch   chan AuthEvent
	auth *AuthClient
}

// Events 事件通道
func (s *AuthSubscription) Events() <-chan AuthEvent {
	return s.ch
}

// Unsubscribe 释放订阅，可重复调用
func (s *AuthSubscription) Unsubscribe() {
	s.auth.unsubscribe(s)
}

// AuthClient GoTrue 接口
type AuthClient struct {
	c          *Client
	storage    SessionStorage
	storageKey string
	storageTTL time.Duration
	redirectTo string
	lg         *zap.Logger
	now        func() time.Time
	onToken    func(token string)

	refreshMu sync.Mutex // 串行化刷新，refresh token 只能使用一次

	mu      sync.Mutex
	session *Session
	loaded  bool

	subsMu sync.Mutex
	subs   map[int]*AuthSubscription
	nextID int
	closed bool

	stopRefresh context.CancelFunc
}

func newAuthClient(c *Client, opts Options) *AuthClient {
	return &AuthClient{
		c:          c,
		storage:    opts.Storage,
		storageKey: opts.StorageKey,
		storageTTL: opts.StorageTTL,
		redirectTo: opts.RedirectTo,
		lg:         opts.Logger,
		now:        time.Now,
		subs:       make(map[int]*AuthSubscription),
	}
}

// GetSession 返回当前会话，没有会话时返回 (nil, nil)
// 首次调用从 SessionStorage 恢复；即将过期的会话会先用 refresh token 刷新
func (a *AuthClient) GetSession(ctx context.Context) (*Session, error) {
	s := a.currentSession(ctx)
	if s == nil {
		return nil, nil
	}
	if !a.expiresSoon(s) {
		return s.clone(), nil
	}
	return a.refresh(ctx, s)
}

// OnAuthStateChange 订阅登录状态变化
func (a *AuthClient) OnAuthStateChange() *AuthSubscription {
	sub := &AuthSubscription{ch: make(chan AuthEvent, constants.CHANNEL_SIZE), auth: a}

	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	if a.closed {
		close(sub.ch)
		return sub
	}
	a.nextID++
	sub.id = a.nextID
	a.subs[sub.id] = sub
	return sub
}

// SignInWithOtp 请求后端向 email 发送一次性登录链接
// 用户不存在时由后端自动创建
func (a *AuthClient) SignInWithOtp(ctx context.Context, email string) error {
	query := url.Values{}
	if a.redirectTo != "" {
		query.Set("redirect_to", a.redirectTo)
	}
	body := map[string]any{
		"email":       email,
		"create_user": true,
	}
	req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/otp", query, body, "")
	if err != nil {
		return err
	}
	return a.c.do(req, nil)
}

// VerifyOtp 用邮件中的一次性验证码完成登录
func (a *AuthClient) VerifyOtp(ctx context.Context, email, token string) (*Session, error) {
	body := map[string]string{
		"type":  "email",
		"email": email,
		"token": token,
	}
	req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/verify", nil, body, "")
	if err != nil {
		return nil, err
	}
	var s Session
	if err := a.c.do(req, &s); err != nil {
		return nil, err
	}
	a.normalize(&s)
	a.saveSession(ctx, &s)
	a.emit(SignedIn, &s)
	return s.clone(), nil
}

// SetSession 用登录链接回跳时带回的 token 建立会话
// Access Token 仍有效时向后端查询用户信息以校验，已过期则直接刷新
func (a *AuthClient) SetSession(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	s, err := sessionFromTokens(accessToken, refreshToken)
	if err != nil {
		return nil, err
	}
	if a.expiresSoon(s) && refreshToken != "" {
		s, err = a.refreshWith(ctx, refreshToken)
		if err != nil {
			return nil, err
		}
	} else {
		user, err := a.GetUser(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		s.User = *user
	}
	a.saveSession(ctx, s)
	a.emit(SignedIn, s)
	return s.clone(), nil
}

// GetUser 用 Access Token 查询用户
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := a.c.newRequest(ctx, http.MethodGet, "/auth/v1/user", nil, nil, accessToken)
	if err != nil {
		return nil, err
	}
	var user User
	if err := a.c.do(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut 使当前会话失效
// 后端返回 401/403/404 说明会话已经无效，仍视为登出成功；网络错误时保留本地会话
func (a *AuthClient) SignOut(ctx context.Context) error {
	s := a.currentSession(ctx)
	if s != nil {
		query := url.Values{"scope": {"global"}}
		req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/logout", query, nil, s.AccessToken)
		if err != nil {
			return err
		}
		if err := a.c.do(req, nil); err != nil {
			switch ErrorStatus(err) {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			default:
				return err
			}
		}
	}
	a.clearSession(ctx)
	a.emit(SignedOut, nil)
	return nil
}

// AccessToken 返回当前可用的 Access Token，没有会话时返回空字符串
func (a *AuthClient) AccessToken(ctx context.Context) string {
	s, err := a.GetSession(ctx)
	if err != nil || s == nil {
		return ""
	}
	return s.AccessToken
}

// StartAutoRefresh 定期检查并刷新即将过期的会话，Client.Close 时停止
func (a *AuthClient) StartAutoRefresh(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if a.stopRefresh != nil {
		a.stopRefresh()
	}
	a.stopRefresh = cancel
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.mu.Lock()
				s := a.session
				a.mu.Unlock()
				if s == nil || !a.expiresSoon(s) {
					continue
				}
				if _, err := a.refresh(ctx, s); err != nil {
					a.lg.Warn("auto refresh session failed", zap.Error(err))
				}
			}
		}
	}()
}

func (a *AuthClient) refresh(ctx context.Context, stale *Session) (*Session, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	a.mu.Lock()
	cur := a.session
	a.mu.Unlock()
	if cur == nil {
		return nil, nil
	}
	// 等锁期间其他协程已经刷新过
	if cur.AccessToken != stale.AccessToken && !a.expiresSoon(cur) {
		return cur.clone(), nil
	}

	next, err := a.refreshWith(ctx, cur.RefreshToken)
	if err != nil {
		if status := ErrorStatus(err); status >= http.StatusBadRequest && status < http.StatusInternalServerError {
			a.lg.Info("refresh token rejected, signing out", zap.Int("status", status))
			a.clearSession(ctx)
			a.emit(SignedOut, nil)
		}
		return nil, err
	}
	a.saveSession(ctx, next)
	a.emit(TokenRefreshed, next)
	return next.clone(), nil
}

func (a *AuthClient) refreshWith(ctx context.Context, refreshToken string) (*Session, error) {
	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	req, err := a.c.newRequest(ctx, http.MethodPost, "/auth/v1/token", query, body, "")
	if err != nil {
		return nil, err
	}
	var s Session
	if err := a.c.do(req, &s); err != nil {
		return nil, err
	}
	a.normalize(&s)
	return &s, nil
}

func (a *AuthClient) normalize(s *Session) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = a.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
}

func (a *AuthClient) expiresSoon(s *Session) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !a.now().Add(constants.TokenExpiryMargin).Before(s.Expiry())
}

// currentSession 返回内存中的会话，首次调用时从 SessionStorage 加载
func (a *AuthClient) currentSession(ctx context.Context) *Session {
	a.mu.Lock()
	if a.loaded {
		s := a.session
		a.mu.Unlock()
		return s
	}
	a.mu.Unlock()

	stored := a.loadSession(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		a.loaded = true
		a.session = stored
	}
	return a.session
}

func (a *AuthClient) loadSession(ctx context.Context) *Session {
	if a.storage == nil || a.storageKey == "" {
		return nil
	}
	raw, err := a.storage.Get(ctx, a.storageKey)
	if err != nil {
		a.lg.Warn("load stored session failed", zap.String("key", a.storageKey), zap.Error(err))
		return nil
	}
	if raw == "" {
		return nil
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.AccessToken == "" {
		a.lg.Warn("discard corrupt stored session", zap.String("key", a.storageKey))
		_ = a.storage.Delete(ctx, a.storageKey)
		return nil
	}
	return &s
}

func (a *AuthClient) saveSession(ctx context.Context, s *Session) {
	a.mu.Lock()
	a.session = s.clone()
	a.loaded = true
	a.mu.Unlock()

	if a.storage != nil && a.storageKey != "" {
		raw, err := json.Marshal(s)
		if err == nil {
			err = a.storage.Set(ctx, a.storageKey, string(raw), a.storageTTL)
		}
		if err != nil {
			a.lg.Warn("persist session failed", zap.String("key", a.storageKey), zap.Error(err))
		}
	}
	if a.onToken != nil {
		a.onToken(s.AccessToken)
	}
}

func (a *AuthClient) clearSession(ctx context.Context) {
	a.mu.Lock()
	a.session = nil
	a.loaded = true
	a.mu.Unlock()

	if a.storage != nil && a.storageKey != "" {
		if err := a.storage.Delete(ctx, a.storageKey); err != nil {
			a.lg.Warn("delete stored session failed", zap.String("key", a.storageKey), zap.Error(err))
		}
	}
	if a.onToken != nil {
		a.onToken("")
	}
}

func (a *AuthClient) emit(event AuthChangeEvent, s *Session) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for _, sub := range a.subs {
		select {
		case sub.ch <- AuthEvent{Event: event, Session: s.clone()}:
		default:
			a.lg.Warn("auth subscriber is not draining, event dropped", zap.String("event", string(event)))
		}
	}
}

func (a *AuthClient) unsubscribe(sub *AuthSubscription) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	if _, ok := a.subs[sub.id]; ok {
		delete(a.subs, sub.id)
		close(sub.ch)
	}
}

func (a *AuthClient) close() {
	a.mu.Lock()
	if a.stopRefresh != nil {
		a.stopRefresh()
		a.stopRefresh = nil
	}
	a.mu.Unlock()

	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	a.closed = true
	for id, sub := range a.subs {
		delete(a.subs, id)
		close(sub.ch)
	}
}
