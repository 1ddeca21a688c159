// Package session 提供登录会话相关的业务逻辑
// 会话由后端签发和维护，这里只做恢复、订阅和转发
package session

import (
	"context"
	"strings"
	"sync"

	"supa_discord/internal/model"
	"supa_discord/internal/service"
	"supa_discord/internal/supabase"
	"supa_discord/pkg/constants"
	"supa_discord/pkg/errorx"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

// sessionService 会话业务逻辑实现
// 通过构造函数注入视图独占的 Auth 客户端
type sessionService struct {
	auth *supabase.AuthClient
	lg   *zap.Logger
}

// NewSessionService 构造函数，注入所有依赖
func NewSessionService(auth *supabase.AuthClient, lg *zap.Logger) service.SessionService {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &sessionService{auth: auth, lg: lg}
}

// Restore 恢复会话
// 后端不可达或 refresh token 失效时只记录日志，返回 nil
func (s *sessionService) Restore(ctx context.Context) *model.Session {
	sess, err := s.auth.GetSession(ctx)
	if err != nil {
		s.lg.Warn("restore session failed, treating as signed out", zap.Error(err))
		return nil
	}
	return toModel(sess)
}

// OnAuthChange 订阅登录状态变化
func (s *sessionService) OnAuthChange() service.AuthSubscription {
	src := s.auth.OnAuthStateChange()
	sub := &authSubscription{
		src:  src,
		out:  make(chan model.AuthEvent, constants.CHANNEL_SIZE),
		done: make(chan struct{}),
	}
	go sub.forward()
	return sub
}

// RequestLoginLink 发送登录链接
func (s *sessionService) RequestLoginLink(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return errorx.New(errorx.CodeInvalidParam, "请输入有效的邮箱地址")
	}
	if err := s.auth.SignInWithOtp(ctx, email); err != nil {
		s.lg.Warn("request login link failed", zap.String("email", email), zap.Error(err))
		return errorx.Wrap(err, errorx.CodeAuthFailed, supabase.Describe(err))
	}
	s.lg.Info("login link sent", zap.String("email", email))
	return nil
}

// VerifyCode 验证码登录
func (s *sessionService) VerifyCode(ctx context.Context, email, code string) error {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if err := validate.Var(email, "required,email"); err != nil {
		return errorx.New(errorx.CodeInvalidParam, "请输入有效的邮箱地址")
	}
	if code == "" {
		return errorx.New(errorx.CodeInvalidParam, "请输入验证码")
	}
	if _, err := s.auth.VerifyOtp(ctx, email, code); err != nil {
		s.lg.Warn("verify code failed", zap.String("email", email), zap.Error(err))
		return errorx.Wrap(err, errorx.CodeAuthFailed, supabase.Describe(err))
	}
	return nil
}

// CompleteLink 登录链接回跳
func (s *sessionService) CompleteLink(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return errorx.New(errorx.CodeInvalidParam, "登录链接缺少 token")
	}
	if _, err := s.auth.SetSession(ctx, accessToken, refreshToken); err != nil {
		s.lg.Warn("complete login link failed", zap.Error(err))
		return errorx.Wrap(err, errorx.CodeAuthFailed, supabase.Describe(err))
	}
	return nil
}

// SignOut 登出
func (s *sessionService) SignOut(ctx context.Context) error {
	if err := s.auth.SignOut(ctx); err != nil {
		s.lg.Warn("sign out failed", zap.Error(err))
		return errorx.Wrap(err, errorx.CodeAuthFailed, supabase.Describe(err))
	}
	return nil
}

func toModel(s *supabase.Session) *model.Session {
	if s == nil {
		return nil
	}
	out := &model.Session{UserID: s.User.ID, Email: s.User.Email}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = s.Expiry()
	}
	return out
}

// authSubscription 把 supabase 事件转换为 model.AuthEvent
type authSubscription struct {
	src       *supabase.AuthSubscription
	out       chan model.AuthEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (a *authSubscription) Events() <-chan model.AuthEvent { return a.out }

func (a *authSubscription) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.src.Unsubscribe()
	})
}

func (a *authSubscription) forward() {
	defer close(a.out)
	for ev := range a.src.Events() {
		out := model.AuthEvent{Session: toModel(ev.Session)}
		switch ev.Event {
		case supabase.SignedIn:
			out.Type = model.AuthSignedIn
		case supabase.SignedOut:
			out.Type = model.AuthSignedOut
		case supabase.TokenRefreshed:
			out.Type = model.AuthTokenRefreshed
		default:
			continue
		}
		select {
		case a.out <- out:
		case <-a.done:
			return
		}
	}
}
