// Package service 定义业务层接口
// 本文件定义所有 Service 接口，供 Handler 层和视图调用
// 接口设计遵循依赖倒置原则，便于测试和解耦
package service

import (
	"context"

	"supa_discord/internal/dto/respond"
	"supa_discord/internal/model"
)

// SessionService 登录会话业务接口
// 每个视图持有一个实例，背后是该视图独占的后端客户端
type SessionService interface {
	// Restore 恢复已保存的会话，失败时记录日志并视为未登录
	Restore(ctx context.Context) *model.Session
	// OnAuthChange 订阅登录状态变化
	OnAuthChange() AuthSubscription
	// RequestLoginLink 向 email 发送一次性登录链接
	RequestLoginLink(ctx context.Context, email string) error
	// VerifyCode 用邮件中的验证码完成登录
	VerifyCode(ctx context.Context, email, code string) error
	// CompleteLink 用登录链接回跳带回的 token 完成登录
	CompleteLink(ctx context.Context, accessToken, refreshToken string) error
	// SignOut 登出
	SignOut(ctx context.Context) error
}

// AuthSubscription 登录状态订阅
type AuthSubscription interface {
	// Events 事件按发生顺序输出，Close 后关闭
	Events() <-chan model.AuthEvent
	// Close 释放订阅，可重复调用
	Close()
}

// View 一个浏览器标签页对应的客户端实例
// 所有命令都在视图的事件循环中串行执行
type View interface {
	// ID 视图 ID
	ID() string
	// State 当前快照
	State() respond.ViewState
	// Watch 订阅快照，只保留最新一份；返回的函数用于取消订阅
	Watch() (<-chan respond.ViewState, func())

	RequestLoginLink(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, email, code string) error
	CompleteLink(ctx context.Context, accessToken, refreshToken string) error
	SignOut(ctx context.Context) error
	SelectChannel(ctx context.Context, channelID model.ID) error
	SendMessage(ctx context.Context, content string) error
	SetDraft(ctx context.Context, content string) error
	// Retry 重试最近一次失败的加载
	Retry(ctx context.Context) error
}

// ViewManager 按 ID 管理视图
type ViewManager interface {
	// Get 返回视图，不存在时创建并启动
	Get(ctx context.Context, id string) (View, error)
	// Close 关闭全部视图
	Close()
}
