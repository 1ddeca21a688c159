// Package repository 定义数据访问层接口和聚合结构
// 数据全部保存在后端，Repository 把表读写和变更订阅封装成领域类型
package repository

import (
	"context"

	"supa_discord/internal/model"
	"supa_discord/internal/supabase"

	"go.uber.org/zap"
)

// ChannelRepository 频道数据访问接口
type ChannelRepository interface {
	// List 查询全部频道，顺序与后端返回一致
	List(ctx context.Context) ([]model.Channel, error)
}

// MessageRepository 消息数据访问接口
type MessageRepository interface {
	// ListByChannel 查询频道全部消息，按 created_at 升序
	ListByChannel(ctx context.Context, channelID model.ID) ([]model.Message, error)
	// Insert 插入一条消息，不返回插入结果，新消息经变更订阅回显
	Insert(ctx context.Context, msg model.NewMessage) error
	// SubscribeInserts 订阅频道的新消息
	SubscribeInserts(ctx context.Context, channelID model.ID) (InsertStream, error)
}

// InsertStream 一个频道的新消息流
type InsertStream interface {
	// Messages 按到达顺序输出新消息，订阅结束时关闭
	Messages() <-chan model.Message
	// Close 取消订阅，可重复调用
	Close() error
}

// Repositories 聚合所有 Repository 实例
type Repositories struct {
	Channel ChannelRepository
	Message MessageRepository
}

// NewRepositories 基于一个视图的后端客户端创建 Repository
func NewRepositories(client *supabase.Client, lg *zap.Logger) *Repositories {
	return &Repositories{
		Channel: NewChannelRepository(client),
		Message: NewMessageRepository(client, lg),
	}
}
