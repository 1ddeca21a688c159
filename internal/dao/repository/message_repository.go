package repository

import (
	"context"
	"encoding/json"
	"sync"

	"supa_discord/internal/model"
	"supa_discord/internal/supabase"
	"supa_discord/pkg/constants"
	"supa_discord/pkg/errorx"

	"go.uber.org/zap"
)

const messagesTable = "messages"

type messageRepository struct {
	client *supabase.Client
	lg     *zap.Logger
}

// NewMessageRepository 创建消息 Repository
func NewMessageRepository(client *supabase.Client, lg *zap.Logger) MessageRepository {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &messageRepository{client: client, lg: lg}
}

// ListByChannel 按频道查找消息
func (r *messageRepository) ListByChannel(ctx context.Context, channelID model.ID) ([]model.Message, error) {
	var messages []model.Message
	err := r.client.From(messagesTable).
		Select("*").
		Eq("channel_id", channelID.String()).
		Order("created_at", true).
		Order("id", true).
		Execute(ctx, &messages)
	if err != nil {
		return nil, wrapBackendErrorf(err, errorx.CodeFetchFailed, "加载消息失败 channel_id=%s", channelID)
	}
	return messages, nil
}

// Insert 创建消息
func (r *messageRepository) Insert(ctx context.Context, msg model.NewMessage) error {
	if err := r.client.From(messagesTable).Insert(ctx, msg); err != nil {
		return wrapBackendErrorf(err, errorx.CodeWriteFailed, "发送消息失败")
	}
	return nil
}

// SubscribeInserts 订阅 messages 表中 channel_id 匹配的 INSERT
func (r *messageRepository) SubscribeInserts(ctx context.Context, channelID model.ID) (InsertStream, error) {
	rt := r.client.Realtime
	ch := rt.Channel("public:messages:channel_id=eq."+channelID.String(), supabase.PostgresChangesFilter{
		Event:  "INSERT",
		Schema: "public",
		Table:  messagesTable,
		Filter: "channel_id=eq." + channelID.String(),
	})
	if err := ch.Subscribe(ctx); err != nil {
		_ = rt.RemoveChannel(ch)
		return nil, wrapBackendErrorf(err, errorx.CodeFetchFailed, "订阅频道消息失败 channel_id=%s", channelID)
	}

	s := &insertStream{
		rt:   rt,
		ch:   ch,
		out:  make(chan model.Message, constants.CHANNEL_SIZE),
		done: make(chan struct{}),
		lg:   r.lg.With(zap.String("channel_id", channelID.String())),
	}
	go s.run(channelID)
	return s, nil
}

type insertStream struct {
	rt   *supabase.RealtimeClient
	ch   *supabase.RealtimeChannel
	out  chan model.Message
	done chan struct{}
	lg   *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *insertStream) Messages() <-chan model.Message { return s.out }

func (s *insertStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.rt.RemoveChannel(s.ch)
	})
	return s.closeErr
}

// run 把变更事件解码为消息，直到频道关闭或 Close
func (s *insertStream) run(channelID model.ID) {
	defer close(s.out)
	for ev := range s.ch.Changes() {
		if ev.Type != "INSERT" {
			continue
		}
		var msg model.Message
		if err := json.Unmarshal(ev.Record, &msg); err != nil {
			s.lg.Warn("discard undecodable message record", zap.String("commit_timestamp", ev.CommitTimestamp), zap.Error(err))
			continue
		}
		if msg.ChannelID != channelID {
			s.lg.Debug("discard message from other channel", zap.String("channel_id", msg.ChannelID.String()),
				zap.String("commit_timestamp", ev.CommitTimestamp))
			continue
		}
		// 记录缺少 created_at 时以提交时间排序
		if msg.CreatedAt.IsZero() && ev.CommitTimestamp != "" {
			if committed, err := model.ParseTimestamp(ev.CommitTimestamp); err == nil {
				msg.CreatedAt = model.Timestamp{Time: committed}
			}
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}
