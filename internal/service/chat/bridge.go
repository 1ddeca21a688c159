package chat

import (
	"context"
	"sync"

	"supa_discord/internal/dao/repository"
	"supa_discord/internal/model"
	"supa_discord/pkg/errorx"

	"go.uber.org/zap"
)

// ErrAlreadyAttached 已存在订阅时再次 Attach
var ErrAlreadyAttached = errorx.New(errorx.CodeConflict, "实时订阅已存在")

// Subscriber 新消息订阅来源，repository.MessageRepository 满足该接口
type Subscriber interface {
	SubscribeInserts(ctx context.Context, channelID model.ID) (repository.InsertStream, error)
}

// InsertHandler 处理一条新消息
// ctx 在 Detach 时取消，阻塞的投递应同时等待 ctx.Done()
type InsertHandler func(ctx context.Context, msg model.Message)

// Bridge 把一个频道的实时订阅转发给视图
// 同一时刻至多一个订阅，Detach 返回后不会再调用 onInsert
type Bridge struct {
	sub Subscriber
	lg  *zap.Logger

	mu        sync.Mutex
	channelID model.ID
	stream    repository.InsertStream
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBridge 创建 Bridge
func NewBridge(sub Subscriber, lg *zap.Logger) *Bridge {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Bridge{sub: sub, lg: lg}
}

// Attach 订阅 channelID 的新消息，按到达顺序交给 onInsert
// 订阅被服务端或网络断开（而不是 Detach）时调用 onLost，其 ctx 与 onInsert 相同
func (b *Bridge) Attach(ctx context.Context, channelID model.ID, onInsert InsertHandler, onLost func(ctx context.Context)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream != nil {
		return ErrAlreadyAttached
	}

	stream, err := b.sub.SubscribeInserts(ctx, channelID)
	if err != nil {
		return err
	}
	fctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.channelID = channelID
	b.stream = stream
	b.cancel = cancel
	b.done = done

	go b.forward(fctx, stream, done, onInsert, onLost)
	b.lg.Debug("feed attached", zap.String("channel_id", channelID.String()))
	return nil
}

// Detach 取消订阅并等待转发协程退出，未订阅时直接返回
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream == nil {
		return
	}
	b.cancel()
	if err := b.stream.Close(); err != nil {
		b.lg.Warn("close feed failed", zap.String("channel_id", b.channelID.String()), zap.Error(err))
	}
	<-b.done
	b.lg.Debug("feed detached", zap.String("channel_id", b.channelID.String()))

	b.stream = nil
	b.cancel = nil
	b.done = nil
	b.channelID = ""
}

// Attached 当前订阅的频道
func (b *Bridge) Attached() (model.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelID, b.stream != nil
}

func (b *Bridge) forward(ctx context.Context, stream repository.InsertStream, done chan struct{}, onInsert InsertHandler, onLost func(ctx context.Context)) {
	defer close(done)
	msgs := stream.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil && onLost != nil {
					onLost(ctx)
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			onInsert(ctx, msg)
		}
	}
}
