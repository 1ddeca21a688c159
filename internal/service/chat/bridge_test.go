package chat

import (
	"context"
	"testing"
	"time"

	"supa_discord/internal/model"

	"github.com/stretchr/testify/require"
)

func TestBridgeForwardsInOrder(t *testing.T) {
	msgs := newFakeMessages()
	b := NewBridge(msgs, nil)

	got := make(chan model.Message, 4)
	err := b.Attach(context.Background(), "7", func(ctx context.Context, m model.Message) { got <- m }, nil)
	require.NoError(t, err)
	id, attached := b.Attached()
	require.True(t, attached)
	require.Equal(t, model.ID("7"), id)

	s := msgs.stream("7")
	s.push(msgAt("1", "7", "a", 1))
	s.push(msgAt("2", "7", "b", 2))
	require.Equal(t, "a", (<-got).Content)
	require.Equal(t, "b", (<-got).Content)

	b.Detach()
	b.Detach()
	_, attached = b.Attached()
	require.False(t, attached)
	require.Equal(t, []string{"sub:7", "close:7"}, msgs.opLog())
}

func TestBridgeAttachTwiceFails(t *testing.T) {
	msgs := newFakeMessages()
	b := NewBridge(msgs, nil)
	noop := func(context.Context, model.Message) {}

	require.NoError(t, b.Attach(context.Background(), "1", noop, nil))
	require.ErrorIs(t, b.Attach(context.Background(), "2", noop, nil), ErrAlreadyAttached)
	b.Detach()
	require.NoError(t, b.Attach(context.Background(), "2", noop, nil))
	b.Detach()
	require.Equal(t, []string{"sub:1", "close:1", "sub:2", "close:2"}, msgs.opLog())
}

func TestBridgeDetachUnblocksPendingDelivery(t *testing.T) {
	msgs := newFakeMessages()
	b := NewBridge(msgs, nil)

	// onInsert 阻塞到 ctx 取消
	entered := make(chan struct{})
	err := b.Attach(context.Background(), "1", func(ctx context.Context, m model.Message) {
		close(entered)
		<-ctx.Done()
	}, nil)
	require.NoError(t, err)
	msgs.stream("1").push(msgAt("1", "1", "x", 1))
	<-entered

	done := make(chan struct{})
	go func() {
		b.Detach()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("detach blocked")
	}
}

func TestBridgeReportsLostFeed(t *testing.T) {
	msgs := newFakeMessages()
	b := NewBridge(msgs, nil)
	lost := make(chan struct{})

	err := b.Attach(context.Background(), "1", func(context.Context, model.Message) {}, func(context.Context) { close(lost) })
	require.NoError(t, err)
	msgs.stream("1").drop()

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("onLost not called")
	}
	b.Detach()
}
