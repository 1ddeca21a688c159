package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"supa_discord/internal/dao/repository"
	"supa_discord/internal/dto/respond"
	"supa_discord/internal/model"
	"supa_discord/internal/service"

	"github.com/stretchr/testify/require"
)

// ==================== 会话 ====================

type fakeSession struct {
	mu        sync.Mutex
	restore   *model.Session
	events    chan model.AuthEvent
	loginErr  error
	links     []string
	signedOut int
}

func newFakeSession(restore *model.Session) *fakeSession {
	return &fakeSession{restore: restore, events: make(chan model.AuthEvent, 16)}
}

type fakeSub struct{ ch chan model.AuthEvent }

func (s *fakeSub) Events() <-chan model.AuthEvent { return s.ch }
func (s *fakeSub) Close()                         {}

func (f *fakeSession) Restore(context.Context) *model.Session { return f.restore }

func (f *fakeSession) OnAuthChange() service.AuthSubscription { return &fakeSub{ch: f.events} }

func (f *fakeSession) RequestLoginLink(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return f.loginErr
	}
	f.links = append(f.links, email)
	return nil
}

func (f *fakeSession) VerifyCode(_ context.Context, email, _ string) error {
	f.events <- model.AuthEvent{Type: model.AuthSignedIn, Session: &model.Session{UserID: "u-" + email, Email: email}}
	return nil
}

func (f *fakeSession) CompleteLink(context.Context, string, string) error {
	f.events <- model.AuthEvent{Type: model.AuthSignedIn, Session: &model.Session{UserID: "u-link", Email: "link@b.co"}}
	return nil
}

func (f *fakeSession) SignOut(context.Context) error {
	f.mu.Lock()
	f.signedOut++
	f.mu.Unlock()
	f.events <- model.AuthEvent{Type: model.AuthSignedOut}
	return nil
}

// ==================== 频道 ====================

type fakeChannels struct {
	mu       sync.Mutex
	channels []model.Channel
	err      error
	calls    int
}

func (f *fakeChannels) List(context.Context) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.channels, nil
}

func (f *fakeChannels) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeChannels) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ==================== 消息 ====================

type fakeMessages struct {
	mu         sync.Mutex
	history    map[model.ID][]model.Message
	gates      map[model.ID]chan struct{}
	listErr    error
	insertErr  error
	insertGate chan struct{} // 非空时 Insert 阻塞到其关闭
	inserts    []model.NewMessage
	echo       bool
	nextID     int
	log        []string
	streams    map[model.ID]*fakeStream
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		history: make(map[model.ID][]model.Message),
		gates:   make(map[model.ID]chan struct{}),
		streams: make(map[model.ID]*fakeStream),
		nextID:  1000,
	}
}

func (f *fakeMessages) ListByChannel(ctx context.Context, channelID model.ID) ([]model.Message, error) {
	f.mu.Lock()
	gate := f.gates[channelID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Message(nil), f.history[channelID]...), nil
}

func (f *fakeMessages) Insert(ctx context.Context, msg model.NewMessage) error {
	f.mu.Lock()
	gate := f.insertGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	if f.insertErr != nil {
		err := f.insertErr
		f.mu.Unlock()
		return err
	}
	f.inserts = append(f.inserts, msg)
	f.nextID++
	echo := model.Message{
		ID:        model.ID(fmt.Sprint(f.nextID)),
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		Content:   msg.Content,
		CreatedAt: model.Timestamp{Time: time.Now()},
	}
	stream := f.streams[msg.ChannelID]
	doEcho := f.echo
	f.mu.Unlock()

	if doEcho && stream != nil {
		stream.push(echo)
	}
	return nil
}

func (f *fakeMessages) SubscribeInserts(_ context.Context, channelID model.ID) (repository.InsertStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "sub:"+channelID.String())
	s := &fakeStream{
		id:     channelID,
		parent: f,
		out:    make(chan model.Message, 16),
		done:   make(chan struct{}),
	}
	f.streams[channelID] = s
	return s, nil
}

func (f *fakeMessages) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeMessages) stream(channelID model.ID) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[channelID]
}

func (f *fakeMessages) insertsSnapshot() []model.NewMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.NewMessage(nil), f.inserts...)
}

type fakeStream struct {
	id        model.ID
	parent    *fakeMessages
	out       chan model.Message
	done      chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

func (s *fakeStream) Messages() <-chan model.Message { return s.out }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.parent.mu.Lock()
		s.parent.log = append(s.parent.log, "close:"+s.id.String())
		s.parent.mu.Unlock()
	})
	return nil
}

// push 模拟后端推送，流已关闭时丢弃
func (s *fakeStream) push(msg model.Message) {
	select {
	case <-s.done:
	case s.out <- msg:
	}
}

// drop 模拟连接断开
func (s *fakeStream) drop() {
	s.dropOnce.Do(func() { close(s.out) })
}

// ==================== 辅助 ====================

type fixture struct {
	view     *View
	session  *fakeSession
	channels *fakeChannels
	messages *fakeMessages
}

func msgAt(id string, channel model.ID, content string, sec int) model.Message {
	return model.Message{
		ID:        model.ID(id),
		ChannelID: channel,
		UserID:    "u-other",
		Content:   content,
		CreatedAt: model.Timestamp{Time: time.Date(2024, 5, 1, 10, 0, sec, 0, time.UTC)},
	}
}

var me = &model.Session{UserID: "u-me", Email: "me@b.co"}

func newFixture(t *testing.T, restore *model.Session) *fixture {
	t.Helper()
	f := &fixture{
		session: newFakeSession(restore),
		channels: &fakeChannels{channels: []model.Channel{
			{ID: "1", Name: "general"},
			{ID: "2", Name: "random"},
		}},
		messages: newFakeMessages(),
	}
	f.messages.history["1"] = []model.Message{msgAt("10", "1", "hello general", 1)}
	f.messages.history["2"] = []model.Message{msgAt("20", "2", "hello random", 2)}
	f.view = NewView(ViewDeps{
		ID:            "view-1",
		Session:       f.session,
		Channels:      f.channels,
		Messages:      f.messages,
		ReattachDelay: 10 * time.Millisecond,
	})
	t.Cleanup(f.view.Close)
	return f
}

// waitState 等待满足 cond 的快照
func waitState(t *testing.T, v *View, cond func(respond.ViewState) bool) respond.ViewState {
	t.Helper()
	ch, cancel := v.Watch()
	defer cancel()
	deadline := time.After(2 * time.Second)
	var last respond.ViewState
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatal("view closed")
			}
			last = st
			if cond(st) {
				return st
			}
		case <-deadline:
			t.Fatalf("state not reached, last: %+v chat: %+v", last, last.Chat)
			return last
		}
	}
}

func chatReady(channelID string) func(respond.ViewState) bool {
	return func(st respond.ViewState) bool {
		return st.Phase == respond.PhaseChat && st.Chat != nil &&
			st.Chat.ActiveChannel != nil && st.Chat.ActiveChannel.ID == channelID &&
			!st.Chat.MessagesLoading && st.Chat.FeedAttached
	}
}

func contents(st respond.ViewState) []string {
	if st.Chat == nil {
		return nil
	}
	out := make([]string, 0, len(st.Chat.Messages))
	for _, m := range st.Chat.Messages {
		out = append(out, m.Content)
	}
	return out
}

func requireLog(t *testing.T, f *fakeMessages, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := f.opLog()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "log: %v", f.opLog())
}
