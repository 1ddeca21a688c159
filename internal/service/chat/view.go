// Package chat 实现了聊天客户端的核心服务层
// view.go
// 核心职责：一个浏览器标签页对应一个 View
// 1. 单个事件循环协程持有全部界面状态，后端调用在独立协程中执行，结果投递回事件循环
// 2. 每次切换频道递增代数，旧代的加载结果和实时消息一律丢弃
// 3. 实时订阅由 feed 协程串行维护，旧订阅完全断开后才建立新订阅
// 4. 每处理完一个事件生成一份 ViewState 快照推送给浏览器
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"supa_discord/internal/dao/repository"
	"supa_discord/internal/dto/respond"
	"supa_discord/internal/model"
	"supa_discord/internal/service"
	"supa_discord/internal/supabase"
	"supa_discord/pkg/constants"
	"supa_discord/pkg/errorx"

	"go.uber.org/zap"
)

// ErrViewClosed 视图已关闭
var ErrViewClosed = errorx.New(errorx.CodeServerBusy, "视图已关闭，请刷新页面")

// ViewDeps 视图依赖，全部属于同一个后端客户端
type ViewDeps struct {
	ID       string
	Session  service.SessionService
	Channels repository.ChannelRepository
	Messages repository.MessageRepository
	// Closer 视图关闭时调用，用于释放后端客户端
	Closer        func()
	Logger        *zap.Logger
	ReattachDelay time.Duration
}

// 事件循环处理的事件
type (
	command struct {
		fn    func(reply chan<- error)
		reply chan error
	}
	asyncDone      struct{ fn func() }
	restored       struct{ session *model.Session }
	authChanged    struct{ ev model.AuthEvent }
	channelsLoaded struct {
		epoch    uint64
		channels []model.Channel
		err      error
	}
	messagesLoaded struct {
		gen      uint64
		messages []model.Message
		err      error
	}
	feedInsert struct {
		gen uint64
		msg model.Message
	}
	feedReady struct {
		gen uint64
		err error
	}
	feedLost     struct{ gen uint64 }
	feedReattach struct{ gen uint64 }
)

// feedTarget feed 协程应达到的订阅状态
type feedTarget struct {
	gen       uint64
	channelID model.ID
	attach    bool
}

// View 一个浏览器标签页的客户端实例
type View struct {
	id            string
	lg            *zap.Logger
	session       service.SessionService
	channels      repository.ChannelRepository
	messages      repository.MessageRepository
	closer        func()
	reattachDelay time.Duration

	store  *Store
	bridge *Bridge

	events chan any

	feedMu   sync.Mutex
	feedWant feedTarget
	feedWake chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	// 以下字段只在事件循环中访问
	phase           respond.Phase
	user            *model.Session
	epoch           uint64
	email           string
	busy            bool
	draft           string
	notice          *respond.Notice
	retry           func()
	channelsLoading bool
	messagesLoading bool
	feedAttached    bool
	scroll          bool
	version         uint64

	stateMu     sync.Mutex
	state       respond.ViewState
	watchers    map[int]chan respond.ViewState
	nextWatcher int
	idleSince   time.Time
	closed      bool
}

var _ service.View = (*View)(nil)

// NewView 创建视图，调用 Start 后开始工作
func NewView(deps ViewDeps) *View {
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	lg = lg.With(zap.String("view_id", deps.ID))
	delay := deps.ReattachDelay
	if delay <= 0 {
		delay = constants.FeedReattachDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		id:            deps.ID,
		lg:            lg,
		session:       deps.Session,
		channels:      deps.Channels,
		messages:      deps.Messages,
		closer:        deps.Closer,
		reattachDelay: delay,
		store:         NewStore(),
		bridge:        NewBridge(deps.Messages, lg),
		events:        make(chan any, constants.CHANNEL_SIZE),
		feedWake:      make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
		stop:          make(chan struct{}),
		phase:         respond.PhaseLoading,
		watchers:      make(map[int]chan respond.ViewState),
		idleSince:     time.Now(),
	}
	v.state = v.snapshot()
	return v
}

// ID 视图 ID
func (v *View) ID() string { return v.id }

// Start 启动事件循环、feed 协程并恢复会话，可重复调用
func (v *View) Start() {
	v.startOnce.Do(func() {
		// 先订阅再恢复，避免漏掉恢复期间的登录事件
		sub := v.session.OnAuthChange()
		v.wg.Add(3)
		go v.loop()
		go v.feedLoop()
		go v.forwardAuth(sub)

		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			s := v.session.Restore(v.ctx)
			v.post(v.ctx, restored{session: s})
		}()
	})
}

// Close 停止所有协程，断开实时订阅并释放后端客户端
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		close(v.stop)
		v.wg.Wait()
		v.bridge.Detach()
		if v.closer != nil {
			v.closer()
		}

		v.stateMu.Lock()
		v.closed = true
		for id, w := range v.watchers {
			delete(v.watchers, id)
			close(w)
		}
		v.stateMu.Unlock()
		v.lg.Info("view closed")
	})
}

// State 当前快照
func (v *View) State() respond.ViewState {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	return v.state
}

// Watch 订阅快照
// 通道容量为 1，消费慢时只保留最新一份；视图关闭或调用 cancel 后通道关闭
func (v *View) Watch() (<-chan respond.ViewState, func()) {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()

	ch := make(chan respond.ViewState, 1)
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- v.state
	id := v.nextWatcher
	v.nextWatcher++
	v.watchers[id] = ch

	return ch, func() {
		v.stateMu.Lock()
		defer v.stateMu.Unlock()
		if w, ok := v.watchers[id]; ok {
			delete(v.watchers, id)
			close(w)
			if len(v.watchers) == 0 {
				v.idleSince = time.Now()
			}
		}
	}
}

// IdleFor 没有浏览器连接的时长，有连接时返回 0
func (v *View) IdleFor(now time.Time) time.Duration {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	if len(v.watchers) > 0 {
		return 0
	}
	return now.Sub(v.idleSince)
}

// ==================== 命令 ====================

// RequestLoginLink 发送登录链接，成功后进入 link_sent
func (v *View) RequestLoginLink(ctx context.Context, email string) error {
	return v.call(ctx, func(reply chan<- error) {
		if v.phase == respond.PhaseChat {
			reply <- errorx.New(errorx.CodeConflict, "已登录")
			return
		}
		v.busy = true
		v.goAsync(func(actx context.Context) {
			err := v.session.RequestLoginLink(actx, email)
			v.post(actx, asyncDone{fn: func() {
				v.busy = false
				if err == nil && v.phase != respond.PhaseChat {
					v.phase = respond.PhaseLinkSent
					v.email = strings.TrimSpace(email)
				}
				reply <- err
			}})
		})
	})
}

// VerifyCode 验证码登录，成功后由 SIGNED_IN 事件切换到聊天界面
func (v *View) VerifyCode(ctx context.Context, email, code string) error {
	return v.authCall(ctx, func(actx context.Context) error {
		return v.session.VerifyCode(actx, email, code)
	})
}

// CompleteLink 登录链接回跳
func (v *View) CompleteLink(ctx context.Context, accessToken, refreshToken string) error {
	return v.authCall(ctx, func(actx context.Context) error {
		return v.session.CompleteLink(actx, accessToken, refreshToken)
	})
}

// SignOut 登出，成功后由 SIGNED_OUT 事件回到登录界面
func (v *View) SignOut(ctx context.Context) error {
	return v.call(ctx, func(reply chan<- error) {
		if v.user == nil {
			reply <- nil
			return
		}
		v.goAsync(func(actx context.Context) {
			err := v.session.SignOut(actx)
			v.post(actx, asyncDone{fn: func() {
				if err != nil {
					v.setNotice(respond.NoticeAuth, errorx.Message(err), false, nil)
				}
				reply <- err
			}})
		})
	})
}

// SelectChannel 切换频道
func (v *View) SelectChannel(ctx context.Context, channelID model.ID) error {
	return v.call(ctx, func(reply chan<- error) {
		if v.phase != respond.PhaseChat {
			reply <- errorx.ErrUnauthorized
			return
		}
		ch, ok := v.store.Channel(channelID)
		if !ok {
			reply <- errorx.Newf(errorx.CodeNotFound, "频道不存在: %s", channelID)
			return
		}
		v.selectChannel(ch)
		reply <- nil
	})
}

// SendMessage 在当前频道发送消息
// 输入框立即清空；消息不在本地追加，等待实时订阅回显
func (v *View) SendMessage(ctx context.Context, content string) error {
	return v.call(ctx, func(reply chan<- error) {
		if v.phase != respond.PhaseChat {
			reply <- errorx.ErrUnauthorized
			return
		}
		active := v.store.Active()
		if active == nil {
			reply <- errorx.New(errorx.CodeInvalidParam, "请先选择频道")
			return
		}
		text := strings.TrimSpace(content)
		if text == "" {
			reply <- errorx.New(errorx.CodeInvalidParam, "消息内容不能为空")
			return
		}

		v.draft = ""
		msg := model.NewMessage{ChannelID: active.ID, UserID: v.user.UserID, Content: text}
		gen, epoch := v.store.Generation(), v.epoch
		v.goAsync(func(actx context.Context) {
			err := v.messages.Insert(actx, msg)
			if err == nil {
				return
			}
			v.post(actx, asyncDone{fn: func() {
				v.lg.Error("send message failed", zap.String("channel_id", msg.ChannelID.String()), zap.Error(err))
				// 账号已切换，失败结果与当前用户无关
				if v.epoch != epoch || v.phase != respond.PhaseChat {
					return
				}
				v.setNotice(respond.NoticeSend, describe(err), false, nil)
				// 只在仍停留在原频道时恢复草稿
				if v.store.IsCurrent(gen) && v.draft == "" {
					v.draft = text
				}
			}})
		})
		reply <- nil
	})
}

// SetDraft 同步输入框内容
func (v *View) SetDraft(ctx context.Context, content string) error {
	return v.call(ctx, func(reply chan<- error) {
		if v.phase != respond.PhaseChat {
			reply <- errorx.ErrUnauthorized
			return
		}
		v.draft = content
		reply <- nil
	})
}

// Retry 重试提示中可重试的操作
func (v *View) Retry(ctx context.Context) error {
	return v.call(ctx, func(reply chan<- error) {
		if v.retry == nil {
			reply <- nil
			return
		}
		retry := v.retry
		v.retry = nil
		v.notice = nil
		retry()
		reply <- nil
	})
}

// ==================== 事件循环 ====================

func (v *View) loop() {
	defer v.wg.Done()
	for {
		select {
		case <-v.stop:
			return
		case ev := <-v.events:
			v.handle(ev)
			v.render()
		}
	}
}

func (v *View) handle(ev any) {
	switch e := ev.(type) {
	case command:
		e.fn(e.reply)
	case asyncDone:
		e.fn()
	case restored:
		v.onRestored(e.session)
	case authChanged:
		v.onAuthEvent(e.ev)
	case channelsLoaded:
		v.onChannelsLoaded(e)
	case messagesLoaded:
		v.onMessagesLoaded(e)
	case feedInsert:
		if v.store.AppendMessage(e.gen, e.msg) {
			v.scroll = true
		} else {
			v.lg.Debug("discard feed message", zap.String("message_id", e.msg.ID.String()), zap.Uint64("gen", e.gen))
		}
	case feedReady:
		v.onFeedReady(e)
	case feedLost:
		v.onFeedLost(e)
	case feedReattach:
		v.onFeedReattach(e)
	default:
		v.lg.Warn("unknown view event", zap.Any("event", ev))
	}
}

func (v *View) onRestored(s *model.Session) {
	// 恢复结果返回前已经收到登录事件
	if v.phase != respond.PhaseLoading {
		return
	}
	if s == nil {
		v.phase = respond.PhaseSignedOut
		return
	}
	v.signIn(s)
}

func (v *View) onAuthEvent(ev model.AuthEvent) {
	switch ev.Type {
	case model.AuthSignedOut:
		v.signOut()
	case model.AuthSignedIn, model.AuthTokenRefreshed:
		if ev.Session != nil {
			v.signIn(ev.Session)
		}
	}
}

func (v *View) signIn(s *model.Session) {
	sameUser := v.user != nil && v.user.UserID == s.UserID
	v.user = s
	v.busy = false
	v.email = ""
	if sameUser && v.phase == respond.PhaseChat {
		return
	}
	v.lg.Info("signed in", zap.String("user_id", s.UserID))
	v.resetChat()
	v.phase = respond.PhaseChat
	v.loadChannels()
}

func (v *View) signOut() {
	if v.user != nil {
		v.lg.Info("signed out", zap.String("user_id", v.user.UserID))
	}
	v.user = nil
	v.busy = false
	v.email = ""
	v.resetChat()
	v.phase = respond.PhaseSignedOut
}

// resetChat 丢弃上一个用户的全部聊天状态
func (v *View) resetChat() {
	v.epoch++
	v.store.Reset()
	v.setFeed(feedTarget{gen: v.store.Generation()})
	v.draft = ""
	v.notice = nil
	v.retry = nil
	v.channelsLoading = false
	v.messagesLoading = false
	v.feedAttached = false
	v.scroll = false
}

func (v *View) loadChannels() {
	v.channelsLoading = true
	epoch := v.epoch
	v.goAsync(func(ctx context.Context) {
		channels, err := v.channels.List(ctx)
		v.post(ctx, channelsLoaded{epoch: epoch, channels: channels, err: err})
	})
}

func (v *View) onChannelsLoaded(e channelsLoaded) {
	if e.epoch != v.epoch || v.phase != respond.PhaseChat {
		return
	}
	v.channelsLoading = false
	if e.err != nil {
		v.lg.Error("fetch channels failed", zap.Error(e.err))
		v.setNotice(respond.NoticeChannels, describe(e.err), true, v.loadChannels)
		return
	}
	v.clearNotice(respond.NoticeChannels)
	v.store.SetChannels(e.channels)
	if v.store.Active() == nil && len(e.channels) > 0 {
		v.selectChannel(e.channels[0])
	}
}

func (v *View) selectChannel(ch model.Channel) {
	gen, changed := v.store.Select(ch)
	if !changed {
		return
	}
	v.scroll = true
	v.clearNotice(respond.NoticeMessages, respond.NoticeFeed)
	v.fetchMessages(gen, ch.ID)
	v.attachFeed(gen, ch.ID)
}

func (v *View) fetchMessages(gen uint64, channelID model.ID) {
	v.messagesLoading = true
	v.goAsync(func(ctx context.Context) {
		msgs, err := v.messages.ListByChannel(ctx, channelID)
		v.post(ctx, messagesLoaded{gen: gen, messages: msgs, err: err})
	})
}

func (v *View) onMessagesLoaded(e messagesLoaded) {
	if !v.store.IsCurrent(e.gen) {
		v.lg.Debug("discard stale messages", zap.Uint64("gen", e.gen), zap.Uint64("current", v.store.Generation()))
		return
	}
	v.messagesLoading = false
	if e.err != nil {
		v.lg.Error("fetch messages failed", zap.Error(e.err))
		gen := e.gen
		v.setNotice(respond.NoticeMessages, describe(e.err), true, func() {
			if active := v.store.Active(); active != nil && v.store.IsCurrent(gen) {
				v.fetchMessages(gen, active.ID)
			}
		})
		return
	}
	v.clearNotice(respond.NoticeMessages)
	v.store.ReplaceMessages(e.gen, e.messages)
	v.scroll = true
}

// ==================== 实时订阅 ====================

func (v *View) attachFeed(gen uint64, channelID model.ID) {
	v.feedAttached = false
	v.setFeed(feedTarget{gen: gen, channelID: channelID, attach: true})
}

// setFeed 更新目标订阅并唤醒 feed 协程，不阻塞事件循环
func (v *View) setFeed(t feedTarget) {
	v.feedMu.Lock()
	v.feedWant = t
	v.feedMu.Unlock()
	select {
	case v.feedWake <- struct{}{}:
	default:
	}
}

// feedLoop 串行执行订阅变更：总是先 Detach 旧订阅再 Attach 新订阅
func (v *View) feedLoop() {
	defer v.wg.Done()
	for {
		select {
		case <-v.stop:
			v.bridge.Detach()
			return
		case <-v.feedWake:
		}

		v.feedMu.Lock()
		want := v.feedWant
		v.feedMu.Unlock()

		v.bridge.Detach()
		if !want.attach {
			continue
		}
		gen := want.gen
		err := v.bridge.Attach(v.ctx, want.channelID,
			func(ctx context.Context, msg model.Message) {
				v.post(ctx, feedInsert{gen: gen, msg: msg})
			},
			func(ctx context.Context) {
				v.post(ctx, feedLost{gen: gen})
			},
		)
		v.post(v.ctx, feedReady{gen: gen, err: err})
	}
}

func (v *View) onFeedReady(e feedReady) {
	if !v.store.IsCurrent(e.gen) {
		return
	}
	if e.err != nil {
		v.lg.Warn("attach feed failed", zap.Error(e.err))
		v.feedAttached = false
		gen := e.gen
		v.setNotice(respond.NoticeFeed, describe(e.err), true, func() { v.reattach(gen) })
		return
	}
	v.feedAttached = true
	v.clearNotice(respond.NoticeFeed)
}

func (v *View) onFeedLost(e feedLost) {
	if !v.store.IsCurrent(e.gen) {
		return
	}
	v.lg.Warn("feed lost, reattaching", zap.Duration("delay", v.reattachDelay))
	v.feedAttached = false
	v.setNotice(respond.NoticeFeed, "实时连接已断开，正在重新连接", false, nil)
	gen := e.gen
	time.AfterFunc(v.reattachDelay, func() {
		v.post(v.ctx, feedReattach{gen: gen})
	})
}

func (v *View) onFeedReattach(e feedReattach) {
	v.reattach(e.gen)
}

// reattach 重新加载历史并重新订阅，补上断开期间漏掉的消息
func (v *View) reattach(gen uint64) {
	if !v.store.IsCurrent(gen) || v.phase != respond.PhaseChat {
		return
	}
	active := v.store.Active()
	if active == nil {
		return
	}
	v.fetchMessages(gen, active.ID)
	v.attachFeed(gen, active.ID)
}

// ==================== 辅助 ====================

func (v *View) forwardAuth(sub service.AuthSubscription) {
	defer v.wg.Done()
	defer sub.Close()
	for {
		select {
		case <-v.stop:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			v.post(v.ctx, authChanged{ev: ev})
		}
	}
}

// authCall 在事件循环外执行登录请求，busy 标记请求进行中
func (v *View) authCall(ctx context.Context, fn func(ctx context.Context) error) error {
	return v.call(ctx, func(reply chan<- error) {
		v.busy = true
		v.goAsync(func(actx context.Context) {
			err := fn(actx)
			v.post(actx, asyncDone{fn: func() {
				v.busy = false
				reply <- err
			}})
		})
	})
}

// call 把命令投递到事件循环并等待结果
func (v *View) call(ctx context.Context, fn func(reply chan<- error)) error {
	reply := make(chan error, 1)
	if !v.post(ctx, command{fn: fn, reply: reply}) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrViewClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-v.stop:
		return ErrViewClosed
	}
}

func (v *View) post(ctx context.Context, ev any) bool {
	select {
	case v.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-v.stop:
		return false
	}
}

// goAsync 只在事件循环中调用
func (v *View) goAsync(fn func(ctx context.Context)) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		fn(v.ctx)
	}()
}

func (v *View) setNotice(kind respond.NoticeKind, msg string, retryable bool, retry func()) {
	v.notice = &respond.Notice{Kind: kind, Message: msg, Retryable: retryable && retry != nil}
	if v.notice.Retryable {
		v.retry = retry
	} else {
		v.retry = nil
	}
}

func (v *View) clearNotice(kinds ...respond.NoticeKind) {
	if v.notice == nil {
		return
	}
	for _, k := range kinds {
		if v.notice.Kind == k {
			v.notice = nil
			v.retry = nil
			return
		}
	}
}

// describe 错误码消息加上后端返回的描述
func describe(err error) string {
	msg := errorx.Message(err)
	if supabase.ErrorStatus(err) == 0 {
		return msg
	}
	if d := supabase.Describe(err); d != "" && d != msg {
		return msg + ": " + d
	}
	return msg
}
