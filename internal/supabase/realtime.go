package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"supa_discord/pkg/constants"
	"supa_discord/pkg/errorx"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// ErrSocketClosed Realtime 连接已断开
var ErrSocketClosed = errors.New("supabase: realtime socket closed")

// PostgresChangesFilter 订阅的表变更过滤条件
type PostgresChangesFilter struct {
	Event  string `json:"event"` // INSERT / UPDATE / DELETE / *
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"` // 如 channel_id=eq.1
}

// ChangeEvent 一条表变更
type ChangeEvent struct {
	Type            string // INSERT / UPDATE / DELETE
	Schema          string
	Table           string
	CommitTimestamp string
	Record          []byte // 新行的 JSON
}

// frame Phoenix v1 JSON 帧
type frame struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
	JoinRef string `json:"join_ref,omitempty"`
}

type joinReply struct {
	status string
	reason string
}

// socket 一条 websocket 连接及挂在其上的频道
type socket struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	channels     map[string]*RealtimeChannel // topic -> channel
	pending      map[string]chan joinReply   // ref -> 等待 phx_reply 的加入请求
	heartbeatRef string                      // 未回复的心跳，下一次心跳时仍未回复则断开
}

func (s *socket) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *socket) lookup(topic string) *RealtimeChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[topic]
}

// RealtimeClient 变更订阅客户端
// 所有频道共用一条连接，首次 Subscribe 时建立
type RealtimeClient struct {
	c           *Client
	endpoint    string
	anonKey     string
	dialer      *websocket.Dialer
	heartbeat   time.Duration
	joinTimeout time.Duration
	lg          *zap.Logger

	ref atomic.Uint64

	mu   sync.Mutex
	sock *socket
}

func newRealtimeClient(c *Client, opts Options) *RealtimeClient {
	return &RealtimeClient{
		c:           c,
		endpoint:    realtimeEndpoint(c.baseURL, opts.AnonKey),
		anonKey:     opts.AnonKey,
		dialer:      &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		heartbeat:   opts.Heartbeat,
		joinTimeout: opts.JoinTimeout,
		lg:          opts.Logger,
	}
}

func realtimeEndpoint(base *url.URL, apiKey string) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {apiKey}, "vsn": {"1.0.0"}}.Encode()
	return u.String()
}

// RealtimeChannel 一个订阅频道
type RealtimeChannel struct {
	rt     *RealtimeClient
	topic  string
	filter PostgresChangesFilter

	events      chan ChangeEvent
	closing     chan struct{}
	closingOnce sync.Once

	deliverMu sync.Mutex
	closed    bool

	mu   sync.Mutex
	sock *socket
}

// Channel 创建频道，name 会加上 realtime: 前缀作为 topic
func (r *RealtimeClient) Channel(name string, filter PostgresChangesFilter) *RealtimeChannel {
	return &RealtimeChannel{
		rt:      r,
		topic:   "realtime:" + name,
		filter:  filter,
		events:  make(chan ChangeEvent, constants.CHANNEL_SIZE),
		closing: make(chan struct{}),
	}
}

// Topic 频道 topic
func (ch *RealtimeChannel) Topic() string { return ch.topic }

// Changes 变更事件通道
// 频道被移除、服务端关闭频道或连接断开时关闭
func (ch *RealtimeChannel) Changes() <-chan ChangeEvent { return ch.events }

// Subscribe 发送 phx_join 并等待服务端确认
func (ch *RealtimeChannel) Subscribe(ctx context.Context) error {
	ch.mu.Lock()
	if ch.sock != nil {
		ch.mu.Unlock()
		return errorx.Newf(errorx.CodeConflict, "realtime channel %s already subscribed", ch.topic)
	}
	ch.mu.Unlock()

	r := ch.rt
	sock, err := r.connect(ctx)
	if err != nil {
		return err
	}

	ref := r.nextRef()
	reply := make(chan joinReply, 1)
	sock.mu.Lock()
	if _, exists := sock.channels[ch.topic]; exists {
		sock.mu.Unlock()
		return errorx.Newf(errorx.CodeConflict, "realtime topic %s already joined", ch.topic)
	}
	sock.channels[ch.topic] = ch
	sock.pending[ref] = reply
	sock.mu.Unlock()

	ch.mu.Lock()
	ch.sock = sock
	ch.mu.Unlock()

	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]bool{"ack": false, "self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": []PostgresChangesFilter{ch.filter},
		},
		"access_token": r.accessToken(ctx),
	}
	if err := r.push(sock, frame{Topic: ch.topic, Event: "phx_join", Payload: payload, Ref: ref, JoinRef: ref}); err != nil {
		r.forget(sock, ch, ref)
		return err
	}

	timer := time.NewTimer(r.joinTimeout)
	defer timer.Stop()
	select {
	case rep := <-reply:
		if rep.status != "ok" {
			r.forget(sock, ch, ref)
			return fmt.Errorf("realtime join %s: %s", ch.topic, rep.reason)
		}
		r.lg.Debug("realtime channel joined", zap.String("topic", ch.topic))
		return nil
	case <-ctx.Done():
		r.forget(sock, ch, ref)
		return ctx.Err()
	case <-timer.C:
		r.forget(sock, ch, ref)
		return fmt.Errorf("realtime join %s: timed out after %s", ch.topic, r.joinTimeout)
	case <-sock.done:
		r.forget(sock, ch, ref)
		return ErrSocketClosed
	}
}

// RemoveChannel 发送 phx_leave 并关闭频道的事件通道
// 返回后不会再有事件写入 ch.Changes()
func (r *RealtimeClient) RemoveChannel(ch *RealtimeChannel) error {
	ch.closingOnce.Do(func() { close(ch.closing) })

	ch.mu.Lock()
	sock := ch.sock
	ch.mu.Unlock()

	var err error
	if sock != nil {
		sock.mu.Lock()
		if sock.channels[ch.topic] == ch {
			delete(sock.channels, ch.topic)
		}
		sock.mu.Unlock()
		err = r.push(sock, frame{Topic: ch.topic, Event: "phx_leave", Payload: map[string]any{}, Ref: r.nextRef()})
		if errors.Is(err, ErrSocketClosed) {
			err = nil
		}
	}
	ch.terminate()
	return err
}

// SetAuth 把新的 Access Token 推送给所有已加入的频道，空字符串表示退回公开密钥
func (r *RealtimeClient) SetAuth(token string) {
	if token == "" {
		token = r.anonKey
	}
	r.mu.Lock()
	sock := r.sock
	r.mu.Unlock()
	if sock == nil {
		return
	}

	sock.mu.Lock()
	topics := make([]string, 0, len(sock.channels))
	for topic := range sock.channels {
		topics = append(topics, topic)
	}
	sock.mu.Unlock()

	for _, topic := range topics {
		f := frame{Topic: topic, Event: "access_token", Payload: map[string]string{"access_token": token}, Ref: r.nextRef()}
		if err := r.push(sock, f); err != nil {
			return
		}
	}
}

// Disconnect 关闭连接，所有频道的事件通道随之关闭
func (r *RealtimeClient) Disconnect() {
	r.mu.Lock()
	sock := r.sock
	r.sock = nil
	r.mu.Unlock()
	if sock != nil {
		sock.close()
	}
}

func (r *RealtimeClient) nextRef() string {
	return strconv.FormatUint(r.ref.Add(1), 10)
}

func (r *RealtimeClient) accessToken(ctx context.Context) string {
	if token := r.c.Auth.AccessToken(ctx); token != "" {
		return token
	}
	return r.anonKey
}

func (r *RealtimeClient) connect(ctx context.Context) (*socket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sock != nil {
		select {
		case <-r.sock.done:
			r.sock = nil
		default:
			return r.sock, nil
		}
	}

	conn, _, err := r.dialer.DialContext(ctx, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime connect: %w", err)
	}
	sock := &socket{
		conn:     conn,
		send:     make(chan []byte, constants.CHANNEL_SIZE),
		done:     make(chan struct{}),
		channels: make(map[string]*RealtimeChannel),
		pending:  make(map[string]chan joinReply),
	}
	r.sock = sock
	go r.writePump(sock)
	go r.readPump(sock)
	r.lg.Info("realtime connected", zap.String("host", r.c.baseURL.Host))
	return sock, nil
}

func (r *RealtimeClient) push(sock *socket, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case sock.send <- data:
		return nil
	case <-sock.done:
		return ErrSocketClosed
	}
}

// forget 加入失败时撤销本地登记
func (r *RealtimeClient) forget(sock *socket, ch *RealtimeChannel, ref string) {
	sock.mu.Lock()
	if sock.channels[ch.topic] == ch {
		delete(sock.channels, ch.topic)
	}
	delete(sock.pending, ref)
	sock.mu.Unlock()

	ch.mu.Lock()
	ch.sock = nil
	ch.mu.Unlock()
}

func (r *RealtimeClient) writePump(sock *socket) {
	ticker := time.NewTicker(r.heartbeat)
	defer func() {
		ticker.Stop()
		sock.close()
		sock.conn.Close()
	}()

	for {
		select {
		case msg := <-sock.send:
			_ = sock.conn.SetWriteDeadline(time.Now().Add(constants.WsWriteWait))
			if err := sock.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				r.lg.Warn("realtime write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			ref := r.nextRef()
			sock.mu.Lock()
			unanswered := sock.heartbeatRef
			if unanswered == "" {
				sock.heartbeatRef = ref
			}
			sock.mu.Unlock()
			if unanswered != "" {
				r.lg.Warn("realtime heartbeat timeout, closing socket", zap.String("ref", unanswered))
				return
			}
			hb, _ := json.Marshal(frame{Topic: "phoenix", Event: "heartbeat", Payload: map[string]any{}, Ref: ref})
			_ = sock.conn.SetWriteDeadline(time.Now().Add(constants.WsWriteWait))
			if err := sock.conn.WriteMessage(websocket.TextMessage, hb); err != nil {
				r.lg.Warn("realtime heartbeat failed", zap.Error(err))
				return
			}
		case <-sock.done:
			_ = sock.conn.SetWriteDeadline(time.Now().Add(constants.WsWriteWait))
			_ = sock.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (r *RealtimeClient) readPump(sock *socket) {
	defer r.socketClosed(sock)

	var p fastjson.Parser
	sock.conn.SetReadLimit(1 << 20)
	for {
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			select {
			case <-sock.done:
			default:
				r.lg.Warn("realtime read failed", zap.Error(err))
			}
			return
		}
		r.dispatch(sock, &p, data)
	}
}

// socketClosed 连接断开后关闭其上所有频道
func (r *RealtimeClient) socketClosed(sock *socket) {
	sock.close()

	r.mu.Lock()
	if r.sock == sock {
		r.sock = nil
	}
	r.mu.Unlock()

	sock.mu.Lock()
	channels := make([]*RealtimeChannel, 0, len(sock.channels))
	for topic, ch := range sock.channels {
		channels = append(channels, ch)
		delete(sock.channels, topic)
	}
	sock.mu.Unlock()

	for _, ch := range channels {
		ch.terminate()
	}
	if len(channels) > 0 {
		r.lg.Warn("realtime disconnected, channels closed", zap.Int("channels", len(channels)))
	}
}

func (r *RealtimeClient) dispatch(sock *socket, p *fastjson.Parser, data []byte) {
	v, err := p.ParseBytes(data)
	if err != nil {
		r.lg.Warn("realtime frame is not JSON", zap.Error(err))
		return
	}
	topic := string(v.GetStringBytes("topic"))
	event := string(v.GetStringBytes("event"))
	ref := string(v.GetStringBytes("ref"))
	payload := v.Get("payload")

	switch event {
	case "phx_reply":
		if topic == "phoenix" {
			sock.mu.Lock()
			if ref == sock.heartbeatRef {
				sock.heartbeatRef = ""
			}
			sock.mu.Unlock()
			return
		}
		status := string(payload.GetStringBytes("status"))
		sock.mu.Lock()
		waiter, ok := sock.pending[ref]
		delete(sock.pending, ref)
		sock.mu.Unlock()
		if ok {
			waiter <- joinReply{status: status, reason: replyReason(payload)}
		} else if status != "ok" {
			r.lg.Warn("realtime push rejected", zap.String("topic", topic), zap.String("reason", replyReason(payload)))
		}

	case "postgres_changes":
		ch := sock.lookup(topic)
		if ch == nil {
			return
		}
		if ev, ok := decodeChange(payload); ok {
			ch.deliver(ev)
		}

	case "phx_error", "phx_close":
		sock.mu.Lock()
		ch := sock.channels[topic]
		if ch != nil {
			delete(sock.channels, topic)
		}
		sock.mu.Unlock()
		if ch != nil {
			r.lg.Warn("realtime channel closed by server", zap.String("topic", topic), zap.String("event", event))
			ch.terminate()
		}

	case "system":
		if string(payload.GetStringBytes("status")) == "error" {
			r.lg.Warn("realtime system error", zap.String("topic", topic), zap.String("message", string(payload.GetStringBytes("message"))))
		}
	}
}

func (ch *RealtimeChannel) deliver(ev ChangeEvent) {
	ch.deliverMu.Lock()
	defer ch.deliverMu.Unlock()
	if ch.closed {
		return
	}
	select {
	case ch.events <- ev:
	case <-ch.closing:
	}
}

func (ch *RealtimeChannel) terminate() {
	ch.closingOnce.Do(func() { close(ch.closing) })
	ch.deliverMu.Lock()
	defer ch.deliverMu.Unlock()
	if !ch.closed {
		ch.closed = true
		close(ch.events)
	}
}

func decodeChange(payload *fastjson.Value) (ChangeEvent, bool) {
	data := payload.Get("data")
	if data == nil {
		return ChangeEvent{}, false
	}
	record := data.Get("record")
	if record == nil {
		return ChangeEvent{}, false
	}
	ev := ChangeEvent{
		Type:            string(data.GetStringBytes("type")),
		Schema:          string(data.GetStringBytes("schema")),
		Table:           string(data.GetStringBytes("table")),
		CommitTimestamp: string(data.GetStringBytes("commit_timestamp")),
		Record:          record.MarshalTo(nil),
	}
	if ev.Type == "" {
		ev.Type = string(data.GetStringBytes("eventType"))
	}
	return ev, true
}

func replyReason(payload *fastjson.Value) string {
	resp := payload.Get("response")
	if resp == nil {
		return ""
	}
	if reason := resp.GetStringBytes("reason"); len(reason) > 0 {
		return string(reason)
	}
	return string(resp.MarshalTo(nil))
}
