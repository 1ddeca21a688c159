package https_server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"supa_discord/internal/config"
	"supa_discord/internal/dto/respond"
	"supa_discord/internal/handler"
	"supa_discord/internal/https_server"
	"supa_discord/internal/model"
	"supa_discord/internal/service"
	"supa_discord/pkg/constants"
	"supa_discord/pkg/errorx"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var transOnce sync.Once

type stubView struct {
	id string

	mu       sync.Mutex
	state    respond.ViewState
	calls    []string
	err      error
	watchers []chan respond.ViewState
}

func (v *stubView) ID() string { return v.id }

func (v *stubView) State() respond.ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *stubView) Watch() (<-chan respond.ViewState, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch := make(chan respond.ViewState, 1)
	ch <- v.state
	v.watchers = append(v.watchers, ch)
	return ch, func() {}
}

func (v *stubView) publish(st respond.ViewState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = st
	for _, w := range v.watchers {
		select {
		case <-w:
		default:
		}
		w <- st
	}
}

func (v *stubView) record(call string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, call)
	return v.err
}

func (v *stubView) callLog() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

func (v *stubView) RequestLoginLink(_ context.Context, email string) error {
	return v.record("link:" + email)
}
func (v *stubView) VerifyCode(_ context.Context, email, code string) error {
	return v.record("verify:" + email + ":" + code)
}
func (v *stubView) CompleteLink(_ context.Context, access, refresh string) error {
	return v.record("complete:" + access + ":" + refresh)
}
func (v *stubView) SignOut(context.Context) error { return v.record("signout") }
func (v *stubView) SelectChannel(_ context.Context, id model.ID) error {
	return v.record("select:" + id.String())
}
func (v *stubView) SendMessage(_ context.Context, content string) error {
	return v.record("send:" + content)
}
func (v *stubView) SetDraft(_ context.Context, content string) error {
	return v.record("draft:" + content)
}
func (v *stubView) Retry(context.Context) error { return v.record("retry") }

type stubViews struct {
	mu    sync.Mutex
	views map[string]*stubView
}

func (m *stubViews) Get(_ context.Context, id string) (service.View, error) {
	if id == "" {
		return nil, errorx.New(errorx.CodeInvalidParam, "缺少视图 ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[id]
	if !ok {
		v = &stubView{id: id, state: respond.ViewState{Phase: respond.PhaseSignedOut}}
		m.views[id] = v
	}
	return v, nil
}

func (m *stubViews) Close() {}

func (m *stubViews) only(t *testing.T) *stubView {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.views, 1)
	for _, v := range m.views {
		return v
	}
	return nil
}

func testConfig() *config.Config {
	conf := config.Default()
	conf.SupabaseConfig.URL = "http://backend.invalid"
	conf.SupabaseConfig.AnonKey = "anon"
	return conf
}

func newServer(t *testing.T) (*httptest.Server, *stubViews) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	transOnce.Do(func() { require.NoError(t, handler.InitTrans("en")) })

	views := &stubViews{views: make(map[string]*stubView)}
	conf := testConfig()
	engine, err := https_server.New(conf, handler.NewHandlers("supa_discord", views, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, views
}

type envelope struct {
	Code int             `json:"code"`
	Msg  json.RawMessage `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) envelope {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func cookieClient(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	client := srv.Client()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client.Jar = jar
	return client
}

func TestStateAssignsViewCookie(t *testing.T) {
	srv, views := newServer(t)
	client := cookieClient(t, srv)

	env := doJSON(t, client, http.MethodGet, srv.URL+"/api/state", nil)
	require.Equal(t, errorx.CodeSuccess, env.Code)
	var st respond.ViewState
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.Equal(t, respond.PhaseSignedOut, st.Phase)

	// 第二次请求带着 cookie，落到同一个视图
	doJSON(t, client, http.MethodGet, srv.URL+"/api/state", nil)
	v := views.only(t)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	cookies := client.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	require.Equal(t, constants.ViewCookieName, cookies[0].Name)
	require.Equal(t, v.id, cookies[0].Value)
}

func TestCommandsReachView(t *testing.T) {
	srv, views := newServer(t)
	client := cookieClient(t, srv)

	require.Equal(t, errorx.CodeSuccess, doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login-link",
		map[string]string{"email": "a@b.co"}).Code)
	require.Equal(t, errorx.CodeSuccess, doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/verify",
		map[string]string{"email": "a@b.co", "code": "123456"}).Code)
	require.Equal(t, errorx.CodeSuccess, doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/session",
		map[string]string{"access_token": "at", "refresh_token": "rt"}).Code)
	require.Equal(t, errorx.CodeSuccess, doJSON(t, client, http.MethodPost, srv.URL+"/api/channels/select",
		map[string]string{"channel_id": "7"}).Code)
	require.Equal(t, errorx.CodeSuccess, doJSON(t, client, http.MethodPost, srv.URL+"/api/messages/draft",
		map[string]string{"content": "hel"}).Code)
	require.Equal(t, errorx.CodeSuccess, doJSON(t, client, http.MethodPost, srv.URL+"/api/messages",
		map[string]string{"content": "hello"}).Code)
	require.Equal(t, errorx.CodeSuccess, doJSON(t, client, http.MethodPost, srv.URL+"/api/channels/retry", nil).Code)
	require.Equal(t, errorx.CodeSuccess, doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/logout", nil).Code)

	require.Equal(t, []string{
		"link:a@b.co",
		"verify:a@b.co:123456",
		"complete:at:rt",
		"select:7",
		"draft:hel",
		"send:hello",
		"retry",
		"signout",
	}, views.only(t).callLog())
}

func TestInvalidParamsAreTranslated(t *testing.T) {
	srv, views := newServer(t)
	client := cookieClient(t, srv)

	env := doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/login-link", map[string]string{"email": "nope"})
	require.Equal(t, errorx.CodeInvalidParam, env.Code)
	var fields map[string]string
	require.NoError(t, json.Unmarshal(env.Msg, &fields))
	require.Contains(t, fields, "email")

	env = doJSON(t, client, http.MethodPost, srv.URL+"/api/auth/verify", map[string]string{"email": "a@b.co", "code": "1"})
	require.Equal(t, errorx.CodeInvalidParam, env.Code)

	// 参数错误不会创建视图
	views.mu.Lock()
	require.Empty(t, views.views)
	views.mu.Unlock()
}

func TestViewErrorsUseEnvelope(t *testing.T) {
	srv, views := newServer(t)
	client := cookieClient(t, srv)
	doJSON(t, client, http.MethodGet, srv.URL+"/api/state", nil)
	v := views.only(t)
	v.mu.Lock()
	v.err = errorx.ErrUnauthorized
	v.mu.Unlock()

	env := doJSON(t, client, http.MethodPost, srv.URL+"/api/channels/select", map[string]string{"channel_id": "1"})
	require.Equal(t, errorx.CodeUnauthorized, env.Code)
	var msg string
	require.NoError(t, json.Unmarshal(env.Msg, &msg))
	require.Equal(t, errorx.ErrUnauthorized.Msg, msg)
}

func TestPagesAndSecurityHeaders(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := srv.Client().Get(srv.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "/ws")
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = srv.Client().Get(srv.URL + "/auth/callback")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "/api/auth/session")
}

func TestStateStreamPushesSnapshots(t *testing.T) {
	srv, views := newServer(t)
	client := cookieClient(t, srv)
	doJSON(t, client, http.MethodGet, srv.URL+"/api/state", nil)
	v := views.only(t)

	header := http.Header{}
	header.Set("Cookie", constants.ViewCookieName+"="+v.id)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var st respond.ViewState
	require.NoError(t, conn.ReadJSON(&st))
	require.Equal(t, respond.PhaseSignedOut, st.Phase)

	v.publish(respond.ViewState{Version: 2, Phase: respond.PhaseChat, Chat: &respond.ChatState{Draft: "x"}})
	require.NoError(t, conn.ReadJSON(&st))
	require.Equal(t, respond.PhaseChat, st.Phase)
	require.Equal(t, "x", st.Chat.Draft)
}

func TestMissingConfigServesErrorPageWithoutBackendCalls(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var backendCalls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendCalls.Add(1)
	}))
	defer backend.Close()

	conf := config.Default()
	conf.SupabaseConfig.URL = backend.URL
	cause := conf.SupabaseConfig.Validate()
	require.Error(t, cause)

	engine, err := https_server.NewConfigError(conf, cause, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	for _, path := range []string{"/", "/auth/callback", "/anything"} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		require.Contains(t, string(body), "Configuration Error")
		require.Contains(t, string(body), "SUPABASE_ANON_KEY")
		require.NotContains(t, string(body), "<code>SUPABASE_URL</code></li>")
	}

	env := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/state", nil)
	require.Equal(t, errorx.CodeConfigMissing, env.Code)
	env = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/messages", map[string]string{"content": "hi"})
	require.Equal(t, errorx.CodeConfigMissing, env.Code)

	require.Zero(t, backendCalls.Load())
}
