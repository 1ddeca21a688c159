// Package supabase 是后端即服务（BaaS）的客户端
// 覆盖三部分接口：
//   - Auth：邮件一次性登录链接、会话恢复与刷新、登出（GoTrue）
//   - 表读写：select / insert（PostgREST）
//   - 变更订阅：按表和过滤条件订阅 INSERT 事件（Realtime，Phoenix 协议）
//
// 客户端由调用方显式创建并注入，不存在包级全局实例。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"supa_discord/pkg/constants"
	"supa_discord/pkg/errorx"

	"go.uber.org/zap"
)

// SessionStorage 会话持久化接口，dao/redis.CacheService 满足该接口
type SessionStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Options 客户端参数
type Options struct {
	URL     string
	AnonKey string
	Schema  string // 默认 public

	// RedirectTo 登录邮件中链接的回跳地址
	RedirectTo string

	// Storage 为 nil 时会话只保存在内存
	Storage    SessionStorage
	StorageKey string
	StorageTTL time.Duration

	HTTPClient *http.Client
	Timeout    time.Duration

	Heartbeat   time.Duration
	JoinTimeout time.Duration

	Logger *zap.Logger
}

// Client BaaS 客户端
type Client struct {
	baseURL *url.URL
	anonKey string
	schema  string
	http    *http.Client
	lg      *zap.Logger

	Auth     *AuthClient
	Realtime *RealtimeClient
}

// NewClient 创建客户端
// URL 或 AnonKey 为空时返回 errorx.ErrConfigMissing
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.URL) == "" || strings.TrimSpace(opts.AnonKey) == "" {
		return nil, errorx.ErrConfigMissing
	}
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil {
		return nil, errorx.Wrapf(err, errorx.CodeConfigMissing, "后端 URL 无效: %s", opts.URL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errorx.Newf(errorx.CodeConfigMissing, "后端 URL 必须是 http(s): %s", opts.URL)
	}
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		opts.HTTPClient = &http.Client{Timeout: timeout}
	}
	if opts.Heartbeat == 0 {
		opts.Heartbeat = constants.RealtimeHeartbeat
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = constants.RealtimeJoinTimeout
	}

	c := &Client{
		baseURL: base,
		anonKey: opts.AnonKey,
		schema:  opts.Schema,
		http:    opts.HTTPClient,
		lg:      opts.Logger,
	}
	c.Auth = newAuthClient(c, opts)
	c.Realtime = newRealtimeClient(c, opts)
	c.Auth.onToken = c.Realtime.SetAuth
	return c, nil
}

// Close 断开 Realtime 连接并释放所有登录状态订阅
func (c *Client) Close() {
	c.Realtime.Disconnect()
	c.Auth.close()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// newRequest 构造带 apikey 头的请求
// bearer 为空时使用公开密钥
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any, bearer string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return nil, err
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do 发送请求，状态码 >= 400 时解析为 *APIError
// out 为 nil 时丢弃响应体
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return parseAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
