// Package model 定义后端数据表对应的实体
// 本文件定义消息模型，对应 messages 表
package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Message 消息模型
// 只通过 insert 请求创建，客户端从不修改或删除
type Message struct {
	ID        ID        `json:"id"`
	ChannelID ID        `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt Timestamp `json:"created_at"`
}

// NewMessage 插入 messages 表时提交的记录
// id 与 created_at 由后端生成
type NewMessage struct {
	ChannelID ID     `json:"channel_id"`
	UserID    string `json:"user_id"`
	Content   string `json:"content"`
}

// ID 后端主键
// 表主键可能是 bigint 也可能是 uuid，统一以字符串保存
type ID string

// UnmarshalJSON 同时接受 JSON 数字和字符串
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON 规范十进制 ID 按数字输出，保证 bigint 列的 eq 过滤和插入类型一致
// "007"、"+5" 这类写法不是合法 JSON 数字，仍按字符串输出
func (id ID) MarshalJSON() ([]byte, error) {
	s := string(id)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

func (id ID) String() string { return string(id) }

// timestampLayouts Postgres 经 PostgREST / Realtime 输出的时间格式
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp created_at 列
// timestamp without time zone 的值按 UTC 解释
type Timestamp struct {
	time.Time
}

// UnmarshalJSON 依次尝试 timestampLayouts
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalJSON 统一输出 RFC3339Nano
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ParseTimestamp 解析后端时间字符串
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			return parsed, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
