package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageDecodesPostgrestRow(t *testing.T) {
	raw := `{"id":42,"channel_id":7,"user_id":"2f1c9a7e-1111-2222-3333-444455556666","content":"hi","created_at":"2024-05-01T10:20:30.123456+00:00"}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Equal(t, ID("42"), m.ID)
	require.Equal(t, ID("7"), m.ChannelID)
	require.Equal(t, "hi", m.Content)
	require.Equal(t, time.Date(2024, 5, 1, 10, 20, 30, 123456000, time.UTC), m.CreatedAt.UTC())
}

func TestMessageDecodesRealtimeRecord(t *testing.T) {
	// Realtime 对 timestamp 列不带时区
	raw := `{"id":"b0c1","channel_id":"c-1","user_id":"u","content":"x","created_at":"2024-05-01T10:20:30.5"}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	require.Equal(t, ID("b0c1"), m.ID)
	require.Equal(t, 500*time.Millisecond, time.Duration(m.CreatedAt.Nanosecond()))
}

func TestNumericIDsEncodeAsNumbers(t *testing.T) {
	out, err := json.Marshal(NewMessage{ChannelID: "7", UserID: "u", Content: "hello"})
	require.NoError(t, err)
	require.JSONEq(t, `{"channel_id":7,"user_id":"u","content":"hello"}`, string(out))

	out, err = json.Marshal(NewMessage{ChannelID: "general", UserID: "u", Content: "hello"})
	require.NoError(t, err)
	require.JSONEq(t, `{"channel_id":"general","user_id":"u","content":"hello"}`, string(out))

	for raw, want := range map[string]string{"-3": `-3`, "0": `0`, "007": `"007"`, "+5": `"+5"`, "-0": `"-0"`} {
		out, err = json.Marshal(ID(raw))
		require.NoError(t, err, raw)
		require.JSONEq(t, want, string(out), raw)
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	_, err := ParseTimestamp("yesterday")
	require.Error(t, err)
}
