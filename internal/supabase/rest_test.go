package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueryBuilderExecute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		q := r.URL.Query()
		require.Equal(t, "*", q.Get("select"))
		require.Equal(t, "eq.7", q.Get("channel_id"))
		require.Equal(t, "created_at.asc,id.asc", q.Get("order"))
		require.Equal(t, "public", r.Header.Get("Accept-Profile"))
		require.Equal(t, "Bearer "+testAnonKey, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"id":1,"content":"hi"},{"id":2,"content":"yo"}]`))
	})
	c, _ := newTestClient(t, mux, nil)

	var rows []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
	}
	err := c.From("messages").Eq("channel_id", "7").Order("created_at", true).Order("id", true).Execute(context.Background(), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "yo", rows[1].Content)
}

func TestQueryBuilderInsert(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "return=minimal", r.Header.Get("Prefer"))
		require.Equal(t, "public", r.Header.Get("Content-Profile"))
		body, _ := io.ReadAll(r.Body)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		require.Equal(t, "hello", got["content"])
		w.WriteHeader(http.StatusCreated)
	})
	c, _ := newTestClient(t, mux, nil)

	err := c.From("messages").Insert(context.Background(), map[string]any{"channel_id": 7, "content": "hello"})
	require.NoError(t, err)
}

func TestQueryBuilderRowLevelSecurity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"42501","message":"new row violates row-level security policy for table \"messages\""}`))
	})
	c, _ := newTestClient(t, mux, nil)

	err := c.From("messages").Insert(context.Background(), map[string]any{"content": "x"})
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, ErrorStatus(err))
	require.Contains(t, Describe(err), "row-level security")
}
