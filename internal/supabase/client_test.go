package supabase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"supa_discord/pkg/errorx"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testAnonKey = "anon-key"

type mapStorage struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapStorage() *mapStorage {
	return &mapStorage{data: make(map[string]string)}
}

func (m *mapStorage) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *mapStorage) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func newTestClient(t *testing.T, h http.Handler, storage SessionStorage) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		URL:         srv.URL,
		AnonKey:     testAnonKey,
		RedirectTo:  "http://localhost:8000/auth/callback",
		Storage:     storage,
		StorageKey:  "session:test",
		Heartbeat:   time.Hour,
		JoinTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, srv
}

func signedToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()
	claims := accessTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(Options{URL: "", AnonKey: "k"})
	require.ErrorIs(t, err, errorx.ErrConfigMissing)

	_, err = NewClient(Options{URL: "https://x.supabase.co", AnonKey: "  "})
	require.ErrorIs(t, err, errorx.ErrConfigMissing)

	_, err = NewClient(Options{URL: "ftp://x", AnonKey: "k"})
	require.Equal(t, errorx.CodeConfigMissing, errorx.GetCode(err))
}

func TestRealtimeEndpoint(t *testing.T) {
	base, _ := url.Parse("https://abc.supabase.co")
	require.Equal(t, "wss://abc.supabase.co/realtime/v1/websocket?apikey=k&vsn=1.0.0", realtimeEndpoint(base, "k"))

	base, _ = url.Parse("http://127.0.0.1:54321/")
	require.Equal(t, "ws://127.0.0.1:54321/realtime/v1/websocket?apikey=k&vsn=1.0.0", realtimeEndpoint(base, "k"))
}

func TestParseAPIError(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{"gotrue oauth style", 400, `{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`, "", "Invalid Refresh Token"},
		{"gotrue msg", 429, `{"code":429,"error_code":"over_email_send_rate_limit","msg":"email rate limit exceeded"}`, "over_email_send_rate_limit", "email rate limit exceeded"},
		{"postgrest", 403, `{"code":"42501","message":"new row violates row-level security policy","details":null,"hint":null}`, "42501", "new row violates row-level security policy"},
		{"plain text", 502, `Bad Gateway`, "", "Bad Gateway"},
		{"empty", 503, ``, "", "Service Unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := parseAPIError(tc.status, []byte(tc.body))
			require.Equal(t, tc.status, e.Status)
			require.Equal(t, tc.code, e.Code)
			require.Equal(t, tc.message, e.Description())
			require.Equal(t, tc.status, ErrorStatus(errorx.Wrap(e, errorx.CodeBackendError, "wrapped")))
		})
	}
}
