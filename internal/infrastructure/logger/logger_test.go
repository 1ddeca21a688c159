package logger

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"supa_discord/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LogConfig{LogPath: dir, Level: "debug"}

	lg, err := Init(cfg, "release")
	require.NoError(t, err)
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	lg.Info("hello", zap.String("k", "v"))
	require.NoError(t, lg.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"k":"v"`)
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	_, err := Init(&config.LogConfig{LogPath: t.TempDir(), Level: "loud"}, "release")
	require.Error(t, err)
}

func TestGinRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(GinLogger(zap.NewNop()), GinRecovery(zap.NewNop(), true))
	engine.GET("/panic", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIsBrokenPipeError(t *testing.T) {
	opErr := &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}
	require.True(t, isBrokenPipeError(opErr))
	require.True(t, isBrokenPipeError(errors.New("read: connection reset by peer")))
	require.False(t, isBrokenPipeError(errors.New("timeout")))
	require.False(t, isBrokenPipeError(nil))
}
