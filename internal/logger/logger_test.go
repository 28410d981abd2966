package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hive-chat/internal/config"
)

func TestInitWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	lg, err := Init(config.LogConfig{LogPath: dir, Level: "debug"}, "release")
	require.NoError(t, err)
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	lg.Info("hello", zap.String("component", "test"))
	_ = lg.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "hive-chat.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestInitRejectsBadLevel(t *testing.T) {
	_, err := Init(config.LogConfig{LogPath: t.TempDir(), Level: "loud"}, "release")
	require.Error(t, err)
}

func TestGinRecoveryReturns500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinLogger(), GinRecovery(false))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIsBrokenPipeError(t *testing.T) {
	assert.True(t, isBrokenPipeError(errors.New("write: broken pipe")))
	assert.True(t, isBrokenPipeError(errors.New("read: Connection reset by peer")))
	assert.False(t, isBrokenPipeError(errors.New("timeout")))
}
