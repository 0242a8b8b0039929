package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/pawtrack/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareLogsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	var seenCorrelation string
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		ContextKeys: []string{"ledger_category"},
		QuietRoutes: []string{"/health"},
	}))
	r.POST("/api/pets/:petID/feedings", func(c *gin.Context) {
		seenCorrelation = obscontext.CorrelationIDFromContext(c.Request.Context())
		c.Set("ledger_category", "FEEDING_CREATION")
		c.Status(http.StatusOK)
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/api/pets/7/feedings", nil)
	req.Header.Set(obscontext.CorrelationHeader, "client-cid")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "client-cid", seenCorrelation)
	assert.Equal(t, "client-cid", w.Header().Get(obscontext.CorrelationHeader))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entries := logs.FilterMessage("http_request").AllUntimed()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/api/pets/:petID/feedings", first["route"])
	assert.Equal(t, "FEEDING_CREATION", first["ledger_category"])
	assert.Equal(t, "client-cid", first["correlation_id"])
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}
