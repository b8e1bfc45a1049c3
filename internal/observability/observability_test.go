package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	assert.True(t, NewLogger("debug").Core().Enabled(zap.DebugLevel))
	assert.False(t, NewLogger("warn").Core().Enabled(zap.InfoLevel))
	assert.True(t, NewLogger("bogus").Core().Enabled(zap.InfoLevel))
}

func TestZapLoggerLevelByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(RequestID(), ZapLogger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, p := range []string{"/ok", "/missing", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if matchLabels(metric, labels) {
				if c := metric.GetCounter(); c != nil {
					return c.GetValue()
				}
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/tickets/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tickets/42", nil))

	assert.Equal(t, float64(1), counterValue(t, m, "helpdesk_http_request_duration_seconds",
		map[string]string{"route": "/tickets/:id", "status": "200"}))

	m.IncrTicketEvent("CREATE")
	m.IncrTicketEvent("CREATE")
	assert.Equal(t, float64(2), counterValue(t, m, "helpdesk_ticket_events_total", map[string]string{"event": "CREATE"}))

	m.IncrExternalError("kafka")
	assert.Equal(t, float64(1), counterValue(t, m, "helpdesk_external_errors_total", map[string]string{"service": "kafka"}))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncrTicketEvent("CREATE")
	m.IncrRejected("close", "conflict")
	m.IncrExternalError("search")
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer("", "helpdesk-service")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
