package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.SyncRun("testnet", false, 120*time.Millisecond)
	m.SyncAction("testnet", "created")
	m.SyncAction("testnet", "created")
	m.RelayEvent("contributed", "delivered")
	m.SyncCursor("testnet", 42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("testnet", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.syncDeals.WithLabelValues("testnet", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayEvents.WithLabelValues("contributed", "delivered")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.syncCursor.WithLabelValues("testnet")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SyncRun("x", true, time.Second)
	m.RelayRetry()
	m.HTTPRequest("GET", "/x", 200, time.Millisecond)
	m.WSSubscribers(1)
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.RoomMessage("milestone")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dealbot_dealroom_messages_total{type="milestone"} 1`)
}
