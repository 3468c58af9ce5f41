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

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Send("succeeded", 2)
	m.Send("failed", 3)
	m.Decision("awaiting-user")
	m.PollCycle("ok", 150*time.Millisecond)
	m.PollCycle("skipped", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("succeeded")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.sendAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("awaiting-user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollCycles.WithLabelValues("skipped")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Send("succeeded", 1)
		m.Surfaced(3)
		m.Recovery("poll")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Surfaced(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_relay_messages_surfaced_total 2")
}
