package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roboricindustries/chat-ingest/pkg/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.Settled("new-message", pubsub.OutcomeAck, 20*time.Millisecond)
	m.Settled("new-message", pubsub.OutcomeAck, 30*time.Millisecond)
	m.Settled("new-message", pubsub.OutcomeRetry, time.Second)
	m.Published("new-message", nil)
	m.Published("new-message", errors.New("down"))
	m.Record("store", "duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues("new-message", "ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("new-message", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("new-message", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("store", "duplicate")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_ingest_deliveries_total")
	assert.Contains(t, rec.Body.String(), "chat_ingest_delivery_duration_seconds_bucket")
}
