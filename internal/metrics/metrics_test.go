package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("ocn-node", "GET", "/ocpi/sender/2.2/tariffs", "200", 20*time.Millisecond)
	m.RecordHTTPRequest("ocn-node", "GET", "/ocpi/sender/2.2/tariffs", "200", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("ocn-node", "GET", "/ocpi/sender/2.2/tariffs", "200")))
}

func TestInFlightGauge(t *testing.T) {
	m := New()
	m.IncrementInFlight()
	m.IncrementInFlight()
	m.DecrementInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight))
}

func TestForwardAndPeerCounters(t *testing.T) {
	m := New()
	m.RecordForward("tariffs", "REMOTE", "200", time.Millisecond)
	m.RecordPeerMessage("bad_signature")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.forwarded.WithLabelValues("tariffs", "REMOTE", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.peerMessages.WithLabelValues("bad_signature")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordPeerMessage("accepted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `ocn_node_peer_messages_total{outcome="accepted"} 1`)
}
