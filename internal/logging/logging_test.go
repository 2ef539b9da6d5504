package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackOnUnknownLevel(t *testing.T) {
	l := New("ocn-node", "loud", "json")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.Equal(t, "ocn-node", l.Service())

	l = New("ocn-node", "debug", "text")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	_, ok := l.Formatter.(*logrus.TextFormatter)
	assert.True(t, ok)
}

func TestTraceIDRoundTrip(t *testing.T) {
	id := NewTraceID()
	assert.Len(t, id, 36)

	ctx := WithTraceID(context.Background(), id)
	assert.Equal(t, id, GetTraceID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestLogRequestWritesContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("ocn-node", "info", "json")
	l.SetOutput(&buf)

	ctx := WithPlatformID(WithTraceID(context.Background(), "trace-1"), "7")
	l.LogRequest(ctx, http.MethodGet, "/ocpi/sender/2.2/tariffs", http.StatusNotFound, 12*time.Millisecond)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ocn-node", entry["service"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "7", entry["platform_id"])
	assert.Equal(t, "warning", entry["level"])
	assert.EqualValues(t, 404, entry["status"])
}
