package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPreservesHeaderCasing(t *testing.T) {
	var seen http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("X-Total-Count", "10")
		w.Write([]byte(`{"status_code":1000}`))
	}))
	defer server.Close()

	headers := http.Header{}
	headers["OCPI-from-country-code"] = []string{"DE"}
	headers["Authorization"] = []string{"Token token-b"}

	client := NewClient(Config{})
	resp, err := client.Send(context.Background(), http.MethodGet, server.URL, headers, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.Successful())
	assert.Equal(t, "10", resp.Headers.Get("X-Total-Count"))
	assert.True(t, IsOcpiSuccess(resp.Body))
	// the server side canonicalizes on read; the value must still arrive
	assert.Equal(t, "DE", seen.Get("OCPI-From-Country-Code"))
	assert.Equal(t, "Token token-b", seen.Get("Authorization"))
}

func TestSendRetriesGetOnServerUnavailable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status_code":1000}`))
	}))
	defer server.Close()

	client := NewClient(Config{MaxRetries: 2, Backoff: time.Millisecond})
	resp, err := client.Send(context.Background(), http.MethodGet, server.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSendDoesNotRetryPost(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{MaxRetries: 2, Backoff: time.Millisecond})
	resp, err := client.Send(context.Background(), http.MethodPost, server.URL, nil, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSendReportsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{MaxRetries: -1})
	_, err := client.Send(context.Background(), http.MethodGet, url, nil, nil)
	assert.Error(t, err)
}

func TestSendRejectsOversizedBody(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("size") == "fit" {
			w.Write([]byte(`{"status_code":1000}`))
			return
		}
		w.Write([]byte(`{"status_code":1000,"data":"` + strings.Repeat("x", 64) + `"}`))
	}))
	defer server.Close()

	client := NewClient(Config{MaxRetries: 2, Backoff: time.Millisecond, MaxBodyBytes: 20})

	resp, err := client.Send(context.Background(), http.MethodGet, server.URL+"?size=fit", nil, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 20)

	_, err = client.Send(context.Background(), http.MethodGet, server.URL, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPostEnvelopeSendsBytesUnchanged(t *testing.T) {
	envelope := []byte(`{"method":"GET","module":"tariffs"}`)

	var (
		path string
		body []byte
		sig  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		sig = r.Header.Get("OCN-Signature")
		body, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"status_code":1000}`))
	}))
	defer server.Close()

	client := NewClient(Config{})
	_, err := client.PostEnvelope(context.Background(), server.URL+"/", http.Header{"OCN-Signature": {"abcd"}}, envelope)
	require.NoError(t, err)

	assert.Equal(t, MessagePath, path)
	assert.Equal(t, envelope, body)
	assert.Equal(t, "abcd", sig)
}

func TestIsOcpiSuccess(t *testing.T) {
	assert.True(t, IsOcpiSuccess([]byte(`{"status_code":1000,"data":[]}`)))
	assert.False(t, IsOcpiSuccess([]byte(`{"status_code":2001}`)))
	assert.False(t, IsOcpiSuccess([]byte(`{"data":{}}`)))
	assert.False(t, IsOcpiSuccess([]byte(`not json`)))
}
