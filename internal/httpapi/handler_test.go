package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/ocn-node/internal/domain/platform"
	"github.com/R3E-Network/ocn-node/internal/domain/proxy"
	"github.com/R3E-Network/ocn-node/internal/logging"
	"github.com/R3E-Network/ocn-node/internal/metrics"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/registry"
	"github.com/R3E-Network/ocn-node/internal/routing"
	"github.com/R3E-Network/ocn-node/internal/signing"
	"github.com/R3E-Network/ocn-node/internal/storage"
	"github.com/R3E-Network/ocn-node/internal/storage/memory"
	"github.com/R3E-Network/ocn-node/internal/transport"
)

var (
	msp = ocpi.BasicRole{PartyID: "MSP", CountryCode: "DE"}
	cpo = ocpi.BasicRole{PartyID: "CPO", CountryCode: "NL"}
)

const (
	mspTokenC = "msp-token-c"
	cpoTokenB = "cpo-token-b"
	cpoTokenC = "cpo-token-c"
	mspTokenB = "msp-token-b"
)

// recordedRequest is what a fake platform received.
type recordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

// fakePlatform is an OCPI platform answering with a configurable handler.
type fakePlatform struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(w http.ResponseWriter, r *http.Request)
}

func newFakePlatform(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) *fakePlatform {
	t.Helper()
	fp := &fakePlatform{respond: respond}
	fp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fp.mu.Lock()
		fp.requests = append(fp.requests, recordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Headers: r.Header.Clone(),
			Body:    body,
		})
		fp.mu.Unlock()
		fp.respond(w, r)
	}))
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakePlatform) last(t *testing.T) recordedRequest {
	t.Helper()
	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.NotEmpty(t, fp.requests, "platform received no request")
	return fp.requests[len(fp.requests)-1]
}

func (fp *fakePlatform) count() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.requests)
}

func ocpiOK(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `{"status_code":1000,"data":`+data+`,"timestamp":"2020-01-01T00:00:00Z"}`)
}

// node is one OCN node under test.
type node struct {
	url     string
	store   *memory.Store
	signer  *signing.Signer
	metrics *metrics.Metrics
	handler http.Handler
}

func newNode(t *testing.T, nodeURL string, reg registry.Registry) *node {
	t.Helper()
	store := memory.New()
	signer, err := signing.Generate()
	require.NoError(t, err)
	m := metrics.New()
	log := logging.NewDiscard()
	svc := routing.New(store.Stores(), reg, signer, nodeURL, log)
	return &node{
		url:     nodeURL,
		store:   store,
		signer:  signer,
		metrics: m,
		handler: NewHandler(Deps{
			Routing:     svc,
			Transport:   transport.NewClient(transport.Config{Timeout: 5 * time.Second, MaxRetries: -1}),
			Stores:      store.Stores(),
			Metrics:     m,
			Logger:      log,
			PeerKeys:    reg,
			AdminSecret: "admin-secret",
		}),
	}
}

// connect registers a CONNECTED platform playing role, with module endpoints
// rooted at baseURL.
func (n *node) connect(t *testing.T, id string, role ocpi.BasicRole, tokenB, tokenC, baseURL string, modules ...ocpi.ModuleID) {
	t.Helper()
	ctx := context.Background()
	_, err := n.store.CreatePlatform(ctx, platform.Platform{
		ID:     id,
		Status: ocpi.StatusConnected,
		Auth:   platform.Auth{TokenA: id + "-a", TokenB: tokenB, TokenC: tokenC},
	})
	require.NoError(t, err)
	_, err = n.store.CreateRole(ctx, platform.Role{PlatformID: id, Role: ocpi.RoleCPO, PartyID: role.PartyID, CountryCode: role.CountryCode})
	require.NoError(t, err)
	for _, module := range modules {
		for _, iface := range []ocpi.InterfaceRole{ocpi.InterfaceSender, ocpi.InterfaceReceiver} {
			_, err = n.store.CreateEndpoint(ctx, platform.Endpoint{
				PlatformID: id,
				Identifier: module,
				Role:       iface,
				URL:        baseURL + "/" + string(module),
			})
			require.NoError(t, err)
		}
	}
}

func ocpiRequest(method, path, token string, from, to ocpi.BasicRole, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(ocpi.HeaderAuthorization, "Token "+token)
	req.Header.Set(ocpi.HeaderRequestID, "req-1")
	req.Header.Set(ocpi.HeaderCorrelationID, "corr-1")
	req.Header.Set(ocpi.HeaderFromCountryCode, from.CountryCode)
	req.Header.Set(ocpi.HeaderFromPartyID, from.PartyID)
	req.Header.Set(ocpi.HeaderToCountryCode, to.CountryCode)
	req.Header.Set(ocpi.HeaderToPartyID, to.PartyID)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func linkTarget(link string) string {
	target, _, _ := strings.Cut(link, ";")
	return strings.Trim(strings.TrimSpace(target), "<>")
}

// =============================================================================
// Local forwarding
// =============================================================================

func TestForwardLocalListAndPages(t *testing.T) {
	var cpoPlatform *fakePlatform
	cpoPlatform = newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("offset") {
		case "":
			w.Header().Set("Link", "<"+cpoPlatform.URL+"/tariffs?offset=10&limit=10>; rel=\"next\"")
			w.Header().Set("X-Total-Count", "15")
			w.Header().Set("X-Limit", "10")
			ocpiOK(w, `[{"id":"t1"}]`)
		default:
			ocpiOK(w, `[{"id":"t2"}]`)
		}
	})

	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, "https://msp.example/ocpi")
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, cpoPlatform.URL, ocpi.ModuleTariffs)

	rec := serve(n.handler, ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs?limit=10", mspTokenC, msp, cpo, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "t1", gjson.Get(rec.Body.String(), "data.0.id").String())
	assert.Equal(t, []string{"req-1"}, rec.Header()[ocpi.HeaderRequestID])
	assert.Equal(t, []string{"corr-1"}, rec.Header()[ocpi.HeaderCorrelationID])
	assert.Equal(t, []string{"15"}, rec.Header()[ocpi.HeaderTotalCount])
	assert.Equal(t, []string{"10"}, rec.Header()[ocpi.HeaderLimit])

	downstream := cpoPlatform.last(t)
	assert.Equal(t, "/tariffs", downstream.Path)
	assert.Equal(t, "limit=10", downstream.Query)
	assert.Equal(t, "Token "+cpoTokenB, downstream.Headers.Get("Authorization"))
	assert.NotEqual(t, "req-1", downstream.Headers.Get("X-Request-ID"))
	assert.Equal(t, "corr-1", downstream.Headers.Get("X-Correlation-ID"))
	assert.Equal(t, "DE", downstream.Headers.Get("OCPI-from-country-code"))
	assert.Equal(t, "CPO", downstream.Headers.Get("OCPI-to-party-id"))

	link := rec.Header().Get(ocpi.HeaderLink)
	require.True(t, strings.HasPrefix(link, "https://node.ocn.example/ocpi/sender/2.2/tariffs/page/"), link)
	assert.NotContains(t, link, cpoPlatform.URL)

	pagePath := strings.TrimPrefix(linkTarget(link), "https://node.ocn.example")
	rec = serve(n.handler, ocpiRequest(http.MethodGet, pagePath, mspTokenC, msp, cpo, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "t2", gjson.Get(rec.Body.String(), "data.0.id").String())
	assert.Empty(t, rec.Header().Get(ocpi.HeaderLink))
	assert.Equal(t, "offset=10&limit=10", cpoPlatform.last(t).Query)
	assert.Equal(t, "Token "+cpoTokenB, cpoPlatform.last(t).Headers.Get("Authorization"))

	// the page proxy was consumed
	rec = serve(n.handler, ocpiRequest(http.MethodGet, pagePath, mspTokenC, msp, cpo, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForwardLocalPageFailureKeepsProxy(t *testing.T) {
	var cpoPlatform *fakePlatform
	cpoPlatform = newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			w.Header().Set("Link", "<"+cpoPlatform.URL+"/cdrs?offset=5>; rel=\"next\"")
			ocpiOK(w, `[]`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status_code":2001,"status_message":"try later","timestamp":"2020-01-01T00:00:00Z"}`)
	})

	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, "https://msp.example/ocpi")
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, cpoPlatform.URL, ocpi.ModuleCdrs)

	rec := serve(n.handler, ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/cdrs", mspTokenC, msp, cpo, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	pagePath := strings.TrimPrefix(linkTarget(rec.Header().Get(ocpi.HeaderLink)), "https://node.ocn.example")

	for i := 0; i < 2; i++ {
		rec = serve(n.handler, ocpiRequest(http.MethodGet, pagePath, mspTokenC, msp, cpo, ""))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(2001), gjson.Get(rec.Body.String(), "status_code").Int())
		assert.Empty(t, rec.Header().Get(ocpi.HeaderLink))
	}
	assert.Equal(t, 3, cpoPlatform.count())
}

// failingProxies fails CreateProxyResource while fail is set.
type failingProxies struct {
	storage.ProxyResourceStore
	fail atomic.Bool
}

func (f *failingProxies) CreateProxyResource(ctx context.Context, r proxy.Resource) (proxy.Resource, error) {
	if f.fail.Load() {
		return proxy.Resource{}, errors.New("proxy store unavailable")
	}
	return f.ProxyResourceStore.CreateProxyResource(ctx, r)
}

func TestForwardLocalPageKeepsProxyWhenNextPageCannotBeStored(t *testing.T) {
	var cpoPlatform *fakePlatform
	cpoPlatform = newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", "<"+cpoPlatform.URL+"/tariffs?offset=10>; rel=\"next\"")
		ocpiOK(w, `[]`)
	})

	store := memory.New()
	stores := store.Stores()
	proxies := &failingProxies{ProxyResourceStore: stores.ProxyResources}
	stores.ProxyResources = proxies
	log := logging.NewDiscard()
	signer, err := signing.Generate()
	require.NoError(t, err)
	n := &node{url: "https://node.ocn.example", store: store, signer: signer, metrics: metrics.New()}
	n.handler = NewHandler(Deps{
		Routing:   routing.New(stores, registry.NewStaticRegistry(), signer, n.url, log),
		Transport: transport.NewClient(transport.Config{Timeout: 5 * time.Second, MaxRetries: -1}),
		Stores:    stores,
		Metrics:   n.metrics,
		Logger:    log,
	})
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, "https://msp.example/ocpi")
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, cpoPlatform.URL, ocpi.ModuleTariffs)

	rec := serve(n.handler, ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs", mspTokenC, msp, cpo, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pagePath := strings.TrimPrefix(linkTarget(rec.Header().Get(ocpi.HeaderLink)), n.url)

	proxies.fail.Store(true)
	rec = serve(n.handler, ocpiRequest(http.MethodGet, pagePath, mspTokenC, msp, cpo, ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

	proxies.fail.Store(false)
	rec = serve(n.handler, ocpiRequest(http.MethodGet, pagePath, mspTokenC, msp, cpo, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := strings.TrimPrefix(linkTarget(rec.Header().Get(ocpi.HeaderLink)), n.url)
	assert.NotEqual(t, pagePath, next)
	assert.Equal(t, 3, cpoPlatform.count())

	rec = serve(n.handler, ocpiRequest(http.MethodGet, pagePath, mspTokenC, msp, cpo, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForwardReceiverPathVariablesAndBody(t *testing.T) {
	cpoPlatform := newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) {
		ocpiOK(w, `null`)
	})
	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, "https://msp.example/ocpi")
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, cpoPlatform.URL, ocpi.ModuleTokens)

	body := `{"uid":"012345678","type":"RFID","valid":true}`
	rec := serve(n.handler, ocpiRequest(http.MethodPut, "/ocpi/receiver/2.2/tokens/DE/MSP/012345678", mspTokenC, msp, cpo, body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	downstream := cpoPlatform.last(t)
	assert.Equal(t, http.MethodPut, downstream.Method)
	assert.Equal(t, "/tokens/DE/MSP/012345678", downstream.Path)
	assert.JSONEq(t, body, string(downstream.Body))

	rec = serve(n.handler, ocpiRequest(http.MethodPost, "/ocpi/sender/2.2/tokens/012345678/authorize?type=RFID", mspTokenC, msp, cpo, `{"location_id":"LOC1"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/tokens/012345678/authorize", cpoPlatform.last(t).Path)
	assert.Equal(t, "type=RFID", cpoPlatform.last(t).Query)
}

func TestForwardRejections(t *testing.T) {
	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, "https://msp.example/ocpi")
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, "https://cpo.example/ocpi")
	unknown := ocpi.BasicRole{PartyID: "ZZZ", CountryCode: "FR"}

	tests := []struct {
		name       string
		req        *http.Request
		status     int
		ocpiStatus int64
	}{
		{"bad token", ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs", "nope", msp, cpo, ""), http.StatusUnauthorized, 2001},
		{"sender not owned", ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs", mspTokenC, cpo, msp, ""), http.StatusUnauthorized, 2001},
		{"unknown receiver", ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs", mspTokenC, msp, unknown, ""), http.StatusNotFound, 4001},
		{"no endpoint", ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/sessions", mspTokenC, msp, cpo, ""), http.StatusNotFound, 2001},
		{"bad params", ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs?limit=-1", mspTokenC, msp, cpo, ""), http.StatusBadRequest, 2001},
		{"bad body", ocpiRequest(http.MethodPut, "/ocpi/receiver/2.2/tariffs/DE/MSP/T1", mspTokenC, msp, cpo, "{nope"), http.StatusBadRequest, 2001},
		{"unknown page", ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs/page/999", mspTokenC, msp, cpo, ""), http.StatusNotFound, 2001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(n.handler, tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.ocpiStatus, gjson.Get(rec.Body.String(), "status_code").Int())
		})
	}
}

func TestForwardUpstreamFailure(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, "https://msp.example/ocpi")
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, deadURL, ocpi.ModuleTariffs)

	rec := serve(n.handler, ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs", mspTokenC, msp, cpo, ""))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, int64(ocpi.StatusHubConnectionProblem), gjson.Get(rec.Body.String(), "status_code").Int())
}

func TestForwardCdrLocation(t *testing.T) {
	var mspPlatform *fakePlatform
	mspPlatform = newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Location", mspPlatform.URL+"/cdrs/cdr-42")
			ocpiOK(w, `null`)
			return
		}
		ocpiOK(w, `{"id":"cdr-42"}`)
	})

	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, mspPlatform.URL, ocpi.ModuleCdrs)
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, "https://cpo.example/ocpi")

	rec := serve(n.handler, ocpiRequest(http.MethodPost, "/ocpi/receiver/2.2/cdrs", cpoTokenC, cpo, msp, `{"id":"cdr-42"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	location := rec.Header().Get(ocpi.HeaderLocation)
	require.True(t, strings.HasPrefix(location, "https://node.ocn.example/ocpi/receiver/2.2/cdrs/"), location)

	path := strings.TrimPrefix(location, "https://node.ocn.example")
	for i := 0; i < 2; i++ {
		rec = serve(n.handler, ocpiRequest(http.MethodGet, path, cpoTokenC, cpo, msp, ""))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "/cdrs/cdr-42", mspPlatform.last(t).Path)
		assert.Equal(t, "Token "+mspTokenB, mspPlatform.last(t).Headers.Get("Authorization"))
	}
}

func TestForwardCommandResponseURL(t *testing.T) {
	mspPlatform := newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) {
		ocpiOK(w, `null`)
	})
	cpoPlatform := newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) {
		ocpiOK(w, `{"result":"ACCEPTED","timeout":30}`)
	})

	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, mspPlatform.URL, ocpi.ModuleCommands)
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, cpoPlatform.URL, ocpi.ModuleCommands)

	responseURL := mspPlatform.URL + "/commands/START_SESSION/1"
	body := `{"response_url":"` + responseURL + `","token":{"uid":"123"},"location_id":"LOC1"}`
	rec := serve(n.handler, ocpiRequest(http.MethodPost, "/ocpi/receiver/2.2/commands/START_SESSION", mspTokenC, msp, cpo, body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	downstream := cpoPlatform.last(t)
	assert.Equal(t, "/commands/START_SESSION", downstream.Path)
	rewritten := gjson.GetBytes(downstream.Body, "response_url").String()
	require.True(t, strings.HasPrefix(rewritten, "https://node.ocn.example/ocpi/sender/2.2/commands/START_SESSION/"), rewritten)
	assert.Equal(t, "LOC1", gjson.GetBytes(downstream.Body, "location_id").String())

	// the CPO posts the async result to the rewritten url
	resultPath := strings.TrimPrefix(rewritten, "https://node.ocn.example")
	rec = serve(n.handler, ocpiRequest(http.MethodPost, resultPath, cpoTokenC, cpo, msp, `{"result":"ACCEPTED"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/commands/START_SESSION/1", mspPlatform.last(t).Path)
	assert.Equal(t, "Token "+mspTokenB, mspPlatform.last(t).Headers.Get("Authorization"))

	// consumed on success
	rec = serve(n.handler, ocpiRequest(http.MethodPost, resultPath, cpoTokenC, cpo, msp, `{"result":"ACCEPTED"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Remote forwarding
// =============================================================================

// twoNodes connects the MSP to node A and the CPO to node B.
func twoNodes(t *testing.T, cpoPlatform *fakePlatform) (a, b *node) {
	t.Helper()
	reg := registry.NewStaticRegistry()

	var handlerB http.Handler
	serverB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerB.ServeHTTP(w, r)
	}))
	t.Cleanup(serverB.Close)

	a = newNode(t, "https://node-a.ocn.example", reg)
	b = newNode(t, serverB.URL, reg)
	handlerB = b.handler

	a.connect(t, "msp", msp, mspTokenB, mspTokenC, "https://msp.example/ocpi")
	b.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, cpoPlatform.URL, ocpi.ModuleTariffs, ocpi.ModuleCdrs)

	reg.Register(msp, registry.Entry{URL: a.url, Key: a.signer.PublicKeyHex()})
	reg.Register(cpo, registry.Entry{URL: serverB.URL, Key: b.signer.PublicKeyHex()})
	return a, b
}

func TestForwardRemoteListAndPage(t *testing.T) {
	var cpoPlatform *fakePlatform
	cpoPlatform = newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "" {
			w.Header().Set("Link", "<"+cpoPlatform.URL+"/tariffs?offset=1>; rel=\"next\"")
			w.Header().Set("X-Total-Count", "2")
			ocpiOK(w, `[{"id":"t1"}]`)
			return
		}
		ocpiOK(w, `[{"id":"t2"}]`)
	})
	a, b := twoNodes(t, cpoPlatform)

	rec := serve(a.handler, ocpiRequest(http.MethodGet, "/ocpi/sender/2.2/tariffs?limit=1", mspTokenC, msp, cpo, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "t1", gjson.Get(rec.Body.String(), "data.0.id").String())
	assert.Equal(t, []string{"2"}, rec.Header()[ocpi.HeaderTotalCount])

	downstream := cpoPlatform.last(t)
	assert.Equal(t, "limit=1", downstream.Query)
	assert.Equal(t, "Token "+cpoTokenB, downstream.Headers.Get("Authorization"))
	assert.Equal(t, "corr-1", downstream.Headers.Get("X-Correlation-ID"))

	link := rec.Header().Get(ocpi.HeaderLink)
	require.True(t, strings.HasPrefix(link, "https://node-a.ocn.example/ocpi/sender/2.2/tariffs/page/"), link)

	pagePath := strings.TrimPrefix(linkTarget(link), "https://node-a.ocn.example")
	rec = serve(a.handler, ocpiRequest(http.MethodGet, pagePath, mspTokenC, msp, cpo, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "t2", gjson.Get(rec.Body.String(), "data.0.id").String())
	assert.Equal(t, "offset=1", cpoPlatform.last(t).Query)

	assert.Contains(t, scrape(t, b.metrics), `ocn_node_peer_messages_total{outcome="accepted"} 2`)
	assert.Contains(t, scrape(t, a.metrics), `receiver="REMOTE"`)
}

func TestMessageRejectsForeignReceiver(t *testing.T) {
	cpoPlatform := newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) { ocpiOK(w, `[]`) })
	a, b := twoNodes(t, cpoPlatform)

	// an envelope for the MSP, which node B does not serve, signed by node A
	envelope, err := json.Marshal(ocpi.MessageRequestBody{
		Method:               http.MethodGet,
		Module:               ocpi.ModuleTariffs,
		InterfaceRole:        ocpi.InterfaceSender,
		Headers:              ocpi.MessageHeaders{RequestID: "r", CorrelationID: "c", Sender: msp, Receiver: msp},
		ExpectedResponseType: ocpi.ResponseTariffArray,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ocn/message", bytes.NewReader(envelope))
	req.Header.Set(ocpi.HeaderSignature, a.signer.Sign(envelope))
	rec := serve(b.handler, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int64(ocpi.StatusHubUnknownReceiver), gjson.Get(rec.Body.String(), "status_code").Int())

	// signed by the wrong node
	req = httptest.NewRequest(http.MethodPost, "/ocn/message", bytes.NewReader(envelope))
	req.Header.Set(ocpi.HeaderSignature, b.signer.Sign(envelope))
	rec = serve(b.handler, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, cpoPlatform.count())
}

func TestMessageRejectsResourceOutsideReceiverPlatform(t *testing.T) {
	cpoPlatform := newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) { ocpiOK(w, `[]`) })
	elsewhere := newFakePlatform(t, func(w http.ResponseWriter, r *http.Request) { ocpiOK(w, `[]`) })
	a, b := twoNodes(t, cpoPlatform)

	envelope, err := json.Marshal(ocpi.MessageRequestBody{
		Method:               http.MethodGet,
		Module:               ocpi.ModuleTariffs,
		InterfaceRole:        ocpi.InterfaceSender,
		Headers:              ocpi.MessageHeaders{RequestID: "r", CorrelationID: "c", Sender: msp, Receiver: cpo},
		ProxyResource:        elsewhere.URL + "/collect",
		ExpectedResponseType: ocpi.ResponseTariffArray,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ocn/message", bytes.NewReader(envelope))
	req.Header.Set(ocpi.HeaderSignature, a.signer.Sign(envelope))
	rec := serve(b.handler, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, 0, elsewhere.count())
	assert.Equal(t, 0, cpoPlatform.count())
}

// =============================================================================
// Hub client info, health and metrics
// =============================================================================

func TestHubClientInfo(t *testing.T) {
	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())
	n.connect(t, "msp", msp, mspTokenB, mspTokenC, "https://msp.example/ocpi")
	n.connect(t, "cpo", cpo, cpoTokenB, cpoTokenC, "https://cpo.example/ocpi")

	req := httptest.NewRequest(http.MethodGet, "/ocpi/2.2/hubclientinfo", nil)
	req.Header.Set(ocpi.HeaderAuthorization, "Token "+mspTokenC)
	rec := serve(n.handler, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := gjson.Get(rec.Body.String(), "data")
	require.Len(t, data.Array(), 2)
	assert.ElementsMatch(t, []string{"MSP", "CPO"}, []string{data.Get("0.party_id").String(), data.Get("1.party_id").String()})
	assert.Equal(t, "CONNECTED", data.Get("0.status").String())

	req = httptest.NewRequest(http.MethodGet, "/ocpi/2.2/hubclientinfo", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(n.handler, req).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	n := newNode(t, "https://node.ocn.example", registry.NewStaticRegistry())

	rec := serve(n.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())

	rec = serve(n.handler, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Contains(t, scrape(t, n.metrics), `path="/health"`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}
