// Package httpapi exposes the OCPI module routes, the peer message endpoint,
// hub client info and the admin API of the node.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	svcerrors "github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/httputil"
	"github.com/R3E-Network/ocn-node/internal/logging"
	"github.com/R3E-Network/ocn-node/internal/metrics"
	"github.com/R3E-Network/ocn-node/internal/middleware"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/routing"
	"github.com/R3E-Network/ocn-node/internal/storage"
	"github.com/R3E-Network/ocn-node/internal/transport"
)

// Transport performs the outbound calls of a forwarded request.
type Transport interface {
	Send(ctx context.Context, method, url string, headers http.Header, body []byte) (*transport.Response, error)
	PostEnvelope(ctx context.Context, peerURL string, headers http.Header, envelope []byte) (*transport.Response, error)
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Routing   *routing.Service
	Transport Transport
	// Stores backs the admin API.
	Stores  storage.Stores
	Metrics *metrics.Metrics
	Logger  *logging.Logger

	// PeerKeys resolves the public key of the node sending a peer envelope.
	PeerKeys       middleware.NodeKeyResolver
	PeerKeyTTL     time.Duration
	AdminSecret    string
	AllowedOrigins []string
	// RateLimiter guards the OCPI routes. Nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
	ServiceName string
}

// handler bundles the HTTP endpoints of the node.
type handler struct {
	routing   *routing.Service
	transport Transport
	stores    storage.Stores
	metrics   *metrics.Metrics
	log       *logging.Logger
	audit     *auditLog
	now       func() time.Time
}

// NewHandler returns the router serving every node endpoint.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logging.New("httpapi", "info", "json")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "ocn-node"
	}

	h := &handler{
		routing:   deps.Routing,
		transport: deps.Transport,
		stores:    deps.Stores,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		audit:     newAuditLog(200, logAuditSink{log: deps.Logger}),
		now:       time.Now,
	}

	r := mux.NewRouter()
	r.Use(middleware.NewTracingMiddleware(deps.Logger).Handler)
	r.Use(middleware.MetricsMiddleware(deps.ServiceName, deps.Metrics))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, svcerrors.NotFound("Route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, ocpi.NewError(ocpi.StatusClientGenericError, "Method not allowed"))
	})

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)

	limit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		limit = deps.RateLimiter.Handler
	}

	for _, rt := range ocpiRoutes {
		r.Handle(rt.path, limit(h.forward(rt))).Methods(rt.method)
	}
	r.Handle("/ocpi/2.2/hubclientinfo", limit(http.HandlerFunc(h.hubClientInfo))).Methods(http.MethodGet)

	peerAuth := middleware.NewPeerAuth(middleware.PeerAuthConfig{
		Keys:     deps.PeerKeys,
		Logger:   deps.Logger,
		Metrics:  deps.Metrics,
		CacheTTL: deps.PeerKeyTTL,
	})
	r.Handle(transport.MessagePath, peerAuth.Handler(http.HandlerFunc(h.message))).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins).Handler)
	admin.Use(middleware.NewAdminAuth(deps.AdminSecret, deps.Logger).Handler)
	admin.Use(h.auditAdmin)
	admin.HandleFunc("/platforms", h.createPlatform).Methods(http.MethodPost, http.MethodOptions)
	admin.HandleFunc("/platforms", h.listPlatforms).Methods(http.MethodGet)
	admin.HandleFunc("/platforms/{id}", h.deletePlatform).Methods(http.MethodDelete, http.MethodOptions)
	admin.HandleFunc("/platforms/{id}/connection", h.connectPlatform).Methods(http.MethodPut, http.MethodOptions)
	admin.HandleFunc("/platforms/{id}/status", h.updatePlatformStatus).Methods(http.MethodPut, http.MethodOptions)
	admin.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet, http.MethodOptions)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"node":   h.routing.NodeURL(),
	})
}

// hubClientInfo lists the parties connected to this node. The caller only
// needs a valid token; no role binding is checked.
func (h *handler) hubClientInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	echoRequestHeaders(w, r.Header.Get(ocpi.HeaderRequestID), r.Header.Get(ocpi.HeaderCorrelationID))

	if _, err := h.routing.ValidateSender(ctx, r.Header.Get(ocpi.HeaderAuthorization), nil); err != nil {
		httputil.WriteError(w, err)
		return
	}
	infos, err := h.routing.LocalClientInfo(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteOcpiSuccess(w, infos)
}

// writeError logs server-side failures before writing the error envelope.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se := svcerrors.GetServiceError(err); se == nil || se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteError(w, err)
}

func echoRequestHeaders(w http.ResponseWriter, requestID, correlationID string) {
	if requestID != "" {
		ocpi.SetHeader(w.Header(), ocpi.HeaderRequestID, requestID)
	}
	if correlationID != "" {
		ocpi.SetHeader(w.Header(), ocpi.HeaderCorrelationID, correlationID)
	}
}
