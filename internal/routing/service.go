// Package routing decides, per request, whether a receiver is served by a
// platform connected to this node or by a peer node, and prepares the
// outbound request for either case.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/ocn-node/internal/domain/platform"
	"github.com/R3E-Network/ocn-node/internal/domain/proxy"
	svcerrors "github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/logging"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/registry"
	"github.com/R3E-Network/ocn-node/internal/storage"
)

// Receiver classifies the target of a request.
type Receiver string

const (
	Local  Receiver = "LOCAL"
	Remote Receiver = "REMOTE"
)

// Signer signs peer envelopes with the node key.
type Signer interface {
	Sign(data []byte) string
}

// Service is the routing engine. It keeps no state between requests; all
// shared state lives in the stores.
type Service struct {
	platforms storage.PlatformStore
	roles     storage.RoleStore
	endpoints storage.EndpointStore
	proxies   storage.ProxyResourceStore
	registry  registry.Registry
	signer    Signer
	nodeURL   string
	log       *logging.Logger

	newRequestID func() string
	now          func() time.Time
}

// New creates a routing service. nodeURL is the public base URL of this node
// and is used when rewriting links handed back to callers.
func New(stores storage.Stores, reg registry.Registry, signer Signer, nodeURL string, log *logging.Logger) *Service {
	if log == nil {
		log = logging.New("routing", "info", "json")
	}
	return &Service{
		platforms:    stores.Platforms,
		roles:        stores.Roles,
		endpoints:    stores.Endpoints,
		proxies:      stores.ProxyResources,
		registry:     reg,
		signer:       signer,
		nodeURL:      strings.TrimSuffix(nodeURL, "/"),
		log:          log,
		newRequestID: func() string { return uuid.NewString() },
		now:          time.Now,
	}
}

// NodeURL returns the public base URL of this node.
func (s *Service) NodeURL() string {
	return s.nodeURL
}

// =============================================================================
// Caller and receiver checks
// =============================================================================

// ValidateSender authenticates the caller by its "Token <tokenC>"
// authorization value. When expected is set, the role must belong to the
// authenticated platform. Every failure is reported as the same
// authentication error.
func (s *Service) ValidateSender(ctx context.Context, authorization string, expected *ocpi.BasicRole) (platform.Platform, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Token ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		s.rejectSender(ctx, "malformed authorization")
		return platform.Platform{}, svcerrors.Authentication()
	}

	p, err := s.platforms.GetPlatformByTokenC(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.rejectSender(ctx, "unknown token")
			return platform.Platform{}, svcerrors.Authentication()
		}
		return platform.Platform{}, svcerrors.Internal("lookup platform", err)
	}
	if !p.Connected() {
		s.rejectSender(ctx, "platform not connected")
		return platform.Platform{}, svcerrors.Authentication()
	}

	if expected != nil {
		owned, err := s.roles.ExistsRoleForPlatform(ctx, *expected, p.ID)
		if err != nil {
			return platform.Platform{}, svcerrors.Internal("lookup role", err)
		}
		if !owned {
			s.rejectSender(ctx, "role not owned by platform")
			return platform.Platform{}, svcerrors.Authentication()
		}
	}
	return p, nil
}

func (s *Service) rejectSender(ctx context.Context, reason string) {
	s.log.LogSecurityEvent(ctx, "sender_rejected", map[string]interface{}{"reason": reason})
}

// ValidateReceiver classifies role as LOCAL when a local platform plays it and
// as REMOTE when the registry knows a node serving it.
func (s *Service) ValidateReceiver(ctx context.Context, role ocpi.BasicRole) (Receiver, error) {
	known, err := s.IsRoleKnown(ctx, role)
	if err != nil {
		return "", err
	}
	if known {
		return Local, nil
	}

	onNetwork, err := s.IsRoleKnownOnNetwork(ctx, role)
	if err != nil {
		return "", err
	}
	if onNetwork {
		return Remote, nil
	}
	return "", svcerrors.UnknownReceiver(role)
}

// IsRoleKnown reports whether a local platform plays role.
func (s *Service) IsRoleKnown(ctx context.Context, role ocpi.BasicRole) (bool, error) {
	_, err := s.roles.GetRole(ctx, role)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, svcerrors.Internal("lookup role", err)
	}
}

// IsRoleKnownOnNetwork reports whether the registry binds role to a node.
func (s *Service) IsRoleKnownOnNetwork(ctx context.Context, role ocpi.BasicRole) (bool, error) {
	url, err := s.GetRemoteClientURL(ctx, role)
	if err != nil {
		return false, err
	}
	return url != "", nil
}

// GetRemoteClientURL returns the base URL of the node serving role, or "" when
// the registry has no entry.
func (s *Service) GetRemoteClientURL(ctx context.Context, role ocpi.BasicRole) (string, error) {
	if s.registry == nil {
		return "", nil
	}
	url, err := s.registry.ClientURLOf(ctx, role)
	if err != nil {
		if svcerrors.GetServiceError(err) != nil {
			return "", err
		}
		return "", svcerrors.TransientRegistry(err)
	}
	return strings.TrimSuffix(url, "/"), nil
}

// GetPlatformID returns the id of the local platform playing role.
func (s *Service) GetPlatformID(ctx context.Context, role ocpi.BasicRole) (string, error) {
	r, err := s.roles.GetRole(ctx, role)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", svcerrors.UnknownReceiver(role)
		}
		return "", svcerrors.Internal("lookup role", err)
	}
	return r.PlatformID, nil
}

// GetPlatformEndpoint returns the endpoint a platform registered for a module
// interface.
func (s *Service) GetPlatformEndpoint(ctx context.Context, platformID string, module ocpi.ModuleID, iface ocpi.InterfaceRole) (platform.Endpoint, error) {
	e, err := s.endpoints.GetEndpoint(ctx, platformID, module, iface)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return platform.Endpoint{}, svcerrors.NotFound(fmt.Sprintf("Receiver has no %s %s endpoint", module, strings.ToLower(string(iface))))
		}
		return platform.Endpoint{}, svcerrors.Internal("lookup endpoint", err)
	}
	return e, nil
}

// =============================================================================
// Request preparation
// =============================================================================

// PrepareLocalPlatformRequest resolves the URL and headers for a request to a
// platform connected to this node. When proxied is set the URL comes from the
// proxy resource named by vars.ProxyUID. A resource carried in a peer envelope
// (vars.ProxyResource) is used when it addresses a host the receiver platform
// registered an endpoint on.
func (s *Service) PrepareLocalPlatformRequest(ctx context.Context, vars ocpi.RequestVariables, proxied bool) (string, http.Header, error) {
	if err := vars.Validate(); err != nil {
		return "", nil, svcerrors.Validation(err.Error())
	}

	platformID, err := s.GetPlatformID(ctx, vars.Headers.Receiver)
	if err != nil {
		return "", nil, err
	}

	var url string
	switch {
	case vars.ProxyResource != "":
		if err := s.checkPlatformResource(ctx, platformID, vars.ProxyResource); err != nil {
			return "", nil, err
		}
		url = vars.ProxyResource
	case proxied:
		url, err = s.GetProxyResource(ctx, vars.ProxyUID, vars.Headers.Sender, vars.Headers.Receiver)
		if err != nil {
			return "", nil, err
		}
	default:
		endpoint, err := s.GetPlatformEndpoint(ctx, platformID, vars.Module, vars.InterfaceRole)
		if err != nil {
			return "", nil, err
		}
		url = joinURL(endpoint.URL, vars.URLPathVariables, vars.URLEncodedParameters)
	}

	p, err := s.platforms.GetPlatform(ctx, platformID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, svcerrors.NotFound("Receiver platform not found")
		}
		return "", nil, svcerrors.Internal("lookup platform", err)
	}
	if !p.Connected() || p.Auth.TokenB == "" {
		return "", nil, svcerrors.NotFound("Receiver platform is not connected")
	}

	headers := http.Header{}
	ocpi.SetHeader(headers, ocpi.HeaderAuthorization, "Token "+p.Auth.TokenB)
	ocpi.SetHeader(headers, ocpi.HeaderRequestID, s.freshRequestID(vars.Headers.RequestID))
	if vars.Headers.CorrelationID != "" {
		ocpi.SetHeader(headers, ocpi.HeaderCorrelationID, vars.Headers.CorrelationID)
	}
	setRoleHeaders(headers, vars.Headers.Sender, vars.Headers.Receiver)
	if len(vars.Body) > 0 {
		ocpi.SetHeader(headers, ocpi.HeaderContentType, "application/json")
	}
	return url, headers, nil
}

// checkPlatformResource rejects a resource outside the hosts of the
// platform's registered endpoints. The platform's tokenB is sent to it.
func (s *Service) checkPlatformResource(ctx context.Context, platformID, resource string) error {
	target, err := neturl.Parse(resource)
	if err != nil || target.Host == "" {
		return svcerrors.Validation("Invalid proxy resource")
	}
	endpoints, err := s.endpoints.ListEndpointsByPlatform(ctx, platformID)
	if err != nil {
		return svcerrors.Internal("list endpoints", err)
	}
	for _, e := range endpoints {
		u, err := neturl.Parse(e.URL)
		if err != nil {
			continue
		}
		if strings.EqualFold(u.Scheme, target.Scheme) && strings.EqualFold(u.Host, target.Host) {
			return nil
		}
	}
	return svcerrors.Validation("Proxy resource does not address the receiver platform")
}

// PrepareRemotePlatformRequest builds the signed envelope for a receiver
// served by a peer node. The returned bytes are the exact bytes that were
// signed and must be transmitted unchanged.
func (s *Service) PrepareRemotePlatformRequest(ctx context.Context, vars ocpi.RequestVariables, proxied bool) (string, http.Header, []byte, error) {
	if err := vars.Validate(); err != nil {
		return "", nil, nil, svcerrors.Validation(err.Error())
	}
	if s.signer == nil {
		return "", nil, nil, svcerrors.Internal("node signer not configured", nil)
	}

	peerURL, err := s.GetRemoteClientURL(ctx, vars.Headers.Receiver)
	if err != nil {
		return "", nil, nil, err
	}
	if peerURL == "" {
		return "", nil, nil, svcerrors.UnknownReceiver(vars.Headers.Receiver)
	}

	requestID := s.freshRequestID(vars.Headers.RequestID)
	envelope := ocpi.MessageRequestBody{
		Method:        vars.Method,
		Module:        vars.Module,
		InterfaceRole: vars.InterfaceRole,
		Headers: ocpi.MessageHeaders{
			RequestID:     requestID,
			CorrelationID: vars.Headers.CorrelationID,
			Sender:        vars.Headers.Sender,
			Receiver:      vars.Headers.Receiver,
		},
		URLPathVariables:     vars.URLPathVariables,
		URLEncodedParameters: vars.URLEncodedParameters,
		Body:                 vars.Body,
		ExpectedResponseType: vars.ExpectedResponseType,
	}
	if proxied {
		resource, err := s.GetProxyResource(ctx, vars.ProxyUID, vars.Headers.Sender, vars.Headers.Receiver)
		if err != nil {
			return "", nil, nil, err
		}
		envelope.ProxyResource = resource
		envelope.URLPathVariables = ""
		envelope.URLEncodedParameters = nil
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", nil, nil, svcerrors.Validation(fmt.Sprintf("Request body is not valid JSON: %v", err))
	}

	headers := http.Header{}
	ocpi.SetHeader(headers, ocpi.HeaderRequestID, requestID)
	ocpi.SetHeader(headers, ocpi.HeaderSignature, s.signer.Sign(payload))
	ocpi.SetHeader(headers, ocpi.HeaderContentType, "application/json")
	return peerURL, headers, payload, nil
}

// freshRequestID issues a per-hop request id distinct from the inbound one.
func (s *Service) freshRequestID(inbound string) string {
	id := s.newRequestID()
	for id == inbound {
		id = s.newRequestID()
	}
	return id
}

func setRoleHeaders(h http.Header, sender, receiver ocpi.BasicRole) {
	ocpi.SetHeader(h, ocpi.HeaderFromCountryCode, sender.CountryCode)
	ocpi.SetHeader(h, ocpi.HeaderFromPartyID, sender.PartyID)
	ocpi.SetHeader(h, ocpi.HeaderToCountryCode, receiver.CountryCode)
	ocpi.SetHeader(h, ocpi.HeaderToPartyID, receiver.PartyID)
}

// joinURL appends path variables and query parameters to an endpoint URL.
func joinURL(base, pathVariables string, params *ocpi.RequestParameters) string {
	url := strings.TrimSuffix(base, "/")
	if p := strings.Trim(pathVariables, "/"); p != "" {
		url += "/" + p
	}
	if query := params.Encode(); query != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + query
	}
	return url
}

// =============================================================================
// Response rewriting
// =============================================================================

// ProxyPaginationHeaders hides the downstream Link header behind a proxy
// resource and points it at this node's page route for the module. X-Limit
// and X-Total-Count are passed through. Without a Link header the result is
// empty. When replace is set, earlier pagination proxies of the same
// sender, receiver and module are removed first.
//
// Call only after a successful downstream response.
func (s *Service) ProxyPaginationHeaders(ctx context.Context, vars ocpi.RequestVariables, responseHeaders http.Header, replace bool) (http.Header, error) {
	out := http.Header{}

	target := parseLinkTarget(headerValue(responseHeaders, ocpi.HeaderLink))
	if target == "" {
		return out, nil
	}

	sender, receiver := vars.Headers.Sender, vars.Headers.Receiver
	if replace {
		if _, err := s.proxies.DeleteProxyResourcesByRoles(ctx, sender, receiver, vars.Module); err != nil {
			return nil, svcerrors.Internal("replace pagination proxies", err)
		}
	}

	id, err := s.setProxyResource(ctx, proxy.Resource{
		Sender:   sender,
		Receiver: receiver,
		Module:   vars.Module,
		Resource: target,
	})
	if err != nil {
		return nil, err
	}

	ocpi.SetHeader(out, ocpi.HeaderLink, fmt.Sprintf(`%s/ocpi/sender/2.2/%s/page/%s; rel="next"`, s.nodeURL, vars.Module, id))
	for _, key := range []string{ocpi.HeaderLimit, ocpi.HeaderTotalCount} {
		if v := headerValue(responseHeaders, key); v != "" {
			ocpi.SetHeader(out, key, v)
		}
	}
	return out, nil
}

// ProxyLocationHeader hides the downstream Location of a created resource and
// points it at this node's receiver route for the module. Returns "" when the
// response carries no Location.
func (s *Service) ProxyLocationHeader(ctx context.Context, vars ocpi.RequestVariables, responseHeaders http.Header) (string, error) {
	location := strings.TrimSpace(headerValue(responseHeaders, ocpi.HeaderLocation))
	if location == "" {
		return "", nil
	}
	id, err := s.setProxyResource(ctx, proxy.Resource{
		Sender:   vars.Headers.Sender,
		Receiver: vars.Headers.Receiver,
		Module:   vars.Module,
		Resource: location,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/ocpi/receiver/2.2/%s/%s", s.nodeURL, vars.Module, id), nil
}

// parseLinkTarget extracts the URL from a Link value such as
// `<https://host/x?offset=25>; rel="next"`.
func parseLinkTarget(link string) string {
	link = strings.TrimSpace(link)
	if i := strings.Index(link, ";"); i >= 0 {
		link = link[:i]
	}
	link = strings.TrimSpace(link)
	link = strings.TrimPrefix(link, "<")
	link = strings.TrimSuffix(link, ">")
	return strings.TrimSpace(link)
}

// headerValue reads a header whether or not its key was canonicalized.
func headerValue(h http.Header, key string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	for k, values := range h {
		if strings.EqualFold(k, key) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// =============================================================================
// Proxy resources
// =============================================================================

// SetProxyResource stores url for the sender/receiver pair and returns the new
// proxy id.
func (s *Service) SetProxyResource(ctx context.Context, url string, sender, receiver ocpi.BasicRole) (string, error) {
	return s.setProxyResource(ctx, proxy.Resource{Sender: sender, Receiver: receiver, Resource: url})
}

func (s *Service) setProxyResource(ctx context.Context, r proxy.Resource) (string, error) {
	r.Sender = r.Sender.Normalize()
	r.Receiver = r.Receiver.Normalize()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	created, err := s.proxies.CreateProxyResource(ctx, r)
	if err != nil {
		return "", svcerrors.Internal("store proxy resource", err)
	}
	s.log.WithContext(ctx).
		WithField("proxy_id", created.ID).
		WithField("module", r.Module).
		Debug("proxy resource created")
	return created.ID, nil
}

// GetProxyResource returns the URL stored under id for exactly this
// sender/receiver pair.
func (s *Service) GetProxyResource(ctx context.Context, id string, sender, receiver ocpi.BasicRole) (string, error) {
	r, err := s.LookupProxyResource(ctx, id, sender, receiver)
	if err != nil {
		return "", err
	}
	return r.Resource, nil
}

// LookupProxyResource returns the full proxy record.
func (s *Service) LookupProxyResource(ctx context.Context, id string, sender, receiver ocpi.BasicRole) (proxy.Resource, error) {
	if strings.TrimSpace(id) == "" {
		return proxy.Resource{}, svcerrors.NotFound("Proxy resource not found")
	}
	r, err := s.proxies.GetProxyResource(ctx, id, sender, receiver)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return proxy.Resource{}, svcerrors.NotFound("Proxy resource not found")
		}
		return proxy.Resource{}, svcerrors.Internal("lookup proxy resource", err)
	}
	return r, nil
}

// DeleteProxyResource removes a consumed proxy. Deleting a missing id is not
// an error.
func (s *Service) DeleteProxyResource(ctx context.Context, id string) error {
	if err := s.proxies.DeleteProxyResource(ctx, id); err != nil {
		return svcerrors.Internal("delete proxy resource", err)
	}
	return nil
}

// =============================================================================
// Hub client info
// =============================================================================

// LocalClientInfo lists every role of every local platform with the status of
// its platform.
func (s *Service) LocalClientInfo(ctx context.Context) ([]ocpi.ClientInfo, error) {
	platforms, err := s.platforms.ListPlatforms(ctx)
	if err != nil {
		return nil, svcerrors.Internal("list platforms", err)
	}

	infos := make([]ocpi.ClientInfo, 0, len(platforms))
	for _, p := range platforms {
		roles, err := s.roles.ListRolesByPlatform(ctx, p.ID)
		if err != nil {
			return nil, svcerrors.Internal("list roles", err)
		}
		for _, r := range roles {
			infos = append(infos, ocpi.ClientInfo{
				PartyID:     r.PartyID,
				CountryCode: r.CountryCode,
				Role:        r.Role,
				Status:      p.Status,
				LastUpdated: p.LastUpdated,
			})
		}
	}
	return infos, nil
}
