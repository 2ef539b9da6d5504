package ocpi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Header names. OCPI headers are written with their exact casing, so callers
// must use SetHeader instead of http.Header.Set when building outbound
// requests.
const (
	HeaderAuthorization   = "Authorization"
	HeaderRequestID       = "X-Request-ID"
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderFromCountryCode = "OCPI-from-country-code"
	HeaderFromPartyID     = "OCPI-from-party-id"
	HeaderToCountryCode   = "OCPI-to-country-code"
	HeaderToPartyID       = "OCPI-to-party-id"
	HeaderLink            = "Link"
	HeaderLimit           = "X-Limit"
	HeaderTotalCount      = "X-Total-Count"
	HeaderLocation        = "Location"
	HeaderSignature       = "OCN-Signature"
	HeaderContentType     = "Content-Type"
)

// SetHeader stores value under key without canonicalizing the key.
func SetHeader(h http.Header, key, value string) {
	h[key] = []string{value}
}

// RequestHeaders are the routing-relevant headers of an inbound request.
type RequestHeaders struct {
	Authorization string
	RequestID     string
	CorrelationID string
	Sender        BasicRole
	Receiver      BasicRole
}

// RequestParameters are the query parameters forwarded on list requests.
type RequestParameters struct {
	DateFrom string    `json:"date_from,omitempty"`
	DateTo   string    `json:"date_to,omitempty"`
	Offset   *int      `json:"offset,omitempty"`
	Limit    *int      `json:"limit,omitempty"`
	Type     TokenType `json:"type,omitempty"`
}

// IsEmpty reports whether no parameter is set.
func (p *RequestParameters) IsEmpty() bool {
	return p == nil || (p.DateFrom == "" && p.DateTo == "" && p.Offset == nil && p.Limit == nil && p.Type == "")
}

// Encode returns the parameters as a query string without the leading "?".
// Keys are always emitted in the order date_from, date_to, offset, limit, type.
func (p *RequestParameters) Encode() string {
	if p.IsEmpty() {
		return ""
	}
	var parts []string
	add := func(key, value string) {
		parts = append(parts, key+"="+url.QueryEscape(value))
	}
	if p.DateFrom != "" {
		add("date_from", p.DateFrom)
	}
	if p.DateTo != "" {
		add("date_to", p.DateTo)
	}
	if p.Offset != nil {
		add("offset", strconv.Itoa(*p.Offset))
	}
	if p.Limit != nil {
		add("limit", strconv.Itoa(*p.Limit))
	}
	if p.Type != "" {
		add("type", string(p.Type))
	}
	return strings.Join(parts, "&")
}

// ParseRequestParameters reads the forwarded query parameters from q.
// It returns nil when none are present.
func ParseRequestParameters(q url.Values) (*RequestParameters, error) {
	p := &RequestParameters{
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
		Type:     TokenType(q.Get("type")),
	}
	for _, f := range []struct {
		key string
		dst **int
	}{{"offset", &p.Offset}, {"limit", &p.Limit}} {
		raw := q.Get(f.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s: %q", f.key, raw)
		}
		*f.dst = &n
	}
	if p.Type != "" && !p.Type.Valid() {
		return nil, fmt.Errorf("invalid type: %q", p.Type)
	}
	if p.IsEmpty() {
		return nil, nil
	}
	return p, nil
}

// RequestVariables describe one routed request, independent of whether the
// receiver is local or remote.
type RequestVariables struct {
	Module               ModuleID
	InterfaceRole        InterfaceRole
	Method               string
	Headers              RequestHeaders
	URLPathVariables     string
	URLEncodedParameters *RequestParameters
	Body                 json.RawMessage
	// ProxyUID is the locally minted proxy id for proxied requests.
	ProxyUID string
	// ProxyResource is the resolved downstream URL carried by a peer envelope.
	ProxyResource        string
	ExpectedResponseType ResponseType
}

// Validate checks the descriptor is complete enough to route.
func (v RequestVariables) Validate() error {
	switch {
	case !v.Module.Valid():
		return fmt.Errorf("unknown module %q", v.Module)
	case !v.InterfaceRole.Valid():
		return fmt.Errorf("unknown interface role %q", v.InterfaceRole)
	case v.Method == "":
		return fmt.Errorf("method is required")
	case v.Headers.Sender.IsZero():
		return fmt.Errorf("sender is required")
	case v.Headers.Receiver.IsZero():
		return fmt.Errorf("receiver is required")
	}
	return nil
}

// =============================================================================
// Peer envelope
// =============================================================================

// MessageHeaders is the headers sub-object of a peer envelope.
type MessageHeaders struct {
	RequestID     string    `json:"requestID"`
	CorrelationID string    `json:"correlationID"`
	Sender        BasicRole `json:"sender"`
	Receiver      BasicRole `json:"receiver"`
}

// MessageRequestBody is the signed envelope posted to a peer node's
// /ocn/message endpoint. Field order is fixed so that marshalling is
// deterministic.
type MessageRequestBody struct {
	Method               string             `json:"method"`
	Module               ModuleID           `json:"module"`
	InterfaceRole        InterfaceRole      `json:"interfaceRole"`
	Headers              MessageHeaders     `json:"headers"`
	URLPathVariables     string             `json:"urlPathVariables,omitempty"`
	URLEncodedParameters *RequestParameters `json:"urlEncodedParameters,omitempty"`
	Body                 json.RawMessage    `json:"body,omitempty"`
	ProxyResource        string             `json:"proxyResource,omitempty"`
	ExpectedResponseType ResponseType       `json:"expectedResponseType"`
}

// Variables converts a received envelope back into a request descriptor.
func (m MessageRequestBody) Variables() RequestVariables {
	return RequestVariables{
		Module:        m.Module,
		InterfaceRole: m.InterfaceRole,
		Method:        m.Method,
		Headers: RequestHeaders{
			RequestID:     m.Headers.RequestID,
			CorrelationID: m.Headers.CorrelationID,
			Sender:        m.Headers.Sender,
			Receiver:      m.Headers.Receiver,
		},
		URLPathVariables:     m.URLPathVariables,
		URLEncodedParameters: m.URLEncodedParameters,
		Body:                 m.Body,
		ProxyResource:        m.ProxyResource,
		ExpectedResponseType: m.ExpectedResponseType,
	}
}
