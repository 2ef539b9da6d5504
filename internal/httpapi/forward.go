package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	svcerrors "github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/httputil"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/routing"
	"github.com/R3E-Network/ocn-node/internal/transport"
)

// forward returns the handler for one route: authenticate the sender,
// classify the receiver, dispatch locally or to the peer node and rewrite the
// response for the route's kind.
func (h *handler) forward(rt route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		headers := readRequestHeaders(r)
		echoRequestHeaders(w, headers.RequestID, headers.CorrelationID)

		if err := h.authenticate(ctx, headers); err != nil {
			httputil.WriteError(w, err)
			return
		}

		vars, err := buildVariables(r, rt, headers)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		receiver, err := h.routing.ValidateReceiver(ctx, vars.Headers.Receiver)
		if err != nil {
			h.recordForward(rt.module, "", err, 0, start)
			h.writeError(w, r, err)
			return
		}

		var resp *transport.Response
		if receiver == routing.Local {
			resp, err = h.dispatchLocal(ctx, vars, rt.kind.proxied())
		} else {
			resp, err = h.dispatchRemote(ctx, vars, rt.kind.proxied())
		}
		if err != nil {
			h.recordForward(rt.module, receiver, err, 0, start)
			h.writeError(w, r, err)
			return
		}
		h.recordForward(rt.module, receiver, nil, resp.StatusCode, start)

		rewritten, err := h.rewriteResponse(ctx, rt, vars, resp)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		for key, values := range rewritten {
			w.Header()[key] = values
		}
		writeDownstream(w, resp)
	}
}

// authenticate checks the token and, when the request names one, that the
// sender role belongs to the caller.
func (h *handler) authenticate(ctx context.Context, headers ocpi.RequestHeaders) error {
	if headers.Sender.IsZero() {
		if _, err := h.routing.ValidateSender(ctx, headers.Authorization, nil); err != nil {
			return err
		}
		return svcerrors.Validation("OCPI-from-country-code and OCPI-from-party-id headers are required")
	}
	sender := headers.Sender
	_, err := h.routing.ValidateSender(ctx, headers.Authorization, &sender)
	return err
}

func readRequestHeaders(r *http.Request) ocpi.RequestHeaders {
	return ocpi.RequestHeaders{
		Authorization: r.Header.Get(ocpi.HeaderAuthorization),
		RequestID:     r.Header.Get(ocpi.HeaderRequestID),
		CorrelationID: r.Header.Get(ocpi.HeaderCorrelationID),
		Sender: ocpi.BasicRole{
			CountryCode: r.Header.Get(ocpi.HeaderFromCountryCode),
			PartyID:     r.Header.Get(ocpi.HeaderFromPartyID),
		},
		Receiver: ocpi.BasicRole{
			CountryCode: r.Header.Get(ocpi.HeaderToCountryCode),
			PartyID:     r.Header.Get(ocpi.HeaderToPartyID),
		},
	}
}

// buildVariables turns the inbound request into a routing descriptor.
func buildVariables(r *http.Request, rt route, headers ocpi.RequestHeaders) (ocpi.RequestVariables, error) {
	pathVars := mux.Vars(r)
	vars := ocpi.RequestVariables{
		Module:               rt.module,
		InterfaceRole:        rt.iface,
		Method:               rt.method,
		Headers:              headers,
		ExpectedResponseType: rt.response,
	}

	if rt.kind.proxied() {
		vars.ProxyUID = pathVars["uid"]
	} else {
		vars.URLPathVariables = rt.downstreamPath(pathVars)
		params, err := ocpi.ParseRequestParameters(r.URL.Query())
		if err != nil {
			return vars, svcerrors.Validation(err.Error())
		}
		vars.URLEncodedParameters = params
	}

	switch rt.method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, err := httputil.ReadBody(r)
		if err != nil {
			return vars, svcerrors.Validation("Unable to read request body")
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if !gjson.ValidBytes(body) {
				return vars, svcerrors.Validation("Request body is not valid JSON")
			}
			vars.Body = body
		}
	}

	if err := vars.Validate(); err != nil {
		return vars, svcerrors.Validation(err.Error())
	}
	return vars, nil
}

// dispatchLocal sends vars to a platform connected to this node. Command
// requests get their response_url rewritten first so the result comes back
// through this node.
func (h *handler) dispatchLocal(ctx context.Context, vars ocpi.RequestVariables, proxied bool) (*transport.Response, error) {
	if isCommandRequest(vars) {
		body, err := h.routing.RewriteCommandResponseURL(ctx, vars, strings.Trim(vars.URLPathVariables, "/"))
		if err != nil {
			return nil, err
		}
		vars.Body = body
	}

	url, headers, err := h.routing.PrepareLocalPlatformRequest(ctx, vars, proxied)
	if err != nil {
		return nil, err
	}
	resp, err := h.transport.Send(ctx, vars.Method, url, headers, vars.Body)
	if err != nil {
		return nil, svcerrors.Upstream(err)
	}
	return resp, nil
}

func (h *handler) dispatchRemote(ctx context.Context, vars ocpi.RequestVariables, proxied bool) (*transport.Response, error) {
	peerURL, headers, envelope, err := h.routing.PrepareRemotePlatformRequest(ctx, vars, proxied)
	if err != nil {
		return nil, err
	}
	resp, err := h.transport.PostEnvelope(ctx, peerURL, headers, envelope)
	if err != nil {
		return nil, svcerrors.Upstream(err)
	}
	return resp, nil
}

func isCommandRequest(vars ocpi.RequestVariables) bool {
	return vars.Module == ocpi.ModuleCommands &&
		vars.InterfaceRole == ocpi.InterfaceReceiver &&
		vars.Method == http.MethodPost
}

// rewriteResponse returns the headers added to the downstream response.
func (h *handler) rewriteResponse(ctx context.Context, rt route, vars ocpi.RequestVariables, resp *transport.Response) (http.Header, error) {
	switch rt.kind {
	case kindList:
		if !resp.Successful() {
			return nil, nil
		}
		return h.routing.ProxyPaginationHeaders(ctx, vars, resp.Headers, true)

	case kindPage:
		if !transport.IsOcpiSuccess(resp.Body) {
			return nil, nil
		}
		// The page stays retrievable until its successor exists.
		headers, err := h.routing.ProxyPaginationHeaders(ctx, vars, resp.Headers, false)
		if err != nil {
			return nil, err
		}
		if err := h.routing.DeleteProxyResource(ctx, vars.ProxyUID); err != nil {
			return nil, err
		}
		return headers, nil

	case kindLocation:
		if !resp.Successful() {
			return nil, nil
		}
		location, err := h.routing.ProxyLocationHeader(ctx, vars, resp.Headers)
		if err != nil || location == "" {
			return nil, err
		}
		out := http.Header{}
		ocpi.SetHeader(out, ocpi.HeaderLocation, location)
		return out, nil

	case kindResult:
		if transport.IsOcpiSuccess(resp.Body) {
			if err := h.routing.DeleteProxyResource(ctx, vars.ProxyUID); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

// writeDownstream passes the downstream status and body through.
func writeDownstream(w http.ResponseWriter, resp *transport.Response) {
	contentType := resp.Headers.Get(ocpi.HeaderContentType)
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set(ocpi.HeaderContentType, contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

func (h *handler) recordForward(module ocpi.ModuleID, receiver routing.Receiver, err error, status int, start time.Time) {
	if err != nil {
		status = http.StatusInternalServerError
		if se := svcerrors.GetServiceError(err); se != nil {
			status = se.HTTPStatus
		}
	}
	label := string(receiver)
	if label == "" {
		label = "UNKNOWN"
	}
	h.metrics.RecordForward(string(module), label, strconv.Itoa(status), time.Since(start))
}
