package httpapi

import (
	"encoding/json"
	"net/http"

	svcerrors "github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/httputil"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

// passthroughHeaders are returned to the originating node unchanged; it
// performs the proxy rewriting for its own caller.
var passthroughHeaders = []string{
	ocpi.HeaderLink,
	ocpi.HeaderLocation,
	ocpi.HeaderLimit,
	ocpi.HeaderTotalCount,
}

// message handles an envelope posted by a peer node. The signature has been
// verified by the peer authentication middleware. The receiver must be
// connected to this node; envelopes are never forwarded a second time.
func (h *handler) message(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.WriteError(w, svcerrors.Validation("Unable to read request body"))
		return
	}
	var envelope ocpi.MessageRequestBody
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.rejectMessage(w, svcerrors.Validation("Malformed envelope"))
		return
	}

	vars := envelope.Variables()
	echoRequestHeaders(w, vars.Headers.RequestID, vars.Headers.CorrelationID)
	if err := vars.Validate(); err != nil {
		h.rejectMessage(w, svcerrors.Validation(err.Error()))
		return
	}

	local, err := h.routing.IsRoleKnown(ctx, vars.Headers.Receiver)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !local {
		h.rejectMessage(w, svcerrors.UnknownReceiver(vars.Headers.Receiver))
		return
	}

	resp, err := h.dispatchLocal(ctx, vars, false)
	if err != nil {
		h.metrics.RecordPeerMessage("dispatch_failed")
		h.writeError(w, r, err)
		return
	}
	h.metrics.RecordPeerMessage("accepted")

	for _, key := range passthroughHeaders {
		if v := resp.Headers.Get(key); v != "" {
			ocpi.SetHeader(w.Header(), key, v)
		}
	}
	writeDownstream(w, resp)
}

func (h *handler) rejectMessage(w http.ResponseWriter, err error) {
	h.metrics.RecordPeerMessage("rejected")
	httputil.WriteError(w, err)
}
