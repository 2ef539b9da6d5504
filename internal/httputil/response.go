// Package httputil provides the JSON and OCPI response helpers shared by the
// HTTP handlers and middleware.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

// MaxBodyBytes bounds every request body read by ReadJSON.
const MaxBodyBytes = 4 << 20

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteOcpiSuccess writes a 200 OCPI envelope around data.
func WriteOcpiSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, ocpi.NewSuccess(data))
}

// WriteError converts err into an OCPI error envelope. Errors that are not a
// ServiceError are reported as internal errors without their detail.
func WriteError(w http.ResponseWriter, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("Internal server error", err)
	}
	WriteJSON(w, se.HTTPStatus, ocpi.NewError(se.OcpiStatus, se.Message))
}

// ReadJSON decodes the request body into v.
func ReadJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	return json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes)).Decode(v)
}

// ReadBody returns the raw request body.
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
}
