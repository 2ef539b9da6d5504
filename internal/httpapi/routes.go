package httpapi

import (
	"net/http"
	"strings"

	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

// kind selects how a forwarded response is rewritten.
type kind int

const (
	// kindPlain passes the downstream response through.
	kindPlain kind = iota
	// kindList hides the downstream Link header behind a new page proxy.
	kindList
	// kindPage resolves a page proxy and, on success, replaces it with the next one.
	kindPage
	// kindLocation hides the downstream Location header behind a proxy.
	kindLocation
	// kindResource resolves a proxy without consuming it.
	kindResource
	// kindCommand rewrites the command response_url before dispatch.
	kindCommand
	// kindResult resolves a command response proxy and consumes it on success.
	kindResult
)

func (k kind) proxied() bool {
	return k == kindPage || k == kindResource || k == kindResult
}

func (k kind) String() string {
	switch k {
	case kindList:
		return "list"
	case kindPage:
		return "page"
	case kindLocation:
		return "location"
	case kindResource:
		return "resource"
	case kindCommand:
		return "command"
	case kindResult:
		return "result"
	default:
		return "plain"
	}
}

// route is one forwarded OCPI operation.
type route struct {
	module   ocpi.ModuleID
	iface    ocpi.InterfaceRole
	method   string
	path     string
	kind     kind
	response ocpi.ResponseType
	// pathVars names the mux variables joined into the downstream path, in order.
	pathVars []string
	// suffix is appended to the downstream path after pathVars.
	suffix string
}

// downstreamPath builds the path appended to the receiver's endpoint URL.
func (rt route) downstreamPath(vars map[string]string) string {
	parts := make([]string, 0, len(rt.pathVars)+1)
	for _, name := range rt.pathVars {
		parts = append(parts, vars[name])
	}
	if rt.suffix != "" {
		parts = append(parts, rt.suffix)
	}
	return strings.Join(parts, "/")
}

const (
	senderPrefix   = "/ocpi/sender/2.2"
	receiverPrefix = "/ocpi/receiver/2.2"
)

var clientOwned = []string{"country_code", "party_id"}

func clientOwnedVars(id string) []string {
	return append(append([]string{}, clientOwned...), id)
}

// ocpiRoutes lists every forwarded operation.
var ocpiRoutes = []route{
	// tokens
	{module: ocpi.ModuleTokens, iface: ocpi.InterfaceSender, method: http.MethodGet, path: senderPrefix + "/tokens", kind: kindList, response: ocpi.ResponseTokenArray},
	{module: ocpi.ModuleTokens, iface: ocpi.InterfaceSender, method: http.MethodGet, path: senderPrefix + "/tokens/page/{uid}", kind: kindPage, response: ocpi.ResponseTokenArray},
	{module: ocpi.ModuleTokens, iface: ocpi.InterfaceSender, method: http.MethodPost, path: senderPrefix + "/tokens/{token_uid}/authorize", kind: kindPlain, response: ocpi.ResponseAuthorizationInfo, pathVars: []string{"token_uid"}, suffix: "authorize"},
	{module: ocpi.ModuleTokens, iface: ocpi.InterfaceReceiver, method: http.MethodGet, path: receiverPrefix + "/tokens/{country_code}/{party_id}/{token_uid}", kind: kindPlain, response: ocpi.ResponseToken, pathVars: clientOwnedVars("token_uid")},
	{module: ocpi.ModuleTokens, iface: ocpi.InterfaceReceiver, method: http.MethodPut, path: receiverPrefix + "/tokens/{country_code}/{party_id}/{token_uid}", kind: kindPlain, response: ocpi.ResponseNothing, pathVars: clientOwnedVars("token_uid")},
	{module: ocpi.ModuleTokens, iface: ocpi.InterfaceReceiver, method: http.MethodPatch, path: receiverPrefix + "/tokens/{country_code}/{party_id}/{token_uid}", kind: kindPlain, response: ocpi.ResponseNothing, pathVars: clientOwnedVars("token_uid")},

	// tariffs
	{module: ocpi.ModuleTariffs, iface: ocpi.InterfaceSender, method: http.MethodGet, path: senderPrefix + "/tariffs", kind: kindList, response: ocpi.ResponseTariffArray},
	{module: ocpi.ModuleTariffs, iface: ocpi.InterfaceSender, method: http.MethodGet, path: senderPrefix + "/tariffs/page/{uid}", kind: kindPage, response: ocpi.ResponseTariffArray},
	{module: ocpi.ModuleTariffs, iface: ocpi.InterfaceReceiver, method: http.MethodGet, path: receiverPrefix + "/tariffs/{country_code}/{party_id}/{tariff_id}", kind: kindPlain, response: ocpi.ResponseTariff, pathVars: clientOwnedVars("tariff_id")},
	{module: ocpi.ModuleTariffs, iface: ocpi.InterfaceReceiver, method: http.MethodPut, path: receiverPrefix + "/tariffs/{country_code}/{party_id}/{tariff_id}", kind: kindPlain, response: ocpi.ResponseNothing, pathVars: clientOwnedVars("tariff_id")},
	{module: ocpi.ModuleTariffs, iface: ocpi.InterfaceReceiver, method: http.MethodDelete, path: receiverPrefix + "/tariffs/{country_code}/{party_id}/{tariff_id}", kind: kindPlain, response: ocpi.ResponseNothing, pathVars: clientOwnedVars("tariff_id")},

	// sessions
	{module: ocpi.ModuleSessions, iface: ocpi.InterfaceSender, method: http.MethodGet, path: senderPrefix + "/sessions", kind: kindList, response: ocpi.ResponseSessionArray},
	{module: ocpi.ModuleSessions, iface: ocpi.InterfaceSender, method: http.MethodGet, path: senderPrefix + "/sessions/page/{uid}", kind: kindPage, response: ocpi.ResponseSessionArray},
	{module: ocpi.ModuleSessions, iface: ocpi.InterfaceSender, method: http.MethodPut, path: senderPrefix + "/sessions/{session_id}/charging_preferences", kind: kindPlain, response: ocpi.ResponseChargingPreference, pathVars: []string{"session_id"}, suffix: "charging_preferences"},
	{module: ocpi.ModuleSessions, iface: ocpi.InterfaceReceiver, method: http.MethodGet, path: receiverPrefix + "/sessions/{country_code}/{party_id}/{session_id}", kind: kindPlain, response: ocpi.ResponseSession, pathVars: clientOwnedVars("session_id")},
	{module: ocpi.ModuleSessions, iface: ocpi.InterfaceReceiver, method: http.MethodPut, path: receiverPrefix + "/sessions/{country_code}/{party_id}/{session_id}", kind: kindPlain, response: ocpi.ResponseNothing, pathVars: clientOwnedVars("session_id")},
	{module: ocpi.ModuleSessions, iface: ocpi.InterfaceReceiver, method: http.MethodPatch, path: receiverPrefix + "/sessions/{country_code}/{party_id}/{session_id}", kind: kindPlain, response: ocpi.ResponseNothing, pathVars: clientOwnedVars("session_id")},

	// cdrs
	{module: ocpi.ModuleCdrs, iface: ocpi.InterfaceSender, method: http.MethodGet, path: senderPrefix + "/cdrs", kind: kindList, response: ocpi.ResponseCdrArray},
	{module: ocpi.ModuleCdrs, iface: ocpi.InterfaceSender, method: http.MethodGet, path: senderPrefix + "/cdrs/page/{uid}", kind: kindPage, response: ocpi.ResponseCdrArray},
	{module: ocpi.ModuleCdrs, iface: ocpi.InterfaceReceiver, method: http.MethodPost, path: receiverPrefix + "/cdrs", kind: kindLocation, response: ocpi.ResponseNothing},
	{module: ocpi.ModuleCdrs, iface: ocpi.InterfaceReceiver, method: http.MethodGet, path: receiverPrefix + "/cdrs/{uid}", kind: kindResource, response: ocpi.ResponseCdr},

	// commands
	{module: ocpi.ModuleCommands, iface: ocpi.InterfaceReceiver, method: http.MethodPost, path: receiverPrefix + "/commands/{command}", kind: kindCommand, response: ocpi.ResponseCommandResponse, pathVars: []string{"command"}},
	{module: ocpi.ModuleCommands, iface: ocpi.InterfaceSender, method: http.MethodPost, path: senderPrefix + "/commands/{command}/{uid}", kind: kindResult, response: ocpi.ResponseNothing},
}
