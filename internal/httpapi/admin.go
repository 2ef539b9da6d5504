package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/ocn-node/internal/domain/platform"
	svcerrors "github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/httputil"
	"github.com/R3E-Network/ocn-node/internal/middleware"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/storage"
)

type rolePayload struct {
	Role            ocpi.Role            `json:"role"`
	BusinessDetails ocpi.BusinessDetails `json:"business_details"`
	PartyID         string               `json:"party_id"`
	CountryCode     string               `json:"country_code"`
}

type endpointPayload struct {
	Identifier ocpi.ModuleID      `json:"identifier"`
	Role       ocpi.InterfaceRole `json:"role"`
	URL        string             `json:"url"`
}

type platformView struct {
	ID          string                `json:"id"`
	Status      ocpi.ConnectionStatus `json:"status"`
	LastUpdated time.Time             `json:"last_updated"`
	VersionsURL string                `json:"versions_url,omitempty"`
	Roles       []rolePayload         `json:"roles"`
	Endpoints   []endpointPayload     `json:"endpoints"`
}

// createPlatform registers a PLANNED platform and hands out its registration
// token.
func (h *handler) createPlatform(w http.ResponseWriter, r *http.Request) {
	p, err := h.stores.Platforms.CreatePlatform(r.Context(), platform.Platform{
		Status:      ocpi.StatusPlanned,
		LastUpdated: h.now().UTC(),
		Auth:        platform.Auth{TokenA: uuid.NewString()},
	})
	if err != nil {
		h.writeError(w, r, storeError(err, "create platform"))
		return
	}

	h.log.WithContext(r.Context()).
		WithField("platform_id", p.ID).
		WithField("operator", middleware.GetOperator(r.Context())).
		Info("platform registered")

	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":           p.ID,
		"token_a":      p.Auth.TokenA,
		"versions_url": h.routing.NodeURL() + "/ocpi/versions",
	})
}

func (h *handler) listPlatforms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	platforms, err := h.stores.Platforms.ListPlatforms(ctx)
	if err != nil {
		h.writeError(w, r, storeError(err, "list platforms"))
		return
	}

	views := make([]platformView, 0, len(platforms))
	for _, p := range platforms {
		view, err := h.platformView(ctx, p)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		views = append(views, view)
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

// platformView never carries tokens.
func (h *handler) platformView(ctx context.Context, p platform.Platform) (platformView, error) {
	roles, err := h.stores.Roles.ListRolesByPlatform(ctx, p.ID)
	if err != nil {
		return platformView{}, storeError(err, "list roles")
	}
	endpoints, err := h.stores.Endpoints.ListEndpointsByPlatform(ctx, p.ID)
	if err != nil {
		return platformView{}, storeError(err, "list endpoints")
	}

	view := platformView{
		ID:          p.ID,
		Status:      p.Status,
		LastUpdated: p.LastUpdated,
		VersionsURL: p.VersionsURL,
		Roles:       make([]rolePayload, 0, len(roles)),
		Endpoints:   make([]endpointPayload, 0, len(endpoints)),
	}
	for _, role := range roles {
		view.Roles = append(view.Roles, rolePayload{
			Role:            role.Role,
			BusinessDetails: role.BusinessDetails,
			PartyID:         role.PartyID,
			CountryCode:     role.CountryCode,
		})
	}
	for _, e := range endpoints {
		view.Endpoints = append(view.Endpoints, endpointPayload{Identifier: e.Identifier, Role: e.Role, URL: e.URL})
	}
	return view, nil
}

type connectionRequest struct {
	TokenB      string            `json:"token_b"`
	VersionsURL string            `json:"versions_url"`
	Roles       []rolePayload     `json:"roles"`
	Endpoints   []endpointPayload `json:"endpoints"`
}

func (req connectionRequest) validate() error {
	if strings.TrimSpace(req.TokenB) == "" {
		return fmt.Errorf("token_b is required")
	}
	if len(req.Roles) == 0 {
		return fmt.Errorf("at least one role is required")
	}
	roles := make(map[ocpi.BasicRole]struct{}, len(req.Roles))
	for _, role := range req.Roles {
		if !role.Role.Valid() {
			return fmt.Errorf("invalid role %q", role.Role)
		}
		basic := ocpi.BasicRole{PartyID: role.PartyID, CountryCode: role.CountryCode}
		if basic.IsZero() {
			return fmt.Errorf("party_id and country_code are required")
		}
		if _, dup := roles[basic.Normalize()]; dup {
			return fmt.Errorf("role %s/%s is listed twice", role.CountryCode, role.PartyID)
		}
		roles[basic.Normalize()] = struct{}{}
	}
	endpoints := make(map[string]struct{}, len(req.Endpoints))
	for _, e := range req.Endpoints {
		if !e.Identifier.Valid() || !e.Role.Valid() {
			return fmt.Errorf("invalid endpoint %s/%s", e.Identifier, e.Role)
		}
		key := string(e.Identifier) + "/" + string(e.Role)
		if _, dup := endpoints[key]; dup {
			return fmt.Errorf("endpoint %s is listed twice", key)
		}
		endpoints[key] = struct{}{}
		u, err := url.Parse(e.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("endpoint url %q must be absolute", e.URL)
		}
	}
	return nil
}

// connectPlatform completes the connection of a registered platform: it
// stores the platform's token and its roles and endpoints, issues the token
// the platform uses to call this node and marks it CONNECTED. Connecting an
// already connected platform replaces its token and endpoint URLs.
func (h *handler) connectPlatform(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req connectionRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, svcerrors.Validation("Invalid JSON"))
		return
	}
	if err := req.validate(); err != nil {
		httputil.WriteError(w, svcerrors.Validation(err.Error()))
		return
	}

	p, err := h.stores.Platforms.GetPlatform(ctx, id)
	if err != nil {
		h.writeError(w, r, storeError(err, "get platform"))
		return
	}

	// Reject roles played by another platform before writing anything.
	for _, role := range req.Roles {
		existing, err := h.stores.Roles.GetRole(ctx, ocpi.BasicRole{PartyID: role.PartyID, CountryCode: role.CountryCode})
		switch {
		case err == nil && existing.PlatformID != p.ID:
			httputil.WriteError(w, svcerrors.Conflict(fmt.Sprintf("Role %s/%s is already registered", role.CountryCode, role.PartyID)))
			return
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			h.writeError(w, r, storeError(err, "get role"))
			return
		}
	}

	for _, role := range req.Roles {
		basic := ocpi.BasicRole{PartyID: role.PartyID, CountryCode: role.CountryCode}.Normalize()
		owned, err := h.stores.Roles.ExistsRoleForPlatform(ctx, basic, p.ID)
		if err != nil {
			h.writeError(w, r, storeError(err, "check role"))
			return
		}
		if owned {
			continue
		}
		if _, err := h.stores.Roles.CreateRole(ctx, platform.Role{
			PlatformID:      p.ID,
			Role:            role.Role,
			BusinessDetails: role.BusinessDetails,
			PartyID:         basic.PartyID,
			CountryCode:     basic.CountryCode,
		}); err != nil {
			h.writeError(w, r, storeError(err, "create role"))
			return
		}
	}

	for _, e := range req.Endpoints {
		if _, err := h.stores.Endpoints.SaveEndpoint(ctx, platform.Endpoint{
			PlatformID: p.ID,
			Identifier: e.Identifier,
			Role:       e.Role,
			URL:        e.URL,
		}); err != nil {
			h.writeError(w, r, storeError(err, "save endpoint"))
			return
		}
	}

	p.Auth.TokenB = req.TokenB
	p.Auth.TokenC = uuid.NewString()
	p.VersionsURL = req.VersionsURL
	p.Status = ocpi.StatusConnected
	if _, err := h.stores.Platforms.UpdatePlatform(ctx, p); err != nil {
		h.writeError(w, r, storeError(err, "update platform"))
		return
	}

	h.log.WithContext(ctx).
		WithField("platform_id", p.ID).
		WithField("roles", len(req.Roles)).
		WithField("endpoints", len(req.Endpoints)).
		Info("platform connected")

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token_c": p.Auth.TokenC})
}

func (h *handler) updatePlatformStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req struct {
		Status ocpi.ConnectionStatus `json:"status"`
	}
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, svcerrors.Validation("Invalid JSON"))
		return
	}
	switch req.Status {
	case ocpi.StatusConnected, ocpi.StatusSuspended, ocpi.StatusOffline:
	default:
		httputil.WriteError(w, svcerrors.Validation(fmt.Sprintf("status must be CONNECTED, SUSPENDED or OFFLINE, got %q", req.Status)))
		return
	}

	p, err := h.stores.Platforms.GetPlatform(ctx, id)
	if err != nil {
		h.writeError(w, r, storeError(err, "get platform"))
		return
	}
	if req.Status == ocpi.StatusConnected && p.Auth.TokenB == "" {
		httputil.WriteError(w, svcerrors.Validation("Platform has not completed its connection"))
		return
	}

	p.Status = req.Status
	updated, err := h.stores.Platforms.UpdatePlatform(ctx, p)
	if err != nil {
		h.writeError(w, r, storeError(err, "update platform"))
		return
	}
	view, err := h.platformView(ctx, updated)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *handler) deletePlatform(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.stores.Platforms.DeletePlatform(r.Context(), id); err != nil {
		h.writeError(w, r, storeError(err, "delete platform"))
		return
	}
	h.log.WithContext(r.Context()).WithField("platform_id", id).Info("platform deleted")
	w.WriteHeader(http.StatusNoContent)
}

// storeError maps storage sentinels onto service errors.
func storeError(err error, op string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound("Platform not found")
	case errors.Is(err, storage.ErrConflict):
		return svcerrors.Conflict("Record already exists")
	default:
		return svcerrors.Internal(op, err)
	}
}
