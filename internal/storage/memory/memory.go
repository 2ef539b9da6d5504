package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/R3E-Network/ocn-node/internal/domain/platform"
	"github.com/R3E-Network/ocn-node/internal/domain/proxy"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu        sync.RWMutex
	nextID    int64
	platforms map[string]platform.Platform
	roles     map[string]platform.Role
	endpoints map[string]platform.Endpoint
	proxies   map[string]proxy.Resource
	walletKey string
}

var _ storage.PlatformStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)
var _ storage.EndpointStore = (*Store)(nil)
var _ storage.ProxyResourceStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:    1,
		platforms: make(map[string]platform.Platform),
		roles:     make(map[string]platform.Role),
		endpoints: make(map[string]platform.Endpoint),
		proxies:   make(map[string]proxy.Resource),
	}
}

// Stores returns the store wired into every slot of storage.Stores.
func (s *Store) Stores() storage.Stores {
	return storage.Stores{
		Platforms:      s,
		Roles:          s,
		Endpoints:      s,
		ProxyResources: s,
		Wallet:         s,
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return strconv.FormatInt(id, 10)
}

func roleKey(role ocpi.BasicRole) string {
	n := role.Normalize()
	return n.CountryCode + "/" + n.PartyID
}

func endpointKey(platformID string, module ocpi.ModuleID, iface ocpi.InterfaceRole) string {
	return fmt.Sprintf("%s|%s|%s", platformID, module, iface)
}

// PlatformStore implementation ------------------------------------------------

func (s *Store) CreatePlatform(_ context.Context, p platform.Platform) (platform.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.platforms[p.ID]; exists {
		return platform.Platform{}, fmt.Errorf("platform %s: %w", p.ID, storage.ErrConflict)
	}
	if s.tokenCTakenLocked(p.Auth.TokenC, p.ID) {
		return platform.Platform{}, fmt.Errorf("token C: %w", storage.ErrConflict)
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	s.platforms[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePlatform(_ context.Context, p platform.Platform) (platform.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.platforms[p.ID]; !ok {
		return platform.Platform{}, fmt.Errorf("platform %s: %w", p.ID, storage.ErrNotFound)
	}
	if s.tokenCTakenLocked(p.Auth.TokenC, p.ID) {
		return platform.Platform{}, fmt.Errorf("token C: %w", storage.ErrConflict)
	}
	p.LastUpdated = time.Now().UTC()
	s.platforms[p.ID] = p
	return p, nil
}

func (s *Store) tokenCTakenLocked(tokenC, ownerID string) bool {
	if tokenC == "" {
		return false
	}
	for id, existing := range s.platforms {
		if id != ownerID && existing.Auth.TokenC == tokenC {
			return true
		}
	}
	return false
}

func (s *Store) GetPlatform(_ context.Context, id string) (platform.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.platforms[id]
	if !ok {
		return platform.Platform{}, fmt.Errorf("platform %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetPlatformByTokenC(_ context.Context, tokenC string) (platform.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tokenC != "" {
		for _, p := range s.platforms {
			if p.Auth.TokenC == tokenC {
				return p, nil
			}
		}
	}
	return platform.Platform{}, fmt.Errorf("platform by token: %w", storage.ErrNotFound)
}

func (s *Store) ListPlatforms(_ context.Context) ([]platform.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]platform.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) DeletePlatform(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.platforms[id]; !ok {
		return fmt.Errorf("platform %s: %w", id, storage.ErrNotFound)
	}
	delete(s.platforms, id)
	for key, r := range s.roles {
		if r.PlatformID == id {
			delete(s.roles, key)
		}
	}
	for key, e := range s.endpoints {
		if e.PlatformID == id {
			delete(s.endpoints, key)
		}
	}
	return nil
}

// RoleStore implementation ----------------------------------------------------

func (s *Store) CreateRole(_ context.Context, r platform.Role) (platform.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.platforms[r.PlatformID]; !ok {
		return platform.Role{}, fmt.Errorf("platform %s: %w", r.PlatformID, storage.ErrNotFound)
	}
	key := roleKey(r.BasicRole())
	if _, exists := s.roles[key]; exists {
		return platform.Role{}, fmt.Errorf("role %s: %w", key, storage.ErrConflict)
	}
	if r.ID == "" {
		r.ID = s.nextIDLocked()
	}
	s.roles[key] = r
	return r, nil
}

func (s *Store) GetRole(_ context.Context, role ocpi.BasicRole) (platform.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[roleKey(role)]
	if !ok {
		return platform.Role{}, fmt.Errorf("role %s: %w", role, storage.ErrNotFound)
	}
	return r, nil
}

func (s *Store) ListRoles(_ context.Context) ([]platform.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]platform.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) ListRolesByPlatform(ctx context.Context, platformID string) ([]platform.Role, error) {
	all, _ := s.ListRoles(ctx)
	out := make([]platform.Role, 0, len(all))
	for _, r := range all {
		if r.PlatformID == platformID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ExistsRoleForPlatform(_ context.Context, role ocpi.BasicRole, platformID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[roleKey(role)]
	return ok && r.PlatformID == platformID, nil
}

// EndpointStore implementation ------------------------------------------------

func (s *Store) CreateEndpoint(_ context.Context, e platform.Endpoint) (platform.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.platforms[e.PlatformID]; !ok {
		return platform.Endpoint{}, fmt.Errorf("platform %s: %w", e.PlatformID, storage.ErrNotFound)
	}
	key := endpointKey(e.PlatformID, e.Identifier, e.Role)
	if _, exists := s.endpoints[key]; exists {
		return platform.Endpoint{}, fmt.Errorf("endpoint %s: %w", key, storage.ErrConflict)
	}
	if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	s.endpoints[key] = e
	return e, nil
}

func (s *Store) SaveEndpoint(_ context.Context, e platform.Endpoint) (platform.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.platforms[e.PlatformID]; !ok {
		return platform.Endpoint{}, fmt.Errorf("platform %s: %w", e.PlatformID, storage.ErrNotFound)
	}
	key := endpointKey(e.PlatformID, e.Identifier, e.Role)
	if existing, ok := s.endpoints[key]; ok {
		e.ID = existing.ID
	} else if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	s.endpoints[key] = e
	return e, nil
}

func (s *Store) GetEndpoint(_ context.Context, platformID string, module ocpi.ModuleID, iface ocpi.InterfaceRole) (platform.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := endpointKey(platformID, module, iface)
	e, ok := s.endpoints[key]
	if !ok {
		return platform.Endpoint{}, fmt.Errorf("endpoint %s: %w", key, storage.ErrNotFound)
	}
	return e, nil
}

func (s *Store) ListEndpointsByPlatform(_ context.Context, platformID string) ([]platform.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []platform.Endpoint
	for _, e := range s.endpoints {
		if e.PlatformID == platformID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

// ProxyResourceStore implementation -------------------------------------------

func (s *Store) CreateProxyResource(_ context.Context, r proxy.Resource) (proxy.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = s.nextIDLocked()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.proxies[r.ID] = r
	return r, nil
}

func (s *Store) GetProxyResource(_ context.Context, id string, sender, receiver ocpi.BasicRole) (proxy.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.proxies[id]
	if !ok || !r.Matches(sender, receiver) {
		return proxy.Resource{}, fmt.Errorf("proxy resource %s: %w", id, storage.ErrNotFound)
	}
	return r, nil
}

func (s *Store) DeleteProxyResource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.proxies, id)
	return nil
}

func (s *Store) DeleteProxyResourcesByRoles(_ context.Context, sender, receiver ocpi.BasicRole, module ocpi.ModuleID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.proxies {
		if r.Module == module && r.Matches(sender, receiver) {
			delete(s.proxies, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteProxyResourcesOlderThan(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, r := range s.proxies {
		if r.CreatedAt.Before(before) {
			delete(s.proxies, id)
			n++
		}
	}
	return n, nil
}

// WalletStore implementation --------------------------------------------------

func (s *Store) GetWalletKey(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.walletKey == "" {
		return "", fmt.Errorf("wallet: %w", storage.ErrNotFound)
	}
	return s.walletKey, nil
}

func (s *Store) SaveWalletKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.walletKey = key
	return nil
}

// lessID orders numeric ids numerically and anything else lexically.
func lessID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
