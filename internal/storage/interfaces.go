// Package storage defines the persistence contracts of the node.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/ocn-node/internal/domain/platform"
	"github.com/R3E-Network/ocn-node/internal/domain/proxy"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record conflicts with an existing record")
)

// PlatformStore persists platform connections.
type PlatformStore interface {
	CreatePlatform(ctx context.Context, p platform.Platform) (platform.Platform, error)
	UpdatePlatform(ctx context.Context, p platform.Platform) (platform.Platform, error)
	GetPlatform(ctx context.Context, id string) (platform.Platform, error)
	GetPlatformByTokenC(ctx context.Context, tokenC string) (platform.Platform, error)
	ListPlatforms(ctx context.Context) ([]platform.Platform, error)
	// DeletePlatform removes the platform with its roles and endpoints.
	DeletePlatform(ctx context.Context, id string) error
}

// RoleStore persists the roles played by platforms.
type RoleStore interface {
	CreateRole(ctx context.Context, r platform.Role) (platform.Role, error)
	GetRole(ctx context.Context, role ocpi.BasicRole) (platform.Role, error)
	ListRoles(ctx context.Context) ([]platform.Role, error)
	ListRolesByPlatform(ctx context.Context, platformID string) ([]platform.Role, error)
	ExistsRoleForPlatform(ctx context.Context, role ocpi.BasicRole, platformID string) (bool, error)
}

// EndpointStore persists module endpoints discovered for platforms.
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, e platform.Endpoint) (platform.Endpoint, error)
	// SaveEndpoint creates the endpoint or replaces the URL of the one with
	// the same platform, module and interface role.
	SaveEndpoint(ctx context.Context, e platform.Endpoint) (platform.Endpoint, error)
	GetEndpoint(ctx context.Context, platformID string, module ocpi.ModuleID, iface ocpi.InterfaceRole) (platform.Endpoint, error)
	ListEndpointsByPlatform(ctx context.Context, platformID string) ([]platform.Endpoint, error)
}

// ProxyResourceStore persists proxy resources.
type ProxyResourceStore interface {
	// CreateProxyResource always inserts and returns the record with its id.
	CreateProxyResource(ctx context.Context, r proxy.Resource) (proxy.Resource, error)
	// GetProxyResource matches on id, sender and receiver together.
	GetProxyResource(ctx context.Context, id string, sender, receiver ocpi.BasicRole) (proxy.Resource, error)
	// DeleteProxyResource is idempotent.
	DeleteProxyResource(ctx context.Context, id string) error
	DeleteProxyResourcesByRoles(ctx context.Context, sender, receiver ocpi.BasicRole, module ocpi.ModuleID) (int64, error)
	DeleteProxyResourcesOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// WalletStore persists the node signing key.
type WalletStore interface {
	GetWalletKey(ctx context.Context) (string, error)
	SaveWalletKey(ctx context.Context, key string) error
}

// Stores groups the store implementations used by the node.
type Stores struct {
	Platforms      PlatformStore
	Roles          RoleStore
	Endpoints      EndpointStore
	ProxyResources ProxyResourceStore
	Wallet         WalletStore
}
