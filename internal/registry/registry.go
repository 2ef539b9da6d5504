// Package registry resolves network parties to the peer nodes that serve
// them, using the on-chain trust registry.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/ocn-node/internal/chain"
	svcerrors "github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
)

// Registry looks up the node serving a party. An empty result with a nil
// error means the party is not registered.
type Registry interface {
	// ClientURLOf returns the base URL of the node serving role.
	ClientURLOf(ctx context.Context, role ocpi.BasicRole) (string, error)
	// NodeKeyOf returns the hex-encoded public key of the node serving role.
	NodeKeyOf(ctx context.Context, role ocpi.BasicRole) (string, error)
}

const (
	methodNodeURL = "getNodeURL"
	methodNodeKey = "getNodeKey"

	defaultTimeout = 5 * time.Second
)

// invoker is the subset of chain.Client used by NeoRegistry.
type invoker interface {
	InvokeString(ctx context.Context, scriptHash, method string, params ...chain.ContractParam) (string, error)
}

// NeoRegistry reads the registry contract through a Neo N3 RPC node.
type NeoRegistry struct {
	client   invoker
	contract util.Uint160
	timeout  time.Duration
}

var _ Registry = (*NeoRegistry)(nil)

// Config configures a NeoRegistry.
type Config struct {
	// Contract is the registry script hash, "0x"-prefixed or plain LE hex.
	Contract string
	Timeout  time.Duration
}

// NewNeoRegistry creates a registry reader bound to one contract.
func NewNeoRegistry(client *chain.Client, cfg Config) (*NeoRegistry, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client required")
	}
	return newNeoRegistry(client, cfg)
}

func newNeoRegistry(client invoker, cfg Config) (*NeoRegistry, error) {
	hash, err := util.Uint160DecodeStringLE(strings.TrimPrefix(cfg.Contract, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid registry contract hash %q: %w", cfg.Contract, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &NeoRegistry{client: client, contract: hash, timeout: timeout}, nil
}

// Contract returns the registry script hash in RPC form.
func (r *NeoRegistry) Contract() string {
	return "0x" + r.contract.StringLE()
}

func (r *NeoRegistry) ClientURLOf(ctx context.Context, role ocpi.BasicRole) (string, error) {
	return r.lookup(ctx, methodNodeURL, role)
}

func (r *NeoRegistry) NodeKeyOf(ctx context.Context, role ocpi.BasicRole) (string, error) {
	return r.lookup(ctx, methodNodeKey, role)
}

// lookup runs one bounded contract read. Any failure other than an empty
// result is reported as a transient registry error.
func (r *NeoRegistry) lookup(ctx context.Context, method string, role ocpi.BasicRole) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n := role.Normalize()
	value, err := r.client.InvokeString(ctx, r.Contract(), method,
		chain.NewStringParam(n.CountryCode),
		chain.NewStringParam(n.PartyID),
	)
	if err != nil {
		return "", svcerrors.TransientRegistry(fmt.Errorf("%s %s: %w", method, n, err))
	}
	return strings.TrimSpace(value), nil
}

// =============================================================================
// Static registry
// =============================================================================

// Entry is one registration held by a StaticRegistry.
type Entry struct {
	URL string
	Key string
}

// StaticRegistry is an in-memory Registry for single-node deployments and
// tests.
type StaticRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Registry = (*StaticRegistry)(nil)

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{entries: make(map[string]Entry)}
}

// Register binds role to a node URL and public key.
func (r *StaticRegistry) Register(role ocpi.BasicRole, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[role.Normalize().String()] = entry
}

func (r *StaticRegistry) ClientURLOf(_ context.Context, role ocpi.BasicRole) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[role.Normalize().String()].URL, nil
}

func (r *StaticRegistry) NodeKeyOf(_ context.Context, role ocpi.BasicRole) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[role.Normalize().String()].Key, nil
}
