package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/ocn-node/internal/errors"
	"github.com/R3E-Network/ocn-node/internal/httputil"
	"github.com/R3E-Network/ocn-node/internal/logging"
	"github.com/R3E-Network/ocn-node/internal/metrics"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/signing"
)

// NodeKeyResolver returns the public key of the node serving a party.
type NodeKeyResolver interface {
	NodeKeyOf(ctx context.Context, role ocpi.BasicRole) (string, error)
}

type cachedKey struct {
	key       string
	expiresAt time.Time
}

// PeerAuth verifies the OCN-Signature of envelopes posted by peer nodes. The
// signature must cover the exact body bytes and verify under the key the
// registry holds for the envelope's sender.
type PeerAuth struct {
	keys     NodeKeyResolver
	logger   *logging.Logger
	metrics  *metrics.Metrics
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cachedKey
}

// PeerAuthConfig configures the peer authentication middleware.
type PeerAuthConfig struct {
	Keys    NodeKeyResolver
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// CacheTTL bounds how long a resolved node key is reused. Zero disables
	// caching.
	CacheTTL time.Duration
}

// NewPeerAuth creates the peer authentication middleware.
func NewPeerAuth(cfg PeerAuthConfig) *PeerAuth {
	return &PeerAuth{
		keys:     cfg.Keys,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		cacheTTL: cfg.CacheTTL,
		cache:    make(map[string]cachedKey),
	}
}

// Handler returns the middleware handler. The body is restored for the next
// handler.
func (m *PeerAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := httputil.ReadBody(r)
		if err != nil {
			m.reject(w, r, "unreadable_body", errors.Validation("Unable to read request body"))
			return
		}

		signature := r.Header.Get(ocpi.HeaderSignature)
		if signature == "" {
			m.reject(w, r, "missing_signature", errors.Authentication())
			return
		}

		sender := ocpi.BasicRole{
			CountryCode: gjson.GetBytes(body, "headers.sender.country").String(),
			PartyID:     gjson.GetBytes(body, "headers.sender.id").String(),
		}
		if sender.IsZero() {
			m.reject(w, r, "malformed_envelope", errors.Validation("Envelope has no sender"))
			return
		}

		key, err := m.nodeKey(r.Context(), sender)
		if err != nil {
			m.reject(w, r, "registry_error", err)
			return
		}
		if key == "" || !signing.Verify(key, body, signature) {
			m.reject(w, r, "bad_signature", errors.Authentication())
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (m *PeerAuth) nodeKey(ctx context.Context, sender ocpi.BasicRole) (string, error) {
	cacheKey := sender.Normalize().String()
	if key := m.getCachedKey(cacheKey); key != "" {
		return key, nil
	}

	key, err := m.keys.NodeKeyOf(ctx, sender)
	if err != nil {
		if errors.GetServiceError(err) != nil {
			return "", err
		}
		return "", errors.TransientRegistry(err)
	}
	if key != "" {
		m.cacheKey(cacheKey, key)
	}
	return key, nil
}

func (m *PeerAuth) getCachedKey(cacheKey string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cached, ok := m.cache[cacheKey]
	if !ok || time.Now().After(cached.expiresAt) {
		return ""
	}
	return cached.key
}

func (m *PeerAuth) cacheKey(cacheKey, key string) {
	if m.cacheTTL <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.cache[cacheKey] = cachedKey{key: key, expiresAt: now.Add(m.cacheTTL)}

	if len(m.cache) > 1000 {
		for k, cached := range m.cache {
			if now.After(cached.expiresAt) {
				delete(m.cache, k)
			}
		}
	}
}

func (m *PeerAuth) reject(w http.ResponseWriter, r *http.Request, outcome string, err error) {
	if m.metrics != nil {
		m.metrics.RecordPeerMessage(outcome)
	}
	m.logger.LogSecurityEvent(r.Context(), "peer_message_rejected", map[string]interface{}{
		"outcome": outcome,
		"remote":  clientAddr(r),
	})
	httputil.WriteError(w, err)
}
