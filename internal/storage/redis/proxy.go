// Package redis stores proxy resources in Redis with a per-record TTL.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/ocn-node/internal/domain/proxy"
	"github.com/R3E-Network/ocn-node/internal/ocpi"
	"github.com/R3E-Network/ocn-node/internal/storage"
)

const (
	defaultPrefix = "ocn:proxy:"
	defaultTTL    = 24 * time.Hour
)

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0")
	URL string
	// Prefix namespaces every key written by the store.
	Prefix string
	// TTL bounds the lifetime of each proxy resource.
	TTL time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProxyStore implements storage.ProxyResourceStore.
type ProxyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ storage.ProxyResourceStore = (*ProxyStore)(nil)

// NewProxyStore connects to Redis and verifies the connection.
func NewProxyStore(ctx context.Context, opts Options) (*ProxyStore, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379/0"
	}
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.DialTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ProxyStore{client: client, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// Close closes the Redis connection.
func (s *ProxyStore) Close() error {
	return s.client.Close()
}

func (s *ProxyStore) seqKey() string {
	return s.prefix + "seq"
}

func (s *ProxyStore) recordKey(id string) string {
	return s.prefix + "id:" + id
}

func (s *ProxyStore) indexKey(sender, receiver ocpi.BasicRole, module ocpi.ModuleID) string {
	return fmt.Sprintf("%sidx:%s|%s|%s", s.prefix, sender.Normalize(), receiver.Normalize(), module)
}

func (s *ProxyStore) CreateProxyResource(ctx context.Context, r proxy.Resource) (proxy.Resource, error) {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return proxy.Resource{}, fmt.Errorf("allocate proxy id: %w", err)
	}
	r.ID = strconv.FormatInt(seq, 10)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Sender, r.Receiver = r.Sender.Normalize(), r.Receiver.Normalize()

	key := s.recordKey(r.ID)
	idx := s.indexKey(r.Sender, r.Receiver, r.Module)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"sender_country":   r.Sender.CountryCode,
			"sender_party":     r.Sender.PartyID,
			"receiver_country": r.Receiver.CountryCode,
			"receiver_party":   r.Receiver.PartyID,
			"module":           string(r.Module),
			"resource":         r.Resource,
			"alternative_uid":  r.AlternativeUID,
			"created_at":       r.CreatedAt.Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, idx, r.ID)
		pipe.Expire(ctx, idx, s.ttl)
		return nil
	})
	if err != nil {
		return proxy.Resource{}, fmt.Errorf("store proxy resource: %w", err)
	}
	return r, nil
}

func (s *ProxyStore) GetProxyResource(ctx context.Context, id string, sender, receiver ocpi.BasicRole) (proxy.Resource, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return proxy.Resource{}, fmt.Errorf("get proxy resource: %w", err)
	}
	if len(fields) == 0 {
		return proxy.Resource{}, fmt.Errorf("proxy resource %s: %w", id, storage.ErrNotFound)
	}

	r := proxy.Resource{
		ID:             id,
		Sender:         ocpi.BasicRole{PartyID: fields["sender_party"], CountryCode: fields["sender_country"]},
		Receiver:       ocpi.BasicRole{PartyID: fields["receiver_party"], CountryCode: fields["receiver_country"]},
		Module:         ocpi.ModuleID(fields["module"]),
		Resource:       fields["resource"],
		AlternativeUID: fields["alternative_uid"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		r.CreatedAt = ts
	}
	if !r.Matches(sender, receiver) {
		return proxy.Resource{}, fmt.Errorf("proxy resource %s: %w", id, storage.ErrNotFound)
	}
	return r, nil
}

// DeleteProxyResource removes the record and its entry in the role index.
func (s *ProxyStore) DeleteProxyResource(ctx context.Context, id string) error {
	key := s.recordKey(id)
	fields, err := s.client.HMGet(ctx, key, "sender_country", "sender_party", "receiver_country", "receiver_party", "module").Result()
	if err != nil {
		return fmt.Errorf("read proxy resource: %w", err)
	}
	if fields[4] == nil {
		return nil
	}
	field := func(i int) string {
		v, _ := fields[i].(string)
		return v
	}
	idx := s.indexKey(
		ocpi.BasicRole{CountryCode: field(0), PartyID: field(1)},
		ocpi.BasicRole{CountryCode: field(2), PartyID: field(3)},
		ocpi.ModuleID(field(4)),
	)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, idx, id)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete proxy resource: %w", err)
	}
	return nil
}

func (s *ProxyStore) DeleteProxyResourcesByRoles(ctx context.Context, sender, receiver ocpi.BasicRole, module ocpi.ModuleID) (int64, error) {
	idx := s.indexKey(sender, receiver, module)
	ids, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("read proxy index: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.recordKey(id))
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete proxy resources: %w", err)
	}
	if err := s.client.Del(ctx, idx).Err(); err != nil {
		return n, fmt.Errorf("delete proxy index: %w", err)
	}
	return n, nil
}

// DeleteProxyResourcesOlderThan is a no-op; records expire through their TTL.
func (s *ProxyStore) DeleteProxyResourcesOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
