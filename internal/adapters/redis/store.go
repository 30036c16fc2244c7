// Package redis mirrors the component tree in Redis, for runtimes whose
// agent publishes the tree there instead of through the mirror daemon.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

const defaultPrefix = "treesnap:"

// Store implements tree.Store over Redis. Each node is a JSON string key
// and a set indexes the ids.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix. The default is "treesnap:".
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL expires nodes that are not refreshed within ttl.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New connects to the Redis server at addr.
func New(addr string, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{Addr: addr}), opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) nodeKey(id tree.ID) string { return s.prefix + "node:" + string(id) }
func (s *Store) indexKey() string          { return s.prefix + "index" }
func (s *Store) capsKey() string           { return s.prefix + "capabilities" }

// Get implements tree.Store.
func (s *Store) Get(ctx context.Context, id tree.ID) (*tree.Node, error) {
	data, err := s.client.Get(ctx, s.nodeKey(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("node %s: %w", id, tree.ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get node %s: %w", id, err)
	}

	var n tree.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decoding node %s: %w", id, err)
	}
	return &n, nil
}

// Put writes nodes in a single pipeline.
func (s *Store) Put(ctx context.Context, nodes ...*tree.Node) error {
	pipe := s.client.TxPipeline()
	for _, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encoding node %s: %w", n.ID, err)
		}
		pipe.Set(ctx, s.nodeKey(n.ID), data, s.ttl)
		pipe.SAdd(ctx, s.indexKey(), string(n.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put nodes: %w", err)
	}
	return nil
}

// Remove deletes nodes; unknown ids are ignored.
func (s *Store) Remove(ctx context.Context, ids ...tree.ID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.nodeKey(id)
		members[i] = string(id)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis remove nodes: %w", err)
	}
	return nil
}

// IDs returns the ids of every live node, sorted. Ids whose key has
// expired are dropped from the index on the way.
func (s *Store) IDs(ctx context.Context) ([]tree.ID, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list nodes: %w", err)
	}

	ids := make([]tree.ID, 0, len(members))
	var stale []any
	for _, m := range members {
		exists, err := s.client.Exists(ctx, s.nodeKey(tree.ID(m))).Result()
		if err != nil {
			return nil, fmt.Errorf("redis check node %s: %w", m, err)
		}
		if exists == 0 {
			stale = append(stale, m)
			continue
		}
		ids = append(ids, tree.ID(m))
	}
	if len(stale) > 0 {
		// Best effort: the next listing retries.
		_ = s.client.SRem(ctx, s.indexKey(), stale...).Err()
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SetCapabilities records what the connected runtime supports.
func (s *Store) SetCapabilities(ctx context.Context, c tree.Capabilities) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.capsKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set capabilities: %w", err)
	}
	return nil
}

// Capabilities implements tree.CapabilityReporter.
func (s *Store) Capabilities() tree.Capabilities {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var c tree.Capabilities
	data, err := s.client.Get(ctx, s.capsKey()).Bytes()
	if err != nil {
		return c
	}
	_ = json.Unmarshal(data, &c)
	return c
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
