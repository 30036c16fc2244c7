package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Mr-Dark-debug/treesnap/internal/bridge"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// runtimeBridge dials the runtime on first use and again after the
// connection drops, so the daemon can start before the runtime does.
type runtimeBridge struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *bridge.WSBridge
}

func newRuntimeBridge(url string, logger *slog.Logger) *runtimeBridge {
	return &runtimeBridge{url: url, logger: logger}
}

func (r *runtimeBridge) ComputedStyle(ctx context.Context, id tree.ID) (any, error) {
	b, err := r.get(ctx)
	if err != nil {
		return nil, err
	}
	v, err := b.ComputedStyle(ctx, id)
	r.check(b, err)
	return v, err
}

func (r *runtimeBridge) Inspect(ctx context.Context, id tree.ID, path tree.Path) (any, error) {
	b, err := r.get(ctx)
	if err != nil {
		return nil, err
	}
	v, err := b.Inspect(ctx, id, path)
	r.check(b, err)
	return v, err
}

func (r *runtimeBridge) get(ctx context.Context) (*bridge.WSBridge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	b, err := bridge.Dial(ctx, r.url, r.logger)
	if err != nil {
		return nil, err
	}
	r.logger.Info("connected to runtime", "url", r.url)
	r.conn = b
	return b, nil
}

// check forgets b once it reports the connection closed.
func (r *runtimeBridge) check(b *bridge.WSBridge, err error) {
	if !errors.Is(err, bridge.ErrClosed) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == b {
		r.logger.Warn("runtime connection lost", "url", r.url)
		r.conn = nil
	}
}

// Close closes the current connection, if any.
func (r *runtimeBridge) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
