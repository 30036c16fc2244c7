// Package bridge is the request/response channel to the runtime that holds
// the authoritative tree state.
//
// Both request shapes are one-shot: each call yields exactly one value or
// one error, and calls are unordered with respect to each other.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// Request topics.
const (
	TopicStyle   = "style"
	TopicInspect = "inspect"
)

// ErrClosed is returned for calls made on, or outstanding at, a closed bridge.
var ErrClosed = errors.New("bridge closed")

// Bridge fetches data only the runtime can compute.
type Bridge interface {
	// ComputedStyle returns the effective style of a node.
	ComputedStyle(ctx context.Context, id tree.ID) (any, error)
	// Inspect returns the value located at path within the node. The
	// result is merged over the placeholder that stood at path.
	Inspect(ctx context.Context, id tree.ID, path tree.Path) (any, error)
}

// RemoteError is a failure reported by the runtime itself.
type RemoteError struct {
	Topic   string
	Node    tree.ID
	Path    tree.Path
	Message string
}

func (e *RemoteError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("runtime rejected %s for node %s: %s", e.Topic, e.Node, e.Message)
	}
	return fmt.Sprintf("runtime rejected %s for node %s at %s: %s", e.Topic, e.Node, e.Path, e.Message)
}

// Funcs adapts a pair of functions to Bridge. A nil function answers nil.
type Funcs struct {
	StyleFunc   func(ctx context.Context, id tree.ID) (any, error)
	InspectFunc func(ctx context.Context, id tree.ID, path tree.Path) (any, error)
}

// ComputedStyle implements Bridge.
func (f Funcs) ComputedStyle(ctx context.Context, id tree.ID) (any, error) {
	if f.StyleFunc == nil {
		return nil, nil
	}
	return f.StyleFunc(ctx, id)
}

// Inspect implements Bridge.
func (f Funcs) Inspect(ctx context.Context, id tree.ID, path tree.Path) (any, error) {
	if f.InspectFunc == nil {
		return nil, nil
	}
	return f.InspectFunc(ctx, id, path)
}
