// Package resolve walks a live tree and materializes every Native node's
// style and properties through the bridge.
//
// A join issues all of its bridge calls eagerly and completes exactly once,
// after every call it issued has finished, whether each succeeded or not.
// The first failure cancels the calls still in flight.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Mr-Dark-debug/treesnap/internal/bridge"
	"github.com/Mr-Dark-debug/treesnap/internal/logging"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// Reserved raw property keys. They never go through property resolution:
// style is fetched separately and children is structural.
const (
	StyleKey    = "style"
	ChildrenKey = "children"
)

// Config bounds the bridge traffic of one join.
type Config struct {
	// MaxInFlight caps concurrent bridge calls. Zero means unbounded.
	MaxInFlight int64
	// CallTimeout bounds each bridge call. Zero means no per-call bound.
	CallTimeout time.Duration
}

// Joiner resolves trees read from a store through a bridge. A Joiner is
// stateless between joins and safe for concurrent use; each join owns its
// own result.
type Joiner struct {
	bridge   bridge.Bridge
	store    tree.Store
	cfg      Config
	logger   *slog.Logger
	observer Observer
}

// Option configures a Joiner.
type Option func(*Joiner)

// WithConfig sets the call limits.
func WithConfig(cfg Config) Option {
	return func(j *Joiner) { j.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Joiner) { j.logger = logger }
}

// WithObserver sets the observer notified around bridge calls.
func WithObserver(o Observer) Option {
	return func(j *Joiner) { j.observer = o }
}

// NewJoiner creates a Joiner.
func NewJoiner(b bridge.Bridge, s tree.Store, opts ...Option) *Joiner {
	j := &Joiner{
		bridge:   b,
		store:    s,
		logger:   logging.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start walks the subtree under root and calls onComplete exactly once
// with either the joined result or the first error. When the walk issues no
// bridge calls, onComplete runs before Start returns; otherwise it runs on
// its own goroutine once every issued call has finished.
func (j *Joiner) Start(ctx context.Context, root tree.ID, onComplete func(*Result, error)) {
	r := j.newRun(ctx, root)

	if err := r.walk(root, true, make(map[tree.ID]bool)); err != nil {
		r.cancel(err)
		_ = r.group.Wait()
		r.cancel(nil)
		onComplete(nil, err)
		return
	}

	if r.jobs == 0 {
		r.cancel(nil)
		onComplete(r.finish(), nil)
		return
	}

	go func() {
		err := r.group.Wait()
		r.cancel(nil)
		if err != nil {
			onComplete(nil, err)
			return
		}
		onComplete(r.finish(), nil)
	}()
}

// Join is the blocking form of Start.
func (j *Joiner) Join(ctx context.Context, root tree.ID) (*Result, error) {
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	j.Start(ctx, root, func(res *Result, err error) {
		done <- outcome{res, err}
	})
	o := <-done
	return o.res, o.err
}

// run is the state of one join. The walk runs on the caller's goroutine
// and is the only writer of props and nodes; jobs write only into the
// Resolved entry they were handed.
type run struct {
	*Joiner

	ctx    context.Context
	cancel context.CancelCauseFunc
	group  *errgroup.Group
	sem    *semaphore.Weighted

	root    tree.ID
	jobs    int
	props   map[tree.ID]*Resolved
	visited map[tree.ID]bool
	nodes   *tree.MemoryStore
	calls   callCounter
}

func (j *Joiner) newRun(parent context.Context, root tree.ID) *run {
	ctx, cancel := context.WithCancelCause(parent)
	group, gctx := errgroup.WithContext(ctx)

	r := &run{
		Joiner:  j,
		ctx:     gctx,
		cancel:  cancel,
		group:   group,
		root:    root,
		props:   make(map[tree.ID]*Resolved),
		visited: make(map[tree.ID]bool),
		nodes:   tree.NewMemoryStore(),
	}
	if j.cfg.MaxInFlight > 0 {
		r.sem = semaphore.NewWeighted(j.cfg.MaxInFlight)
	}
	return r
}

func (r *run) finish() *Result {
	return &Result{
		Root:  r.root,
		props: r.props,
		nodes: r.nodes,
		calls: r.calls.snapshot(),
	}
}

// walk visits the subtree under id depth-first, pre-order, issuing the
// jobs of every Native node it meets. ancestry holds the ids on the path
// from the root.
func (r *run) walk(id tree.ID, isRoot bool, ancestry map[tree.ID]bool) error {
	if err := r.ctx.Err(); err != nil {
		return context.Cause(r.ctx)
	}
	if ancestry[id] {
		return fmt.Errorf("walking node %s: %w", id, tree.ErrTreeCycle)
	}
	if r.visited[id] {
		r.logger.Debug("node reachable twice, resolving once", "node", id)
		return nil
	}

	node, err := r.store.Get(r.ctx, id)
	if err != nil {
		if !isRoot && errors.Is(err, tree.ErrNodeNotFound) {
			r.logger.Debug("skipping missing child", "node", id)
			return nil
		}
		return fmt.Errorf("reading node %s: %w", id, err)
	}
	r.visited[id] = true
	r.nodes.Put(node)

	switch {
	case node.Kind == tree.KindNative:
		r.issue(node)
	case node.Kind.PassThrough():
	default:
		// Text and Empty nodes are leaves.
		return nil
	}

	ancestry[id] = true
	defer delete(ancestry, id)
	for _, child := range node.Children.IDs() {
		if err := r.walk(child, false, ancestry); err != nil {
			return err
		}
	}
	return nil
}

// issue creates the result entry of a Native node and starts its jobs: one
// style fetch plus one resolution per non-reserved property that is not
// already terminal.
func (r *run) issue(node *tree.Node) {
	entry := newResolved()
	r.props[node.ID] = entry
	id := node.ID

	r.spawn(func(ctx context.Context) error {
		style, err := r.call(ctx, CallStyle, func(ctx context.Context) (any, error) {
			return r.bridge.ComputedStyle(ctx, id)
		})
		if err != nil {
			return fmt.Errorf("fetching style of node %s: %w", id, err)
		}
		entry.setStyle(style)
		return nil
	})

	if node.Props == nil {
		return
	}

	// Reserve every key first so the entry keeps raw insertion order no
	// matter which job finishes first.
	for pair := node.Props.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == StyleKey || pair.Key == ChildrenKey {
			continue
		}
		entry.set(pair.Key, pair.Value)
	}

	base := tree.Path{"props"}
	for pair := node.Props.Oldest(); pair != nil; pair = pair.Next() {
		key, raw := pair.Key, pair.Value
		if key == StyleKey || key == ChildrenKey || !needsWalk(raw) {
			continue
		}
		r.spawn(func(ctx context.Context) error {
			v, err := r.resolveValue(ctx, id, base.Append(key), raw, nil)
			if err != nil {
				return err
			}
			entry.set(key, v)
			return nil
		})
	}
}

func (r *run) spawn(job func(ctx context.Context) error) {
	r.jobs++
	r.group.Go(func() error { return job(r.ctx) })
}

// call performs one bridge round trip under the join's limits.
func (r *run) call(ctx context.Context, kind CallKind, fn func(context.Context) (any, error)) (any, error) {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.sem.Release(1)
	}
	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	r.calls.add(kind)
	r.observer.CallStarted(kind)
	start := time.Now()
	v, err := fn(ctx)
	r.observer.CallFinished(kind, time.Since(start), err)
	return v, err
}
