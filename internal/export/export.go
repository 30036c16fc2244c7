// Package export composes resolution and serialization into the single
// user-facing operation: turn the subtree under a node into text.
//
// An Exporter runs at most one export at a time. Starting a new export
// cancels the one in flight, which then fails with ErrSuperseded instead of
// producing stale output.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mr-Dark-debug/treesnap/internal/bridge"
	"github.com/Mr-Dark-debug/treesnap/internal/logging"
	"github.com/Mr-Dark-debug/treesnap/internal/markup"
	"github.com/Mr-Dark-debug/treesnap/internal/resolve"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// ErrSuperseded is the failure of an export cancelled by a newer one.
var ErrSuperseded = errors.New("export superseded by a newer request")

// Snapshot is the outcome of one successful export.
type Snapshot struct {
	ID        string            `json:"id"`
	Root      tree.ID           `json:"root"`
	Text      string            `json:"text"`
	Kinds     []string          `json:"kinds"`
	Calls     resolve.CallStats `json:"calls"`
	Duration  time.Duration     `json:"duration_ns"`
	CreatedAt time.Time         `json:"created_at"`
}

// Recorder archives finished snapshots.
type Recorder interface {
	RecordExport(ctx context.Context, s *Snapshot) error
}

// Config bounds an export.
type Config struct {
	// Timeout bounds the whole export. Zero means no bound.
	Timeout time.Duration
	Resolve resolve.Config
}

// Exporter runs exports against one bridge and store.
type Exporter struct {
	bridge   bridge.Bridge
	store    tree.Store
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	recorder Recorder

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelCauseFunc
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithConfig sets the export limits.
func WithConfig(cfg Config) Option {
	return func(e *Exporter) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

// WithMetrics reports exports and bridge calls to m.
func WithMetrics(m *Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

// WithRecorder archives every successful snapshot with r.
func WithRecorder(r Recorder) Option {
	return func(e *Exporter) { e.recorder = r }
}

// New creates an Exporter.
func New(b bridge.Bridge, s tree.Store, opts ...Option) *Exporter {
	e := &Exporter{
		bridge: b,
		store:  s,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExportTree resolves and serializes the subtree under root with default
// settings and returns the text.
func ExportTree(ctx context.Context, b bridge.Bridge, s tree.Store, root tree.ID) (string, error) {
	snap, err := New(b, s).Export(ctx, root)
	if err != nil {
		return "", err
	}
	return snap.Text, nil
}

// Export resolves and serializes the subtree under root. Any export still
// running on e is superseded.
func (e *Exporter) Export(ctx context.Context, root tree.ID) (*Snapshot, error) {
	ctx, release := e.begin(ctx)
	defer release()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	log := e.logger.With("root", root)
	log.Debug("export started")

	snap, err := e.run(ctx, root)
	elapsed := time.Since(start)
	if err != nil {
		err = e.classify(ctx, root, err)
		e.observe(outcomeOf(err), elapsed)
		log.Warn("export failed", "error", err, "elapsed", elapsed)
		return nil, err
	}

	snap.Duration = elapsed
	e.observe(OutcomeOK, elapsed)
	log.Info("export finished",
		"id", snap.ID,
		"kinds", len(snap.Kinds),
		"bridge_calls", snap.Calls.Total(),
		"elapsed", elapsed,
	)

	if e.recorder != nil {
		// The snapshot is still returned if archiving fails.
		if err := e.recorder.RecordExport(context.WithoutCancel(ctx), snap); err != nil {
			log.Warn("archiving export failed", "id", snap.ID, "error", err)
		}
	}
	return snap, nil
}

func (e *Exporter) run(ctx context.Context, root tree.ID) (*Snapshot, error) {
	opts := []resolve.Option{
		resolve.WithConfig(e.cfg.Resolve),
		resolve.WithLogger(e.logger),
	}
	if e.metrics != nil {
		opts = append(opts, resolve.WithObserver(e.metrics))
	}

	res, err := resolve.NewJoiner(e.bridge, e.store, opts...).Join(ctx, root)
	if err != nil {
		return nil, err
	}
	doc, err := markup.Serialize(ctx, res, res.Nodes(), root)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		ID:        uuid.NewString(),
		Root:      root,
		Text:      doc.String(),
		Kinds:     doc.Kinds,
		Calls:     res.Calls(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// begin registers a new export, cancelling the previous one.
func (e *Exporter) begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel(ErrSuperseded)
	}
	e.seq++
	seq := e.seq
	e.cancel = cancel
	e.mu.Unlock()

	return ctx, func() {
		e.mu.Lock()
		if e.seq == seq {
			e.cancel = nil
		}
		e.mu.Unlock()
		cancel(nil)
	}
}

// Cancel abandons the export in flight, if any.
func (e *Exporter) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel(context.Canceled)
		e.cancel = nil
	}
}

// classify rewrites a cancellation caused by supersession into
// ErrSuperseded and adds the root to the message.
func (e *Exporter) classify(ctx context.Context, root tree.ID, err error) error {
	if errors.Is(context.Cause(ctx), ErrSuperseded) {
		return fmt.Errorf("exporting node %s: %w", root, ErrSuperseded)
	}
	return fmt.Errorf("exporting node %s: %w", root, err)
}

func (e *Exporter) observe(outcome string, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.observeExport(outcome, elapsed)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrSuperseded):
		return OutcomeSuperseded
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
