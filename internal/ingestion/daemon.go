// Package ingestion implements the tree mirror daemon. The runtime agent
// streams node changes over a local socket; the daemon buffers them and
// batches writes into the database that exports read from.
//
// Architecture:
//
//	Runtime agent → Unix socket / TCP → Daemon → op queue → flushLoop → database.Store
//
// Every change goes through one queue, so the mirror applies them in the
// order they were received. Single upserts are batched and committed every
// FlushInterval or BatchSize nodes, whichever comes first. Batch messages
// are logged as pending writes before they are acknowledged, so a crash
// between receipt and commit is replayed on the next start.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/logging"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// Ingester defines the interface for the ingestion service.
type Ingester interface {
	// Start begins listening for node changes.
	Start(ctx context.Context) error
	// Stop shuts down the ingester, flushing buffered changes.
	Stop() error
	// Stats returns the current ingestion counters.
	Stats() Stats
}

// Stats tracks throughput and error rates.
type Stats struct {
	NodesUpserted    int64 `json:"nodes_upserted"`
	NodesRemoved     int64 `json:"nodes_removed"`
	ErrorCount       int64 `json:"error_count"`
	BatchesCommitted int64 `json:"batches_committed"`
	Uptime           int64 `json:"uptime_seconds"`
}

// Config holds configuration for the ingestion daemon.
type Config struct {
	// ListenAddr is a unix socket path or, on Windows or when it has no
	// path separator, a TCP address.
	ListenAddr string

	// BatchSize is the maximum number of buffered upserts before a flush.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// op is one queued change. Exactly one field is set.
type op struct {
	upsert *tree.Node
	remove []tree.ID
	caps   *tree.Capabilities
	batch  *pendingBatch
}

type pendingBatch struct {
	writeID int64
	msg     *BatchMessage
}

// ============================================================
// Daemon Implementation
// ============================================================

// Daemon is the production implementation of the Ingester interface.
// It manages the network listener, the op queue, and the flush goroutine.
type Daemon struct {
	config  Config
	store   database.Store
	logger  *slog.Logger
	metrics *Metrics
	stats   Stats

	ops chan op

	listener  net.Listener
	wg        sync.WaitGroup // accept loop and connections
	flushDone chan struct{}
	started   time.Time

	cancel context.CancelFunc
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) { d.logger = logger }
}

// WithMetrics reports ingestion counters to m.
func WithMetrics(m *Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// NewDaemon creates a new ingestion daemon writing to store.
func NewDaemon(config Config, store database.Store, opts ...Option) *Daemon {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 100 * time.Millisecond
	}
	d := &Daemon{
		config: config,
		store:  store,
		logger: logging.NewNop(),
		ops:    make(chan op, config.BatchSize*2),

		flushDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start replays pending writes from a previous crash, then begins
// listening for connections and starts the flush goroutine.
func (d *Daemon) Start(ctx context.Context) error {
	d.started = time.Now()

	if err := d.replayPending(ctx); err != nil {
		d.logger.Warn("replaying pending writes failed", "error", err)
	}

	network := networkOf(d.config.ListenAddr)
	if network == "unix" {
		// Remove a stale socket file
		_ = os.Remove(d.config.ListenAddr)
	}

	listener, err := net.Listen(network, d.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", d.config.ListenAddr, err)
	}
	d.listener = listener

	ctx, d.cancel = context.WithCancel(ctx)

	go d.flushLoop()

	d.wg.Add(1)
	go d.acceptLoop(ctx)

	d.logger.Info("mirror daemon listening", "addr", d.config.ListenAddr, "network", network)
	return nil
}

// Addr returns the address the daemon listens on, once started.
func (d *Daemon) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Stop shuts down the daemon. Connections are closed first, then the
// queue is drained into the store.
func (d *Daemon) Stop() error {
	d.logger.Info("shutting down mirror daemon")

	if d.listener == nil {
		return nil
	}
	d.cancel()
	_ = d.listener.Close()

	// No producer may send once the queue is closed.
	d.wg.Wait()
	close(d.ops)
	<-d.flushDone

	d.logger.Info("mirror daemon stopped")
	return nil
}

// Stats returns a snapshot of the ingestion counters.
func (d *Daemon) Stats() Stats {
	var uptime int64
	if !d.started.IsZero() {
		uptime = int64(time.Since(d.started).Seconds())
	}
	return Stats{
		NodesUpserted:    atomic.LoadInt64(&d.stats.NodesUpserted),
		NodesRemoved:     atomic.LoadInt64(&d.stats.NodesRemoved),
		ErrorCount:       atomic.LoadInt64(&d.stats.ErrorCount),
		BatchesCommitted: atomic.LoadInt64(&d.stats.BatchesCommitted),
		Uptime:           uptime,
	}
}

func networkOf(addr string) string {
	if runtime.GOOS == "windows" || !strings.ContainsAny(addr, `/\`) {
		return "tcp"
	}
	return "unix"
}

// acceptLoop handles incoming connections.
func (d *Daemon) acceptLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Error("accept failed", "error", err)
			continue
		}

		d.wg.Add(1)
		go d.handleConnection(ctx, conn)
	}
}

// handleConnection reads frames from a single client until it hangs up.
// Every frame is acknowledged with AckOK or AckError.
func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	// Unblock the read when the daemon stops.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := d.logger.With("remote", conn.RemoteAddr().String())
	log.Debug("connection opened")

	for {
		msgType, payload, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug("connection read error", "error", err)
				if errors.Is(err, ErrFrameTooLarge) {
					d.recordError()
				}
			}
			return
		}
		d.metrics.received(msgType)

		ack := AckOK
		if err := d.processMessage(ctx, msgType, payload); err != nil {
			log.Error("processing message", "type", msgType.String(), "error", err)
			d.recordError()
			ack = AckError
		}
		if _, err := conn.Write([]byte{ack}); err != nil {
			return
		}
	}
}

// processMessage decodes a frame and queues the change it carries.
func (d *Daemon) processMessage(ctx context.Context, msgType MessageType, payload []byte) error {
	var next op
	switch msgType {
	case MsgUpsert:
		var n tree.Node
		if err := json.Unmarshal(payload, &n); err != nil {
			return fmt.Errorf("unmarshaling node: %w", err)
		}
		if n.ID == "" {
			return errors.New("node without id")
		}
		next.upsert = &n

	case MsgRemove:
		var msg RemoveMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("unmarshaling removal: %w", err)
		}
		next.remove = msg.IDs

	case MsgCapabilities:
		var c tree.Capabilities
		if err := json.Unmarshal(payload, &c); err != nil {
			return fmt.Errorf("unmarshaling capabilities: %w", err)
		}
		next.caps = &c

	case MsgBatch:
		var batch BatchMessage
		if err := json.Unmarshal(payload, &batch); err != nil {
			return fmt.Errorf("unmarshaling batch: %w", err)
		}
		writeID, err := d.store.WritePendingPayload(payload)
		if err != nil {
			return fmt.Errorf("logging pending batch: %w", err)
		}
		next.batch = &pendingBatch{writeID: writeID, msg: &batch}

	default:
		return fmt.Errorf("unknown message type: 0x%02x", byte(msgType))
	}

	select {
	case d.ops <- next:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushLoop applies queued ops in order. Upserts are buffered and written
// in batches; any other op flushes the buffer first.
func (d *Daemon) flushLoop() {
	defer close(d.flushDone)

	ticker := time.NewTicker(d.config.FlushInterval)
	defer ticker.Stop()

	// Writes outlive the listener context so Stop can drain the queue.
	ctx := context.Background()
	buf := make([]*tree.Node, 0, d.config.BatchSize)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := d.store.BatchUpsertNodes(ctx, buf); err != nil {
			d.logger.Error("flushing node batch", "nodes", len(buf), "error", err)
			d.recordError()
		} else {
			d.recordUpserts(len(buf))
			d.recordBatch()
		}
		buf = buf[:0]
	}

	for {
		select {
		case next, ok := <-d.ops:
			if !ok {
				flush()
				return
			}
			if next.upsert != nil {
				buf = append(buf, next.upsert)
				if len(buf) >= d.config.BatchSize {
					flush()
				}
				continue
			}
			flush()
			d.apply(ctx, next)

		case <-ticker.C:
			flush()
		}
	}
}

func (d *Daemon) apply(ctx context.Context, next op) {
	switch {
	case next.remove != nil:
		if err := d.store.RemoveNodes(ctx, next.remove); err != nil {
			d.logger.Error("removing nodes", "error", err)
			d.recordError()
			return
		}
		d.recordRemovals(len(next.remove))

	case next.caps != nil:
		if err := d.store.SetCapabilities(ctx, *next.caps); err != nil {
			d.logger.Error("storing capabilities", "error", err)
			d.recordError()
		}

	case next.batch != nil:
		if err := d.processBatch(ctx, next.batch.msg); err != nil {
			// Left pending; replayed on the next start.
			d.logger.Error("applying batch", "write_id", next.batch.writeID, "error", err)
			d.recordError()
			return
		}
		if err := d.store.CommitPendingPayload(next.batch.writeID); err != nil {
			d.logger.Error("committing pending write", "write_id", next.batch.writeID, "error", err)
		}
	}
}

// processBatch applies a batch message: capabilities, then upserts, then
// removals.
func (d *Daemon) processBatch(ctx context.Context, batch *BatchMessage) error {
	if batch.Capabilities != nil {
		if err := d.store.SetCapabilities(ctx, *batch.Capabilities); err != nil {
			return fmt.Errorf("batch capabilities: %w", err)
		}
	}

	if len(batch.Upserts) > 0 {
		if err := d.store.BatchUpsertNodes(ctx, batch.Upserts); err != nil {
			return fmt.Errorf("batch node upsert: %w", err)
		}
		d.recordUpserts(len(batch.Upserts))
	}

	if len(batch.Removes) > 0 {
		if err := d.store.RemoveNodes(ctx, batch.Removes); err != nil {
			return fmt.Errorf("batch node removal: %w", err)
		}
		d.recordRemovals(len(batch.Removes))
	}

	d.recordBatch()
	return nil
}

// replayPending replays any pending writes from a previous crash.
func (d *Daemon) replayPending(ctx context.Context) error {
	pending, err := d.store.GetPendingPayloads()
	if err != nil {
		return fmt.Errorf("getting pending payloads: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	d.logger.Info("replaying pending writes", "count", len(pending))

	for _, pw := range pending {
		var batch BatchMessage
		if err := json.Unmarshal(pw.Payload, &batch); err != nil {
			d.logger.Warn("skipping corrupt pending write", "write_id", pw.WriteID, "error", err)
			continue
		}

		if err := d.processBatch(ctx, &batch); err != nil {
			d.logger.Error("replaying pending write", "write_id", pw.WriteID, "error", err)
			continue
		}

		if err := d.store.CommitPendingPayload(pw.WriteID); err != nil {
			d.logger.Error("committing pending write", "write_id", pw.WriteID, "error", err)
		}
	}

	return nil
}

func (d *Daemon) recordUpserts(n int) {
	atomic.AddInt64(&d.stats.NodesUpserted, int64(n))
	d.metrics.upserted(n)
}

func (d *Daemon) recordRemovals(n int) {
	atomic.AddInt64(&d.stats.NodesRemoved, int64(n))
	d.metrics.removed(n)
}

func (d *Daemon) recordBatch() {
	atomic.AddInt64(&d.stats.BatchesCommitted, 1)
	d.metrics.batch()
}

func (d *Daemon) recordError() {
	atomic.AddInt64(&d.stats.ErrorCount, 1)
	d.metrics.failed()
}
