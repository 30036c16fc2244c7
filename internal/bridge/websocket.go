package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// ============================================================
// Wire Protocol
// ============================================================

// Request is one call sent to the runtime. Every request carries a fresh
// correlation id; the runtime answers with exactly one Response bearing
// the same id, in any order.
type Request struct {
	ID    string    `json:"id"`
	Topic string    `json:"topic"`
	Node  tree.ID   `json:"node"`
	Path  tree.Path `json:"path,omitempty"`
}

// Response answers a Request. Error is non-empty when the runtime could not
// produce a value.
type Response struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ============================================================
// WSBridge
// ============================================================

// WSBridge is a Bridge over a websocket connection to the runtime's
// devtools agent. A single read loop dispatches responses to waiting
// callers; writes are serialized because the connection allows only one
// concurrent writer.
type WSBridge struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the runtime agent at url (ws:// or wss://).
func Dial(ctx context.Context, url string, logger *slog.Logger) (*WSBridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing bridge %s: %w", url, err)
	}
	return NewWSBridge(conn, logger), nil
}

// NewWSBridge wraps an established connection and starts its read loop.
func NewWSBridge(conn *websocket.Conn, logger *slog.Logger) *WSBridge {
	b := &WSBridge{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// ComputedStyle implements Bridge.
func (b *WSBridge) ComputedStyle(ctx context.Context, id tree.ID) (any, error) {
	return b.roundTrip(ctx, Request{Topic: TopicStyle, Node: id})
}

// Inspect implements Bridge.
func (b *WSBridge) Inspect(ctx context.Context, id tree.ID, path tree.Path) (any, error) {
	return b.roundTrip(ctx, Request{Topic: TopicInspect, Node: id, Path: path})
}

// Pending returns the number of requests awaiting a response.
func (b *WSBridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *WSBridge) roundTrip(ctx context.Context, req Request) (any, error) {
	req.ID = uuid.NewString()
	ch := make(chan Response, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[req.ID] = ch
	b.mu.Unlock()
	defer b.forget(req.ID)

	if err := b.write(ctx, req); err != nil {
		return nil, fmt.Errorf("sending %s request for node %s: %w", req.Topic, req.Node, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != "" {
			return nil, &RemoteError{Topic: req.Topic, Node: req.Node, Path: req.Path, Message: resp.Error}
		}
		return decodeValue(resp.Value)
	case <-b.done:
		return nil, ErrClosed
	}
}

func (b *WSBridge) write(ctx context.Context, req Request) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := b.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return b.conn.WriteJSON(req)
}

func (b *WSBridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// readLoop dispatches responses until the connection fails or is closed.
func (b *WSBridge) readLoop() {
	defer b.shutdown()

	for {
		var resp Response
		if err := b.conn.ReadJSON(&resp); err != nil {
			b.logger.Debug("bridge read loop ended", "error", err)
			return
		}

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		b.mu.Unlock()
		if !ok {
			// Late answer for a cancelled call, or a runtime bug.
			b.logger.Debug("dropping bridge response for unknown request", "id", resp.ID)
			continue
		}

		select {
		case ch <- resp:
		default:
			b.logger.Warn("duplicate bridge response", "id", resp.ID)
		}
	}
}

func (b *WSBridge) shutdown() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
	})
}

// Close sends a close frame, tears down the connection and fails every
// outstanding call with ErrClosed.
func (b *WSBridge) Close() error {
	b.writeMu.Lock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	b.writeMu.Unlock()

	err := b.conn.Close()
	b.shutdown()
	return err
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding bridge value: %w", err)
	}
	return v, nil
}
