package ingestion

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

// ============================================================
// Wire Protocol
// ============================================================

// MessageType discriminates the kind of payload in the wire protocol.
type MessageType byte

const (
	MsgUpsert       MessageType = 0x01
	MsgRemove       MessageType = 0x02
	MsgCapabilities MessageType = 0x03
	MsgBatch        MessageType = 0x04
)

func (t MessageType) String() string {
	switch t {
	case MsgUpsert:
		return "upsert"
	case MsgRemove:
		return "remove"
	case MsgCapabilities:
		return "capabilities"
	case MsgBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// Acknowledgement bytes written after every frame.
const (
	AckOK    byte = 0x00
	AckError byte = 0x01
)

// MaxFrameSize bounds a single payload.
const MaxFrameSize = 10 * 1024 * 1024

var (
	// ErrFrameTooLarge is returned for a frame over MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrRejected is returned by Client when the daemon acknowledges a
	// frame with AckError.
	ErrRejected = errors.New("daemon rejected message")
)

// RemoveMessage is the payload of MsgRemove.
type RemoveMessage struct {
	IDs []tree.ID `json:"ids"`
}

// BatchMessage carries several changes applied together.
type BatchMessage struct {
	Upserts      []*tree.Node       `json:"upserts,omitempty"`
	Removes      []tree.ID          `json:"removes,omitempty"`
	Capabilities *tree.Capabilities `json:"capabilities,omitempty"`
}

// WriteFrame writes one message.
// Format: [1 byte type][4 bytes length (big-endian)][payload JSON]
func WriteFrame(w io.Writer, t MessageType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", t, err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%s payload of %d bytes: %w", t, len(payload), ErrFrameTooLarge)
	}

	frame := make([]byte, 5+len(payload))
	frame[0] = byte(t)
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:], payload)
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads one message. A clean hang-up between frames is io.EOF.
func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return 0, nil, fmt.Errorf("reading frame length: %w", err)
	}

	size := binary.BigEndian.Uint32(header[1:])
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("%d bytes: %w", size, ErrFrameTooLarge)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("reading payload: %w", err)
	}
	return MessageType(header[0]), payload, nil
}

// Client sends node changes to a running daemon.
type Client struct {
	conn net.Conn
}

// Dial connects to the daemon at addr.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout(networkOf(addr), addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing mirror daemon at %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Send writes one message and waits for its acknowledgement.
func (c *Client) Send(t MessageType, v any) error {
	if err := WriteFrame(c.conn, t, v); err != nil {
		return err
	}
	var ack [1]byte
	if _, err := io.ReadFull(c.conn, ack[:]); err != nil {
		return fmt.Errorf("reading acknowledgement: %w", err)
	}
	if ack[0] != AckOK {
		return fmt.Errorf("%s message: %w", t, ErrRejected)
	}
	return nil
}

// Upsert sends a single node.
func (c *Client) Upsert(n *tree.Node) error {
	return c.Send(MsgUpsert, n)
}

// Remove sends a removal.
func (c *Client) Remove(ids ...tree.ID) error {
	return c.Send(MsgRemove, RemoveMessage{IDs: ids})
}

// Batch sends several changes applied together.
func (c *Client) Batch(b *BatchMessage) error {
	return c.Send(MsgBatch, b)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
