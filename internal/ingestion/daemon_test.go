package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
)

func newTestDaemon(t *testing.T, opts ...Option) (*Daemon, *database.DBService) {
	t.Helper()
	db, err := database.NewDBService(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	d := NewDaemon(Config{
		ListenAddr:    "127.0.0.1:0",
		BatchSize:     2,
		FlushInterval: 10 * time.Millisecond,
	}, db, opts...)
	return d, db
}

func dial(t *testing.T, d *Daemon) *Client {
	t.Helper()
	c, err := Dial(d.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, MsgRemove, RemoveMessage{IDs: []tree.ID{"1", "2"}}))

	msgType, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgRemove, msgType)
	assert.JSONEq(t, `{"ids":["1","2"]}`, string(payload))

	_, _, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTooLarge(t *testing.T) {
	frame := []byte{byte(MsgUpsert), 0xff, 0xff, 0xff, 0xff}
	_, _, err := ReadFrame(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDaemonAppliesChangesInOrder(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	d, db := newTestDaemon(t, WithMetrics(metrics))
	require.NoError(t, d.Start(context.Background()))

	c := dial(t, d)
	require.NoError(t, c.Upsert(tree.NewNative("1", "View", tree.PropsOf("a", 1), tree.ChildIDs("2"))))
	require.NoError(t, c.Upsert(tree.NewText("2", "hi")))
	require.NoError(t, c.Upsert(tree.NewText("3", "gone soon")))
	require.NoError(t, c.Remove("3"))
	require.NoError(t, c.Send(MsgCapabilities, tree.Capabilities{Scroll: true}))
	require.NoError(t, d.Stop())

	ctx := context.Background()
	n, err := db.CountNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.Get(ctx, "3")
	assert.ErrorIs(t, err, tree.ErrNodeNotFound)
	assert.True(t, db.Capabilities().Scroll)

	stats := d.Stats()
	assert.Equal(t, int64(3), stats.NodesUpserted)
	assert.Equal(t, int64(1), stats.NodesRemoved)
	assert.Zero(t, stats.ErrorCount)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.messages.WithLabelValues("upsert")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.upserts))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.removals))
}

func TestDaemonBatchIsCommitted(t *testing.T) {
	d, db := newTestDaemon(t)
	require.NoError(t, d.Start(context.Background()))

	c := dial(t, d)
	require.NoError(t, c.Batch(&BatchMessage{
		Upserts: []*tree.Node{tree.NewText("a", "x"), tree.NewText("b", "y")},
		Removes: []tree.ID{"b"},
	}))
	require.NoError(t, d.Stop())

	n, err := db.CountNodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := db.GetPendingPayloads()
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, int64(1), d.Stats().BatchesCommitted)
}

func TestDaemonRejectsBadFrames(t *testing.T) {
	d, _ := newTestDaemon(t)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	c := dial(t, d)
	err := c.Send(MessageType(0x7f), struct{}{})
	assert.ErrorIs(t, err, ErrRejected)

	err = c.Send(MsgUpsert, map[string]any{"kind": "Text"})
	assert.ErrorIs(t, err, ErrRejected)

	// The connection survives a rejected frame.
	require.NoError(t, c.Upsert(tree.NewText("ok", "fine")))
	assert.Equal(t, int64(2), d.Stats().ErrorCount)
}

func TestDaemonReplaysPendingWrites(t *testing.T) {
	d, db := newTestDaemon(t)

	payload, err := json.Marshal(BatchMessage{
		Upserts: []*tree.Node{tree.NewText("crashed", "recovered")},
	})
	require.NoError(t, err)
	_, err = db.WritePendingPayload(payload)
	require.NoError(t, err)
	_, err = db.WritePendingPayload([]byte("not json"))
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop())

	n, err := db.Get(context.Background(), "crashed")
	require.NoError(t, err)
	assert.Equal(t, "recovered", n.Text)

	// The corrupt payload is skipped and stays pending.
	pending, err := db.GetPendingPayloads()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStopWithoutStart(t *testing.T) {
	d, _ := newTestDaemon(t)
	assert.NoError(t, d.Stop())
}

func TestNetworkOf(t *testing.T) {
	assert.Equal(t, "tcp", networkOf("127.0.0.1:9876"))
	if runtime.GOOS != "windows" {
		assert.Equal(t, "unix", networkOf("/tmp/treesnap.sock"))
	}
}
