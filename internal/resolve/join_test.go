package resolve

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/treesnap/internal/bridge"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
	"github.com/Mr-Dark-debug/treesnap/internal/value"
)

// recordingBridge answers styles and inspects from tables and records
// every call it receives.
type recordingBridge struct {
	styles   map[tree.ID]any
	inspects map[string]any
	delay    func(id tree.ID) time.Duration
	fail     func(id tree.ID, path tree.Path) error

	mu    sync.Mutex
	paths []string
	calls atomic.Int64
}

func (b *recordingBridge) wait(ctx context.Context, id tree.ID) error {
	if b.delay == nil {
		return nil
	}
	select {
	case <-time.After(b.delay(id)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *recordingBridge) ComputedStyle(ctx context.Context, id tree.ID) (any, error) {
	b.calls.Add(1)
	if err := b.wait(ctx, id); err != nil {
		return nil, err
	}
	if b.fail != nil {
		if err := b.fail(id, nil); err != nil {
			return nil, err
		}
	}
	return b.styles[id], nil
}

func (b *recordingBridge) Inspect(ctx context.Context, id tree.ID, path tree.Path) (any, error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.paths = append(b.paths, string(id)+":"+path.String())
	b.mu.Unlock()
	if err := b.wait(ctx, id); err != nil {
		return nil, err
	}
	if b.fail != nil {
		if err := b.fail(id, path); err != nil {
			return nil, err
		}
	}
	return b.inspects[string(id)+":"+path.String()], nil
}

func placeholder() map[string]any {
	return map[string]any{value.InspectedKey: false, value.TypeKey: "object", value.NameKey: "Object"}
}

func TestJoin_NoNativeNodesCompletesInline(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewGroup("1", tree.KindComposite, "App", tree.ChildIDs("2", "3")),
		tree.NewText("2", "hello"),
		tree.NewText("3", "world"),
	)
	b := &recordingBridge{}
	j := NewJoiner(b, store)

	fired := 0
	var got *Result
	j.Start(context.Background(), "1", func(res *Result, err error) {
		require.NoError(t, err)
		fired++
		got = res
	})

	require.Equal(t, 1, fired, "completion must fire before Start returns")
	assert.Equal(t, 0, got.Len())
	assert.Zero(t, b.calls.Load())
	assert.Equal(t, 3, got.nodes.Len())
}

func TestJoin_CallCountMatchesPlaceholders(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf(
			"testID", "root",
			"data", placeholder(),
			"items", []any{placeholder(), 3, []any{placeholder()}},
			"onPress", map[string]any{value.TypeKey: "function", value.NameKey: "onPress"},
			"style", map[string]any{"ignored": true},
		), tree.ChildIDs("2", "3")),
		tree.NewNative("2", "Text", nil, tree.LiteralChild("hi")),
		tree.NewNative("3", "Image", tree.PropsOf("source", map[string]any{"uri": placeholder()}), tree.NoChildren()),
	)
	b := &recordingBridge{inspects: map[string]any{
		"1:props.data":        map[string]any{"nested": placeholder()},
		"1:props.data.nested": map[string]any{"deep": true},
	}}

	res, err := NewJoiner(b, store).Join(context.Background(), "1")
	require.NoError(t, err)

	// 3 styles, data, data.nested, items.0, items.2.0, source.uri.
	assert.Equal(t, int64(8), b.calls.Load())
	assert.Equal(t, CallStats{Style: 3, Inspect: 5}, res.Calls())
	assert.Equal(t, []tree.ID{"1", "2", "3"}, res.NativeIDs())

	entry, ok := res.Props("1")
	require.True(t, ok)
	data, _ := entry.Props().Get("data")
	assert.Equal(t, map[string]any{"nested": map[string]any{"deep": true}}, data)

	b.mu.Lock()
	assert.ElementsMatch(t, []string{
		"1:props.data", "1:props.data.nested", "1:props.items.0",
		"1:props.items.2.0", "3:props.source.uri",
	}, b.paths)
	b.mu.Unlock()
}

func TestJoin_PlaceholderNestedInArray(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "List", tree.PropsOf("items", []any{placeholder()}), tree.NoChildren()),
	)
	b := &recordingBridge{inspects: map[string]any{
		"1:props.items.0": map[string]any{"a": 1.0},
	}}

	res, err := NewJoiner(b, store).Join(context.Background(), "1")
	require.NoError(t, err)

	entry, _ := res.Props("1")
	items, _ := entry.Props().Get("items")
	assert.Equal(t, []any{map[string]any{"a": 1.0}}, items)
}

func TestJoin_NestedMarkersAreRemoved(t *testing.T) {
	fn := map[string]any{value.TypeKey: "function", value.NameKey: "onPress"}
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf(
			"handlers", map[string]any{"onPress": fn, "n": 1},
			"list", []any{fn, placeholder()},
			"seen", map[string]any{value.InspectedKey: true, value.TypeKey: "object", "a": 1},
		), tree.NoChildren()),
	)
	b := &recordingBridge{inspects: map[string]any{
		"1:props.list.1": map[string]any{"cb": fn, "ok": true},
	}}

	res, err := NewJoiner(b, store).Join(context.Background(), "1")
	require.NoError(t, err)

	entry, _ := res.Props("1")
	handlers, _ := entry.Props().Get("handlers")
	assert.Equal(t, map[string]any{"n": 1}, handlers)
	list, _ := entry.Props().Get("list")
	assert.Equal(t, []any{nil, map[string]any{"ok": true}}, list)
	seen, _ := entry.Props().Get("seen")
	assert.Equal(t, map[string]any{"a": 1}, seen)
}

func TestJoin_UnlistedKindIsWalked(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewGroup("0", tree.Kind("Other"), "Portal", tree.ChildIDs("1")),
		tree.NewNative("1", "View", nil, tree.NoChildren()),
	)

	res, err := NewJoiner(&recordingBridge{}, store).Join(context.Background(), "0")
	require.NoError(t, err)
	assert.Equal(t, []tree.ID{"1"}, res.NativeIDs())
}

func TestJoin_EntryKeepsRawKeyOrder(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf(
			"z", placeholder(),
			"a", 1,
			"m", placeholder(),
		), tree.NoChildren()),
	)
	b := &recordingBridge{
		inspects: map[string]any{"1:props.z": map[string]any{"v": 1.0}, "1:props.m": map[string]any{"v": 2.0}},
		delay:    func(tree.ID) time.Duration { return time.Millisecond },
	}

	res, err := NewJoiner(b, store).Join(context.Background(), "1")
	require.NoError(t, err)

	entry, _ := res.Props("1")
	var keys []string
	for pair := entry.Props().Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"z", "a", "m"}, keys)
}

func TestJoin_StyleStoredPerNode(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf("foo", 1), tree.NoChildren()),
	)
	b := &recordingBridge{styles: map[tree.ID]any{"1": map[string]any{"flex": 1.0}}}

	res, err := NewJoiner(b, store).Join(context.Background(), "1")
	require.NoError(t, err)

	entry, _ := res.Props("1")
	assert.Equal(t, map[string]any{"flex": 1.0}, entry.Style())
	_, hasStyle := entry.Props().Get(StyleKey)
	assert.False(t, hasStyle, "style lives in its own field")
}

func TestJoin_BridgeErrorStillCompletes(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewGroup("0", tree.KindComposite, "App", tree.ChildIDs("1", "2")),
		tree.NewNative("1", "View", tree.PropsOf("x", placeholder()), tree.NoChildren()),
		tree.NewNative("2", "View", nil, tree.NoChildren()),
	)
	boom := errors.New("runtime went away")
	b := &recordingBridge{fail: func(id tree.ID, path tree.Path) error {
		if id == "1" && path != nil {
			return boom
		}
		return nil
	}}

	done := make(chan error, 1)
	NewJoiner(b, store).Start(context.Background(), "0", func(res *Result, err error) {
		assert.Nil(t, res)
		done <- err
	})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "props.x")
	case <-time.After(time.Second):
		t.Fatal("join never completed after a bridge failure")
	}
}

func TestJoin_ArrayShapedPlaceholderIsInvariantViolation(t *testing.T) {
	arrayPlaceholder := map[string]any{value.InspectedKey: false, value.TypeKey: "array"}
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf("rows", []any{arrayPlaceholder}), tree.NoChildren()),
	)
	b := &recordingBridge{}

	_, err := NewJoiner(b, store).Join(context.Background(), "1")
	var violation *InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, tree.ID("1"), violation.Node)
	assert.Equal(t, tree.Path{"props", "rows", "0"}, violation.Path)
}

func TestJoin_ArrayResponseIsInvariantViolation(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf("data", placeholder()), tree.NoChildren()),
	)
	b := &recordingBridge{inspects: map[string]any{"1:props.data": []any{1.0, 2.0}}}

	_, err := NewJoiner(b, store).Join(context.Background(), "1")
	var violation *InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, tree.Path{"props", "data"}, violation.Path)
}

func TestJoin_ValueCycle(t *testing.T) {
	loop := map[string]any{"name": "loop"}
	loop["self"] = loop
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf("loop", loop), tree.NoChildren()),
	)

	_, err := NewJoiner(&recordingBridge{}, store).Join(context.Background(), "1")
	assert.ErrorIs(t, err, value.ErrValueCycle)
}

func TestJoin_TreeCycle(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewGroup("1", tree.KindComposite, "A", tree.ChildIDs("2")),
		tree.NewGroup("2", tree.KindWrapper, "B", tree.ChildIDs("1")),
	)

	_, err := NewJoiner(&recordingBridge{}, store).Join(context.Background(), "1")
	assert.ErrorIs(t, err, tree.ErrTreeCycle)
}

func TestJoin_MissingRootAndChild(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", nil, tree.ChildIDs("gone", "2")),
		tree.NewText("2", "ok"),
	)
	j := NewJoiner(&recordingBridge{}, store)

	res, err := j.Join(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())

	_, err = j.Join(context.Background(), "nope")
	assert.ErrorIs(t, err, tree.ErrNodeNotFound)
}

func TestJoin_CancelAbandonsInFlightCalls(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf("x", placeholder()), tree.NoChildren()),
	)
	b := &recordingBridge{delay: func(tree.ID) time.Duration { return time.Hour }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	NewJoiner(b, store).Start(ctx, "1", func(_ *Result, err error) { done <- err })

	require.Eventually(t, func() bool { return b.calls.Load() == 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled join did not complete")
	}
}

func TestJoin_CallTimeout(t *testing.T) {
	store := tree.NewMemoryStore(tree.NewNative("1", "View", nil, tree.NoChildren()))
	b := &recordingBridge{delay: func(tree.ID) time.Duration { return time.Hour }}

	j := NewJoiner(b, store, WithConfig(Config{CallTimeout: 10 * time.Millisecond}))
	_, err := j.Join(context.Background(), "1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// peakBridge tracks the highest number of concurrent calls.
type peakBridge struct {
	cur, peak atomic.Int64
}

func (p *peakBridge) enter() {
	n := p.cur.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	p.cur.Add(-1)
}

func TestJoin_MaxInFlight(t *testing.T) {
	var ids []tree.ID
	nodes := []*tree.Node{}
	for _, id := range []tree.ID{"a", "b", "c", "d", "e", "f"} {
		ids = append(ids, id)
		nodes = append(nodes, tree.NewNative(id, "View", tree.PropsOf("p", placeholder()), tree.NoChildren()))
	}
	nodes = append(nodes, tree.NewGroup("root", tree.KindComposite, "App", tree.ChildIDs(ids...)))
	store := tree.NewMemoryStore(nodes...)

	p := &peakBridge{}
	b := bridge.Funcs{
		StyleFunc: func(context.Context, tree.ID) (any, error) { p.enter(); return nil, nil },
		InspectFunc: func(context.Context, tree.ID, tree.Path) (any, error) {
			p.enter()
			return map[string]any{"v": 1.0}, nil
		},
	}

	res, err := NewJoiner(b, store, WithConfig(Config{MaxInFlight: 2})).Join(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Calls().Total())
	assert.LessOrEqual(t, p.peak.Load(), int64(2))
}

type countingObserver struct {
	started, finished, failed atomic.Int64
}

func (o *countingObserver) CallStarted(CallKind) { o.started.Add(1) }
func (o *countingObserver) CallFinished(_ CallKind, _ time.Duration, err error) {
	o.finished.Add(1)
	if err != nil {
		o.failed.Add(1)
	}
}

func TestJoin_ObserverSeesEveryCall(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf("a", placeholder(), "b", placeholder()), tree.NoChildren()),
	)
	obs := &countingObserver{}
	_, err := NewJoiner(&recordingBridge{}, store, WithObserver(MultiObserver{obs})).Join(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), obs.started.Load())
	assert.Equal(t, int64(3), obs.finished.Load())
	assert.Zero(t, obs.failed.Load())
}

func TestJoin_RepeatedJoinsAreIndependent(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf("a", placeholder()), tree.NoChildren()),
	)
	b := &recordingBridge{inspects: map[string]any{"1:props.a": map[string]any{"v": 1.0}}}
	j := NewJoiner(b, store)

	first, err := j.Join(context.Background(), "1")
	require.NoError(t, err)
	second, err := j.Join(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, int64(4), b.calls.Load(), "no memoization between joins")
	e1, _ := first.Props("1")
	e2, _ := second.Props("1")
	assert.NotSame(t, e1, e2)
	v1, _ := e1.Props().Get("a")
	v2, _ := e2.Props().Get("a")
	assert.Equal(t, v1, v2)
}

func TestJoin_RawPropsUntouched(t *testing.T) {
	ph := placeholder()
	props := tree.PropsOf("a", ph, "list", []any{ph})
	store := tree.NewMemoryStore(tree.NewNative("1", "View", props, tree.NoChildren()))
	b := &recordingBridge{inspects: map[string]any{
		"1:props.a":      map[string]any{"v": 1.0},
		"1:props.list.0": map[string]any{"v": 2.0},
	}}

	_, err := NewJoiner(b, store).Join(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, false, ph[value.InspectedKey])
	raw, _ := props.Get("list")
	assert.Equal(t, []any{ph}, raw)
}
