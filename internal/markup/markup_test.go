package markup

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mr-Dark-debug/treesnap/internal/bridge"
	"github.com/Mr-Dark-debug/treesnap/internal/resolve"
	"github.com/Mr-Dark-debug/treesnap/internal/tree"
	"github.com/Mr-Dark-debug/treesnap/internal/value"
)

// render joins and serializes root with the given bridge.
func render(t *testing.T, b bridge.Bridge, store *tree.MemoryStore, root tree.ID) *Document {
	t.Helper()
	res, err := resolve.NewJoiner(b, store).Join(context.Background(), root)
	require.NoError(t, err)
	doc, err := Serialize(context.Background(), res, res.Nodes(), root)
	require.NoError(t, err)
	return doc
}

func styles(table map[tree.ID]any) bridge.Bridge {
	return bridge.Funcs{StyleFunc: func(_ context.Context, id tree.ID) (any, error) {
		return table[id], nil
	}}
}

func TestSerialize_SingleTextNode(t *testing.T) {
	store := tree.NewMemoryStore(tree.NewText("1", "hi"))

	doc := render(t, bridge.Funcs{}, store, "1")
	assert.Equal(t, "<RawText text=\"hi\" />\n", doc.Body)
	assert.Equal(t, []string{TextKind}, doc.Kinds)
	assert.Equal(t, "const RawText = require('RawText');\n\n<RawText text=\"hi\" />\n", doc.String())
}

func TestSerialize_NativeLeafWithStyle(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf("foo", 1), tree.NoChildren()),
	)

	doc := render(t, styles(map[tree.ID]any{"1": map[string]any{"flex": 1}}), store, "1")
	assert.Equal(t,
		"const RawText = require('RawText');\n"+
			"const View = require('View');\n"+
			"\n"+
			"<View foo={1} style={{\"flex\":1}} />\n",
		doc.String())
}

func TestSerialize_OnlyTextNodes(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewGroup("0", tree.KindComposite, "App", tree.ChildIDs("1", "2", "3")),
		tree.NewText("1", "one"),
		tree.NewText("2", "two"),
		tree.NewText("3", "three"),
	)

	doc := render(t, bridge.Funcs{}, store, "0")
	assert.Equal(t, []string{TextKind}, doc.Kinds)
	assert.Equal(t,
		"<RawText text=\"one\" />\n<RawText text=\"two\" />\n<RawText text=\"three\" />\n",
		doc.Body)
}

func TestSerialize_SiblingsShareOneDeclaration(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("0", "View", nil, tree.ChildIDs("1", "2")),
		tree.NewNative("1", "Image", nil, tree.NoChildren()),
		tree.NewNative("2", "Image", nil, tree.NoChildren()),
	)
	b := bridge.Funcs{StyleFunc: func(context.Context, tree.ID) (any, error) {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		return nil, nil
	}}

	doc := render(t, b, store, "0")
	assert.Equal(t, []string{"Image", TextKind, "View"}, doc.Kinds)
	assert.Equal(t,
		"const Image = require('Image');\n"+
			"const RawText = require('RawText');\n"+
			"const View = require('View');\n",
		doc.Header())
}

func TestSerialize_NestingAndPassThrough(t *testing.T) {
	onPress := map[string]any{value.TypeKey: "function", value.NameKey: "onPress"}
	store := tree.NewMemoryStore(
		tree.NewGroup("app", tree.KindComposite, "App", tree.ChildIDs("root")),
		tree.NewNative("root", "View", tree.PropsOf(
			"testID", "main",
			"hidden", nil,
			"onPress", onPress,
			"children", []any{"ignored"},
			"style", map[string]any{"raw": true},
			"data", map[string]any{"b": 2, "a": []any{1, "x"}},
		), tree.ChildIDs("wrap", "label", "empty")),
		tree.NewGroup("wrap", tree.KindWrapper, "Memo", tree.ChildIDs("img")),
		tree.NewNative("img", "Image", tree.PropsOf("uri", "a.png"), tree.NoChildren()),
		tree.NewNative("label", "Text", nil, tree.LiteralChild("Hello")),
		tree.NewNative("empty", "View", nil, tree.ChildIDs()),
	)

	doc := render(t, styles(map[tree.ID]any{"root": map[string]any{"padding": 4}}), store, "app")
	want := "" +
		"<View testID=\"main\" data={{\"a\":[1,\"x\"],\"b\":2}} style={{\"padding\":4}}>\n" +
		"  <Image uri=\"a.png\" />\n" +
		"  <Text>\n" +
		"    <RawText text=\"Hello\" />\n" +
		"  </Text>\n" +
		"  <View>\n" +
		"  </View>\n" +
		"</View>\n"
	assert.Equal(t, want, doc.Body)
	assert.Equal(t, []string{"Image", TextKind, "Text", "View"}, doc.Kinds)
}

func TestSerialize_PassThroughLiteralChildStaysAtDepth(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("0", "View", nil, tree.ChildIDs("1")),
		tree.NewGroup("1", tree.KindComposite, "Label", tree.LiteralChild("inline")),
	)

	doc := render(t, bridge.Funcs{}, store, "0")
	assert.Equal(t, "<View>\n  <RawText text=\"inline\" />\n</View>\n", doc.Body)
}

func TestSerialize_AmbiguousStringsUseJSON(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("0", "Text", tree.PropsOf("title", `say "hi"`, "html", "<b>&</b>"), tree.ChildIDs("1")),
		tree.NewText("1", "line one\nline two"),
	)

	doc := render(t, bridge.Funcs{}, store, "0")
	assert.Equal(t,
		"<Text title={\"say \\\"hi\\\"\"} html=\"<b>&</b>\">\n"+
			"  <RawText text={\"line one\\nline two\"} />\n"+
			"</Text>\n",
		doc.Body)
}

func TestSerialize_ResolvedPlaceholders(t *testing.T) {
	ph := map[string]any{value.InspectedKey: false, value.TypeKey: "object"}
	store := tree.NewMemoryStore(
		tree.NewNative("1", "List", tree.PropsOf("items", []any{ph}), tree.NoChildren()),
	)
	b := bridge.Funcs{InspectFunc: func(context.Context, tree.ID, tree.Path) (any, error) {
		return map[string]any{"a": 1.0}, nil
	}}

	doc := render(t, b, store, "1")
	assert.Equal(t, "<List items={[{\"a\":1}]} />\n", doc.Body)
	assert.NotContains(t, doc.Body, value.InspectedKey)
}

func TestSerialize_NestedFunctionsAreDropped(t *testing.T) {
	fn := func(name string) map[string]any {
		return map[string]any{value.TypeKey: "function", value.NameKey: name}
	}
	ph := map[string]any{value.InspectedKey: false, value.TypeKey: "object"}
	store := tree.NewMemoryStore(
		tree.NewNative("1", "View", tree.PropsOf(
			"handlers", map[string]any{"onPress": fn("onPress"), "id": "h"},
			"list", []any{fn("a"), 1},
			"later", map[string]any{"cb": ph},
		), tree.NoChildren()),
	)
	b := bridge.Funcs{InspectFunc: func(context.Context, tree.ID, tree.Path) (any, error) {
		return fn("cb"), nil
	}}

	doc := render(t, b, store, "1")
	assert.Equal(t, "<View handlers={{\"id\":\"h\"}} list={[null,1]} later={{}} />\n", doc.Body)
	assert.NotContains(t, doc.Body, value.TypeKey)
}

func TestSerialize_InspectedMappingsLoseMarkers(t *testing.T) {
	inspected := map[string]any{value.InspectedKey: true, value.TypeKey: "object", value.NameKey: "Object", "a": 1}
	store := tree.NewMemoryStore(
		tree.NewNative("1", "List", tree.PropsOf(
			"items", []any{inspected},
			"meta", map[string]any{value.MetaKey: map[string]any{"x": 1}, "b": true},
		), tree.NoChildren()),
	)

	doc := render(t, bridge.Funcs{}, store, "1")
	assert.Equal(t, "<List items={[{\"a\":1}]} meta={{\"b\":true}} />\n", doc.Body)
	assert.Equal(t, true, inspected[value.InspectedKey], "raw props must not be modified")
}

func TestSerialize_UnlistedKindGroupsChildren(t *testing.T) {
	store := tree.NewMemoryStore(
		tree.NewNative("0", "View", nil, tree.ChildIDs("1", "3")),
		tree.NewGroup("1", tree.Kind("Other"), "Portal", tree.ChildIDs("2")),
		tree.NewText("2", "hi"),
		tree.NewGroup("3", tree.Kind("Other"), "Marker", tree.NoChildren()),
	)

	doc := render(t, bridge.Funcs{}, store, "0")
	assert.Equal(t, "<View>\n  <RawText text=\"hi\" />\n</View>\n", doc.Body)
}

func TestSerialize_Idempotent(t *testing.T) {
	ph := map[string]any{value.InspectedKey: false, value.TypeKey: "object"}
	store := tree.NewMemoryStore(
		tree.NewNative("0", "View", tree.PropsOf("z", ph, "a", 1, "m", ph), tree.ChildIDs("1", "2")),
		tree.NewNative("1", "Image", tree.PropsOf("src", ph), tree.NoChildren()),
		tree.NewText("2", "caption"),
	)
	b := bridge.Funcs{
		StyleFunc: func(_ context.Context, id tree.ID) (any, error) {
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
			return map[string]any{"id": string(id)}, nil
		},
		InspectFunc: func(_ context.Context, id tree.ID, path tree.Path) (any, error) {
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
			return map[string]any{"at": path.String()}, nil
		},
	}

	first := render(t, b, store, "0").String()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, render(t, b, store, "0").String())
	}
	assert.Contains(t, first, `<View z={{"at":"props.z"}} a={1} m={{"at":"props.m"}} style={{"id":"0"}}>`)
}

func TestSerialize_UnresolvedNativeNode(t *testing.T) {
	store := tree.NewMemoryStore(tree.NewNative("1", "View", nil, tree.NoChildren()))
	res, err := resolve.NewJoiner(bridge.Funcs{}, tree.NewMemoryStore()).Join(context.Background(), "missing")
	require.Error(t, err)
	require.Nil(t, res)

	res, err = resolve.NewJoiner(bridge.Funcs{}, store).Join(context.Background(), "1")
	require.NoError(t, err)
	store.Put(tree.NewNative("1", "View", nil, tree.ChildIDs("2")))
	store.Put(tree.NewNative("2", "Image", nil, tree.NoChildren()))

	_, err = Serialize(context.Background(), res, store, "1")
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestSerialize_SnapshotIgnoresLaterMutation(t *testing.T) {
	store := tree.NewMemoryStore(tree.NewNative("1", "View", nil, tree.NoChildren()))
	res, err := resolve.NewJoiner(bridge.Funcs{}, store).Join(context.Background(), "1")
	require.NoError(t, err)

	store.Put(tree.NewNative("1", "ScrollView", nil, tree.ChildIDs("2")))

	doc, err := Serialize(context.Background(), res, res.Nodes(), "1")
	require.NoError(t, err)
	assert.Equal(t, "<View />\n", doc.Body)
}

func TestSerialize_CancelledContext(t *testing.T) {
	store := tree.NewMemoryStore(tree.NewText("1", "hi"))
	res, err := resolve.NewJoiner(bridge.Funcs{}, store).Join(context.Background(), "1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Serialize(ctx, res, res.Nodes(), "1")
	assert.ErrorIs(t, err, context.Canceled)
}
