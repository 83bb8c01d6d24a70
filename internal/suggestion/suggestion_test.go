package suggestion

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/api/internal/slate"
)

const doc = `[
	{"type": "p", "children": [
		{"text": "Hello "},
		{"text": "brave ", "suggestion": true, "suggestion_s1": {"id": "s1", "type": "insert", "userId": "u1", "createdAt": 1700000000000}},
		{"text": "old ", "suggestion": true, "suggestion_s2": {"id": "s2", "type": "remove", "userId": "u2", "createdAt": 1700000005000}},
		{"text": "world", "bold": true, "suggestion": true, "suggestion_s3": {"id": "s3", "type": "update", "userId": "u1", "createdAt": 1700000001000, "properties": {"bold": null}, "newProperties": {"bold": true}}}
	]},
	{"type": "blockquote", "suggestion": {"id": "s4", "type": "insert", "userId": "u3", "createdAt": 1700000002000}, "children": [{"text": ""}]}
]`

func parse(t *testing.T, raw string) []slate.Node {
	t.Helper()
	nodes, err := slate.Parse(json.RawMessage(raw))
	require.NoError(t, err)
	return nodes
}

func marshal(t *testing.T, nodes []slate.Node) string {
	t.Helper()
	raw, err := slate.Marshal(nodes)
	require.NoError(t, err)
	return string(raw)
}

func TestListGroupsAndSortsNewestFirst(t *testing.T) {
	items := List(parse(t, doc))
	require.Len(t, items, 4)

	assert.Equal(t, []string{"s2", "s4", "s3", "s1"}, []string{items[0].ID, items[1].ID, items[2].ID, items[3].ID})
	assert.Equal(t, "old ", items[0].Text)
	assert.Equal(t, "", items[0].NewText)
	assert.Equal(t, "(block change)", items[1].Text)
	assert.Equal(t, "world", items[2].NewText)
	assert.Equal(t, "brave ", items[3].NewText)
	for _, item := range items {
		assert.Equal(t, StatusPending, item.Status)
	}
}

func TestListJoinsTextAcrossNodes(t *testing.T) {
	nodes := parse(t, `[{"type":"p","children":[
		{"text":"a","suggestion":true,"suggestion_x":{"id":"x","type":"insert","userId":"u","createdAt":1}},
		{"text":"b"},
		{"text":"c","suggestion":true,"suggestion_x":{"id":"x","type":"insert","userId":"u","createdAt":1}}
	]}]`)
	items := List(nodes)
	require.Len(t, items, 1)
	assert.Equal(t, "ac", items[0].NewText)
}

func TestMarkAcceptedKeepsChangeAndSetsStatus(t *testing.T) {
	nodes := parse(t, doc)
	out, err := MarkAccepted(nodes, "s1")
	require.NoError(t, err)

	items := List(out)
	for _, item := range items {
		if item.ID == "s1" {
			assert.Equal(t, StatusAccepted, item.Status)
			assert.Equal(t, "brave ", item.NewText)
		} else {
			assert.Equal(t, StatusPending, item.Status)
		}
	}
	assert.Equal(t, StatusPending, List(nodes)[3].Status, "input must stay untouched")

	_, err = MarkAccepted(nodes, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRejectRevertsEachType(t *testing.T) {
	nodes := parse(t, doc)

	out, err := Reject(nodes, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Hello old world\n", slate.PlainText(out))

	out, err = Reject(nodes, "s2")
	require.NoError(t, err)
	leaf := out[0].Children()[2]
	assert.Equal(t, "old ", leaf.Text())
	_, marked := leaf["suggestion"]
	assert.False(t, marked)

	out, err = Reject(nodes, "s3")
	require.NoError(t, err)
	leaf = out[0].Children()[3]
	_, bold := leaf["bold"]
	assert.False(t, bold)
	_, marked = leaf["suggestion_s3"]
	assert.False(t, marked)

	out, err = Reject(nodes, "s4")
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestApplyFinalizesEachType(t *testing.T) {
	nodes := parse(t, doc)

	out, err := Apply(nodes, "s1")
	require.NoError(t, err)
	leaf := out[0].Children()[1]
	assert.Equal(t, "brave ", leaf.Text())
	_, marked := leaf["suggestion"]
	assert.False(t, marked)

	out, err = Apply(nodes, "s2")
	require.NoError(t, err)
	assert.Equal(t, "Hello brave world\n", slate.PlainText(out))

	out, err = Apply(nodes, "s3")
	require.NoError(t, err)
	assert.True(t, out[0].Children()[3].Bool("bold"))

	out, err = Apply(nodes, "s4")
	require.NoError(t, err)
	require.Len(t, out, 2)
	_, marked = out[1]["suggestion"]
	assert.False(t, marked)
}

func TestTransformRefillsEmptiedElements(t *testing.T) {
	nodes := parse(t, `[{"type":"p","children":[
		{"text":"gone","suggestion":true,"suggestion_r":{"id":"r","type":"remove","userId":"u","createdAt":1}}
	]}]`)
	out, err := Apply(nodes, "r")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"p","children":[{"text":""}]}]`, marshal(t, out))
}

func TestTextWithTwoSuggestionsKeepsOtherMark(t *testing.T) {
	nodes := parse(t, `[{"type":"p","children":[
		{"text":"x","suggestion":true,
		 "suggestion_a":{"id":"a","type":"insert","userId":"u","createdAt":1},
		 "suggestion_b":{"id":"b","type":"update","userId":"u","createdAt":2}}
	]}]`)
	out, err := Apply(nodes, "a")
	require.NoError(t, err)
	leaf := out[0].Children()[0]
	assert.True(t, leaf.Bool("suggestion"))
	_, hasB := leaf["suggestion_b"]
	assert.True(t, hasB)
}
