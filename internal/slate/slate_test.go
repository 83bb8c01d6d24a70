package slate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[
	{"type": "h1", "id": "a", "children": [{"text": "Title"}]},
	{"type": "p", "children": [{"text": "Hello "}, {"text": "world", "bold": true}]},
	{"type": "ul", "children": [{"type": "li", "children": [{"text": "one"}]}]}
]`

func TestParseAndPlainText(t *testing.T) {
	nodes, err := Parse(json.RawMessage(sample))
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "h1", nodes[0].Type())
	assert.Equal(t, "Title\nHello world\none", PlainText(nodes))
	assert.True(t, nodes[1].Children()[1].Bool("bold"))
}

func TestParseEmptyAndInvalid(t *testing.T) {
	nodes, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	nodes, err = Parse(json.RawMessage("null"))
	require.NoError(t, err)
	assert.Empty(t, nodes)

	_, err = Parse(json.RawMessage(`{"type":"p"}`))
	assert.Error(t, err)
	assert.Equal(t, "", PlainTextFromRaw(json.RawMessage(`not json`)))
}

func TestCloneIsDeep(t *testing.T) {
	nodes, err := Parse(json.RawMessage(sample))
	require.NoError(t, err)

	cloned := Clone(nodes)
	leaf := cloned[1].Children()[0]
	leaf["text"] = "changed"

	assert.Equal(t, "Hello ", nodes[1].Children()[0].Text())
}

func TestSetChildrenRoundTrips(t *testing.T) {
	nodes := Paragraph("x")
	nodes[0].SetChildren([]Node{{"text": "a"}, {"text": "b", "italic": true}})

	raw, err := Marshal(nodes)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"p","children":[{"text":"a"},{"text":"b","italic":true}]}]`, string(raw))
}

func TestWalkVisitsEveryNode(t *testing.T) {
	nodes, err := Parse(json.RawMessage(sample))
	require.NoError(t, err)

	count := 0
	Walk(nodes, func(Node) { count++ })
	assert.Equal(t, 8, count)
}
