// Package slate reads and rewrites the editor's JSON document tree: a list of
// element nodes with "type" and "children", ending in text leaves that carry
// "text" plus boolean mark keys.
package slate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Node is one element or text leaf. Unknown keys are preserved.
type Node map[string]any

// Parse decodes a document Value. Empty input yields an empty document.
func Parse(raw json.RawMessage) ([]Node, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return []Node{}, nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode document value: %w", err)
	}
	return toNodes(items), nil
}

// Marshal encodes nodes back into a Value.
func Marshal(nodes []Node) (json.RawMessage, error) {
	if nodes == nil {
		nodes = []Node{}
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("encode document value: %w", err)
	}
	return data, nil
}

func toNodes(items []any) []Node {
	nodes := make([]Node, 0, len(items))
	for _, item := range items {
		if n, ok := asNode(item); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func asNode(value any) (Node, bool) {
	switch v := value.(type) {
	case Node:
		return v, true
	case map[string]any:
		return Node(v), true
	default:
		return nil, false
	}
}

func (n Node) IsText() bool {
	_, ok := n["text"].(string)
	return ok
}

func (n Node) Text() string {
	s, _ := n["text"].(string)
	return s
}

func (n Node) Type() string {
	s, _ := n["type"].(string)
	return s
}

func (n Node) String(key string) string {
	s, _ := n[key].(string)
	return s
}

func (n Node) Bool(key string) bool {
	b, _ := n[key].(bool)
	return b
}

// Children returns the element's children. Text leaves have none.
func (n Node) Children() []Node {
	items, ok := n["children"].([]any)
	if !ok {
		if nodes, ok := n["children"].([]Node); ok {
			return nodes
		}
		return nil
	}
	return toNodes(items)
}

// SetChildren replaces the children, keeping the JSON shape.
func (n Node) SetChildren(children []Node) {
	items := make([]any, len(children))
	for i, c := range children {
		items[i] = map[string]any(c)
	}
	n["children"] = items
}

// Clone deep-copies a node through JSON so callers can mutate freely.
func Clone(nodes []Node) []Node {
	data, err := json.Marshal(nodes)
	if err != nil {
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	return toNodes(items)
}

// Walk visits every node depth-first, parents before children.
func Walk(nodes []Node, visit func(n Node)) {
	for _, n := range nodes {
		visit(n)
		if !n.IsText() {
			Walk(n.Children(), visit)
		}
	}
}

// NodeText concatenates the text leaves below n.
func NodeText(n Node) string {
	if n.IsText() {
		return n.Text()
	}
	var b strings.Builder
	for _, c := range n.Children() {
		b.WriteString(NodeText(c))
	}
	return b.String()
}

// PlainText renders each top-level block on its own line.
func PlainText(nodes []Node) string {
	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		lines = append(lines, NodeText(n))
	}
	return strings.Join(lines, "\n")
}

// PlainTextFromRaw is PlainText over an encoded Value. Invalid input yields "".
func PlainTextFromRaw(raw json.RawMessage) string {
	nodes, err := Parse(raw)
	if err != nil {
		return ""
	}
	return PlainText(nodes)
}

// Paragraph builds a single paragraph Value holding text.
func Paragraph(text string) []Node {
	return []Node{{
		"type":     "p",
		"children": []any{map[string]any{"text": text}},
	}}
}
