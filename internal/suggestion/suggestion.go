// Package suggestion lists and resolves tracked changes stored on editor
// nodes. Text leaves carry "suggestion": true plus one "suggestion_<id>" data
// object per change; elements carry the data object under "suggestion".
package suggestion

import (
	"errors"
	"sort"
	"strings"
	"time"

	"inkwell/api/internal/slate"
)

const (
	key       = "suggestion"
	keyPrefix = "suggestion_"

	TypeInsert = "insert"
	TypeRemove = "remove"
	TypeUpdate = "update"

	StatusAccepted = "accepted"
	StatusPending  = "pending"
)

var ErrNotFound = errors.New("suggestion not found")

// Item is one grouped suggestion as shown in the sidebar.
type Item struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text"`
	NewText   string    `json:"newText"`
	Status    string    `json:"status"`
}

// Data is the tracked-change record attached to a node.
type Data struct {
	ID            string
	Type          string
	UserID        string
	CreatedAt     time.Time
	Status        string
	Properties    map[string]any
	NewProperties map[string]any
}

func parseData(value any) (Data, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return Data{}, false
	}
	id, _ := m["id"].(string)
	if id == "" {
		return Data{}, false
	}
	d := Data{ID: id}
	d.Type, _ = m["type"].(string)
	d.UserID, _ = m["userId"].(string)
	d.Status, _ = m["status"].(string)
	d.Properties, _ = m["properties"].(map[string]any)
	d.NewProperties, _ = m["newProperties"].(map[string]any)
	d.CreatedAt = parseTime(m["createdAt"])
	return d, true
}

func parseTime(value any) time.Time {
	switch v := value.(type) {
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// dataList returns every suggestion record on n.
func dataList(n slate.Node) []Data {
	if !n.IsText() {
		if d, ok := parseData(n[key]); ok {
			return []Data{d}
		}
		return nil
	}
	var list []Data
	for k, v := range n {
		if !strings.HasPrefix(k, keyPrefix) {
			continue
		}
		if d, ok := parseData(v); ok {
			list = append(list, d)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// List groups every suggestion in the document, newest first.
func List(nodes []slate.Node) []Item {
	items := map[string]*Item{}
	order := []string{}

	slate.Walk(nodes, func(n slate.Node) {
		for _, d := range dataList(n) {
			item, ok := items[d.ID]
			if !ok {
				status := StatusPending
				if d.Status == StatusAccepted {
					status = StatusAccepted
				}
				item = &Item{ID: d.ID, Type: d.Type, UserID: d.UserID, CreatedAt: d.CreatedAt, Status: status}
				items[d.ID] = item
				order = append(order, d.ID)
			}
			if !n.IsText() {
				continue
			}
			switch d.Type {
			case TypeInsert:
				item.NewText += n.Text()
			case TypeRemove:
				item.Text += n.Text()
			default:
				item.NewText += n.Text()
			}
		}
	})

	out := make([]Item, 0, len(order))
	for _, id := range order {
		item := items[id]
		if item.Text == "" && item.NewText == "" {
			item.Text = "(block change)"
		}
		out = append(out, *item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// MarkAccepted flags every record of id as accepted, keeping the tracked
// change in place.
func MarkAccepted(nodes []slate.Node, id string) ([]slate.Node, error) {
	out := slate.Clone(nodes)
	found := false
	slate.Walk(out, func(n slate.Node) {
		if m := recordFor(n, id); m != nil {
			m["status"] = StatusAccepted
			found = true
		}
	})
	if !found {
		return nil, ErrNotFound
	}
	return out, nil
}

// Reject reverts the change: inserted content is removed, removal marks are
// dropped and updated properties are restored.
func Reject(nodes []slate.Node, id string) ([]slate.Node, error) {
	return resolve(nodes, id, func(d Data) action {
		switch d.Type {
		case TypeInsert:
			return actionDelete
		case TypeRemove:
			return actionUnmark
		default:
			return actionRestore
		}
	})
}

// Apply finalizes the change: inserted content stays unmarked, removed
// content is deleted and updates keep their new properties.
func Apply(nodes []slate.Node, id string) ([]slate.Node, error) {
	return resolve(nodes, id, func(d Data) action {
		if d.Type == TypeRemove {
			return actionDelete
		}
		return actionUnmark
	})
}

type action int

const (
	actionUnmark action = iota
	actionDelete
	actionRestore
)

func resolve(nodes []slate.Node, id string, decide func(Data) action) ([]slate.Node, error) {
	found := false
	out := transform(slate.Clone(nodes), id, decide, &found)
	if !found {
		return nil, ErrNotFound
	}
	return out, nil
}

func transform(nodes []slate.Node, id string, decide func(Data) action, found *bool) []slate.Node {
	out := make([]slate.Node, 0, len(nodes))
	for _, n := range nodes {
		if m := recordFor(n, id); m != nil {
			*found = true
			d, _ := parseData(map[string]any(m))
			switch decide(d) {
			case actionDelete:
				continue
			case actionRestore:
				restore(n, d)
				unmark(n, id)
			default:
				unmark(n, id)
			}
		}
		if !n.IsText() {
			children := transform(n.Children(), id, decide, found)
			if len(children) == 0 {
				children = []slate.Node{{"text": ""}}
			}
			n.SetChildren(children)
		}
		out = append(out, n)
	}
	return out
}

func recordFor(n slate.Node, id string) map[string]any {
	if n.IsText() {
		m, _ := n[keyPrefix+id].(map[string]any)
		return m
	}
	m, _ := n[key].(map[string]any)
	if m != nil && m["id"] == id {
		return m
	}
	return nil
}

func unmark(n slate.Node, id string) {
	if !n.IsText() {
		delete(n, key)
		return
	}
	delete(n, keyPrefix+id)
	for k := range n {
		if strings.HasPrefix(k, keyPrefix) {
			return
		}
	}
	delete(n, key)
}

// restore puts back the properties an update replaced. Keys that only exist
// in the new properties are removed.
func restore(n slate.Node, d Data) {
	for k := range d.NewProperties {
		if old, ok := d.Properties[k]; ok && old != nil {
			n[k] = old
		} else {
			delete(n, k)
		}
	}
	for k, v := range d.Properties {
		if _, ok := d.NewProperties[k]; !ok && v != nil {
			n[k] = v
		}
	}
}
