package export

import (
	"fmt"
	"html"
	"strings"

	"inkwell/api/internal/slate"
)

// blockTags maps element types that render as a single wrapping tag.
var blockTags = map[string]string{
	"p":            "p",
	"h1":           "h1",
	"h2":           "h2",
	"h3":           "h3",
	"h4":           "h4",
	"h5":           "h5",
	"h6":           "h6",
	"blockquote":   "blockquote",
	"ul":           "ul",
	"ol":           "ol",
	"li":           "li",
	"table":        "table",
	"tr":           "tr",
	"td":           "td",
	"th":           "th",
	"column_group": "div",
	"column":       "div",
	"callout":      "aside",
}

// markTags are applied innermost first.
var markTags = []struct {
	mark string
	tag  string
}{
	{"code", "code"},
	{"bold", "strong"},
	{"italic", "em"},
	{"underline", "u"},
	{"strikethrough", "s"},
	{"subscript", "sub"},
	{"superscript", "sup"},
	{"highlight", "mark"},
	{"kbd", "kbd"},
}

// SlateToHTML renders an editor value to an HTML fragment. Blocks that carry
// listStyleType are grouped into ul/ol lists nested by indent.
func SlateToHTML(nodes []slate.Node) string {
	var b strings.Builder
	lists := &listStack{b: &b}
	for _, n := range nodes {
		style := n.String("listStyleType")
		if style == "" || n.IsText() {
			lists.closeTo(0)
			renderNode(&b, n)
			continue
		}
		lists.open(listTag(style), indentOf(n))
		b.WriteString("<li>")
		renderChildren(&b, n)
		b.WriteString("</li>\n")
	}
	lists.closeTo(0)
	return b.String()
}

type openList struct {
	tag    string
	indent int
}

type listStack struct {
	b     *strings.Builder
	stack []openList
}

func (l *listStack) open(tag string, indent int) {
	for len(l.stack) > 0 {
		top := l.stack[len(l.stack)-1]
		if top.indent < indent || (top.indent == indent && top.tag == tag) {
			break
		}
		l.pop()
	}
	if len(l.stack) == 0 || l.stack[len(l.stack)-1].indent < indent {
		l.stack = append(l.stack, openList{tag: tag, indent: indent})
		fmt.Fprintf(l.b, "<%s>\n", tag)
	}
}

func (l *listStack) closeTo(depth int) {
	for len(l.stack) > depth {
		l.pop()
	}
}

func (l *listStack) pop() {
	top := l.stack[len(l.stack)-1]
	l.stack = l.stack[:len(l.stack)-1]
	fmt.Fprintf(l.b, "</%s>\n", top.tag)
}

func listTag(style string) string {
	switch style {
	case "decimal", "lower-alpha", "upper-alpha", "lower-roman", "upper-roman":
		return "ol"
	default:
		return "ul"
	}
}

func indentOf(n slate.Node) int {
	if v, ok := n["indent"].(float64); ok && v > 0 {
		return int(v)
	}
	return 1
}

func renderNode(b *strings.Builder, n slate.Node) {
	if n.IsText() {
		b.WriteString(renderText(n))
		return
	}

	switch typ := n.Type(); typ {
	case "code_block":
		b.WriteString("<pre><code>")
		for i, line := range n.Children() {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(html.EscapeString(slate.NodeText(line)))
		}
		b.WriteString("</code></pre>\n")
	case "hr":
		b.WriteString("<hr>\n")
	case "a":
		fmt.Fprintf(b, `<a href="%s">`, html.EscapeString(safeURL(n.String("url"))))
		renderChildren(b, n)
		b.WriteString("</a>")
	case "img":
		fmt.Fprintf(b, `<figure><img src="%s" alt="">`, html.EscapeString(safeURL(n.String("url"))))
		if caption := captionText(n); caption != "" {
			fmt.Fprintf(b, "<figcaption>%s</figcaption>", html.EscapeString(caption))
		}
		b.WriteString("</figure>\n")
	case "media_embed":
		url := html.EscapeString(safeURL(n.String("url")))
		fmt.Fprintf(b, `<p><a href="%s">%s</a></p>`+"\n", url, url)
	case "equation":
		fmt.Fprintf(b, `<pre class="math">%s</pre>`+"\n", html.EscapeString(n.String("texExpression")))
	case "inline_equation":
		fmt.Fprintf(b, `<code class="math">%s</code>`, html.EscapeString(n.String("texExpression")))
	case "mention":
		fmt.Fprintf(b, `<span class="mention">@%s</span>`, html.EscapeString(n.String("value")))
	case "date":
		fmt.Fprintf(b, "<time>%s</time>", html.EscapeString(n.String("date")))
	case "toggle":
		b.WriteString("<details open><summary>")
		renderChildren(b, n)
		b.WriteString("</summary></details>\n")
	case "toc":
	default:
		tag, ok := blockTags[typ]
		if !ok {
			renderChildren(b, n)
			return
		}
		b.WriteString("<" + tag + alignAttr(n) + ">")
		renderChildren(b, n)
		b.WriteString("</" + tag + ">\n")
	}
}

func renderChildren(b *strings.Builder, n slate.Node) {
	for _, c := range n.Children() {
		renderNode(b, c)
	}
}

func renderText(n slate.Node) string {
	text := html.EscapeString(n.Text())
	text = strings.ReplaceAll(text, "\n", "<br>")
	for _, m := range markTags {
		if n.Bool(m.mark) {
			text = "<" + m.tag + ">" + text + "</" + m.tag + ">"
		}
	}
	switch suggestionType(n) {
	case "insert":
		text = "<ins>" + text + "</ins>"
	case "remove":
		text = "<del>" + text + "</del>"
	}
	return text
}

// suggestionType returns the type of the first tracked change on a text leaf.
func suggestionType(n slate.Node) string {
	if !n.Bool("suggestion") {
		return ""
	}
	for key, value := range n {
		if !strings.HasPrefix(key, "suggestion_") {
			continue
		}
		if data, ok := value.(map[string]any); ok {
			typ, _ := data["type"].(string)
			return typ
		}
	}
	return ""
}

func alignAttr(n slate.Node) string {
	switch align := n.String("align"); align {
	case "center", "right", "justify":
		return fmt.Sprintf(` style="text-align: %s"`, align)
	default:
		return ""
	}
}

func captionText(n slate.Node) string {
	items, ok := n["caption"].([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			parts = append(parts, slate.NodeText(slate.Node(m)))
		}
	}
	return strings.Join(parts, " ")
}

func safeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "vbscript:") {
		return ""
	}
	return trimmed
}
