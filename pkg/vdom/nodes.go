package vdom

import (
	"errors"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultIDAttr is the attribute that identifies a block.
const DefaultIDAttr = "id"

// ErrDuplicateID is returned when two elements share an identifier.
var ErrDuplicateID = errors.New("vdom: duplicate identifier")

// placeholderMark prefixes collapsed blocks inside a shell. It cannot occur
// in parsed text since the tokenizer replaces NUL.
const placeholderMark = "\x00"

// newContainer returns a detached <body> element used as the region root.
func newContainer() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}

// templateContext accepts any element as content, including table parts
// that a <body> context would drop.
func templateContext() *html.Node {
	return &html.Node{Type: html.ElementNode, Data: "template", DataAtom: atom.Template}
}

// parseRegion parses src as the content of a region root.
func parseRegion(src string) (*html.Node, error) {
	root := newContainer()
	nodes, err := parseInto(src, root)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// parseInto parses src as children of context without attaching them.
func parseInto(src string, context *html.Node) ([]*html.Node, error) {
	ctx := context
	if ctx == nil || ctx.Type != html.ElementNode {
		ctx = newContainer()
	}
	return html.ParseFragment(strings.NewReader(src), ctx)
}

// outerHTML renders n and its subtree.
func outerHTML(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}

// innerHTML renders the children of n.
func innerHTML(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return ""
		}
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// blockID returns the identifier of n, or "" if n is not a block.
func blockID(n *html.Node, idAttr string) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return attr(n, idAttr)
}

// indexBlocks maps identifiers to elements under root (root excluded).
func indexBlocks(root *html.Node, idAttr string) (map[string]*html.Node, error) {
	idx := make(map[string]*html.Node)
	var walk func(n *html.Node) error
	walk = func(n *html.Node) error {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if id := blockID(c, idAttr); id != "" {
				if _, dup := idx[id]; dup {
					return ErrDuplicateID
				}
				idx[id] = c
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return idx, nil
}

// findBlock locates the element with the given identifier under root.
func findBlock(root *html.Node, idAttr, id string) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if blockID(c, idAttr) == id {
			return c
		}
		if found := findBlock(c, idAttr, id); found != nil {
			return found
		}
	}
	return nil
}

// isBlank reports whether n is a whitespace-only text node or a doctype,
// which structural comparison ignores.
func isBlank(n *html.Node) bool {
	switch n.Type {
	case html.TextNode:
		return strings.TrimSpace(n.Data) == ""
	case html.DoctypeNode:
		return true
	}
	return false
}

// canonical writes a normalized serialization of n: attributes sorted,
// blank nodes dropped, whitespace runs in text collapsed to one space
// outside preformatted elements. With collapse set, nested blocks (other
// than n itself when top is set) are written as placeholders.
func canonical(b *strings.Builder, n *html.Node, idAttr string, collapse, top bool) {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" {
			return
		}
		if preformatted(n) {
			b.WriteString(html.EscapeString(n.Data))
		} else {
			b.WriteString(html.EscapeString(collapseSpace(n.Data)))
		}
		return
	case html.CommentNode:
		b.WriteString("<!--")
		b.WriteString(n.Data)
		b.WriteString("-->")
		return
	case html.ElementNode:
	default:
		return
	}

	if collapse && !top {
		if id := blockID(n, idAttr); id != "" {
			b.WriteString(placeholderMark)
			b.WriteString(n.Data)
			b.WriteByte('#')
			b.WriteString(id)
			b.WriteString(placeholderMark)
			return
		}
	}

	b.WriteString(elementKey(n))
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		canonical(b, c, idAttr, collapse, false)
	}
	b.WriteString("</")
	b.WriteString(n.Data)
	b.WriteByte('>')
}

// collapseSpace replaces each run of HTML whitespace with a single space.
// Adjacent text nodes merge on serialization, so "a\n  " followed by "\n  "
// must compare equal to "a\n  ".
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r', '\f':
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteByte(s[i])
	}
	if space {
		b.WriteByte(' ')
	}
	return b.String()
}

// preformatted reports whether n sits inside an element whose whitespace
// is significant.
func preformatted(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		switch p.DataAtom {
		case atom.Pre, atom.Textarea, atom.Listing, atom.Plaintext, atom.Script, atom.Style:
			return true
		}
	}
	return false
}

// elementKey is the opening tag of n with attributes in sorted order.
func elementKey(n *html.Node) string {
	attrs := make([]string, 0, len(n.Attr))
	for _, a := range n.Attr {
		k := a.Key
		if a.Namespace != "" {
			k = a.Namespace + ":" + k
		}
		attrs = append(attrs, k+`="`+html.EscapeString(a.Val)+`"`)
	}
	sort.Strings(attrs)

	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(n.Data)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('>')
	return b.String()
}

func canonicalString(n *html.Node, idAttr string, collapse bool) string {
	var b strings.Builder
	canonical(&b, n, idAttr, collapse, true)
	return b.String()
}

// canonicalChildren serializes the children of n without n's own tag.
func canonicalChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		canonical(&b, c, "", false, false)
	}
	return b.String()
}

// Normalize returns the canonical form of an HTML fragment. Two fragments
// are structurally equivalent iff their normalized forms are equal.
func Normalize(src string) (string, error) {
	root, err := parseRegion(src)
	if err != nil {
		return "", err
	}
	return canonicalChildren(root), nil
}

// Equivalent reports whether two fragments are structurally equivalent.
func Equivalent(a, b string) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return na == nb
}
