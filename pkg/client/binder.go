package client

import (
	"errors"
	"strings"

	"github.com/vango-dev/liveview/pkg/protocol"
	"github.com/vango-dev/liveview/pkg/vdom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Trigger is a kind of user interaction a live region can bind.
type Trigger string

const (
	Click   Trigger = "click"
	Submit  Trigger = "submit"
	Change  Trigger = "change"
	Blur    Trigger = "blur"
	Focus   Trigger = "focus"
	KeyDown Trigger = "keydown"
	KeyUp   Trigger = "keyup"
)

// Triggers lists every bindable interaction.
var Triggers = []Trigger{Click, Submit, Change, Blur, Focus, KeyDown, KeyUp}

const (
	// BindingPrefix prefixes binding attributes: lv-click="increment".
	BindingPrefix = "lv-"

	// ValuePrefix prefixes value attributes: lv-value-id="7" sends id=7.
	ValuePrefix = "lv-value-"
)

// Attr returns the binding attribute for t.
func (t Trigger) Attr() string {
	return BindingPrefix + string(t)
}

var (
	// ErrNotBound is returned when an interaction arrives before Bind.
	ErrNotBound = errors.New("client: binder not bound to a region")

	// ErrElementNotFound is returned when the interaction target is not
	// inside the bound region.
	ErrElementNotFound = errors.New("client: element not found in region")
)

// Interaction is one user action on an element of the region.
type Interaction struct {
	Trigger Trigger

	// ID identifies the element the action happened on.
	ID string

	// Value, when non-nil, overrides the element's value attribute, for
	// example with text typed into an input.
	Value *string

	// Key is the key name for KeyDown and KeyUp.
	Key string
}

// Binder turns interactions inside one live region into event messages.
// It resolves bindings at interaction time, walking from the element up
// to the region root, so elements inserted by patches need no rebinding.
// Bind scans the region once per full render; Reset marks the region as
// replaced.
//
// A Binder is not safe for concurrent use.
type Binder struct {
	doc      *vdom.Document
	bound    bool
	bindings int
}

// NewBinder creates an unbound binder.
func NewBinder() *Binder {
	return &Binder{}
}

// Bind attaches the binder to doc. It scans only when the binder is not
// already bound and reports whether a scan happened.
func (b *Binder) Bind(doc *vdom.Document) bool {
	if b.bound && b.doc == doc {
		return false
	}
	b.doc = doc
	b.bound = true
	b.bindings = countBindings(doc.Root())
	return true
}

// Reset clears the bound flag after a full render replaced the region.
func (b *Binder) Reset() {
	b.bound = false
}

// Bound reports whether the binder is attached to a region.
func (b *Binder) Bound() bool {
	return b.bound
}

// Bindings returns the number of bound elements found by the last scan.
func (b *Binder) Bindings() int {
	return b.bindings
}

// Event builds the event message for in. It reports false when neither
// the element nor any ancestor inside the region binds the trigger.
func (b *Binder) Event(in Interaction) (protocol.Event, bool, error) {
	if !b.bound || b.doc == nil {
		return protocol.Event{}, false, ErrNotBound
	}
	n := b.doc.FindByID(in.ID)
	if n == nil {
		return protocol.Event{}, false, ErrElementNotFound
	}

	root := b.doc.Root()
	attrName := in.Trigger.Attr()
	for el := n; el != nil && el != root; el = el.Parent {
		if el.Type != html.ElementNode {
			continue
		}
		name, ok := getAttr(el, attrName)
		if !ok || name == "" {
			continue
		}
		ev := protocol.Event{
			Event:  name,
			Params: collectParams(el, in, el == n),
		}
		ev.Target, _ = getAttr(el, "name")
		return ev, true, nil
	}
	return protocol.Event{}, false, nil
}

// collectParams gathers lv-value-* attributes plus the element's own
// name/value. Forms contribute every named control they contain.
func collectParams(el *html.Node, in Interaction, origin bool) map[string]string {
	params := make(map[string]string)
	for _, a := range el.Attr {
		if k, ok := strings.CutPrefix(a.Key, ValuePrefix); ok && k != "" {
			params[k] = a.Val
		}
	}

	if el.DataAtom == atom.Form {
		walk(el, func(c *html.Node) {
			if name, ok := controlValue(c); ok {
				params[name] = value(c)
			}
		})
	} else if name, _ := getAttr(el, "name"); name != "" {
		v := value(el)
		if in.Value != nil && origin {
			v = *in.Value
		}
		params[name] = v
	}

	if in.Key != "" {
		params["key"] = in.Key
	}
	return params
}

// controlValue reports the name of a form control whose value is submitted.
func controlValue(n *html.Node) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	switch n.DataAtom {
	case atom.Input, atom.Select, atom.Textarea:
	default:
		return "", false
	}
	name, _ := getAttr(n, "name")
	if name == "" {
		return "", false
	}
	if _, disabled := getAttr(n, "disabled"); disabled {
		return "", false
	}
	if n.DataAtom == atom.Input {
		typ, _ := getAttr(n, "type")
		switch strings.ToLower(typ) {
		case "checkbox", "radio":
			if _, checked := getAttr(n, "checked"); !checked {
				return "", false
			}
		case "submit", "button", "reset", "image", "file":
			return "", false
		}
	}
	return name, true
}

// value returns the current value of an element as a browser would
// report it for a form control.
func value(n *html.Node) string {
	switch n.DataAtom {
	case atom.Textarea:
		return text(n)
	case atom.Select:
		var selected, first *html.Node
		walk(n, func(c *html.Node) {
			if c.Type != html.ElementNode || c.DataAtom != atom.Option {
				return
			}
			if first == nil {
				first = c
			}
			if _, ok := getAttr(c, "selected"); ok && selected == nil {
				selected = c
			}
		})
		if selected == nil {
			selected = first
		}
		if selected == nil {
			return ""
		}
		if v, ok := getAttr(selected, "value"); ok {
			return v
		}
		return strings.TrimSpace(text(selected))
	case atom.Input:
		v, ok := getAttr(n, "value")
		if !ok {
			typ, _ := getAttr(n, "type")
			if t := strings.ToLower(typ); t == "checkbox" || t == "radio" {
				return "on"
			}
		}
		return v
	}
	v, _ := getAttr(n, "value")
	return v
}

func countBindings(root *html.Node) int {
	count := 0
	walk(root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		for _, t := range Triggers {
			if _, ok := getAttr(n, t.Attr()); ok {
				count++
				return
			}
		}
	})
	return count
}

func walk(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		fn(c)
		walk(c, fn)
	}
}

func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
