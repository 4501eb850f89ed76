package vdom

import (
	"errors"
	"fmt"

	"golang.org/x/net/html"
)

// Errors returned (wrapped in *ApplyError) when a patch cannot be applied.
var (
	// ErrTargetNotFound means no element carries the patch's identifier.
	ErrTargetNotFound = errors.New("vdom: patch target not found")

	// ErrNoIdentifier means the patch's Old fragment has no identifier.
	ErrNoIdentifier = errors.New("vdom: fragment has no identifier")

	// ErrStaleFragment means the target no longer matches the Old fragment.
	ErrStaleFragment = errors.New("vdom: target does not match previous fragment")

	// ErrUnknownOp is returned for an unrecognized PatchOp.
	ErrUnknownOp = errors.New("vdom: unknown patch op")
)

// ApplyError reports which patch of a sequence failed.
type ApplyError struct {
	Index int
	Patch Patch
	Err   error
}

// Error returns the error message.
func (e *ApplyError) Error() string {
	return fmt.Sprintf("vdom: apply patch %d (%s): %v", e.Index, e.Patch.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Document is a parsed live region that patches can be applied to.
// It is not safe for concurrent use.
type Document struct {
	root   *html.Node
	idAttr string

	// Strict makes Replace and Remove verify that the target is
	// structurally equivalent to the patch's Old fragment.
	Strict bool
}

// ParseDocument parses src as the content of a live region.
func ParseDocument(src, idAttr string) (*Document, error) {
	if idAttr == "" {
		idAttr = DefaultIDAttr
	}
	root, err := parseRegion(src)
	if err != nil {
		return nil, err
	}
	return &Document{root: root, idAttr: idAttr, Strict: true}, nil
}

// Root returns the region root. Its children are the region content.
func (d *Document) Root() *html.Node {
	return d.root
}

// HTML renders the current region content.
func (d *Document) HTML() string {
	return innerHTML(d.root)
}

// FindByID returns the element carrying id, or nil.
func (d *Document) FindByID(id string) *html.Node {
	return findBlock(d.root, d.idAttr, id)
}

// Apply applies patches in order. On error the document may hold a
// partially patched state; callers recover with a full render.
func (d *Document) Apply(patches ...Patch) error {
	for i, p := range patches {
		if err := d.apply(p); err != nil {
			return &ApplyError{Index: i, Patch: p, Err: err}
		}
	}
	return nil
}

func (d *Document) apply(p Patch) error {
	switch p.Op {
	case PatchFullReplace:
		return d.Reset(p.New)

	case PatchReplace:
		target, err := d.target(p.Old, d.Strict)
		if err != nil {
			return err
		}
		nodes, err := parseInto(p.New, target.Parent)
		if err != nil {
			return err
		}
		parent := target.Parent
		for _, n := range nodes {
			parent.InsertBefore(n, target)
		}
		parent.RemoveChild(target)
		return nil

	case PatchRemove:
		target, err := d.target(p.Old, d.Strict)
		if err != nil {
			return err
		}
		target.Parent.RemoveChild(target)
		return nil

	case PatchAdd:
		anchor, err := d.target(p.Old, false)
		if err != nil {
			return err
		}
		nodes, err := parseInto(p.New, anchor.Parent)
		if err != nil {
			return err
		}
		parent := anchor.Parent
		next := anchor.NextSibling
		for _, n := range nodes {
			parent.InsertBefore(n, next)
		}
		return nil
	}
	return ErrUnknownOp
}

// Reset replaces the whole region content with src.
func (d *Document) Reset(src string) error {
	root, err := parseRegion(src)
	if err != nil {
		return err
	}
	d.root = root
	return nil
}

// target resolves the element addressed by fragment's identifier.
func (d *Document) target(fragment string, strict bool) (*html.Node, error) {
	nodes, err := parseInto(fragment, templateContext())
	if err != nil {
		return nil, err
	}
	var el *html.Node
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			el = n
			break
		}
	}
	id := blockID(el, d.idAttr)
	if id == "" {
		return nil, ErrNoIdentifier
	}

	target := d.FindByID(id)
	if target == nil || target.Parent == nil {
		return nil, fmt.Errorf("%w: %s=%q", ErrTargetNotFound, d.idAttr, id)
	}

	if strict {
		// Re-parse in the target's context so table content and the like
		// normalize the same way on both sides.
		ctxNodes, err := parseInto(fragment, target.Parent)
		if err == nil {
			for _, n := range ctxNodes {
				if n.Type == html.ElementNode {
					el = n
					break
				}
			}
		}
		if canonicalString(el, d.idAttr, false) != canonicalString(target, d.idAttr, false) {
			return nil, fmt.Errorf("%w: %s=%q", ErrStaleFragment, d.idAttr, id)
		}
	}
	return target, nil
}

// Apply applies patches to prev and returns the resulting HTML.
func Apply(prev string, patches []Patch, idAttr string) (string, error) {
	doc, err := ParseDocument(prev, idAttr)
	if err != nil {
		return "", err
	}
	if err := doc.Apply(patches...); err != nil {
		return "", err
	}
	return doc.HTML(), nil
}
