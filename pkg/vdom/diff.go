package vdom

import (
	"strings"

	"golang.org/x/net/html"
)

// Differ computes patch sequences between two renders of a region.
// A Differ is stateless and safe for concurrent use.
type Differ struct {
	idAttr string
}

// NewDiffer creates a Differ keyed on idAttr. An empty idAttr selects
// DefaultIDAttr.
func NewDiffer(idAttr string) *Differ {
	if idAttr == "" {
		idAttr = DefaultIDAttr
	}
	return &Differ{idAttr: idAttr}
}

// IDAttr returns the identifier attribute this Differ keys on.
func (d *Differ) IDAttr() string {
	return d.idAttr
}

// Diff compares two renders keyed on DefaultIDAttr.
func Diff(prev, next string) []Patch {
	return NewDiffer(DefaultIDAttr).Diff(prev, next)
}

// Diff returns the patches that transform prev into next. An empty result
// means the renders are structurally equivalent.
func (d *Differ) Diff(prev, next string) []Patch {
	if prev == next {
		return nil
	}
	if prev == "" {
		return fullReplace(next)
	}

	prevRoot, err := parseRegion(prev)
	if err != nil {
		return fullReplace(next)
	}
	nextRoot, err := parseRegion(next)
	if err != nil {
		return fullReplace(next)
	}

	dc := &diffContext{idAttr: d.idAttr}
	if dc.prevIdx, err = indexBlocks(prevRoot, d.idAttr); err != nil {
		return fullReplace(next)
	}
	if dc.nextIdx, err = indexBlocks(nextRoot, d.idAttr); err != nil {
		return fullReplace(next)
	}

	var patches []Patch
	if !dc.diffContent(prevRoot, nextRoot, &patches) {
		return fullReplace(next)
	}
	return patches
}

type diffContext struct {
	idAttr  string
	prevIdx map[string]*html.Node
	nextIdx map[string]*html.Node
}

// item is one non-blank child of a container, keyed by its shell. A block
// child's key is its placeholder, so changes inside it do not disturb the
// comparison of its siblings.
type item struct {
	node *html.Node
	id   string
	key  string
}

func (dc *diffContext) items(n *html.Node) []item {
	var out []item
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isBlank(c) {
			continue
		}
		var b strings.Builder
		canonical(&b, c, dc.idAttr, true, false)
		out = append(out, item{
			node: c,
			id:   blockID(c, dc.idAttr),
			key:  b.String(),
		})
	}
	return out
}

// diffBlock compares two elements sharing an identifier.
func (dc *diffContext) diffBlock(prev, next *html.Node, patches *[]Patch) {
	if canonicalString(prev, dc.idAttr, false) == canonicalString(next, dc.idAttr, false) {
		return
	}

	replace := Patch{Op: PatchReplace, Old: outerHTML(prev), New: outerHTML(next)}
	if prev.Data != next.Data || elementKey(prev) != elementKey(next) {
		*patches = append(*patches, replace)
		return
	}

	var sub []Patch
	if !dc.diffContent(prev, next, &sub) {
		*patches = append(*patches, replace)
		return
	}
	*patches = append(*patches, sub...)
}

// diffContent compares the children of two containers. It returns false
// when the children cannot be reconciled by identifier, in which case the
// caller replaces the container as a whole. Patches are emitted in the
// order removals, nested updates, additions.
func (dc *diffContext) diffContent(prev, next *html.Node, patches *[]Patch) bool {
	prevItems := dc.items(prev)
	nextItems := dc.items(next)

	var removed []item
	kept := prevItems[:0:0]
	for _, it := range prevItems {
		if it.id != "" {
			if _, ok := dc.nextIdx[it.id]; !ok {
				removed = append(removed, it)
				continue
			}
		}
		kept = append(kept, it)
	}

	added := make(map[int]bool)
	matched := nextItems[:0:0]
	for i, it := range nextItems {
		if it.id != "" {
			if _, ok := dc.prevIdx[it.id]; !ok {
				added[i] = true
				continue
			}
		}
		matched = append(matched, it)
	}

	if len(kept) != len(matched) {
		return false
	}
	for i := range kept {
		if kept[i].key != matched[i].key {
			return false
		}
	}

	// Every addition needs a block immediately before it to anchor on.
	for i := range nextItems {
		if !added[i] {
			continue
		}
		if i == 0 || nextItems[i-1].id == "" {
			return false
		}
	}

	for _, it := range removed {
		*patches = append(*patches, Patch{Op: PatchRemove, Old: outerHTML(it.node)})
	}

	for i := range kept {
		pairs := dc.blockIDs(kept[i].node, nil)
		for _, id := range pairs {
			dc.diffBlock(dc.prevIdx[id], dc.nextIdx[id], patches)
		}
	}

	for i, it := range nextItems {
		if !added[i] {
			continue
		}
		anchor := nextItems[i-1].node
		*patches = append(*patches, Patch{Op: PatchAdd, Old: outerHTML(anchor), New: outerHTML(it.node)})
	}
	return true
}

// blockIDs collects the identifiers of the outermost blocks at or below n.
func (dc *diffContext) blockIDs(n *html.Node, ids []string) []string {
	if id := blockID(n, dc.idAttr); id != "" {
		return append(ids, id)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		ids = dc.blockIDs(c, ids)
	}
	return ids
}
