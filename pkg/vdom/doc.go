// Package vdom diffs and patches server-rendered HTML fragments.
//
// A live region is re-rendered in full on every state change. Instead of
// shipping the whole fragment each time, the Differ compares the previous
// and next renders and emits an ordered sequence of patches addressed to
// blocks: elements carrying a stable identifier attribute (id by default).
//
// # Blocks
//
// Each block is compared through its "shell": the block's own tag and
// attributes plus its content with every nested block collapsed to a
// placeholder. When two shells are equal the nested blocks are compared
// recursively; when they differ only by blocks that appeared or
// disappeared as direct children, Add and Remove patches are emitted;
// otherwise the block is replaced wholesale. If the region itself
// cannot be reconciled (no identifiers, duplicate identifiers, a top-level
// shape change) the diff degrades to a single FullReplace.
//
// # Applying
//
// Document holds a parsed fragment and applies patches to it, resolving
// every patch target by its identifier. It is the reference client: for
// any pair of renders,
//
//	doc := ParseDocument(prev, "id")
//	doc.Apply(Diff(prev, next)...)
//	Equivalent(doc.HTML(), next) // always true
//
// Structural equivalence ignores whitespace-only text nodes and attribute
// order.
package vdom
