package vdom

import "fmt"

// PatchOp is the type of patch operation.
type PatchOp uint8

const (
	PatchReplace     PatchOp = 0x01 // Replace one block
	PatchAdd         PatchOp = 0x02 // Insert a block after an anchor block
	PatchRemove      PatchOp = 0x03 // Remove one block
	PatchFullReplace PatchOp = 0x04 // Replace the whole region
)

// String returns the string representation of the PatchOp.
func (op PatchOp) String() string {
	switch op {
	case PatchReplace:
		return "Replace"
	case PatchAdd:
		return "Add"
	case PatchRemove:
		return "Remove"
	case PatchFullReplace:
		return "FullReplace"
	default:
		return "Unknown"
	}
}

// Patch is a single step of a patch sequence.
//
//	Replace:     Old = previous outer HTML of the block, New = next outer HTML
//	Add:         Old = outer HTML of the anchor block, New = inserted block
//	Remove:      Old = outer HTML of the removed block
//	FullReplace: New = the whole next render
type Patch struct {
	Op  PatchOp
	Old string
	New string
}

// String returns a short description for logs and test failures.
func (p Patch) String() string {
	return fmt.Sprintf("%s(old=%q new=%q)", p.Op, p.Old, p.New)
}

// IsFull reports whether patches degrade to a full region replacement.
func IsFull(patches []Patch) bool {
	return len(patches) == 1 && patches[0].Op == PatchFullReplace
}

func fullReplace(next string) []Patch {
	return []Patch{{Op: PatchFullReplace, New: next}}
}
