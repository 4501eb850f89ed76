package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PatchType discriminates a PatchInstruction.
type PatchType string

const (
	// PatchReplace swaps the element identified by Old for New.
	PatchReplace PatchType = "replace"

	// PatchAdd inserts New immediately after the element identified by Old.
	PatchAdd PatchType = "add"

	// PatchRemove deletes the element identified by Old. New is null.
	PatchRemove PatchType = "remove"
)

// ParsePatchType resolves a discriminator case-insensitively.
func ParsePatchType(s string) (PatchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(PatchReplace):
		return PatchReplace, nil
	case string(PatchAdd):
		return PatchAdd, nil
	case string(PatchRemove):
		return PatchRemove, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPatchType, s)
}

// PatchInstruction is one step of a patch sequence.
// Empty Old or New fields are encoded as JSON null.
type PatchInstruction struct {
	Type PatchType
	Old  string
	New  string
}

type patchWire struct {
	Type string  `json:"type"`
	Old  *string `json:"old"`
	New  *string `json:"new"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MarshalJSON implements json.Marshaler.
func (p PatchInstruction) MarshalJSON() ([]byte, error) {
	return marshal(patchWire{
		Type: string(p.Type),
		Old:  nullable(p.Old),
		New:  nullable(p.New),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The type discriminator is
// matched case-insensitively.
func (p *PatchInstruction) UnmarshalJSON(data []byte) error {
	var w patchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	pt, err := ParsePatchType(w.Type)
	if err != nil {
		return err
	}
	p.Type = pt
	p.Old = deref(w.Old)
	p.New = deref(w.New)
	return nil
}

// Replace builds a replace instruction.
func Replace(oldFragment, newFragment string) PatchInstruction {
	return PatchInstruction{Type: PatchReplace, Old: oldFragment, New: newFragment}
}

// Add builds an add instruction anchored after the element in anchor.
func Add(anchor, fragment string) PatchInstruction {
	return PatchInstruction{Type: PatchAdd, Old: anchor, New: fragment}
}

// Remove builds a remove instruction.
func Remove(oldFragment string) PatchInstruction {
	return PatchInstruction{Type: PatchRemove, Old: oldFragment}
}
