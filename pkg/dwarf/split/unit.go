// Package split links skeleton compilation units to the out-of-line
// split units (.dwo files) they reference.
// See DWARFv5 section 3.1.2 page 66 and the GNU DebugFission extension
// for DWARF version 4.
package split

import "fmt"

// Signature is the 8-byte unit id shared by a skeleton and its split
// unit. Equal signatures identify the same logical unit across files.
type Signature uint64

// MatchSignature reports whether a and b identify the same unit.
func MatchSignature(a, b Signature) bool {
	return a == b
}

// Kind describes the role of a compilation unit in split DWARF.
type Kind uint8

const (
	// KindOrdinary is a self-contained compilation unit.
	KindOrdinary Kind = iota
	// KindSkeleton is a unit whose debug information lives in a
	// separate .dwo file.
	KindSkeleton
	// KindSplitCompile is the out-of-line counterpart of a skeleton.
	KindSplitCompile
)

func (k Kind) String() string {
	switch k {
	case KindOrdinary:
		return "compile"
	case KindSkeleton:
		return "skeleton"
	case KindSplitCompile:
		return "split compile"
	}
	return fmt.Sprintf("unknown unit kind %d", uint8(k))
}

// Unit is one compilation unit header plus the attributes that drive
// split-unit resolution.
type Unit struct {
	Kind    Kind
	Sig     Signature
	Offset  uint64 // offset of the unit header in debug_info
	Version uint8

	Name    string // DW_AT_name of the root DIE
	CompDir string // DW_AT_comp_dir, optional
	DwoName string // DW_AT_dwo_name or DW_AT_GNU_dwo_name

	// Tri-state split cache: unresolved until resolved is set, then
	// link is either the counterpart unit or nil for "none".
	link     *Unit
	resolved bool
}

// Split returns the split unit linked to this skeleton, or nil.
func (u *Unit) Split() *Unit {
	if u.Kind != KindSkeleton {
		return nil
	}
	return u.link
}

// Skeleton returns the skeleton linked to this split unit, or nil.
func (u *Unit) Skeleton() *Unit {
	if u.Kind != KindSplitCompile {
		return nil
	}
	return u.link
}

// Resolved reports whether split-unit resolution already ran for this
// unit. A resolved unit with a nil link has no split unit.
func (u *Unit) Resolved() bool {
	return u.resolved
}
