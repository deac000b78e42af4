// Package loclist classifies location attributes and reads the DWARF
// location list sections (debug_loc for DWARF versions 2 through 4,
// debug_loclists for version 5).
package loclist

import (
	"debug/dwarf"
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by all errors caused by corrupt location list
// data: truncated lists, bad debug_addr indices, unknown entry kinds.
// It is distinct from "no location", which is not an error.
var ErrMalformed = errors.New("malformed location list")

// Class is the shape of a location attribute.
type Class uint8

const (
	// ClassNone means the attribute holds no location information.
	ClassNone Class = iota
	// ClassSingleExpr means the attribute holds one inline expression
	// covering every PC of the owning DIE.
	ClassSingleExpr
	// ClassRangeList means the attribute references a location list:
	// a sequence of (PC range, expression) pairs.
	ClassRangeList
)

// Classify determines whether a location attribute holds a single inline
// expression or a reference into a location list section.
func Classify(field *dwarf.Field) Class {
	if field == nil {
		return ClassNone
	}
	switch field.Class {
	case dwarf.ClassExprLoc, dwarf.ClassBlock:
		return ClassSingleExpr
	case dwarf.ClassLocListPtr, dwarf.ClassLocList:
		return ClassRangeList
	case dwarf.ClassConstant:
		// DWARF2 encoded loclist references as plain data4/data8.
		return ClassRangeList
	}
	return ClassNone
}

// Entry is a single location list entry: expression Instr is valid for
// PCs in [LowPC, HighPC).
type Entry struct {
	LowPC, HighPC uint64
	Instr         []byte
}

// Empty reports whether the entry covers no PC at all. Empty entries are
// valid, reportable conditions: they mean "no effective location", they
// never describe the inverted range [HighPC, LowPC).
func (e *Entry) Empty() bool {
	return e.LowPC >= e.HighPC
}

// BaseAddressSelection returns true if entry.HighPC should be used as the
// base address for subsequent entries (DWARF versions 2 through 4).
func (e *Entry) BaseAddressSelection() bool {
	return e.LowPC == ^uint64(0)
}

// Reader finds the loclist entry covering a PC. Base is the base address
// of the compile unit and staticBase the load bias of the image.
type Reader interface {
	Find(off int, staticBase, base, pc uint64, debugAddr DebugAddr) (*Entry, error)
	Empty() bool
}

// DebugAddr resolves indexed addresses through the debug_addr section
// (DWARF v5); it may be nil for version 4 lists.
type DebugAddr interface {
	Get(idx uint64) (uint64, error)
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrMalformed)...)
}
