package locate

import (
	"debug/dwarf"

	"github.com/dwloc/dwloc/pkg/dwarf/godwarf"
	"github.com/dwloc/dwloc/pkg/dwarf/split"
)

// Function is one function found by walking the debugging information:
// either a concrete subprogram with code, or one inlined instance of an
// inline function.
type Function struct {
	Tree *godwarf.Tree
	Name string
	// EntryPC is the lowest PC covered by the function.
	EntryPC uint64
	Inlined bool
	// HasFrameBase reports whether a frame base is in scope: the
	// function's own DW_AT_frame_base or, for inlined instances, the
	// enclosing subprogram's. It applies transitively to the location
	// attributes of the function's variables.
	HasFrameBase bool
	// Unit is the compilation unit the function belongs to.
	Unit *split.Unit
}

// Functions walks every concrete subprogram of the image and every
// inlined subroutine instance nested inside them, in section order.
// Subprograms without code (abstract inline definitions, declarations)
// are not reported themselves; their inlined instances are.
func (bi *Image) Functions(visit func(fn *Function) error) error {
	rdr := bi.dw.Reader()
	for {
		e, err := rdr.Next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagSubprogram {
			continue
		}

		tree, err := bi.LoadTree(e.Offset)
		if err != nil {
			return err
		}
		rdr.SkipChildren()

		unit := bi.unitFor(e.Offset)
		hasFB := hasFrameBaseAttr(tree.Entry)
		if len(tree.Ranges) > 0 {
			fn := &Function{
				Tree:         tree,
				Name:         dieName(tree.Entry),
				EntryPC:      tree.Ranges[0][0],
				HasFrameBase: hasFB,
				Unit:         unit,
			}
			if err := visit(fn); err != nil {
				return err
			}
		}
		if err := bi.visitInlined(tree, hasFB, unit, visit); err != nil {
			return err
		}
	}
	return nil
}

func (bi *Image) visitInlined(node *godwarf.Tree, parentHasFB bool, unit *split.Unit, visit func(fn *Function) error) error {
	for _, child := range node.Children {
		hasFB := parentHasFB
		switch child.Tag {
		case dwarf.TagInlinedSubroutine:
			if hasFrameBaseAttr(child.Entry) {
				hasFB = true
			}
			fn := &Function{
				Tree:         child,
				Name:         dieName(child.Entry),
				Inlined:      true,
				HasFrameBase: hasFB,
				Unit:         unit,
			}
			if len(child.Ranges) > 0 {
				fn.EntryPC = child.Ranges[0][0]
			}
			if err := visit(fn); err != nil {
				return err
			}
		case dwarf.TagSubprogram:
			// Nested subprograms establish their own frame base.
			hasFB = hasFrameBaseAttr(child.Entry)
			if len(child.Ranges) > 0 {
				fn := &Function{
					Tree:         child,
					Name:         dieName(child.Entry),
					EntryPC:      child.Ranges[0][0],
					HasFrameBase: hasFB,
					Unit:         unit,
				}
				if err := visit(fn); err != nil {
					return err
				}
			}
		}
		if err := bi.visitInlined(child, hasFB, unit, visit); err != nil {
			return err
		}
	}
	return nil
}

// HasFrameBase reports whether a frame base is in scope for tree. A DIE
// carrying DW_AT_frame_base always qualifies; an inlined subroutine
// without one inherits the frame base of the concrete subprogram whose
// code contains it.
func (bi *Image) HasFrameBase(tree *godwarf.Tree) bool {
	if hasFrameBaseAttr(tree.Entry) {
		return true
	}
	if tree.Tag != dwarf.TagInlinedSubroutine || len(tree.Ranges) == 0 {
		return false
	}
	pc := tree.Ranges[0][0]

	cu := bi.cuFor(tree.Offset)
	if cu == nil {
		return false
	}
	rdr := bi.dw.Reader()
	rdr.Seek(cu.rootOff)
	if _, err := rdr.Next(); err != nil {
		return false
	}
	for {
		e, err := rdr.Next()
		if err != nil || e == nil || e.Tag == dwarf.TagCompileUnit {
			return false
		}
		if e.Tag != dwarf.TagSubprogram || e.Offset == tree.Offset {
			continue
		}
		if !hasFrameBaseAttr(e) {
			continue
		}
		rngs, err := bi.dw.Ranges(e)
		if err != nil {
			continue
		}
		for _, rng := range rngs {
			if rng[0]+bi.StaticBase <= pc && pc < rng[1]+bi.StaticBase {
				return true
			}
		}
	}
}

// unitFor returns the compilation unit containing the DIE at off.
func (bi *Image) unitFor(off dwarf.Offset) *split.Unit {
	if cu := bi.cuFor(off); cu != nil {
		return cu.unit
	}
	return nil
}

func dieName(e godwarf.Entry) string {
	name, _ := e.Val(dwarf.AttrName).(string)
	return name
}
