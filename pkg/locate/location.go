package locate

import (
	"debug/dwarf"

	"github.com/dwloc/dwloc/pkg/dwarf/godwarf"
	"github.com/dwloc/dwloc/pkg/dwarf/loclist"
	"github.com/dwloc/dwloc/pkg/dwarf/op"
)

// LocationAt classifies the location attribute attr of tree, selects
// the expression covering pc and evaluates it. A missing attribute or a
// PC not covered by any range classifies as OptimizedOut. Pass a nil
// ctx to build a default context; it assumes the frame base is in scope
// only if tree itself carries DW_AT_frame_base.
func (bi *Image) LocationAt(tree *godwarf.Tree, attr dwarf.Attr, pc uint64, ctx *op.Context) (op.Result, error) {
	if ctx == nil {
		ctx = bi.ContextFor(tree, pc, hasFrameBaseAttr(tree.Entry))
	}

	field := godwarf.AttrField(tree.Entry, attr)
	switch loclist.Classify(field) {
	case loclist.ClassSingleExpr:
		return op.Eval(field.Val.([]byte), ctx)
	case loclist.ClassRangeList:
		entry, err := bi.findLoclistEntry(bi.cuFor(tree.Offset), field, pc)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return op.OptimizedOut{}, nil
		}
		return op.Eval(entry.Instr, ctx)
	}
	return op.OptimizedOut{}, nil
}

// LocationCovers reports whether attr holds location information
// covering pc, without evaluating it.
func (bi *Image) LocationCovers(tree *godwarf.Tree, attr dwarf.Attr, pc uint64) (bool, error) {
	field := godwarf.AttrField(tree.Entry, attr)
	switch loclist.Classify(field) {
	case loclist.ClassSingleExpr:
		return true, nil
	case loclist.ClassRangeList:
		entry, err := bi.findLoclistEntry(bi.cuFor(tree.Offset), field, pc)
		if err != nil {
			return false, err
		}
		return entry != nil, nil
	}
	return false, nil
}

// RangedLocations yields, in section order, every (range, expression)
// pair held by attr. Single expressions are reported as one entry
// covering the whole extent of tree. Empty entries are yielded too,
// after being routed through the OnEmptyRange hook. Iteration stops
// when visit returns false.
func (bi *Image) RangedLocations(tree *godwarf.Tree, attr dwarf.Attr, visit func(e *loclist.Entry) bool) error {
	field := godwarf.AttrField(tree.Entry, attr)
	switch loclist.Classify(field) {
	case loclist.ClassSingleExpr:
		e := &loclist.Entry{Instr: field.Val.([]byte)}
		if len(tree.Ranges) > 0 {
			e.LowPC = tree.Ranges[0][0]
			e.HighPC = tree.Ranges[len(tree.Ranges)-1][1]
		} else {
			e.HighPC = ^uint64(0)
		}
		visit(e)
		return nil

	case loclist.ClassRangeList:
		cu := bi.cuFor(tree.Offset)
		off, err := loclistOffset(field)
		if err != nil {
			return err
		}
		if cu != nil && cu.version >= 5 {
			if bi.loclist5 == nil || bi.loclist5.Empty() {
				return nil
			}
			it := bi.loclist5.Iterate(int(off), bi.StaticBase, bi.loclistBase(cu), bi.debugAddrFor(cu))
			var e loclist.Entry
			for it.Next(&e) {
				if e.Empty() && bi.OnEmptyRange != nil {
					bi.OnEmptyRange(tree, &e)
				}
				if !visit(&e) {
					return nil
				}
			}
			if err := it.Err(); err != nil {
				return err
			}
			if instr := it.DefaultInstr(); instr != nil {
				visit(&loclist.Entry{HighPC: ^uint64(0), Instr: instr})
			}
			return nil
		}
		if bi.loclist2 == nil || bi.loclist2.Empty() {
			return nil
		}
		it := bi.loclist2.Iterate(int(off), bi.StaticBase, bi.loclistBase(cu))
		var e loclist.Entry
		for it.Next(&e) {
			if e.Empty() && bi.OnEmptyRange != nil {
				bi.OnEmptyRange(tree, &e)
			}
			if !visit(&e) {
				return nil
			}
		}
		return it.Err()
	}
	return nil
}

// FrameBaseRanges yields the (range, expression) pairs of the frame
// base attribute of a function DIE.
func (bi *Image) FrameBaseRanges(tree *godwarf.Tree, visit func(e *loclist.Entry) bool) error {
	return bi.RangedLocations(tree, dwarf.AttrFrameBase, visit)
}

func hasFrameBaseAttr(e godwarf.Entry) bool {
	return e.Val(dwarf.AttrFrameBase) != nil
}
