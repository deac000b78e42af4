package locate

import (
	"debug/dwarf"
	"errors"
	"fmt"

	"github.com/dwloc/dwloc/pkg/dwarf/godwarf"
	"github.com/dwloc/dwloc/pkg/dwarf/loclist"
	"github.com/dwloc/dwloc/pkg/dwarf/op"
)

// ContextFor builds the evaluation context for location attributes of
// the DIE tree rooted at tree, at program counter pc. hasFrameBase
// states whether a frame base is in scope for the DIE; use the scope
// walker to compute it for nested and inlined scopes.
func (bi *Image) ContextFor(tree *godwarf.Tree, pc uint64, hasFrameBase bool) *op.Context {
	cu := bi.cuFor(tree.Offset)
	ctx := &op.Context{
		PC:           pc,
		HasFrameBase: hasFrameBase,
		ETRel:        bi.etRel,
		PtrSize:      bi.ptrSize,
		CFA:          bi.CFA,
	}
	if cu != nil {
		ctx.CUBase = cu.unit.Offset
	}
	ctx.Expr = &evalCtx{bi: bi, cu: cu}
	return ctx
}

// evalCtx resolves the DIE, base-type and debug_addr references of one
// expression evaluation.
type evalCtx struct {
	bi *Image
	cu *cuData
}

func (c *evalCtx) BaseType(off uint64) (*op.BaseType, error) {
	return godwarf.ResolveBaseType(c.bi.dw, dwarf.Offset(off))
}

func (c *evalCtx) CallExpr(off uint64) ([]byte, error) {
	e, err := c.bi.entryAt(dwarf.Offset(off))
	if err != nil {
		return nil, err
	}
	field := e.AttrField(dwarf.AttrLocation)
	if loclist.Classify(field) != loclist.ClassSingleExpr {
		// DWARF procedures always carry a self-contained expression.
		return nil, nil
	}
	return field.Val.([]byte), nil
}

func (c *evalCtx) LocationOf(off, pc uint64) ([]byte, bool, error) {
	e, err := c.bi.entryAt(dwarf.Offset(off))
	if err != nil {
		return nil, false, err
	}
	if e.Val(dwarf.AttrConstValue) != nil {
		return nil, true, nil
	}
	field := e.AttrField(dwarf.AttrLocation)
	switch loclist.Classify(field) {
	case loclist.ClassSingleExpr:
		return field.Val.([]byte), false, nil
	case loclist.ClassRangeList:
		entry, err := c.bi.findLoclistEntry(c.bi.cuFor(dwarf.Offset(off)), field, pc)
		if err != nil || entry == nil {
			return nil, false, err
		}
		return entry.Instr, false, nil
	}
	return nil, false, nil
}

func (c *evalCtx) IsParameter(off uint64) (bool, error) {
	e, err := c.bi.entryAt(dwarf.Offset(off))
	if err != nil {
		return false, err
	}
	return e.Tag == dwarf.TagFormalParameter, nil
}

func (c *evalCtx) DebugAddr(idx uint64) (uint64, error) {
	if c.bi.debugAddr == nil {
		return 0, errors.New("debug_addr section not present")
	}
	var addrBase uint64
	if c.cu != nil {
		addrBase = c.cu.addrBase
	}
	return c.bi.debugAddr.GetSubsection(addrBase).Get(idx)
}

// loclistReader returns the reader appropriate for the unit's DWARF
// version, or nil if the needed section is missing.
func (bi *Image) loclistReader(cu *cuData) loclist.Reader {
	if cu != nil && cu.version >= 5 {
		if bi.loclist5 != nil && !bi.loclist5.Empty() {
			return bi.loclist5
		}
		return nil
	}
	if bi.loclist2 != nil && !bi.loclist2.Empty() {
		return bi.loclist2
	}
	return nil
}

func (bi *Image) loclistBase(cu *cuData) uint64 {
	if cu == nil {
		return bi.StaticBase
	}
	return cu.lowPC + bi.StaticBase
}

func (bi *Image) debugAddrFor(cu *cuData) *godwarf.DebugAddr {
	if bi.debugAddr == nil {
		return nil
	}
	var addrBase uint64
	if cu != nil {
		addrBase = cu.addrBase
	}
	return bi.debugAddr.GetSubsection(addrBase)
}

// findLoclistEntry finds the location list entry covering pc for a
// range-list class attribute.
func (bi *Image) findLoclistEntry(cu *cuData, field *dwarf.Field, pc uint64) (*loclist.Entry, error) {
	off, err := loclistOffset(field)
	if err != nil {
		return nil, err
	}
	rdr := bi.loclistReader(cu)
	if rdr == nil {
		return nil, nil
	}
	return rdr.Find(int(off), bi.StaticBase, bi.loclistBase(cu), pc, bi.debugAddrFor(cu))
}

func loclistOffset(field *dwarf.Field) (int64, error) {
	switch v := field.Val.(type) {
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	}
	return 0, fmt.Errorf("unexpected location field type %T", field.Val)
}
