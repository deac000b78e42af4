package godwarf

import (
	"debug/dwarf"

	"github.com/dwloc/dwloc/pkg/dwarf/op"
)

// ResolveBaseType loads the DW_TAG_base_type DIE at off and normalizes it
// for use by typed expression operations. The size is always converted to
// bits: DW_AT_byte_size is multiplied by 8, DW_AT_bit_size is used as-is.
func ResolveBaseType(dw *dwarf.Data, off dwarf.Offset) (*op.BaseType, error) {
	rdr := dw.Reader()
	rdr.Seek(off)
	e, err := rdr.Next()
	if err != nil {
		return nil, err
	}
	if e == nil || e.Tag != dwarf.TagBaseType {
		return nil, op.ErrNotBaseType
	}

	bt := &op.BaseType{Offset: uint64(off)}
	bt.Name, _ = e.Val(dwarf.AttrName).(string)

	enc, ok := e.Val(dwarf.AttrEncoding).(int64)
	if !ok {
		return nil, op.ErrNoSizeOrEncoding
	}
	bt.Encoding = uint64(enc)

	if bsz, ok := e.Val(dwarf.AttrByteSize).(int64); ok {
		bt.Bits = uint64(bsz) * 8
	} else if bits, ok := e.Val(dwarf.AttrBitSize).(int64); ok {
		bt.Bits = uint64(bits)
	} else {
		return nil, op.ErrNoSizeOrEncoding
	}

	return bt, nil
}
