package loclist

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dwloc/dwloc/pkg/dwarf/util"
)

type fakeDebugAddr map[uint64]uint64

func (f fakeDebugAddr) Get(idx uint64) (uint64, error) {
	addr, ok := f[idx]
	if !ok {
		return 0, errors.New("index out of range")
	}
	return addr, nil
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		class dwarf.Class
		want  Class
	}{
		{dwarf.ClassExprLoc, ClassSingleExpr},
		{dwarf.ClassBlock, ClassSingleExpr},
		{dwarf.ClassLocListPtr, ClassRangeList},
		{dwarf.ClassLocList, ClassRangeList},
		{dwarf.ClassConstant, ClassRangeList},
		{dwarf.ClassString, ClassNone},
	} {
		got := Classify(&dwarf.Field{Class: tc.class})
		if got != tc.want {
			t.Errorf("class %v: expected %v, got %v", tc.class, tc.want, got)
		}
	}
	if Classify(nil) != ClassNone {
		t.Errorf("nil field should classify as ClassNone")
	}
}

func TestEntryEmpty(t *testing.T) {
	if !(&Entry{LowPC: 0x10, HighPC: 0x10}).Empty() {
		t.Errorf("zero length entry should be empty")
	}
	if !(&Entry{LowPC: 0x20, HighPC: 0x10}).Empty() {
		t.Errorf("inverted entry should be empty")
	}
	if (&Entry{LowPC: 0x10, HighPC: 0x20}).Empty() {
		t.Errorf("proper entry should not be empty")
	}
}

// loc2 assembles one DWARF2-4 location list with 8 byte addresses.
func loc2(entries ...[3]interface{}) []byte {
	var buf bytes.Buffer
	addr := func(v interface{}) {
		var b [8]byte
		switch x := v.(type) {
		case int:
			binary.LittleEndian.PutUint64(b[:], uint64(x))
		case uint64:
			binary.LittleEndian.PutUint64(b[:], x)
		}
		buf.Write(b[:])
	}
	for _, e := range entries {
		addr(e[0])
		addr(e[1])
		if e[2] == nil {
			continue // base address selection entries carry no expression
		}
		instr := e[2].([]byte)
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(instr)))
		buf.Write(l[:])
		buf.Write(instr)
	}
	addr(0)
	addr(0)
	return buf.Bytes()
}

func TestDwarf2Find(t *testing.T) {
	data := loc2(
		[3]interface{}{0x10, 0x20, []byte{0x50}}, // DW_OP_reg0
		[3]interface{}{0x20, 0x30, []byte{0x51}},
	)
	rdr := NewDwarf2Reader(data, 8)

	e, err := rdr.Find(0, 0, 0x1000, 0x1025, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.LowPC != 0x1020 || e.HighPC != 0x1030 || !bytes.Equal(e.Instr, []byte{0x51}) {
		t.Errorf("wrong entry: %#v", e)
	}

	// PC covered by no entry.
	e, err = rdr.Find(0, 0, 0x1000, 0x1040, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Errorf("expected no entry, got %#v", e)
	}
}

func TestDwarf2BaseAddressSelection(t *testing.T) {
	data := loc2(
		[3]interface{}{^uint64(0), uint64(0x400000), nil},
		[3]interface{}{0x10, 0x20, []byte{0x50}},
	)
	rdr := NewDwarf2Reader(data, 8)
	e, err := rdr.Find(0, 0x1000, 0x99, 0x401015, nil)
	if err != nil {
		t.Fatal(err)
	}
	// The selected base replaces the CU base and is offset by the static base.
	if e == nil || e.LowPC != 0x401010 || e.HighPC != 0x401020 {
		t.Errorf("wrong entry: %#v", e)
	}
}

func TestDwarf2EmptyEntries(t *testing.T) {
	data := loc2(
		[3]interface{}{0x10, 0x10, []byte{0x50}}, // empty, still yielded
		[3]interface{}{0x10, 0x20, []byte{0x51}},
	)
	rdr := NewDwarf2Reader(data, 8)

	var got []Entry
	var e Entry
	it := rdr.Iterate(0, 0, 0)
	for it.Next(&e) {
		got = append(got, e)
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !got[0].Empty() || got[1].Empty() {
		t.Errorf("wrong entries: %#v", got)
	}

	// Find never returns the empty entry.
	found, err := rdr.Find(0, 0, 0, 0x10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || !bytes.Equal(found.Instr, []byte{0x51}) {
		t.Errorf("wrong entry: %#v", found)
	}
}

func TestDwarf2Malformed(t *testing.T) {
	data := loc2([3]interface{}{0x10, 0x20, []byte{0x50}})

	// Truncate inside the second address of the first entry.
	rdr := NewDwarf2Reader(data[:12], 8)
	_, err := rdr.Find(0, 0, 0, 0x15, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}

	// Offset past the end of the section.
	rdr = NewDwarf2Reader(data, 8)
	_, err = rdr.Find(len(data)+1, 0, 0, 0x15, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

// loc5 wraps body into a debug_loclists section with a version 5 header
// and returns the section plus the offset of the body.
func loc5(body []byte) ([]byte, int) {
	var buf bytes.Buffer
	var lenb [4]byte
	binary.LittleEndian.PutUint32(lenb[:], uint32(8+len(body)))
	buf.Write(lenb[:])
	buf.Write([]byte{5, 0}) // version
	buf.WriteByte(8)        // address size
	buf.WriteByte(0)        // segment selector size
	buf.Write([]byte{0, 0, 0, 0}) // offset entry count
	off := buf.Len()
	buf.Write(body)
	return buf.Bytes(), off
}

func lle(kind uint8, args ...interface{}) []byte {
	var buf bytes.Buffer
	buf.WriteByte(kind)
	for _, arg := range args {
		switch x := arg.(type) {
		case uint:
			util.EncodeULEB128(&buf, uint64(x))
		case uint64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], x)
			buf.Write(b[:])
		case []byte:
			util.EncodeULEB128(&buf, uint64(len(x)))
			buf.Write(x)
		}
	}
	return buf.Bytes()
}

func cat(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}

func TestDwarf5OffsetPair(t *testing.T) {
	body := cat(
		lle(_DW_LLE_base_address, uint64(0x400000)),
		lle(_DW_LLE_offset_pair, uint(0x10), uint(0x20), []byte{0x50}),
		lle(_DW_LLE_end_of_list),
	)
	data, off := loc5(body)
	rdr := NewDwarf5Reader(data)

	e, err := rdr.Find(off, 0x1000, 0, 0x401015, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.LowPC != 0x401010 || e.HighPC != 0x401020 || !bytes.Equal(e.Instr, []byte{0x50}) {
		t.Errorf("wrong entry: %#v", e)
	}
}

func TestDwarf5Indexed(t *testing.T) {
	addrs := fakeDebugAddr{0: 0x1000, 1: 0x2000, 2: 0x3000}
	body := cat(
		lle(_DW_LLE_startx_endx, uint(0), uint(1), []byte{0x50}),
		lle(_DW_LLE_startx_length, uint(2), uint(0x100), []byte{0x51}),
		lle(_DW_LLE_end_of_list),
	)
	data, off := loc5(body)
	rdr := NewDwarf5Reader(data)

	e, err := rdr.Find(off, 0, 0, 0x1500, addrs)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.LowPC != 0x1000 || e.HighPC != 0x2000 {
		t.Errorf("wrong entry: %#v", e)
	}

	e, err = rdr.Find(off, 0, 0, 0x3080, addrs)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.LowPC != 0x3000 || e.HighPC != 0x3100 || !bytes.Equal(e.Instr, []byte{0x51}) {
		t.Errorf("wrong entry: %#v", e)
	}

	// Indexed entries without a debug_addr section are malformed.
	_, err = rdr.Find(off, 0, 0, 0x1500, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDwarf5DefaultLocation(t *testing.T) {
	body := cat(
		lle(_DW_LLE_default_location, []byte{0x50}),
		lle(_DW_LLE_start_end, uint64(0x10), uint64(0x20), []byte{0x51}),
		lle(_DW_LLE_end_of_list),
	)
	data, off := loc5(body)
	rdr := NewDwarf5Reader(data)

	// Uncovered PCs fall back to the default location.
	e, err := rdr.Find(off, 0, 0, 0x99, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || !bytes.Equal(e.Instr, []byte{0x50}) {
		t.Errorf("expected default location, got %#v", e)
	}

	e, err = rdr.Find(off, 0, 0, 0x15, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || !bytes.Equal(e.Instr, []byte{0x51}) {
		t.Errorf("wrong entry: %#v", e)
	}
}

func TestDwarf5Truncated(t *testing.T) {
	// The second offset_pair operand ends with its continuation bit set.
	data, off := loc5([]byte{_DW_LLE_offset_pair, 0x10, 0x80})
	rdr := NewDwarf5Reader(data)
	_, err := rdr.Find(off, 0, 0, 0x15, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}

	// List cut off before the end_of_list marker.
	data, off = loc5(lle(_DW_LLE_offset_pair, uint(0x10), uint(0x20), []byte{0x50}))
	rdr = NewDwarf5Reader(data)
	_, err = rdr.Find(off, 0, 0, 0x30, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDwarf5UnknownKind(t *testing.T) {
	data, off := loc5([]byte{0x99})
	rdr := NewDwarf5Reader(data)
	_, err := rdr.Find(off, 0, 0, 0x15, nil)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestDwarf5EmptyEntries(t *testing.T) {
	body := cat(
		lle(_DW_LLE_start_end, uint64(0x10), uint64(0x10), []byte{0x50}),
		lle(_DW_LLE_end_of_list),
	)
	data, off := loc5(body)
	rdr := NewDwarf5Reader(data)

	var e Entry
	it := rdr.Iterate(off, 0, 0, nil)
	if !it.Next(&e) {
		t.Fatal("expected one entry")
	}
	if !e.Empty() {
		t.Errorf("expected empty entry, got %#v", e)
	}
	if it.Next(&e) {
		t.Errorf("expected end of list")
	}
}

// Both encodings of the same location list must resolve identically.
func TestVersionEquivalence(t *testing.T) {
	v2 := NewDwarf2Reader(loc2(
		[3]interface{}{0x10, 0x20, []byte{0x50}},
		[3]interface{}{0x20, 0x38, []byte{0x51}},
	), 8)

	data, off := loc5(cat(
		lle(_DW_LLE_offset_pair, uint(0x10), uint(0x20), []byte{0x50}),
		lle(_DW_LLE_offset_pair, uint(0x20), uint(0x38), []byte{0x51}),
		lle(_DW_LLE_end_of_list),
	))
	v5 := NewDwarf5Reader(data)

	for _, pc := range []uint64{0x100f, 0x1010, 0x101f, 0x1020, 0x1037, 0x1038} {
		e2, err := v2.Find(0, 0, 0x1000, pc, nil)
		if err != nil {
			t.Fatal(err)
		}
		e5, err := v5.Find(off, 0, 0x1000, pc, nil)
		if err != nil {
			t.Fatal(err)
		}
		if (e2 == nil) != (e5 == nil) {
			t.Errorf("pc %#x: v2 %#v, v5 %#v", pc, e2, e5)
			continue
		}
		if e2 != nil && (e2.LowPC != e5.LowPC || e2.HighPC != e5.HighPC || !bytes.Equal(e2.Instr, e5.Instr)) {
			t.Errorf("pc %#x: v2 %#v, v5 %#v", pc, e2, e5)
		}
	}
}
