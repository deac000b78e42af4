package loclist

import (
	"encoding/binary"
)

// Dwarf2Reader parses and presents DWARF loclist information for DWARF
// versions 2 through 4.
type Dwarf2Reader struct {
	data  []byte
	cur   int
	ptrSz int
	err   error
}

// NewDwarf2Reader returns an initialized loclist Reader for DWARF versions
// 2 through 4.
func NewDwarf2Reader(data []byte, ptrSz int) *Dwarf2Reader {
	return &Dwarf2Reader{data: data, ptrSz: ptrSz}
}

// Empty returns true if this reader has no data.
func (rdr *Dwarf2Reader) Empty() bool {
	return rdr == nil || rdr.data == nil
}

// Seek moves the data pointer to the specified offset.
func (rdr *Dwarf2Reader) Seek(off int) {
	rdr.cur = off
	rdr.err = nil
	if off < 0 || off > len(rdr.data) {
		rdr.err = malformed("loclist offset %#x out of range", off)
	}
}

// Err returns the error that terminated iteration, if any.
func (rdr *Dwarf2Reader) Err() error {
	return rdr.err
}

// Next advances the reader to the next raw loclist entry, returning the
// entry and true if successful, or false at the end of the list or on
// malformed data (check Err). Base address selection entries are returned
// as-is; empty entries are returned too.
func (rdr *Dwarf2Reader) Next(e *Entry) bool {
	if rdr.err != nil {
		return false
	}
	low, ok := rdr.oneAddr()
	if !ok {
		return false
	}
	high, ok := rdr.oneAddr()
	if !ok {
		return false
	}
	e.LowPC = low
	e.HighPC = high

	if e.LowPC == 0 && e.HighPC == 0 {
		return false
	}

	if e.BaseAddressSelection() {
		e.Instr = nil
		return true
	}

	lenb, ok := rdr.read(2)
	if !ok {
		return false
	}
	instrlen := binary.LittleEndian.Uint16(lenb)
	instr, ok := rdr.read(int(instrlen))
	if !ok {
		return false
	}
	e.Instr = instr
	return true
}

// Find returns the loclist entry for the specified PC address, inside the
// loclist starting at off. Base is the base address of the compile unit
// and staticBase is the static base at which the image is loaded.
func (rdr *Dwarf2Reader) Find(off int, staticBase, base, pc uint64, _ DebugAddr) (*Entry, error) {
	it := rdr.Iterate(off, staticBase, base)
	var e Entry
	for it.Next(&e) {
		if !e.Empty() && pc >= e.LowPC && pc < e.HighPC {
			r := e
			return &r, nil
		}
	}
	return nil, it.Err()
}

// Iterate returns an iterator over the resolved entries of the list at
// off: base address selection entries are folded into the following
// entries and every location entry, including empty ones, is yielded in
// section order.
func (rdr *Dwarf2Reader) Iterate(off int, staticBase, base uint64) *Dwarf2Iterator {
	rdr.Seek(off)
	return &Dwarf2Iterator{rdr: rdr, staticBase: staticBase, base: base}
}

// Dwarf2Iterator yields resolved entries of one DWARF2-4 location list.
type Dwarf2Iterator struct {
	rdr        *Dwarf2Reader
	staticBase uint64
	base       uint64
}

// Next advances to the next location entry.
func (it *Dwarf2Iterator) Next(e *Entry) bool {
	for it.rdr.Next(e) {
		if e.BaseAddressSelection() {
			it.base = e.HighPC + it.staticBase
			continue
		}
		e.LowPC += it.base
		e.HighPC += it.base
		return true
	}
	return false
}

// Err returns the error that terminated iteration, if any.
func (it *Dwarf2Iterator) Err() error {
	return it.rdr.Err()
}

func (rdr *Dwarf2Reader) read(sz int) ([]byte, bool) {
	if sz < 0 || rdr.cur+sz > len(rdr.data) {
		rdr.err = malformed("truncated loclist at offset %#x", rdr.cur)
		return nil, false
	}
	r := rdr.data[rdr.cur : rdr.cur+sz]
	rdr.cur += sz
	return r, true
}

func (rdr *Dwarf2Reader) oneAddr() (uint64, bool) {
	buf, ok := rdr.read(rdr.ptrSz)
	if !ok {
		return 0, false
	}
	switch rdr.ptrSz {
	case 4:
		addr := binary.LittleEndian.Uint32(buf)
		if addr == ^uint32(0) {
			return ^uint64(0), true
		}
		return uint64(addr), true
	case 8:
		return binary.LittleEndian.Uint64(buf), true
	default:
		rdr.err = malformed("bad address size %d", rdr.ptrSz)
		return 0, false
	}
}
