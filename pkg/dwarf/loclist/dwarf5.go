package loclist

import (
	"bytes"
	"encoding/binary"

	"github.com/dwloc/dwloc/pkg/dwarf/util"
)

// Dwarf5Reader parses and presents DWARF loclist information for DWARF
// version 5 and later.
// See DWARFv5 section 7.29 page 243 and following.
type Dwarf5Reader struct {
	byteOrder binary.ByteOrder
	ptrSz     int
	data      []byte
}

func NewDwarf5Reader(data []byte) *Dwarf5Reader {
	if len(data) == 0 {
		return nil
	}
	r := &Dwarf5Reader{data: data}

	_, dwarf64, _, byteOrder := util.ReadDwarfLengthVersion(data)
	r.byteOrder = byteOrder

	data = data[6:]
	if dwarf64 {
		data = data[8:]
	}

	addrSz := data[0]
	segSelSz := data[1]
	r.ptrSz = int(addrSz + segSelSz)

	// Not read:
	// - offset_entry_count (4 bytes)
	// - offset table (offset_entry_count*4 or offset_entry_count*8 if dwarf64 is set)

	return r
}

func (rdr *Dwarf5Reader) Empty() bool {
	return rdr == nil
}

// Find returns the loclist entry for the specified PC address, inside the
// loclist starting at off. Base is the base address of the compile unit
// and staticBase is the static base at which the image is loaded.
func (rdr *Dwarf5Reader) Find(off int, staticBase, base, pc uint64, debugAddr DebugAddr) (*Entry, error) {
	it := rdr.Iterate(off, staticBase, base, debugAddr)

	var e Entry
	for it.Next(&e) {
		if !e.Empty() && e.LowPC <= pc && pc < e.HighPC {
			r := e
			return &r, nil
		}
	}

	if err := it.Err(); err != nil {
		return nil, err
	}

	if it.defaultInstr != nil {
		return &Entry{pc, pc + 1, it.defaultInstr}, nil
	}

	return nil, nil
}

// Iterate returns an iterator over the entries of the list starting at
// off. Entries are yielded in section order, empty entries included; base
// address selection entries are folded into the entries that follow them.
func (rdr *Dwarf5Reader) Iterate(off int, staticBase, base uint64, debugAddr DebugAddr) *Dwarf5Iterator {
	it := &Dwarf5Iterator{rdr: rdr, debugAddr: debugAddr, buf: bytes.NewBuffer(rdr.data), base: base, staticBase: staticBase}
	it.buf.Next(off)
	return it
}

// Dwarf5Iterator yields the location entries of one DWARF5 location list.
type Dwarf5Iterator struct {
	rdr        *Dwarf5Reader
	debugAddr  DebugAddr
	buf        *bytes.Buffer
	staticBase uint64
	base       uint64 // base for offsets in the list

	atEnd        bool
	defaultInstr []byte
	err          error
}

const (
	_DW_LLE_end_of_list      uint8 = 0x0
	_DW_LLE_base_addressx    uint8 = 0x1
	_DW_LLE_startx_endx      uint8 = 0x2
	_DW_LLE_startx_length    uint8 = 0x3
	_DW_LLE_offset_pair      uint8 = 0x4
	_DW_LLE_default_location uint8 = 0x5
	_DW_LLE_base_address     uint8 = 0x6
	_DW_LLE_start_end        uint8 = 0x7
	_DW_LLE_start_length     uint8 = 0x8
)

// Next advances to the next location entry, skipping base address
// selection entries. It returns false at the end of the list or on a
// malformed list (check Err).
func (it *Dwarf5Iterator) Next(e *Entry) bool {
	for {
		if it.err != nil || it.atEnd {
			return false
		}
		opcode, err := it.buf.ReadByte()
		if err != nil {
			it.err = malformed("truncated loclist")
			return false
		}
		switch opcode {
		case _DW_LLE_end_of_list:
			it.atEnd = true
			return false

		case _DW_LLE_base_addressx:
			baseIdx := it.uleb()
			if it.err == nil {
				it.base, it.err = it.getAddr(baseIdx)
				it.base += it.staticBase
			}

		case _DW_LLE_startx_endx:
			startIdx := it.uleb()
			endIdx := it.uleb()
			instr := it.readInstr()

			if it.err == nil {
				e.LowPC, it.err = it.getAddr(startIdx)
			}
			if it.err == nil {
				e.HighPC, it.err = it.getAddr(endIdx)
			}
			e.Instr = instr
			if it.err != nil {
				return false
			}
			return true

		case _DW_LLE_startx_length:
			startIdx := it.uleb()
			length := it.uleb()
			instr := it.readInstr()

			if it.err == nil {
				e.LowPC, it.err = it.getAddr(startIdx)
			}
			e.HighPC = e.LowPC + length
			e.Instr = instr
			if it.err != nil {
				return false
			}
			return true

		case _DW_LLE_offset_pair:
			off1 := it.uleb()
			off2 := it.uleb()
			e.Instr = it.readInstr()
			e.LowPC = it.base + off1
			e.HighPC = it.base + off2
			if it.err != nil {
				return false
			}
			return true

		case _DW_LLE_default_location:
			it.defaultInstr = it.readInstr()

		case _DW_LLE_base_address:
			it.base, it.err = util.ReadUintRaw(it.buf, it.rdr.byteOrder, it.rdr.ptrSz)
			it.base += it.staticBase

		case _DW_LLE_start_end:
			e.LowPC, it.err = util.ReadUintRaw(it.buf, it.rdr.byteOrder, it.rdr.ptrSz)
			if it.err == nil {
				e.HighPC, it.err = util.ReadUintRaw(it.buf, it.rdr.byteOrder, it.rdr.ptrSz)
			}
			e.Instr = it.readInstr()
			if it.err != nil {
				return false
			}
			return true

		case _DW_LLE_start_length:
			e.LowPC, it.err = util.ReadUintRaw(it.buf, it.rdr.byteOrder, it.rdr.ptrSz)
			length := it.uleb()
			e.Instr = it.readInstr()
			e.HighPC = e.LowPC + length
			if it.err != nil {
				return false
			}
			return true

		default:
			it.err = malformed("unknown loclist entry kind %#x at %#x", opcode, len(it.rdr.data)-it.buf.Len())
			it.atEnd = true
			return false
		}
	}
}

// Err returns the error that terminated iteration, if any.
func (it *Dwarf5Iterator) Err() error {
	return it.err
}

// DefaultInstr returns the expression of the default location entry seen
// so far, or nil.
func (it *Dwarf5Iterator) DefaultInstr() []byte {
	return it.defaultInstr
}

func (it *Dwarf5Iterator) getAddr(idx uint64) (uint64, error) {
	if it.debugAddr == nil {
		return 0, malformed("indexed loclist entry without debug_addr section")
	}
	addr, err := it.debugAddr.Get(idx)
	if err != nil {
		return 0, malformed("bad debug_addr index %d: %v", idx, err)
	}
	return addr, nil
}

// uleb reads one ULEB128 operand, flagging the list malformed when the
// encoding is truncated.
func (it *Dwarf5Iterator) uleb() uint64 {
	n, k := util.DecodeULEB128(it.buf)
	if k == 0 && it.err == nil {
		it.err = malformed("truncated loclist")
	}
	return n
}

func (it *Dwarf5Iterator) readInstr() []byte {
	length := it.uleb()
	if it.err != nil {
		return nil
	}
	instr := it.buf.Next(int(length))
	if uint64(len(instr)) != length {
		it.err = malformed("truncated loclist expression")
	}
	return instr
}
