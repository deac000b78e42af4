package split

import (
	"debug/dwarf"
	"fmt"

	"github.com/dwloc/dwloc/pkg/dwarf/util"
)

// DWARFv5 unit header types, section 7.5.1 page 199.
const (
	_DW_UT_compile       uint8 = 0x01
	_DW_UT_type          uint8 = 0x02
	_DW_UT_partial       uint8 = 0x03
	_DW_UT_skeleton      uint8 = 0x04
	_DW_UT_split_compile uint8 = 0x05
	_DW_UT_split_type    uint8 = 0x06
)

// Attributes of the GNU DebugFission extension and their DWARFv5
// counterpart, not covered by debug/dwarf constants.
const (
	_DW_AT_dwo_name     dwarf.Attr = 0x76
	_DW_AT_GNU_dwo_name dwarf.Attr = 0x2130
	_DW_AT_GNU_dwo_id   dwarf.Attr = 0x2131
)

// ScanUnits reads the unit headers of a debug_info section. For DWARF
// version 5 it fills Kind and Sig from the header itself; version 4 and
// earlier units come back as KindOrdinary and are reclassified from
// their root DIE attributes by LoadUnits.
func ScanUnits(info []byte) ([]*Unit, error) {
	var units []*Unit

	for off := uint64(0); off+4 <= uint64(len(info)); {
		length, dwarf64, version, byteOrder := util.ReadDwarfLengthVersion(info[off:])
		if length == 0 {
			break
		}

		lenSz := uint64(4)
		offSz := uint64(4)
		if dwarf64 {
			lenSz = 12
			offSz = 8
		}
		next := off + lenSz + length
		if length < 2 || next > uint64(len(info)) {
			return units, fmt.Errorf("malformed unit header at %#x", off)
		}

		u := &Unit{Offset: off, Version: version}
		if version >= 5 {
			// version(2) unit_type(1) address_size(1) abbrev_offset(4/8)
			hdr := info[off+lenSz : next]
			if uint64(len(hdr)) < 4+offSz {
				return units, fmt.Errorf("truncated unit header at %#x", off)
			}
			unitType := hdr[2]
			switch unitType {
			case _DW_UT_skeleton:
				u.Kind = KindSkeleton
			case _DW_UT_split_compile:
				u.Kind = KindSplitCompile
			}
			if unitType == _DW_UT_skeleton || unitType == _DW_UT_split_compile {
				sigOff := 4 + offSz
				if uint64(len(hdr)) < sigOff+8 {
					return units, fmt.Errorf("truncated unit header at %#x", off)
				}
				u.Sig = Signature(byteOrder.Uint64(hdr[sigOff:]))
			}
		}
		units = append(units, u)
		off = next
	}

	return units, nil
}

// LoadUnits scans the unit headers of info and fills each unit with the
// attributes of its root DIE read through dw: name, comp_dir, dwo_name.
// DWARF version 4 units carrying the GNU DebugFission attributes are
// reclassified: a unit with DW_AT_GNU_dwo_id becomes a split compile
// unit when inSplitFile is set, a skeleton otherwise.
func LoadUnits(dw *dwarf.Data, info []byte, inSplitFile bool) ([]*Unit, error) {
	units, err := ScanUnits(info)
	if err != nil {
		return nil, err
	}

	rdr := dw.Reader()
	for _, u := range units {
		e, err := rdr.Next()
		if err != nil {
			return nil, err
		}
		if e == nil {
			break
		}

		u.Name, _ = e.Val(dwarf.AttrName).(string)
		u.CompDir, _ = e.Val(dwarf.AttrCompDir).(string)
		if dwoName, ok := e.Val(_DW_AT_dwo_name).(string); ok {
			u.DwoName = dwoName
		} else if dwoName, ok := e.Val(_DW_AT_GNU_dwo_name).(string); ok {
			u.DwoName = dwoName
		}

		if u.Version < 5 {
			if id, ok := attrUint64(e, _DW_AT_GNU_dwo_id); ok {
				u.Sig = Signature(id)
				if inSplitFile {
					u.Kind = KindSplitCompile
				} else {
					u.Kind = KindSkeleton
				}
			}
		}

		rdr.SkipChildren()
	}

	return units, nil
}

func attrUint64(e *dwarf.Entry, attr dwarf.Attr) (uint64, bool) {
	switch v := e.Val(attr).(type) {
	case int64:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}
