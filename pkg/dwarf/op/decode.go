package op

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dwloc/dwloc/pkg/dwarf/util"
)

// Opcode represents a DWARF expression instruction.
// See ./opcodes.go for a full list.
type Opcode byte

// Instruction is a single decoded DWARF expression operation. Number and
// Number2 hold up to two numeric operands; signed operands are stored
// bit-cast so callers interpret them per opcode. Block holds the trailing
// byte block of DW_OP_implicit_value, DW_OP_entry_value and
// DW_OP_const_type style operations.
type Instruction struct {
	Op      Opcode
	Number  uint64
	Number2 uint64
	Block   []byte
}

// Sword returns the first operand interpreted as a signed value.
func (instr *Instruction) Sword() int64 {
	return int64(instr.Number)
}

// Sword2 returns the second operand interpreted as a signed value.
func (instr *Instruction) Sword2() int64 {
	return int64(instr.Number2)
}

// UnsupportedOpcodeError is returned when an expression contains an opcode
// this package does not recognize. An unknown operation invalidates the
// meaning of the whole expression so it is never skipped silently.
type UnsupportedOpcodeError struct {
	Op Opcode
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("unsupported opcode %#x", byte(e.Op))
}

// Instructions decodes a complete DWARF expression. Addresses are read as
// ptrSize bytes, section references as refSize bytes (4, or 8 for 64-bit
// DWARF).
func Instructions(expr []byte, ptrSize, refSize int) ([]Instruction, error) {
	buf := bytes.NewBuffer(expr)
	var out []Instruction

	for buf.Len() > 0 {
		opcode, err := buf.ReadByte()
		if err != nil {
			break
		}
		op := Opcode(opcode)
		if _, known := opcodeName[op]; !known {
			return nil, &UnsupportedOpcodeError{Op: op}
		}

		instr := Instruction{Op: op}
		nargs := 0
		for _, arg := range opcodeArgs[op] {
			var n uint64
			var block []byte
			switch arg {
			case 's':
				sn, k := util.DecodeSLEB128(buf)
				if k == 0 {
					return nil, truncated(op)
				}
				n = uint64(sn)
			case 'u':
				var k uint32
				n, k = util.DecodeULEB128(buf)
				if k == 0 {
					return nil, truncated(op)
				}
			case '1', '2', '4', '8':
				n, err = util.ReadUintRaw(buf, byteOrder, int(arg-'0'))
			case 'i':
				n, err = readSigned(buf, 1)
			case 'h':
				n, err = readSigned(buf, 2)
			case 'w':
				n, err = readSigned(buf, 4)
			case 'q':
				n, err = readSigned(buf, 8)
			case 'a':
				n, err = util.ReadUintRaw(buf, byteOrder, ptrSize)
			case 'R':
				n, err = util.ReadUintRaw(buf, byteOrder, refSize)
			case 'B':
				sz, k := util.DecodeULEB128(buf)
				if k == 0 {
					return nil, truncated(op)
				}
				block = buf.Next(int(sz))
				if uint64(len(block)) != sz {
					return nil, truncated(op)
				}
				n = sz
			case 'T':
				var szb byte
				szb, err = buf.ReadByte()
				if err == nil {
					block = buf.Next(int(szb))
					if len(block) != int(szb) {
						err = io.ErrUnexpectedEOF
					}
				}
			}
			if err != nil {
				return nil, truncated(op)
			}
			if block != nil {
				instr.Block = block
			}
			if arg != 'B' && arg != 'T' {
				if nargs == 0 {
					instr.Number = n
				} else {
					instr.Number2 = n
				}
				nargs++
			} else if arg == 'B' {
				instr.Number = n
			}
		}

		out = append(out, instr)
	}

	return out, nil
}

func readSigned(buf *bytes.Buffer, size int) (uint64, error) {
	n, err := util.ReadUintRaw(buf, byteOrder, size)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - size*8)
	return uint64(int64(n<<shift) >> shift), nil
}

func truncated(op Opcode) error {
	return fmt.Errorf("malformed expression: %s: %w", op.Name(), io.ErrUnexpectedEOF)
}
