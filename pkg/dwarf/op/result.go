package op

import (
	"fmt"
	"strings"
)

// Result is the terminal classification of an evaluated DWARF expression
// (or of one operation inside a composite expression). It is a structured
// value, not a printable string; String renders the varlocs-style text used
// by the command line front end.
type Result interface {
	fmt.Stringer
	isResult()
}

// Address is a memory address location.
type Address uint64

func (a Address) String() string { return fmt.Sprintf("DW_OP_addr(%#x)", uint64(a)) }

// Register means the value lives in the given DWARF register.
type Register uint32

func (r Register) String() string { return fmt.Sprintf("DW_OP_reg%d", uint32(r)) }

// FrameOffset is an offset from the frame base expression of the containing
// function. Folding the concrete frame base value into an address is the
// caller's responsibility.
type FrameOffset int64

func (o FrameOffset) String() string { return fmt.Sprintf("DW_OP_fbreg(%d)", int64(o)) }

// StackOp is a stack machine operation re-emitted structurally: stack
// manipulation, arithmetic, comparisons, literals and register-relative
// operands that only make sense as part of a larger computation.
type StackOp struct {
	Op      Opcode
	Number  uint64
	Number2 uint64
}

func (s StackOp) String() string {
	switch args := opcodeArgs[s.Op]; args {
	case "":
		return s.Op.Name()
	case "s":
		return fmt.Sprintf("%s(%d)", s.Op.Name(), int64(s.Number))
	case "i", "h", "w", "q":
		return fmt.Sprintf("%s(%d)", s.Op.Name(), int64(s.Number))
	case "us":
		return fmt.Sprintf("%s(%d,%d)", s.Op.Name(), s.Number, int64(s.Number2))
	case "uu":
		return fmt.Sprintf("%s(%d,%d)", s.Op.Name(), s.Number, s.Number2)
	default:
		return fmt.Sprintf("%s(%d)", s.Op.Name(), s.Number)
	}
}

// TLSAddress marks a thread-local storage operation. The evaluator flags
// the operation but resolving the TLS block base is left to the caller.
type TLSAddress struct {
	Op Opcode
}

func (t TLSAddress) String() string { return t.Op.Name() }

// ObjectAddress is DW_OP_push_object_address: the implicitly pushed
// address of the object owning the attribute.
type ObjectAddress struct{}

func (ObjectAddress) String() string { return "DW_OP_push_object_address" }

// Uninitialized marks a value that has not been initialized yet
// (DW_OP_GNU_uninit).
type Uninitialized struct{}

func (Uninitialized) String() string { return "DW_OP_GNU_uninit" }

// CFA is a call frame address operation together with the evaluated CFA
// expression obtained from the CFI tables in effect at the PC.
type CFA struct {
	Frame Result
}

func (c CFA) String() string { return "DW_OP_call_frame_cfa " + c.Frame.String() }

// UnresolvedCFA marks a call frame address that could not be computed
// because the image is a relocatable object or a debug-only file; this is
// an opaque but valid outcome, not an error.
type UnresolvedCFA struct{}

func (UnresolvedCFA) String() string { return "DW_OP_call_frame_cfa {...}" }

// ImplicitValue is a value available directly in the expression stream
// rather than in the program's memory or registers.
type ImplicitValue []byte

func (v ImplicitValue) String() string {
	return fmt.Sprintf("DW_OP_implicit_value(%d){%x}", len(v), []byte(v))
}

// TypedValue is a constant with an attached base type (DW_OP_const_type).
// The numeric conversion of Bytes is a value-domain concern of the caller.
type TypedValue struct {
	Bytes []byte
	Type  *BaseType
}

func (v TypedValue) String() string {
	return fmt.Sprintf("DW_OP_const_type%s(%d)[%x]", v.Type, len(v.Bytes), v.Bytes)
}

// TypedRegister is a register read with an attached base type
// (DW_OP_regval_type).
type TypedRegister struct {
	Reg  uint64
	Type *BaseType
}

func (r TypedRegister) String() string {
	return fmt.Sprintf("DW_OP_regval_type(reg%d)%s", r.Reg, r.Type)
}

// TypedDeref is a typed memory dereference (DW_OP_deref_type,
// DW_OP_xderef_type).
type TypedDeref struct {
	Op   Opcode
	Size uint64
	Type *BaseType
}

func (d TypedDeref) String() string {
	return fmt.Sprintf("%s(%d)%s", d.Op.Name(), d.Size, d.Type)
}

// Retyped is DW_OP_convert or DW_OP_reinterpret: the value on top of the
// stack changes type. A nil Type means the value becomes untyped again.
type Retyped struct {
	Op   Opcode
	Type *BaseType
}

func (r Retyped) String() string {
	if r.Type == nil {
		return fmt.Sprintf("%s[0]", r.Op.Name())
	}
	return r.Op.Name() + r.Type.String()
}

// StackValue means the expression computes the value itself, not a
// location; Parts are the structural operations computing it.
type StackValue struct {
	Parts []Result
}

func (s StackValue) String() string {
	parts := make([]string, 0, len(s.Parts)+1)
	for _, p := range s.Parts {
		parts = append(parts, p.String())
	}
	parts = append(parts, "DW_OP_stack_value")
	return strings.Join(parts, ", ")
}

// Piece is one part of a composite location.
type Piece struct {
	Size uint64 // size in bytes
	Part Result // nil when the piece is unavailable
}

func (p Piece) String() string {
	if p.Part == nil {
		return fmt.Sprintf("DW_OP_piece(%d)", p.Size)
	}
	return fmt.Sprintf("%s DW_OP_piece(%d)", p.Part, p.Size)
}

// BitPiece is a piece with sub-byte granularity.
type BitPiece struct {
	Size   uint64 // size in bits
	Offset uint64 // offset in bits
	Part   Result
}

func (p BitPiece) String() string {
	if p.Part == nil {
		return fmt.Sprintf("DW_OP_bit_piece(%d,%d)", p.Size, p.Offset)
	}
	return fmt.Sprintf("%s DW_OP_bit_piece(%d,%d)", p.Part, p.Size, p.Offset)
}

// Composite is a sequence of sub-results: either the pieces of a composite
// location or the structural operations of a computed expression.
type Composite []Result

func (c Composite) String() string {
	parts := make([]string, len(c))
	for i := range c {
		parts[i] = c[i].String()
	}
	return strings.Join(parts, ", ")
}

// CallTarget is a call operation together with the evaluated location
// expression of the referenced DIE.
type CallTarget struct {
	Op  Opcode
	DIE uint64
	Loc Result
}

func (c CallTarget) String() string {
	return fmt.Sprintf("%s([%x]) {%s}", c.Op.Name(), c.DIE, c.Loc)
}

// EntryValue describes the value an expression would have had on entering
// the current function, evaluated against the caller's context.
type EntryValue struct {
	Op  Opcode
	Loc Result
}

func (e EntryValue) String() string {
	return fmt.Sprintf("%s {%s}", e.Op.Name(), e.Loc)
}

// ImplicitPointer points to the value of another DIE: the pointed-to
// object does not exist in memory but its value is recoverable.
type ImplicitPointer struct {
	DIE    uint64
	Offset int64
	Target Result // ConstantValue, OptimizedOut or the evaluated location
}

func (p ImplicitPointer) String() string {
	return fmt.Sprintf("DW_OP_implicit_pointer([%x],%d) %s", p.DIE, p.Offset, p.Target)
}

// VariableValue is DW_OP_GNU_variable_value: the value of the referenced
// DIE at the current PC.
type VariableValue struct {
	DIE    uint64
	Target Result
}

func (v VariableValue) String() string {
	return fmt.Sprintf("DW_OP_GNU_variable_value([%x]) %s", v.DIE, v.Target)
}

// ParameterRef is DW_OP_GNU_parameter_ref: the value the referenced formal
// parameter had at the call site of the current function.
type ParameterRef struct {
	DIE uint64
}

func (p ParameterRef) String() string {
	return fmt.Sprintf("DW_OP_GNU_parameter_ref[%x]", p.DIE)
}

// ConstantValue means the referenced DIE carries a DW_AT_const_value
// instead of a location.
type ConstantValue struct {
	DIE uint64
}

func (ConstantValue) String() string { return "<constant value>" }

// OptimizedOut means no location exists for the requested PC.
type OptimizedOut struct{}

func (OptimizedOut) String() string { return "<no location>" }

func (Address) isResult()         {}
func (Register) isResult()        {}
func (FrameOffset) isResult()     {}
func (StackOp) isResult()         {}
func (TLSAddress) isResult()      {}
func (ObjectAddress) isResult()   {}
func (Uninitialized) isResult()   {}
func (CFA) isResult()             {}
func (UnresolvedCFA) isResult()   {}
func (ImplicitValue) isResult()   {}
func (TypedValue) isResult()      {}
func (TypedRegister) isResult()   {}
func (TypedDeref) isResult()      {}
func (Retyped) isResult()         {}
func (StackValue) isResult()      {}
func (Piece) isResult()           {}
func (BitPiece) isResult()        {}
func (Composite) isResult()       {}
func (CallTarget) isResult()      {}
func (EntryValue) isResult()      {}
func (ImplicitPointer) isResult() {}
func (VariableValue) isResult()   {}
func (ParameterRef) isResult()    {}
func (ConstantValue) isResult()   {}
func (OptimizedOut) isResult()    {}
