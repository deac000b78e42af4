package op

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var byteOrder = binary.LittleEndian

// MaxDepth is the recursion ceiling for composite evaluation (call
// targets, entry values, implicit pointers, CFA expressions). DWARF input
// may be attacker influenced, so cyclic or deeply nested references must
// fail fast instead of overflowing the stack.
const MaxDepth = 64

var (
	// ErrFrameBaseRequired is returned when a frame-relative operation is
	// evaluated without a frame base in scope.
	ErrFrameBaseRequired = errors.New("DW_OP_fbreg used without a frame base")

	// ErrCFAInCFI is returned when DW_OP_call_frame_cfa appears in an
	// expression that itself comes from the CFI tables.
	ErrCFAInCFI = errors.New("DW_OP_call_frame_cfa used in CFI")

	// ErrObjectAddrInCFI is returned when DW_OP_push_object_address
	// appears in a CFI expression.
	ErrObjectAddrInCFI = errors.New("DW_OP_push_object_address used in CFI")

	// ErrCallInCFI is returned when a DIE-referencing operation appears in
	// a CFI expression.
	ErrCallInCFI = errors.New("DIE reference operation used in CFI")

	// ErrNoCFI is returned when DW_OP_call_frame_cfa is evaluated but no
	// CFI covers the current PC.
	ErrNoCFI = errors.New("no call frame information found for address")

	// ErrRecursionLimit is returned when composite evaluation exceeds
	// MaxDepth.
	ErrRecursionLimit = errors.New("expression recursion limit exceeded")

	// ErrNotBaseType is returned when the operand of a typed operation
	// does not reference a DW_TAG_base_type DIE.
	ErrNotBaseType = errors.New("not a base type")

	// ErrNoSizeOrEncoding is returned for base types missing the
	// attributes typed operations need.
	ErrNoSizeOrEncoding = errors.New("base type without size or encoding")
)

// BaseType carries the metadata of a DW_TAG_base_type DIE referenced by a
// typed operation. Sizes are normalized to bits.
type BaseType struct {
	Name     string
	Encoding uint64
	Bits     uint64
	Offset   uint64 // offset of the DIE in debug_info
}

func (t *BaseType) String() string {
	return fmt.Sprintf("{%s,%s,%d@[%x]}", t.Name, encodingName(t.Encoding), t.Bits, t.Offset)
}

// DWARF base type encodings, DWARF v5 section 7.8.
var encodingNames = map[uint64]string{
	0x01: "DW_ATE_address",
	0x02: "DW_ATE_boolean",
	0x03: "DW_ATE_complex_float",
	0x04: "DW_ATE_float",
	0x05: "DW_ATE_signed",
	0x06: "DW_ATE_signed_char",
	0x07: "DW_ATE_unsigned",
	0x08: "DW_ATE_unsigned_char",
	0x09: "DW_ATE_imaginary_float",
	0x0a: "DW_ATE_packed_decimal",
	0x0b: "DW_ATE_numeric_string",
	0x0c: "DW_ATE_edited",
	0x0d: "DW_ATE_signed_fixed",
	0x0e: "DW_ATE_unsigned_fixed",
	0x0f: "DW_ATE_decimal_float",
	0x10: "DW_ATE_UTF",
	0x11: "DW_ATE_UCS",
	0x12: "DW_ATE_ASCII",
}

func encodingName(enc uint64) string {
	if name, ok := encodingNames[enc]; ok {
		return name
	}
	return fmt.Sprintf("<unknown encoding %#x>", enc)
}

// CFAProvider returns, for a PC with the provider's bias already applied,
// the location expression that computes the call frame address. It is how
// this package consumes call frame information without parsing CFI tables
// itself.
type CFAProvider interface {
	CFAExpressionAt(pc uint64) ([]byte, error)
}

// CFASource pairs a CFA provider with its load bias. Both .eh_frame and
// .debug_frame derived tables can be supplied since neither is always
// complete.
type CFASource struct {
	Provider CFAProvider
	Bias     uint64
}

// ExprContext resolves the cross references an expression operand can
// carry: other DIEs, other attributes, base types and debug_addr entries.
// All offsets passed in are absolute debug_info offsets; the evaluator
// rebases CU-relative operands before calling.
type ExprContext interface {
	// BaseType resolves the base type DIE referenced by a typed
	// operation. The offset 0 sentinel never reaches this method.
	BaseType(off uint64) (*BaseType, error)

	// CallExpr returns the expression held by the location attribute of
	// the DIE referenced by a call operation. A nil expression means the
	// DIE has no location attribute, which is valid.
	CallExpr(off uint64) ([]byte, error)

	// LocationOf inspects the DIE referenced by an implicit pointer or
	// variable value operation: it reports whether the DIE carries a
	// constant value, and otherwise returns the location expression
	// covering pc (nil when no range covers it).
	LocationOf(off uint64, pc uint64) (expr []byte, isConst bool, err error)

	// IsParameter reports whether the referenced DIE is a
	// DW_TAG_formal_parameter.
	IsParameter(off uint64) (bool, error)

	// DebugAddr returns the debug_addr entry at idx for the current unit.
	DebugAddr(idx uint64) (uint64, error)
}

// Context is the evaluation context of one expression. It is transient,
// created per query; the same Context must not be used from multiple
// goroutines.
type Context struct {
	// PC is the program counter the expression is evaluated at,
	// module-relative with bias already applied by the caller.
	PC uint64

	// HasFrameBase reports whether the surrounding function (or an
	// enclosing subprogram, for inlined instances) establishes a frame
	// base expression.
	HasFrameBase bool

	// FromCFI marks expressions that come from the CFI tables themselves,
	// where frame and object relative operations are illegal.
	FromCFI bool

	// ETRel marks relocatable object images: a failed CFA lookup then
	// degrades to UnresolvedCFA instead of an error, since .eh_frame may
	// carry unprocessed relocations.
	ETRel bool

	// Debug marks debug-only images where no .eh_frame is expected.
	Debug bool

	// CUBase is the debug_info offset of the compilation unit owning the
	// expression; CU-relative operands are rebased against it.
	CUBase uint64

	PtrSize int
	RefSize int

	// CFA lists the call frame information sources to try in order.
	CFA []CFASource

	// Expr resolves DIE, attribute and debug_addr references; nil for
	// expressions with no attribute context (CFI expressions).
	Expr ExprContext

	depth int
}

func (ctx *Context) ptrSize() int {
	if ctx.PtrSize == 0 {
		return 8
	}
	return ctx.PtrSize
}

func (ctx *Context) refSize() int {
	if ctx.RefSize == 0 {
		return 4
	}
	return ctx.RefSize
}
