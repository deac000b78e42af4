package op

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/dwloc/dwloc/pkg/dwarf/util"
)

// expr assembles an expression from opcodes and operands: int operands
// are encoded as SLEB128, uint as ULEB128, []byte is appended raw.
func expr(args ...interface{}) []byte {
	var buf bytes.Buffer
	for _, arg := range args {
		switch x := arg.(type) {
		case Opcode:
			buf.WriteByte(byte(x))
		case int:
			util.EncodeSLEB128(&buf, int64(x))
		case uint:
			util.EncodeULEB128(&buf, uint64(x))
		case []byte:
			buf.Write(x)
		default:
			panic("unsupported value type")
		}
	}
	return buf.Bytes()
}

func uint32le(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

type fakeExprCtx struct {
	types  map[uint64]*BaseType
	calls  map[uint64][]byte
	locs   map[uint64][]byte
	consts map[uint64]bool
	params map[uint64]bool
	addrs  []uint64
}

func (f *fakeExprCtx) BaseType(off uint64) (*BaseType, error) {
	if t := f.types[off]; t != nil {
		return t, nil
	}
	return nil, ErrNotBaseType
}

func (f *fakeExprCtx) CallExpr(off uint64) ([]byte, error) {
	return f.calls[off], nil
}

func (f *fakeExprCtx) LocationOf(off, pc uint64) ([]byte, bool, error) {
	if f.consts[off] {
		return nil, true, nil
	}
	return f.locs[off], false, nil
}

func (f *fakeExprCtx) IsParameter(off uint64) (bool, error) {
	return f.params[off], nil
}

func (f *fakeExprCtx) DebugAddr(idx uint64) (uint64, error) {
	if idx >= uint64(len(f.addrs)) {
		return 0, errors.New("debug_addr index out of range")
	}
	return f.addrs[idx], nil
}

type fakeCFA struct {
	expr []byte
	err  error
}

func (f fakeCFA) CFAExpressionAt(pc uint64) ([]byte, error) {
	return f.expr, f.err
}

func assertEval(t *testing.T, e []byte, ctx *Context, want Result) {
	t.Helper()
	got, err := Eval(e, ctx)
	if err != nil {
		t.Fatalf("error evaluating %x: %v", e, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expression %x: expected %#v, got %#v", e, want, got)
	}
}

func assertEvalErr(t *testing.T, e []byte, ctx *Context, want error) {
	t.Helper()
	_, err := Eval(e, ctx)
	if !errors.Is(err, want) {
		t.Errorf("expression %x: expected error %v, got %v", e, want, err)
	}
}

func TestEvalRegisters(t *testing.T) {
	assertEval(t, expr(DW_OP_reg0), &Context{}, Register(0))
	assertEval(t, expr(DW_OP_reg0+16), &Context{}, Register(16))
	assertEval(t, expr(DW_OP_regx, uint(33)), &Context{}, Register(33))
}

func TestEvalFrameBase(t *testing.T) {
	noFB := &Context{}
	assertEvalErr(t, expr(DW_OP_fbreg, -8), noFB, ErrFrameBaseRequired)

	withFB := &Context{HasFrameBase: true}
	assertEval(t, expr(DW_OP_fbreg, -8), withFB, FrameOffset(-8))
	assertEval(t, expr(DW_OP_fbreg, 16), withFB, FrameOffset(16))
}

func TestEvalEmptyExpression(t *testing.T) {
	assertEval(t, nil, &Context{}, OptimizedOut{})
}

func TestEvalUnsupportedOpcode(t *testing.T) {
	_, err := Eval([]byte{0xff}, &Context{})
	var une *UnsupportedOpcodeError
	if !errors.As(err, &une) {
		t.Fatalf("expected UnsupportedOpcodeError, got %v", err)
	}
	if une.Op != 0xff {
		t.Errorf("wrong opcode in error: %#x", byte(une.Op))
	}
}

func TestEvalTruncatedOperand(t *testing.T) {
	// DW_OP_const4u with only two bytes of operand.
	_, err := Eval([]byte{byte(DW_OP_const4u), 0x01, 0x02}, &Context{})
	if err == nil {
		t.Fatal("expected error on truncated operand")
	}
}

func TestEvalTruncatedLEBOperand(t *testing.T) {
	// The final operand byte still has the continuation bit set.
	for _, e := range [][]byte{
		{byte(DW_OP_constu), 0x80},
		{byte(DW_OP_consts), 0x80},
		{byte(DW_OP_fbreg), 0xff},
		{byte(DW_OP_implicit_value), 0x81},
	} {
		_, err := Eval(e, &Context{HasFrameBase: true})
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("expression %x: expected truncation error, got %v", e, err)
		}
	}
}

func TestEvalStackValue(t *testing.T) {
	e := expr(DW_OP_lit0+5, DW_OP_lit0+2, DW_OP_plus, DW_OP_stack_value)
	assertEval(t, e, &Context{}, StackValue{Parts: []Result{
		StackOp{Op: DW_OP_lit0+5, Number: 5},
		StackOp{Op: DW_OP_lit0+2, Number: 2},
		StackOp{Op: DW_OP_plus},
	}})
}

func TestEvalPieces(t *testing.T) {
	e := expr(DW_OP_reg0, DW_OP_piece, uint(4), DW_OP_reg0+1, DW_OP_piece, uint(4))
	assertEval(t, e, &Context{}, Composite{
		Piece{Size: 4, Part: Register(0)},
		Piece{Size: 4, Part: Register(1)},
	})

	// A piece with no preceding location is unavailable.
	e = expr(DW_OP_piece, uint(8))
	assertEval(t, e, &Context{}, Composite{Piece{Size: 8}})

	e = expr(DW_OP_reg0+2, DW_OP_bit_piece, uint(3), uint(1))
	assertEval(t, e, &Context{}, Composite{
		BitPiece{Size: 3, Offset: 1, Part: Register(2)},
	})
}

func TestEvalCFA(t *testing.T) {
	// No CFI at all.
	assertEvalErr(t, expr(DW_OP_call_frame_cfa), &Context{}, ErrNoCFI)

	// Relocatable objects degrade to an opaque CFA.
	assertEval(t, expr(DW_OP_call_frame_cfa), &Context{ETRel: true, CFA: []CFASource{{Provider: fakeCFA{}}}}, UnresolvedCFA{})

	// Also when no CFI source is wired at all.
	assertEval(t, expr(DW_OP_call_frame_cfa), &Context{ETRel: true}, UnresolvedCFA{})

	// CFI expression found and evaluated.
	cfaExpr := expr(DW_OP_breg0+7, 16)
	ctx := &Context{CFA: []CFASource{{Provider: fakeCFA{expr: cfaExpr}}}}
	assertEval(t, expr(DW_OP_call_frame_cfa), ctx, CFA{Frame: StackOp{Op: DW_OP_breg0+7, Number: 16}})

	// Inside a CFI expression the CFA operation is illegal.
	assertEvalErr(t, expr(DW_OP_call_frame_cfa), &Context{FromCFI: true}, ErrCFAInCFI)

	// So are frame and object relative operations.
	badCFA := &Context{CFA: []CFASource{{Provider: fakeCFA{expr: expr(DW_OP_fbreg, -8)}}}}
	assertEvalErr(t, expr(DW_OP_call_frame_cfa), badCFA, ErrCallInCFI)
	assertEvalErr(t, expr(DW_OP_push_object_address), &Context{FromCFI: true}, ErrObjectAddrInCFI)
}

func TestEvalRecursionLimit(t *testing.T) {
	// A DWARF procedure calling itself must fail, not hang.
	self := expr(DW_OP_call_ref, uint32le(0x100))
	ctx := &Context{Expr: &fakeExprCtx{calls: map[uint64][]byte{0x100: self}}}
	assertEvalErr(t, self, ctx, ErrRecursionLimit)

	// Same for an entry value wrapping an implicit pointer cycle.
	fctx := &fakeExprCtx{}
	implicit := expr(DW_OP_implicit_pointer, uint32le(0x200), 0)
	fctx.locs = map[uint64][]byte{0x200: implicit}
	assertEvalErr(t, implicit, &Context{Expr: fctx}, ErrRecursionLimit)
}

func TestEvalCallTarget(t *testing.T) {
	fctx := &fakeExprCtx{calls: map[uint64][]byte{0x180: expr(DW_OP_reg0+5)}}
	ctx := &Context{CUBase: 0x100, Expr: fctx}

	// call2/call4 operands are CU-relative.
	got, err := Eval(expr(DW_OP_call4, uint32le(0x80)), ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := CallTarget{Op: DW_OP_call4, DIE: 0x180, Loc: Register(5)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}

	// A target without a location attribute is valid.
	got, err = Eval(expr(DW_OP_call4, uint32le(0x99)), ctx)
	if err != nil {
		t.Fatal(err)
	}
	want = CallTarget{Op: DW_OP_call4, DIE: 0x199, Loc: OptimizedOut{}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}
}

func TestEvalConstType(t *testing.T) {
	typ := &BaseType{Name: "int", Encoding: 0x05, Bits: 32, Offset: 0x2a}
	fctx := &fakeExprCtx{types: map[uint64]*BaseType{0x2a: typ}}
	ctx := &Context{Expr: fctx}

	e := expr(DW_OP_const_type, uint(0x2a), []byte{0x04, 0x01, 0x00, 0x00, 0x00})
	got, err := Eval(e, ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := TypedValue{Bytes: []byte{0x01, 0x00, 0x00, 0x00}, Type: typ}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}
}

func TestEvalTypedOps(t *testing.T) {
	typ := &BaseType{Name: "long", Encoding: 0x05, Bits: 64, Offset: 0x30}
	fctx := &fakeExprCtx{types: map[uint64]*BaseType{0x30: typ}}
	ctx := &Context{Expr: fctx}

	assertEval(t, expr(DW_OP_regval_type, uint(6), uint(0x30)), ctx,
		TypedRegister{Reg: 6, Type: typ})
	assertEval(t, expr(DW_OP_deref_type, []byte{0x08}, uint(0x30)), ctx,
		TypedDeref{Op: DW_OP_deref_type, Size: 8, Type: typ})
	assertEval(t, expr(DW_OP_convert, uint(0x30)), ctx,
		Retyped{Op: DW_OP_convert, Type: typ})

	// Offset zero reverts to the untyped domain.
	assertEval(t, expr(DW_OP_convert, uint(0)), ctx, Retyped{Op: DW_OP_convert})

	// Typed operations referencing anything but a base type fail.
	assertEvalErr(t, expr(DW_OP_convert, uint(0x99)), ctx, ErrNotBaseType)
}

func TestEvalImplicitPointer(t *testing.T) {
	fctx := &fakeExprCtx{
		consts: map[uint64]bool{0x50: true},
		locs:   map[uint64][]byte{0x60: expr(DW_OP_reg0+9)},
	}
	ctx := &Context{Expr: fctx}

	got, err := Eval(expr(DW_OP_implicit_pointer, uint32le(0x50), 8), ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := ImplicitPointer{DIE: 0x50, Offset: 8, Target: ConstantValue{DIE: 0x50}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}

	got, err = Eval(expr(DW_OP_implicit_pointer, uint32le(0x60), -4), ctx)
	if err != nil {
		t.Fatal(err)
	}
	want = ImplicitPointer{DIE: 0x60, Offset: -4, Target: Register(9)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}

	// A target with neither constant nor location is optimized out.
	got, err = Eval(expr(DW_OP_implicit_pointer, uint32le(0x70), 0), ctx)
	if err != nil {
		t.Fatal(err)
	}
	want = ImplicitPointer{DIE: 0x70, Offset: 0, Target: OptimizedOut{}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}
}

func TestEvalEntryValue(t *testing.T) {
	inner := expr(DW_OP_reg0)
	e := expr(DW_OP_entry_value, uint(len(inner)), []byte(inner))
	assertEval(t, e, &Context{}, EntryValue{Op: DW_OP_entry_value, Loc: Register(0)})
}

func TestEvalParameterRef(t *testing.T) {
	fctx := &fakeExprCtx{params: map[uint64]bool{0x140: true}}
	ctx := &Context{CUBase: 0x100, Expr: fctx}

	assertEval(t, expr(DW_OP_GNU_parameter_ref, uint32le(0x40)), ctx, ParameterRef{DIE: 0x140})
	assertEvalErr(t, expr(DW_OP_GNU_parameter_ref, uint32le(0x41)), ctx, ErrNotParameter)
}

func TestEvalAddrIndex(t *testing.T) {
	fctx := &fakeExprCtx{addrs: []uint64{0x400000, 0x400100}}
	ctx := &Context{Expr: fctx}

	assertEval(t, expr(DW_OP_addrx, uint(1)), ctx, Address(0x400100))
	assertEval(t, expr(DW_OP_constx, uint(0)), ctx, StackOp{Op: DW_OP_constx, Number: 0x400000})

	_, err := Eval(expr(DW_OP_addrx, uint(7)), ctx)
	if err == nil {
		t.Error("expected error for out of range debug_addr index")
	}
}

func TestEvalImplicitValue(t *testing.T) {
	e := expr(DW_OP_implicit_value, uint(2), []byte{0xbe, 0xef})
	assertEval(t, e, &Context{}, ImplicitValue([]byte{0xbe, 0xef}))
}

func TestEvalTLS(t *testing.T) {
	assertEval(t, expr(DW_OP_form_tls_address), &Context{}, TLSAddress{Op: DW_OP_form_tls_address})
	assertEval(t, expr(DW_OP_GNU_push_tls_address), &Context{}, TLSAddress{Op: DW_OP_GNU_push_tls_address})
}

func TestEvalAddr(t *testing.T) {
	e := append([]byte{byte(DW_OP_addr)}, []byte{0x00, 0x10, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00}...)
	assertEval(t, e, &Context{}, Address(0x401000))
}

func TestEvalFbregInCFI(t *testing.T) {
	for _, e := range [][]byte{
		expr(DW_OP_fbreg, -8),
		expr(DW_OP_call4, uint32le(0x10)),
		expr(DW_OP_implicit_pointer, uint32le(0x10), 0),
		expr(DW_OP_GNU_parameter_ref, uint32le(0x10)),
	} {
		_, err := Eval(e, &Context{FromCFI: true})
		if err == nil {
			t.Errorf("expression %x: expected error inside CFI", e)
		}
	}
}
