package op

import (
	"errors"
	"fmt"
)

// ErrNotParameter is returned when DW_OP_GNU_parameter_ref references a DIE
// that is not a formal parameter.
var ErrNotParameter = errors.New("not a formal parameter")

// Eval evaluates a DWARF location expression against ctx and returns its
// classification. Evaluation is a single pass over the operations; each
// top level operation is self describing, so no general purpose stack
// machine is simulated. Failures are local to this expression: ctx and the
// structures reachable from it are never modified.
func Eval(expr []byte, ctx *Context) (Result, error) {
	ctx.depth++
	defer func() { ctx.depth-- }()
	if ctx.depth > MaxDepth {
		return nil, ErrRecursionLimit
	}

	instrs, err := Instructions(expr, ctx.ptrSize(), ctx.refSize())
	if err != nil {
		return nil, err
	}

	elems := make([]Result, 0, len(instrs))
	for i := range instrs {
		r, err := evalInstr(&instrs[i], ctx)
		if err != nil {
			return nil, err
		}
		elems = append(elems, r)
	}

	return classify(elems), nil
}

func evalInstr(instr *Instruction, ctx *Context) (Result, error) {
	op := instr.Op

	switch {
	case op.IsReg():
		return Register(op - DW_OP_reg0), nil
	case op.IsLit():
		return StackOp{Op: op, Number: uint64(op - DW_OP_lit0)}, nil
	case op.IsBreg():
		return StackOp{Op: op, Number: instr.Number}, nil
	}

	switch op {
	case DW_OP_deref, DW_OP_dup, DW_OP_drop, DW_OP_over, DW_OP_swap,
		DW_OP_rot, DW_OP_xderef, DW_OP_abs, DW_OP_and, DW_OP_div,
		DW_OP_minus, DW_OP_mod, DW_OP_mul, DW_OP_neg, DW_OP_not,
		DW_OP_or, DW_OP_plus, DW_OP_shl, DW_OP_shr, DW_OP_shra,
		DW_OP_xor, DW_OP_eq, DW_OP_ge, DW_OP_gt, DW_OP_le, DW_OP_lt,
		DW_OP_ne, DW_OP_nop, DW_OP_stack_value:
		// No arguments.
		return StackOp{Op: op}, nil

	case DW_OP_const1u, DW_OP_const1s, DW_OP_const2u, DW_OP_const2s,
		DW_OP_const4u, DW_OP_const4s, DW_OP_const8u, DW_OP_const8s,
		DW_OP_constu, DW_OP_consts, DW_OP_pick, DW_OP_plus_uconst,
		DW_OP_deref_size, DW_OP_xderef_size, DW_OP_bra, DW_OP_skip:
		// One numeric argument, encoded directly in the stream.
		return StackOp{Op: op, Number: instr.Number}, nil

	case DW_OP_bregx, DW_OP_bit_piece:
		return StackOp{Op: op, Number: instr.Number, Number2: instr.Number2}, nil

	case DW_OP_piece:
		return StackOp{Op: op, Number: instr.Number}, nil

	case DW_OP_regx:
		return Register(instr.Number), nil

	case DW_OP_addr:
		return Address(instr.Number), nil

	case DW_OP_fbreg:
		// Offset from the frame base; composing it with the frame base
		// value is the caller's concern.
		if ctx.FromCFI {
			return nil, ErrCallInCFI
		}
		if !ctx.HasFrameBase {
			return nil, ErrFrameBaseRequired
		}
		return FrameOffset(instr.Sword()), nil

	case DW_OP_form_tls_address, DW_OP_GNU_push_tls_address:
		// Pops an offset and pushes an address in the thread local
		// storage block of the defining module. The TLS base itself is
		// resolved by the caller at runtime.
		return TLSAddress{Op: op}, nil

	case DW_OP_GNU_uninit:
		return Uninitialized{}, nil

	case DW_OP_call_frame_cfa:
		return evalCFA(ctx)

	case DW_OP_push_object_address:
		if ctx.FromCFI {
			return nil, ErrObjectAddrInCFI
		}
		return ObjectAddress{}, nil

	case DW_OP_call2, DW_OP_call4, DW_OP_call_ref:
		if ctx.FromCFI || ctx.Expr == nil {
			return nil, ErrCallInCFI
		}
		off := instr.Number
		if op != DW_OP_call_ref {
			off += ctx.CUBase
		}
		callExpr, err := ctx.Expr.CallExpr(off)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op.Name(), err)
		}
		loc := Result(OptimizedOut{})
		if callExpr != nil {
			loc, err = Eval(callExpr, ctx)
			if err != nil {
				return nil, err
			}
		}
		return CallTarget{Op: op, DIE: off, Loc: loc}, nil

	case DW_OP_implicit_value:
		return ImplicitValue(instr.Block), nil

	case DW_OP_implicit_pointer, DW_OP_GNU_implicit_pointer:
		if ctx.FromCFI || ctx.Expr == nil {
			return nil, ErrCallInCFI
		}
		target, err := evalDIEValue(ctx, instr.Number)
		if err != nil {
			return nil, err
		}
		return ImplicitPointer{DIE: instr.Number, Offset: instr.Sword2(), Target: target}, nil

	case DW_OP_GNU_variable_value:
		if ctx.FromCFI || ctx.Expr == nil {
			return nil, ErrCallInCFI
		}
		target, err := evalDIEValue(ctx, instr.Number)
		if err != nil {
			return nil, err
		}
		return VariableValue{DIE: instr.Number, Target: target}, nil

	case DW_OP_entry_value, DW_OP_GNU_entry_value:
		// The block is an expression whose registers are read as they
		// were on entering the current function; it still describes the
		// value that would be seen here, so it is evaluated at the
		// current PC.
		loc, err := Eval(instr.Block, ctx)
		if err != nil {
			return nil, err
		}
		return EntryValue{Op: op, Loc: loc}, nil

	case DW_OP_GNU_parameter_ref:
		if ctx.FromCFI || ctx.Expr == nil {
			return nil, ErrCallInCFI
		}
		off := ctx.CUBase + instr.Number
		isParam, err := ctx.Expr.IsParameter(off)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op.Name(), err)
		}
		if !isParam {
			return nil, ErrNotParameter
		}
		return ParameterRef{DIE: off}, nil

	case DW_OP_convert, DW_OP_GNU_convert, DW_OP_reinterpret, DW_OP_GNU_reinterpret:
		// Operand zero means the value becomes untyped again.
		if instr.Number == 0 {
			return Retyped{Op: op}, nil
		}
		typ, err := evalBaseType(ctx, ctx.CUBase+instr.Number)
		if err != nil {
			return nil, err
		}
		return Retyped{Op: op, Type: typ}, nil

	case DW_OP_regval_type, DW_OP_GNU_regval_type:
		typ, err := evalBaseType(ctx, ctx.CUBase+instr.Number2)
		if err != nil {
			return nil, err
		}
		return TypedRegister{Reg: instr.Number, Type: typ}, nil

	case DW_OP_deref_type, DW_OP_GNU_deref_type, DW_OP_xderef_type:
		off := instr.Number2
		if op != DW_OP_xderef_type {
			off += ctx.CUBase
		}
		typ, err := evalBaseType(ctx, off)
		if err != nil {
			return nil, err
		}
		return TypedDeref{Op: op, Size: instr.Number, Type: typ}, nil

	case DW_OP_const_type, DW_OP_GNU_const_type:
		typ, err := evalBaseType(ctx, ctx.CUBase+instr.Number)
		if err != nil {
			return nil, err
		}
		return TypedValue{Bytes: instr.Block, Type: typ}, nil

	case DW_OP_addrx, DW_OP_GNU_addr_index:
		addr, err := evalDebugAddr(ctx, instr.Number)
		if err != nil {
			return nil, err
		}
		return Address(addr), nil

	case DW_OP_constx, DW_OP_GNU_const_index:
		val, err := evalDebugAddr(ctx, instr.Number)
		if err != nil {
			return nil, err
		}
		return StackOp{Op: op, Number: val}, nil
	}

	return nil, &UnsupportedOpcodeError{Op: op}
}

// evalCFA handles DW_OP_call_frame_cfa: the CFI accessor produces the
// expression computing the CFA at the current PC and that expression is
// itself evaluated, as a CFI expression.
func evalCFA(ctx *Context) (Result, error) {
	if ctx.FromCFI {
		return nil, ErrCFAInCFI
	}
	if len(ctx.CFA) == 0 && !ctx.Debug && !ctx.ETRel {
		return nil, ErrNoCFI
	}

	for _, src := range ctx.CFA {
		if src.Provider == nil {
			continue
		}
		cfaExpr, err := src.Provider.CFAExpressionAt(ctx.PC + src.Bias)
		if err != nil || cfaExpr == nil {
			continue
		}
		sub := *ctx
		sub.FromCFI = true
		sub.Expr = nil
		frame, err := Eval(cfaExpr, &sub)
		if err != nil {
			return nil, err
		}
		return CFA{Frame: frame}, nil
	}

	if ctx.ETRel || ctx.Debug {
		// Relocatable objects may have an .eh_frame with relocations that
		// were never applied; treat the CFA as opaque.
		return UnresolvedCFA{}, nil
	}
	return nil, ErrNoCFI
}

// evalDIEValue classifies the value of the DIE referenced by an implicit
// pointer or variable value operation: a constant, an evaluated location,
// or optimized out.
func evalDIEValue(ctx *Context, off uint64) (Result, error) {
	expr, isConst, err := ctx.Expr.LocationOf(off, ctx.PC)
	if err != nil {
		return nil, err
	}
	if isConst {
		return ConstantValue{DIE: off}, nil
	}
	if expr == nil {
		return OptimizedOut{}, nil
	}
	return Eval(expr, ctx)
}

func evalBaseType(ctx *Context, off uint64) (*BaseType, error) {
	if ctx.Expr == nil {
		return nil, ErrCallInCFI
	}
	return ctx.Expr.BaseType(off)
}

func evalDebugAddr(ctx *Context, idx uint64) (uint64, error) {
	if ctx.Expr == nil {
		return 0, ErrCallInCFI
	}
	return ctx.Expr.DebugAddr(idx)
}

// classify folds the per-operation results of one expression into its
// terminal classification.
func classify(elems []Result) Result {
	if len(elems) == 0 {
		return OptimizedOut{}
	}

	hasPiece := false
	for _, e := range elems {
		if so, ok := e.(StackOp); ok && (so.Op == DW_OP_piece || so.Op == DW_OP_bit_piece) {
			hasPiece = true
			break
		}
	}
	if hasPiece {
		var pieces Composite
		var segment []Result
		for _, e := range elems {
			if so, ok := e.(StackOp); ok && (so.Op == DW_OP_piece || so.Op == DW_OP_bit_piece) {
				part := segmentPart(segment)
				segment = nil
				if so.Op == DW_OP_piece {
					pieces = append(pieces, Piece{Size: so.Number, Part: part})
				} else {
					pieces = append(pieces, BitPiece{Size: so.Number, Offset: so.Number2, Part: part})
				}
				continue
			}
			segment = append(segment, e)
		}
		if part := segmentPart(segment); part != nil {
			pieces = append(pieces, part)
		}
		return pieces
	}

	if so, ok := elems[len(elems)-1].(StackOp); ok && so.Op == DW_OP_stack_value {
		return StackValue{Parts: elems[:len(elems)-1]}
	}

	if len(elems) == 1 {
		return elems[0]
	}
	return Composite(elems)
}

func segmentPart(segment []Result) Result {
	switch len(segment) {
	case 0:
		return nil
	case 1:
		return segment[0]
	default:
		return Composite(segment)
	}
}
