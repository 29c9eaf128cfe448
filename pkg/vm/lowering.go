package vm

import (
	"fmt"

	"its-hmny.dev/nand2tetris/pkg/asm"
)

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes one or more 'vm.Module' and produces their 'asm.Program'
// counterpart, implementing the call/return/function trampoline protocol
// described by spec.md 4.6 so that every call site only needs to emit a
// handful of instructions instead of the full prologue/epilogue inline.
//
// All per-program state lives in two maps: 'functions' (name -> definition
// site) and 'referenced' (name -> first call site not yet matched by a
// definition). A function declaration removes its name from 'referenced' and
// inserts it into 'functions', rejecting redefinition. A call inserts into
// 'referenced' iff the name isn't already defined. The Lowerer itself carries
// no per-module state beyond these two maps and the label counter.
type Lowerer struct {
	labelSeq int

	functions  map[string]funcSite
	referenced map[string]funcSite

	callLbl     string
	returnLbl   string
	functionLbl string
}

type funcSite struct {
	Module string
	Line   int
}

// segmentBase maps each pointer-based segment (local, argument, this, that) to
// the RAM register holding its base address; constant, static, temp and pointer
// are not in this map.
var segmentBase = map[SegmentType]string{
	Local:    "LCL",
	Argument: "ARG",
	This:     "THIS",
	That:     "THAT",
}

const (
	stackReg    = "SP"
	scratch1Reg = "R13"
	scratch2Reg = "R14"
	scratch3Reg = "R15"
	staticBase  = 16
	tempBase    = 3
)

func NewLowerer() *Lowerer {
	l := &Lowerer{functions: map[string]funcSite{}, referenced: map[string]funcSite{}}
	l.callLbl = l.freshLabel("CALL") + "___CALL"
	l.returnLbl = l.freshLabel("RETURN") + "___RETURN"
	l.functionLbl = l.freshLabel("FUNCTION") + "___FUNCTION"
	return l
}

func (l *Lowerer) freshLabel(prefix string) string {
	name := fmt.Sprintf("%s%d", prefix, l.labelSeq)
	l.labelSeq++
	return name
}

// Referenced returns the set of functions called but not (yet) defined.
func (l *Lowerer) Referenced() map[string]funcSite { return l.referenced }

// Setup emits the stack pointer initialization per spec.md 4.6: '@256; D=A; @SP; M=D'.
func (l *Lowerer) Setup() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: stackReg},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// LowerModule translates a single module into its 'asm.Program' counterpart,
// mangling every label declared inside it as '{module}.{label}'.
func (l *Lowerer) LowerModule(module string, ops Module) (asm.Program, error) {
	program := asm.Program{}

	for _, op := range ops {
		var generated asm.Program
		var err error

		switch tOp := op.(type) {
		case MemoryOp:
			generated, err = l.handleMemoryOp(tOp)
		case ArithmeticOp:
			generated, err = l.handleArithmeticOp(tOp)
		case LabelDecl:
			generated, err = l.handleLabelDecl(module, tOp)
		case GotoOp:
			generated, err = l.handleGotoOp(module, tOp)
		case FuncDecl:
			generated, err = l.handleFuncDecl(module, tOp)
		case FuncCallOp:
			generated, err = l.handleFuncCallOp(module, tOp)
		case ReturnOp:
			generated, err = l.handleReturnOp()
		default:
			err = fmt.Errorf("unrecognized operation %T", op)
		}

		if err != nil {
			return nil, err
		}
		program = append(program, generated...)
	}

	return program, nil
}

// ----------------------------------------------------------------------------
// Shared instruction sequences

func decrementSP() asm.Program {
	return asm.Program{asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "M", Comp: "M-1"}}
}

func incrementSP() asm.Program {
	return asm.Program{asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "M", Comp: "M+1"}}
}

// loadStackTopIntoD: A = *SP, D = *A (peek, doesn't move SP)
func loadStackTopIntoD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// loadStackBelowTopIntoD: A = *SP - 1, D = *A
func loadStackBelowTopIntoD() asm.Program {
	return asm.Program{
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// pushDIntoStack: *SP = D, SP++
func pushDIntoStack() asm.Program {
	program := asm.Program{
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
	return append(program, incrementSP()...)
}

// popStackIntoDAndSetAToNewTop: SP--, D = *SP, A = SP - 1 (so M == stack's new top)
func popStackIntoDAndSetAToNewTop() asm.Program {
	program := decrementSP()
	program = append(program, loadStackTopIntoD()...)
	program = append(program, asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "A", Comp: "M-1"})
	return program
}

func pushRegIntoStack(reg string) asm.Program {
	program := asm.Program{asm.AInstruction{Location: reg}, asm.CInstruction{Dest: "D", Comp: "M"}}
	return append(program, pushDIntoStack()...)
}

// popStackInto: SP--, D = *SP, *reg = D
func popStackInto(reg string) asm.Program {
	program := decrementSP()
	program = append(program, loadStackTopIntoD()...)
	return append(program, asm.AInstruction{Location: reg}, asm.CInstruction{Dest: "M", Comp: "D"})
}

// ----------------------------------------------------------------------------
// Memory and Arithmetic

func (l *Lowerer) handleMemoryOp(op MemoryOp) (asm.Program, error) {
	switch op.Segment {
	case Pointer:
		if op.Offset > 1 {
			return nil, fmt.Errorf("invalid 'pointer' offset, got %d", op.Offset)
		}
		reg := "THIS"
		if op.Offset == 1 {
			reg = "THAT"
		}
		return l.directMemoryOp(op.Operation, reg)

	case Temp:
		if op.Offset > 7 {
			return nil, fmt.Errorf("invalid 'temp' offset, got %d", op.Offset)
		}
		return l.directMemoryOp(op.Operation, fmt.Sprint(tempBase+op.Offset))

	case Static:
		return l.directMemoryOp(op.Operation, fmt.Sprint(staticBase+op.Offset))

	case Constant:
		if op.Operation == Pop {
			return nil, fmt.Errorf("'pop constant' is not a valid instruction")
		}
		program := asm.Program{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)}, asm.CInstruction{Dest: "D", Comp: "A"},
		}
		return append(program, pushDIntoStack()...), nil

	case Local, Argument, This, That:
		base, found := segmentBase[op.Segment]
		if !found {
			return nil, fmt.Errorf("unrecognized segment %q", op.Segment)
		}
		return l.dynamicMemoryOp(op.Operation, base, op.Offset)

	default:
		return nil, fmt.Errorf("unrecognized segment %q", op.Segment)
	}
}

// directMemoryOp handles push/pop against a fixed absolute address (used for
// static, temp and pointer, which never need pointer indirection).
func (l *Lowerer) directMemoryOp(kind OperationType, location string) (asm.Program, error) {
	if kind == Push {
		program := asm.Program{
			asm.AInstruction{Location: location}, asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushDIntoStack()...), nil
	}
	return popStackInto(location), nil
}

// dynamicMemoryOp handles push/pop against a pointer segment (local,
// argument, this, that): the base address lives in a register and must be
// added to the offset before dereferencing.
func (l *Lowerer) dynamicMemoryOp(kind OperationType, baseReg string, offset uint16) (asm.Program, error) {
	if kind == Push {
		program := asm.Program{
			asm.AInstruction{Location: baseReg}, asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(offset)}, asm.CInstruction{Dest: "A", Comp: "D+A"},
			asm.CInstruction{Dest: "D", Comp: "M"},
		}
		return append(program, pushDIntoStack()...), nil
	}

	// pop: stash target address in scratch1, then pop into *scratch1.
	program := asm.Program{
		asm.AInstruction{Location: baseReg}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: fmt.Sprint(offset)}, asm.CInstruction{Dest: "D", Comp: "D+A"},
		asm.AInstruction{Location: scratch1Reg}, asm.CInstruction{Dest: "M", Comp: "D"},
	}
	program = append(program, decrementSP()...)
	program = append(program, loadStackTopIntoD()...)
	program = append(program,
		asm.AInstruction{Location: scratch1Reg}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)
	return program, nil
}

func (l *Lowerer) handleArithmeticOp(op ArithmeticOp) (asm.Program, error) {
	switch op.Operation {
	case Add, Sub, And, Or:
		return l.binaryArithmetic(op.Operation)
	case Neg:
		program := asm.Program{asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "A", Comp: "M-1"}}
		return append(program, asm.CInstruction{Dest: "M", Comp: "-M"}), nil
	case Not:
		program := asm.Program{asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "A", Comp: "M-1"}}
		return append(program, asm.CInstruction{Dest: "M", Comp: "!M"}), nil
	case Eq, Lt, Gt:
		return l.comparison(op.Operation)
	default:
		return nil, fmt.Errorf("unrecognized arithmetic operation %q", op.Operation)
	}
}

func (l *Lowerer) binaryArithmetic(kind ArithOpType) (asm.Program, error) {
	compOps := map[ArithOpType]string{Add: "D+M", Sub: "M-D", And: "D&M", Or: "D|M"}
	comp, found := compOps[kind]
	if !found {
		return nil, fmt.Errorf("unrecognized binary operation %q", kind)
	}
	program := popStackIntoDAndSetAToNewTop()
	return append(program, asm.CInstruction{Dest: "M", Comp: comp}), nil
}

func (l *Lowerer) comparison(kind ArithOpType) (asm.Program, error) {
	jumpOps := map[ArithOpType]string{Eq: "JEQ", Lt: "JLT", Gt: "JGT"}
	jump, found := jumpOps[kind]
	if !found {
		return nil, fmt.Errorf("unrecognized comparison %q", kind)
	}

	label := l.freshLabel("CMP")
	program := popStackIntoDAndSetAToNewTop()
	program = append(program,
		asm.CInstruction{Dest: "D", Comp: "M-D"},
		asm.CInstruction{Dest: "M", Comp: "-1"},
		asm.AInstruction{Location: label},
		asm.CInstruction{Comp: "D", Jump: jump},
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.LabelDecl{Name: label},
	)
	return program, nil
}

// ----------------------------------------------------------------------------
// Control flow

func mangleLabel(module, label string) string { return module + "." + label }

func (l *Lowerer) handleLabelDecl(module string, op LabelDecl) (asm.Program, error) {
	mangled := mangleLabel(module, op.Name)
	if info, found := l.functions[mangled]; found {
		return nil, fmt.Errorf("line %d: label %q conflicts with function %q defined in %s line %d",
			op.Line, op.Name, mangled, info.Module, info.Line)
	}
	return asm.Program{asm.LabelDecl{Name: mangled}}, nil
}

func (l *Lowerer) handleGotoOp(module string, op GotoOp) (asm.Program, error) {
	mangled := mangleLabel(module, op.Label)
	if op.Jump == Unconditional {
		return asm.Program{asm.AInstruction{Location: mangled}, asm.CInstruction{Comp: "0", Jump: "JMP"}}, nil
	}
	// if-goto: pop the top of stack, jump when it's non-zero.
	program := decrementSP()
	program = append(program, loadStackTopIntoD()...)
	program = append(program, asm.AInstruction{Location: mangled}, asm.CInstruction{Comp: "D", Jump: "JNE"})
	return program, nil
}

// ----------------------------------------------------------------------------
// Function / call / return

func (l *Lowerer) handleFuncDecl(module string, op FuncDecl) (asm.Program, error) {
	if info, found := l.functions[op.Name]; found {
		return nil, fmt.Errorf("line %d: function %q already defined in %s line %d",
			op.Line, op.Name, info.Module, info.Line)
	}
	delete(l.referenced, op.Name)
	l.functions[op.Name] = funcSite{Module: module, Line: op.Line}

	body := l.freshLabel("BODY") + "." + op.Name
	program := asm.Program{
		asm.LabelDecl{Name: op.Name},
		asm.AInstruction{Location: fmt.Sprint(op.NLocal)}, asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: scratch1Reg}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: body}, asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: l.functionLbl}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: body},
	}
	return program, nil
}

func (l *Lowerer) handleFuncCallOp(module string, op FuncCallOp) (asm.Program, error) {
	name := op.Name
	if name == "" {
		// Bare 'call <int>' shorthand: recursive call back into the caller's own function.
		site, found := l.currentFunction(module)
		if !found {
			return nil, fmt.Errorf("line %d: bare 'call %d' used outside of any function", op.Line, op.NArgs)
		}
		name = site
	}
	if _, defined := l.functions[name]; !defined {
		if _, seen := l.referenced[name]; !seen {
			l.referenced[name] = funcSite{Module: module, Line: op.Line}
		}
	}

	ret := l.freshLabel("RET")
	program := asm.Program{
		asm.AInstruction{Location: name}, asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: scratch1Reg}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: fmt.Sprint(op.NArgs)}, asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: scratch2Reg}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: ret}, asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: l.callLbl}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: ret},
	}
	return program, nil
}

// currentFunction is a best-effort lookup for the bare 'call <int>' shorthand:
// it resolves to the last function declared in this module, since the VM
// grammar never nests function bodies.
func (l *Lowerer) currentFunction(module string) (string, bool) {
	var latest string
	var latestLine = -1
	for name, site := range l.functions {
		if site.Module == module && site.Line > latestLine {
			latest, latestLine = name, site.Line
		}
	}
	return latest, latestLine >= 0
}

func (l *Lowerer) handleReturnOp() (asm.Program, error) {
	return asm.Program{asm.AInstruction{Location: l.returnLbl}, asm.CInstruction{Comp: "0", Jump: "JMP"}}, nil
}

// Trampolines emits the three shared sections implementing the call/return/
// function protocol (spec.md 4.6), once per program.
func (l *Lowerer) Trampolines() asm.Program {
	program := asm.Program{}
	program = append(program, l.callTrampoline()...)
	program = append(program, l.returnTrampoline()...)
	program = append(program, l.functionTrampoline()...)
	return program
}

// callTrampoline expects scratch1=function address, scratch2=nargs, D=return address.
func (l *Lowerer) callTrampoline() asm.Program {
	program := asm.Program{asm.LabelDecl{Name: l.callLbl}}
	program = append(program, pushDIntoStack()...)           // push return address
	program = append(program, pushRegIntoStack("LCL")...)    // push LCL
	program = append(program, pushRegIntoStack("ARG")...)    // push ARG
	program = append(program,
		// LCL = SP
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// ARG = SP - nargs - 3
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: scratch2Reg}, asm.CInstruction{Dest: "D", Comp: "D-M"},
		asm.AInstruction{Location: "3"}, asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "M", Comp: "D"},
		// jump to function
		asm.AInstruction{Location: scratch1Reg}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)
	return program
}

// returnTrampoline restores the caller's frame and jumps back.
func (l *Lowerer) returnTrampoline() asm.Program {
	program := asm.Program{asm.LabelDecl{Name: l.returnLbl}}
	// scratch1 = return value (current top of stack)
	program = append(program, loadStackBelowTopIntoD()...)
	program = append(program, asm.AInstruction{Location: scratch1Reg}, asm.CInstruction{Dest: "M", Comp: "D"})
	// scratch2 = ARG (the slot the return value goes into, and the new SP)
	program = append(program,
		asm.AInstruction{Location: "ARG"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: scratch2Reg}, asm.CInstruction{Dest: "M", Comp: "D"},
		// SP = LCL, discarding all locals
		asm.AInstruction{Location: "LCL"}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "M", Comp: "D"},
	)
	// pop caller frame: ARG, LCL, then return address into scratch3
	program = append(program, popStackInto("ARG")...)
	program = append(program, popStackInto("LCL")...)
	program = append(program, loadStackBelowTopIntoD()...)
	program = append(program, decrementSP()...)
	program = append(program, asm.AInstruction{Location: scratch3Reg}, asm.CInstruction{Dest: "M", Comp: "D"})
	// SP = scratch2, push return value, jump to return address
	program = append(program,
		asm.AInstruction{Location: scratch2Reg}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: scratch1Reg}, asm.CInstruction{Dest: "D", Comp: "M"},
	)
	program = append(program, pushDIntoStack()...)
	program = append(program,
		asm.AInstruction{Location: scratch3Reg}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)
	return program
}

// functionTrampoline expects scratch1=nlocal, D=body address.
func (l *Lowerer) functionTrampoline() asm.Program {
	startLoop := l.freshLabel("LOCALS")
	endLoop := l.freshLabel("LOCALS")

	program := asm.Program{asm.LabelDecl{Name: l.functionLbl}}
	program = append(program,
		// stash body address into scratch3
		asm.AInstruction{Location: scratch3Reg}, asm.CInstruction{Dest: "M", Comp: "D"},
		// D = nlocal
		asm.AInstruction{Location: scratch1Reg}, asm.CInstruction{Dest: "D", Comp: "M"},
		asm.LabelDecl{Name: startLoop},
		asm.AInstruction{Location: endLoop}, asm.CInstruction{Comp: "D", Jump: "JEQ"},
	)
	program = append(program,
		asm.AInstruction{Location: stackReg}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "0"},
	)
	program = append(program, incrementSP()...)
	program = append(program,
		asm.CInstruction{Dest: "D", Comp: "D-1"},
		asm.AInstruction{Location: startLoop}, asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: endLoop},
		asm.AInstruction{Location: scratch3Reg}, asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)
	return program
}
