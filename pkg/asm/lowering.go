package asm

import (
	"fmt"
	"strconv"

	"its-hmny.dev/nand2tetris/pkg/hack"
)

// ----------------------------------------------------------------------------
// Asm Lowerer

// The Lowerer takes an 'asm.Program' and produces its 'hack.Program' counterpart
// plus the 'hack.SymbolTable' of every label bound while parsing.
//
// Since we get a flat sequence of statements this is a single linear pass: for
// each statement we produce its 'hack.Instruction' counterpart (either A or C
// instruction), skipping label declarations (they only ever contribute to the
// symbol table, never to the emitted instruction sequence).
type Lowerer struct {
	program Program
	labels  map[string]uint16
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// 'labels' is the table of label-name to instruction-index bindings collected
// by the Parser while scanning the program (spec.md 4.2/4.3: labels are bound
// during parsing, not during lowering).
func NewLowerer(p Program, labels map[string]uint16) Lowerer {
	return Lowerer{program: p, labels: labels}
}

// Triggers the lowering process. It iterates statement by statement and
// type-switches on the concrete kind, seeding the resulting symbol table
// with the label bindings already resolved by the Parser.
func (l *Lowerer) Lower() (hack.Program, hack.SymbolTable, error) {
	if len(l.program) == 0 {
		return nil, nil, fmt.Errorf("the given program is empty")
	}

	converted := make(hack.Program, 0, len(l.program))
	table := hack.SymbolTable{}
	for name, addr := range l.labels {
		table[name] = addr
	}

	for _, asmInst := range l.program {
		switch tAsmInst := asmInst.(type) {
		case AInstruction: // Converts 'asm.AInstruction' to 'hack.AInstruction'
			hackInst, err := l.HandleAInst(tAsmInst)
			if err != nil {
				return nil, nil, err
			}
			converted = append(converted, hackInst)

		case CInstruction: // Converts 'asm.CInstruction' to 'hack.CInstruction'
			hackInst, err := l.HandleCInst(tAsmInst)
			if err != nil {
				return nil, nil, err
			}
			converted = append(converted, hackInst)

		case LabelDecl: // Already bound by the Parser, contributes no instruction
			continue

		default: // Error case, unrecognized operation type
			return nil, nil, fmt.Errorf("unrecognized instruction '%T'", asmInst)
		}
	}

	return converted, table, nil
}

// Specialized function to convert a 'asm.AInstruction' node to an 'hack.AInstruction'.
func (l *Lowerer) HandleAInst(inst AInstruction) (hack.Instruction, error) {
	// 1) If it's present in the predefined symbols table, 'LocType' is 'BuiltIn'.
	if _, found := hack.PredefinedSymbols[inst.Location]; found {
		return hack.AInstruction{LocType: hack.BuiltIn, LocName: inst.Location}, nil
	}
	// 2) If it parses as a binary integer, 'LocType' is 'Raw': the Lexer
	// already re-encoded an '@N' literal into its 15-bit zero-padded binary
	// lexeme (spec.md 4.1), so that's the base this re-parse must use too.
	if _, err := strconv.ParseInt(inst.Location, 2, 32); err == nil {
		return hack.AInstruction{LocType: hack.Raw, LocName: inst.Location}, nil
	}
	// 3) Otherwise it's a label or user-defined variable, resolved later by the
	// code generator's symbol table (new variables get allocated on first use).
	return hack.AInstruction{LocType: hack.Label, LocName: inst.Location}, nil
}

// Specialized function to convert a 'asm.CInstruction' node to an 'hack.CInstruction'.
// Dest and Jump are independent bit-fields: a C instruction may legally carry
// both, either, or neither alongside its mandatory Comp (spec.md 4.2).
func (l *Lowerer) HandleCInst(inst CInstruction) (hack.Instruction, error) {
	if inst.Comp == "" {
		return nil, fmt.Errorf("missing mandatory comp part of C instruction")
	}
	if inst.Dest == "" && inst.Jump == "" {
		return nil, fmt.Errorf("a C instruction needs at least one of 'dest' or 'jump'")
	}
	return hack.CInstruction{Dest: inst.Dest, Comp: inst.Comp, Jump: inst.Jump}, nil
}
