package asm

import (
	"errors"
	"fmt"
	"strconv"

	"its-hmny.dev/nand2tetris/pkg/hack"
)

// ----------------------------------------------------------------------------
// Code Generator

// Takes a set of 'asm.Statement' and spits out their textual counterparts.
//
// Used by the VM translator to render its generated 'asm.Program' as Hack
// assembly text, independently of the Hack 'hack.CodeGenerator' that renders
// an 'asm.Program' down to binary machine words.
type CodeGenerator struct {
	program Program // The set of statements to convert to Hack assembly text
}

// Initializes and returns to the caller a brand new 'CodeGenerator' struct.
// Requires that argument Program 'p' (what we want to translate) is non-nil.
func NewCodeGenerator(p Program) CodeGenerator {
	return CodeGenerator{program: p}
}

// Translate each statement in the 'program' field to the Asm textual format.
//
// Each instruction will pass through the following step: evaluation, validation and
// then conversion to its textual representation (a string) so that it can be further
// elaborated by the caller (e.g. dumping to a file, runtime interpretation, ...).
func (cg *CodeGenerator) Generate() ([]string, error) {
	lines := make([]string, 0, len(cg.program))

	for _, statement := range cg.program {
		var generated string
		var err error

		switch tStatement := statement.(type) {
		case AInstruction:
			generated, err = cg.GenerateAInst(tStatement)
		case CInstruction:
			generated, err = cg.GenerateCInst(tStatement)
		case LabelDecl:
			generated, err = cg.GenerateLabelDecl(tStatement)
		default:
			err = fmt.Errorf("unrecognized statement type %T", statement)
		}

		if err != nil {
			return nil, err
		}
		lines = append(lines, generated)
	}

	return lines, nil
}

// Specialized function to convert an A Instruction to the Asm format.
func (CodeGenerator) GenerateAInst(stmt AInstruction) (string, error) {
	if stmt.Location == "" {
		return "", errors.New("unable to produce an A instruction with an empty location")
	}
	if n, err := strconv.Atoi(stmt.Location); err == nil && (n < 0 || n > 0x7FFF) {
		return "", fmt.Errorf("A instruction location %d is outside the 15-bit address range", n)
	}
	return fmt.Sprintf("@%s", stmt.Location), nil
}

// Specialized function to convert a C Instruction to the Asm format. Dest and
// Jump are independent: either, both, or neither may be present alongside
// the mandatory Comp.
func (cg *CodeGenerator) GenerateCInst(stmt CInstruction) (string, error) {
	if stmt.Comp == "" {
		return "", errors.New("expected 'comp' directive in C Instruction")
	}

	text := stmt.Comp
	if stmt.Dest != "" {
		text = fmt.Sprintf("%s=%s", stmt.Dest, text)
	}
	if stmt.Jump != "" {
		text = fmt.Sprintf("%s;%s", text, stmt.Jump)
	}
	return text, nil
}

// Specialized function to convert a Label Declaration to the Asm format.
func (cg *CodeGenerator) GenerateLabelDecl(stmt LabelDecl) (string, error) {
	if stmt.Name == "" {
		return "", errors.New("unable to produce an empty label declaration")
	}
	if _, found := hack.PredefinedSymbols[stmt.Name]; found {
		return "", fmt.Errorf("unable to override predefined symbol '%s' with a label", stmt.Name)
	}
	return fmt.Sprintf("(%s)", stmt.Name), nil
}
