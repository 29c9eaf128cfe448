package vm

import (
	"fmt"
	"strconv"
)

// ----------------------------------------------------------------------------
// Parser

// Drives a 'Lexer' through a one-token pushback buffer and assembles the
// token stream into a 'Module' ([]Operation). Tracks label declarations and
// pending goto references within the module being parsed: a goto referencing
// a label not yet seen is recorded as pending and resolved (or left dangling)
// as parsing proceeds.
type Parser struct {
	lexer        *Lexer
	stash        []Token
	line         int
	Labels       map[string]int // label name -> first-declaration line
	PendingGotos map[string]int // unresolved goto target -> first-reference line
}

func NewParser(src string) *Parser {
	return &Parser{lexer: NewLexer(src), Labels: map[string]int{}, PendingGotos: map[string]int{}}
}

func (p *Parser) get() (Token, error) {
	if n := len(p.stash); n > 0 {
		tok := p.stash[n-1]
		p.stash = p.stash[:n-1]
		return tok, nil
	}
	tok, err, done := p.lexer.Lex()
	if err != nil {
		return Token{}, err
	}
	if done {
		return Token{Kind: TokEOF, Line: p.line}, nil
	}
	p.line = tok.Line
	return tok, nil
}

func (p *Parser) put(tok Token) { p.stash = append(p.stash, tok) }

// expectOneOf consumes the next token and fails unless its kind is in 'kinds'.
func (p *Parser) expectOneOf(kinds ...TokenKind) (Token, error) {
	tok, err := p.get()
	if err != nil {
		return Token{}, err
	}
	for _, kind := range kinds {
		if tok.Kind == kind {
			return tok, nil
		}
	}
	return Token{}, fmt.Errorf("line %d: unexpected token %q", tok.Line, tok.Lexeme)
}

// expectStatementEnd requires EOS or EOF right after a statement's last token.
func (p *Parser) expectStatementEnd(startLine int) error {
	tok, err := p.get()
	if err != nil {
		return err
	}
	if tok.Kind != TokEOS && tok.Kind != TokEOF {
		return fmt.Errorf("line %d: unexpected trailing token after statement", startLine)
	}
	return nil
}

func (p *Parser) registerLabel(name string, line int) error {
	if seen, found := p.Labels[name]; found {
		return fmt.Errorf("line %d: label %q already declared at line %d", line, name, seen)
	}
	delete(p.PendingGotos, name)
	p.Labels[name] = line
	return nil
}

func (p *Parser) resolveGotoLabel(name string, line int) {
	if _, found := p.Labels[name]; !found {
		p.PendingGotos[name] = line
	}
}

func pushSegmentSpecs() map[TokenKind]SegmentType { return segmentTokens }

func popSegmentSpecs() map[TokenKind]SegmentType {
	specs := map[TokenKind]SegmentType{}
	for k, v := range segmentTokens {
		if k != TokConstant {
			specs[k] = v
		}
	}
	return specs
}

// parseMemoryOp parses the segment/index pair following 'push'/'pop'.
func (p *Parser) parseMemoryOp(op OperationType, allowed map[TokenKind]SegmentType, line int) (MemoryOp, error) {
	segTok, err := p.get()
	if err != nil {
		return MemoryOp{}, err
	}
	segment, ok := allowed[segTok.Kind]
	if !ok {
		if op == Pop && segTok.Kind == TokConstant {
			return MemoryOp{}, fmt.Errorf("line %d: 'pop constant' is not a valid instruction", line)
		}
		return MemoryOp{}, fmt.Errorf("line %d: unexpected segment %q", line, segTok.Lexeme)
	}
	idxTok, err := p.expectOneOf(TokInt)
	if err != nil {
		return MemoryOp{}, err
	}
	n, err := strconv.ParseUint(idxTok.Lexeme, 10, 16)
	if err != nil {
		return MemoryOp{}, fmt.Errorf("line %d: invalid segment index %q", line, idxTok.Lexeme)
	}
	if err := p.expectStatementEnd(line); err != nil {
		return MemoryOp{}, err
	}
	return MemoryOp{Operation: op, Segment: segment, Offset: uint16(n)}, nil
}

// Parse consumes one statement and returns its parsed 'Operation'. Returns
// (nil, nil, true) once the token stream is exhausted, reporting any pending
// unresolved gotos at that point.
func (p *Parser) Parse() (Operation, error, bool) {
	for {
		tok, err := p.get()
		if err != nil {
			return nil, err, false
		}

		switch tok.Kind {
		case TokEOF:
			if len(p.PendingGotos) > 0 {
				for label, line := range p.PendingGotos {
					return nil, fmt.Errorf("goto label %q referenced on line %d was not found", label, line), false
				}
			}
			return nil, nil, true

		case TokEOS:
			continue

		case TokAdd, TokSub, TokAnd, TokOr:
			if err := p.expectStatementEnd(tok.Line); err != nil {
				return nil, err, false
			}
			return ArithmeticOp{Operation: arithKind(tok.Kind)}, nil, false

		case TokEq, TokLt, TokGt:
			if err := p.expectStatementEnd(tok.Line); err != nil {
				return nil, err, false
			}
			return ArithmeticOp{Operation: arithKind(tok.Kind)}, nil, false

		case TokNeg, TokNot:
			if err := p.expectStatementEnd(tok.Line); err != nil {
				return nil, err, false
			}
			return ArithmeticOp{Operation: arithKind(tok.Kind)}, nil, false

		case TokReturn:
			if err := p.expectStatementEnd(tok.Line); err != nil {
				return nil, err, false
			}
			return ReturnOp{}, nil, false

		case TokPush:
			op, err := p.parseMemoryOp(Push, pushSegmentSpecs(), tok.Line)
			return op, err, false

		case TokPop:
			op, err := p.parseMemoryOp(Pop, popSegmentSpecs(), tok.Line)
			return op, err, false

		case TokLabel:
			ident, err := p.expectOneOf(TokID)
			if err != nil {
				return nil, err, false
			}
			if err := p.registerLabel(ident.Lexeme, tok.Line); err != nil {
				return nil, err, false
			}
			if err := p.expectStatementEnd(tok.Line); err != nil {
				return nil, err, false
			}
			return LabelDecl{Name: ident.Lexeme, Line: tok.Line}, nil, false

		case TokGoto, TokIfGoto:
			ident, err := p.expectOneOf(TokID)
			if err != nil {
				return nil, err, false
			}
			p.resolveGotoLabel(ident.Lexeme, tok.Line)
			if err := p.expectStatementEnd(tok.Line); err != nil {
				return nil, err, false
			}
			jump := Unconditional
			if tok.Kind == TokIfGoto {
				jump = Conditional
			}
			return GotoOp{Jump: jump, Label: ident.Lexeme, Line: tok.Line}, nil, false

		case TokFunction:
			ident, err := p.expectOneOf(TokID)
			if err != nil {
				return nil, err, false
			}
			nvars, err := p.expectOneOf(TokInt)
			if err != nil {
				return nil, err, false
			}
			if err := p.expectStatementEnd(tok.Line); err != nil {
				return nil, err, false
			}
			n, err := strconv.ParseUint(nvars.Lexeme, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid local count %q", tok.Line, nvars.Lexeme), false
			}
			return FuncDecl{Name: ident.Lexeme, NLocal: uint16(n), Line: tok.Line}, nil, false

		case TokCall:
			// Either "call <id> <int>" or the bare "call <int>" shorthand.
			next, err := p.get()
			if err != nil {
				return nil, err, false
			}
			var name string
			var nargsTok Token
			if next.Kind == TokID {
				name = next.Lexeme
				nargsTok, err = p.expectOneOf(TokInt)
				if err != nil {
					return nil, err, false
				}
			} else if next.Kind == TokInt {
				nargsTok = next
			} else {
				return nil, fmt.Errorf("line %d: expected a function name or argument count after 'call'", tok.Line), false
			}
			if err := p.expectStatementEnd(tok.Line); err != nil {
				return nil, err, false
			}
			n, err := strconv.ParseUint(nargsTok.Lexeme, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid argument count %q", tok.Line, nargsTok.Lexeme), false
			}
			return FuncCallOp{Name: name, NArgs: uint16(n), Line: tok.Line}, nil, false

		default:
			return nil, fmt.Errorf("line %d: unexpected token %q", tok.Line, tok.Lexeme), false
		}
	}
}

func arithKind(kind TokenKind) ArithOpType {
	switch kind {
	case TokAdd:
		return Add
	case TokSub:
		return Sub
	case TokNeg:
		return Neg
	case TokNot:
		return Not
	case TokAnd:
		return And
	case TokOr:
		return Or
	case TokEq:
		return Eq
	case TokLt:
		return Lt
	case TokGt:
		return Gt
	}
	return ""
}

// ParseModule drives the parser to completion and returns the full module.
func ParseModule(src string) (Module, error) {
	p := NewParser(src)
	module := Module{}
	for {
		op, err, done := p.Parse()
		if err != nil {
			return nil, err
		}
		if done {
			return module, nil
		}
		module = append(module, op)
	}
}
