package asm

import (
	"fmt"

	"its-hmny.dev/nand2tetris/pkg/hack"
)

// ----------------------------------------------------------------------------
// Parser

// Drives a 'Lexer' through a one-token pushback buffer and assembles the
// token stream into a 'Program' ([]Statement). Tracks an instruction counter
// used to bind label declarations to the address of the instruction that
// immediately follows them (labels never occupy an instruction slot).
type Parser struct {
	lexer  *Lexer
	stash  []Token
	line   int
	Labels map[string]uint16
}

func NewParser(src string) *Parser {
	return &Parser{lexer: NewLexer(src), Labels: map[string]uint16{}}
}

// Pops the pending pushback buffer if non-empty, otherwise pulls from the
// lexer. End of input is surfaced as a synthetic TokEOF token so that callers
// can treat "no more tokens" the same way they treat an explicit newline.
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

func regLetter(kind TokenKind) string {
	switch kind {
	case TokA:
		return "A"
	case TokM:
		return "M"
	case TokD:
		return "D"
	}
	return ""
}

// Builds the canonical dest-table spelling (always A, then M, then D) from
// the set of registers collected while scanning the left-hand side.
func canonicalDest(hasA, hasM, hasD bool) string {
	dest := ""
	if hasA {
		dest += "A"
	}
	if hasM {
		dest += "M"
	}
	if hasD {
		dest += "D"
	}
	return dest
}

// Parses the body of a computation expression given its first token, where
// 'first' is one of the tokens that can legally start a comp: K0, K1, DASH,
// NOT, A, D or M. When the comp is a bare register (no following operator),
// the lookahead token that disambiguated this is pushed back for the caller.
func (p *Parser) parseComp(first Token) (string, error) {
	switch first.Kind {
	case TokK0:
		return "0", nil
	case TokK1:
		return "1", nil
	case TokDash:
		nxt, err := p.get()
		if err != nil {
			return "", err
		}
		switch nxt.Kind {
		case TokK1:
			return "-1", nil
		case TokD:
			return "-D", nil
		case TokA:
			return "-A", nil
		case TokM:
			return "-M", nil
		}
		return "", fmt.Errorf("line %d: unexpected token after '-' in computation", p.line)
	case TokNot:
		nxt, err := p.get()
		if err != nil {
			return "", err
		}
		switch nxt.Kind {
		case TokD:
			return "!D", nil
		case TokA:
			return "!A", nil
		case TokM:
			return "!M", nil
		}
		return "", fmt.Errorf("line %d: unexpected token after '!' in computation", p.line)
	case TokA, TokD, TokM:
		return p.parseCompFromReg(regLetter(first.Kind), nil)
	}
	return "", fmt.Errorf("line %d: expected a computation expression, got %q", p.line, first.Lexeme)
}

// Parses a comp whose left-hand register has already been identified. If
// 'lookahead' is nil, the operator (if any) is read fresh from the parser;
// otherwise the already-fetched lookahead token is consumed in its place.
func (p *Parser) parseCompFromReg(reg string, lookahead *Token) (string, error) {
	var nxt Token
	var err error
	if lookahead != nil {
		nxt = *lookahead
	} else {
		nxt, err = p.get()
		if err != nil {
			return "", err
		}
	}

	switch nxt.Kind {
	case TokPlus:
		n2, err := p.get()
		if err != nil {
			return "", err
		}
		switch n2.Kind {
		case TokK1:
			return reg + "+1", nil
		case TokA:
			if reg == "D" {
				return "D+A", nil
			}
		case TokM:
			if reg == "D" {
				return "D+M", nil
			}
		}
		return "", fmt.Errorf("line %d: invalid '+' computation after %q", p.line, reg)
	case TokDash:
		n2, err := p.get()
		if err != nil {
			return "", err
		}
		switch n2.Kind {
		case TokK1:
			return reg + "-1", nil
		case TokD:
			if reg == "A" || reg == "M" {
				return reg + "-D", nil
			}
		case TokA:
			if reg == "D" {
				return "D-A", nil
			}
		case TokM:
			if reg == "D" {
				return "D-M", nil
			}
		}
		return "", fmt.Errorf("line %d: invalid '-' computation after %q", p.line, reg)
	case TokAnd:
		if reg != "D" {
			return "", fmt.Errorf("line %d: '&' computation requires a 'D' left-hand side", p.line)
		}
		n2, err := p.get()
		if err != nil {
			return "", err
		}
		switch n2.Kind {
		case TokA:
			return "D&A", nil
		case TokM:
			return "D&M", nil
		}
		return "", fmt.Errorf("line %d: invalid '&' computation", p.line)
	case TokOr:
		if reg != "D" {
			return "", fmt.Errorf("line %d: '|' computation requires a 'D' left-hand side", p.line)
		}
		n2, err := p.get()
		if err != nil {
			return "", err
		}
		switch n2.Kind {
		case TokA:
			return "D|A", nil
		case TokM:
			return "D|M", nil
		}
		return "", fmt.Errorf("line %d: invalid '|' computation", p.line)
	default:
		p.put(nxt)
		return reg, nil
	}
}

// Parses the optional "; JUMP" suffix and the mandatory trailing terminator
// (end-of-statement or end-of-file). 'after' is the token seen right after
// the comp was parsed.
func (p *Parser) parseJump(after Token) (string, error) {
	if after.Kind == TokSemi {
		tok, err := p.get()
		if err != nil {
			return "", err
		}
		if tok.Kind != TokJump {
			return "", fmt.Errorf("line %d: expected a jump mnemonic after ';'", p.line)
		}
		trailing, err := p.get()
		if err != nil {
			return "", err
		}
		if trailing.Kind != TokEOS && trailing.Kind != TokEOF {
			return "", fmt.Errorf("line %d: unexpected trailing token after jump directive", p.line)
		}
		return tok.Lexeme, nil
	}
	if after.Kind != TokEOS && after.Kind != TokEOF {
		return "", fmt.Errorf("line %d: unexpected trailing token in instruction", p.line)
	}
	return "", nil
}

// Parses one C-instruction, given the first token of its left-hand side
// (which may be the start of a dest, or the start of a bare comp).
func (p *Parser) parseCInstruction(first Token) (CInstruction, error) {
	if regLetter(first.Kind) == "" {
		// The comp starts with '0', '1', '-' or '!', so there is no dest.
		comp, err := p.parseComp(first)
		if err != nil {
			return CInstruction{}, err
		}
		after, err := p.get()
		if err != nil {
			return CInstruction{}, err
		}
		jump, err := p.parseJump(after)
		if err != nil {
			return CInstruction{}, err
		}
		return CInstruction{Comp: comp, Jump: jump}, nil
	}

	hasA, hasM, hasD := false, false, false
	tk := first

	for {
		switch tk.Kind {
		case TokA:
			hasA = true
		case TokM:
			hasM = true
		case TokD:
			hasD = true
		}

		nxt, err := p.get()
		if err != nil {
			return CInstruction{}, err
		}

		switch nxt.Kind {
		case TokA, TokD, TokM:
			tk = nxt
			continue
		case TokAssign:
			dest := canonicalDest(hasA, hasM, hasD)
			compTok, err := p.get()
			if err != nil {
				return CInstruction{}, err
			}
			comp, err := p.parseComp(compTok)
			if err != nil {
				return CInstruction{}, err
			}
			after, err := p.get()
			if err != nil {
				return CInstruction{}, err
			}
			jump, err := p.parseJump(after)
			if err != nil {
				return CInstruction{}, err
			}
			return CInstruction{Dest: dest, Comp: comp, Jump: jump}, nil
		default:
			// No '=' followed: this is not a dest, it is a bare comp whose
			// left-hand register is 'tk' (multiple accumulated registers
			// without a following '=' is a syntax error).
			if hasA && hasM || hasA && hasD || hasM && hasD {
				return CInstruction{}, fmt.Errorf("line %d: expected '=' after multi-register destination", p.line)
			}
			comp, err := p.parseCompFromReg(regLetter(tk.Kind), &nxt)
			if err != nil {
				return CInstruction{}, err
			}
			after, err := p.get()
			if err != nil {
				return CInstruction{}, err
			}
			jump, err := p.parseJump(after)
			if err != nil {
				return CInstruction{}, err
			}
			return CInstruction{Comp: comp, Jump: jump}, nil
		}
	}
}

// Parse drives the lexer to completion and returns the full assembled
// 'Program'. Label declarations bind the current instruction counter and do
// not themselves occupy an instruction slot.
func (p *Parser) Parse() (Program, error) {
	program := Program{}
	counter := uint16(0)

	for {
		tok, err := p.get()
		if err != nil {
			return nil, err
		}

		switch tok.Kind {
		case TokEOF:
			return program, nil
		case TokEOS:
			continue
		case TokLabel:
			if _, found := hack.PredefinedSymbols[tok.Lexeme]; found {
				return nil, fmt.Errorf("line %d: label %q collides with a predefined symbol", tok.Line, tok.Lexeme)
			}
			p.Labels[tok.Lexeme] = counter
			program = append(program, LabelDecl{Name: tok.Lexeme})
		case TokInt, TokID:
			trailing, err := p.get()
			if err != nil {
				return nil, err
			}
			if trailing.Kind != TokEOS && trailing.Kind != TokEOF {
				return nil, fmt.Errorf("line %d: unexpected trailing token after A-instruction", tok.Line)
			}
			program = append(program, AInstruction{Location: tok.Lexeme})
			counter++
		case TokK0, TokK1, TokDash, TokNot, TokA, TokD, TokM:
			cinst, err := p.parseCInstruction(tok)
			if err != nil {
				return nil, err
			}
			program = append(program, cinst)
			counter++
		default:
			return nil, fmt.Errorf("line %d: unexpected token to start a statement", tok.Line)
		}
	}
}
