package jack_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"its-hmny.dev/nand2tetris/pkg/jack"
)

func lexAll(t *testing.T, src string) []jack.Token {
	t.Helper()
	lexer := jack.NewLexer(src)
	var toks []jack.Token
	for {
		tok, err := lexer.Lex()
		assert.NoError(t, err)
		toks = append(toks, tok)
		if tok.Kind == jack.TokEOF {
			return toks
		}
	}
}

func TestLexerKeywordsAndIdentifiers(t *testing.T) {
	toks := lexAll(t, "class fn is isnot free counter")
	kinds := make([]jack.TokenKind, len(toks))
	for i, tok := range toks {
		kinds[i] = tok.Kind
	}
	assert.Equal(t, []jack.TokenKind{
		jack.TokClass, jack.TokFn, jack.TokIs, jack.TokIsNot, jack.TokFree, jack.TokID, jack.TokEOF,
	}, kinds)
	assert.Equal(t, "counter", toks[5].Lexeme)
}

func TestLexerTwoCharOperators(t *testing.T) {
	toks := lexAll(t, "<= < == != >= > && || & |")
	kinds := make([]jack.TokenKind, 0, len(toks))
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []jack.TokenKind{
		jack.TokLessE, jack.TokLessT, jack.TokEqual, jack.TokNEqual, jack.TokGreatE,
		jack.TokGreatT, jack.TokAnd, jack.TokOr, jack.TokAmp, jack.TokBar, jack.TokEOF,
	}, kinds)
}

func TestLexerStringLiteral(t *testing.T) {
	toks := lexAll(t, `"hello world"`)
	assert.Equal(t, jack.TokString, toks[0].Kind)
	assert.Equal(t, `"hello world"`, toks[0].Lexeme)
}

func TestLexerUnterminatedString(t *testing.T) {
	lexer := jack.NewLexer(`"never closed`)
	_, err := lexer.Lex()
	assert.Error(t, err)
}

func TestLexerUnterminatedBlockComment(t *testing.T) {
	lexer := jack.NewLexer("/* never closed")
	_, err := lexer.Lex()
	assert.Error(t, err)
}

func TestLexerLineComment(t *testing.T) {
	toks := lexAll(t, "x // trailing comment\ny")
	assert.Equal(t, jack.TokID, toks[0].Kind)
	assert.Equal(t, "x", toks[0].Lexeme)
	assert.Equal(t, jack.TokID, toks[1].Kind)
	assert.Equal(t, "y", toks[1].Lexeme)
}

func TestLexerIntegerRejectsTrailingLetters(t *testing.T) {
	lexer := jack.NewLexer("123abc")
	_, err := lexer.Lex()
	assert.Error(t, err)
}

func TestLexerTracksSourceSpans(t *testing.T) {
	toks := lexAll(t, "ab\ncd")
	assert.Equal(t, 1, toks[0].Start.Line)
	assert.Equal(t, 2, toks[1].Start.Line)
}
