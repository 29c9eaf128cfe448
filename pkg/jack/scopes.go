package jack

import (
	"fmt"

	"its-hmny.dev/nand2tetris/pkg/utils"
)

// DeclScopes tracks, for each nested scope currently open, the set of names
// already declared in it. It backs the parser's redeclaration checks: a
// class body rejects a member whose name was already used by a sibling
// member, and a block rejects a declaration that shadows another
// declaration in that very same block (spec.md 4.9: "A declared-names
// stack (per scope) rejects re-declaration within the same scope").
//
// This is deliberately not a symbol table: it carries no types, no
// resolution, no offsets. Semantic analysis of the Jack AST is out of
// scope for this front end.
type DeclScopes struct {
	scopes utils.Stack[map[string]Token]
}

// Push opens a new, empty scope.
func (ds *DeclScopes) Push() { ds.scopes.Push(map[string]Token{}) }

// Pop closes the innermost scope.
func (ds *DeclScopes) Pop() { ds.scopes.Pop() }

// Declare registers 'name' in the innermost scope, returning an error if
// that scope already holds a declaration with the same name.
func (ds *DeclScopes) Declare(name string, tok Token) error {
	top, err := ds.scopes.Top()
	if err != nil {
		return fmt.Errorf("cannot declare %q: no scope is open", name)
	}
	if prior, found := top[name]; found {
		return fmt.Errorf("%s: symbol %q redeclared (first declared at line %d)", tok.Start, name, prior.Start.Line)
	}
	top[name] = tok
	return nil
}
