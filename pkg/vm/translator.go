package vm

import (
	"fmt"

	"its-hmny.dev/nand2tetris/pkg/asm"
)

// ----------------------------------------------------------------------------
// Translator

// ModuleSource resolves a module name (without the '.vm' extension) to its
// source text. Returning found=false means the module could not be located
// on the search path; the Translator caches negative results per module so
// it never re-reads a name it already knows a given module doesn't provide.
type ModuleSource func(name string) (src string, found bool, err error)

// Translator drives the VM Lowerer across however many modules are needed to
// resolve every function reference, starting from a single primary module
// and pulling in further modules from the search path on demand.
//
// Per spec.md 4.7: translate the primary module, then loop while any name in
// 'referenced' maps to a discoverable '<name>.vm' module; read, translate,
// and fold it in. A module that fails to resolve one of its own referenced
// names is remembered so it isn't re-read pointlessly. When no further
// modules resolve and 'referenced' is still non-empty, translation fails
// with a report naming every unresolved function and its first call site.
type Translator struct {
	resolve ModuleSource
	lowerer *Lowerer

	loaded       map[string]bool // module names already translated
	failedLookup map[string]bool // module names known not to exist on the search path
}

func NewTranslator(resolve ModuleSource) *Translator {
	return &Translator{
		resolve:      resolve,
		lowerer:      NewLowerer(),
		loaded:       map[string]bool{},
		failedLookup: map[string]bool{},
	}
}

// Translate compiles 'primaryName'/'primarySrc' plus every module it
// transitively depends on, returning the final Hack assembly program.
func (t *Translator) Translate(primaryName, primarySrc string) ([]string, error) {
	program := t.lowerer.Setup()

	primaryModule, err := ParseModule(primarySrc)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", primaryName, err)
	}
	lowered, err := t.lowerer.LowerModule(primaryName, primaryModule)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", primaryName, err)
	}
	program = append(program, lowered...)
	t.loaded[primaryName] = true

	for {
		pending := t.unresolvedModuleNames()
		if len(pending) == 0 {
			break
		}

		progressed := false
		for _, name := range pending {
			src, found, err := t.resolve(name)
			if err != nil {
				return nil, fmt.Errorf("resolving module %q: %w", name, err)
			}
			if !found {
				t.failedLookup[name] = true
				continue
			}

			module, err := ParseModule(src)
			if err != nil {
				return nil, fmt.Errorf("module %q: %w", name, err)
			}
			lowered, err := t.lowerer.LowerModule(name, module)
			if err != nil {
				return nil, fmt.Errorf("module %q: %w", name, err)
			}
			program = append(program, lowered...)
			t.loaded[name] = true
			progressed = true
		}

		if !progressed {
			break
		}
	}

	if unresolved := t.remainingUnresolved(); len(unresolved) > 0 {
		return nil, unresolvedFunctionsError(unresolved)
	}

	program = append(program, t.lowerer.Trampolines()...)

	if _, err := asm.ResolveLabels(program); err != nil {
		return nil, err
	}
	codegen := asm.NewCodeGenerator(program)
	return codegen.Generate()
}

// unresolvedModuleNames returns the distinct module names implied by the
// currently-referenced (but not yet defined) function names, skipping any
// module already loaded or already known to not exist.
func (t *Translator) unresolvedModuleNames() []string {
	seen := map[string]bool{}
	names := []string{}
	for fn := range t.lowerer.Referenced() {
		module := moduleNameOf(fn)
		if module == "" || t.loaded[module] || t.failedLookup[module] || seen[module] {
			continue
		}
		seen[module] = true
		names = append(names, module)
	}
	return names
}

// moduleNameOf derives a module name from a fully qualified function name
// (e.g. 'Sys.halt' -> 'Sys'), the nand2tetris convention of one class per module.
func moduleNameOf(function string) string {
	for i := 0; i < len(function); i++ {
		if function[i] == '.' {
			return function[:i]
		}
	}
	return ""
}

func (t *Translator) remainingUnresolved() map[string]funcSite {
	return t.lowerer.Referenced()
}

func unresolvedFunctionsError(unresolved map[string]funcSite) error {
	report := "unresolved functions:"
	for name, site := range unresolved {
		report += fmt.Sprintf("\n  %s (first referenced in %s, line %d)", name, site.Module, site.Line)
	}
	return fmt.Errorf("%s", report)
}
