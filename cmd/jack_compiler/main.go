package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/teris-io/cli"
	"its-hmny.dev/nand2tetris/pkg/jack"
)

var Description = strings.ReplaceAll(`
The Jack Compiler parses programs (composed of multiple classes/files) written in the
Jack language and reports the first syntax error found, if any. Jack is a higher-level
OOP language tailored for use with the Hack computer architecture.
`, "\n", " ")

var JackCompiler = cli.New(Description).
	// 'AsOptional()' allows more than one input .jack file or directory
	WithArg(cli.NewArg("inputs", "The source (.jack) files or directories to be parsed").
		AsOptional().WithType(cli.TypeString)).
	WithAction(Handler)

// Handler walks every input path, parses every '.jack' file it finds, and
// reports the first parse error encountered. It performs no semantic
// analysis, no VM lowering and no AST pretty-printing: this driver and the
// pkg/jack front end it calls stop at producing an AST.
func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		color.Red("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	var units []string
	for _, input := range args {
		err := filepath.Walk(input, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(path) != ".jack" {
				return nil // recurse into dirs, skip every other filetype
			}
			units = append(units, path)
			return nil
		})
		if err != nil {
			color.Red("ERROR: Unable to walk input path '%s': %s\n", input, err)
			return -1
		}
	}

	parsed := 0
	for _, unit := range units {
		content, err := os.ReadFile(unit)
		if err != nil {
			color.Red("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		decls, err := jack.ParseProgram(string(content))
		if err != nil {
			color.Red("ERROR: Unable to parse '%s': %s\n", unit, err)
			return -1
		}

		fmt.Printf("%s: parsed %d top-level declaration(s)\n", unit, len(decls))
		parsed++
	}

	if parsed == 0 {
		color.Red("ERROR: No '.jack' source files found under the given input(s)\n")
		return -1
	}

	return 0
}

func main() { os.Exit(JackCompiler.Run(os.Args, os.Stdout)) }
