package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/teris-io/cli"
	"its-hmny.dev/nand2tetris/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	WithArg(cli.NewArg("input", "The primary bytecode (.vm) file to be compiled")).
	WithOption(cli.NewOption("output", "The compiled binary output (.asm)").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("search-path", "Additional directory to search for dependent .vm modules").
		WithType(cli.TypeString)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 || options["output"] == "" {
		color.Red("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	inputPath := args[0]
	primarySrc, err := os.ReadFile(inputPath)
	if err != nil {
		color.Red("ERROR: Unable to open input file: %s\n", err)
		return -1
	}
	primaryName := strings.TrimSuffix(filepath.Base(inputPath), ".vm")

	output, err := os.Create(options["output"])
	if err != nil {
		color.Red("ERROR: Unable to open output file: %s\n", err)
		return -1
	}
	defer output.Close()

	inputDir := filepath.Dir(inputPath)
	searchDirs := []string{inputDir}
	if dir, given := options["search-path"]; given {
		searchDirs = append(searchDirs, dir)
	}

	cfg, err := loadProjectConfig(inputDir)
	if err != nil {
		color.Red("ERROR: Unable to read project config: %s\n", err)
		return -1
	}
	for _, extra := range cfg.SearchPaths {
		searchDirs = append(searchDirs, filepath.Join(inputDir, extra))
	}

	translator := vm.NewTranslator(resolveFromDirs(searchDirs))
	compiled, err := translator.Translate(primaryName, string(primarySrc))
	if err != nil {
		color.Red("ERROR: Unable to translate VM program: %s\n", err)
		return -1
	}

	for _, line := range compiled {
		fmt.Fprintf(output, "%s\n", line)
	}

	return 0
}

// resolveFromDirs builds a vm.ModuleSource that looks for '<name>.vm' across
// the given directories, in order, returning the first one found.
func resolveFromDirs(dirs []string) vm.ModuleSource {
	return func(name string) (string, bool, error) {
		for _, dir := range dirs {
			path := filepath.Join(dir, name+".vm")
			content, err := os.ReadFile(path)
			if err == nil {
				return string(content), true, nil
			}
			if !os.IsNotExist(err) {
				return "", false, err
			}
		}
		return "", false, nil
	}
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
