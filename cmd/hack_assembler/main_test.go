package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHackAssembler(t *testing.T) {
	test := func(source, expected string) {
		dir := t.TempDir()
		input := filepath.Join(dir, "in.asm")
		output := filepath.Join(dir, "out.hack")
		assert.NoError(t, os.WriteFile(input, []byte(source), 0644))

		status := Handler([]string{input, output}, nil)
		assert.Equal(t, 0, status)

		compiled, err := os.ReadFile(output)
		assert.NoError(t, err)
		assert.Equal(t, expected, string(compiled))
	}

	t.Run("A-constant", func(t *testing.T) {
		test("@5\n", "0000000000000101\n")
	})

	t.Run("C-instruction with jump", func(t *testing.T) {
		test("D;JGT\n", "1110001100000001\n")
	})

	t.Run("Label and forward reference", func(t *testing.T) {
		test("@LOOP\n0;JMP\n(LOOP)\n", "0000000000000010\n1110101010000111\n")
	})

	t.Run("Loop with user symbol", func(t *testing.T) {
		source := "(LOOP)\n@counter\nM=M-1\nD=M\n@LOOP\nD;JGT\n"
		status := 0
		dir := t.TempDir()
		input := filepath.Join(dir, "loop.asm")
		output := filepath.Join(dir, "loop.hack")
		assert.NoError(t, os.WriteFile(input, []byte(source), 0644))
		status = Handler([]string{input, output}, nil)
		assert.Equal(t, 0, status)
	})

	t.Run("Missing arguments fails", func(t *testing.T) {
		assert.Equal(t, -1, Handler([]string{"only-one-arg.asm"}, nil))
	})
}
