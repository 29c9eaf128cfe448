package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadProjectConfigMissingFile(t *testing.T) {
	cfg, err := loadProjectConfig(t.TempDir())
	assert.NoError(t, err)
	assert.Empty(t, cfg.SearchPaths)
}

func TestLoadProjectConfigReadsSearchPaths(t *testing.T) {
	dir := t.TempDir()
	content := "searchPaths:\n  - ../shared\n  - ../vendor\n"
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "nand2tetris.yaml"), []byte(content), 0644))

	cfg, err := loadProjectConfig(dir)
	assert.NoError(t, err)
	assert.Equal(t, []string{"../shared", "../vendor"}, cfg.SearchPaths)
}

func TestVMTranslatorUsesProjectConfigSearchPaths(t *testing.T) {
	dir := t.TempDir()
	extra := filepath.Join(dir, "extra")
	assert.NoError(t, os.Mkdir(extra, 0755))

	mainSrc := "function Main.main 0\ncall Sys.halt 0\nreturn\n"
	sysSrc := "function Sys.halt 0\nreturn\n"
	mainPath := filepath.Join(dir, "Main.vm")
	output := filepath.Join(dir, "out.asm")
	assert.NoError(t, os.WriteFile(mainPath, []byte(mainSrc), 0644))
	assert.NoError(t, os.WriteFile(filepath.Join(extra, "Sys.vm"), []byte(sysSrc), 0644))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "nand2tetris.yaml"), []byte("searchPaths:\n  - extra\n"), 0644))

	status := Handler([]string{mainPath}, map[string]string{"output": output})
	assert.Equal(t, 0, status)
}
