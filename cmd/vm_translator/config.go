package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ProjectConfig is an optional 'nand2tetris.yaml' file, read from the same
// directory as the primary input, giving an alternative to '--search-path'
// for listing where dependent '.vm' modules live.
type ProjectConfig struct {
	SearchPaths []string `yaml:"searchPaths"`
}

// loadProjectConfig reads 'nand2tetris.yaml' from dir. A missing file is not
// an error: it simply yields a zero-value config, since the config file is
// entirely optional.
func loadProjectConfig(dir string) (ProjectConfig, error) {
	content, err := os.ReadFile(dir + "/nand2tetris.yaml")
	if os.IsNotExist(err) {
		return ProjectConfig{}, nil
	}
	if err != nil {
		return ProjectConfig{}, err
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return ProjectConfig{}, err
	}
	return cfg, nil
}
