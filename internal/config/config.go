// Package config loads the optional prefix.yaml file placed next to a
// script, following the YAML-config-next-to-entrypoint idiom the pack's
// services use (cmd flags always win over file values). Grounded on the
// teacher pack's gopkg.in/yaml.v2 usage for small, hand-written config
// structs rather than a dedicated config-loading framework.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config holds the ambient settings SPEC_FULL's Configuration section
// describes: additional IMPORT search directories, an audit log path, and
// a verbose default. A non-empty -audit flag replaces AuditLog; -verbose
// can only switch Verbose on, not off; -lib directories are searched
// before LibPaths, which are appended rather than replaced.
type Config struct {
	LibPaths []string `yaml:"libPaths"`
	AuditLog string   `yaml:"auditLog"`
	Verbose  bool     `yaml:"verbose"`
}

// fileName is the conventional config file looked for beside a script.
const fileName = "prefix.yaml"

// Load reads prefix.yaml from the directory containing scriptPath, if one
// exists. scriptPath == "" (REPL mode) looks in the current directory. A
// missing file is not an error; Load returns a zero Config.
func Load(scriptPath string) (Config, error) {
	dir := "."
	if scriptPath != "" {
		dir = filepath.Dir(scriptPath)
	}
	path := filepath.Join(dir, fileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
