package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/tertulia/pkg/core"
)

// RolesFile is the YAML document describing one conversation group.
type RolesFile struct {
	// MaxTurn overrides the configured turn budget when positive.
	MaxTurn int `yaml:"max_turn"`

	// Roles take turns in declaration order.
	Roles []core.Role `yaml:"roles"`
}

// LoadRoles reads a roles file. Relative flow working directories are
// anchored at the roles file's directory so a group directory stays
// relocatable.
func LoadRoles(path string) (*RolesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read roles file %s: %w", path, err)
	}

	var rf RolesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("cannot parse roles file %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for i := range rf.Roles {
		if rf.Roles[i].WorkingDir == "" {
			rf.Roles[i].WorkingDir = baseDir
		} else if !filepath.IsAbs(rf.Roles[i].WorkingDir) {
			rf.Roles[i].WorkingDir = filepath.Join(baseDir, rf.Roles[i].WorkingDir)
		}
	}
	return &rf, nil
}
