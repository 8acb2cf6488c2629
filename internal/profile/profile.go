// Package profile loads YAML agent profiles. A profile pre-configures a
// StartRequest (subtype, functions, budgets, models) so the CLI can launch
// recurring agent shapes by name.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/evrane/drover"
)

// Profile is a named, reusable agent configuration.
type Profile struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`    // autonomous (default) or workflow
	Subtype string `yaml:"subtype"` // free-form, e.g. "codegen"

	// Prompt is an optional template; "{{prompt}}" is replaced with the
	// user's task at start time. Empty means the task is used verbatim.
	Prompt string `yaml:"prompt"`

	Functions []string `yaml:"functions"`

	HILBudget float64 `yaml:"hil_budget"`
	HILCount  int     `yaml:"hil_count"`

	// Models overrides the runtime default model set with per-level model
	// ids. All-empty means use the runtime defaults.
	Models drover.ModelRefs `yaml:"models"`

	CompletedHandler string         `yaml:"completed_handler"`
	Metadata         map[string]any `yaml:"metadata"`
}

// Load reads a single profile from a YAML file.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: read %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("profile: parse %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// LoadDir reads every .yaml/.yml file in dir, keyed by profile name.
// A missing directory yields an empty map.
func LoadDir(dir string) (map[string]Profile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string]Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: read dir %s: %w", dir, err)
	}

	profiles := make(map[string]Profile)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if _, dup := profiles[p.Name]; dup {
			return nil, fmt.Errorf("profile: duplicate name %q", p.Name)
		}
		profiles[p.Name] = p
	}
	return profiles, nil
}

// HasModels reports whether the profile overrides any model level.
func (p Profile) HasModels() bool {
	return p.Models.Easy != "" || p.Models.Medium != "" || p.Models.Hard != "" || p.Models.XHard != ""
}

// StartRequest builds a StartRequest for the given task. Model refs are left
// for the caller to resolve against its registry (see HasModels).
func (p Profile) StartRequest(prompt string) drover.StartRequest {
	if p.Prompt != "" {
		prompt = strings.ReplaceAll(p.Prompt, "{{prompt}}", prompt)
	}
	return drover.StartRequest{
		Prompt:             prompt,
		Type:               drover.AgentType(p.Type),
		Subtype:            p.Subtype,
		Functions:          p.Functions,
		HILBudget:          p.HILBudget,
		HILCount:           p.HILCount,
		CompletedHandlerID: p.CompletedHandler,
		Metadata:           p.Metadata,
	}
}
