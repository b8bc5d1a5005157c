// Package prompts holds the planner's prompt templates.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed static/prompts.yaml
var promptsYAML []byte

// Prompt names.
const (
	ClarifySystem  = "clarify_system"
	ClarifyUser    = "clarify_user"
	PlanSystem     = "plan_system"
	PlanUser       = "plan_user"
	RevisionUser   = "revision_user"
	FinalTurn      = "final_turn"
	ExtractSystem  = "extract_system"
	ExtractUser    = "extract_user"
	RepairSystem   = "repair_system"
	RepairUser     = "repair_user"
	ApprovalSystem = "approval_system"
	ApprovalUser   = "approval_user"
)

// Store provides access to the prompt templates.
type Store struct {
	templates map[string]*template.Template
}

type yamlFile struct {
	Prompts map[string]string `yaml:"prompts"`
}

// Load parses the embedded templates.
func Load() (*Store, error) {
	return Parse(promptsYAML)
}

// MustLoad is Load for package initialisation; the embedded file is fixed.
func MustLoad() *Store {
	s, err := Load()
	if err != nil {
		panic(err)
	}
	return s
}

// Parse builds a store from YAML with a top-level "prompts" map.
func Parse(data []byte) (*Store, error) {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}

	s := &Store{templates: make(map[string]*template.Template, len(file.Prompts))}
	for name, text := range file.Prompts {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %s: %w", name, err)
		}
		s.templates[name] = tmpl
	}
	return s, nil
}

// Has checks if a prompt exists
func (s *Store) Has(name string) bool {
	_, ok := s.templates[name]
	return ok
}

// Names returns the prompt names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data.
func (s *Store) Render(name string, data any) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}
