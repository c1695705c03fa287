// Package prompts holds the prompt catalogue used by the agent, resolver,
// fact-check, label and research components.
//
// Defaults are embedded from prompts.yaml. An override file may replace any
// subset of entries; ${VAR} references are expanded from the environment
// before the YAML is parsed.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Prompt names.
const (
	AgentSystem       = "agent_system"
	AgentContext      = "agent_context"
	ResolverRules     = "resolver_rules"
	ResolverFilename  = "resolver_filename"
	FactCheckSystem   = "factcheck_system"
	FactCheckUser     = "factcheck_user"
	LabelsSystem      = "labels_system"
	LabelsUser        = "labels_user"
	ResearchQuery     = "research_query"
	ResearchSynthesis = "research_synthesis"
)

//go:embed prompts.yaml
var defaultYAML []byte

type file struct {
	Prompts map[string]string `yaml:"prompts"`
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

// Catalogue is a parsed, immutable set of prompt templates.
type Catalogue struct {
	templates map[string]*template.Template
}

// Default returns the embedded catalogue.
func Default() (*Catalogue, error) {
	return parse(defaultYAML, nil)
}

// Load returns the embedded catalogue with entries from path layered on top.
// An empty path yields the defaults.
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes is Load for an in-memory override document.
func LoadBytes(override []byte) (*Catalogue, error) {
	base, err := decode(defaultYAML)
	if err != nil {
		return nil, err
	}
	return parse(override, base)
}

func decode(raw []byte) (map[string]string, error) {
	var f file
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(raw))), &f); err != nil {
		return nil, fmt.Errorf("prompts: parse: %w", err)
	}
	return f.Prompts, nil
}

func parse(raw []byte, base map[string]string) (*Catalogue, error) {
	entries, err := decode(raw)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(base)+len(entries))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range entries {
		merged[k] = v
	}

	c := &Catalogue{templates: make(map[string]*template.Template, len(merged))}
	for name, body := range merged {
		t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("prompts: template %s: %w", name, err)
		}
		c.templates[name] = t
	}
	return c, nil
}

// Render executes the named template with data.
func (c *Catalogue) Render(name string, data any) (string, error) {
	t, ok := c.templates[name]
	if !ok {
		return "", fmt.Errorf("prompts: unknown prompt %q", name)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", name, err)
	}
	return sb.String(), nil
}

// Names lists the catalogue entries in sorted order.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.templates))
	for n := range c.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} with the environment value. Missing vars
// become empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
