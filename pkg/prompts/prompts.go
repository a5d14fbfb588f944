// Package prompts holds the prompt catalog used by the producers.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// Catalog is a tree of prompts addressed by dotted tags such as
// "sql_generation.system".
type Catalog struct {
	root map[string]any
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse prompt catalog: %w", err)
	}
	if root == nil {
		root = map[string]any{}
	}
	return &Catalog{root: root}, nil
}

// Get returns the prompt at tag, or "" when the tag does not lead to a
// string.
func (c *Catalog) Get(tag string) string {
	var cur any = c.root
	for _, key := range strings.Split(tag, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}

// Require is Get that fails on a missing or empty prompt.
func (c *Catalog) Require(tag string) (string, error) {
	s := c.Get(tag)
	if s == "" {
		return "", fmt.Errorf("prompt %q is missing", tag)
	}
	return s, nil
}

// Render replaces each {{KEY}} placeholder in template with vars[KEY].
func Render(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Set is the resolved set of prompts for one pipeline.
type Set struct {
	ExtractSystem string
	ExtractUser   string
	ExtractRetry  string

	GenerateSystem string
	GenerateUser   string
	GenerateRetry  string
}

// Resolve loads every prompt the pipeline needs from the catalog.
func (c *Catalog) Resolve() (*Set, error) {
	s := &Set{}
	for _, p := range []struct {
		tag string
		dst *string
	}{
		{"column_extraction.system", &s.ExtractSystem},
		{"column_extraction.user", &s.ExtractUser},
		{"column_extraction.retry", &s.ExtractRetry},
		{"sql_generation.system", &s.GenerateSystem},
		{"sql_generation.user", &s.GenerateUser},
		{"sql_generation.retry", &s.GenerateRetry},
	} {
		v, err := c.Require(p.tag)
		if err != nil {
			return nil, err
		}
		*p.dst = v
	}
	return s, nil
}
