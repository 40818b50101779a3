package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// VariableList is the file format for poll.variables_file. Groups are
// flattened in file order after the top level list.
type VariableList struct {
	Variables []string            `yaml:"variables"`
	Groups    map[string][]string `yaml:"groups"`
	Order     []string            `yaml:"-"`
}

// LoadVariables reads a YAML variable list and returns the names with
// duplicates and blank entries removed.
func LoadVariables(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading variables file: %w", err)
	}
	return ParseVariables(raw)
}

func ParseVariables(raw []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing variables file: %w", err)
	}

	var list VariableList
	if err := doc.Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding variables file: %w", err)
	}
	list.Order = groupOrder(&doc)

	names := make([]string, 0, len(list.Variables))
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, n := range list.Variables {
		add(n)
	}
	for _, g := range list.Order {
		for _, n := range list.Groups[g] {
			add(n)
		}
	}
	return names, nil
}

// groupOrder returns the keys of the top level "groups" mapping in document
// order, which map decoding loses.
func groupOrder(doc *yaml.Node) []string {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "groups" || root.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		groups := root.Content[i+1]
		keys := make([]string, 0, len(groups.Content)/2)
		for j := 0; j+1 < len(groups.Content); j += 2 {
			keys = append(keys, groups.Content[j].Value)
		}
		return keys
	}
	return nil
}

// UseVariablesFile replaces the configured variables with the list in path.
func (c *Config) UseVariablesFile(path string) error {
	vars, err := LoadVariables(path)
	if err != nil {
		return err
	}
	if err := ValidateVariables(vars); err != nil {
		return err
	}
	c.Poll.VariablesFile = path
	c.Variables = vars
	return nil
}
