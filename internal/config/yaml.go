package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// textKeys are config keys whose values are strings in Config. A YAML scalar
// under one of them keeps its literal text, so "dedup_window: 0" or
// "boards: [2024]" decode instead of failing on a number.
var textKeys = map[string]bool{
	"boards":          true,
	"level":           true,
	"path":            true,
	"driver":          true,
	"busy_timeout":    true,
	"sink":            true,
	"retry_base":      true,
	"retry_max_delay": true,
	"send_timeout":    true,
	"dedup_window":    true,
	"token":           true,
	"api_url":         true,
	"timezone":        true,
	"default_timeout": true,
	"catchup":         true,
	"overdue":         true,
	"due_soon_window": true,
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON turns a YAML config into JSON for the strict decoder. Anchors
// and merge keys are resolved.
func yamlToJSON(path string, data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config %s: %w", filepath.Base(path), err)
	}
	if len(doc.Content) == 0 {
		return []byte("{}"), nil
	}
	v, err := yamlValue(doc.Content[0], false)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", filepath.Base(path), err)
	}
	return json.Marshal(v)
}

func yamlValue(n *yaml.Node, text bool) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return yamlValue(n.Alias, text)
	case yaml.MappingNode:
		return yamlMapping(n)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlValue(c, text)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		if text && n.ShortTag() != "!!null" {
			return n.Value, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
}

// yamlMapping lets explicit keys win over merged ones wherever "<<" appears.
// Among merged sources the first one to set a key wins.
func yamlMapping(n *yaml.Node) (map[string]any, error) {
	m := make(map[string]any, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, val := n.Content[i], n.Content[i+1]
		if k.ShortTag() == "!!merge" {
			sources := []*yaml.Node{val}
			if val.Kind == yaml.SequenceNode {
				sources = val.Content
			}
			for _, src := range sources {
				mv, err := yamlValue(src, false)
				if err != nil {
					return nil, err
				}
				mm, ok := mv.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("line %d: merge value is not a mapping", src.Line)
				}
				for mk, v := range mm {
					if _, set := m[mk]; !set {
						m[mk] = v
					}
				}
			}
			continue
		}
		v, err := yamlValue(val, textKeys[k.Value])
		if err != nil {
			return nil, err
		}
		m[k.Value] = v
	}
	return m, nil
}
