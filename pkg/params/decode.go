package params

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FromTOML rebuilds the mapping under table prefix (usually "form") from an
// already decoded TOML document. Values come from raw; order comes from md,
// which records keys in file order.
func FromTOML(md toml.MetaData, prefix string, raw map[string]map[string]any) (*Mapping, error) {
	m := &Mapping{}
	for _, key := range md.Keys() {
		if len(key) != 3 || key[0] != prefix {
			continue
		}
		group, name := key[1], key[2]
		v, ok := raw[group][name]
		if !ok {
			continue
		}
		s, err := formatValue(v)
		if err != nil {
			return nil, fmt.Errorf("params: %s.%s.%s: %w", prefix, group, name, err)
		}
		m.Set(group, name, s)
	}
	return m, nil
}

func formatValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// LoadFile reads a form mapping from a YAML or JSON file shaped as
// {group: {name: scalar}}. Scalars are kept exactly as written.
func LoadFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON form document, keeping key order.
func Parse(data []byte) (*Mapping, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	m := &Mapping{}
	if len(doc.Content) == 0 {
		return m, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("params: line %d: form must be a mapping of groups", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		groupKey, group := root.Content[i], root.Content[i+1]
		if group.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("params: line %d: group %q must be a mapping", group.Line, groupKey.Value)
		}
		if len(group.Content) == 0 {
			m.Groups = append(m.Groups, Group{Name: groupKey.Value})
		}
		for j := 0; j+1 < len(group.Content); j += 2 {
			k, v := group.Content[j], group.Content[j+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("params: line %d: %s.%s must be a scalar", v.Line, groupKey.Value, k.Value)
			}
			m.Set(groupKey.Value, k.Value, v.Value)
		}
	}
	return m, nil
}
