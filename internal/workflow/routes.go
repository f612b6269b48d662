package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"quill/internal/types"
)

// routesFile is the YAML shape of a routing-table override:
//
//	simple:
//	  - [formatting]
//	  - [execution]
//	moderate:
//	  - [understanding]
//	  - [content, formatting]
//	  - [execution]
type routesFile map[string][][]string

// LoadTable reads a routing table from a YAML file and validates it against
// the registry. Missing classes fall back to the default table. Any
// reference to an unknown stage is a configuration error.
func LoadTable(path string, registry *Registry) (map[types.ComplexityClass]Path, error) {
	table := DefaultTable()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	var file routesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}

	for className, groups := range file {
		class, ok := parseClassName(className)
		if !ok {
			return nil, fmt.Errorf("routes file %s: unknown class %q", path, className)
		}
		p := Path{}
		for _, group := range groups {
			p.Groups = append(p.Groups, Group(group))
		}
		if err := p.Validate(registry); err != nil {
			return nil, fmt.Errorf("routes file %s, class %s: %w", path, className, err)
		}
		table[class] = p
	}
	return table, nil
}

func parseClassName(name string) (types.ComplexityClass, bool) {
	switch name {
	case "simple":
		return types.Simple, true
	case "moderate":
		return types.Moderate, true
	case "complex":
		return types.Complex, true
	default:
		return types.Complex, false
	}
}
