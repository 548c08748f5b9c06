package docstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyIndex is returned for an index spec without keys.
var ErrEmptyIndex = errors.New("docstore: index has no keys")

// IndexKey is one field of an index.
type IndexKey struct {
	Field string
	Order SortOrder
}

// IndexOptions are the optional settings of an index.
type IndexOptions struct {
	Name               string `yaml:"name"`
	Unique             bool   `yaml:"unique"`
	Sparse             bool   `yaml:"sparse"`
	ExpireAfterSeconds int32  `yaml:"expireAfterSeconds"`
}

// IndexSpec declares an index.
//
// In configuration files a spec is either a bare field name, which means an
// ascending single-field index, or a mapping:
//
//	indexes:
//	  - email
//	  - index: {lastName: 1, firstName: -1}
//	    options: {unique: true}
type IndexSpec struct {
	Keys    []IndexKey
	Options IndexOptions
}

// AscendingIndex returns an ascending single-field index on field.
func AscendingIndex(field string) IndexSpec {
	return IndexSpec{Keys: []IndexKey{{Field: field, Order: Ascending}}}
}

// Validate reports whether the spec can be sent to a backend.
func (s IndexSpec) Validate() error {
	if len(s.Keys) == 0 {
		return ErrEmptyIndex
	}
	for _, k := range s.Keys {
		if k.Field == "" {
			return fmt.Errorf("%w: empty field name", ErrEmptyIndex)
		}
		if k.Order != Ascending && k.Order != Descending {
			return fmt.Errorf("docstore: invalid order %d for index field %q", k.Order, k.Field)
		}
	}
	return nil
}

// Name returns the explicit name, or the conventional field_order name.
func (s IndexSpec) Name() string {
	if s.Options.Name != "" {
		return s.Options.Name
	}
	parts := make([]string, 0, 2*len(s.Keys))
	for _, k := range s.Keys {
		parts = append(parts, k.Field, strconv.Itoa(int(k.Order)))
	}
	return strings.Join(parts, "_")
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *IndexSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = AscendingIndex(node.Value)
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("docstore: line %d: index must be a field name or a mapping", node.Line)
	}

	var (
		spec     IndexSpec
		keysNode = node
		explicit bool
	)
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "index":
			keysNode = node.Content[i+1]
			explicit = true
		case "options":
			if err := node.Content[i+1].Decode(&spec.Options); err != nil {
				return err
			}
		}
	}

	// Without an "index" entry the mapping itself lists the keys.
	skip := ""
	if !explicit {
		skip = "options"
	}
	keys, err := decodeIndexKeys(keysNode, skip)
	if err != nil {
		return err
	}
	spec.Keys = keys
	*s = spec
	return nil
}

func decodeIndexKeys(node *yaml.Node, skip string) ([]IndexKey, error) {
	if node.Kind == yaml.ScalarNode {
		return AscendingIndex(node.Value).Keys, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("docstore: line %d: index keys must be a field name or a mapping", node.Line)
	}

	// yaml.Node keeps document order, which matters for compound indexes.
	keys := make([]IndexKey, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		if skip != "" && node.Content[i].Value == skip {
			continue
		}
		var order int
		if err := node.Content[i+1].Decode(&order); err != nil {
			return nil, fmt.Errorf("docstore: index field %q: %w", node.Content[i].Value, err)
		}
		keys = append(keys, IndexKey{Field: node.Content[i].Value, Order: SortOrder(order)})
	}
	return keys, nil
}
