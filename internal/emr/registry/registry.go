// Package registry declares the EMR sections the engine understands.
// Section names, record keys, relationship types, and field tables live in
// an embedded YAML document so the schema reads as data.
package registry

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aiemr/graphrag-backend/internal/emr/normalize"
)

//go:embed sections.yaml
var sectionsYAML []byte

// ScalarField is a single-valued record field.
type ScalarField struct {
	Field   string              `yaml:"field"`
	JSONKey string              `yaml:"json_key"`
	AltKeys []string            `yaml:"alt_keys"`
	Type    normalize.FieldType `yaml:"type"`
	Unit    string              `yaml:"unit"`
}

// ListField expands to one value per non-empty element.
type ListField struct {
	Field   string              `yaml:"field"`
	JSONKey string              `yaml:"json_key"`
	Type    normalize.FieldType `yaml:"type"`
	// DateObserved stamps date_observed on newly created values instead of
	// the usual TimeInput timestamp.
	DateObserved bool `yaml:"date_observed"`
}

// AttrField is one attribute of a composite entry. JSONKeys is a coalesce
// list: the first key present and non-empty wins.
type AttrField struct {
	Prop     string              `yaml:"prop"`
	JSONKeys []string            `yaml:"json_keys"`
	Type     normalize.FieldType `yaml:"type"`
}

// CompositeField is a map-valued record field: one dict-typed value node
// per entry, keyed by the entry id, carrying the coerced attributes.
type CompositeField struct {
	Field   string      `yaml:"field"`
	JSONKey string      `yaml:"json_key"`
	Attrs   []AttrField `yaml:"attrs"`
}

// Section is one EMR record section.
type Section struct {
	Name       string           `yaml:"name"`
	JSONKey    string           `yaml:"json_key"`
	RelType    string           `yaml:"rel_type"`
	Scalars    []ScalarField    `yaml:"scalars"`
	Lists      []ListField      `yaml:"lists"`
	Composites []CompositeField `yaml:"composites"`
}

type Registry struct {
	Sections []Section `yaml:"sections"`

	byName map[string]*Section
}

var relTypePattern = regexp.MustCompile(`^[A-Z][A-Z_]*$`)

// Load parses and validates the embedded section registry.
func Load() (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(sectionsYAML, &reg); err != nil {
		return nil, fmt.Errorf("parse section registry: %w", err)
	}
	if len(reg.Sections) == 0 {
		return nil, fmt.Errorf("section registry is empty")
	}

	reg.byName = make(map[string]*Section, len(reg.Sections))
	for i := range reg.Sections {
		sec := &reg.Sections[i]
		if err := validateSection(sec); err != nil {
			return nil, fmt.Errorf("section %d (%s): %w", i, sec.Name, err)
		}
		if _, dup := reg.byName[sec.Name]; dup {
			return nil, fmt.Errorf("duplicate section name %q", sec.Name)
		}
		reg.byName[sec.Name] = sec
	}
	return &reg, nil
}

// Section looks a section up by name; nil when unknown.
func (r *Registry) Section(name string) *Section {
	if r == nil {
		return nil
	}
	return r.byName[name]
}

// RelTypes returns every section relationship type, in declaration order.
func (r *Registry) RelTypes() []string {
	out := make([]string, 0, len(r.Sections))
	for _, sec := range r.Sections {
		out = append(out, sec.RelType)
	}
	return out
}

func validateSection(sec *Section) error {
	if strings.TrimSpace(sec.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(sec.JSONKey) == "" {
		return fmt.Errorf("json_key is required")
	}
	// The relationship type is interpolated into queries, never
	// parameterized, so it is held to a strict shape.
	if !relTypePattern.MatchString(sec.RelType) {
		return fmt.Errorf("rel_type %q must match %s", sec.RelType, relTypePattern)
	}
	if len(sec.Scalars)+len(sec.Lists)+len(sec.Composites) == 0 {
		return fmt.Errorf("section declares no fields")
	}
	for _, f := range sec.Scalars {
		if f.Field == "" || f.JSONKey == "" {
			return fmt.Errorf("scalar field and json_key are required")
		}
		if err := validateFieldType(f.Type); err != nil {
			return fmt.Errorf("scalar %s: %w", f.Field, err)
		}
	}
	for _, f := range sec.Lists {
		if f.Field == "" || f.JSONKey == "" {
			return fmt.Errorf("list field and json_key are required")
		}
		if err := validateFieldType(f.Type); err != nil {
			return fmt.Errorf("list %s: %w", f.Field, err)
		}
	}
	for _, f := range sec.Composites {
		if f.Field == "" || f.JSONKey == "" {
			return fmt.Errorf("composite field and json_key are required")
		}
		if len(f.Attrs) == 0 {
			return fmt.Errorf("composite %s declares no attrs", f.Field)
		}
		for _, a := range f.Attrs {
			if a.Prop == "" || len(a.JSONKeys) == 0 {
				return fmt.Errorf("composite %s: attr prop and json_keys are required", f.Field)
			}
			if err := validateFieldType(a.Type); err != nil {
				return fmt.Errorf("composite %s attr %s: %w", f.Field, a.Prop, err)
			}
		}
	}
	return nil
}

func validateFieldType(t normalize.FieldType) error {
	switch t {
	case normalize.TypeString, normalize.TypeInt, normalize.TypeDate, normalize.TypeBool:
		return nil
	default:
		return fmt.Errorf("unknown field type %q", t)
	}
}
