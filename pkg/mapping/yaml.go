package mapping

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"graphcore/pkg/domain"
)

type yamlDocument struct {
	Classes []struct {
		ID         string `yaml:"id"`
		Properties []struct {
			Name     string `yaml:"name"`
			Kind     string `yaml:"kind"`
			Nullable bool   `yaml:"nullable"`
		} `yaml:"properties"`
	} `yaml:"classes"`
	Relations []struct {
		ID                string `yaml:"id"`
		Class             string `yaml:"class"`
		Property          string `yaml:"property"`
		Mandatory         bool   `yaml:"mandatory"`
		OppositeClass     string `yaml:"opposite_class"`
		OppositeProperty  string `yaml:"opposite_property"`
		OppositeMandatory bool   `yaml:"opposite_mandatory"`
		Cardinality       string `yaml:"cardinality"`
		SortProperty      string `yaml:"sort_property"`
	} `yaml:"relations"`
}

// LoadYAML reads a mapping document:
//
//	classes:
//	  - id: Order
//	    properties:
//	      - {name: Number, kind: int}
//	relations:
//	  - {class: Order, property: Customer, opposite_class: Customer, opposite_property: Orders, cardinality: many}
func LoadYAML(r io.Reader) (*Configuration, error) {
	var doc yamlDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	b := NewBuilder()
	for _, c := range doc.Classes {
		props := make([]PropertySpec, 0, len(c.Properties))
		for _, p := range c.Properties {
			props = append(props, PropertySpec{Name: p.Name, Kind: domain.ValueKind(p.Kind), Nullable: p.Nullable})
		}
		b.Class(c.ID, props...)
	}
	for _, r := range doc.Relations {
		b.Relation(RelationSpec{
			ID:                r.ID,
			Class:             r.Class,
			Property:          r.Property,
			Mandatory:         r.Mandatory,
			OppositeClass:     r.OppositeClass,
			OppositeProperty:  r.OppositeProperty,
			OppositeMandatory: r.OppositeMandatory,
			Cardinality:       Cardinality(r.Cardinality),
			SortProperty:      r.SortProperty,
		})
	}
	return b.Build()
}

// LoadYAMLFile reads a mapping document from path.
func LoadYAMLFile(path string) (*Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mapping: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadYAML(f)
}
