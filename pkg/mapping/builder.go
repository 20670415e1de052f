package mapping

import (
	"errors"
	"fmt"

	"graphcore/pkg/domain"
)

// RelationSpec declares a relation between two classes. Class/Property name
// the side that owns the foreign key. OppositeProperty is empty for
// unidirectional relations.
type RelationSpec struct {
	ID                string
	Class             string
	Property          string
	Mandatory         bool
	OppositeClass     string
	OppositeProperty  string
	OppositeMandatory bool
	// Cardinality of the opposite side: one for 1:1, many for 1:n.
	Cardinality  Cardinality
	SortProperty string
}

// PropertySpec declares a value property.
type PropertySpec struct {
	Name     string
	Kind     domain.ValueKind
	Nullable bool
}

// Builder accumulates class and relation declarations.
type Builder struct {
	classes   map[string]*ClassDefinition
	order     []string
	relations []RelationSpec
	errs      []error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{classes: make(map[string]*ClassDefinition)}
}

// Class declares a class with its value properties.
func (b *Builder) Class(id string, props ...PropertySpec) *Builder {
	if id == "" {
		b.errs = append(b.errs, errors.New("class id is required"))
		return b
	}
	if _, ok := b.classes[id]; ok {
		b.errs = append(b.errs, fmt.Errorf("class %q declared twice", id))
		return b
	}
	c := &ClassDefinition{
		ID:        id,
		byName:    make(map[string]*PropertyDefinition),
		endByName: make(map[string]*RelationEndPointDefinition),
	}
	b.classes[id] = c
	b.order = append(b.order, id)
	for _, p := range props {
		if err := addProperty(c, &PropertyDefinition{ClassID: id, Name: p.Name, Kind: p.Kind, Nullable: p.Nullable}); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	return b
}

// Relation declares a relation. Relations are resolved in Build so classes may
// be declared in any order.
func (b *Builder) Relation(spec RelationSpec) *Builder {
	b.relations = append(b.relations, spec)
	return b
}

// Value returns a non-nullable PropertySpec.
func Value(name string, kind domain.ValueKind) PropertySpec {
	return PropertySpec{Name: name, Kind: kind}
}

// NullableValue returns a nullable PropertySpec.
func NullableValue(name string, kind domain.ValueKind) PropertySpec {
	return PropertySpec{Name: name, Kind: kind, Nullable: true}
}

// Build resolves relations and returns the configuration.
func (b *Builder) Build() (*Configuration, error) {
	errs := append([]error(nil), b.errs...)
	cfg := &Configuration{classes: b.classes, order: b.order}
	for _, spec := range b.relations {
		rel, err := b.buildRelation(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cfg.relations = append(cfg.relations, rel)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("mapping: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (b *Builder) buildRelation(spec RelationSpec) (*RelationDefinition, error) {
	owner, ok := b.classes[spec.Class]
	if !ok {
		return nil, fmt.Errorf("relation %s: class %q is not declared", spec.ID, spec.Class)
	}
	target, ok := b.classes[spec.OppositeClass]
	if !ok {
		return nil, fmt.Errorf("relation %s: class %q is not declared", spec.ID, spec.OppositeClass)
	}
	if spec.Property == "" {
		return nil, fmt.Errorf("relation %s: foreign key property is required", spec.ID)
	}
	id := spec.ID
	if id == "" {
		id = spec.Class + ":" + spec.Property
	}
	cardinality := spec.Cardinality
	if cardinality == "" {
		cardinality = CardinalityMany
	}
	if cardinality != CardinalityOne && cardinality != CardinalityMany {
		return nil, fmt.Errorf("relation %s: unknown cardinality %q", id, cardinality)
	}
	if spec.SortProperty != "" {
		if _, ok := owner.byName[spec.SortProperty]; !ok {
			return nil, fmt.Errorf("relation %s: sort property %q is not declared on %s", id, spec.SortProperty, owner.ID)
		}
	}

	fk := &PropertyDefinition{
		ClassID:        owner.ID,
		Name:           spec.Property,
		Kind:           domain.KindObjectID,
		Nullable:       !spec.Mandatory,
		RelatedClassID: target.ID,
	}
	if err := addProperty(owner, fk); err != nil {
		return nil, err
	}

	fkSide := &RelationEndPointDefinition{
		ClassID:      owner.ID,
		PropertyName: spec.Property,
		Cardinality:  CardinalityOne,
		Mandatory:    spec.Mandatory,
		RelationID:   id,
	}
	opposite := &RelationEndPointDefinition{
		ClassID:      target.ID,
		PropertyName: spec.OppositeProperty,
		Cardinality:  cardinality,
		Mandatory:    spec.OppositeMandatory,
		Virtual:      true,
		Anonymous:    spec.OppositeProperty == "",
		SortProperty: spec.SortProperty,
		RelationID:   id,
	}
	if opposite.Anonymous {
		opposite.Virtual = false
		opposite.Cardinality = CardinalityMany
	}
	fkSide.opposite = opposite
	opposite.opposite = fkSide

	if err := addEndPoint(owner, fkSide); err != nil {
		return nil, err
	}
	if !opposite.Anonymous {
		if err := addEndPoint(target, opposite); err != nil {
			return nil, err
		}
	}
	return &RelationDefinition{ID: id, EndPoints: [2]*RelationEndPointDefinition{fkSide, opposite}}, nil
}

func addProperty(c *ClassDefinition, p *PropertyDefinition) error {
	if p.Name == "" {
		return fmt.Errorf("class %s: property name is required", c.ID)
	}
	if _, ok := c.byName[p.Name]; ok {
		return fmt.Errorf("class %s: property %q declared twice", c.ID, p.Name)
	}
	switch p.Kind {
	case domain.KindString, domain.KindInt, domain.KindFloat, domain.KindBool, domain.KindTime, domain.KindBytes, domain.KindObjectID:
	default:
		return fmt.Errorf("class %s: property %q has unknown kind %q", c.ID, p.Name, p.Kind)
	}
	c.properties = append(c.properties, p)
	c.byName[p.Name] = p
	return nil
}

func addEndPoint(c *ClassDefinition, d *RelationEndPointDefinition) error {
	if _, ok := c.endByName[d.PropertyName]; ok {
		return fmt.Errorf("class %s: relation property %q declared twice", c.ID, d.PropertyName)
	}
	if p, ok := c.byName[d.PropertyName]; ok && !p.IsForeignKey() {
		return fmt.Errorf("class %s: relation property %q collides with a value property", c.ID, d.PropertyName)
	}
	c.endPoints = append(c.endPoints, d)
	c.endByName[d.PropertyName] = d
	return nil
}
