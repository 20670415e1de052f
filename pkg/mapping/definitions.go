// Package mapping describes the classes, properties and relations the engine
// works with. Definitions are immutable once built; they are produced by the
// Builder or loaded from YAML.
package mapping

import (
	"fmt"
	"strings"
	"time"

	"graphcore/pkg/domain"
)

// Cardinality of one relation end point.
type Cardinality string

// End point cardinalities.
const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// PropertyDefinition describes one persistent property of a class.
type PropertyDefinition struct {
	ClassID  string
	Name     string
	Kind     domain.ValueKind
	Nullable bool
	// RelatedClassID is set for foreign-key properties.
	RelatedClassID string
}

// QualifiedName returns "Class.Property".
func (p *PropertyDefinition) QualifiedName() string {
	return p.ClassID + "." + p.Name
}

// IsForeignKey reports whether the property holds the foreign key of a relation.
func (p *PropertyDefinition) IsForeignKey() bool {
	return p.RelatedClassID != ""
}

// DefaultValue is the value new objects start with.
func (p *PropertyDefinition) DefaultValue() any {
	if p.Nullable || p.IsForeignKey() {
		return nil
	}
	switch p.Kind {
	case domain.KindString:
		return ""
	case domain.KindInt:
		return int64(0)
	case domain.KindFloat:
		return float64(0)
	case domain.KindBool:
		return false
	case domain.KindTime:
		return time.Time{}
	case domain.KindBytes:
		return []byte{}
	default:
		return nil
	}
}

// RelationEndPointDefinition describes one side of a relation.
type RelationEndPointDefinition struct {
	ClassID      string
	PropertyName string
	Cardinality  Cardinality
	Mandatory    bool
	// Virtual end points do not own the foreign key.
	Virtual bool
	// Anonymous end points belong to the non-navigable side of a unidirectional relation.
	Anonymous    bool
	SortProperty string
	RelationID   string

	opposite *RelationEndPointDefinition
}

// QualifiedName returns "Class.Property", or "" for anonymous end points.
func (d *RelationEndPointDefinition) QualifiedName() string {
	if d.Anonymous {
		return ""
	}
	return d.ClassID + "." + d.PropertyName
}

// Opposite returns the other side of the relation.
func (d *RelationEndPointDefinition) Opposite() *RelationEndPointDefinition {
	return d.opposite
}

// IsCollection reports whether the end point holds many related objects.
func (d *RelationEndPointDefinition) IsCollection() bool {
	return d.Cardinality == CardinalityMany
}

// IsReal reports whether the end point owns the foreign key.
func (d *RelationEndPointDefinition) IsReal() bool {
	return !d.Virtual && !d.Anonymous
}

func (d *RelationEndPointDefinition) String() string {
	if d.Anonymous {
		return fmt.Sprintf("anonymous end point of %s", d.ClassID)
	}
	return d.QualifiedName()
}

// RelationDefinition pairs two end points.
type RelationDefinition struct {
	ID        string
	EndPoints [2]*RelationEndPointDefinition
}

// ClassDefinition describes one persistent class.
type ClassDefinition struct {
	ID string

	properties []*PropertyDefinition
	byName     map[string]*PropertyDefinition
	endPoints  []*RelationEndPointDefinition
	endByName  map[string]*RelationEndPointDefinition
}

// Properties returns the persistent properties in declaration order.
func (c *ClassDefinition) Properties() []*PropertyDefinition {
	return append([]*PropertyDefinition(nil), c.properties...)
}

// Property looks up a property by short or qualified name.
func (c *ClassDefinition) Property(name string) (*PropertyDefinition, bool) {
	p, ok := c.byName[c.shortName(name)]
	return p, ok
}

// EndPoints returns the navigable relation end points declared on the class.
func (c *ClassDefinition) EndPoints() []*RelationEndPointDefinition {
	return append([]*RelationEndPointDefinition(nil), c.endPoints...)
}

// EndPoint looks up a navigable end point by short or qualified name.
func (c *ClassDefinition) EndPoint(name string) (*RelationEndPointDefinition, bool) {
	d, ok := c.endByName[c.shortName(name)]
	return d, ok
}

func (c *ClassDefinition) shortName(name string) string {
	if rest, ok := strings.CutPrefix(name, c.ID+"."); ok {
		return rest
	}
	return name
}

// Configuration is the complete, immutable set of class and relation definitions.
type Configuration struct {
	classes   map[string]*ClassDefinition
	order     []string
	relations []*RelationDefinition
}

// Class returns the definition of classID.
func (m *Configuration) Class(classID string) (*ClassDefinition, error) {
	c, ok := m.classes[classID]
	if !ok {
		return nil, domain.ArgumentError{Argument: "classID", Message: fmt.Sprintf("class %q is not mapped", classID)}
	}
	return c, nil
}

// Classes returns all class definitions in declaration order.
func (m *Configuration) Classes() []*ClassDefinition {
	out := make([]*ClassDefinition, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.classes[id])
	}
	return out
}

// Relations returns all relation definitions in declaration order.
func (m *Configuration) Relations() []*RelationDefinition {
	return append([]*RelationDefinition(nil), m.relations...)
}

// EndPoint resolves a navigable end point of classID.
func (m *Configuration) EndPoint(classID, propertyName string) (*RelationEndPointDefinition, error) {
	c, err := m.Class(classID)
	if err != nil {
		return nil, err
	}
	d, ok := c.EndPoint(propertyName)
	if !ok {
		return nil, domain.ArgumentError{Argument: "propertyName", Message: fmt.Sprintf("class %q has no relation property %q", classID, propertyName)}
	}
	return d, nil
}

// EndPointByID resolves the definition behind an end point id.
func (m *Configuration) EndPointByID(id domain.RelationEndPointID) (*RelationEndPointDefinition, error) {
	return m.EndPoint(id.ObjectID.ClassID, id.PropertyName)
}
