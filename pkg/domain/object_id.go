// Package domain defines the value types, error types and storage contracts
// shared by the graphcore unit-of-work engine and its storage providers.
package domain

import (
	"fmt"
	"strings"
)

// ObjectID identifies one persistent object by class and key. The zero value
// is the null reference.
type ObjectID struct {
	ClassID string `json:"class_id"`
	Value   string `json:"value"`
}

// NewObjectID builds an ObjectID for the given class and key.
func NewObjectID(classID, value string) ObjectID {
	return ObjectID{ClassID: classID, Value: value}
}

// IsZero reports whether the id is the null reference.
func (id ObjectID) IsZero() bool {
	return id.ClassID == "" && id.Value == ""
}

// String renders the id as "Class|Value".
func (id ObjectID) String() string {
	if id.IsZero() {
		return "<null>"
	}
	return id.ClassID + "|" + id.Value
}

// ParseObjectID reverses ObjectID.String.
func ParseObjectID(s string) (ObjectID, error) {
	classID, value, ok := strings.Cut(s, "|")
	if !ok || classID == "" || value == "" {
		return ObjectID{}, ArgumentError{Argument: "id", Message: fmt.Sprintf("%q is not a valid object id", s)}
	}
	return ObjectID{ClassID: classID, Value: value}, nil
}

// RelationEndPointID identifies one side of a relation on one object. The
// property name is qualified with its declaring class ("Order.Customer").
type RelationEndPointID struct {
	ObjectID     ObjectID
	PropertyName string
}

// NewRelationEndPointID builds an end point id.
func NewRelationEndPointID(id ObjectID, propertyName string) RelationEndPointID {
	return RelationEndPointID{ObjectID: id, PropertyName: propertyName}
}

func (id RelationEndPointID) String() string {
	return id.ObjectID.String() + "/" + id.PropertyName
}
