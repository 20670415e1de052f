package core

import (
	"context"
	"fmt"

	"graphcore/pkg/domain"
)

// DomainObjectCollection is an ordered set of objects. A stand-alone
// collection holds its own items. An associated collection is the value of a
// collection end point: it reads the end point's data and routes every change
// through the owning transaction's relation commands.
type DomainObjectCollection struct {
	requiredClass string
	readOnly      bool
	items         []*DomainObject

	tx       *ClientTransaction
	endPoint *CollectionEndPoint
}

// NewDomainObjectCollection returns a stand-alone collection. An empty
// requiredClass accepts any class.
func NewDomainObjectCollection(requiredClass string, items ...*DomainObject) (*DomainObjectCollection, error) {
	c := &DomainObjectCollection{requiredClass: requiredClass}
	for _, item := range items {
		if err := c.checkItem(item); err != nil {
			return nil, err
		}
		if c.Contains(item.id) {
			return nil, domain.ArgumentError{Argument: "items", Message: fmt.Sprintf("%s is listed twice", item.id)}
		}
		c.items = append(c.items, item)
	}
	return c, nil
}

// RequiredClassID returns the class every item must belong to.
func (c *DomainObjectCollection) RequiredClassID() string { return c.requiredClass }

// IsReadOnly reports whether the collection rejects changes.
func (c *DomainObjectCollection) IsReadOnly() bool { return c.readOnly }

// IsAssociated reports whether the collection belongs to a collection end point.
func (c *DomainObjectCollection) IsAssociated() bool { return c.endPoint != nil }

// Items returns the objects in order.
func (c *DomainObjectCollection) Items() []*DomainObject {
	if c.endPoint == nil {
		return append([]*DomainObject(nil), c.items...)
	}
	ids := c.endPoint.currentIDs
	out := make([]*DomainObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.tx.hierarchy.object(id))
	}
	return out
}

// IDs returns the ids of the items in order.
func (c *DomainObjectCollection) IDs() []domain.ObjectID {
	if c.endPoint != nil {
		return append([]domain.ObjectID(nil), c.endPoint.currentIDs...)
	}
	out := make([]domain.ObjectID, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item.id)
	}
	return out
}

// Len returns the number of items.
func (c *DomainObjectCollection) Len() int {
	if c.endPoint != nil {
		return len(c.endPoint.currentIDs)
	}
	return len(c.items)
}

// At returns the item at index.
func (c *DomainObjectCollection) At(index int) (*DomainObject, error) {
	items := c.Items()
	if index < 0 || index >= len(items) {
		return nil, domain.ArgumentError{Argument: "index", Message: fmt.Sprintf("index %d out of range [0,%d)", index, len(items))}
	}
	return items[index], nil
}

// IndexOf returns the position of id, or -1.
func (c *DomainObjectCollection) IndexOf(id domain.ObjectID) int {
	for i, other := range c.IDs() {
		if other == id {
			return i
		}
	}
	return -1
}

// Contains reports whether id is an item.
func (c *DomainObjectCollection) Contains(id domain.ObjectID) bool {
	return c.IndexOf(id) >= 0
}

// Add appends obj.
func (c *DomainObjectCollection) Add(ctx context.Context, obj *DomainObject) error {
	return c.Insert(ctx, c.Len(), obj)
}

// Insert places obj at index. Adding an object twice is an ArgumentError.
func (c *DomainObjectCollection) Insert(ctx context.Context, index int, obj *DomainObject) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if c.endPoint != nil {
		return c.tx.InsertRelatedObject(ctx, c.owner(), c.endPoint.def.PropertyName, index, obj)
	}
	if err := c.checkItem(obj); err != nil {
		return err
	}
	if c.Contains(obj.id) {
		return domain.ArgumentError{Argument: "obj", Message: fmt.Sprintf("collection already contains %s", obj.id)}
	}
	if index < 0 || index > len(c.items) {
		return domain.ArgumentError{Argument: "index", Message: fmt.Sprintf("index %d out of range [0,%d]", index, len(c.items))}
	}
	c.items = append(c.items, nil)
	copy(c.items[index+1:], c.items[index:])
	c.items[index] = obj
	return nil
}

// Remove drops obj. Removing an object that is not an item does nothing.
func (c *DomainObjectCollection) Remove(ctx context.Context, obj *DomainObject) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if c.endPoint != nil {
		return c.tx.RemoveRelatedObject(ctx, c.owner(), c.endPoint.def.PropertyName, obj)
	}
	if i := c.IndexOf(objectIDOf(obj)); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
	return nil
}

// Replace puts obj at index in place of the current item.
func (c *DomainObjectCollection) Replace(ctx context.Context, index int, obj *DomainObject) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if c.endPoint != nil {
		return c.tx.ReplaceRelatedObject(ctx, c.owner(), c.endPoint.def.PropertyName, index, obj)
	}
	if err := c.checkItem(obj); err != nil {
		return err
	}
	if index < 0 || index >= len(c.items) {
		return domain.ArgumentError{Argument: "index", Message: fmt.Sprintf("index %d out of range [0,%d)", index, len(c.items))}
	}
	if i := c.IndexOf(obj.id); i >= 0 && i != index {
		return domain.ArgumentError{Argument: "obj", Message: fmt.Sprintf("collection already contains %s", obj.id)}
	}
	c.items[index] = obj
	return nil
}

// Clear removes every item.
func (c *DomainObjectCollection) Clear(ctx context.Context) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if c.endPoint != nil {
		for _, item := range c.Items() {
			if err := c.tx.RemoveRelatedObject(ctx, c.owner(), c.endPoint.def.PropertyName, item); err != nil {
				return err
			}
		}
		return nil
	}
	c.items = nil
	return nil
}

// Clone returns a writable stand-alone copy.
func (c *DomainObjectCollection) Clone() *DomainObjectCollection {
	return &DomainObjectCollection{requiredClass: c.requiredClass, items: c.Items()}
}

// AsReadOnly returns a read-only stand-alone copy.
func (c *DomainObjectCollection) AsReadOnly() *DomainObjectCollection {
	cp := c.Clone()
	cp.readOnly = true
	return cp
}

func (c *DomainObjectCollection) owner() *DomainObject {
	return c.tx.hierarchy.object(c.endPoint.id.ObjectID)
}

func (c *DomainObjectCollection) checkWritable() error {
	if c.readOnly {
		return domain.InvalidOperationError{Message: "cannot modify a read-only collection"}
	}
	return nil
}

func (c *DomainObjectCollection) checkItem(obj *DomainObject) error {
	if obj == nil {
		return domain.ArgumentError{Argument: "obj", Message: "collections cannot hold nil"}
	}
	if c.requiredClass != "" && obj.ClassID() != c.requiredClass {
		return domain.ArgumentError{Argument: "obj", Message: fmt.Sprintf("%s is not of class %s", obj.id, c.requiredClass)}
	}
	return nil
}

// associate binds the collection to an end point. The end point's data
// replaces the stand-alone items.
func (c *DomainObjectCollection) associate(tx *ClientTransaction, ep *CollectionEndPoint) {
	c.tx = tx
	c.endPoint = ep
	c.items = nil
}

// detach turns an associated collection back into a stand-alone one holding
// a copy of its last contents.
func (c *DomainObjectCollection) detach() {
	if c.endPoint == nil {
		return
	}
	c.items = c.Items()
	c.tx = nil
	c.endPoint = nil
}
