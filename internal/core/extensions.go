package core

import (
	"fmt"

	"graphcore/pkg/domain"
)

// Extension is a named listener shared by every transaction of a hierarchy.
type Extension interface {
	TransactionListener
	Key() string
}

// ExtensionCollection holds extensions in order, keyed by Extension.Key. It is
// itself a listener that forwards to its members.
type ExtensionCollection struct {
	CompoundListener
	items []Extension
}

// NewExtensionCollection returns an empty collection.
func NewExtensionCollection() *ExtensionCollection {
	return &ExtensionCollection{}
}

// Add appends ext.
func (c *ExtensionCollection) Add(ext Extension) error {
	return c.Insert(len(c.items), ext)
}

// Insert places ext at index. Keys must be unique.
func (c *ExtensionCollection) Insert(index int, ext Extension) error {
	if ext == nil {
		return domain.ArgumentError{Argument: "extension", Message: "extension must not be nil"}
	}
	if index < 0 || index > len(c.items) {
		return domain.ArgumentError{Argument: "index", Message: fmt.Sprintf("index %d out of range [0,%d]", index, len(c.items))}
	}
	if _, ok := c.Get(ext.Key()); ok {
		return domain.ArgumentError{Argument: "extension", Message: fmt.Sprintf("extension %s already registered", ext.Key())}
	}
	c.items = append(c.items, nil)
	copy(c.items[index+1:], c.items[index:])
	c.items[index] = ext
	c.sync()
	return nil
}

// Remove drops the extension with key; unknown keys are ignored.
func (c *ExtensionCollection) Remove(key string) bool {
	for i, ext := range c.items {
		if ext.Key() == key {
			c.items = append(c.items[:i], c.items[i+1:]...)
			c.sync()
			return true
		}
	}
	return false
}

// Get returns the extension registered under key.
func (c *ExtensionCollection) Get(key string) (Extension, bool) {
	for _, ext := range c.items {
		if ext.Key() == key {
			return ext, true
		}
	}
	return nil, false
}

// Keys returns the registered keys in order.
func (c *ExtensionCollection) Keys() []string {
	out := make([]string, 0, len(c.items))
	for _, ext := range c.items {
		out = append(out, ext.Key())
	}
	return out
}

// Len returns the number of extensions.
func (c *ExtensionCollection) Len() int { return len(c.items) }

func (c *ExtensionCollection) sync() {
	c.listeners = c.listeners[:0]
	for _, ext := range c.items {
		c.listeners = append(c.listeners, ext)
	}
}
