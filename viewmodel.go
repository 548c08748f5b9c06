package vmstore

import (
	"fmt"
	"slices"
	"sort"

	"github.com/hupe1980/vmstore/docstore"
)

// Action is the operation a view model performs on its next commit.
type Action string

const (
	// ActionNone means nothing is pending. Fresh view models for ids without
	// a stored document start here; the caller decides what to do.
	ActionNone Action = ""
	// ActionCreate inserts a new document.
	ActionCreate Action = "create"
	// ActionUpdate replaces the stored document.
	ActionUpdate Action = "update"
	// ActionDelete removes the stored document.
	ActionDelete Action = "delete"
)

// Document fields managed by vmstore.
const (
	// FieldID mirrors the view model id as a regular attribute.
	FieldID = "id"
	// FieldVersion holds the version token.
	FieldVersion = "_hash"
)

// ViewModel is an identified, attribute-bearing record.
//
// Attributes keep insertion order. A ViewModel is not safe for concurrent
// mutation.
type ViewModel struct {
	id      string
	keys    []string
	attrs   map[string]any
	version VersionToken
	action  Action
}

// NewViewModel returns a view model holding only its id, with no pending action.
func NewViewModel(id string) *ViewModel {
	vm := &ViewModel{
		id:    id,
		attrs: make(map[string]any),
	}
	vm.put(FieldID, id)
	return vm
}

// ID returns the immutable identifier.
func (vm *ViewModel) ID() string { return vm.id }

// Version returns the version token, zero until the first successful write.
func (vm *ViewModel) Version() VersionToken { return vm.version }

// Action returns the pending action.
func (vm *ViewModel) Action() Action { return vm.action }

// SetAction sets the pending action.
func (vm *ViewModel) SetAction(a Action) { vm.action = a }

// Get returns the attribute value, or nil.
func (vm *ViewModel) Get(key string) any {
	return vm.attrs[key]
}

// Lookup returns the attribute value and whether it is set.
func (vm *ViewModel) Lookup(key string) (any, bool) {
	v, ok := vm.attrs[key]
	return v, ok
}

// Has reports whether the attribute is set.
func (vm *ViewModel) Has(key string) bool {
	_, ok := vm.attrs[key]
	return ok
}

// Set sets an attribute. The reserved fields "id", "_id" and "_hash" are
// managed by vmstore and cannot be set.
func (vm *ViewModel) Set(key string, value any) error {
	switch key {
	case FieldID, docstore.FieldKey, FieldVersion:
		return fmt.Errorf("attribute %q is reserved", key)
	}
	vm.put(key, value)
	return nil
}

// Unset removes an attribute.
func (vm *ViewModel) Unset(key string) {
	if key == FieldID {
		return
	}
	if _, ok := vm.attrs[key]; !ok {
		return
	}
	delete(vm.attrs, key)
	vm.keys = slices.DeleteFunc(vm.keys, func(k string) bool { return k == key })
}

// Keys returns the attribute names in order.
func (vm *ViewModel) Keys() []string {
	return slices.Clone(vm.keys)
}

// Attributes returns a copy of the attributes.
func (vm *ViewModel) Attributes() map[string]any {
	out := make(map[string]any, len(vm.attrs))
	for k, v := range vm.attrs {
		out[k] = v
	}
	return out
}

func (vm *ViewModel) put(key string, value any) {
	if _, ok := vm.attrs[key]; !ok {
		vm.keys = append(vm.keys, key)
	}
	vm.attrs[key] = value
}

// document builds the stored form: attributes plus _id and the version token.
func (vm *ViewModel) document() docstore.Document {
	doc := make(docstore.Document, len(vm.attrs)+2)
	for k, v := range vm.attrs {
		doc[k] = v
	}
	doc[FieldID] = vm.id
	doc[docstore.FieldKey] = vm.id
	doc[FieldVersion] = string(vm.version)
	return doc
}

// hydrate builds a view model from a stored document. Attribute order
// follows the sorted field names.
func hydrate(doc docstore.Document) *ViewModel {
	id, ok := doc.Key()
	if !ok {
		if s, isString := doc[FieldID].(string); isString {
			id = s
		}
	}
	vm := NewViewModel(id)

	keys := make([]string, 0, len(doc))
	for k := range doc {
		switch k {
		case docstore.FieldKey, FieldID:
		case FieldVersion:
			if s, ok := doc[k].(string); ok {
				vm.version = VersionToken(s)
			}
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		vm.put(k, doc[k])
	}
	return vm
}
