package models

import (
	"fmt"
	"sync"
)

// SyntheticIDKey is where the backend generated id lives for models without a primary field.
const SyntheticIDKey = "__id"

// AtomicOp is an update resolved by the backend against the stored value.
type AtomicOp int

const (
	AtomicIncrement AtomicOp = iota + 1
	AtomicDecrement
	AtomicMultiply
	AtomicDivide
	AtomicPush
)

func (op AtomicOp) String() string {
	switch op {
	case AtomicIncrement:
		return "increment"
	case AtomicDecrement:
		return "decrement"
	case AtomicMultiply:
		return "multiply"
	case AtomicDivide:
		return "divide"
	case AtomicPush:
		return "push"
	}
	return fmt.Sprintf("AtomicOp(%d)", int(op))
}

// ParseAtomicOp maps the operator keys accepted in update input.
func ParseAtomicOp(name string) (AtomicOp, bool) {
	switch name {
	case "increment":
		return AtomicIncrement, true
	case "decrement":
		return AtomicDecrement, true
	case "multiply":
		return AtomicMultiply, true
	case "divide":
		return AtomicDivide, true
	case "push":
		return AtomicPush, true
	}
	return 0, false
}

type AtomicUpdate struct {
	Op      AtomicOp
	Operand Value
}

// Object is a hydrated or pending instance of a model. The mutex only covers the
// internal maps; an Object must not be saved or deleted from two goroutines at once.
type Object struct {
	graph *Graph
	model *Model

	mu        sync.Mutex
	values    map[string]Value
	relations map[string][]*Object
	atomic    map[string]AtomicUpdate
	modified  map[string]struct{}
	identity  map[string]Value
	selection map[string]struct{}

	isNew         bool
	isInitialized bool
}

func newObject(graph *Graph, model *Model) *Object {
	return &Object{
		graph:         graph,
		model:         model,
		values:        make(map[string]Value),
		relations:     make(map[string][]*Object),
		atomic:        make(map[string]AtomicUpdate),
		modified:      make(map[string]struct{}),
		identity:      make(map[string]Value),
		isNew:         true,
		isInitialized: true,
	}
}

func (o *Object) Model() *Model { return o.model }

func (o *Object) Graph() *Graph { return o.graph }

func (o *Object) IsNew() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isNew
}

// IsInitialized reports whether the object is bound to a model, either built by
// Graph.NewObject or loaded from storage. A nil or zero Object is not.
func (o *Object) IsInitialized() bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isInitialized
}

// Get returns the current value of a field, or Null when it was never set.
func (o *Object) Get(key string) Value {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.values[key]; ok {
		return v
	}
	return Null{}
}

// Has reports whether a value was set or loaded for key.
func (o *Object) Has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.values[key]
	return ok
}

// Set assigns a value and discards any pending atomic update on the same field.
func (o *Object) Set(key string, value Value) error {
	if key != SyntheticIDKey && o.model.Field(key) == nil {
		return NewInvalidKeyError(o.model.Name(), key)
	}
	if value == nil {
		value = Null{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.atomic, key)
	o.values[key] = value
	o.modified[key] = struct{}{}
	return nil
}

func (o *Object) Increment(key string, by Value) error {
	return o.requestAtomic(key, AtomicIncrement, by)
}

func (o *Object) Decrement(key string, by Value) error {
	return o.requestAtomic(key, AtomicDecrement, by)
}

func (o *Object) Multiply(key string, by Value) error {
	return o.requestAtomic(key, AtomicMultiply, by)
}

func (o *Object) Divide(key string, by Value) error {
	return o.requestAtomic(key, AtomicDivide, by)
}

func (o *Object) Push(key string, item Value) error {
	return o.requestAtomic(key, AtomicPush, item)
}

// RequestAtomic queues an atomic update for the next save. The in-memory value stays
// as it is until the backend returns the updated document.
func (o *Object) RequestAtomic(key string, op AtomicOp, operand Value) error {
	return o.requestAtomic(key, op, operand)
}

func (o *Object) requestAtomic(key string, op AtomicOp, operand Value) error {
	field := o.model.Field(key)
	if field == nil {
		return NewInvalidKeyError(o.model.Name(), key)
	}
	switch op {
	case AtomicPush:
		if field.Type.Kind != TypeVec {
			return NewInvalidQueryInputError(key, "push requires a Vec field, '%s' is %s", key, field.Type)
		}
	case AtomicIncrement, AtomicDecrement, AtomicMultiply, AtomicDivide:
		if !field.Type.IsNumeric() {
			return NewInvalidQueryInputError(key, "%s requires a numeric field, '%s' is %s", op, key, field.Type)
		}
		if !IsNumeric(operand) {
			return NewInvalidQueryInputError(key, "%s requires a numeric operand", op)
		}
		// the backend stores a fractional product as a double, which an integer field cannot read back
		if field.Type.IsInteger() {
			if op == AtomicDivide {
				return NewInvalidQueryInputError(key, "divide requires a float or decimal field, '%s' is %s", key, field.Type)
			}
			if !IsInteger(operand) {
				return NewInvalidQueryInputError(key, "%s of integer field '%s' requires an integer operand", op, key)
			}
		}
		if op == AtomicDivide {
			if f, _ := ToFloat64(operand); f == 0 {
				return NewInvalidQueryInputError(key, "cannot divide by zero")
			}
		}
	default:
		return fmt.Errorf("unknown atomic operator %d", int(op))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.modified, key)
	o.atomic[key] = AtomicUpdate{Op: op, Operand: operand}
	return nil
}

// AtomicUpdateFor returns the pending atomic update on key, if any.
func (o *Object) AtomicUpdateFor(key string) (AtomicUpdate, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	u, ok := o.atomic[key]
	return u, ok
}

// AtomicKeys lists fields with pending atomic updates in declaration order.
func (o *Object) AtomicKeys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for _, f := range o.model.Fields() {
		if _, ok := o.atomic[f.Name]; ok {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// KeysForSave returns the fields the next save must write, in declaration order.
// A new object writes every field holding a value; a stored one writes only what changed.
func (o *Object) KeysForSave() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for _, f := range o.model.Fields() {
		if o.isNew {
			if _, ok := o.values[f.Name]; ok {
				keys = append(keys, f.Name)
			}
			continue
		}
		_, changed := o.modified[f.Name]
		_, atomic := o.atomic[f.Name]
		if changed || atomic {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// LoadValue stores a value read from the backend without marking it modified.
func (o *Object) LoadValue(key string, value Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[key] = value
}

// Related returns the objects resolved for a relation by an include.
func (o *Object) Related(key string) ([]*Object, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	objs, ok := o.relations[key]
	return objs, ok
}

func (o *Object) SetRelated(key string, objects []*Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.relations[key] = objects
}

// SyntheticID returns the backend id of an object whose model has no primary field.
func (o *Object) SyntheticID() Value {
	return o.Get(SyntheticIDKey)
}

// MarkLoaded flags the object as read from storage. A nil selection means every field was fetched.
func (o *Object) MarkLoaded(selection []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isNew = false
	o.isInitialized = true
	if selection != nil {
		o.selection = make(map[string]struct{}, len(selection))
		for _, key := range selection {
			o.selection[key] = struct{}{}
		}
	} else {
		o.selection = nil
	}
	o.resetLocked()
}

// MarkSaved flags a successful write. Pending changes are cleared and the identity snapshot
// is refreshed so later updates target the stored record.
func (o *Object) MarkSaved() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isNew = false
	o.resetLocked()
}

func (o *Object) resetLocked() {
	o.modified = make(map[string]struct{})
	o.atomic = make(map[string]AtomicUpdate)
	o.identity = make(map[string]Value)
	for _, f := range o.model.PrimaryKeyFields() {
		if v, ok := o.values[f.Name]; ok {
			o.identity[f.Name] = v
		}
	}
	if v, ok := o.values[SyntheticIDKey]; ok {
		o.identity[SyntheticIDKey] = v
	}
}

// Identity is the primary key snapshot taken at the last load or save.
func (o *Object) Identity() map[string]Value {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]Value, len(o.identity))
	for k, v := range o.identity {
		out[k] = v
	}
	return out
}

// IsSelected reports whether key was part of the projection the object was loaded with.
func (o *Object) IsSelected(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selection == nil {
		return true
	}
	_, ok := o.selection[key]
	return ok
}

// ToMap renders fetched fields and included relations as plain Go data.
func (o *Object) ToMap() map[string]any {
	out := make(map[string]any)
	for _, f := range o.model.Fields() {
		if o.IsSelected(f.Name) && o.Has(f.Name) {
			out[f.Name] = ToInterface(o.Get(f.Name))
		}
	}
	o.mu.Lock()
	relations := make(map[string][]*Object, len(o.relations))
	for k, v := range o.relations {
		relations[k] = v
	}
	o.mu.Unlock()

	for key, objs := range relations {
		relation := o.model.Relation(key)
		if relation != nil && !relation.Many {
			if len(objs) == 0 {
				out[key] = nil
			} else {
				out[key] = objs[0].ToMap()
			}
			continue
		}
		list := make([]any, 0, len(objs))
		for _, obj := range objs {
			list = append(list, obj.ToMap())
		}
		out[key] = list
	}
	return out
}
