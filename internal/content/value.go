// Package content defines the structured document model that versioned
// prompt templates are made of: a tree of named fields, nested sequences,
// and scalar leaves. Diff and merge logic switches exhaustively over the
// closed set of value kinds defined here.
package content

// Kind identifies the shape of a Value.
type Kind string

const (
	KindString   Kind = "string"
	KindNumber   Kind = "number"
	KindBool     Kind = "bool"
	KindNull     Kind = "null"
	KindSequence Kind = "sequence"
	KindObject   Kind = "object"
)

// Value is one node of a content tree. The set of implementations is
// closed; callers type-switch over String, Number, Bool, Null, Sequence
// and Object.
type Value interface {
	Kind() Kind
}

type String string

func (String) Kind() Kind { return KindString }

type Number float64

func (Number) Kind() Kind { return KindNumber }

type Bool bool

func (Bool) Kind() Kind { return KindBool }

type Null struct{}

func (Null) Kind() Kind { return KindNull }

// Sequence is an ordered list of values, e.g. the steps of a template.
type Sequence []Value

func (Sequence) Kind() Kind { return KindSequence }

// Object is a set of named fields. Field order is not significant;
// all traversals use sorted key order.
type Object map[string]Value

func (Object) Kind() Kind { return KindObject }

// Equal reports deep equality of two content trees. Consistent with
// Hash: Equal(a, b) iff Hash(a) == Hash(b).
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case String:
		return av == b.(String)
	case Number:
		return av == b.(Number)
	case Bool:
		return av == b.(Bool)
	case Null:
		return true
	case Sequence:
		bv := b.(Sequence)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv := b.(Object)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of v. Mutating the copy never affects the
// original; version records hand out clones to keep stored content
// immutable.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Sequence:
		out := make(Sequence, len(val))
		for i, el := range val {
			out[i] = Clone(el)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, el := range val {
			out[k] = Clone(el)
		}
		return out
	default:
		// scalars are value types
		return v
	}
}
