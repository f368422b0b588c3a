package card

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned for feature type tags outside the supported set.
var ErrUnknownType = errors.New("unknown feature type")

// Kind is the base of a feature type tag.
type Kind string

const (
	KindText     Kind = "text"
	KindInteger  Kind = "integer"
	KindFloat    Kind = "float"
	KindBool     Kind = "bool"
	KindSequence Kind = "sequence"
)

// Type is a parsed feature type. Elem is set only for sequences.
type Type struct {
	Kind Kind
	Elem *Type
}

var (
	Text     = Type{Kind: KindText}
	Integer  = Type{Kind: KindInteger}
	Float    = Type{Kind: KindFloat}
	Bool     = Type{Kind: KindBool}
	TextList = SequenceOf(Text)
)

// SequenceOf returns the sequence type with element type elem.
func SequenceOf(elem Type) Type {
	e := elem
	return Type{Kind: KindSequence, Elem: &e}
}

// String returns the canonical tag, e.g. "sequence<text>".
func (t Type) String() string {
	if t.Kind == KindSequence && t.Elem != nil {
		return "sequence<" + t.Elem.String() + ">"
	}
	return string(t.Kind)
}

// Equal reports whether both types describe the same structure.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	if t.Kind != KindSequence {
		return true
	}
	if t.Elem == nil || o.Elem == nil {
		return t.Elem == o.Elem
	}
	return t.Elem.Equal(*o.Elem)
}

// ParseType parses a feature type tag.
//
// Accepted forms: text, integer, float, bool (plus the common aliases string, int,
// int64, float32, float64, boolean), sequence<T> and sequence-of-T.
func ParseType(raw string) (Type, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "text", "string", "str":
		return Text, nil
	case "integer", "int", "int32", "int64":
		return Integer, nil
	case "float", "float32", "float64", "double":
		return Float, nil
	case "bool", "boolean":
		return Bool, nil
	}

	if inner, ok := strings.CutPrefix(s, "sequence<"); ok {
		inner, ok = strings.CutSuffix(inner, ">")
		if !ok {
			return Type{}, fmt.Errorf("%w %q: unterminated sequence", ErrUnknownType, raw)
		}
		elem, err := ParseType(inner)
		if err != nil {
			return Type{}, fmt.Errorf("%w %q", ErrUnknownType, raw)
		}
		return SequenceOf(elem), nil
	}
	if inner, ok := strings.CutPrefix(s, "sequence-of-"); ok {
		elem, err := ParseType(inner)
		if err != nil {
			return Type{}, fmt.Errorf("%w %q", ErrUnknownType, raw)
		}
		return SequenceOf(elem), nil
	}
	return Type{}, fmt.Errorf("%w %q", ErrUnknownType, raw)
}

// Feature is one named field of the record schema. Tag is the type tag as authored;
// it is parsed during validation so that unknown tags surface as violations.
type Feature struct {
	Name string
	Tag  string
}

// Type parses the feature's type tag.
func (f Feature) Type() (Type, error) {
	return ParseType(f.Tag)
}

// Features is the ordered record schema.
type Features []Feature

// Lookup returns the feature with the given name.
func (fs Features) Lookup(name string) (Feature, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// Names returns feature names in declaration order.
func (fs Features) Names() []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}
