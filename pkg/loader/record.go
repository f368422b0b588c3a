package loader

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/palantir/compute-module-dataset-catalog/pkg/card"
)

// Record maps feature names to decoded JSON values.
type Record map[string]any

// Example is one keyed record of a split.
type Example struct {
	Key    string `json:"key"`
	Record Record `json:"record"`
}

// Conform checks that r holds exactly the declared features with values of the
// declared types. The returned *RecordError has no Key; callers that know the
// example key fill it in.
func (r Record) Conform(features card.Features) error {
	for _, f := range features {
		typ, err := f.Type()
		if err != nil {
			return &RecordError{Field: f.Name, Msg: err.Error()}
		}
		v, ok := r[f.Name]
		if !ok {
			return &RecordError{Field: f.Name, Msg: "missing"}
		}
		if err := conformValue(v, typ); err != nil {
			return &RecordError{Field: f.Name, Msg: err.Error()}
		}
	}
	if len(r) != len(features) {
		for name := range r {
			if _, ok := features.Lookup(name); !ok {
				return &RecordError{Field: name, Msg: "not a declared feature"}
			}
		}
	}
	return nil
}

func conformValue(v any, typ card.Type) error {
	switch typ.Kind {
	case card.KindText:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("want %s, got %T", typ, v)
		}
	case card.KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want %s, got %T", typ, v)
		}
	case card.KindInteger:
		if !isInteger(v) {
			return fmt.Errorf("want %s, got %v", typ, v)
		}
	case card.KindFloat:
		if !isNumber(v) {
			return fmt.Errorf("want %s, got %T", typ, v)
		}
	case card.KindSequence:
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("want %s, got %T", typ, v)
		}
		for i, item := range items {
			if err := conformValue(item, *typ.Elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported type %s", typ)
	}
	return nil
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Int64()
		return err == nil
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	}
	return false
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case json.Number:
		_, err := n.Float64()
		return err == nil
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}
