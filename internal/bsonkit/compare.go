package bsonkit

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// typeOrder approximates the canonical BSON type ordering used for $sort
// and comparison operators when the two operands are not both numeric.
func typeOrder(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case float64, int32, int64, bson.Decimal128:
		return 1
	case string:
		return 2
	case Doc, bson.M:
		return 3
	case bson.A, []any:
		return 4
	case bson.Binary:
		return 5
	case bson.ObjectID:
		return 6
	case bool:
		return 7
	case bson.DateTime, time.Time:
		return 8
	case bson.Regex:
		return 9
	default:
		return 10
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, int32, int64:
		return true
	default:
		return false
	}
}

// AsFloat64 converts a numeric BSON scalar to float64 for comparison and
// arithmetic. ok is false for non-numeric values.
func AsFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// Compare returns -1, 0 or 1 ordering a against b using canonical BSON
// comparison rules: numeric values compare by value across int32/int64/
// double, and values of differing, non-numeric types are ordered by their
// BSON type tag. It returns 2 when the pair cannot be ordered: either side
// is NaN, or both share a type class this function has no ordering for.
// Infinities compare by value (+Inf equals +Inf); Equal is the function
// that treats every non-finite double as unequal.
func Compare(a, b any) int {
	if isNumeric(a) && isNumeric(b) {
		af, _ := AsFloat64(a)
		bf, _ := AsFloat64(b)
		if math.IsNaN(af) || math.IsNaN(bf) {
			return 2 // never equal, arbitrary but stable relative order
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	ta, tb := typeOrder(a), typeOrder(b)
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}

	switch av := a.(type) {
	case string:
		bv := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv := b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case bson.ObjectID:
		bv, ok := b.(bson.ObjectID)
		if !ok {
			return 2
		}
		switch {
		case av.Hex() < bv.Hex():
			return -1
		case av.Hex() > bv.Hex():
			return 1
		default:
			return 0
		}
	case bson.DateTime:
		bv, ok := b.(bson.DateTime)
		if !ok {
			return 2
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case Doc:
		bv, ok := b.(Doc)
		if !ok {
			return 2
		}
		return compareDocs(av, bv)
	case bson.A:
		bv, ok := b.(bson.A)
		if !ok {
			return 2
		}
		return compareArrays(av, bv)
	case nil:
		return 0
	default:
		return 2
	}
}

func compareDocs(a, b Doc) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
		if a[i].Key != b[i].Key {
			if a[i].Key < b[i].Key {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareArrays(a, b bson.A) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// IsComparable reports whether v can participate in an ordering comparison:
// every BSON value can except non-finite doubles, which MongoDB's query
// operators treat as unorderable.
func IsComparable(v any) bool {
	if f, ok := AsFloat64(v); ok {
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return true
}

// Equal reports whether a and b are the same BSON value under canonical
// numeric promotion. Non-finite doubles are never equal to anything,
// including themselves.
func Equal(a, b any) bool {
	if af, ok := AsFloat64(a); ok {
		if math.IsNaN(af) || math.IsInf(af, 0) {
			return false
		}
	}
	if bf, ok := AsFloat64(b); ok {
		if math.IsNaN(bf) || math.IsInf(bf, 0) {
			return false
		}
	}
	return Compare(a, b) == 0
}

// DeepEqual reports whether two documents are identical field-for-field,
// used by the update applier to decide whether a write actually modified
// anything.
func DeepEqual(a, b Doc) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			return false
		}
		if !valueDeepEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

func valueDeepEqual(a, b any) bool {
	switch av := a.(type) {
	case Doc:
		bv, ok := b.(Doc)
		return ok && DeepEqual(av, bv)
	case bson.A:
		bv, ok := b.(bson.A)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueDeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return Equal(a, b)
	}
}
