package store

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
)

// matches reports whether doc satisfies filter using the subset of the
// query language this engine understands: implicit field equality (with
// array containment), and the $eq/$ne/$gt/$gte/$lt/$lte/$in/$nin/$exists
// operators plus the $and/$or/$nor/$not logical combinators.
func matches(doc bsonkit.Doc, filter bsonkit.Doc) bool {
	for _, clause := range filter {
		if !matchField(doc, clause.Key, clause.Value) {
			return false
		}
	}
	return true
}

func matchField(doc bsonkit.Doc, key string, expected any) bool {
	switch key {
	case "$and":
		return matchLogical(doc, expected, true)
	case "$or":
		return matchLogical(doc, expected, false)
	case "$nor":
		return !matchLogical(doc, expected, false)
	}

	actual, ok := bsonkit.Get(doc, key)

	if opDoc, isOpDoc := asOperatorDoc(expected); isOpDoc {
		for _, op := range opDoc {
			if !matchOperator(doc, actual, ok, op.Key, op.Value) {
				return false
			}
		}
		return true
	}

	return valueMatches(actual, ok, expected)
}

func matchLogical(doc bsonkit.Doc, expected any, all bool) bool {
	arr, ok := expected.(bson.A)
	if !ok {
		return false
	}
	for _, sub := range arr {
		clause, ok := sub.(bsonkit.Doc)
		if !ok {
			continue
		}
		result := matches(doc, clause)
		if all && !result {
			return false
		}
		if !all && result {
			return true
		}
	}
	return all
}

// asOperatorDoc reports whether v is a document whose every key is an
// operator name, distinguishing {"$gt": 5} from a literal sub-document
// equality target like {"a": 1}.
func asOperatorDoc(v any) (bsonkit.Doc, bool) {
	d, ok := v.(bsonkit.Doc)
	if !ok || len(d) == 0 {
		return nil, false
	}
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return d, true
}

func matchOperator(doc bsonkit.Doc, actual any, exists bool, op string, arg any) bool {
	switch op {
	case "$eq":
		return valueMatches(actual, exists, arg)
	case "$ne":
		return !valueMatches(actual, exists, arg)
	case "$gt":
		return exists && comparableOrdering(actual, arg, func(c int) bool { return c > 0 })
	case "$gte":
		return exists && comparableOrdering(actual, arg, func(c int) bool { return c >= 0 })
	case "$lt":
		return exists && comparableOrdering(actual, arg, func(c int) bool { return c < 0 })
	case "$lte":
		return exists && comparableOrdering(actual, arg, func(c int) bool { return c <= 0 })
	case "$exists":
		want, _ := arg.(bool)
		return exists == want
	case "$in":
		arr, ok := arg.(bson.A)
		if !ok {
			return false
		}
		for _, v := range arr {
			if valueMatches(actual, exists, v) {
				return true
			}
		}
		return false
	case "$nin":
		arr, ok := arg.(bson.A)
		if !ok {
			return true
		}
		for _, v := range arr {
			if valueMatches(actual, exists, v) {
				return false
			}
		}
		return true
	case "$not":
		if opDoc, ok := asOperatorDoc(arg); ok {
			for _, sub := range opDoc {
				if matchOperator(doc, actual, exists, sub.Key, sub.Value) {
					return false
				}
			}
			return true
		}
		return !valueMatches(actual, exists, arg)
	default:
		return false
	}
}

// comparableOrdering treats non-finite doubles as never satisfying an
// ordering comparison, regardless of which side of pred would otherwise
// be true.
func comparableOrdering(a, b any, pred func(int) bool) bool {
	if !bsonkit.IsComparable(a) || !bsonkit.IsComparable(b) {
		return false
	}
	return pred(bsonkit.Compare(a, b))
}

// valueMatches implements scalar equality plus array containment: a
// scalar filter value matches an array field if any element equals it,
// unless the filter value is itself an array or document, in which case
// whole-value equality is required.
func valueMatches(actual any, exists bool, expected any) bool {
	if !exists {
		return expected == nil
	}
	if bsonkit.Equal(actual, expected) {
		return true
	}
	if _, isArr := expected.(bson.A); isArr {
		return false
	}
	if _, isDoc := expected.(bsonkit.Doc); isDoc {
		return false
	}
	if arr, ok := actual.(bson.A); ok {
		for _, elem := range arr {
			if bsonkit.Equal(elem, expected) {
				return true
			}
		}
	}
	return false
}
