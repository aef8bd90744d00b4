package store

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
)

// sumState tracks a running $sum, remembering whether every contribution
// so far was an integer so the final value can be emitted as an int64
// rather than always widening to double.
type sumState struct {
	total    float64
	allInt   bool
	sawValue bool
}

// bucket accumulates the state for one $group key while scanning the
// input in order.
type bucket struct {
	id   any
	sums map[string]*sumState
	sets map[string][]any
}

func newBucket(id any) *bucket {
	return &bucket{id: id, sums: map[string]*sumState{}, sets: map[string][]any{}}
}

func stageGroup(in []bsonkit.Doc, arg any) ([]bsonkit.Doc, error) {
	spec, ok := arg.(bsonkit.Doc)
	if !ok {
		return nil, jerrors.New(jerrors.KindBadValue, "$group requires a document argument")
	}
	idExpr, hasID := bsonkit.GetID(spec)
	if !hasID {
		return nil, jerrors.New(jerrors.KindBadValue, "$group requires an _id expression")
	}
	var accumulators []bson.E
	for _, f := range spec {
		if f.Key != "_id" {
			accumulators = append(accumulators, f)
		}
	}
	for _, acc := range accumulators {
		accSpec, ok := acc.Value.(bsonkit.Doc)
		if !ok || len(accSpec) != 1 {
			return nil, jerrors.New(jerrors.KindBadValue, "$group accumulator %q must have exactly one operator", acc.Key)
		}
		switch accSpec[0].Key {
		case "$sum", "$count", "$addToSet":
		default:
			return nil, jerrors.New(jerrors.KindBadValue, "unsupported $group accumulator %q", accSpec[0].Key)
		}
	}

	var order []string
	buckets := make(map[string]*bucket)
	keyOf := func(v any) string {
		b, _ := bson.Marshal(bsonkit.Doc{{Key: "k", Value: v}})
		return string(b)
	}

	for _, d := range in {
		groupKey := resolveExpr(d, idExpr)
		k := keyOf(groupKey)
		b, ok := buckets[k]
		if !ok {
			b = newBucket(groupKey)
			buckets[k] = b
			order = append(order, k)
		}
		for _, acc := range accumulators {
			accSpec := acc.Value.(bsonkit.Doc)
			op, expr := accSpec[0].Key, accSpec[0].Value
			switch op {
			case "$count":
				addSum(b, acc.Key, int32(1))
			case "$sum":
				addSum(b, acc.Key, resolveExpr(d, expr))
			case "$addToSet":
				v := resolveExpr(d, expr)
				if !containsValue(b.sets[acc.Key], v) {
					b.sets[acc.Key] = append(b.sets[acc.Key], v)
				}
			}
		}
	}

	out := make([]bsonkit.Doc, 0, len(order))
	for _, k := range order {
		b := buckets[k]
		doc := bsonkit.Doc{{Key: "_id", Value: b.id}}
		for _, acc := range accumulators {
			accSpec := acc.Value.(bsonkit.Doc)
			switch accSpec[0].Key {
			case "$sum", "$count":
				doc = append(doc, bson.E{Key: acc.Key, Value: sumResult(b.sums[acc.Key])})
			case "$addToSet":
				arr := make(bson.A, len(b.sets[acc.Key]))
				copy(arr, b.sets[acc.Key])
				doc = append(doc, bson.E{Key: acc.Key, Value: arr})
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

func addSum(b *bucket, key string, v any) {
	n, ok := bsonkit.AsFloat64(v)
	if !ok {
		return
	}
	s, exists := b.sums[key]
	if !exists {
		s = &sumState{allInt: true}
		b.sums[key] = s
	}
	s.total += n
	s.sawValue = true
	switch v.(type) {
	case int32, int64:
	default:
		s.allInt = false
	}
}

func sumResult(s *sumState) any {
	if s == nil || !s.sawValue {
		return int64(0)
	}
	if s.allInt {
		return int64(s.total)
	}
	return s.total
}

func containsValue(set []any, v any) bool {
	for _, e := range set {
		if bsonkit.Equal(e, v) {
			return true
		}
	}
	return false
}
