package store

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
)

// Aggregate runs pipeline over an isolated clone of docs, returning the
// final stage's output. Every stage operates on clones; the input slice
// is never mutated, and the returned documents share no storage with it.
func Aggregate(docs []bsonkit.Doc, pipeline []bsonkit.Doc) ([]bsonkit.Doc, error) {
	cur := bsonkit.CloneDocs(docs)
	for _, stageDoc := range pipeline {
		if len(stageDoc) != 1 {
			return nil, jerrors.New(jerrors.KindBadValue, "a pipeline stage must have exactly one operator")
		}
		stageName, arg := stageDoc[0].Key, stageDoc[0].Value
		var err error
		cur, err = runStage(cur, stageName, arg)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func runStage(in []bsonkit.Doc, name string, arg any) ([]bsonkit.Doc, error) {
	switch name {
	case "$match":
		filter, ok := arg.(bsonkit.Doc)
		if !ok {
			return nil, jerrors.New(jerrors.KindBadValue, "$match requires a document argument")
		}
		out := make([]bsonkit.Doc, 0, len(in))
		for _, d := range in {
			if matches(d, filter) {
				out = append(out, d)
			}
		}
		return out, nil
	case "$project":
		return stageProject(in, arg)
	case "$addFields", "$set":
		return stageAddFields(in, arg)
	case "$unset":
		return stageUnset(in, arg)
	case "$sort":
		return stageSort(in, arg)
	case "$skip":
		n, ok := bsonkit.AsFloat64(arg)
		if !ok || n < 0 {
			return nil, jerrors.New(jerrors.KindBadValue, "$skip requires a non-negative number")
		}
		if int(n) >= len(in) {
			return nil, nil
		}
		return in[int(n):], nil
	case "$limit":
		n, ok := bsonkit.AsFloat64(arg)
		if !ok || n < 0 {
			return nil, jerrors.New(jerrors.KindBadValue, "$limit requires a non-negative number")
		}
		if int(n) < len(in) {
			return in[:int(n)], nil
		}
		return in, nil
	case "$unwind":
		return stageUnwind(in, arg)
	case "$group":
		return stageGroup(in, arg)
	case "$replaceRoot":
		spec, ok := arg.(bsonkit.Doc)
		if !ok {
			return nil, jerrors.New(jerrors.KindBadValue, "$replaceRoot requires a document argument")
		}
		expr, _ := bsonkit.Get(spec, "newRoot")
		return stageReplaceWith(in, expr)
	case "$replaceWith":
		return stageReplaceWith(in, arg)
	case "$sortByCount":
		return stageSortByCount(in, arg)
	case "$facet":
		return stageFacet(in, arg)
	default:
		return nil, jerrors.New(jerrors.KindBadValue, "unsupported aggregation stage %q", name)
	}
}

// resolveExpr evaluates a projection/group expression: "$field" resolves
// via a dotted path against doc, anything else is a literal.
func resolveExpr(doc bsonkit.Doc, expr any) any {
	if s, ok := expr.(string); ok && strings.HasPrefix(s, "$") {
		v, _ := bsonkit.Get(doc, s[1:])
		return v
	}
	return expr
}

func stageProject(in []bsonkit.Doc, arg any) ([]bsonkit.Doc, error) {
	spec, ok := arg.(bsonkit.Doc)
	if !ok {
		return nil, jerrors.New(jerrors.KindBadValue, "$project requires a document argument")
	}
	exclusion := isExclusionProjection(spec)
	out := make([]bsonkit.Doc, len(in))
	for i, d := range in {
		if exclusion {
			res := bsonkit.CloneDoc(d)
			for _, f := range spec {
				if truthyZero(f.Value) {
					res = bsonkit.Unset(res, f.Key)
				}
			}
			out[i] = res
			continue
		}
		res := bsonkit.Doc{}
		if id, ok := bsonkit.GetID(d); ok {
			res = append(res, bson.E{Key: "_id", Value: bsonkit.Clone(id)})
		}
		for _, f := range spec {
			if f.Key == "_id" {
				if truthyZero(f.Value) {
					res = bsonkit.Unset(res, "_id")
				}
				continue
			}
			if isComputedSpec(f.Value) {
				var err error
				res, err = bsonkit.Set(res, f.Key, resolveExpr(d, f.Value))
				if err != nil {
					return nil, asPathConflict(err)
				}
				continue
			}
			if v, ok := bsonkit.Get(d, f.Key); ok {
				var err error
				res, err = bsonkit.Set(res, f.Key, v)
				if err != nil {
					return nil, asPathConflict(err)
				}
			}
		}
		out[i] = res
	}
	return out, nil
}

func isComputedSpec(v any) bool {
	if s, ok := v.(string); ok {
		return strings.HasPrefix(s, "$")
	}
	_, isDoc := v.(bsonkit.Doc)
	return isDoc
}

func truthyZero(v any) bool {
	if f, ok := bsonkit.AsFloat64(v); ok {
		return f == 0
	}
	if b, ok := v.(bool); ok {
		return !b
	}
	return false
}

func isExclusionProjection(spec bsonkit.Doc) bool {
	for _, f := range spec {
		if f.Key == "_id" {
			continue
		}
		if isComputedSpec(f.Value) {
			return false
		}
		if !truthyZero(f.Value) {
			return false
		}
	}
	return len(spec) > 0
}

func stageAddFields(in []bsonkit.Doc, arg any) ([]bsonkit.Doc, error) {
	spec, ok := arg.(bsonkit.Doc)
	if !ok {
		return nil, jerrors.New(jerrors.KindBadValue, "$addFields/$set requires a document argument")
	}
	out := make([]bsonkit.Doc, len(in))
	for i, d := range in {
		res := bsonkit.CloneDoc(d)
		for _, f := range spec {
			var err error
			res, err = bsonkit.Set(res, f.Key, resolveExpr(d, f.Value))
			if err != nil {
				return nil, asPathConflict(err)
			}
		}
		out[i] = res
	}
	return out, nil
}

func stageUnset(in []bsonkit.Doc, arg any) ([]bsonkit.Doc, error) {
	var fields []string
	switch t := arg.(type) {
	case string:
		fields = []string{t}
	case bson.A:
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, jerrors.New(jerrors.KindBadValue, "$unset array elements must be strings")
			}
			fields = append(fields, s)
		}
	default:
		return nil, jerrors.New(jerrors.KindBadValue, "$unset requires a string or array of strings")
	}
	out := make([]bsonkit.Doc, len(in))
	for i, d := range in {
		res := bsonkit.CloneDoc(d)
		for _, f := range fields {
			res = bsonkit.Unset(res, f)
		}
		out[i] = res
	}
	return out, nil
}

func stageSort(in []bsonkit.Doc, arg any) ([]bsonkit.Doc, error) {
	spec, ok := arg.(bsonkit.Doc)
	if !ok {
		return nil, jerrors.New(jerrors.KindBadValue, "$sort requires a document argument")
	}
	out := append([]bsonkit.Doc(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, f := range spec {
			dir, _ := bsonkit.AsFloat64(f.Value)
			av, _ := bsonkit.Get(out[i], f.Key)
			bv, _ := bsonkit.Get(out[j], f.Key)
			c := bsonkit.Compare(av, bv)
			if c == 0 {
				continue
			}
			if dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return out, nil
}

func stageUnwind(in []bsonkit.Doc, arg any) ([]bsonkit.Doc, error) {
	path, preserveEmpty := "", false
	switch t := arg.(type) {
	case string:
		path = t
	case bsonkit.Doc:
		p, _ := bsonkit.Get(t, "path")
		s, ok := p.(string)
		if !ok {
			return nil, jerrors.New(jerrors.KindBadValue, "$unwind requires a path string")
		}
		path = s
		if v, ok := bsonkit.Get(t, "preserveNullAndEmptyArrays"); ok {
			preserveEmpty, _ = v.(bool)
		}
	default:
		return nil, jerrors.New(jerrors.KindBadValue, "$unwind requires a string or document argument")
	}
	field := strings.TrimPrefix(path, "$")

	var out []bsonkit.Doc
	for _, d := range in {
		v, exists := bsonkit.Get(d, field)
		arr, isArr := v.(bson.A)
		if !exists || (isArr && len(arr) == 0) || (!isArr && v == nil) {
			if preserveEmpty {
				out = append(out, d)
			}
			continue
		}
		if !isArr {
			out = append(out, d)
			continue
		}
		for _, elem := range arr {
			clone := bsonkit.CloneDoc(d)
			clone, err := bsonkit.Set(clone, field, elem)
			if err != nil {
				return nil, asPathConflict(err)
			}
			out = append(out, clone)
		}
	}
	return out, nil
}

func stageReplaceWith(in []bsonkit.Doc, expr any) ([]bsonkit.Doc, error) {
	out := make([]bsonkit.Doc, len(in))
	for i, d := range in {
		v := resolveExpr(d, expr)
		doc, ok := v.(bsonkit.Doc)
		if !ok {
			return nil, jerrors.New(jerrors.KindBadValue, "$replaceRoot/$replaceWith target must resolve to a document")
		}
		out[i] = bsonkit.CloneDoc(doc)
	}
	return out, nil
}

func stageSortByCount(in []bsonkit.Doc, arg any) ([]bsonkit.Doc, error) {
	grouped, err := stageGroup(in, bsonkit.Doc{
		{Key: "_id", Value: arg},
		{Key: "count", Value: bsonkit.Doc{{Key: "$sum", Value: int32(1)}}},
	})
	if err != nil {
		return nil, err
	}
	return stageSort(grouped, bsonkit.Doc{{Key: "count", Value: int32(-1)}})
}

func stageFacet(in []bsonkit.Doc, arg any) ([]bsonkit.Doc, error) {
	spec, ok := arg.(bsonkit.Doc)
	if !ok {
		return nil, jerrors.New(jerrors.KindBadValue, "$facet requires a document argument")
	}
	result := bsonkit.Doc{}
	for _, f := range spec {
		subPipeline, ok := f.Value.(bson.A)
		if !ok {
			return nil, jerrors.New(jerrors.KindBadValue, "$facet sub-pipelines must be arrays")
		}
		stages := make([]bsonkit.Doc, 0, len(subPipeline))
		for _, s := range subPipeline {
			sd, ok := s.(bsonkit.Doc)
			if !ok {
				return nil, jerrors.New(jerrors.KindBadValue, "$facet sub-pipeline stages must be documents")
			}
			stages = append(stages, sd)
		}
		sub, err := Aggregate(in, stages)
		if err != nil {
			return nil, err
		}
		arr := make(bson.A, len(sub))
		for i, d := range sub {
			arr[i] = d
		}
		result = append(result, bson.E{Key: f.Key, Value: arr})
	}
	return []bsonkit.Doc{result}, nil
}
