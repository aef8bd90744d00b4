package store

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
)

// UpdateSpec is a parsed update document: either a full replacement or an
// operator document, never both.
type UpdateSpec struct {
	Replacement  bsonkit.Doc
	Operators    bsonkit.Doc // keys like "$set", values are sub-documents of field->value
	ArrayFilters []bsonkit.Doc
}

// ParseUpdateSpec classifies raw as a replacement or operator update by
// inspecting its first key, the same rule real drivers use.
func ParseUpdateSpec(raw bsonkit.Doc, arrayFilters []bsonkit.Doc) UpdateSpec {
	if len(raw) > 0 && strings.HasPrefix(raw[0].Key, "$") {
		return UpdateSpec{Operators: raw, ArrayFilters: arrayFilters}
	}
	return UpdateSpec{Replacement: raw}
}

// applyUpdate returns a modified clone of doc under spec, or an error. It
// never mutates doc. insertMode additionally applies $setOnInsert; it has
// no other effect.
func applyUpdate(doc bsonkit.Doc, spec UpdateSpec, insertMode bool) (bsonkit.Doc, error) {
	if spec.Replacement != nil {
		id, _ := bsonkit.Get(doc, "_id")
		out := bsonkit.CloneDoc(spec.Replacement)
		if newID, ok := bsonkit.Get(out, "_id"); ok && id != nil && !bsonkit.Equal(newID, id) {
			return nil, jerrors.New(jerrors.KindImmutableField, "cannot change the _id of a document")
		}
		return bsonkit.WithID(out, id), nil
	}

	out := bsonkit.CloneDoc(doc)
	for _, op := range spec.Operators {
		fields, ok := op.Value.(bsonkit.Doc)
		if !ok {
			return nil, jerrors.New(jerrors.KindBadValue, "update operator %q requires a document argument", op.Key)
		}
		var err error
		switch op.Key {
		case "$set":
			out, err = applySet(out, fields, spec.ArrayFilters)
		case "$unset":
			out, err = applyUnset(out, fields, spec.ArrayFilters)
		case "$inc":
			out, err = applyInc(out, fields)
		case "$setOnInsert":
			if insertMode {
				out, err = applySet(out, fields, spec.ArrayFilters)
			}
		case "$":
			return nil, jerrors.New(jerrors.KindBadValue, "positional $ update operator is not supported")
		default:
			return nil, jerrors.New(jerrors.KindBadValue, "unsupported update operator %q", op.Key)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applySet(doc bsonkit.Doc, fields bsonkit.Doc, filters []bsonkit.Doc) (bsonkit.Doc, error) {
	for _, f := range fields {
		if strings.Contains(f.Key, "$[") {
			var err error
			doc, err = applyArrayFilterWrite(doc, f.Key, filters, func(elem any) (any, error) { return f.Value, nil })
			if err != nil {
				return nil, err
			}
			continue
		}
		if strings.HasPrefix(f.Key, "$") {
			return nil, jerrors.New(jerrors.KindBadValue, "unsupported positional operator in $set path %q", f.Key)
		}
		var err error
		doc, err = bsonkit.Set(doc, f.Key, f.Value)
		if err != nil {
			return nil, asPathConflict(err)
		}
	}
	return doc, nil
}

func applyUnset(doc bsonkit.Doc, fields bsonkit.Doc, filters []bsonkit.Doc) (bsonkit.Doc, error) {
	for _, f := range fields {
		if strings.Contains(f.Key, "$[") {
			var err error
			doc, err = applyArrayFilterWrite(doc, f.Key, filters, func(elem any) (any, error) { return nil, errUnsetMarker })
			if err != nil {
				return nil, err
			}
			continue
		}
		doc = bsonkit.Unset(doc, f.Key)
	}
	return doc, nil
}

func applyInc(doc bsonkit.Doc, fields bsonkit.Doc) (bsonkit.Doc, error) {
	for _, f := range fields {
		delta, ok := bsonkit.AsFloat64(f.Value)
		if !ok {
			return nil, jerrors.New(jerrors.KindTypeMismatch, "$inc requires a numeric amount for %q", f.Key)
		}
		current, exists := bsonkit.Get(doc, f.Key)
		if exists {
			cf, ok := bsonkit.AsFloat64(current)
			if !ok {
				return nil, jerrors.New(jerrors.KindTypeMismatch, "cannot apply $inc to non-numeric field %q", f.Key)
			}
			delta += cf
		}
		var err error
		doc, err = bsonkit.Set(doc, f.Key, sumResultType(f.Value, current, delta))
		if err != nil {
			return nil, asPathConflict(err)
		}
	}
	return doc, nil
}

// sumResultType keeps integer arithmetic in int64 when both operands were
// integral, matching driver expectations that $inc by an int32 doesn't
// silently promote a counter field to a double.
func sumResultType(incBy, current any, sum float64) any {
	_, incInt := incBy.(int32)
	_, incInt64 := incBy.(int64)
	if !incInt && !incInt64 {
		return sum
	}
	switch current.(type) {
	case nil, int32, int64:
		return int64(sum)
	default:
		return sum
	}
}

func asPathConflict(err error) error {
	if _, ok := err.(*bsonkit.PathConflict); ok {
		return jerrors.New(jerrors.KindPathConflict, "%s", err.Error())
	}
	return err
}

var errUnsetMarker = errors.New("store: unset array-filter element")

// applyArrayFilterWrite resolves one array-filter path of the form
// "items.$[tag].field" against the bound filter identifiers and applies
// fn to every matching array element.
func applyArrayFilterWrite(doc bsonkit.Doc, path string, filters []bsonkit.Doc, fn func(elem any) (any, error)) (bsonkit.Doc, error) {
	arrayField, ident, suffix, err := splitArrayFilterPath(path)
	if err != nil {
		return nil, err
	}
	filterDoc, err := lookupArrayFilter(filters, ident)
	if err != nil {
		return nil, err
	}

	raw, exists := bsonkit.Get(doc, arrayField)
	if !exists {
		return doc, nil
	}
	arr, ok := raw.(bson.A)
	if !ok {
		return nil, jerrors.New(jerrors.KindTypeMismatch, "array filter path %q does not target an array field", path)
	}

	out := make(bson.A, len(arr))
	copy(out, arr)
	for i, elem := range out {
		if !elementMatchesFilter(elem, ident, filterDoc) {
			continue
		}
		if suffix == "" {
			v, ferr := fn(elem)
			if ferr == errUnsetMarker {
				out[i] = nil
				continue
			}
			if ferr != nil {
				return nil, ferr
			}
			out[i] = v
			continue
		}
		sub, ok := elem.(bsonkit.Doc)
		if !ok {
			return nil, jerrors.New(jerrors.KindPathConflict, "array filter element at index %d is not a document", i)
		}
		v, ferr := fn(nil)
		if ferr == errUnsetMarker {
			out[i] = bsonkit.Unset(sub, suffix)
			continue
		}
		if ferr != nil {
			return nil, ferr
		}
		updated, serr := bsonkit.Set(sub, suffix, v)
		if serr != nil {
			return nil, asPathConflict(serr)
		}
		out[i] = updated
	}
	return bsonkit.Set(doc, arrayField, out)
}

// elementMatchesFilter evaluates the filter document bound to identifier
// against elem, either as a scalar ("tag": "x") or structurally if elem
// is itself a document ("tag.field": "x").
func elementMatchesFilter(elem any, identifier string, filterDoc bsonkit.Doc) bool {
	wrapped := bsonkit.Doc{{Key: identifier, Value: elem}}
	return matches(wrapped, filterDoc)
}

func lookupArrayFilter(filters []bsonkit.Doc, ident string) (bsonkit.Doc, error) {
	for _, f := range filters {
		for _, e := range f {
			if e.Key == ident || strings.HasPrefix(e.Key, ident+".") {
				return f, nil
			}
		}
	}
	return nil, jerrors.New(jerrors.KindBadValue, "no array filter found for identifier %q", ident)
}

// splitArrayFilterPath parses "items.$[tag].field" into ("items", "tag",
// "field"). A "$[]" (the all-elements placeholder) is rejected,
// matching the unsupported-positional-operator stance taken for "$".
func splitArrayFilterPath(path string) (field, identifier, suffix string, err error) {
	start := strings.Index(path, ".$[")
	if start < 0 {
		return "", "", "", jerrors.New(jerrors.KindBadValue, "malformed array filter path %q", path)
	}
	end := strings.Index(path[start:], "]")
	if end < 0 {
		return "", "", "", jerrors.New(jerrors.KindBadValue, "malformed array filter path %q", path)
	}
	end += start
	identifier = path[start+3 : end]
	if identifier == "" {
		return "", "", "", jerrors.New(jerrors.KindBadValue, "the all-elements $[] array filter placeholder is not supported")
	}
	field = path[:start]
	rest := path[end+1:]
	suffix = strings.TrimPrefix(rest, ".")
	return field, identifier, suffix, nil
}
