// Package bsonkit provides the document-shaped helpers the store and
// dispatch packages share: deep cloning, dotted-path access, canonical
// value comparison and ObjectID assignment. It exists because callers must
// never observe an interior reference into a stored document, a guarantee
// that needs enforcing once here rather than at every call site that
// touches a bson.D.
package bsonkit

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Doc is the in-memory representation of a stored or in-flight document.
// Using bson.D instead of bson.M preserves field order, needed for
// insertion-order scans and deterministic $project output.
type Doc = bson.D

// Clone returns a deep, independent copy of any BSON-shaped value
// (bson.D, bson.A, scalar, or a raw map/slice produced by driver decoding).
func Clone(v any) any {
	switch t := v.(type) {
	case bson.D:
		return CloneDoc(t)
	case bson.A:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case bson.M:
		out := make(bson.M, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// CloneDoc deep-copies a document. Nil in, nil out.
func CloneDoc(d Doc) Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for i, e := range d {
		out[i] = bson.E{Key: e.Key, Value: Clone(e.Value)}
	}
	return out
}

// CloneDocs deep-copies a slice of documents.
func CloneDocs(docs []Doc) []Doc {
	out := make([]Doc, len(docs))
	for i, d := range docs {
		out[i] = CloneDoc(d)
	}
	return out
}

// Get resolves a dotted field path against a document, descending through
// nested documents and, for numeric path segments, arrays.
func Get(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	parts := strings.Split(path, ".")
	cur := v
	for _, p := range parts {
		switch t := cur.(type) {
		case Doc:
			val, ok := lookupKey(t, p)
			if !ok {
				return nil, false
			}
			cur = val
		case bson.M:
			val, ok := t[p]
			if !ok {
				return nil, false
			}
			cur = val
		case bson.A:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, false
			}
			cur = t[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func lookupKey(d Doc, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// PathConflict indicates a dotted path attempted to descend through a
// scalar value as though it were a document.
type PathConflict struct {
	Path string
}

func (e *PathConflict) Error() string {
	return "cannot create field in element that is not a document: " + e.Path
}

// Set applies value at the dotted path within doc, creating intermediate
// documents as needed. It returns an error if an intermediate segment
// already holds a non-document scalar.
func Set(doc Doc, path string, value any) (Doc, error) {
	parts := strings.Split(path, ".")
	out, err := setRecursive(doc, parts, value)
	if err != nil {
		return nil, err
	}
	return out.(Doc), nil
}

func setRecursive(cur any, parts []string, value any) (any, error) {
	key := parts[0]
	var d Doc
	switch t := cur.(type) {
	case Doc:
		d = t
	case nil:
		d = Doc{}
	default:
		return nil, &PathConflict{Path: key}
	}

	if len(parts) == 1 {
		return setKey(d, key, value), nil
	}

	existing, _ := lookupKey(d, key)
	child, err := setRecursive(existing, parts[1:], value)
	if err != nil {
		return nil, err
	}
	return setKey(d, key, child), nil
}

func setKey(d Doc, key string, value any) Doc {
	for i, e := range d {
		if e.Key == key {
			out := make(Doc, len(d))
			copy(out, d)
			out[i] = bson.E{Key: key, Value: value}
			return out
		}
	}
	out := make(Doc, len(d), len(d)+1)
	copy(out, d)
	return append(out, bson.E{Key: key, Value: value})
}

// Unset removes the field at the dotted path, leaving intermediate
// documents intact. It is a no-op if the path does not exist.
func Unset(doc Doc, path string) Doc {
	parts := strings.Split(path, ".")
	out, _ := unsetRecursive(doc, parts)
	d, ok := out.(Doc)
	if !ok {
		return doc
	}
	return d
}

func unsetRecursive(cur any, parts []string) (any, bool) {
	d, ok := cur.(Doc)
	if !ok {
		return cur, false
	}
	key := parts[0]
	if len(parts) == 1 {
		out := make(Doc, 0, len(d))
		removed := false
		for _, e := range d {
			if e.Key == key {
				removed = true
				continue
			}
			out = append(out, e)
		}
		return out, removed
	}
	for i, e := range d {
		if e.Key != key {
			continue
		}
		child, removed := unsetRecursive(e.Value, parts[1:])
		if !removed {
			return d, false
		}
		out := make(Doc, len(d))
		copy(out, d)
		out[i] = bson.E{Key: key, Value: child}
		return out, true
	}
	return d, false
}

// GetID returns the document's _id field, if present.
func GetID(d Doc) (any, bool) {
	return lookupKey(d, "_id")
}

// EnsureID returns doc with a freshly generated ObjectID prepended as _id
// when one is not already present.
func EnsureID(doc Doc) Doc {
	if _, ok := GetID(doc); ok {
		return doc
	}
	out := make(Doc, 0, len(doc)+1)
	out = append(out, bson.E{Key: "_id", Value: bson.NewObjectID()})
	out = append(out, doc...)
	return out
}

// WithID returns a copy of doc with _id forced to id, inserting it first
// when absent. Used by upsert-from-filter seeding.
func WithID(doc Doc, id any) Doc {
	if _, ok := GetID(doc); ok {
		out, _ := Set(doc, "_id", id)
		return out
	}
	out := make(Doc, 0, len(doc)+1)
	out = append(out, bson.E{Key: "_id", Value: id})
	out = append(out, doc...)
	return out
}
