package store

import "github.com/jongodb/jongodb/internal/bsonkit"

// IndexKeyDirection is the sort direction declared for one field of an
// index key spec. Only the sign matters for uniqueness enforcement; it is
// kept signed so listIndexes can echo it back faithfully.
type IndexKeyDirection int32

// IndexDefinition names a single index on a collection.
type IndexDefinition struct {
	Name   string
	Keys   bsonkit.Doc // field path -> IndexKeyDirection, in declared order
	Unique bool
}

// sameSpec reports whether two index definitions declare an identical key
// pattern and uniqueness, used to make createIndexes idempotent when the
// same name is redefined identically and to reject it when it is not.
func (d IndexDefinition) sameSpec(other IndexDefinition) bool {
	if d.Unique != other.Unique || len(d.Keys) != len(other.Keys) {
		return false
	}
	for i := range d.Keys {
		if d.Keys[i].Key != other.Keys[i].Key {
			return false
		}
		if bsonkit.Compare(d.Keys[i].Value, other.Keys[i].Value) != 0 {
			return false
		}
	}
	return true
}

// keyOf computes the canonical key tuple for doc under this index's key
// spec. A document missing one of the key fields contributes a nil value
// for that position, matching MongoDB's treatment of missing fields as
// BSON null for indexing purposes.
func (d IndexDefinition) keyOf(doc bsonkit.Doc) []any {
	tuple := make([]any, len(d.Keys))
	for i, k := range d.Keys {
		v, _ := bsonkit.Get(doc, k.Key)
		tuple[i] = v
	}
	return tuple
}

func tupleEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if bsonkit.Compare(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

// idIndexName is the name MongoDB reserves for the implicit primary index.
const idIndexName = "_id_"

func idIndexDefinition() IndexDefinition {
	return IndexDefinition{
		Name:   idIndexName,
		Keys:   bsonkit.Doc{{Key: "_id", Value: int32(1)}},
		Unique: true,
	}
}
