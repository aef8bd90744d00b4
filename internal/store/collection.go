package store

import (
	"sync"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
)

// Collection is an ordered sequence of documents plus the indexes defined
// over them. Insertion order is the implicit scan order used by find's
// default ordering and by aggregation's initial cursor.
//
// A collection's own lock is the unit of atomicity for a single command:
// callers hold it across both the uniqueness pre-check and the commit of
// affected documents, per the write-serializability requirement.
type Collection struct {
	mu      sync.RWMutex
	docs    []bsonkit.Doc
	indexes []IndexDefinition
}

func newCollection() *Collection {
	return &Collection{indexes: []IndexDefinition{idIndexDefinition()}}
}

// withRLock and withLock let callers compose multi-step operations
// (probe-then-commit) under a single critical section without exposing
// the mutex itself.
func (c *Collection) withRLock(fn func()) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn()
}

func (c *Collection) withLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// snapshot returns a deep clone of every document, used as aggregation
// input. Caller must hold at least the read lock.
func (c *Collection) snapshot() []bsonkit.Doc {
	return bsonkit.CloneDocs(c.docs)
}

// clone returns an independent copy of the whole collection, including
// its index definitions, for transaction snapshotting.
func (c *Collection) clone() *Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := &Collection{
		docs:    bsonkit.CloneDocs(c.docs),
		indexes: append([]IndexDefinition(nil), c.indexes...),
	}
	return out
}

// checkUniqueConflict reports whether inserting or replacing candidate
// (currently stored at position skipIdx, or -1 for a new document) would
// violate any unique index, returning the first violated index's name.
// Caller must hold a lock.
func (c *Collection) checkUniqueConflict(candidate bsonkit.Doc, skipIdx int) (string, bool) {
	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		want := idx.keyOf(candidate)
		for i, d := range c.docs {
			if i == skipIdx {
				continue
			}
			if tupleEqual(idx.keyOf(d), want) {
				return idx.Name, true
			}
		}
	}
	return "", false
}

// createIndexes adds each definition, idempotent by name: a redefinition
// under an existing name with an identical spec is a no-op, a mismatched
// redefinition fails, and a genuinely new index is validated against the
// current documents before being added.
func (c *Collection) createIndexes(defs []IndexDefinition) error {
	var toAdd []IndexDefinition
	for _, def := range defs {
		existing, found := c.indexByName(def.Name)
		if found {
			if existing.sameSpec(def) {
				continue
			}
			return jerrors.New(jerrors.KindIndexConflict,
				"index %q already exists with a different key pattern or options", def.Name)
		}
		if def.Unique {
			seen := make([]any, 0, len(c.docs))
			for _, d := range c.docs {
				key := def.keyOf(d)
				for _, s := range seen {
					if tupleEqual(s.([]any), key) {
						return jerrors.New(jerrors.KindDuplicateKey, "index %q would be violated by existing data", def.Name)
					}
				}
				seen = append(seen, key)
			}
		}
		toAdd = append(toAdd, def)
	}
	c.indexes = append(c.indexes, toAdd...)
	return nil
}

func (c *Collection) indexByName(name string) (IndexDefinition, bool) {
	for _, idx := range c.indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDefinition{}, false
}

// dropIndexes removes indexes by name, or every index but _id_ when name
// is "*". The _id_ index can never be dropped.
func (c *Collection) dropIndexes(names []string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "*" {
			for _, idx := range c.indexes {
				if idx.Name != idIndexName {
					drop[idx.Name] = true
				}
			}
			continue
		}
		drop[n] = true
	}
	kept := c.indexes[:0:0]
	for _, idx := range c.indexes {
		if idx.Name == idIndexName || !drop[idx.Name] {
			kept = append(kept, idx)
		}
	}
	c.indexes = kept
}
