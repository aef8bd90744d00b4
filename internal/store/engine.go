package store

import (
	"sync"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
)

// Engine is the process-local mapping from namespace to collection.
// Collections are created lazily on first write; a read against a
// namespace that was never written returns empty results without
// allocating state for it.
type Engine struct {
	mu          sync.RWMutex
	collections map[Namespace]*Collection
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{collections: make(map[Namespace]*Collection)}
}

// Reset atomically replaces the engine's contents with an empty engine.
// It backs the dispatcher's jongodbReset admin command, which test
// suites issue between cases to avoid cross-test document leakage
// without reconnecting or restarting the process.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections = make(map[Namespace]*Collection)
}

// Clone returns a deep, independent copy of the whole engine, used to
// seed a transaction snapshot.
func (e *Engine) Clone() *Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := NewEngine()
	for ns, c := range e.collections {
		out.collections[ns] = c.clone()
	}
	return out
}

// ReplaceWith atomically swaps e's contents for other's, used to install
// a committed transaction snapshot as the new live state.
func (e *Engine) ReplaceWith(other *Engine) {
	other.mu.RLock()
	snapshot := other.collections
	other.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections = snapshot
}

func (e *Engine) collectionFor(ns Namespace, create bool) *Collection {
	e.mu.RLock()
	c, ok := e.collections[ns]
	e.mu.RUnlock()
	if ok {
		return c
	}
	if !create {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.collections[ns]; ok {
		return c
	}
	c = newCollection()
	e.collections[ns] = c
	return c
}

// WriteError is one failed write within a batch operation.
type WriteError struct {
	Index int
	Err   *jerrors.Error
}

// InsertResult is the outcome of Insert.
type InsertResult struct {
	Inserted    int
	WriteErrors []WriteError
}

// Insert clones each document, assigns a missing _id, and commits it if
// no unique index would be violated. When ordered is true, processing
// stops at the first write error.
func (e *Engine) Insert(ns Namespace, docs []bsonkit.Doc, ordered bool) InsertResult {
	if !ns.valid() {
		return InsertResult{WriteErrors: []WriteError{{Index: 0, Err: jerrors.New(jerrors.KindBadValue, "invalid namespace %q", ns)}}}
	}
	c := e.collectionFor(ns, true)
	var res InsertResult
	c.withLock(func() {
		for i, raw := range docs {
			candidate := bsonkit.EnsureID(bsonkit.CloneDoc(raw))
			if name, conflict := c.checkUniqueConflict(candidate, -1); conflict {
				res.WriteErrors = append(res.WriteErrors, WriteError{
					Index: i,
					Err:   jerrors.NewAt(jerrors.KindDuplicateKey, i, "E11000 duplicate key error on index %q", name),
				})
				if ordered {
					return
				}
				continue
			}
			c.docs = append(c.docs, candidate)
			res.Inserted++
		}
	})
	return res
}

// FindOptions bundles the optional shaping parameters of Find.
type FindOptions struct {
	Sort  bsonkit.Doc
	Skip  int64
	Limit int64
}

// Find returns clones of every document in ns matching filter, in scan
// order unless Sort is set, after applying Skip and Limit.
func (e *Engine) Find(ns Namespace, filter bsonkit.Doc, opts FindOptions) []bsonkit.Doc {
	c := e.collectionFor(ns, false)
	if c == nil {
		return nil
	}
	var out []bsonkit.Doc
	c.withRLock(func() {
		for _, d := range c.docs {
			if matches(d, filter) {
				out = append(out, bsonkit.CloneDoc(d))
			}
		}
	})
	if len(opts.Sort) > 0 {
		sorted, err := stageSort(out, opts.Sort)
		if err == nil {
			out = sorted
		}
	}
	if opts.Skip > 0 {
		if int(opts.Skip) >= len(out) {
			return nil
		}
		out = out[opts.Skip:]
	}
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// Distinct returns the set of distinct values of field among documents
// matching filter, in first-seen order.
func (e *Engine) Distinct(ns Namespace, field string, filter bsonkit.Doc) []any {
	c := e.collectionFor(ns, false)
	if c == nil {
		return nil
	}
	var out []any
	c.withRLock(func() {
		for _, d := range c.docs {
			if !matches(d, filter) {
				continue
			}
			v, ok := bsonkit.Get(d, field)
			if !ok {
				continue
			}
			if !containsValue(out, v) {
				out = append(out, bsonkit.Clone(v))
			}
		}
	})
	return out
}

// Count returns the number of documents in ns matching filter.
func (e *Engine) Count(ns Namespace, filter bsonkit.Doc) int64 {
	c := e.collectionFor(ns, false)
	if c == nil {
		return 0
	}
	var n int64
	c.withRLock(func() {
		for _, d := range c.docs {
			if matches(d, filter) {
				n++
			}
		}
	})
	return n
}

// UpdateResult is the outcome of Update.
type UpdateResult struct {
	Matched    int64
	Modified   int64
	UpsertedID any
	Upserted   bool
}

// Update applies spec to every document matching filter (or only the
// first, in scan order, when multi is false). When no document matches
// and upsert is true, a seed document is synthesized from filter's
// equality clauses and inserted.
func (e *Engine) Update(ns Namespace, filter bsonkit.Doc, spec UpdateSpec, multi, upsert bool) (UpdateResult, *jerrors.Error) {
	c := e.collectionFor(ns, true)
	var res UpdateResult
	var failure *jerrors.Error

	c.withLock(func() {
		for i, d := range c.docs {
			if !matches(d, filter) {
				continue
			}
			updated, err := applyUpdate(d, spec, false)
			if err != nil {
				failure = asJerror(err)
				return
			}
			if name, conflict := c.checkUniqueConflict(updated, i); conflict {
				failure = jerrors.New(jerrors.KindDuplicateKey, "E11000 duplicate key error on index %q", name)
				return
			}
			res.Matched++
			if !bsonkit.DeepEqual(d, updated) {
				c.docs[i] = updated
				res.Modified++
			}
			if !multi {
				return
			}
		}

		if res.Matched == 0 && upsert {
			seed := seedFromFilter(filter)
			inserted, err := applyUpdate(seed, spec, true)
			if err != nil {
				failure = asJerror(err)
				return
			}
			inserted = bsonkit.EnsureID(inserted)
			if name, conflict := c.checkUniqueConflict(inserted, -1); conflict {
				failure = jerrors.New(jerrors.KindDuplicateKey, "E11000 duplicate key error on index %q", name)
				return
			}
			c.docs = append(c.docs, inserted)
			id, _ := bsonkit.GetID(inserted)
			res.UpsertedID = id
			res.Upserted = true
		}
	})
	return res, failure
}

func asJerror(err error) *jerrors.Error {
	if je, ok := jerrors.As(err); ok {
		return je
	}
	return jerrors.New(jerrors.KindInternal, "%s", err.Error())
}

// seedFromFilter synthesizes an upsert insert document from the equality
// clauses of filter: plain "field: value" and "field: {$eq: value}"
// entries seed the corresponding field; everything else (operators,
// logical combinators) is ignored, matching driver behavior.
func seedFromFilter(filter bsonkit.Doc) bsonkit.Doc {
	seed := bsonkit.Doc{}
	for _, f := range filter {
		if f.Key == "$and" || f.Key == "$or" || f.Key == "$nor" {
			continue
		}
		if opDoc, isOpDoc := asOperatorDoc(f.Value); isOpDoc {
			if v, ok := lookupOp(opDoc, "$eq"); ok {
				seed, _ = bsonkit.Set(seed, f.Key, v)
			}
			continue
		}
		seed, _ = bsonkit.Set(seed, f.Key, f.Value)
	}
	return seed
}

func lookupOp(d bsonkit.Doc, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// DeleteResult is the outcome of Delete.
type DeleteResult struct {
	Deleted int64
}

// Delete removes documents matching filter in scan order, stopping after
// the first match when limit == 1.
func (e *Engine) Delete(ns Namespace, filter bsonkit.Doc, limit int64) DeleteResult {
	c := e.collectionFor(ns, false)
	if c == nil {
		return DeleteResult{}
	}
	var res DeleteResult
	c.withLock(func() {
		kept := c.docs[:0:0]
		for _, d := range c.docs {
			if (limit <= 0 || res.Deleted < limit) && matches(d, filter) {
				res.Deleted++
				continue
			}
			kept = append(kept, d)
		}
		c.docs = kept
	})
	return res
}

// CreateIndexes adds each definition to ns's collection.
func (e *Engine) CreateIndexes(ns Namespace, defs []IndexDefinition) error {
	c := e.collectionFor(ns, true)
	var err error
	c.withLock(func() {
		err = c.createIndexes(defs)
	})
	return err
}

// DropIndexes removes indexes by name from ns's collection.
func (e *Engine) DropIndexes(ns Namespace, names []string) {
	c := e.collectionFor(ns, false)
	if c == nil {
		return
	}
	c.withLock(func() {
		c.dropIndexes(names)
	})
}

// ListIndexes returns the index definitions of ns's collection.
func (e *Engine) ListIndexes(ns Namespace) []IndexDefinition {
	c := e.collectionFor(ns, false)
	if c == nil {
		return nil
	}
	var out []IndexDefinition
	c.withRLock(func() {
		out = append([]IndexDefinition(nil), c.indexes...)
	})
	return out
}

// DropCollection removes ns's collection entirely.
func (e *Engine) DropCollection(ns Namespace) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.collections[ns]; !ok {
		return false
	}
	delete(e.collections, ns)
	return true
}

// DropDatabase removes every collection belonging to database.
func (e *Engine) DropDatabase(database string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ns := range e.collections {
		if ns.Database == database {
			delete(e.collections, ns)
		}
	}
}

// CreateCollection eagerly materializes an empty collection at ns,
// matching the explicit `create` command's observable effect on
// listCollections even before any document is written.
func (e *Engine) CreateCollection(ns Namespace) {
	e.collectionFor(ns, true)
}

// ListCollections returns the names of every collection in database that
// currently has state, sorted is not guaranteed.
func (e *Engine) ListCollections(database string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for ns := range e.collections {
		if ns.Database == database {
			out = append(out, ns.Collection)
		}
	}
	return out
}

// CollStats reports the document count of ns, or zero values if it has
// never been written.
func (e *Engine) CollStats(ns Namespace) (count int64, exists bool) {
	c := e.collectionFor(ns, false)
	if c == nil {
		return 0, false
	}
	c.withRLock(func() {
		count = int64(len(c.docs))
	})
	return count, true
}

// AggregateNamespace runs pipeline against a clone of ns's documents.
func (e *Engine) AggregateNamespace(ns Namespace, pipeline []bsonkit.Doc) ([]bsonkit.Doc, error) {
	c := e.collectionFor(ns, false)
	var snapshot []bsonkit.Doc
	if c != nil {
		c.withRLock(func() {
			snapshot = c.snapshot()
		})
	}
	return Aggregate(snapshot, pipeline)
}
