package dispatch

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
	"github.com/jongodb/jongodb/internal/store"
)

func (d *Dispatcher) handleInsert(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	docs := docArrayArg(env.raw, "documents")
	ordered := boolArg(env.raw, "ordered", true)

	res := engine.Insert(ns, docs, ordered)
	fields := []bson.E{{Key: "n", Value: int32(res.Inserted)}}
	if len(res.WriteErrors) > 0 {
		fields = append(fields, bson.E{Key: "writeErrors", Value: writeErrorsDoc(toWriteErrorEntries(res.WriteErrors))})
	}
	return ok(fields...), nil
}

func toWriteErrorEntries(in []store.WriteError) []writeErrorEntry {
	out := make([]writeErrorEntry, len(in))
	for i, e := range in {
		out[i] = writeErrorEntry{Index: e.Index, Err: e.Err}
	}
	return out
}

func (d *Dispatcher) handleFind(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	filter := docArg(env.raw, "filter")
	opts := store.FindOptions{
		Sort:  docArg(env.raw, "sort"),
		Skip:  int64Arg(env.raw, "skip", 0),
		Limit: int64Arg(env.raw, "limit", 0),
	}
	docs := engine.Find(ns, filter, opts)
	return cursorResponse(ns.String(), docs), nil
}

func (d *Dispatcher) handleUpdate(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	updates := docArrayArg(env.raw, "updates")
	var nMatched, nModified int32
	var upserted bson.A
	var writeErrs []writeErrorEntry

	for i, u := range updates {
		filter := docArg(u, "q")
		spec := store.ParseUpdateSpec(docArg(u, "u"), docArrayArg(u, "arrayFilters"))
		multi := boolArg(u, "multi", false)
		upsert := boolArg(u, "upsert", false)

		res, failure := engine.Update(ns, filter, spec, multi, upsert)
		if failure != nil {
			writeErrs = append(writeErrs, writeErrorEntry{Index: i, Err: failure})
			continue
		}
		nMatched += int32(res.Matched)
		nModified += int32(res.Modified)
		if res.Upserted {
			upserted = append(upserted, bsonkit.Doc{
				{Key: "index", Value: int32(i)},
				{Key: "_id", Value: res.UpsertedID},
			})
		}
	}

	fields := []bson.E{
		{Key: "n", Value: nMatched + int32(len(upserted))},
		{Key: "nModified", Value: nModified},
	}
	if len(upserted) > 0 {
		fields = append(fields, bson.E{Key: "upserted", Value: upserted})
	}
	if len(writeErrs) > 0 {
		fields = append(fields, bson.E{Key: "writeErrors", Value: writeErrorsDoc(writeErrs)})
	}
	return ok(fields...), nil
}

func (d *Dispatcher) handleDelete(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	deletes := docArrayArg(env.raw, "deletes")
	var total int64
	for _, del := range deletes {
		filter := docArg(del, "q")
		limit := int64Arg(del, "limit", 0)
		res := engine.Delete(ns, filter, limit)
		total += res.Deleted
	}
	return ok(bson.E{Key: "n", Value: int32(total)}), nil
}

func (d *Dispatcher) handleFindAndModify(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	filter := docArg(env.raw, "query")
	if filter == nil {
		filter = docArg(env.raw, "filter")
	}
	remove := boolArg(env.raw, "remove", false) || env.command == "findoneanddelete"
	upsert := boolArg(env.raw, "upsert", false)
	newDoc := boolArg(env.raw, "new", false)

	if remove {
		before := engine.Find(ns, filter, store.FindOptions{Limit: 1})
		engine.Delete(ns, filter, 1)
		return ok(bson.E{Key: "lastErrorObject", Value: bsonkit.Doc{{Key: "n", Value: int32(len(before))}}},
			bson.E{Key: "value", Value: firstOrNil(before)}), nil
	}

	before := engine.Find(ns, filter, store.FindOptions{Limit: 1})
	updateDoc := docArg(env.raw, "update")
	if updateDoc == nil {
		updateDoc = docArg(env.raw, "replacement")
	}
	spec := store.ParseUpdateSpec(updateDoc, docArrayArg(env.raw, "arrayFilters"))
	res, failure := engine.Update(ns, filter, spec, false, upsert)
	if failure != nil {
		return nil, failure
	}

	lastErr := bsonkit.Doc{{Key: "n", Value: int32(res.Matched + boolToInt(res.Upserted))}, {Key: "updatedExisting", Value: res.Matched > 0}}
	if res.Upserted {
		lastErr = append(lastErr, bson.E{Key: "upserted", Value: res.UpsertedID})
	}

	var value any
	if newDoc {
		after := engine.Find(ns, filter, store.FindOptions{Limit: 1})
		value = firstOrNil(after)
	} else {
		value = firstOrNil(before)
	}
	return ok(bson.E{Key: "lastErrorObject", Value: lastErr}, bson.E{Key: "value", Value: value}), nil
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func firstOrNil(docs []bsonkit.Doc) any {
	if len(docs) == 0 {
		return nil
	}
	return docs[0]
}

func (d *Dispatcher) handleCount(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	filter := docArg(env.raw, "query")
	if filter == nil {
		filter = docArg(env.raw, "filter")
	}
	n := engine.Count(ns, filter)
	return ok(bson.E{Key: "n", Value: n}), nil
}

func (d *Dispatcher) handleDistinct(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	field := stringArg(env.raw, "key")
	filter := docArg(env.raw, "query")
	values := engine.Distinct(ns, field, filter)
	arr := make(bson.A, len(values))
	for i, v := range values {
		arr[i] = v
	}
	return ok(bson.E{Key: "values", Value: arr}), nil
}

func (d *Dispatcher) handleAggregate(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	pipeline := docArrayArg(env.raw, "pipeline")
	out, aerr := engine.AggregateNamespace(ns, pipeline)
	if aerr != nil {
		return nil, aerr
	}
	return cursorResponse(ns.String(), out), nil
}

// handleBulkWrite implements the ordered/unordered batch surface shared by
// bulkWrite and clientBulkWrite: a flat list of insert/update/delete
// operations against the same namespace.
func (d *Dispatcher) handleBulkWrite(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	ops := docArrayArg(env.raw, "ops")
	ordered := boolArg(env.raw, "ordered", true)

	var nInserted, nMatched, nModified, nDeleted int32
	var upserted bson.A
	var writeErrs []writeErrorEntry

	for i, op := range ops {
		if insertDoc := docArg(op, "insertOne"); insertDoc != nil {
			res := engine.Insert(ns, []bsonkit.Doc{docArg(insertDoc, "document")}, true)
			nInserted += int32(res.Inserted)
			for _, we := range res.WriteErrors {
				writeErrs = append(writeErrs, writeErrorEntry{Index: i, Err: we.Err})
				if ordered {
					break
				}
			}
		} else if updateOp := docArg(op, "updateOne"); updateOp != nil {
			nMatched, nModified, upserted, writeErrs = applyBulkUpdate(engine, ns, updateOp, false, i, nMatched, nModified, upserted, writeErrs)
		} else if updateOp := docArg(op, "updateMany"); updateOp != nil {
			nMatched, nModified, upserted, writeErrs = applyBulkUpdate(engine, ns, updateOp, true, i, nMatched, nModified, upserted, writeErrs)
		} else if deleteOp := docArg(op, "deleteOne"); deleteOp != nil {
			res := engine.Delete(ns, docArg(deleteOp, "filter"), 1)
			nDeleted += int32(res.Deleted)
		} else if deleteOp := docArg(op, "deleteMany"); deleteOp != nil {
			res := engine.Delete(ns, docArg(deleteOp, "filter"), 0)
			nDeleted += int32(res.Deleted)
		} else {
			writeErrs = append(writeErrs, writeErrorEntry{Index: i, Err: jerrors.New(jerrors.KindBadValue, "unrecognized bulk write operation")})
		}
		if ordered && len(writeErrs) > 0 {
			break
		}
	}

	fields := []bson.E{
		{Key: "insertedCount", Value: nInserted},
		{Key: "matchedCount", Value: nMatched},
		{Key: "modifiedCount", Value: nModified},
		{Key: "deletedCount", Value: nDeleted},
	}
	if len(upserted) > 0 {
		fields = append(fields, bson.E{Key: "upserted", Value: upserted})
	}
	if len(writeErrs) > 0 {
		fields = append(fields, bson.E{Key: "writeErrors", Value: writeErrorsDoc(writeErrs)})
	}
	return ok(fields...), nil
}

func applyBulkUpdate(engine *store.Engine, ns store.Namespace, updateOp bsonkit.Doc, multi bool, index int,
	nMatched, nModified int32, upserted bson.A, writeErrs []writeErrorEntry,
) (int32, int32, bson.A, []writeErrorEntry) {
	filter := docArg(updateOp, "filter")
	spec := store.ParseUpdateSpec(docArg(updateOp, "update"), docArrayArg(updateOp, "arrayFilters"))
	upsert := boolArg(updateOp, "upsert", false)

	res, failure := engine.Update(ns, filter, spec, multi, upsert)
	if failure != nil {
		return nMatched, nModified, upserted, append(writeErrs, writeErrorEntry{Index: index, Err: failure})
	}
	nMatched += int32(res.Matched)
	nModified += int32(res.Modified)
	if res.Upserted {
		upserted = append(upserted, bsonkit.Doc{{Key: "index", Value: int32(index)}, {Key: "_id", Value: res.UpsertedID}})
	}
	return nMatched, nModified, upserted, writeErrs
}
