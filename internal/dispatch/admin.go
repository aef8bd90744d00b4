package dispatch

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
	"github.com/jongodb/jongodb/internal/store"
)

func (d *Dispatcher) handleListCollections(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	names := engine.ListCollections(env.db)
	batch := make(bson.A, len(names))
	for i, n := range names {
		batch[i] = bsonkit.Doc{{Key: "name", Value: n}, {Key: "type", Value: "collection"}}
	}
	cursor := bsonkit.Doc{
		{Key: "id", Value: int64(0)},
		{Key: "ns", Value: env.db + ".$cmd.listCollections"},
		{Key: "firstBatch", Value: batch},
	}
	return ok(bson.E{Key: "cursor", Value: cursor}), nil
}

func (d *Dispatcher) handleListIndexes(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	defs := engine.ListIndexes(ns)
	batch := make(bson.A, len(defs))
	for i, def := range defs {
		batch[i] = bsonkit.Doc{
			{Key: "v", Value: int32(2)},
			{Key: "key", Value: def.Keys},
			{Key: "name", Value: def.Name},
			{Key: "unique", Value: def.Unique},
		}
	}
	cursor := bsonkit.Doc{
		{Key: "id", Value: int64(0)},
		{Key: "ns", Value: ns.String()},
		{Key: "firstBatch", Value: batch},
	}
	return ok(bson.E{Key: "cursor", Value: cursor}), nil
}

func (d *Dispatcher) handleCollStats(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	count, exists := engine.CollStats(ns)
	if !exists {
		return nil, jerrors.New(jerrors.KindNamespaceNotFound, "ns not found %s", ns)
	}
	return ok(
		bson.E{Key: "ns", Value: ns.String()},
		bson.E{Key: "count", Value: count},
		bson.E{Key: "size", Value: int64(0)},
		bson.E{Key: "storageSize", Value: int64(0)},
	), nil
}

func (d *Dispatcher) handleCreateIndexes(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	specs := docArrayArg(env.raw, "indexes")
	defs := make([]store.IndexDefinition, 0, len(specs))
	for _, s := range specs {
		keys := docArg(s, "key")
		name := stringArg(s, "name")
		if name == "" {
			name = defaultIndexName(keys)
		}
		defs = append(defs, store.IndexDefinition{
			Name:   name,
			Keys:   keys,
			Unique: boolArg(s, "unique", false),
		})
	}
	if cerr := engine.CreateIndexes(ns, defs); cerr != nil {
		return nil, cerr
	}
	return ok(
		bson.E{Key: "numIndexesBefore", Value: int32(len(engine.ListIndexes(ns)) - len(defs))},
		bson.E{Key: "numIndexesAfter", Value: int32(len(engine.ListIndexes(ns)))},
	), nil
}

func defaultIndexName(keys bsonkit.Doc) string {
	name := ""
	for _, k := range keys {
		if name != "" {
			name += "_"
		}
		dir, _ := bsonkit.AsFloat64(k.Value)
		name += k.Key + "_" + formatDirection(dir)
	}
	return name
}

func formatDirection(dir float64) string {
	if dir < 0 {
		return "-1"
	}
	return "1"
}

func (d *Dispatcher) handleDropIndexes(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	var names []string
	if arr, ok := rawIndexArg(env.raw); ok {
		names = arr
	}
	engine.DropIndexes(ns, names)
	return ok(), nil
}

// rawIndexArg reads dropIndexes' "index" argument, which may be a single
// name, "*", or an array of names.
func rawIndexArg(body bsonkit.Doc) ([]string, bool) {
	v, ok := bsonkit.Get(body, "index")
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case string:
		return []string{t}, true
	case bson.A:
		names := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				names = append(names, s)
			}
		}
		return names, true
	default:
		return nil, false
	}
}

func (d *Dispatcher) handleDrop(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	if !engine.DropCollection(ns) {
		return nil, jerrors.New(jerrors.KindNamespaceNotFound, "ns not found %s", ns)
	}
	return ok(), nil
}

func (d *Dispatcher) handleDropDatabase(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	engine.DropDatabase(env.db)
	return ok(bson.E{Key: "dropped", Value: env.db}), nil
}

func (d *Dispatcher) handleCreate(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	ns, err := namespaceFor(env)
	if err != nil {
		return nil, err
	}
	engine.CreateCollection(ns)
	return ok(), nil
}

// handleReset answers the jongodbReset admin command: a non-standard
// extension test suites issue between cases to clear every collection
// without tearing down the connection or the process.
func (d *Dispatcher) handleReset(engine *store.Engine) bsonkit.Doc {
	engine.Reset()
	return ok()
}
