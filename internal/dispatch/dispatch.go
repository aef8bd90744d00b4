package dispatch

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
	"github.com/jongodb/jongodb/internal/store"
	"github.com/jongodb/jongodb/internal/txn"
)

// Topology describes the server's advertised replica-set identity, used
// to answer hello/isMaster. A zero-value Topology means standalone mode.
// Host is already in "host:port" form.
type Topology struct {
	ReplicaSet string
	Host       string
	ProcessID  bson.ObjectID
}

func (t Topology) isReplicaSet() bool {
	return t.ReplicaSet != ""
}

// Dispatcher validates and routes command documents against a shared
// document engine and transaction manager.
type Dispatcher struct {
	Engine   *store.Engine
	Txns     *txn.Manager
	Topology Topology
	Logger   *zap.Logger
}

// New returns a Dispatcher over a fresh engine and transaction manager,
// logging to logger. A nil logger is replaced with a no-op one.
func New(topology Topology, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{Engine: store.NewEngine(), Txns: txn.NewManager(), Topology: topology, Logger: logger}
}

// Handle validates body as a command envelope, routes it, and always
// returns a response document: never an error, since every failure is
// itself shaped into an ok:0 response.
func (d *Dispatcher) Handle(body bsonkit.Doc, dbFromNamespace string) bsonkit.Doc {
	env, err := parseEnvelope(body, dbFromNamespace)
	if err != nil {
		return failure(err, txn.Envelope{})
	}
	if env.dbConflictWith != "" {
		d.Logger.Warn("command $db disagrees with OP_QUERY namespace, using command $db",
			zap.String("command", env.commandKey),
			zap.String("commandDB", env.db),
			zap.String("namespaceDB", env.dbConflictWith),
		)
	}

	if err := env.txnEnv.Validate(); err != nil {
		return failure(err, env.txnEnv)
	}

	engine := d.Engine
	if env.txnEnv.HasLSID {
		routed, rerr := d.Txns.Route(d.Engine, env.txnEnv)
		if rerr != nil {
			return failure(rerr, env.txnEnv)
		}
		if routed == nil {
			// abortTransaction: state already cleared, nothing left to execute.
			return ok()
		}
		engine = routed
	}

	resp, herr := d.dispatch(engine, env)
	if herr != nil {
		return failure(herr, env.txnEnv)
	}
	return resp
}

func (d *Dispatcher) dispatch(engine *store.Engine, env envelope) (bsonkit.Doc, error) {
	switch env.command {
	case "ping":
		return ok(), nil
	case "buildinfo":
		return d.handleBuildInfo(), nil
	case "hello", "ismaster":
		return d.handleHello(), nil
	case "listcollections":
		return d.handleListCollections(engine, env)
	case "listindexes":
		return d.handleListIndexes(engine, env)
	case "collstats":
		return d.handleCollStats(engine, env)
	case "insert":
		return d.handleInsert(engine, env)
	case "find":
		return d.handleFind(engine, env)
	case "update":
		return d.handleUpdate(engine, env)
	case "delete":
		return d.handleDelete(engine, env)
	case "findandmodify", "findoneandupdate", "findoneandreplace", "findoneanddelete":
		return d.handleFindAndModify(engine, env)
	case "count", "countdocuments":
		return d.handleCount(engine, env)
	case "distinct":
		return d.handleDistinct(engine, env)
	case "aggregate":
		return d.handleAggregate(engine, env)
	case "bulkwrite", "clientbulkwrite":
		return d.handleBulkWrite(engine, env)
	case "createindexes":
		return d.handleCreateIndexes(engine, env)
	case "dropindexes":
		return d.handleDropIndexes(engine, env)
	case "drop":
		return d.handleDrop(engine, env)
	case "dropdatabase":
		return d.handleDropDatabase(engine, env)
	case "create":
		return d.handleCreate(engine, env)
	case "committransaction", "aborttransaction":
		return ok(), nil
	case "jongodbreset":
		return d.handleReset(engine), nil
	default:
		return nil, jerrors.New(jerrors.KindCommandNotFound, "no such command: %q", env.commandKey)
	}
}

func namespaceFor(env envelope) (store.Namespace, error) {
	db, coll := env.ns("")
	if db == "" || coll == "" {
		return store.Namespace{}, jerrors.New(jerrors.KindBadValue, "command requires a collection name")
	}
	return store.Namespace{Database: db, Collection: coll}, nil
}

func (d *Dispatcher) handleBuildInfo() bsonkit.Doc {
	return ok(
		bson.E{Key: "version", Value: "7.0.0-jongodb"},
		bson.E{Key: "versionArray", Value: bson.A{int32(7), int32(0), int32(0), int32(0)}},
		bson.E{Key: "bits", Value: int32(64)},
		bson.E{Key: "maxBsonObjectSize", Value: int32(16 * 1024 * 1024)},
	)
}

func (d *Dispatcher) handleHello() bsonkit.Doc {
	fields := []bson.E{
		{Key: "ismaster", Value: true},
		{Key: "isWritablePrimary", Value: true},
		{Key: "maxBsonObjectSize", Value: int32(16 * 1024 * 1024)},
		{Key: "maxMessageSizeBytes", Value: int32(48 * 1024 * 1024)},
		{Key: "maxWriteBatchSize", Value: int32(100000)},
		{Key: "logicalSessionTimeoutMinutes", Value: int32(30)},
		{Key: "minWireVersion", Value: int32(0)},
		{Key: "maxWireVersion", Value: int32(13)},
		{Key: "readOnly", Value: false},
	}
	if d.Topology.isReplicaSet() {
		hostport := d.Topology.Host
		fields = append(fields,
			bson.E{Key: "setName", Value: d.Topology.ReplicaSet},
			bson.E{Key: "hosts", Value: bson.A{hostport}},
			bson.E{Key: "primary", Value: hostport},
			bson.E{Key: "topologyVersion", Value: bsonkit.Doc{
				{Key: "processId", Value: d.Topology.ProcessID},
				{Key: "counter", Value: int64(0)},
			}},
		)
	}
	return ok(fields...)
}
