// Package dispatch validates command envelopes, routes them by name to a
// handler that runs against the document engine or a transaction
// snapshot, and shapes the result back into a wire response document.
package dispatch

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
	"github.com/jongodb/jongodb/internal/txn"
)

// envelope is the parsed shape of an inbound command document, common to
// every handler.
type envelope struct {
	raw        bsonkit.Doc
	commandKey string
	command    string
	arg        any
	db         string
	collection string
	txnEnv     txn.Envelope

	// dbConflictWith is set when the command document carries its own
	// $db that disagrees with the database named in an OP_QUERY full
	// collection name. db still takes the document's $db verbatim.
	dbConflictWith string
}

func parseEnvelope(body bsonkit.Doc, dbFromNamespace string) (envelope, error) {
	if len(body) == 0 {
		return envelope{}, jerrors.New(jerrors.KindBadValue, "empty command document")
	}

	e := envelope{raw: body, commandKey: body[0].Key, command: strings.ToLower(body[0].Key), arg: body[0].Value}

	if db, ok := bsonkit.Get(body, "$db"); ok {
		s, ok := db.(string)
		if !ok {
			return envelope{}, jerrors.New(jerrors.KindTypeMismatch, "$db must be a string")
		}
		e.db = s
		if dbFromNamespace != "" && dbFromNamespace != s {
			e.dbConflictWith = dbFromNamespace
		}
	} else if dbFromNamespace != "" {
		e.db = dbFromNamespace
	} else {
		return envelope{}, jerrors.New(jerrors.KindBadValue, "command document is missing $db")
	}

	if coll, ok := bsonkit.Get(body, e.commandKey); ok {
		if s, ok := coll.(string); ok {
			e.collection = s
		}
	}

	e.txnEnv = parseTxnEnvelope(body)
	return e, nil
}

func parseTxnEnvelope(body bsonkit.Doc) txn.Envelope {
	env := txn.Envelope{}
	if lsid, ok := bsonkit.Get(body, "lsid"); ok {
		if d, ok := lsid.(bsonkit.Doc); ok {
			env.HasLSID = true
			env.LSID = d
		}
	}
	if tn, ok := bsonkit.Get(body, "txnNumber"); ok {
		if n, ok := bsonkit.AsFloat64(tn); ok {
			env.HasTxnNumber = true
			env.TxnNumber = int64(n)
		}
	}
	if ac, ok := bsonkit.Get(body, "autocommit"); ok {
		if b, ok := ac.(bool); ok {
			env.Autocommit = &b
		}
	}
	if st, ok := bsonkit.Get(body, "startTransaction"); ok {
		if b, ok := st.(bool); ok {
			env.StartTransaction = &b
		}
	}
	name := ""
	if len(body) > 0 {
		name = strings.ToLower(body[0].Key)
	}
	env.IsCommit = name == "committransaction"
	env.IsAbort = name == "aborttransaction"
	return env
}

func (e envelope) ns(database string) (db, coll string) {
	if database != "" {
		return database, e.collection
	}
	return e.db, e.collection
}

func docArg(body bsonkit.Doc, key string) bsonkit.Doc {
	v, ok := bsonkit.Get(body, key)
	if !ok {
		return nil
	}
	d, _ := v.(bsonkit.Doc)
	return d
}

func docArrayArg(body bsonkit.Doc, key string) []bsonkit.Doc {
	v, ok := bsonkit.Get(body, key)
	if !ok {
		return nil
	}
	arr, ok := v.(bson.A)
	if !ok {
		return nil
	}
	out := make([]bsonkit.Doc, 0, len(arr))
	for _, e := range arr {
		if d, ok := e.(bsonkit.Doc); ok {
			out = append(out, d)
		}
	}
	return out
}

func boolArg(body bsonkit.Doc, key string, def bool) bool {
	v, ok := bsonkit.Get(body, key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func int64Arg(body bsonkit.Doc, key string, def int64) int64 {
	v, ok := bsonkit.Get(body, key)
	if !ok {
		return def
	}
	n, ok := bsonkit.AsFloat64(v)
	if !ok {
		return def
	}
	return int64(n)
}

func stringArg(body bsonkit.Doc, key string) string {
	v, ok := bsonkit.Get(body, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
