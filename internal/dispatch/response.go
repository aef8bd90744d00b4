package dispatch

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
	"github.com/jongodb/jongodb/internal/txn"
)

// ok builds a successful response document, prepending ok:1.0 before the
// caller's fields.
func ok(fields ...bson.E) bsonkit.Doc {
	out := bsonkit.Doc{{Key: "ok", Value: float64(1)}}
	return append(out, fields...)
}

// failure converts err into a failed response document (ok:0.0), attaching
// error labels appropriate to the command's transaction context.
func failure(err error, env txn.Envelope) bsonkit.Doc {
	je := jerrors.New(jerrors.KindInternal, "%s", err.Error())
	if cast, isJ := jerrors.As(err); isJ {
		je = cast
	}
	doc := bsonkit.Doc{
		{Key: "ok", Value: float64(0)},
		{Key: "errmsg", Value: je.Message},
		{Key: "code", Value: je.Code()},
		{Key: "codeName", Value: je.CodeName()},
	}
	if labels := txn.ErrorLabelsFor(env, je); len(labels) > 0 {
		arr := make(bson.A, len(labels))
		for i, l := range labels {
			arr[i] = l
		}
		doc = append(doc, bson.E{Key: "errorLabels", Value: arr})
	}
	return doc
}

// cursorResponse builds the cursor.firstBatch shape shared by find and
// aggregate. id is always 0 because no cursor is kept server-side.
func cursorResponse(namespace string, docs []bsonkit.Doc) bsonkit.Doc {
	batch := make(bson.A, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	cursor := bsonkit.Doc{
		{Key: "id", Value: int64(0)},
		{Key: "ns", Value: namespace},
		{Key: "firstBatch", Value: batch},
	}
	return ok(bson.E{Key: "cursor", Value: cursor})
}

func writeErrorsDoc(errs []writeErrorEntry) bson.A {
	arr := make(bson.A, len(errs))
	for i, e := range errs {
		arr[i] = bsonkit.Doc{
			{Key: "index", Value: int32(e.Index)},
			{Key: "code", Value: e.Err.Code()},
			{Key: "codeName", Value: e.Err.CodeName()},
			{Key: "errmsg", Value: e.Err.Message},
		}
	}
	return arr
}

type writeErrorEntry struct {
	Index int
	Err   *jerrors.Error
}
