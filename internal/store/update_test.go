package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
	"github.com/jongodb/jongodb/internal/jerrors"
)

func TestApplyUpdateSetCreatesDottedPath(t *testing.T) {
	doc := bsonkit.Doc{{Key: "_id", Value: int32(1)}}
	spec := ParseUpdateSpec(bsonkit.Doc{{Key: "$set", Value: bsonkit.Doc{{Key: "addr.city", Value: "nyc"}}}}, nil)
	out, err := applyUpdate(doc, spec, false)
	require.NoError(t, err)
	addr, ok := mustGet(out, "addr").(bsonkit.Doc)
	require.True(t, ok)
	assert.Equal(t, "nyc", mustGet(addr, "city"))
}

func TestApplyUpdateIncRequiresNumericTarget(t *testing.T) {
	doc := bsonkit.Doc{{Key: "v", Value: "not-a-number"}}
	spec := ParseUpdateSpec(bsonkit.Doc{{Key: "$inc", Value: bsonkit.Doc{{Key: "v", Value: int32(1)}}}}, nil)
	_, err := applyUpdate(doc, spec, false)
	require.Error(t, err)
	je, _ := jerrors.As(err)
	assert.Equal(t, jerrors.KindTypeMismatch, je.Kind)
}

func TestApplyUpdateIncKeepsIntegerType(t *testing.T) {
	doc := bsonkit.Doc{{Key: "v", Value: int32(2)}}
	spec := ParseUpdateSpec(bsonkit.Doc{{Key: "$inc", Value: bsonkit.Doc{{Key: "v", Value: int32(3)}}}}, nil)
	out, err := applyUpdate(doc, spec, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), mustGet(out, "v"))
}

func TestApplyUpdateReplacementRejectsIDChange(t *testing.T) {
	doc := bsonkit.Doc{{Key: "_id", Value: int32(1)}, {Key: "v", Value: int32(1)}}
	spec := ParseUpdateSpec(bsonkit.Doc{{Key: "_id", Value: int32(2)}, {Key: "v", Value: int32(9)}}, nil)
	_, err := applyUpdate(doc, spec, false)
	require.Error(t, err)
	je, _ := jerrors.As(err)
	assert.Equal(t, jerrors.KindImmutableField, je.Kind)
}

func TestApplyUpdateArrayFilter(t *testing.T) {
	doc := bsonkit.Doc{
		{Key: "_id", Value: int32(1)},
		{Key: "items", Value: bson.A{
			bsonkit.Doc{{Key: "tag", Value: "x"}, {Key: "score", Value: int32(1)}},
			bsonkit.Doc{{Key: "tag", Value: "y"}, {Key: "score", Value: int32(1)}},
		}},
	}
	filters := []bsonkit.Doc{{{Key: "elem.tag", Value: "x"}}}
	spec := ParseUpdateSpec(bsonkit.Doc{{Key: "$set", Value: bsonkit.Doc{{Key: "items.$[elem].score", Value: int32(99)}}}}, filters)
	out, err := applyUpdate(doc, spec, false)
	require.NoError(t, err)

	arr := mustGet(out, "items")
	items, ok := arr.(bson.A)
	require.True(t, ok)
	first, _ := items[0].(bsonkit.Doc)
	second, _ := items[1].(bsonkit.Doc)
	assert.Equal(t, int32(99), mustGet(first, "score"))
	assert.Equal(t, int32(1), mustGet(second, "score"))
}

func TestApplyUpdateModifiedOnlyWhenChanged(t *testing.T) {
	doc := bsonkit.Doc{{Key: "_id", Value: int32(1)}, {Key: "v", Value: int32(1)}}
	spec := ParseUpdateSpec(bsonkit.Doc{{Key: "$set", Value: bsonkit.Doc{{Key: "v", Value: int32(1)}}}}, nil)
	out, err := applyUpdate(doc, spec, false)
	require.NoError(t, err)
	assert.True(t, bsonkit.DeepEqual(doc, out))
}
