package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
)

func TestAggregateUnwindGroupSort(t *testing.T) {
	in := []bsonkit.Doc{
		{{Key: "_id", Value: int32(1)}, {Key: "qty", Value: int32(2)}, {Key: "tags", Value: bson.A{"a", "b"}}},
		{{Key: "_id", Value: int32(2)}, {Key: "qty", Value: int32(3)}, {Key: "tags", Value: bson.A{"a"}}},
		{{Key: "_id", Value: int32(3)}, {Key: "qty", Value: int32(5)}, {Key: "tags", Value: bson.A{}}},
	}
	pipeline := []bsonkit.Doc{
		{{Key: "$unwind", Value: "$tags"}},
		{{Key: "$group", Value: bsonkit.Doc{
			{Key: "_id", Value: "$tags"},
			{Key: "total", Value: bsonkit.Doc{{Key: "$sum", Value: "$qty"}}},
			{Key: "count", Value: bsonkit.Doc{{Key: "$sum", Value: int32(1)}}},
		}}},
		{{Key: "$sort", Value: bsonkit.Doc{{Key: "_id", Value: int32(1)}}}},
	}

	out, err := Aggregate(in, pipeline)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "a", mustGet(out[0], "_id"))
	assert.EqualValues(t, 5, mustGet(out[0], "total"))
	assert.EqualValues(t, 2, mustGet(out[0], "count"))

	assert.Equal(t, "b", mustGet(out[1], "_id"))
	assert.EqualValues(t, 2, mustGet(out[1], "total"))
	assert.EqualValues(t, 1, mustGet(out[1], "count"))
}

func TestAggregateDoesNotMutateSource(t *testing.T) {
	in := []bsonkit.Doc{{{Key: "_id", Value: int32(1)}, {Key: "v", Value: int32(1)}}}
	before := bsonkit.CloneDocs(in)

	_, err := Aggregate(in, []bsonkit.Doc{
		{{Key: "$set", Value: bsonkit.Doc{{Key: "v", Value: int32(99)}}}},
	})
	require.NoError(t, err)
	assert.True(t, bsonkit.DeepEqual(in[0], before[0]))
}

func TestAggregateMatchSortSkipLimitMatchesFind(t *testing.T) {
	in := []bsonkit.Doc{
		{{Key: "_id", Value: int32(1)}, {Key: "v", Value: int32(3)}},
		{{Key: "_id", Value: int32(2)}, {Key: "v", Value: int32(1)}},
		{{Key: "_id", Value: int32(3)}, {Key: "v", Value: int32(2)}},
	}
	out, err := Aggregate(in, []bsonkit.Doc{
		{{Key: "$match", Value: bsonkit.Doc{{Key: "v", Value: bsonkit.Doc{{Key: "$gte", Value: int32(1)}}}}}},
		{{Key: "$sort", Value: bsonkit.Doc{{Key: "v", Value: int32(1)}}}},
		{{Key: "$skip", Value: int32(1)}},
		{{Key: "$limit", Value: int32(1)}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int32(2), mustGet(out[0], "v"))

	e := NewEngine()
	e.Insert(ns("d", "c"), in, true)
	found := e.Find(ns("d", "c"),
		bsonkit.Doc{{Key: "v", Value: bsonkit.Doc{{Key: "$gte", Value: int32(1)}}}},
		FindOptions{Sort: bsonkit.Doc{{Key: "v", Value: int32(1)}}, Skip: 1, Limit: 1})
	require.Len(t, found, 1)
	assert.True(t, bsonkit.DeepEqual(out[0], found[0]))
}

func TestAggregateFacetIsolatesSubPipelines(t *testing.T) {
	in := []bsonkit.Doc{
		{{Key: "_id", Value: int32(1)}, {Key: "v", Value: int32(1)}},
		{{Key: "_id", Value: int32(2)}, {Key: "v", Value: int32(2)}},
	}
	out, err := Aggregate(in, []bsonkit.Doc{
		{{Key: "$facet", Value: bsonkit.Doc{
			{Key: "all", Value: bson.A{}},
			{Key: "first", Value: bson.A{bsonkit.Doc{{Key: "$limit", Value: int32(1)}}}},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	all, ok := mustGet(out[0], "all").(bson.A)
	require.True(t, ok)
	assert.Len(t, all, 2)
	first, ok := mustGet(out[0], "first").(bson.A)
	require.True(t, ok)
	assert.Len(t, first, 1)
}
