package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/jongodb/jongodb/internal/bsonkit"
)

func TestMatchScalarEqualityAgainstArray(t *testing.T) {
	doc := bsonkit.Doc{{Key: "tags", Value: bson.A{"a", "b"}}}
	assert.True(t, matches(doc, bsonkit.Doc{{Key: "tags", Value: "a"}}))
	assert.False(t, matches(doc, bsonkit.Doc{{Key: "tags", Value: "z"}}))
}

func TestMatchArrayFilterRequiresWholeValueEquality(t *testing.T) {
	doc := bsonkit.Doc{{Key: "tags", Value: bson.A{"a", "b"}}}
	assert.True(t, matches(doc, bsonkit.Doc{{Key: "tags", Value: bson.A{"a", "b"}}}))
	assert.False(t, matches(doc, bsonkit.Doc{{Key: "tags", Value: bson.A{"a"}}}))
}

func TestMatchComparisonOperators(t *testing.T) {
	doc := bsonkit.Doc{{Key: "v", Value: int32(5)}}
	assert.True(t, matches(doc, bsonkit.Doc{{Key: "v", Value: bsonkit.Doc{{Key: "$gte", Value: int32(5)}}}}))
	assert.False(t, matches(doc, bsonkit.Doc{{Key: "v", Value: bsonkit.Doc{{Key: "$gt", Value: int32(5)}}}}))
	assert.True(t, matches(doc, bsonkit.Doc{{Key: "v", Value: bsonkit.Doc{{Key: "$in", Value: bson.A{int32(1), int32(5)}}}}}))
}

func TestMatchNonFiniteDoublesNeverCompareEqual(t *testing.T) {
	doc := bsonkit.Doc{{Key: "v", Value: math.NaN()}}
	assert.False(t, matches(doc, bsonkit.Doc{{Key: "v", Value: math.NaN()}}))
	assert.False(t, matches(doc, bsonkit.Doc{{Key: "v", Value: bsonkit.Doc{{Key: "$gt", Value: int32(0)}}}}))
}

func TestMatchLogicalCombinators(t *testing.T) {
	doc := bsonkit.Doc{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(2)}}
	assert.True(t, matches(doc, bsonkit.Doc{{Key: "$and", Value: bson.A{
		bsonkit.Doc{{Key: "a", Value: int32(1)}},
		bsonkit.Doc{{Key: "b", Value: int32(2)}},
	}}}))
	assert.False(t, matches(doc, bsonkit.Doc{{Key: "$and", Value: bson.A{
		bsonkit.Doc{{Key: "a", Value: int32(1)}},
		bsonkit.Doc{{Key: "b", Value: int32(9)}},
	}}}))
	assert.True(t, matches(doc, bsonkit.Doc{{Key: "$or", Value: bson.A{
		bsonkit.Doc{{Key: "a", Value: int32(9)}},
		bsonkit.Doc{{Key: "b", Value: int32(2)}},
	}}}))
}

func TestMatchExists(t *testing.T) {
	doc := bsonkit.Doc{{Key: "a", Value: int32(1)}}
	assert.True(t, matches(doc, bsonkit.Doc{{Key: "a", Value: bsonkit.Doc{{Key: "$exists", Value: true}}}}))
	assert.True(t, matches(doc, bsonkit.Doc{{Key: "b", Value: bsonkit.Doc{{Key: "$exists", Value: false}}}}))
}
