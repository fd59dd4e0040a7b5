package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvusdb/corvus/internal/types"
)

func TestMatchSimpleEquality(t *testing.T) {
	doc := types.Document{"_id": "a", "name": "Ada", "age": float64(30)}
	assert.True(t, Match(doc, map[string]interface{}{"name": "Ada"}))
	assert.False(t, Match(doc, map[string]interface{}{"name": "Bob"}))
}

func TestMatchComparisonOperators(t *testing.T) {
	doc := types.Document{"age": float64(30)}
	assert.True(t, Match(doc, map[string]interface{}{"age": map[string]interface{}{"$gt": float64(20)}}))
	assert.False(t, Match(doc, map[string]interface{}{"age": map[string]interface{}{"$lt": float64(20)}}))
	assert.True(t, Match(doc, map[string]interface{}{"age": map[string]interface{}{"$gte": float64(30)}}))
}

func TestMatchInAndNin(t *testing.T) {
	doc := types.Document{"tag": "blue"}
	assert.True(t, Match(doc, map[string]interface{}{"tag": map[string]interface{}{"$in": []interface{}{"red", "blue"}}}))
	assert.False(t, Match(doc, map[string]interface{}{"tag": map[string]interface{}{"$nin": []interface{}{"red", "blue"}}}))
}

func TestMatchExists(t *testing.T) {
	doc := types.Document{"a": 1.0}
	assert.True(t, Match(doc, map[string]interface{}{"a": map[string]interface{}{"$exists": true}}))
	assert.True(t, Match(doc, map[string]interface{}{"b": map[string]interface{}{"$exists": false}}))
	assert.False(t, Match(doc, map[string]interface{}{"b": map[string]interface{}{"$exists": true}}))
}

func TestMatchLogicalOperators(t *testing.T) {
	doc := types.Document{"age": float64(30), "name": "Ada"}

	and := map[string]interface{}{"$and": []interface{}{
		map[string]interface{}{"age": map[string]interface{}{"$gt": float64(20)}},
		map[string]interface{}{"name": "Ada"},
	}}
	assert.True(t, Match(doc, and))

	or := map[string]interface{}{"$or": []interface{}{
		map[string]interface{}{"name": "Bob"},
		map[string]interface{}{"name": "Ada"},
	}}
	assert.True(t, Match(doc, or))

	nor := map[string]interface{}{"$nor": []interface{}{
		map[string]interface{}{"name": "Bob"},
	}}
	assert.True(t, Match(doc, nor))
}

func TestMatchRegexAndSize(t *testing.T) {
	doc := types.Document{"name": "Adaline", "tags": []interface{}{"a", "b"}}
	assert.True(t, Match(doc, map[string]interface{}{"name": map[string]interface{}{"$regex": "^Ada"}}))
	assert.True(t, Match(doc, map[string]interface{}{"tags": map[string]interface{}{"$size": float64(2)}}))
}

func TestMatchMod(t *testing.T) {
	doc := types.Document{"n": float64(10)}
	assert.True(t, Match(doc, map[string]interface{}{"n": map[string]interface{}{"$mod": []interface{}{float64(5), float64(0)}}}))
	assert.False(t, Match(doc, map[string]interface{}{"n": map[string]interface{}{"$mod": []interface{}{float64(3), float64(0)}}}))
}

func TestConjunctiveMatchEmptySelectorMatchesAll(t *testing.T) {
	doc := types.Document{"_id": "a"}
	assert.True(t, conjunctiveMatch(doc, map[string]interface{}{}))
}

func TestConjunctiveMatchRequiresEveryKey(t *testing.T) {
	doc := types.Document{"_id": "a", "name": "Ada"}
	assert.True(t, conjunctiveMatch(doc, map[string]interface{}{"name": "Ada", "_id": "a"}))
	assert.False(t, conjunctiveMatch(doc, map[string]interface{}{"name": "Bob"}))
}

func TestConjunctiveMatchIsTyped(t *testing.T) {
	doc := types.Document{"age": "20", "active": true, "n": float64(20)}
	assert.False(t, conjunctiveMatch(doc, map[string]interface{}{"age": float64(20)}))
	assert.False(t, conjunctiveMatch(doc, map[string]interface{}{"active": "true"}))
	assert.True(t, conjunctiveMatch(doc, map[string]interface{}{"age": "20"}))
	assert.True(t, conjunctiveMatch(doc, map[string]interface{}{"n": float64(20)}))
}
