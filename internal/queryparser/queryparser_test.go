package queryparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFind(t *testing.T) {
	stmt, err := Parse(`db.users.find({name: 'John'})`)
	require.NoError(t, err)
	assert.Equal(t, "users", stmt.Collection)
	assert.Equal(t, "find", stmt.Operation)
	assert.Equal(t, "John", stmt.Filter["name"])
}

func TestParseEmptyFind(t *testing.T) {
	stmt, err := Parse(`db.users.find({})`)
	require.NoError(t, err)
	assert.Empty(t, stmt.Filter)
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse(`db.users.insert({name: 'John', age: 30,})`)
	require.NoError(t, err)
	assert.Equal(t, "John", stmt.Document["name"])
	assert.Equal(t, float64(30), stmt.Document["age"])
}

func TestParseUpdate(t *testing.T) {
	stmt, err := Parse(`db.users.update({id: 1}, {$set: {age: 31}})`)
	require.NoError(t, err)
	assert.Equal(t, float64(1), stmt.Filter["id"])
	set, ok := stmt.Update["$set"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(31), set["age"])
}

func TestParseDelete(t *testing.T) {
	stmt, err := Parse(`db.users.delete({id: 1})`)
	require.NoError(t, err)
	assert.Equal(t, float64(1), stmt.Filter["id"])
}

func TestParseCreateIndex(t *testing.T) {
	stmt, err := Parse(`db.users.create_index('email')`)
	require.NoError(t, err)
	assert.Equal(t, "email", stmt.Field)
}

func TestParseMalformedRejected(t *testing.T) {
	_, err := Parse(`not a query`)
	require.Error(t, err)
}

func TestParseCamelCaseMethodNames(t *testing.T) {
	stmt, err := Parse(`db.users.insertMany([{name: 'A'}, {name: 'B'}])`)
	require.NoError(t, err)
	assert.Equal(t, "insert_many", stmt.Operation)
	require.Len(t, stmt.Documents, 2)

	stmt, err = Parse(`db.users.createCollection()`)
	require.NoError(t, err)
	assert.Equal(t, "create_collection", stmt.Operation)

	stmt, err = Parse(`db.users.createIndex({field: 'email'})`)
	require.NoError(t, err)
	assert.Equal(t, "create_index", stmt.Operation)
	assert.Equal(t, "email", stmt.Field)

	stmt, err = Parse(`db.users.dropIndex('email')`)
	require.NoError(t, err)
	assert.Equal(t, "drop_index", stmt.Operation)
	assert.Equal(t, "email", stmt.Field)
}

func TestSplitBatch(t *testing.T) {
	parts := SplitBatch(`db.a.find({}); db.b.insert({x:1}) ;;  `)
	assert.Equal(t, []string{"db.a.find({})", "db.b.insert({x:1})"}, parts)
}
