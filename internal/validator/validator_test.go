package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
	"github.com/corvusdb/corvus/internal/types"
)

func TestEnsureIDAssignsWhenMissing(t *testing.T) {
	doc := EnsureID(types.Document{"name": "A"})
	assert.NotEmpty(t, doc.ID())
}

func TestEnsureIDPreservesExisting(t *testing.T) {
	doc := EnsureID(types.Document{"_id": "fixed", "name": "A"})
	assert.Equal(t, "fixed", doc.ID())
}

func TestValidateRejectsDuplicateUniqueField(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.CreateUniqueIndex("users", "email"))

	doc1 := types.Document{"_id": "a", "email": "x@y"}
	require.NoError(t, v.Validate("users", doc1, false, nil))

	doc2 := types.Document{"_id": "b", "email": "x@y"}
	err := v.Validate("users", doc2, false, nil)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.KindValidationError))
	assert.Contains(t, err.Error(), "email")
}

func TestValidateUpdateSkipsUnchangedValue(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.CreateUniqueIndex("users", "email"))

	doc := types.Document{"_id": "a", "email": "x@y"}
	require.NoError(t, v.Validate("users", doc, false, nil))

	updated := types.Document{"_id": "a", "email": "x@y", "name": "changed"}
	require.NoError(t, v.Validate("users", updated, true, doc))
}

func TestValidateUpdateToNewDuplicateValueFails(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.CreateUniqueIndex("users", "email"))

	a := types.Document{"_id": "a", "email": "a@x"}
	b := types.Document{"_id": "b", "email": "b@x"}
	require.NoError(t, v.Validate("users", a, false, nil))
	require.NoError(t, v.Validate("users", b, false, nil))

	bUpdated := types.Document{"_id": "b", "email": "a@x"}
	err := v.Validate("users", bUpdated, true, b)
	require.Error(t, err)
}

func TestRemoveFromIndexesFreesValueForReuse(t *testing.T) {
	v := New(t.TempDir())
	require.NoError(t, v.CreateUniqueIndex("users", "email"))

	doc := types.Document{"_id": "a", "email": "x@y"}
	require.NoError(t, v.Validate("users", doc, false, nil))
	require.NoError(t, v.RemoveFromIndexes("users", doc))

	doc2 := types.Document{"_id": "b", "email": "x@y"}
	require.NoError(t, v.Validate("users", doc2, false, nil))
}
