package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBatch_Len(t *testing.T) {
	batch := Batch{Groups: []Group{
		{Route: "books", Items: []Item{{}, {}}},
		{Route: "authors", Items: []Item{{}}},
	}}
	assert.Equal(t, 3, batch.Len())
	assert.Zero(t, Batch{}.Len())
}

func TestKindOf(t *testing.T) {
	cause := errors.New("rejected")

	assert.Equal(t, FailureTransient, KindOf(cause))
	assert.Equal(t, FailurePermanent, KindOf(NewItemError(FailurePermanent, cause)))
	assert.Equal(t, FailurePoison, KindOf(fmt.Errorf("wrapped: %w", NewItemError(FailurePoison, cause))))

	assert.True(t, IsPoison(NewItemError(FailurePoison, cause)))
	assert.False(t, IsPoison(NewItemError(FailureTransient, cause)))
	assert.False(t, IsPoison(nil))
}

func TestItemError(t *testing.T) {
	cause := errors.New("too large")
	err := NewItemError(FailurePoison, cause)

	assert.Equal(t, "poison failure: too large", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "transient failure", NewItemError(FailureTransient, nil).Error())
	assert.Equal(t, "FailureKind(9)", FailureKind(9).String())
}

func TestResultHelpers(t *testing.T) {
	id := uuid.New()
	assert.NoError(t, Succeeded(id).Err)

	failed := Failed(id, FailurePermanent, errors.New("bad document"))
	assert.Equal(t, id, failed.EventID)
	assert.Equal(t, FailurePermanent, KindOf(failed.Err))
}
