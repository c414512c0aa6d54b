package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_UnwrapsWrappedError(t *testing.T) {
	base := New(NotFound, "job missing")
	wrapped := fmt.Errorf("context: %w", base)
	assert.Equal(t, NotFound, KindOf(wrapped))
}

func TestKindOf_DefaultsToInternalForUnclassified(t *testing.T) {
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("db closed")
	err := Wrap(Db, "insert failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "db closed")
}

func TestValidationfConflictfNotFoundf_SetKindAndMessage(t *testing.T) {
	v := Validationf("bad field %s", "priority")
	assert.Equal(t, Validation, v.Kind)
	assert.Contains(t, v.Msg, "priority")

	c := Conflictf("job %s already exists", "job-1")
	assert.Equal(t, Conflict, c.Kind)

	nf := NotFoundf("job %s", "job-2")
	assert.Equal(t, NotFound, nf.Kind)
}
