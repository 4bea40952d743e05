package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClonedErrorsMatchTheirTemplate(t *testing.T) {
	err := fmt.Errorf("execute revert: %w", Clone(ErrConfirmationInvalid, "confirmation token already used"))

	assert.True(t, errors.Is(err, ErrConfirmationInvalid))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, http.StatusPreconditionFailed, StatusOf(err))
	assert.Equal(t, "confirmation token already used", FromError(err).Message)
}

func TestInternalAndInvalidKeepCause(t *testing.T) {
	internal := Internal(sql.ErrConnDone, "failed to load cursor")
	assert.ErrorIs(t, internal, sql.ErrConnDone)
	assert.True(t, errors.Is(internal, ErrInternal))
	assert.Equal(t, "failed to load cursor: "+sql.ErrConnDone.Error(), internal.Error())

	invalid := Invalid(errors.New("category_id is required"), "invalid revert payload")
	assert.Equal(t, http.StatusBadRequest, invalid.Status)
	assert.True(t, errors.Is(invalid, ErrValidation))
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	assert.Nil(t, FromError(nil))
	assert.Equal(t, http.StatusOK, StatusOf(nil))

	wrapped := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, wrapped.Code)
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}
