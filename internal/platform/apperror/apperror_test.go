package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("bad %s", "date"), KindValidation},
		{"wrapped not found", fmt.Errorf("lookup: %w", NotFound("doctor not found")), KindNotFound},
		{"conflict", Conflict("slot taken"), KindConflict},
		{"transition", InvalidTransition("terminal"), KindInvalidTransition},
		{"plain error", errors.New("connection reset"), KindDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(KindInvalidTransition))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindDependency))
}

func TestPublicMessage_HidesDependencyDetail(t *testing.T) {
	err := Dependency("insert appointment", errors.New("pq: password authentication failed for user hms"))
	assert.Equal(t, GenericDependencyMessage, PublicMessage(err))
	assert.Equal(t, GenericDependencyMessage, PublicMessage(errors.New("raw driver error")))
	assert.Equal(t, "slot taken", PublicMessage(Conflict("slot taken")))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Dependency("commit", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}
