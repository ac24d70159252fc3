package chunkerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageFormatting(t *testing.T) {
	withChunk := NewChunk(ErrHashMismatch, "abc123", 4, "sha256 mismatch")
	assert.Equal(t, "chunkerr: upload abc123 chunk 4: sha256 mismatch", withChunk.Error())

	withoutChunk := New(ErrSessionMissing, "abc123", "expired")
	assert.Equal(t, "chunkerr: upload abc123: expired", withoutChunk.Error())
}

func TestError_UnwrapAndIs(t *testing.T) {
	err := NewChunk(ErrHashMismatch, "abc123", 0, "mismatch")

	assert.True(t, errors.Is(err, ErrHashMismatch))
	assert.False(t, errors.Is(err, ErrWriteFailure))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrBadSignature, http.StatusUnauthorized},
		{ErrMalformedRequest, http.StatusUnprocessableEntity},
		{ErrInvalidUploadID, http.StatusUnprocessableEntity},
		{ErrSessionMissing, http.StatusNotFound},
		{ErrHashMismatch, http.StatusConflict},
		{ErrSizeExceeded, http.StatusRequestEntityTooLarge},
		{ErrWriteFailure, http.StatusInternalServerError},
		{ErrValidationFailure, http.StatusInternalServerError},
		{ErrUnsupportedBackend, http.StatusInternalServerError},
		{errors.New("unrecognized"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(NewChunk(tt.err, "u", 0, "x")))
		})
	}
}

func TestStatusCode_WrappedError(t *testing.T) {
	wrapped := NewChunk(ErrHashMismatch, "u", 1, "wrapped")
	assert.Equal(t, http.StatusConflict, StatusCode(wrapped))
}
