package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	err := New(KindNotFound, "session %s not found", "abc")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "session abc not found", err.Error())

	wrapped := fmt.Errorf("handler: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindInternal, nil))
}

func TestStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:          http.StatusNotFound,
		KindInvalidRequest:    http.StatusBadRequest,
		KindUnauthorized:      http.StatusUnauthorized,
		KindSessionGone:       http.StatusConflict,
		KindConflict:          http.StatusConflict,
		KindRemoteUnavailable: http.StatusServiceUnavailable,
		KindSpawnFailed:       http.StatusInternalServerError,
		KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, Status(New(kind, "x")), string(kind))
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindSpawnFailed, cause)
	assert.True(t, errors.Is(err, cause))
}
