package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
}

func TestIsThroughStdlibWrapping(t *testing.T) {
	sentinel := New("sentinel")
	wrapped := fmt.Errorf("outer: %w", sentinel)

	assert.True(t, Is(wrapped, sentinel))
}

func TestWithDetail(t *testing.T) {
	err := New("base")
	err = WithDetail(err, "detail one")
	err = WithDetail(err, "detail two")

	details := GetAllDetails(err)
	assert.Contains(t, details, "detail one")
	assert.Contains(t, details, "detail two")
}
