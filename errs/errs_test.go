package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesKind(t *testing.T) {
	err := New(InodeNotFound)
	assert.Equal(t, InodeNotFound, err.Kind())
	assert.EqualValues(t, InodeNotFound, err.Error())
}

func TestWithMessageAppendsDetail(t *testing.T) {
	err := InodeNameTooLarge.WithMessage("127 bytes max")
	assert.Contains(t, err.Error(), "127 bytes max")
	assert.Equal(t, InodeNameTooLarge, err.Kind())
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("disk I/O failed")
	err := FileAccessFailed.WrapError(cause)
	assert.Equal(t, cause, err.Unwrap())
	assert.Contains(t, err.Error(), cause.Error())
}

func TestIsMatchesKind(t *testing.T) {
	err := New(DiskNotMounted)
	assert.True(t, Is(err, DiskNotMounted))
	assert.False(t, Is(err, Corrupt))
}

func TestIsFalseForNonDriverError(t *testing.T) {
	assert.False(t, Is(errors.New("plain error"), Corrupt))
}
