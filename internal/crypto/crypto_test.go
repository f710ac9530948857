package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealIsBoundToOwner(t *testing.T) {
	a, err := New(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	sealed, err := a.Seal("hunter2", "user-1")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	got, err := a.Open(sealed, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	_, err = a.Open(sealed, "user-2")
	assert.Error(t, err)
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}
