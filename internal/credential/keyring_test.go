package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVault(t *testing.T) {
	v := NewMemory()

	_, err := v.Get(KeySessionToken)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.Set(KeySessionToken, "abc"))
	got, err := v.Get(KeySessionToken)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	require.NoError(t, v.Set(KeySessionToken, "def"))
	got, err = v.Get(KeySessionToken)
	require.NoError(t, err)
	assert.Equal(t, "def", got)

	require.NoError(t, v.Delete(KeySessionToken))
	require.NoError(t, v.Delete(KeySessionToken))
	_, err = v.Get(KeySessionToken)
	assert.ErrorIs(t, err, ErrNotFound)
}
