package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore(t *testing.T) {
	s := NewTokenStore(keyring.NewArrayKeyring(nil))

	_, err := s.Token()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetToken("tok-1"))
	got, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got)

	require.NoError(t, s.Forget())
	require.NoError(t, s.Forget())
	_, err = s.Token()
	assert.ErrorIs(t, err, ErrNotFound)
}
