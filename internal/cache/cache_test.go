package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashedKey(t *testing.T) {
	t.Parallel()

	a := HashedKey("example.com/a b")
	require.True(t, strings.HasPrefix(a, Prefix))
	require.NotContains(t, a, " ")
	require.Len(t, a, len(Prefix)+64)
	require.Equal(t, a, HashedKey("example.com/a b"))
	require.NotEqual(t, a, HashedKey("example.com/a"))
}
