package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateProducesDistinctIdentities(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestLoadOrGeneratePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.key")

	first, err := LoadOrGenerate(path)
	require.NoError(t, err)

	second, err := LoadOrGenerate(path)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
}
