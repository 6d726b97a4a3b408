package helper

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUID(t *testing.T) {
	t.Run("ShouldReturnDistinctValidIDs", func(t *testing.T) {
		a, err := GenerateUUID()
		require.NoError(t, err)
		b, err := GenerateUUID()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
		_, err = uuid.Parse(a)
		assert.NoError(t, err)
	})
}

func TestPrettyPrint(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrint(&buf, map[string]int{"chunks": 3})
	assert.Equal(t, "{\n  \"chunks\": 3\n}\n", buf.String())
}

func TestCreateFolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.NoError(t, CreateFolder(path))
}
