package universe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Instruments.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRead(t *testing.T) {
	ids, err := Read(strings.NewReader("VOD.L\n\n  BARC.L \r\nVOD.L\nHSBA.L"))
	require.NoError(t, err)
	assert.Equal(t, []string{"VOD.L", "BARC.L", "VOD.L", "HSBA.L"}, ids)
}

func TestSynthetic(t *testing.T) {
	assert.Equal(t, []string{"SYN00001.X", "SYN00002.X", "SYN00003.X"}, Synthetic(3))
	assert.Empty(t, Synthetic(0))
	assert.NotNil(t, Synthetic(-1))
}

func TestHead(t *testing.T) {
	ids := []string{"A", "B", "C"}

	tests := []struct {
		size int
		want []string
	}{
		{0, []string{"A", "B", "C"}},
		{-1, []string{"A", "B", "C"}},
		{2, []string{"A", "B"}},
		{3, []string{"A", "B", "C"}},
		{10, []string{"A", "B", "C"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Head(ids, tt.size), "size %d", tt.size)
	}

	head := Head(ids, 2)
	head = append(head, "X")
	assert.Equal(t, "C", ids[2], "appending to a head must not clobber the list")
	assert.Len(t, head, 3)
}

func TestResolve_File(t *testing.T) {
	path := writeFile(t, "A\nB\nC\nD\n")

	ids, err := Resolve(path, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)

	ids, err = Resolve(path, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids)
}

func TestResolve_MissingFileFallsBackToSynthetic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.txt")

	ids, err := Resolve(path, 5)
	require.NoError(t, err)
	assert.Equal(t, Synthetic(5), ids)

	_, err = Resolve(path, 0)
	assert.Error(t, err)
}

func TestResolve_EmptyFile(t *testing.T) {
	path := writeFile(t, "\n\n")

	_, err := Resolve(path, 10)
	assert.ErrorContains(t, err, "is empty")
}
