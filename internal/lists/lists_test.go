package lists

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestOpen_MissingIsEmpty(t *testing.T) {
	s, _ := newStore(t)

	set, err := s.Open(White)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestAppend_DedupsWithinCallAndAgainstFile(t *testing.T) {
	s, dir := newStore(t)

	n, err := s.Append(White, "a@x.com", "b@x.com", "a@x.com", "  ")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Append(White, "b@x.com", "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(dir, "white.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a@x.com\nb@x.com\nc@x.com\n", string(data))

	set, err := s.Open("white.txt")
	require.NoError(t, err)
	assert.True(t, set.Contains("c@x.com"))
	assert.Len(t, set, 3)
}

func TestOpen_ToleratesDuplicateLines(t *testing.T) {
	s, dir := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "black.txt"), []byte("x@y.z\n\nx@y.z\n"), 0o644))

	set, err := s.Open(Black)
	require.NoError(t, err)
	assert.Len(t, set, 1)

	data, err := os.ReadFile(filepath.Join(dir, "black.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x@y.z\n\nx@y.z\n", string(data), "existing duplicates are not compacted")
}

func TestSet_Contains(t *testing.T) {
	set := Set{"Boss@Example.com": {}}
	assert.True(t, set.Contains("Boss@Example.com"))
	assert.False(t, set.Contains("boss@example.com"))
	assert.True(t, set.ContainsFold("boss@example.com"))
	assert.False(t, set.ContainsFold("other@example.com"))
}

func TestInvalidNames(t *testing.T) {
	s, _ := newStore(t)
	for _, name := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, err := s.Open(name)
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestCreateNamesStats(t *testing.T) {
	s, _ := newStore(t)

	require.NoError(t, s.Create("head"))
	require.NoError(t, s.Create("head"))
	_, err := s.Append(Vendor, "shop@store.com", "deals@store.com")
	require.NoError(t, err)

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"head", "vendor"}, names)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"head": 0, "vendor": 2}, stats)
}
