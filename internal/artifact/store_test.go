package artifact

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestPutOpenRoundTrip(t *testing.T) {
	s := newTestStore(t)

	payload := strings.Repeat("archive bytes ", 100)
	n, err := s.Put("job-1", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	rc, size, err := s.Open("job-1")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(len(payload)), size)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestPutLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, err = s.Put("job-1", strings.NewReader("data"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job-1.zip", entries[0].Name())
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Put("job-1", strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, s.Delete("job-1"))
	require.NoError(t, s.Delete("job-1"), "deleting a missing ref is not an error")

	_, _, err = s.Open("job-1")
	require.Error(t, err)
}

func TestListSkipsHiddenEntries(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, err = s.Put("a", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = s.Put("b", strings.NewReader("y"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".put-leftover"), []byte("junk"), 0o644))

	infos, err := s.List()
	require.NoError(t, err)
	refs := make([]string, 0, len(infos))
	for _, info := range infos {
		refs = append(refs, info.Ref)
		assert.False(t, info.ModTime.IsZero())
	}
	assert.ElementsMatch(t, []string{"a", "b"}, refs)
}

func TestRefValidation(t *testing.T) {
	s := newTestStore(t)
	for _, ref := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := s.Put(ref, strings.NewReader("x"))
		assert.Error(t, err, "ref %q must be rejected", ref)
		assert.Error(t, s.Delete(ref))
	}
}
