package storage

import (
	"path/filepath"
	"testing"

	"stressq/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGet(t *testing.T) {
	s := openTemp(t)

	rep := report.Report{Summary: report.Summary{TotalOperations: 33, SuccessRate: 1}}
	saved, err := s.Save(Run{Label: "baseline", Report: rep})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.False(t, saved.Timestamp.IsZero())

	got, err := s.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "baseline", got.Label)
	assert.Equal(t, 33, got.Report.Summary.TotalOperations)
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := openTemp(t)
	var ids []string
	for i := range 3 {
		run, err := s.Save(Run{Report: report.Report{Summary: report.Summary{TotalOperations: i}}})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := s.List()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)
}

func TestRunEntryLabel(t *testing.T) {
	assert.Equal(t, "abc", Run{ID: "abc"}.Entry().Label)
	assert.Equal(t, "named", Run{ID: "abc", Label: "named"}.Entry().Label)
}
