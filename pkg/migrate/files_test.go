package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okSQL = "-- +goose Up\nCREATE TABLE t (id INTEGER);\n\n-- +goose Down\nDROP TABLE t;\n"

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, ValidateEmbedded())
}

func TestListFSOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"20261002000000_second.sql": {Data: []byte(okSQL)},
		"20261001000000_first.sql":  {Data: []byte(okSQL)},
		"README.md":                 {Data: []byte("notes")},
	}
	files, err := ListFS(fsys)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "first", files[0].Name)
	assert.Equal(t, "20261002000000", files[1].Version)
}

func TestValidateFSReportsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"20261001000000_no_down.sql":    {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		"20261002000000_unbalanced.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")},
		"20261003000000_reversed.sql":   {Data: []byte("-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n")},
	}
	err := ValidateFS(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_down.sql")
	assert.Contains(t, err.Error(), "StatementBegin")
	assert.Contains(t, err.Error(), "Down before Up")
}

func TestValidateFSRejectsBadName(t *testing.T) {
	err := ValidateFS(fstest.MapFS{"create-things.sql": {Data: []byte(okSQL)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid migration filename")
}

func TestCreateWritesTemplateOnce(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	path, err := createAt(dir, "Add Sale Notes!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20261017093000_add_sale_notes.sql"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NoError(t, checkSections(path, string(raw)))
	assert.NoError(t, ValidateDir(dir))

	_, err = createAt(dir, "add sale notes", now)
	assert.ErrorContains(t, err, "already exists")

	_, err = createAt(dir, "!!!", now)
	assert.Error(t, err)
}
