package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	names, err := fs.Glob(Migrations, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"00001_files.sql",
		"00002_file_associations.sql",
		"00003_file_versions.sql",
	}, names)

	for _, n := range names {
		b, err := fs.ReadFile(Migrations, n)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(b), "-- +goose Up"), n)
		assert.True(t, strings.Contains(string(b), "-- +goose Down"), n)
	}
}

func TestMigrations_ContentHashIndexIsPartial(t *testing.T) {
	b, err := fs.ReadFile(Migrations, "00001_files.sql")
	require.NoError(t, err)
	assert.Contains(t, string(b), "WHERE NOT is_folder AND content_hash IS NOT NULL")
}
