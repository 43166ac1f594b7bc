package database

import (
	"io/fs"
	"regexp"
	"strconv"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_sequence(t *testing.T) {
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	ms, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	for i, m := range ms {
		assert.Equal(t, int64(i+1), m.Version, m.Source)
	}
}

// Cached template totals add up item scores of up to 99.9 each, with no limit on the item count.
func TestMigrations_scoreCacheWidth(t *testing.T) {
	col := regexp.MustCompile(`(?m)^\s*(total_score|max_possible_score)\s+numeric\((\d+),\s*(\d+)\)`)

	found := make(map[string]bool)
	err := fs.WalkDir(migrations, migrationsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		src, err := fs.ReadFile(migrations, path)
		if err != nil {
			return err
		}
		for _, m := range col.FindAllStringSubmatch(string(src), -1) {
			precision, _ := strconv.Atoi(m[2])
			scale, _ := strconv.Atoi(m[3])
			assert.Equal(t, 2, scale, "%s in %s", m[1], path)
			assert.GreaterOrEqual(t, precision-scale, 7, "%s in %s holds too few integer digits", m[1], path)
			found[m[1]] = true
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"total_score": true, "max_possible_score": true}, found)
}
