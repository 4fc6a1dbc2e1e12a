package trackdb

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracks.db")
	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		err := RunMigrateCommand(args, path, &out)
		return out.String(), err
	}

	out, err := run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 0 (dirty: false)")

	out, err = run("to", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 1")

	out, err = run("up")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")

	out, err = run("down")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 1")

	// Open migrates the rest of the way.
	db, err := Open(path, "test")
	require.NoError(t, err)
	v, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	require.NoError(t, db.Close())

	out, err = run("help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage: camflow migrate")

	_, err = run()
	assert.Error(t, err)
	_, err = run("sideways")
	assert.Error(t, err)
	_, err = run("to")
	assert.Error(t, err)
	_, err = run("to", "two")
	assert.Error(t, err)
}
