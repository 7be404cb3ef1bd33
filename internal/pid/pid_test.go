package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readPID(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	return pid
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), pidFile)

	require.NoError(t, WriteFile(path))
	assert.Equal(t, os.Getpid(), readPID(t, path))

	require.NoError(t, RemoveFile(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileAlreadyRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), pidFile)
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600))

	err := WriteFile(path)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteFileReplacesStale(t *testing.T) {
	for name, content := range map[string]string{
		"dead process": "99999999",
		"garbage":      "not a pid",
		"empty":        "",
		"negative":     "-4",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), pidFile)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			require.NoError(t, WriteFile(path))
			assert.Equal(t, os.Getpid(), readPID(t, path))
		})
	}
}

func TestRemoveFileMissing(t *testing.T) {
	assert.NoError(t, RemoveFile(filepath.Join(t.TempDir(), "missing.pid")))
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join(os.TempDir(), "cpuwatt.pid"), Path())
}
