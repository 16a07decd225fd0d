package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealExecOpsRun(t *testing.T) {
	if _, err := (RealExecOps{}).LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ex := RealExecOps{}

	t.Run("success", func(t *testing.T) {
		out, err := ex.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hi"}})
		require.NoError(t, err)
		assert.Equal(t, 0, out.ExitCode)
		assert.Equal(t, "hi\n", string(out.Stdout))
	})

	t.Run("non-zero exit is not an error", func(t *testing.T) {
		out, err := ex.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
		require.NoError(t, err)
		assert.Equal(t, 3, out.ExitCode)
		assert.Equal(t, "oops", out.Combined())
	})

	t.Run("stdin and dir", func(t *testing.T) {
		dir := t.TempDir()
		out, err := ex.Run(context.Background(), Command{
			Name:  "sh",
			Args:  []string{"-c", "cat; pwd"},
			Dir:   dir,
			Stdin: strings.NewReader("piped\n"),
		})
		require.NoError(t, err)
		resolved, _ := filepath.EvalSymlinks(dir)
		assert.Contains(t, string(out.Stdout), "piped")
		assert.True(t, strings.Contains(string(out.Stdout), dir) || strings.Contains(string(out.Stdout), resolved))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		out, err := ex.Run(ctx, Command{Name: "sh", Args: []string{"-c", "sleep 5"}})
		require.Error(t, err)
		assert.Equal(t, -1, out.ExitCode)
	})

	t.Run("missing binary", func(t *testing.T) {
		_, err := ex.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
		assert.Error(t, err)
	})
}

func TestOutputCombined(t *testing.T) {
	assert.Equal(t, "", Output{}.Combined())
	assert.Equal(t, "a", Output{Stdout: []byte("a\n")}.Combined())
	assert.Equal(t, "a\nb", Output{Stdout: []byte("a"), Stderr: []byte("b\n")}.Combined())
	assert.Equal(t, "b", Output{Stderr: []byte("b")}.Combined())
}

func TestRealFileOps(t *testing.T) {
	fs := RealFileOps{}
	dir := filepath.Join(t.TempDir(), "nested")
	require.NoError(t, fs.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "f.txt")
	require.NoError(t, fs.WriteFile(path, []byte("content"), 0o644))

	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size())

	entries, err := fs.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name())

	_, err = fs.Stat(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(err))
}
