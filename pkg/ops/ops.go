package ops

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Wait blocks on pipes still held by orphaned
// children once the process has been killed.
const waitDelay = 500 * time.Millisecond

// FileOps abstracts the filesystem calls made by the editor tool.
type FileOps interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
}

// Command describes one process invocation.
type Command struct {
	Name  string
	Args  []string
	Env   []string // nil inherits the parent environment
	Dir   string
	Stdin io.Reader
}

// Output is what a finished process produced. Stdout is kept as bytes so
// binary producers (screenshots) survive untouched.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Combined returns stdout followed by stderr, trimmed of trailing newlines.
func (o Output) Combined() string {
	var b strings.Builder
	b.Write(o.Stdout)
	if len(o.Stderr) > 0 {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.Write(o.Stderr)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExecOps abstracts command execution for testability.
type ExecOps interface {
	// Run executes cmd. A non-zero exit is reported through Output.ExitCode
	// with a nil error; err is non-nil only for system-level failures such
	// as a missing binary or a cancelled context.
	Run(ctx context.Context, cmd Command) (Output, error)
	// LookPath searches for an executable in PATH.
	LookPath(file string) (string, error)
}

// RealFileOps implements FileOps using the real filesystem.
type RealFileOps struct{}

func (RealFileOps) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }
func (RealFileOps) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
func (RealFileOps) Stat(path string) (os.FileInfo, error)        { return os.Stat(path) }
func (RealFileOps) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (RealFileOps) ReadDir(path string) ([]os.DirEntry, error)   { return os.ReadDir(path) }

// RealExecOps implements ExecOps using os/exec.
type RealExecOps struct{}

func (RealExecOps) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (RealExecOps) Run(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	if c.Env != nil {
		cmd.Env = c.Env
	}
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	out := Output{Stdout: stdoutBuf.Bytes(), Stderr: stderrBuf.Bytes()}
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.ExitCode = -1
	return out, err
}
