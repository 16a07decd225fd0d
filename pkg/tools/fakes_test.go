package tools

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/zhy0216/toolbox/pkg/ops"
)

// fakeExecOps records commands and replies from a script keyed by the
// command line.
type fakeExecOps struct {
	mu       sync.Mutex
	calls    []ops.Command
	replies  map[string]ops.Output
	err      error
	missing  map[string]bool
	fallback ops.Output
}

func newFakeExecOps() *fakeExecOps {
	return &fakeExecOps{replies: map[string]ops.Output{}, missing: map[string]bool{}}
}

func (f *fakeExecOps) on(cmdline string, out ops.Output) *fakeExecOps {
	f.replies[cmdline] = out
	return f
}

func (f *fakeExecOps) Run(ctx context.Context, cmd ops.Command) (ops.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if f.err != nil {
		return ops.Output{ExitCode: -1}, f.err
	}
	if out, ok := f.replies[cmdLine(cmd)]; ok {
		return out, nil
	}
	return f.fallback, nil
}

func (f *fakeExecOps) LookPath(file string) (string, error) {
	if f.missing[file] {
		return "", errors.New("not found")
	}
	return "/usr/bin/" + file, nil
}

func (f *fakeExecOps) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = cmdLine(c)
	}
	return out
}

func cmdLine(c ops.Command) string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}
