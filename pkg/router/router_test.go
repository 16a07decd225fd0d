package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhy0216/toolbox/pkg/config"
	"github.com/zhy0216/toolbox/pkg/logging"
	"github.com/zhy0216/toolbox/pkg/memory"
	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

// fakeTool is a configurable tool for dispatch tests.
type fakeTool struct {
	name  string
	sch   schema.Schema
	fn    func(ctx context.Context, args map[string]any) *types.ToolResult
	calls atomic.Int32
}

func (f *fakeTool) Name() string          { return f.name }
func (f *fakeTool) Kind() types.Kind      { return types.KindFunction }
func (f *fakeTool) Description() string   { return "fake " + f.name }
func (f *fakeTool) Schema() schema.Schema { return f.sch }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) *types.ToolResult {
	f.calls.Add(1)
	return f.fn(ctx, args)
}

// sleepyTool echoes its "echo" argument after "delay_ms".
func sleepyTool() *fakeTool {
	return &fakeTool{
		name: "sleepy",
		sch: schema.New(
			schema.Param{Name: "echo", Type: schema.String, Required: true},
			schema.Param{Name: "delay_ms", Type: schema.Integer},
		),
		fn: func(ctx context.Context, args map[string]any) *types.ToolResult {
			delay, _ := args["delay_ms"].(float64)
			select {
			case <-time.After(time.Duration(delay) * time.Millisecond):
			case <-ctx.Done():
				return types.PartialResult("", "interrupted")
			}
			return types.NewToolResult(args["echo"].(string))
		},
	}
}

func newTestRouter(cfg Config, opts ...Option) *Router {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(cfg, opts...)
}

func call(id, name string, args map[string]any) types.CallRequest {
	return types.CallRequest{ID: id, Name: name, Arguments: args}
}

func TestBuildRegistryOrder(t *testing.T) {
	store, err := memory.Open(filepath.Join(t.TempDir(), "mem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	all := config.Capabilities{Interpreter: true, Editor: true, GUI: true, Test: true, Memory: true, Web: true}
	r := newTestRouter(Config{Capabilities: all}, WithFactories(DefaultFactories(Environment{WorkDir: t.TempDir(), Memory: store})))

	reg, err := r.BuildRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "edit", "computer", "test", "memory", "web"}, reg.Names())

	r = newTestRouter(Config{Capabilities: config.Capabilities{Test: true, Interpreter: true}})
	reg, err = r.BuildRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "test"}, reg.Names())
}

func TestBuildRegistryConfigurationErrors(t *testing.T) {
	t.Run("memory without store", func(t *testing.T) {
		r := newTestRouter(Config{Capabilities: config.Capabilities{Memory: true}})
		_, err := r.BuildRegistry()
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrConfiguration))
	})

	t.Run("duplicate name", func(t *testing.T) {
		dup := &fakeTool{name: "test", fn: func(context.Context, map[string]any) *types.ToolResult { return nil }}
		r := newTestRouter(Config{Capabilities: config.Capabilities{Test: true}}, WithTools(dup))
		_, err := r.RunTurn(context.Background(), []types.CallRequest{call("1", "test", nil)})
		require.Error(t, err)
		var cfgErr *types.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "test", cfgErr.Tool)
		assert.Equal(t, int32(0), dup.calls.Load())
	})

	t.Run("factory failure", func(t *testing.T) {
		r := newTestRouter(Config{Capabilities: config.Capabilities{GUI: true}}, WithFactories(Factories{
			GUI: func() (types.Tool, error) { return nil, errors.New("no display") },
		}))
		_, err := r.Descriptors()
		assert.ErrorContains(t, err, "no display")
	})
}

func TestDescriptorsFamily(t *testing.T) {
	caps := config.Capabilities{Test: true}

	structured, err := newTestRouter(Config{Capabilities: caps, Family: schema.Structured}).Descriptors()
	require.NoError(t, err)
	require.Len(t, structured, 1)
	assert.Equal(t, "test", structured[0].Name)

	generic, err := newTestRouter(Config{Capabilities: caps}).Descriptors()
	require.NoError(t, err)
	require.Len(t, generic, 1)
	assert.Empty(t, generic[0].Name)
	assert.Equal(t, structured[0].Function, generic[0].Function)
}

func TestRunTurnTestTool(t *testing.T) {
	r := newTestRouter(Config{Capabilities: config.Capabilities{Test: true}}, WithIDGenerator(func() string { return "turn-1" }))

	out, err := r.RunTurn(context.Background(), []types.CallRequest{
		call("a", "test", map[string]any{"function_name": "test1"}),
		call("b", "test", map[string]any{"function_name": "test2", "user_name": "Ada"}),
		call("c", "test", map[string]any{"function_name": "test2"}),
		call("d", "test", map[string]any{"function_name": "test2", "user_name": ""}),
		call("e", "test", map[string]any{"function_name": "test3"}),
		call("f", "test", map[string]any{"function_name": "test4"}),
		call("g", "test", map[string]any{}),
	})
	require.NoError(t, err)
	assert.Equal(t, "turn-1", out.TurnID)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g"}, out.IDs())

	want := []string{"hello world", "hello Ada", "hello user", "hello user", "goodbye"}
	for i, w := range want {
		assert.False(t, out.Results[i].Result.IsError(), out.Results[i].Result.Error)
		assert.Equal(t, w, out.Results[i].Result.Output)
	}
	assert.True(t, strings.HasPrefix(out.Results[5].Result.Error, "Invalid arguments for test: field function_name: expected one of"))
	assert.Equal(t, "Invalid arguments for test: missing required field: function_name", out.Results[6].Result.Error)
}

func TestRunTurnUnknownAndInvalid(t *testing.T) {
	tool := sleepyTool()
	r := newTestRouter(Config{}, WithTools(tool))

	out, err := r.RunTurn(context.Background(), []types.CallRequest{
		call("1", "nope", nil),
		call("2", "sleepy", map[string]any{"delay_ms": float64(1)}),
		call("3", "sleepy", map[string]any{"echo": 42}),
		call("4", "sleepy", map[string]any{"echo": "ok"}),
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 4)
	assert.Equal(t, "Unknown tool: nope", out.Results[0].Result.Error)
	assert.Equal(t, "Invalid arguments for sleepy: missing required field: echo", out.Results[1].Result.Error)
	assert.Equal(t, "Invalid arguments for sleepy: field echo: expected string but got int", out.Results[2].Result.Error)
	assert.Equal(t, "ok", out.Results[3].Result.Output)
	assert.Equal(t, int32(1), tool.calls.Load())
}

func TestRunTurnPreservesOrder(t *testing.T) {
	r := newTestRouter(Config{}, WithTools(sleepyTool()))

	var calls []types.CallRequest
	for i := 0; i < 6; i++ {
		calls = append(calls, call(fmt.Sprintf("call-%d", i), "sleepy", map[string]any{
			"echo":     fmt.Sprintf("out-%d", i),
			"delay_ms": float64((6 - i) * 15),
		}))
	}

	out, err := r.RunTurn(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, out.Results, 6)
	for i, res := range out.Results {
		assert.Equal(t, fmt.Sprintf("call-%d", i), res.ID)
		assert.Equal(t, "sleepy", res.Name)
		assert.Equal(t, fmt.Sprintf("out-%d", i), res.Result.Output)
	}
}

func TestRunTurnEmpty(t *testing.T) {
	out, err := newTestRouter(Config{}).RunTurn(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
}

func TestRunTurnRecoversFaults(t *testing.T) {
	boom := &fakeTool{name: "boom", fn: func(context.Context, map[string]any) *types.ToolResult { panic("kaboom") }}
	silent := &fakeTool{name: "silent", fn: func(context.Context, map[string]any) *types.ToolResult { return nil }}
	r := newTestRouter(Config{Capabilities: config.Capabilities{Test: true}}, WithTools(boom, silent))

	out, err := r.RunTurn(context.Background(), []types.CallRequest{
		call("1", "boom", nil),
		call("2", "test", map[string]any{"function_name": "test3"}),
		call("3", "silent", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, "Tool execution error in boom: panic: kaboom", out.Results[0].Result.Error)
	assert.Equal(t, "goodbye", out.Results[1].Result.Output)
	assert.Equal(t, "Tool execution error in silent: tool returned no result", out.Results[2].Result.Error)
}

func TestRunTurnIsolatesArguments(t *testing.T) {
	mutator := &fakeTool{name: "mutator", fn: func(_ context.Context, args map[string]any) *types.ToolResult {
		args["added"] = true
		if list, ok := args["list"].([]any); ok {
			list[0] = "changed"
		}
		return types.NewToolResult("done")
	}}
	r := newTestRouter(Config{}, WithTools(mutator))

	args := map[string]any{"list": []any{"original"}}
	_, err := r.RunTurn(context.Background(), []types.CallRequest{call("1", "mutator", args), call("2", "mutator", args)})
	require.NoError(t, err)
	assert.NotContains(t, args, "added")
	assert.Equal(t, []any{"original"}, args["list"])
}

func TestRunTurnCancellation(t *testing.T) {
	release := make(chan struct{})
	var lateOnce sync.Once
	stubborn := &fakeTool{name: "stubborn", fn: func(context.Context, map[string]any) *types.ToolResult {
		<-release
		return types.NewToolResult("too late")
	}}
	r := newTestRouter(Config{GracePeriod: 100 * time.Millisecond}, WithTools(stubborn, sleepyTool()))
	t.Cleanup(func() { lateOnce.Do(func() { close(release) }) })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	out, err := r.RunTurn(ctx, []types.CallRequest{
		call("fast", "sleepy", map[string]any{"echo": "quick"}),
		call("stuck", "stubborn", nil),
		call("coop", "sleepy", map[string]any{"echo": "slow", "delay_ms": float64(10000)}),
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Equal(t, []string{"fast", "stuck", "coop"}, out.IDs())
	assert.Equal(t, "quick", out.Results[0].Result.Output)
	assert.Equal(t, "Tool call cancelled: context canceled", out.Results[1].Result.Error)
	assert.Equal(t, "interrupted", out.Results[2].Result.Error)

	// A result arriving after the turn returned is dropped.
	lateOnce.Do(func() { close(release) })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "Tool call cancelled: context canceled", out.Results[1].Result.Error)
	assert.Equal(t, int32(1), stubborn.calls.Load())
}

func TestRunTurnTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stubborn := &fakeTool{name: "stubborn", fn: func(context.Context, map[string]any) *types.ToolResult {
		<-release
		return types.NewToolResult("never")
	}}
	r := newTestRouter(Config{TurnTimeout: 50 * time.Millisecond, GracePeriod: 50 * time.Millisecond}, WithTools(stubborn))

	out, err := r.RunTurn(context.Background(), []types.CallRequest{call("1", "stubborn", nil), call("2", "stubborn", nil)})
	require.NoError(t, err)
	for _, res := range out.Results {
		assert.Equal(t, "Tool call timed out after 50ms", res.Result.Error)
	}
}

func TestRunTurnAlreadyCancelled(t *testing.T) {
	tool := sleepyTool()
	r := newTestRouter(Config{GracePeriod: 10 * time.Millisecond, MaxParallel: 1}, WithTools(tool))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := r.RunTurn(ctx, []types.CallRequest{
		call("1", "sleepy", map[string]any{"echo": "a"}),
		call("2", "nope", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, "Tool call cancelled: context canceled", out.Results[0].Result.Error)
	assert.Equal(t, "Unknown tool: nope", out.Results[1].Result.Error)
	assert.Equal(t, int32(0), tool.calls.Load())
}

func TestRunTurnMaxParallel(t *testing.T) {
	var running, peak atomic.Int32
	tracked := &fakeTool{name: "tracked", fn: func(context.Context, map[string]any) *types.ToolResult {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return types.NewToolResult("ok")
	}}
	r := newTestRouter(Config{MaxParallel: 2}, WithTools(tracked))

	calls := make([]types.CallRequest, 6)
	for i := range calls {
		calls[i] = call(fmt.Sprint(i), "tracked", nil)
	}
	out, err := r.RunTurn(context.Background(), calls)
	require.NoError(t, err)
	assert.Len(t, out.Results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(6), tracked.calls.Load())
}

func TestRunTurnEvents(t *testing.T) {
	emitter := types.NewEventEmitter()
	var mu sync.Mutex
	counts := map[types.EventType]int{}
	emitter.Subscribe(func(e types.Event) {
		mu.Lock()
		defer mu.Unlock()
		counts[e.Type]++
	})

	r := newTestRouter(Config{Capabilities: config.Capabilities{Test: true}}, WithEmitter(emitter))
	_, err := r.RunTurn(context.Background(), []types.CallRequest{
		call("1", "test", map[string]any{"function_name": "test1"}),
		call("2", "missing", nil),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts[types.EventTurnStart])
	assert.Equal(t, 1, counts[types.EventToolStart])
	assert.Equal(t, 2, counts[types.EventToolEnd])
	assert.Equal(t, 1, counts[types.EventTurnEnd])
}
