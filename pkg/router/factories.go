package router

import (
	"net/http"
	"time"

	"github.com/zhy0216/toolbox/pkg/config"
	"github.com/zhy0216/toolbox/pkg/memory"
	"github.com/zhy0216/toolbox/pkg/ops"
	"github.com/zhy0216/toolbox/pkg/tools"
	"github.com/zhy0216/toolbox/pkg/types"
)

// Factory produces the tool behind one capability flag.
type Factory func() (types.Tool, error)

// Static returns a Factory that always hands out t. Tools that keep state
// across turns (editor history, memory store) are shared this way.
func Static(t types.Tool) Factory {
	return func() (types.Tool, error) { return t, nil }
}

// Factories holds one Factory per capability flag. A nil Factory for an
// enabled flag is a configuration error.
type Factories struct {
	Interpreter Factory
	Editor      Factory
	GUI         Factory
	Test        Factory
	Memory      Factory
	Web         Factory
}

// merge returns f with every non-nil field of o applied on top.
func (f Factories) merge(o Factories) Factories {
	pick := func(a, b Factory) Factory {
		if b != nil {
			return b
		}
		return a
	}
	return Factories{
		Interpreter: pick(f.Interpreter, o.Interpreter),
		Editor:      pick(f.Editor, o.Editor),
		GUI:         pick(f.GUI, o.GUI),
		Test:        pick(f.Test, o.Test),
		Memory:      pick(f.Memory, o.Memory),
		Web:         pick(f.Web, o.Web),
	}
}

// capabilitySlot pairs a flag with the tool name it gates and its factory.
type capabilitySlot struct {
	enabled bool
	name    string
	factory Factory
}

// slots lists the capabilities in the fixed evaluation order.
func slots(c config.Capabilities, f Factories) []capabilitySlot {
	return []capabilitySlot{
		{c.Interpreter, "bash", f.Interpreter},
		{c.Editor, "edit", f.Editor},
		{c.GUI, "computer", f.GUI},
		{c.Test, "test", f.Test},
		{c.Memory, "memory", f.Memory},
		{c.Web, "web", f.Web},
	}
}

// Environment carries what the built-in tools need from the host.
type Environment struct {
	WorkDir    string
	AllowedDir string
	Display    string
	Exec       ops.ExecOps
	Files      ops.FileOps
	HTTP       *http.Client
	// Memory backs the memory tool; without it the memory capability
	// cannot be enabled.
	Memory *memory.Store
}

// DefaultFactories builds the built-in tools once from env. Each factory
// returns the same instance every turn.
func DefaultFactories(env Environment) Factories {
	if env.Exec == nil {
		env.Exec = ops.RealExecOps{}
	}
	if env.Files == nil {
		env.Files = ops.RealFileOps{}
	}
	if env.HTTP == nil {
		env.HTTP = &http.Client{Timeout: 60 * time.Second}
	}
	allowed := env.AllowedDir
	if allowed == "" {
		allowed = env.WorkDir
	}

	f := Factories{
		Interpreter: Static(tools.NewBashTool(env.Exec, env.WorkDir)),
		Editor:      Static(tools.NewEditTool(allowed, env.Files)),
		GUI:         Static(tools.NewComputerTool(env.Exec, env.Display)),
		Test:        Static(tools.NewTestTool()),
		Web:         Static(tools.NewWebTool(env.HTTP)),
	}
	if env.Memory != nil {
		f.Memory = Static(memory.NewTool(env.Memory))
	}
	return f
}
