package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhy0216/toolbox/pkg/ops"
	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
	"github.com/zhy0216/toolbox/pkg/util"
)

// BashTool executes shell commands.
type BashTool struct {
	execOps ops.ExecOps
	workDir string
}

// NewBashTool creates a new BashTool. Commands run in workDir when non-empty.
func NewBashTool(execOps ops.ExecOps, workDir string) *BashTool {
	return &BashTool{execOps: execOps, workDir: workDir}
}

func (t *BashTool) Name() string {
	return "bash"
}

func (t *BashTool) Kind() types.Kind {
	return types.KindCommand
}

func (t *BashTool) Description() string {
	return "Run a shell command and return its output. Stderr is included after stdout; a non-zero exit status is reported as an error."
}

func (t *BashTool) Schema() schema.Schema {
	return schema.New(
		schema.Param{
			Name:        "command",
			Type:        schema.String,
			Required:    true,
			Description: "The shell command to execute",
		},
		schema.Param{
			Name:        "timeout",
			Type:        schema.Integer,
			Default:     types.BashDefaultTimeout,
			Description: fmt.Sprintf("Timeout in seconds (default: %d)", types.BashDefaultTimeout),
		},
	)
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any) *types.ToolResult {
	command, err := util.ExtractString(args, "command")
	if err != nil {
		return types.ErrorResult(err.Error())
	}

	timeout := util.ExtractInt(args, "timeout", types.BashDefaultTimeout)
	if timeout <= 0 {
		return types.ErrorResult("timeout must be a positive number")
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	out, runErr := t.execOps.Run(cmdCtx, ops.Command{
		Name: "/bin/bash",
		Args: []string{"-c", command},
		Env:  util.SanitizeEnv(),
		Dir:  t.workDir,
	})

	output := string(out.Stdout)
	if len(out.Stderr) > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + string(out.Stderr)
	}
	output = util.TruncateTail(output, types.BashMaxOutput)

	switch {
	case runErr != nil && errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return types.PartialResult(output, fmt.Sprintf("Command timed out after %d seconds", timeout))
	case runErr != nil && ctx.Err() != nil:
		return types.PartialResult(output, "Command cancelled: "+ctx.Err().Error())
	case runErr != nil:
		return types.PartialResult(output, runErr.Error())
	case out.ExitCode != 0:
		return types.PartialResult(output, fmt.Sprintf("exit status %d", out.ExitCode))
	}
	return types.NewToolResult(output)
}
