package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zhy0216/toolbox/pkg/schema"
	"github.com/zhy0216/toolbox/pkg/types"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the configured capabilities enable",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print tool descriptors as JSON",
	Args:  cobra.NoArgs,
	RunE:  runSchema,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one turn of tool calls read as JSON and print the outcome",
	Long: `Reads a JSON array of calls, for example

  [{"call_id": "1", "tool_name": "test", "arguments": {"function_name": "test1"}}]

from --calls (a file, or - for stdin), runs them concurrently as one turn
and prints the outcome in call order. A call without call_id gets one.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	familyFlag string
	callsFlag  string
)

func init() {
	schemaCmd.Flags().StringVar(&familyFlag, "family", "", "Descriptor family: structured or generic (default: the configured provider's)")
	runCmd.Flags().StringVarP(&callsFlag, "calls", "c", "-", "File holding the JSON call array, or - for stdin")
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := newSession(cfg, cfg.Family(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	reg, err := s.router.BuildRegistry()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if reg.Len() == 0 {
		fmt.Fprintln(out, "No tools enabled.")
		return nil
	}
	fmt.Fprintln(out, strings.Join(reg.Names(), "\n"))
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	family := cfg.Family()
	if familyFlag != "" {
		if family, err = schema.ParseFamily(familyFlag); err != nil {
			return err
		}
	}

	s, err := newSession(cfg, family, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	reg, err := s.router.BuildRegistry()
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), reg.ExportAll(family))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	calls, err := readCalls(cmd.InOrStdin(), callsFlag)
	if err != nil {
		return err
	}

	s, err := newSession(cfg, cfg.Family(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	outcome, err := s.router.RunTurn(ctx, calls)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), outcome)
}

// readCalls decodes the call array from path, or from stdin when path is
// "-". Calls without an ID are given one.
func readCalls(stdin io.Reader, path string) ([]types.CallRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read calls: %w", err)
	}

	var calls []types.CallRequest
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil, fmt.Errorf("parse calls: %w", err)
	}
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
	}
	return calls, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
