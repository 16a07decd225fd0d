package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhy0216/toolbox/pkg/agent"
	"github.com/zhy0216/toolbox/pkg/config"
	"github.com/zhy0216/toolbox/pkg/llm"
	"github.com/zhy0216/toolbox/pkg/router"
	"github.com/zhy0216/toolbox/pkg/types"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the configured model in single message or REPL mode",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var (
	messageFlag string
	systemFlag  string
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().StringVar(&systemFlag, "system", "", "Replace the default system prompt")
}

// ProviderFactory creates the model backend for cfg.
type ProviderFactory func(cfg *config.Config) (llm.Provider, error)

// ChatOptions for running chat with custom dependencies.
type ChatOptions struct {
	ProviderFactory ProviderFactory
	Stdin           io.Reader
	Stdout          io.Writer
	Stderr          io.Writer
	// Signals installs the SIGINT/SIGTERM handler in REPL mode.
	Signals bool
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(cmd.Context(), ChatOptions{Signals: true})
}

func runChatWithOptions(ctx context.Context, opts ChatOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	factory := opts.ProviderFactory
	if factory == nil {
		factory = llm.New
	}
	provider, err := factory(cfg)
	if err != nil {
		return err
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	emitter := types.NewEventEmitter()
	s, err := newSession(cfg, provider.Family(), stderr, router.WithEmitter(emitter))
	if err != nil {
		return err
	}
	defer s.Close()

	unsubscribe := emitter.Subscribe(newToolPrinter(stdout))
	defer unsubscribe()

	app, err := agent.New(provider, s.router,
		agent.WithSystemPrompt(systemFlag),
		agent.WithOutput(stdout),
		agent.WithLogger(s.log),
	)
	if err != nil {
		return err
	}

	if messageFlag != "" {
		reply, err := app.ProcessInput(ctx, messageFlag)
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		fmt.Fprintln(stdout, reply)
		return nil
	}

	reg, err := s.router.BuildRegistry()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%stoolbox%s - tool router chat (model: %s)\n", colorGreen, colorReset, app.Model())
	fmt.Fprintf(stdout, "Tools: %s\n", strings.Join(reg.Names(), ", "))
	fmt.Fprintln(stdout, "Commands: /q (quit), /c (clear), /tools, /model")
	fmt.Fprintln(stdout)

	repl := &replState{out: stdout}
	if opts.Signals {
		stop := repl.handleSignals()
		defer stop()
	}

	reader := bufio.NewReader(stdin)
	for {
		fmt.Fprintf(stdout, "%s> %s", colorBlue, colorReset)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			if err != nil {
				return nil
			}
			continue
		}

		handled, exit := app.HandleCommand(input)
		if exit {
			return nil
		}
		if !handled {
			repl.process(ctx, app, stderr, input)
		}
		if err != nil {
			return nil
		}
	}
}

// replState tracks the in-flight input so SIGINT can cancel it.
type replState struct {
	out io.Writer

	mu          sync.Mutex
	turnCancel  context.CancelFunc
	lastSigTime time.Time
}

func (r *replState) process(ctx context.Context, app *agent.Agent, stderr io.Writer, input string) {
	turnCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.turnCancel = cancel
	r.mu.Unlock()

	reply, err := app.ProcessInput(turnCtx, input)
	cancel()

	r.mu.Lock()
	r.turnCancel = nil
	r.mu.Unlock()

	if err != nil {
		if agent.IsInterrupt(err) {
			return
		}
		fmt.Fprintf(stderr, "%sError: %v%s\n", colorYellow, err, colorReset)
		return
	}
	fmt.Fprintln(r.out, reply)
}

// handleSignals cancels the running input on SIGINT. A second SIGINT within
// a second, or SIGTERM, exits.
func (r *replState) handleSignals() func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			r.mu.Lock()
			now := time.Now()
			if sig == syscall.SIGTERM || now.Sub(r.lastSigTime) < time.Second {
				r.mu.Unlock()
				fmt.Fprintln(r.out, "\nGoodbye!")
				os.Exit(0)
			}
			r.lastSigTime = now
			if r.turnCancel != nil {
				r.turnCancel()
				r.turnCancel = nil
				fmt.Fprintf(os.Stderr, "\n%s[interrupted]%s\n", colorYellow, colorReset)
			}
			r.mu.Unlock()
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(sigChan)
	}
}

// newToolPrinter renders router events as one status line per call.
func newToolPrinter(w io.Writer) func(types.Event) {
	var mu sync.Mutex
	return func(e types.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Type {
		case types.EventToolStart:
			fmt.Fprintf(w, "%s[%s]%s\n", colorGray, e.ToolName, colorReset)
		case types.EventToolEnd:
			if e.Result != nil && e.Result.IsError() {
				fmt.Fprintf(w, "%s[%s] %s%s\n", colorYellow, e.ToolName, firstLine(e.Result.Error), colorReset)
			}
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
