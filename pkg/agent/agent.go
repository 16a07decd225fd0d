package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhy0216/toolbox/pkg/llm"
	"github.com/zhy0216/toolbox/pkg/router"
	"github.com/zhy0216/toolbox/pkg/types"
)

const defaultSystemPrompt = `You are a helpful assistant with access to tools. Call tools when they help answer the request; several independent calls may be issued at once and they run concurrently. Be concise.`

// Agent drives the chat loop: ask the model, run any requested tools
// through the router, feed the results back, repeat until the model
// answers without calls.
type Agent struct {
	provider      llm.Provider
	router        *router.Router
	messages      []types.Message
	output        io.Writer
	log           logrus.FieldLogger
	maxIterations int
}

// Option customizes an Agent.
type Option func(*Agent)

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if prompt != "" {
			a.messages[0].Content = prompt
		}
	}
}

// WithOutput sets where command feedback is written.
func WithOutput(w io.Writer) Option {
	return func(a *Agent) { a.output = w }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Agent) { a.log = l }
}

// WithMaxIterations bounds model round trips per input.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// New creates an Agent. The router must export descriptors in the family
// the provider consumes.
func New(provider llm.Provider, r *router.Router, opts ...Option) (*Agent, error) {
	if provider.Family() != r.Family() {
		return nil, fmt.Errorf("provider expects %s tool descriptors but the router exports %s", provider.Family(), r.Family())
	}
	a := &Agent{
		provider:      provider,
		router:        r,
		messages:      []types.Message{{Role: "system", Content: defaultSystemPrompt}},
		output:        io.Discard,
		log:           logrus.StandardLogger(),
		maxIterations: types.MaxAgentIterations,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Messages returns a copy of the conversation so far.
func (a *Agent) Messages() []types.Message {
	return append([]types.Message(nil), a.messages...)
}

// Model returns the provider's model name.
func (a *Agent) Model() string {
	return a.provider.Model()
}

// Reset drops everything but the system prompt.
func (a *Agent) Reset() {
	a.messages = a.messages[:1]
}

// HandleCommand processes a slash command and reports whether it was one.
func (a *Agent) HandleCommand(input string) (handled bool, exit bool) {
	switch input {
	case "/q", "exit", "quit":
		fmt.Fprintln(a.output, "Goodbye!")
		return true, true
	case "/c", "clear":
		a.Reset()
		fmt.Fprintln(a.output, "Conversation cleared.")
		return true, false
	case "/tools":
		reg, err := a.router.BuildRegistry()
		if err != nil {
			fmt.Fprintf(a.output, "Error: %v\n", err)
			return true, false
		}
		names := reg.Names()
		if len(names) == 0 {
			fmt.Fprintln(a.output, "No tools enabled.")
		} else {
			fmt.Fprintf(a.output, "Tools: %s\n", strings.Join(names, ", "))
		}
		return true, false
	case "/model":
		fmt.Fprintf(a.output, "Current model: %s\n", a.provider.Model())
		return true, false
	}
	return false, false
}

// ProcessInput appends input and runs the loop until the model replies
// without tool calls. It returns that reply. A cancelled ctx stops the loop
// after the current turn's results are recorded, so the history stays
// consistent for the next input.
func (a *Agent) ProcessInput(ctx context.Context, input string) (string, error) {
	if input == "" {
		return "", nil
	}
	a.messages = append(a.messages, types.Message{Role: "user", Content: input})

	descriptors, err := a.router.Descriptors()
	if err != nil {
		return "", err
	}

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		logger := a.log.WithField("iteration", iteration)

		response, err := a.provider.Chat(ctx, a.messages, descriptors)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("chat error: %w", err)
		}

		if len(response.Calls) == 0 {
			a.messages = append(a.messages, types.Message{Role: "assistant", Content: response.Content})
			return response.Content, nil
		}

		a.messages = append(a.messages, types.Message{Role: "assistant", Content: response.Content, Calls: response.Calls})
		logger.WithField("calls", len(response.Calls)).Debug("model requested tools")

		outcome, err := a.router.RunTurn(ctx, response.Calls)
		if err != nil {
			// Drop the unanswered assistant message.
			a.messages = a.messages[:len(a.messages)-1]
			return "", err
		}
		a.messages = append(a.messages, types.Message{Role: "tool", Outcome: &outcome})

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
	}

	return "", fmt.Errorf("agent loop reached maximum iterations (%d) without completing", a.maxIterations)
}

// IsInterrupt reports whether err came from a cancelled input.
func IsInterrupt(err error) bool {
	return errors.Is(err, context.Canceled)
}
