package types

// Message is one entry of the conversation exchanged with a provider.
//
// Assistant messages may carry Calls; a "tool" message carries the Outcome of
// the turn that answered them. Providers expand it into their own shape (one
// user message of tool_result blocks, or one tool message per call).
type Message struct {
	Role    string
	Content string
	Calls   []CallRequest
	Outcome *TurnOutcome
}

// ChatResponse is the provider-neutral reply of one model request.
type ChatResponse struct {
	Content      string
	Calls        []CallRequest
	FinishReason string
}
