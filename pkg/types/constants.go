package types

import "time"

// Limit and threshold constants used across the codebase.
const (
	// --- Turn execution ---

	// DefaultGracePeriod is how long the router waits for cooperative tools
	// after a turn is cancelled before filling their slots.
	DefaultGracePeriod = 2 * time.Second

	// MaxAgentIterations is the maximum number of model round trips per input.
	MaxAgentIterations = 10

	// --- Tool output limits ---

	// BashMaxOutput is the maximum output length for bash tool results.
	BashMaxOutput = 10000

	// BashDefaultTimeout is the default timeout in seconds for bash commands.
	BashDefaultTimeout = 120

	// EditSnippetLines is the context shown around an edit.
	EditSnippetLines = 4

	// MaxLineLength is the per-line truncation limit for file views.
	MaxLineLength = 500

	// MaxReadFileSize is the largest file the editor will load (10 MB).
	MaxReadFileSize = 10 * 1024 * 1024

	// WebMaxOutput is the maximum text length returned by the web tool.
	WebMaxOutput = 20000

	// WebMaxBodyBytes caps how much of a response body is read (5 MB).
	WebMaxBodyBytes = 5 * 1024 * 1024

	// --- Memory ---

	// ShortTermCapacity is the number of memories kept in process.
	ShortTermCapacity = 100

	// ShortTermDecayHours is when short-term memories start to decay.
	ShortTermDecayHours = 24.0

	// MemoryHalfLifeDays is the long-term recency half-life.
	MemoryHalfLifeDays = 30.0

	// RecencyWeight and FrequencyWeight combine into a recall score.
	RecencyWeight   = 0.7
	FrequencyWeight = 0.3
)
