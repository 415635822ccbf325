package llm

// Message roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// JSONInstruction is appended to the system prompt by adapters whose backend
// has no native JSON response mode.
const JSONInstruction = "Reply with a single JSON object and nothing else."

// Message is one turn of a conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role    string
	Content string
}

// ModelCapabilities describes the limits of a model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input and output together.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	// NativeJSON is true when the adapter can force a JSON reply without
	// prompt instructions.
	NativeJSON bool
}
