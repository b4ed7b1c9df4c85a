package ai

import "context"

const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleModel  = "model"
)

// Message is a plain text turn used for single-shot completions such as summaries.
type Message struct {
	Role    string
	Content string
}

// Provider is the minimal text-in/text-out model interface.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// ToolProvider is an optional interface. Providers that support function
// calling implement it; the agent loop type-asserts for it.
type ToolProvider interface {
	Generate(ctx context.Context, contents []Content, tools []FunctionDeclaration) (*Reply, error)
}
