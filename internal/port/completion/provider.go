// Package completion defines the model-completion provider port.
package completion

import "context"

// Message is one transcript entry sent to the model.
type Message struct {
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Request asks the provider for the next message.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Temperature  *float64
	MaxTokens    int
}

// Response is the generated message with its usage.
type Response struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

// Provider produces completions. Errors and timeouts are external faults.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
