// Package llm defines the model-call collaborator interface and the
// role-tagged message structure the context assembler produces.
//
// The provider is treated as opaque, possibly slow and possibly failing.
// No retry logic lives here or in any caller; if retries are wanted they
// belong to the provider implementation.
package llm

import "context"

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one block of a multimodal message: either text or an
// image reference.
type ContentPart struct {
	Text     string
	ImageURL string
}

// Message represents a single role-tagged block of the context payload.
type Message struct {
	Role  Role
	Parts []ContentPart
}

// Text builds a single-part text message.
func Text(role Role, text string) Message {
	return Message{Role: role, Parts: []ContentPart{{Text: text}}}
}

// CompletionRequest is a single model invocation.
type CompletionRequest struct {
	// Model overrides the provider's default model when non-empty.
	Model string
	// Messages is the full ordered context payload.
	Messages []Message
	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Text string
	// Token accounting as reported by the API, for logging.
	PromptTokens     int
	CompletionTokens int
}

// Provider is the model-call collaborator.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
