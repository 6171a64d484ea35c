package llm

import (
	"context"
	"encoding/json"
)

// ChatRole tags one turn of the conversation sent to a model.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleTool      ChatRole = "tool"
)

// ChatMessage is one role-tagged turn. Tool results carry the ToolCallID of
// the request they answer.
type ChatMessage struct {
	Role       ChatRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolCall is a model's request for an auxiliary lookup.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is a provider-neutral completion request.
type Request struct {
	System      []string
	Messages    []ChatMessage
	Tools       []ToolDef
	Temperature float32
	MaxTokens   int
}

// Response is the model's answer: either final content or tool requests.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client sends one completion request to a model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
