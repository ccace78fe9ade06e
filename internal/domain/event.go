package domain

// AgentEventType discriminates events on an agent run stream
type AgentEventType string

const (
	EventThought   AgentEventType = "thought"
	EventDelta     AgentEventType = "delta"
	EventReference AgentEventType = "reference"
	EventSubgraph  AgentEventType = "subgraph"
	EventError     AgentEventType = "error"
	EventSummary   AgentEventType = "summary"
)

// Final statuses carried by the summary event
const (
	FinalStatusSuccess   = "success"
	FinalStatusError     = "error"
	FinalStatusCancelled = "cancelled"
)

// AgentEvent is one typed event. Only the field matching Type is set.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	Thought   *Thought       `json:"thought,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Reference *Reference     `json:"reference,omitempty"`
	Subgraph  *Subgraph      `json:"subgraph,omitempty"`
	Error     string         `json:"error,omitempty"`
	Summary   *RunSummary    `json:"summary,omitempty"`
}

// Thought reports progress through an orchestration stage
type Thought struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Reference is one piece of evidence used for the answer
type Reference struct {
	ChunkID    string  `json:"chunk_id"`
	SourceID   string  `json:"source_id"`
	FileName   string  `json:"file_name,omitempty"`
	PageNumber int     `json:"page_number,omitempty"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// RunSummary terminates every agent stream
type RunSummary struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	TotalDurationMS  int64  `json:"total_duration_ms"`
	FinalStatus      string `json:"final_status"`
}

// AgentRequest is the input to a streaming agent run
type AgentRequest struct {
	Query   string        `json:"query" validate:"required"`
	KBIDs   []string      `json:"kb_ids" validate:"required,min=1"`
	History []ChatMessage `json:"history" validate:"dive"`
}

// ChatMessage is one prior conversation turn
type ChatMessage struct {
	Role    string `json:"role" validate:"oneof=user assistant system"`
	Content string `json:"content"`
}

// Validate checks required fields
func (r AgentRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrMissingRequiredField.Message, err)
	}
	return nil
}
