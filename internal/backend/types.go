package backend

import (
	"encoding/json"
)

// ChatRequest is one text turn against the agent pipeline.
type ChatRequest struct {
	ConversationID   string `json:"conversation_id,omitempty"`
	Message          string `json:"message"`
	EnableVoice      bool   `json:"enable_voice"`
	EnableNavigation bool   `json:"enable_navigation"`
	UserID           string `json:"user_id,omitempty"`
}

// MessageResponse is one agent message within a chat turn. AudioBase64 is
// present when voice synthesis was requested and succeeded.
type MessageResponse struct {
	Content     string `json:"content"`
	Agent       string `json:"agent"`
	AudioBase64 string `json:"audio_base64,omitempty"`
}

// ChatResponse is the full agent turn result.
type ChatResponse struct {
	ConversationID string            `json:"conversation_id"`
	CurrentAgent   string            `json:"current_agent"`
	Messages       []MessageResponse `json:"messages"`
	Events         []AgentEvent      `json:"events"`
	Context        map[string]any    `json:"context"`
	Agents         []AgentInfo       `json:"agents"`
	Guardrails     []GuardrailCheck  `json:"guardrails"`
}

type AgentInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Handoffs    []string `json:"handoffs"`
	Tools       []string `json:"tools"`
}

type GuardrailCheck struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Input     string  `json:"input"`
	Reasoning string  `json:"reasoning"`
	Passed    bool    `json:"passed"`
	Timestamp float64 `json:"timestamp"`
}

// EventType is the closed set of agent event kinds the backend emits.
type EventType string

const (
	EventMessage       EventType = "message"
	EventHandoff       EventType = "handoff"
	EventToolCall      EventType = "tool_call"
	EventToolOutput    EventType = "tool_output"
	EventContextUpdate EventType = "context_update"
)

// AgentEvent is one entry in a turn's event stream. The loosely typed
// metadata map on the wire is decoded into a typed payload per event kind.
type AgentEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Agent     string    `json:"agent"`
	Content   string    `json:"content"`
	Timestamp float64   `json:"timestamp,omitempty"`

	Payload EventPayload `json:"-"`
}

// EventPayload is implemented by the per-kind payload shapes.
type EventPayload interface {
	eventPayload()
}

type HandoffPayload struct {
	SourceAgent string
	TargetAgent string
}

type ToolCallPayload struct {
	ToolName  string
	Arguments map[string]any
}

type ToolOutputPayload struct {
	ToolName string
	Output   string
}

type ContextUpdatePayload struct {
	Changes map[string]any
}

func (HandoffPayload) eventPayload()       {}
func (ToolCallPayload) eventPayload()      {}
func (ToolOutputPayload) eventPayload()    {}
func (ContextUpdatePayload) eventPayload() {}

func (e *AgentEvent) UnmarshalJSON(data []byte) error {
	type wireEvent struct {
		ID        string         `json:"id"`
		Type      EventType      `json:"type"`
		Agent     string         `json:"agent"`
		Content   string         `json:"content"`
		Timestamp float64        `json:"timestamp"`
		Metadata  map[string]any `json:"metadata"`
	}

	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.ID = w.ID
	e.Type = w.Type
	e.Agent = w.Agent
	e.Content = w.Content
	e.Timestamp = w.Timestamp
	e.Payload = decodePayload(w.Type, w.Metadata)
	return nil
}

func decodePayload(t EventType, meta map[string]any) EventPayload {
	str := func(key string) string {
		s, _ := meta[key].(string)
		return s
	}

	switch t {
	case EventHandoff:
		return HandoffPayload{
			SourceAgent: str("source_agent"),
			TargetAgent: str("target_agent"),
		}
	case EventToolCall:
		args, _ := meta["tool_args"].(map[string]any)
		return ToolCallPayload{
			ToolName:  str("tool_name"),
			Arguments: args,
		}
	case EventToolOutput:
		return ToolOutputPayload{
			ToolName: str("tool_name"),
			Output:   str("tool_result"),
		}
	case EventContextUpdate:
		changes, _ := meta["changes"].(map[string]any)
		return ContextUpdatePayload{Changes: changes}
	default:
		return nil
	}
}

// AgentChatRequest is the hybrid voice turn: text in, agent reply plus
// synthesized audio out.
type AgentChatRequest struct {
	Message          string `json:"message"`
	ConversationID   string `json:"conversation_id,omitempty"`
	UserID           string `json:"user_id"`
	EnableVoice      bool   `json:"enable_voice"`
	EnableNavigation bool   `json:"enable_navigation"`
}

type AgentChatResponse struct {
	Success         bool   `json:"success"`
	CurrentAgent    string `json:"current_agent"`
	ConversationID  string `json:"conversation_id"`
	Response        string `json:"response,omitempty"`
	AudioBase64     string `json:"audio_base64,omitempty"`
	HandoffOccurred bool   `json:"handoff_occurred,omitempty"`
}

type TranscribeResponse struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
}

// RecordingMetadata is backend-owned; the client treats it as an opaque
// display shape.
type RecordingMetadata struct {
	RecordingID     string  `json:"recording_id"`
	ConversationID  string  `json:"conversation_id,omitempty"`
	UserID          string  `json:"user_id,omitempty"`
	Timestamp       string  `json:"timestamp"`
	Duration        float64 `json:"duration,omitempty"`
	FileSize        int64   `json:"file_size"`
	Transcript      string  `json:"transcript,omitempty"`
	AgentResponse   string  `json:"agent_response,omitempty"`
	ConfidenceScore float64 `json:"confidence_score,omitempty"`
	Language        string  `json:"language,omitempty"`
	FileFormat      string  `json:"file_format"`
}

type RecordingResponse struct {
	RecordingID string             `json:"recording_id"`
	Status      string             `json:"status"`
	Message     string             `json:"message,omitempty"`
	Metadata    *RecordingMetadata `json:"metadata,omitempty"`
}

// SaveRecordingRequest carries a finished capture plus its turn metadata to
// the persistence endpoint.
type SaveRecordingRequest struct {
	Audio           []byte
	Filename        string
	ConversationID  string
	UserID          string
	Transcript      string
	AgentResponse   string
	Duration        float64
	ConfidenceScore float64
	Language        string
}
