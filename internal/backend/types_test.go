package backend

import (
	"encoding/json"
	"testing"
)

func TestAgentEventHandoffPayload(t *testing.T) {
	raw := `{
		"id": "evt-1",
		"type": "handoff",
		"agent": "Triage Agent",
		"content": "Triage Agent -> Housing Agent",
		"metadata": {"source_agent": "Triage Agent", "target_agent": "Housing Agent"}
	}`

	var e AgentEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Type != EventHandoff || e.Agent != "Triage Agent" {
		t.Errorf("envelope = %+v", e)
	}

	p, ok := e.Payload.(HandoffPayload)
	if !ok {
		t.Fatalf("payload type = %T, want HandoffPayload", e.Payload)
	}
	if p.SourceAgent != "Triage Agent" || p.TargetAgent != "Housing Agent" {
		t.Errorf("payload = %+v", p)
	}
}

func TestAgentEventToolCallPayload(t *testing.T) {
	raw := `{
		"id": "evt-2",
		"type": "tool_call",
		"agent": "Housing Agent",
		"metadata": {"tool_name": "waitlist_lookup", "tool_args": {"program": "section8"}}
	}`

	var e AgentEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	p, ok := e.Payload.(ToolCallPayload)
	if !ok {
		t.Fatalf("payload type = %T, want ToolCallPayload", e.Payload)
	}
	if p.ToolName != "waitlist_lookup" {
		t.Errorf("tool name = %q", p.ToolName)
	}
	if p.Arguments["program"] != "section8" {
		t.Errorf("arguments = %v", p.Arguments)
	}
}

func TestAgentEventToolOutputPayload(t *testing.T) {
	raw := `{
		"id": "evt-3",
		"type": "tool_output",
		"agent": "Housing Agent",
		"metadata": {"tool_name": "waitlist_lookup", "tool_result": "open"}
	}`

	var e AgentEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	p, ok := e.Payload.(ToolOutputPayload)
	if !ok {
		t.Fatalf("payload type = %T, want ToolOutputPayload", e.Payload)
	}
	if p.ToolName != "waitlist_lookup" || p.Output != "open" {
		t.Errorf("payload = %+v", p)
	}
}

func TestAgentEventContextUpdatePayload(t *testing.T) {
	raw := `{
		"id": "evt-4",
		"type": "context_update",
		"agent": "Housing Agent",
		"metadata": {"changes": {"household_size": 4}}
	}`

	var e AgentEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	p, ok := e.Payload.(ContextUpdatePayload)
	if !ok {
		t.Fatalf("payload type = %T, want ContextUpdatePayload", e.Payload)
	}
	if v, ok := p.Changes["household_size"].(float64); !ok || v != 4 {
		t.Errorf("changes = %v", p.Changes)
	}
}

func TestAgentEventMessageHasNoPayload(t *testing.T) {
	raw := `{"id": "evt-5", "type": "message", "agent": "Triage Agent", "content": "hi"}`

	var e AgentEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Payload != nil {
		t.Errorf("message event carries payload %T", e.Payload)
	}
	if e.Content != "hi" {
		t.Errorf("content = %q", e.Content)
	}
}

func TestAgentEventMissingMetadata(t *testing.T) {
	// Malformed or absent metadata degrades to zero-value payload fields,
	// never to a decode failure.
	raw := `{"id": "evt-6", "type": "handoff", "agent": "Triage Agent"}`

	var e AgentEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, ok := e.Payload.(HandoffPayload)
	if !ok {
		t.Fatalf("payload type = %T", e.Payload)
	}
	if p.SourceAgent != "" || p.TargetAgent != "" {
		t.Errorf("payload = %+v, want zero values", p)
	}
}

func TestChatResponseDecodesEvents(t *testing.T) {
	raw := `{
		"conversation_id": "conv-1",
		"current_agent": "Housing Agent",
		"messages": [{"content": "ok", "agent": "Housing Agent"}],
		"events": [
			{"id": "1", "type": "message", "agent": "Triage Agent", "content": "hi"},
			{"id": "2", "type": "handoff", "agent": "Triage Agent",
			 "metadata": {"source_agent": "Triage Agent", "target_agent": "Housing Agent"}}
		]
	}`

	var resp ChatResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(resp.Events))
	}
	if _, ok := resp.Events[1].Payload.(HandoffPayload); !ok {
		t.Errorf("event[1] payload = %T", resp.Events[1].Payload)
	}
}
