package domain

import "encoding/json"

// CreateAssistantRequest is the payload for registering an assistant.
// IfExists controls collision behavior on the unique name: "error"
// (default), "do_nothing", or "replace".
type CreateAssistantRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	GraphID        string          `json:"graph_id"`
	Config         json.RawMessage `json:"config,omitempty"`
	Context        json.RawMessage `json:"context,omitempty"`
	RequiredFields []string        `json:"required_fields,omitempty"`
	IfExists       string          `json:"if_exists,omitempty"`
}

// CreateThreadRequest is the payload for creating a thread.
type CreateThreadRequest struct {
	AssistantID string          `json:"assistant_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// CreateRunRequest is the payload for starting a run on a thread.
// Config carries a "configurable" override; Context carries runtime
// context. Supplying configurable inside Config together with Context
// is rejected.
type CreateRunRequest struct {
	AssistantID string          `json:"assistant_id"`
	Input       json.RawMessage `json:"input"`
	Config      json.RawMessage `json:"config,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
}

// CreateScheduleRequest is the payload for registering a cron schedule.
type CreateScheduleRequest struct {
	AssistantID         string   `json:"assistant_id"`
	Expression          string   `json:"expression"`
	RequiredFields      []string `json:"required_fields,omitempty"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
	Enabled             *bool    `json:"enabled,omitempty"`
}

// UpdateScheduleRequest is the payload for mutating a schedule. Nil
// fields are left unchanged.
type UpdateScheduleRequest struct {
	Expression          *string  `json:"expression,omitempty"`
	RequiredFields      []string `json:"required_fields,omitempty"`
	SpecialInstructions *string  `json:"special_instructions,omitempty"`
	Enabled             *bool    `json:"enabled,omitempty"`
}
