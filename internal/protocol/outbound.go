package protocol

import "encoding/json"

// Decision is the user's answer to an execution confirmation.
type Decision string

const (
	DecisionExecute Decision = "execute"
	DecisionCancel  Decision = "cancel"
)

// UIState snapshots the session preferences that ride along with every
// outbound message so the backend persists them without a separate
// autosave round trip.
type UIState struct {
	SelectedModel     string   `json:"selectedModel,omitempty"`
	SelectedMode      string   `json:"selectedMode,omitempty"`
	SelectedProviders []string `json:"selectedProviders,omitempty"`
}

// Attachment references an uploaded artifact included with a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SendMessage is the outbound user-message envelope.
type SendMessage struct {
	Type               string       `json:"type"`
	Query              string       `json:"query"`
	UserID             string       `json:"user_id"`
	SessionID          string       `json:"session_id,omitempty"`
	Model              string       `json:"model,omitempty"`
	Mode               string       `json:"mode,omitempty"`
	ProviderPreference []string     `json:"provider_preference,omitempty"`
	Attachments        []Attachment `json:"attachments,omitempty"`
	UIState            UIState      `json:"ui_state"`
}

// NewSendMessage builds a user-message envelope with the type tag set.
func NewSendMessage(query, userID, sessionID string) *SendMessage {
	return &SendMessage{
		Type:      "message",
		Query:     query,
		UserID:    userID,
		SessionID: sessionID,
	}
}

// ConfirmationResponse answers a pending execution confirmation.
type ConfirmationResponse struct {
	Type           string   `json:"type"`
	ConfirmationID string   `json:"confirmation_id"`
	Decision       Decision `json:"decision"`
	UserID         string   `json:"user_id"`
	SessionID      string   `json:"session_id,omitempty"`
}

// NewConfirmationResponse builds a confirmation answer envelope.
func NewConfirmationResponse(confirmationID string, decision Decision, userID, sessionID string) *ConfirmationResponse {
	return &ConfirmationResponse{
		Type:           "confirmation_response",
		ConfirmationID: confirmationID,
		Decision:       decision,
		UserID:         userID,
		SessionID:      sessionID,
	}
}

// ToolInvocation names a tool and its parameters for a direct call.
type ToolInvocation struct {
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// DirectToolCall invokes a tool on the backend, bypassing the agent loop.
type DirectToolCall struct {
	UserID         string         `json:"user_id"`
	SessionID      string         `json:"session_id,omitempty"`
	DirectToolCall ToolInvocation `json:"direct_tool_call"`
}

// InitHandshake identifies the caller right after the socket opens.
type InitHandshake struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// NewInitHandshake builds the post-open handshake envelope.
func NewInitHandshake(userID string) *InitHandshake {
	return &InitHandshake{Type: "init", UserID: userID}
}

// CancelRequest asks the backend to abandon the in-flight turn. The
// request is advisory; local sending state resets regardless.
type CancelRequest struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// NewCancelRequest builds a cancellation control message.
func NewCancelRequest(userID, sessionID string) *CancelRequest {
	return &CancelRequest{Type: "cancel", UserID: userID, SessionID: sessionID}
}

// Ping is the application-level keepalive; the backend answers with pong.
type Ping struct {
	Type string `json:"type"`
}

// NewPing builds a keepalive envelope.
func NewPing() *Ping {
	return &Ping{Type: "ping"}
}
