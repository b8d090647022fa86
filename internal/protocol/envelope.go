// Package protocol defines the wire contract with the agent backend: a
// discriminated envelope union for inbound events and typed constructors
// for outbound messages. All validation happens here, once, at the
// transport boundary; handlers downstream never re-check shapes.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type discriminates inbound envelopes.
type Type string

const (
	TypeMessage               Type = "message"
	TypeThinking              Type = "thinking"
	TypeToolCall              Type = "tool_call"
	TypeToolResult            Type = "tool_result"
	TypeToolStatus            Type = "tool_status"
	TypeExecutionConfirmation Type = "execution_confirmation"
	TypeError                 Type = "error"
	TypeStatus                Type = "status"
	TypeComplete              Type = "complete"
	TypeFinished              Type = "finished"
	TypeUsageInfo             Type = "usage_info"
	TypeControl               Type = "control"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrUnknownType  = errors.New("unknown envelope type")
	ErrBadPayload   = errors.New("malformed envelope payload")
)

// MessageData carries text for message and thinking envelopes. The three
// optional flags express chunk boundaries; absence falls back to the
// length heuristic applied by the dispatcher.
type MessageData struct {
	Text       string `json:"text"`
	IsChunk    *bool  `json:"is_chunk,omitempty"`
	IsComplete *bool  `json:"is_complete,omitempty"`
	Streaming  *bool  `json:"streaming,omitempty"`
}

// ToolCallData announces a tool invocation by the remote agent. ID may be
// empty; the tracker then assigns a locally generated correlation id.
type ToolCallData struct {
	ID       string          `json:"id,omitempty"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ToolResultData resolves a previously announced tool call.
type ToolResultData struct {
	ID     string `json:"id"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ToolStatusData carries an intermediate status transition. The observed
// protocol attaches no tool id to this event type.
type ToolStatusData struct {
	Status string `json:"status"`
}

// StatusSettingUpEnvironment is the only tool_status value the client
// reacts to.
const StatusSettingUpEnvironment = "setting_up_environment"

// ExecutionConfirmationData asks the user to approve a tool before it runs.
type ExecutionConfirmationData struct {
	ConfirmationID string `json:"confirmation_id"`
	ToolName       string `json:"tool_name"`
	Message        string `json:"message,omitempty"`
}

// ErrorData is a backend-reported error.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// CodeReadOnlyMode marks rejections issued while the backend is in
// read-only mode; these render as a normal bot message, not an error.
const CodeReadOnlyMode = "read_only_mode"

// StatusData is an informational activity signal; it never mutates the log.
type StatusData struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// UsageData reports token accounting for the finished turn.
type UsageData struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ControlData carries out-of-band directives, e.g. preference pushes.
type ControlData struct {
	Action    string   `json:"action"`
	Model     string   `json:"model,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// Envelope is one decoded inbound event. Exactly one payload field is
// non-nil, matching Type; completion envelopes may carry no payload at all.
type Envelope struct {
	Type      Type
	SessionID string
	UserID    string

	Message      *MessageData
	ToolCall     *ToolCallData
	ToolResult   *ToolResultData
	ToolStatus   *ToolStatusData
	Confirmation *ExecutionConfirmationData
	Error        *ErrorData
	Status       *StatusData
	Usage        *UsageData
	Control      *ControlData
}

// IsCompletion reports whether the envelope signals end of turn. The
// backend expresses this with any of three types; the dispatcher applies
// the signal exactly once regardless of how many arrive.
func (e *Envelope) IsCompletion() bool {
	switch e.Type {
	case TypeComplete, TypeFinished, TypeUsageInfo:
		return true
	default:
		return false
	}
}

// wireEnvelope is the raw shape before payload dispatch.
type wireEnvelope struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode parses and validates one inbound envelope. Any error means the
// payload must be dropped; Decode never panics on adversarial input.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}

	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	env := &Envelope{
		Type:      wire.Type,
		SessionID: wire.SessionID,
		UserID:    wire.UserID,
	}

	switch wire.Type {
	case TypeMessage, TypeThinking:
		var d MessageData
		if err := decodeData(wire.Data, &d); err != nil {
			return nil, err
		}
		env.Message = &d

	case TypeToolCall:
		var d ToolCallData
		if err := decodeData(wire.Data, &d); err != nil {
			return nil, err
		}
		if d.ToolName == "" {
			return nil, fmt.Errorf("%w: tool_call missing tool_name", ErrBadPayload)
		}
		env.ToolCall = &d

	case TypeToolResult:
		var d ToolResultData
		if err := decodeData(wire.Data, &d); err != nil {
			return nil, err
		}
		if d.ID == "" {
			return nil, fmt.Errorf("%w: tool_result missing id", ErrBadPayload)
		}
		env.ToolResult = &d

	case TypeToolStatus:
		var d ToolStatusData
		if err := decodeData(wire.Data, &d); err != nil {
			return nil, err
		}
		env.ToolStatus = &d

	case TypeExecutionConfirmation:
		var d ExecutionConfirmationData
		if err := decodeData(wire.Data, &d); err != nil {
			return nil, err
		}
		if d.ConfirmationID == "" {
			return nil, fmt.Errorf("%w: execution_confirmation missing confirmation_id", ErrBadPayload)
		}
		env.Confirmation = &d

	case TypeError:
		var d ErrorData
		if err := decodeData(wire.Data, &d); err != nil {
			return nil, err
		}
		env.Error = &d

	case TypeStatus:
		var d StatusData
		if err := decodeData(wire.Data, &d); err != nil {
			return nil, err
		}
		env.Status = &d

	case TypeComplete, TypeFinished:
		// No payload required.

	case TypeUsageInfo:
		if len(wire.Data) > 0 {
			var d UsageData
			if err := decodeData(wire.Data, &d); err != nil {
				return nil, err
			}
			env.Usage = &d
		}

	case TypeControl:
		var d ControlData
		if err := decodeData(wire.Data, &d); err != nil {
			return nil, err
		}
		env.Control = &d

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, wire.Type)
	}

	return env, nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing data", ErrBadPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
