package protocol

import (
	"errors"
	"testing"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"type":"message","session_id":"S1","data":{"text":"hello","is_chunk":true}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Type != TypeMessage {
		t.Errorf("got type %q", env.Type)
	}
	if env.SessionID != "S1" {
		t.Errorf("got session %q", env.SessionID)
	}
	if env.Message == nil || env.Message.Text != "hello" {
		t.Fatalf("message payload not decoded: %+v", env.Message)
	}
	if env.Message.IsChunk == nil || !*env.Message.IsChunk {
		t.Error("is_chunk flag lost")
	}
}

func TestDecodeToolCallRequiresName(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte(`{"type":"tool_call","data":{"id":"T1"}}`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("got %v, want ErrBadPayload", err)
	}

	env, err := Decode([]byte(`{"type":"tool_call","data":{"tool_name":"read_file","input":{"path":"/tmp/x"}}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.ToolCall.ID != "" {
		t.Errorf("got id %q, want empty for local assignment", env.ToolCall.ID)
	}
	if env.ToolCall.ToolName != "read_file" {
		t.Errorf("got tool %q", env.ToolCall.ToolName)
	}
}

func TestDecodeToolResultRequiresID(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte(`{"type":"tool_result","data":{"output":"x"}}`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("got %v, want ErrBadPayload", err)
	}
}

func TestDecodeConfirmationRequiresID(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte(`{"type":"execution_confirmation","data":{"tool_name":"terraform_apply"}}`)); !errors.Is(err, ErrBadPayload) {
		t.Errorf("got %v, want ErrBadPayload", err)
	}
}

func TestDecodeCompletionWithoutPayload(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{"complete", "finished"} {
		env, err := Decode([]byte(`{"type":"` + typ + `"}`))
		if err != nil {
			t.Fatalf("decode %s failed: %v", typ, err)
		}
		if !env.IsCompletion() {
			t.Errorf("%s not recognized as completion", typ)
		}
	}
}

func TestDecodeUsageInfo(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"type":"usage_info","data":{"input_tokens":120,"output_tokens":45}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !env.IsCompletion() {
		t.Error("usage_info should count as a completion signal")
	}
	if env.Usage == nil || env.Usage.OutputTokens != 45 {
		t.Errorf("usage payload not decoded: %+v", env.Usage)
	}

	// Payload is optional for usage_info.
	if _, err := Decode([]byte(`{"type":"usage_info"}`)); err != nil {
		t.Errorf("bare usage_info rejected: %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrEmptyPayload},
		{"not json", "{nope", ErrBadPayload},
		{"unknown type", `{"type":"telemetry"}`, ErrUnknownType},
		{"message without data", `{"type":"message"}`, ErrBadPayload},
		{"wrong data shape", `{"type":"message","data":"just a string"}`, ErrBadPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode([]byte(tc.raw)); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeControl(t *testing.T) {
	t.Parallel()

	env, err := Decode([]byte(`{"type":"control","data":{"action":"set_preferences","model":"fast","providers":["a","b"]}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Control.Action != "set_preferences" || env.Control.Model != "fast" {
		t.Errorf("control payload not decoded: %+v", env.Control)
	}
}
