package client

import (
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/protocol"
)

func boolPtr(b bool) *bool { return &b }

func TestClassifyBoundaryPrecedence(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 200)

	cases := []struct {
		name   string
		data   *protocol.MessageData
		inSend bool
		want   boundary
	}{
		{"is_complete wins", &protocol.MessageData{Text: "hi", IsChunk: boolPtr(true), IsComplete: boolPtr(true)}, true, boundaryFinal},
		{"explicit chunk", &protocol.MessageData{Text: long, IsChunk: boolPtr(true)}, false, boundaryChunk},
		{"explicit not chunk", &protocol.MessageData{Text: "hi", IsChunk: boolPtr(false)}, true, boundaryFinal},
		{"only is_complete false", &protocol.MessageData{Text: long, IsComplete: boolPtr(false)}, false, boundaryChunk},
		{"is_chunk false beats is_complete false", &protocol.MessageData{Text: "hi", IsChunk: boolPtr(false), IsComplete: boolPtr(false)}, true, boundaryFinal},
		{"streaming true", &protocol.MessageData{Text: long, Streaming: boolPtr(true)}, false, boundaryChunk},
		{"streaming false", &protocol.MessageData{Text: "hi", Streaming: boolPtr(false)}, true, boundaryFinal},
		{"heuristic short in flight", &protocol.MessageData{Text: "hi"}, true, boundaryChunk},
		{"heuristic short at rest", &protocol.MessageData{Text: "hi"}, false, boundaryFinal},
		{"heuristic long in flight", &protocol.MessageData{Text: long}, true, boundaryFinal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyBoundary(tc.data, tc.inSend, config.ChunkHeuristicAuto, 50)
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClassifyBoundaryModeOverrides(t *testing.T) {
	t.Parallel()

	unflagged := &protocol.MessageData{Text: "hi"}

	if got := classifyBoundary(unflagged, true, config.ChunkHeuristicComplete, 50); got != boundaryFinal {
		t.Errorf("complete mode: got %v", got)
	}
	if got := classifyBoundary(unflagged, false, config.ChunkHeuristicChunk, 50); got != boundaryChunk {
		t.Errorf("chunk mode: got %v", got)
	}

	// Explicit flags still beat the mode override.
	flagged := &protocol.MessageData{Text: "hi", IsComplete: boolPtr(true)}
	if got := classifyBoundary(flagged, true, config.ChunkHeuristicChunk, 50); got != boundaryFinal {
		t.Errorf("explicit flag lost to mode: got %v", got)
	}
}
