package client

import (
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/protocol"
)

// boundary classifies a message envelope as a partial chunk or the end of
// a logical message.
type boundary int

const (
	boundaryChunk boundary = iota
	boundaryFinal
)

// classifyBoundary applies the boundary rules in precedence order:
// explicit is_complete, explicit is_chunk, the streaming flag, then the
// configurable length heuristic. The heuristic only treats short text as
// a chunk while a send is in flight, so unrelated short messages arriving
// at rest are not misclassified.
func classifyBoundary(d *protocol.MessageData, sendInFlight bool, mode config.ChunkHeuristic, threshold int) boundary {
	if d.IsComplete != nil && *d.IsComplete {
		return boundaryFinal
	}
	if d.IsChunk != nil {
		if *d.IsChunk {
			return boundaryChunk
		}
		return boundaryFinal
	}
	// is_complete=false with no is_chunk is still an explicit flag: more
	// text is coming.
	if d.IsComplete != nil {
		return boundaryChunk
	}
	if d.Streaming != nil {
		if *d.Streaming {
			return boundaryChunk
		}
		return boundaryFinal
	}

	switch mode {
	case config.ChunkHeuristicChunk:
		return boundaryChunk
	case config.ChunkHeuristicComplete:
		return boundaryFinal
	default:
		if threshold <= 0 {
			threshold = 50
		}
		if sendInFlight && len(d.Text) < threshold {
			return boundaryChunk
		}
		return boundaryFinal
	}
}
