package conversation

import "strings"

// Accumulator buffers incremental text chunks into one logical streaming
// entry until a completion boundary is detected. It holds at most one
// open entry at a time; a thinking trace and an answer never stream
// concurrently, so starting one finalizes the other.
type Accumulator struct {
	log      *Log
	current  *Entry
	buf      strings.Builder
	thinking bool
}

// NewAccumulator binds an accumulator to the log it appends into.
func NewAccumulator(log *Log) *Accumulator {
	return &Accumulator{log: log}
}

// Active reports whether a streaming entry is open.
func (a *Accumulator) Active() bool {
	return a.current != nil
}

// Thinking reports whether the open entry is a reasoning trace.
func (a *Accumulator) Thinking() bool {
	return a.current != nil && a.thinking
}

// Start opens a new streaming entry in the log. If an entry of the other
// kind is already open it is finalized first, preserving chronology.
func (a *Accumulator) Start(thinking bool) *Entry {
	if a.current != nil {
		if a.thinking == thinking {
			return a.current
		}
		a.Finish()
	}

	a.thinking = thinking
	a.current = a.log.Append(&Entry{
		Sender:    SenderBot,
		Streaming: true,
		Thinking:  thinking,
	})
	return a.current
}

// Append concatenates a chunk into the open entry, opening one when
// needed so a chunk arriving before any start marker is not lost.
func (a *Accumulator) Append(chunk string, thinking bool) {
	if a.current == nil || a.thinking != thinking {
		a.Start(thinking)
	}
	a.buf.WriteString(chunk)
	a.current.Text = a.buf.String()
}

// Finish closes the open entry, clears the buffer, and returns the
// finalized entry. Returns nil when nothing was accumulating.
func (a *Accumulator) Finish() *Entry {
	if a.current == nil {
		return nil
	}
	e := a.current
	e.Text = a.buf.String()
	e.Streaming = false
	a.current = nil
	a.buf.Reset()
	return e
}

// Reset drops any open entry state without finalizing. The caller is
// responsible for flushing first when the partial text must survive.
func (a *Accumulator) Reset() {
	a.current = nil
	a.buf.Reset()
}
