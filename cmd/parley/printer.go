package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/parleyhq/parley/internal/client"
	"github.com/parleyhq/parley/internal/conversation"
)

// printer renders conversation updates as they finalize. It tracks what
// has already been written so the change callback stays idempotent.
type printer struct {
	cli *client.Client
	out io.Writer

	mu         sync.Mutex
	printed    map[int64]bool
	toolStates map[string]conversation.ToolStatus
	lastStatus string
}

func newPrinter(cli *client.Client, out io.Writer) *printer {
	return &printer{
		cli:        cli,
		out:        out,
		printed:    map[int64]bool{},
		toolStates: map[string]conversation.ToolStatus{},
	}
}

// replay resets print tracking and re-renders the whole log, used after a
// session switch.
func (p *printer) replay() {
	p.mu.Lock()
	p.printed = map[int64]bool{}
	p.toolStates = map[string]conversation.ToolStatus{}
	p.lastStatus = ""
	p.mu.Unlock()
	p.render()
}

func (p *printer) render() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.cli.Entries() {
		p.renderEntry(e)
	}

	if st := p.cli.StatusLine(); st != "" && st != p.lastStatus {
		fmt.Fprintf(p.out, "[%s]\n", st)
	}
	p.lastStatus = p.cli.StatusLine()
}

func (p *printer) renderEntry(e *conversation.Entry) {
	// User text was typed by the user; no echo needed.
	if e.Sender == conversation.SenderBot && e.Text != "" && !e.Streaming && !p.printed[e.ID] {
		label := "agent"
		if e.Thinking {
			label = "thinking"
		}
		fmt.Fprintf(p.out, "%s> %s\n", label, e.Text)
		p.printed[e.ID] = true
	}

	for _, call := range e.ToolCalls {
		prev, seen := p.toolStates[call.ID]
		if seen && prev == call.Status {
			continue
		}
		p.toolStates[call.ID] = call.Status

		switch call.Status {
		case conversation.ToolAwaitingConfirmation:
			fmt.Fprintf(p.out, "tool %s awaits confirmation: %s\n  approve with /yes %s or /no %s\n",
				call.ToolName, call.ConfirmationMessage, call.ConfirmationID, call.ConfirmationID)
		case conversation.ToolCompleted:
			fmt.Fprintf(p.out, "tool %s done", call.ToolName)
			if call.Output != "" {
				fmt.Fprintf(p.out, ": %s", call.Output)
			}
			fmt.Fprintln(p.out)
		case conversation.ToolError:
			fmt.Fprintf(p.out, "tool %s failed: %s\n", call.ToolName, call.Error)
		case conversation.ToolCancelled:
			fmt.Fprintf(p.out, "tool %s cancelled\n", call.ToolName)
		default:
			fmt.Fprintf(p.out, "tool %s %s\n", call.ToolName, call.Status)
		}
	}
}
