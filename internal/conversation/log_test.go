package conversation

import "testing"

func TestLogAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	log := NewLog()
	a := log.Append(&Entry{Sender: SenderUser, Text: "one"})
	b := log.Append(&Entry{Sender: SenderBot, Text: "two"})

	if a.ID >= b.ID {
		t.Errorf("ids not increasing: %d then %d", a.ID, b.ID)
	}
	if log.Last() != b {
		t.Error("Last did not return the newest entry")
	}
}

func TestLogReplaceKeepsIDsAhead(t *testing.T) {
	t.Parallel()

	log := NewLog()
	log.Replace([]*Entry{
		{ID: 3, Sender: SenderUser, Text: "restored"},
		{ID: 7, Sender: SenderBot, Text: "reply"},
	})

	next := log.Append(&Entry{Sender: SenderUser, Text: "new"})
	if next.ID <= 7 {
		t.Errorf("appended id %d collides with restored entries", next.ID)
	}
	if log.Len() != 3 {
		t.Errorf("got %d entries, want 3", log.Len())
	}
}

func TestLogReset(t *testing.T) {
	t.Parallel()

	log := NewLog()
	log.Append(&Entry{Sender: SenderUser, Text: "gone"})
	log.Reset()

	if log.Len() != 0 {
		t.Errorf("got %d entries after reset", log.Len())
	}
	if log.Last() != nil {
		t.Error("Last should be nil after reset")
	}
}
