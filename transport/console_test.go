package transport

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/core"
)

// --- Unit Tests ---

func TestConsoleParse(t *testing.T) {
	c := NewConsole(&recordingPublisher{}, nil, io.Discard, "me", nil)

	if msg, quit := c.parse("/attach notes.txt"); msg != nil || quit {
		t.Fatal("/attach should only queue")
	}
	msg, _ := c.parse("/reason what is in it?")
	if !msg.Reasoning || msg.Text != "what is in it?" {
		t.Errorf("msg = %+v", msg)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0] != "notes.txt" {
		t.Errorf("attachments = %v", msg.Attachments)
	}
	if msg.UserID != "me" || msg.ChatID != c.ChatID || msg.Source != "console" {
		t.Errorf("routing = %+v", msg)
	}

	msg, _ = c.parse("again")
	if len(msg.Attachments) != 0 || msg.Reasoning {
		t.Error("attachments and reasoning apply to one message only")
	}
	if _, quit := c.parse("/quit"); !quit {
		t.Error("/quit should quit")
	}
}

// --- Integration Tests ---

func TestConsoleConversation(t *testing.T) {
	pub := &recordingPublisher{}
	out := &syncBuffer{}
	inR, inW := io.Pipe()
	c := NewConsole(pub, inR, out, "me", nil)
	c.Prompt = ""

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	io.WriteString(inW, "hello\n")
	waitFor(t, func() bool { return len(pub.incoming()) == 1 })

	ctx := context.Background()
	c.Deliver(ctx, &bus.StreamToken{ChatID: "someone-else", Token: "nope"})
	c.Deliver(ctx, &bus.StreamToken{ChatID: c.ChatID, Token: "Hi "})
	c.Deliver(ctx, &bus.StreamToken{ChatID: c.ChatID, Token: "there"})
	c.Deliver(ctx, &bus.StreamToken{ChatID: c.ChatID, Done: true})
	c.Deliver(ctx, &bus.OutgoingReply{ChatID: c.ChatID, Text: "Hi there", Done: true,
		Checklist: &core.SendChecklist{Items: []core.ChecklistItem{{Text: "milk", Done: true}, {Text: "eggs"}}}})

	io.WriteString(inW, "/quit\n")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("console did not exit")
	}

	got := out.String()
	if strings.Count(got, "Hi there") != 1 {
		t.Errorf("streamed reply printed twice or not at all:\n%s", got)
	}
	if strings.Contains(got, "nope") {
		t.Error("printed another chat's token")
	}
	if !strings.Contains(got, "- [x] milk") || !strings.Contains(got, "- [ ] eggs") {
		t.Errorf("checklist not rendered:\n%s", got)
	}
}
