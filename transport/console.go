package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/logging"
)

// Console is a line-oriented chat adapter for terminals. Each line is
// one message; the prompt returns once its final reply has arrived.
//
//	/reason <text>   ask with extended reasoning
//	/attach <path>   attach a workspace file to the next message
//	/quit            leave
type Console struct {
	events Publisher
	in     io.Reader
	out    io.Writer
	logger *logging.Logger

	UserID string
	ChatID string
	Prompt string

	mu       sync.Mutex
	pending  []string
	streamed bool
	final    chan struct{}
}

// NewConsole creates a console chatting as userID.
func NewConsole(events Publisher, in io.Reader, out io.Writer, userID string, logger *logging.Logger) *Console {
	return &Console{
		events: events,
		in:     in,
		out:    out,
		logger: logging.OrNop(logger).WithComponent("console"),
		UserID: userID,
		ChatID: "console-" + uuid.NewString(),
		Prompt: "> ",
		final:  make(chan struct{}, 1),
	}
}

// Run reads lines until EOF, /quit or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, c.Prompt)
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		msg, quit := c.parse(line)
		if quit {
			return nil
		}
		if msg == nil {
			continue
		}
		if err := c.events.Publish(msg); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			continue
		}
		select {
		case <-c.final:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parse turns a line into a message. It returns nil for commands that
// only change console state.
func (c *Console) parse(line string) (*bus.IncomingMessage, bool) {
	reasoning := false
	switch {
	case line == "":
		return nil, false
	case line == "/quit" || line == "/exit":
		return nil, true
	case strings.HasPrefix(line, "/attach "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
		c.mu.Lock()
		c.pending = append(c.pending, path)
		c.mu.Unlock()
		fmt.Fprintf(c.out, "attached %s\n", path)
		return nil, false
	case strings.HasPrefix(line, "/reason "):
		reasoning = true
		line = strings.TrimSpace(strings.TrimPrefix(line, "/reason "))
	}

	c.mu.Lock()
	attachments := c.pending
	c.pending = nil
	c.streamed = false
	c.mu.Unlock()

	return &bus.IncomingMessage{
		MessageID:   uuid.NewString(),
		UserID:      c.UserID,
		ChatID:      c.ChatID,
		Source:      "console",
		Text:        line,
		Reasoning:   reasoning,
		Attachments: attachments,
	}, false
}

// Deliver is a bus handler for outgoing_reply and stream_token.
func (c *Console) Deliver(_ context.Context, ev bus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case *bus.StreamToken:
		if e.ChatID != c.ChatID {
			return nil
		}
		if e.Done {
			fmt.Fprintln(c.out)
			return nil
		}
		c.streamed = true
		fmt.Fprint(c.out, e.Token)
	case *bus.OutgoingReply:
		if e.ChatID != c.ChatID {
			return nil
		}
		if !e.Done || !c.streamed {
			fmt.Fprintln(c.out, e.Text)
		}
		if e.Attachment != nil {
			fmt.Fprintf(c.out, "[attachment] %s (%s)\n", e.Attachment.Name, e.Attachment.Path)
		}
		if e.Checklist != nil {
			for _, item := range e.Checklist.Items {
				mark := " "
				if item.Done {
					mark = "x"
				}
				fmt.Fprintf(c.out, "- [%s] %s\n", mark, item.Text)
			}
		}
		if e.Done {
			select {
			case c.final <- struct{}{}:
			default:
			}
		}
	}
	return nil
}
