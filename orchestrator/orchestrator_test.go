package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/courier/agents"
	"github.com/vinayprograms/courier/attachments"
	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/core"
	"github.com/vinayprograms/courier/memory"
	"github.com/vinayprograms/courier/state"
	"github.com/vinayprograms/courier/taskstore"
)

// recorder is a Publisher that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) Publish(ev bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events...)
}

func (r *recorder) replies() []*bus.OutgoingReply {
	var out []*bus.OutgoingReply
	for _, ev := range r.all() {
		if rep, ok := ev.(*bus.OutgoingReply); ok {
			out = append(out, rep)
		}
	}
	return out
}

func (r *recorder) finals() []*bus.OutgoingReply {
	var out []*bus.OutgoingReply
	for _, rep := range r.replies() {
		if rep.Done {
			out = append(out, rep)
		}
	}
	return out
}

func (r *recorder) tokens() []*bus.StreamToken {
	var out []*bus.StreamToken
	for _, ev := range r.all() {
		if tok, ok := ev.(*bus.StreamToken); ok {
			out = append(out, tok)
		}
	}
	return out
}

type stageFunc func(ctx context.Context, c *agents.Context) agents.Result

type stageAgent struct {
	name  string
	mu    sync.Mutex
	calls int
	fn    stageFunc
}

func (s *stageAgent) Name() string { return s.name }

func (s *stageAgent) Handle(ctx context.Context, c *agents.Context) agents.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, c)
}

func (s *stageAgent) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	orch      *Orchestrator
	events    *recorder
	tasks     *taskstore.Store
	assistant *stageAgent
	tool      *stageAgent
}

func newHarness(t *testing.T, cfg Config, assistant, tool stageFunc, opts ...Option) *harness {
	t.Helper()
	kv := state.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })

	h := &harness{
		events:    &recorder{},
		tasks:     taskstore.New(kv, 0),
		assistant: &stageAgent{name: "assistant", fn: assistant},
		tool:      &stageAgent{name: "tool", fn: tool},
	}
	reg, err := agents.NewRegistry(nil, h.assistant, h.tool)
	require.NoError(t, err)
	h.orch = New(cfg, h.events, h.tasks, reg, opts...)
	return h
}

func (h *harness) process(t *testing.T, text string, attachments ...string) string {
	t.Helper()
	id, err := h.orch.Process(context.Background(), &bus.IncomingMessage{
		MessageID:   "m1",
		UserID:      "alice",
		ChatID:      "chat-1",
		Source:      "test",
		Text:        text,
		Attachments: attachments,
	})
	require.NoError(t, err)
	h.orch.Wait()
	return id
}

func answer(text string) stageFunc {
	return func(context.Context, *agents.Context) agents.Result {
		return agents.Result{Success: true, Output: text}
	}
}

func callTools(calls ...string) stageFunc {
	return func(context.Context, *agents.Context) agents.Result {
		tc := make([]core.ToolCall, 0, len(calls))
		for _, name := range calls {
			tc = append(tc, core.ToolCall{Name: name, Params: map[string]interface{}{}})
		}
		return agents.Result{Success: true, Output: `{"tool_calls":[...]}`, NextStage: core.StageTool, ToolCalls: tc}
	}
}

func toolResults(outcomes ...core.Outcome) stageFunc {
	return func(_ context.Context, c *agents.Context) agents.Result {
		results := make([]core.ToolResult, 0, len(outcomes))
		for i, o := range outcomes {
			name := "tool"
			if i < len(c.PendingToolCalls) {
				name = c.PendingToolCalls[i].Name
			}
			results = append(results, core.ToolResult{Tool: name, Result: o})
		}
		return agents.Result{Success: true, Output: "ran tools", NextStage: core.StageAssistant, ToolResults: results}
	}
}

func unused(t *testing.T) stageFunc {
	return func(context.Context, *agents.Context) agents.Result {
		t.Error("stage should not be dispatched")
		return agents.Failure("unexpected")
	}
}

// --- Unit Tests ---

func TestBound(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"manual clamps high", Config{MaxIterations: 20}, 8},
		{"manual clamps low", Config{MaxIterations: 1}, 4},
		{"manual in band", Config{MaxIterations: 6}, 6},
		{"manual default", Config{}, 8},
		{"autonomous keeps configured", Config{MaxIterations: 20, Autonomous: true}, 20},
		{"autonomous default", Config{Autonomous: true}, DefaultMaxIterations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Bound())
		})
	}
}

// A plain answer produces one final reply and no iterations.
func TestPlainAnswer(t *testing.T) {
	h := newHarness(t, DefaultConfig(), answer("Hi!"), unused(t))

	id := h.process(t, "hello")

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, "Hi!", finals[0].Text)
	assert.Equal(t, id, finals[0].TaskID)
	assert.Equal(t, "chat-1", finals[0].ChatID)
	assert.Equal(t, "m1", finals[0].MessageID)
	assert.Len(t, h.events.replies(), 1)

	task, err := h.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, task.Iteration)
}

// One tool round merges results, bumps the iteration once and
// publishes nothing until the assistant answers.
func TestToolRoundMergesResults(t *testing.T) {
	var snapshot *taskstore.Task
	var repliesBefore int
	var h *harness

	assistant := func(ctx context.Context, c *agents.Context) agents.Result {
		if len(c.ToolResults) == 0 {
			return callTools("list_dir", "read_file")(ctx, c)
		}
		snapshot, _ = h.tasks.Get(ctx, c.TaskID)
		repliesBefore = len(h.events.replies())
		return agents.Result{Success: true, Output: "two files"}
	}
	h = newHarness(t, DefaultConfig(), assistant, toolResults(core.Succeeded("a.txt b.txt"), core.Succeeded("contents")))

	h.process(t, "what files are there?")

	require.NotNil(t, snapshot)
	assert.Equal(t, core.StageAssistant, snapshot.State)
	assert.Equal(t, 1, snapshot.Iteration)
	require.Len(t, snapshot.ToolResults, 2)
	assert.Equal(t, "list_dir", snapshot.ToolResults[0].Tool)
	assert.Equal(t, "read_file", snapshot.ToolResults[1].Tool)
	assert.Empty(t, snapshot.PendingToolCalls)
	assert.Equal(t, 0, repliesBefore)

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, "two files", finals[0].Text)
}

// Manual mode clamps 20 to 8 rounds, then one overflow notice.
func TestIterationBoundOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 20
	cfg.Autonomous = false
	h := newHarness(t, cfg, callTools("shell"), toolResults(core.Succeeded("still going")))

	id := h.process(t, "loop forever")

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, DefaultOverflowNotice, finals[0].Text)
	assert.Equal(t, 8, h.assistant.count())
	assert.Equal(t, 7, h.tool.count())

	task, err := h.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 8, task.Iteration)
	assert.NotContains(t, finals[0].Text, "tool_calls")
}

// An unregistered stage fails the task with the dispatch error.
func TestUnknownStage(t *testing.T) {
	ghost := func(context.Context, *agents.Context) agents.Result {
		return agents.Result{Success: true, Output: "moving on", NextStage: core.Stage("ghost")}
	}
	h := newHarness(t, DefaultConfig(), ghost, unused(t))

	id := h.process(t, "haunt me")

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, "unknown agent: ghost", finals[0].Text)

	task, err := h.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, task.Iteration)
	assert.Equal(t, core.StageAssistant, task.State)
}

// A terminal marker from a tool ends the task without another
// model call.
func TestTerminalMarkerPreemptsAssistant(t *testing.T) {
	h := newHarness(t, DefaultConfig(),
		callTools("notify"),
		toolResults(core.Outcome{OK: true, Marker: &core.TerminalReply{Text: "Done."}}),
	)

	h.process(t, "tell me when done")

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, "Done.", finals[0].Text)
	assert.Equal(t, 1, h.assistant.count())
}

func TestSendMarkerOnToolTransition(t *testing.T) {
	list := &core.SendChecklist{Title: "Groceries", Items: []core.ChecklistItem{{Text: "milk"}}}
	h := newHarness(t, DefaultConfig(), callTools("todo"), toolResults(core.Outcome{OK: true, Marker: list}))

	h.process(t, "send my list")

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, "Groceries", finals[0].Text)
	assert.Equal(t, list, finals[0].Checklist)
}

func TestWithLastSendPicksMostRecent(t *testing.T) {
	first := &core.SendAttachment{Path: "/w/a.pdf", Name: "a.pdf"}
	list := &core.SendChecklist{Title: "Todo"}
	second := &core.SendAttachment{Path: "/w/b.pdf", Name: "b.pdf"}
	history := []core.ToolResult{
		{Tool: "notify", Result: core.Outcome{OK: true, Marker: first}},
		{Tool: "todo", Result: core.Outcome{OK: true, Marker: list}},
		{Tool: "notify", Result: core.Outcome{OK: true, Marker: second}},
		{Tool: "shell", Result: core.Succeeded("plain")},
	}

	d := withLastSend("here you go", history)
	assert.Equal(t, "here you go", d.Text)
	assert.Equal(t, second, d.Attachment)
	assert.Nil(t, d.Checklist)

	d = withLastSend("done", history[:2])
	assert.Equal(t, list, d.Checklist)
	assert.Nil(t, d.Attachment)

	d = withLastSend("nothing", nil)
	assert.Nil(t, d.Attachment)
	assert.Nil(t, d.Checklist)
}

// An assistant that keeps handing back to itself never advances the
// iteration counter; the step cap ends it with the last text it produced.
func TestStepCapStopsStageBouncing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 4
	assistant := func(ctx context.Context, c *agents.Context) agents.Result {
		if len(c.ToolResults) == 0 {
			return callTools("x")(ctx, c)
		}
		return agents.Result{Success: true, Output: "Partial answer so far.", NextStage: core.StageAssistant}
	}
	h := newHarness(t, cfg, assistant, toolResults(core.Succeeded("y")))

	id := h.process(t, "dig deep")

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, "Partial answer so far.", finals[0].Text)
	assert.Equal(t, cfg.maxSteps()-1, h.assistant.count())
	assert.Equal(t, 1, h.tool.count())

	task, err := h.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, task.Iteration)
}

func TestAgentFailureEndsTask(t *testing.T) {
	fail := func(context.Context, *agents.Context) agents.Result {
		return agents.Failure("model unavailable")
	}
	h := newHarness(t, DefaultConfig(), fail, unused(t))

	h.process(t, "hello")

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, "model unavailable", finals[0].Text)
}

func TestStreamingOnlyAfterToolResults(t *testing.T) {
	assistant := func(ctx context.Context, c *agents.Context) agents.Result {
		if len(c.ToolResults) == 0 {
			if c.OnToken != nil {
				t.Error("first assistant round must not stream")
			}
			return callTools("list_dir")(ctx, c)
		}
		require.NotNil(t, c.OnToken)
		c.OnToken("two ")
		c.OnToken("files")
		return agents.Result{Success: true, Output: "two files"}
	}
	h := newHarness(t, DefaultConfig(), assistant, toolResults(core.Succeeded("a b")))

	h.process(t, "list")

	var seq []string
	for _, ev := range h.events.all() {
		switch e := ev.(type) {
		case *bus.StreamToken:
			if e.Done {
				seq = append(seq, "token-done")
			} else {
				seq = append(seq, "token:"+e.Token)
			}
		case *bus.OutgoingReply:
			seq = append(seq, "reply")
		}
	}
	assert.Equal(t, []string{"token:two ", "token:files", "token-done", "reply"}, seq)
}

func TestStreamingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Streaming = false
	assistant := func(ctx context.Context, c *agents.Context) agents.Result {
		if c.OnToken != nil {
			t.Error("streaming callback set while streaming is off")
		}
		if len(c.ToolResults) == 0 {
			return callTools("x")(ctx, c)
		}
		return agents.Result{Success: true, Output: "ok"}
	}
	h := newHarness(t, cfg, assistant, toolResults(core.Succeeded("y")))
	h.process(t, "go")
	assert.Empty(t, h.events.tokens())
}

func TestAgentResultEventsPublished(t *testing.T) {
	h := newHarness(t, DefaultConfig(), answer("Hi!"), unused(t))
	id := h.process(t, "hello")

	var results []*bus.AgentResult
	for _, ev := range h.events.all() {
		if r, ok := ev.(*bus.AgentResult); ok {
			results = append(results, r)
		}
	}
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].TaskID)
	assert.Equal(t, "assistant", results[0].Agent)
	assert.True(t, results[0].Success)
}

func TestTaskExpiredMidRun(t *testing.T) {
	kv := state.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })
	tasks := taskstore.New(kv, 0)

	assistant := &stageAgent{name: "assistant", fn: func(ctx context.Context, c *agents.Context) agents.Result {
		require.NoError(t, tasks.Delete(ctx, c.TaskID))
		return callTools("x")(ctx, c)
	}}
	tool := &stageAgent{name: "tool", fn: unused(t)}
	reg, err := agents.NewRegistry(nil, assistant, tool)
	require.NoError(t, err)
	events := &recorder{}
	o := New(DefaultConfig(), events, tasks, reg)

	_, err = o.Process(context.Background(), &bus.IncomingMessage{MessageID: "m", ChatID: "c", Text: "hi"})
	require.NoError(t, err)
	o.Wait()

	assert.Empty(t, events.replies(), "an expired task ends silently")
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, string, *agents.Context) agents.Result {
	panic("dispatcher exploded")
}
func (panicDispatcher) Has(string) bool { return true }

func TestTaskPanicIsContained(t *testing.T) {
	kv := state.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })
	events := &recorder{}
	o := New(DefaultConfig(), events, taskstore.New(kv, 0), panicDispatcher{})

	_, err := o.Process(context.Background(), &bus.IncomingMessage{MessageID: "m", ChatID: "c", Text: "hi"})
	assert.Error(t, err)

	finals := events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, FailureReply, finals[0].Text)
	assert.NotContains(t, finals[0].Text, "exploded")
}

func TestAgentPanicTextNotShown(t *testing.T) {
	crash := func(context.Context, *agents.Context) agents.Result {
		var counts map[string]int
		counts["calls"]++
		return agents.Result{Success: true}
	}
	h := newHarness(t, DefaultConfig(), crash, unused(t))

	h.process(t, "hello")

	finals := h.events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, FailureReply, finals[0].Text)
	assert.NotContains(t, finals[0].Text, "assignment to entry in nil map")
}

type failingStore struct{}

func (failingStore) Create(context.Context, taskstore.NewTask) (string, error) {
	return "", errors.New("bucket unavailable")
}
func (failingStore) Get(context.Context, string) (*taskstore.Task, error) {
	return nil, taskstore.ErrNotFound
}
func (failingStore) Update(context.Context, string, taskstore.Patch) (bool, error) {
	return false, nil
}

func TestCreateFailureReplies(t *testing.T) {
	events := &recorder{}
	reg, _ := agents.NewRegistry(nil)
	o := New(DefaultConfig(), events, failingStore{}, reg)

	_, err := o.Process(context.Background(), &bus.IncomingMessage{MessageID: "m", ChatID: "c", Text: "hi"})
	assert.Error(t, err)
	finals := events.finals()
	require.Len(t, finals, 1)
	assert.Equal(t, FailureReply, finals[0].Text)
}

// --- Attachment fast path ---

type fakeIndexer struct {
	res *attachments.Result
	err error
}

func (f *fakeIndexer) Index(context.Context, string, []string) (*attachments.Result, error) {
	return f.res, f.err
}

func TestAttachmentOnlyQuestion(t *testing.T) {
	ix := &fakeIndexer{res: &attachments.Result{Names: []string{"q3.txt"}, Summary: "Revenue grew 12%.", RefIDs: []string{"r1"}}}
	h := newHarness(t, DefaultConfig(), unused(t), unused(t), WithIndexer(ix))

	h.process(t, "can you summarize this file?", "q3.txt")

	replies := h.events.replies()
	require.Len(t, replies, 2)
	assert.Equal(t, "Got q3.txt, reading it now.", replies[0].Text)
	assert.False(t, replies[0].Done)
	assert.Equal(t, "Revenue grew 12%.", replies[1].Text)
	assert.True(t, replies[1].Done)
}

func TestAttachmentFoldedIntoText(t *testing.T) {
	ix := &fakeIndexer{res: &attachments.Result{Names: []string{"q3.txt"}, Summary: "Revenue grew 12%.", RefIDs: []string{"r1"}}}
	var seen string
	assistant := func(_ context.Context, c *agents.Context) agents.Result {
		seen = c.Text
		return agents.Result{Success: true, Output: "Compared with Q2 it is up."}
	}
	h := newHarness(t, DefaultConfig(), assistant, unused(t), WithIndexer(ix))

	h.process(t, "compare these numbers with last quarter's figures from my notes folder and draft an email to the team", "q3.txt")

	assert.Contains(t, seen, "compare these numbers")
	assert.Contains(t, seen, "Revenue grew 12%.")
	assert.Contains(t, seen, "r1")

	replies := h.events.replies()
	require.Len(t, replies, 3)
	assert.False(t, replies[0].Done)
	assert.False(t, replies[1].Done)
	assert.True(t, replies[2].Done)
	assert.Len(t, h.events.finals(), 1)
}

func TestAttachmentFailureWithoutText(t *testing.T) {
	ix := &fakeIndexer{err: attachments.ErrNothingIndexed}
	h := newHarness(t, DefaultConfig(), unused(t), unused(t), WithIndexer(ix))

	h.process(t, "", "photo.png")

	replies := h.events.replies()
	require.Len(t, replies, 1)
	assert.Equal(t, AttachmentFailureReply, replies[0].Text)
	assert.True(t, replies[0].Done)
}

func TestAttachmentFailureWithText(t *testing.T) {
	ix := &fakeIndexer{err: attachments.ErrNothingIndexed}
	h := newHarness(t, DefaultConfig(), answer("Sure, here's a poem."), unused(t), WithIndexer(ix))

	h.process(t, "write me a poem about the sea and mountains at dusk please", "photo.png")

	replies := h.events.replies()
	require.Len(t, replies, 2)
	assert.Equal(t, AttachmentFailureReply, replies[0].Text)
	assert.False(t, replies[0].Done)
	assert.Equal(t, "Sure, here's a poem.", replies[1].Text)
	assert.True(t, replies[1].Done)
}

func TestOnlyAboutAttachment(t *testing.T) {
	assert.True(t, onlyAboutAttachment(""))
	assert.True(t, onlyAboutAttachment("What's in this document?"))
	assert.True(t, onlyAboutAttachment("tl;dr"))
	assert.False(t, onlyAboutAttachment("book a table for two tonight"))
	assert.False(t, onlyAboutAttachment("summarize the attached file and then email it to everyone on the team by noon tomorrow"))
	assert.True(t, onlyAboutAttachment("Summarize the file, please."))
	assert.False(t, onlyAboutAttachment("summarize the file and email it to bob"))
	assert.False(t, onlyAboutAttachment("summarize this document then remind me friday"))
	assert.False(t, onlyAboutAttachment("translate this file to French"))
	assert.False(t, onlyAboutAttachment("what's in the attachment? Also, save it."))
}

// --- Memory epilogue ---

type recordingSink struct {
	mu      sync.Mutex
	session memory.Session
	turns   []memory.Turn
	calls   int
	err     error
}

func (s *recordingSink) ConsolidateTurns(_ context.Context, session memory.Session, turns []memory.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.session = session
	s.turns = turns
	return s.err
}

func TestEpilogueRecordsConversation(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, DefaultConfig(), answer("Hi!"), unused(t), WithMemory(sink))

	id := h.process(t, "hello")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, memory.Session{UserID: "alice", ChatID: "chat-1", TaskID: id}, sink.session)
	assert.Equal(t, []memory.Turn{{Role: "user", Content: "hello"}, {Role: "assistant", Content: "Hi!"}}, sink.turns)
}

func TestEpilogueRunsOnFailureAndIgnoresErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("index full")}
	h := newHarness(t, DefaultConfig(), func(context.Context, *agents.Context) agents.Result {
		return agents.Failure("nope")
	}, unused(t), WithMemory(sink))

	h.process(t, "hello")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.calls)
	assert.Len(t, h.events.finals(), 1)
}

// --- Bus integration ---

func TestHandleRunsInBackground(t *testing.T) {
	h := newHarness(t, DefaultConfig(), answer("Hi!"), unused(t))

	err := h.orch.Handle(context.Background(), &bus.IncomingMessage{MessageID: "m", ChatID: "c", Text: "hello"})
	require.NoError(t, err)
	h.orch.Wait()
	assert.Len(t, h.events.finals(), 1)

	err = h.orch.Handle(context.Background(), &bus.StreamToken{ChatID: "c"})
	assert.Error(t, err)
}

func TestEndToEndOverMemoryBus(t *testing.T) {
	mb := bus.NewMemoryBus(bus.DefaultConfig())
	eb := bus.NewEventBus(mb, bus.DefaultEventBusConfig(), nil)
	defer eb.Close()

	kv := state.NewMemoryStore()
	defer kv.Close()
	a := &stageAgent{name: "assistant", fn: answer("Hi!")}
	reg, err := agents.NewRegistry(nil, a)
	require.NoError(t, err)
	o := New(DefaultConfig(), eb, taskstore.New(kv, 0), reg)

	replies := make(chan *bus.OutgoingReply, 1)
	require.NoError(t, eb.Subscribe(bus.ChannelIncomingMessage, o.Handle))
	require.NoError(t, eb.Subscribe(bus.ChannelOutgoingReply, func(_ context.Context, ev bus.Event) error {
		replies <- ev.(*bus.OutgoingReply)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eb.Run(ctx)

	require.NoError(t, eb.Publish(&bus.IncomingMessage{MessageID: "m1", ChatID: "c1", UserID: "u", Text: "hello"}))

	select {
	case r := <-replies:
		assert.Equal(t, "Hi!", r.Text)
		assert.True(t, r.Done)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply received")
	}
	o.Wait()
}
