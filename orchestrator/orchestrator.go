// Package orchestrator drives a task from an incoming message to exactly
// one final reply.
//
// Each message becomes a task record in the task store and runs through a
// loop of stage dispatches: the assistant stage either answers or asks for
// tool calls, the tool stage runs them and hands back results. The loop
// ends on an answer, an agent failure, a skill marker that delivers
// something to the user, or when the round bound is used up.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/courier/agents"
	"github.com/vinayprograms/courier/attachments"
	"github.com/vinayprograms/courier/bus"
	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/memory"
	"github.com/vinayprograms/courier/taskstore"
	"github.com/vinayprograms/courier/telemetry"
)

// Publisher sends events. *bus.EventBus satisfies it.
type Publisher interface {
	Publish(ev bus.Event) error
}

// TaskStore persists task records. *taskstore.Store satisfies it.
type TaskStore interface {
	Create(ctx context.Context, nt taskstore.NewTask) (string, error)
	Get(ctx context.Context, id string) (*taskstore.Task, error)
	Update(ctx context.Context, id string, p taskstore.Patch) (bool, error)
}

// Dispatcher runs stage agents. *agents.Registry satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, c *agents.Context) agents.Result
	Has(name string) bool
}

// AttachmentIndexer extracts and stores attached files.
// *attachments.Indexer satisfies it.
type AttachmentIndexer interface {
	Index(ctx context.Context, userID string, refs []string) (*attachments.Result, error)
}

// MemorySink receives finished conversations. memory.Store satisfies it.
type MemorySink interface {
	ConsolidateTurns(ctx context.Context, session memory.Session, turns []memory.Turn) error
}

// Orchestrator runs tasks.
type Orchestrator struct {
	cfg    Config
	events Publisher
	tasks  TaskStore
	agents Dispatcher

	indexer  AttachmentIndexer
	memory   MemorySink
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	exporter telemetry.Exporter

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Int64
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithIndexer enables the attachment fast path.
func WithIndexer(ix AttachmentIndexer) Option {
	return func(o *Orchestrator) { o.indexer = ix }
}

// WithMemory enables the memory epilogue.
func WithMemory(m MemorySink) Option {
	return func(o *Orchestrator) { o.memory = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l).WithComponent("orchestrator") }
}

// WithTracer sets the tracer used for task and stage spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithExporter sets the task lifecycle event exporter.
func WithExporter(e telemetry.Exporter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.exporter = e
		}
	}
}

// New creates an Orchestrator.
func New(cfg Config, events Publisher, tasks TaskStore, dispatcher Dispatcher, opts ...Option) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		events:   events,
		tasks:    tasks,
		agents:   dispatcher,
		logger:   logging.Nop(),
		tracer:   telemetry.GetTracer(),
		exporter: telemetry.NewNoopExporter(),
		base:     base,
		cancel:   cancel,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Handle is the incoming_message subscriber. It starts the task in the
// background and returns at once, so one slow task never holds up the
// bus listener.
func (o *Orchestrator) Handle(_ context.Context, ev bus.Event) error {
	msg, ok := ev.(*bus.IncomingMessage)
	if !ok {
		return fmt.Errorf("orchestrator: unexpected event %T", ev)
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.Process(o.base, msg)
	}()
	return nil
}

// Process runs one task to completion and returns its id.
func (o *Orchestrator) Process(ctx context.Context, msg *bus.IncomingMessage) (taskID string, err error) {
	start := o.now()
	r := &run{o: o, msg: msg, outcome: "expired"}
	o.active.Add(1)
	defer o.active.Add(-1)

	id, err := o.tasks.Create(ctx, taskstore.NewTask{
		UserID:    msg.UserID,
		ChatID:    msg.ChatID,
		Channel:   msg.Source,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Reasoning: msg.Reasoning,
		Stream:    o.cfg.Streaming,
	})
	if err != nil {
		o.logger.Error("task create failed", map[string]interface{}{"chat": msg.ChatID, "error": err.Error()})
		r.finishText(FailureReply, "store_error")
		return "", err
	}
	r.taskID = id

	bound := o.cfg.Bound()
	ctx, span := o.tracer.StartTaskSpan(ctx, id, msg.ChatID)
	o.logger.TaskStart(id, msg.ChatID, bound)
	o.exporter.LogEvent(telemetry.Event{
		Name:   "task.start",
		TaskID: id,
		Data: map[string]interface{}{
			"chat":        msg.ChatID,
			"channel":     msg.Source,
			"bound":       bound,
			"attachments": len(msg.Attachments),
		},
	})

	defer func() {
		if rec := recover(); rec != nil {
			perr := apperrors.RecoverPanic(rec)
			o.logger.Error("task panicked", map[string]interface{}{"task": id, "error": perr.Message()})
			r.finishText(FailureReply, "panic")
			err = perr
		}
		o.logger.TaskComplete(id, r.iterations, o.now().Sub(start), r.outcome)
		o.exporter.LogEvent(telemetry.Event{
			Name:   "task.complete",
			TaskID: id,
			Data: map[string]interface{}{
				"outcome":    r.outcome,
				"iterations": r.iterations,
				"duration":   o.now().Sub(start).String(),
			},
		})
		o.tracer.EndTaskSpan(span, r.outcome, r.iterations)
		o.epilogue(ctx, r)
	}()

	r.execute(ctx, bound)
	return id, nil
}

// Active returns the number of tasks currently running.
func (o *Orchestrator) Active() int { return int(o.active.Load()) }

// Wait blocks until every started task and background job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close waits for running tasks until ctx expires, then cancels them.
func (o *Orchestrator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		return ctx.Err()
	}
}

// epilogue folds the finished conversation into long-term memory in the
// background. Failures are logged only.
func (o *Orchestrator) epilogue(ctx context.Context, r *run) {
	if o.memory == nil || r.taskID == "" {
		return
	}
	turns := []memory.Turn{{Role: "user", Content: r.msg.Text}}
	if r.reply != "" {
		turns = append(turns, memory.Turn{Role: "assistant", Content: r.reply})
	}
	session := memory.Session{UserID: r.msg.UserID, ChatID: r.msg.ChatID, TaskID: r.taskID}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				o.logger.Error("memory epilogue panicked", map[string]interface{}{
					"task":  session.TaskID,
					"error": apperrors.RecoverPanic(rec).Message(),
				})
			}
		}()

		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.MemoryTimeout)
		defer cancel()
		if err := o.memory.ConsolidateTurns(mctx, session, turns); err != nil {
			o.logger.Warn("memory consolidation failed", map[string]interface{}{
				"task":  session.TaskID,
				"error": err.Error(),
			})
		}
	}()
}

func (o *Orchestrator) publish(ev bus.Event) {
	if err := o.events.Publish(ev); err != nil {
		o.logger.Error("publish failed", map[string]interface{}{
			"channel": string(ev.Channel()),
			"error":   err.Error(),
		})
	}
}
