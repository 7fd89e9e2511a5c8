package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/vinayprograms/courier/agents"
	"github.com/vinayprograms/courier/bus"
	"github.com/vinayprograms/courier/core"
	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/taskstore"
)

// run is the state of one task's procedure.
type run struct {
	o      *Orchestrator
	msg    *bus.IncomingMessage
	taskID string

	iterations int
	streamed   bool
	finished   bool
	reply      string
	outcome    string
}

func (r *run) execute(ctx context.Context, bound int) {
	if len(r.msg.Attachments) > 0 && r.o.indexer != nil {
		if done := r.attachments(ctx); done {
			return
		}
	}

	maxSteps := r.o.cfg.maxSteps()
	var lastOutput string

	for step := 0; ; step++ {
		t, err := r.o.tasks.Get(ctx, r.taskID)
		if errors.Is(err, taskstore.ErrNotFound) {
			r.o.logger.Warn("task expired mid-run", map[string]interface{}{"task": r.taskID})
			r.outcome = "expired"
			return
		}
		if err != nil {
			r.storeFailed(err)
			return
		}
		r.iterations = t.Iteration

		if t.Iteration >= bound {
			r.overflow(t, lastOutput)
			return
		}
		if step >= maxSteps {
			r.o.logger.Warn("step cap reached", map[string]interface{}{"task": r.taskID, "steps": step})
			r.overflow(t, lastOutput)
			return
		}

		res := r.dispatch(ctx, t)

		if !res.Success {
			r.finishText(res.Error, "failed")
			return
		}
		// tool-call turns carry machine-directed text
		if len(res.ToolCalls) > 0 {
			res.Output = ""
		}
		if t.State == core.StageAssistant && res.Output != "" {
			lastOutput = res.Output
		}

		if res.NextStage == "" {
			r.finish(withLastSend(res.Output, t.ToolResults), "answered")
			return
		}

		next := res.NextStage
		if !r.o.agents.Has(string(next)) {
			r.finishText(apperrors.UnknownAgent(string(next)).Message(), "failed")
			return
		}

		iteration := t.Iteration
		patch := taskstore.Patch{State: taskstore.StatePtr(next)}
		if t.State == core.StageAssistant && next == core.StageTool {
			iteration++
			patch.Iteration = taskstore.IntPtr(iteration)
		}

		var fresh []core.ToolResult
		switch next {
		case core.StageTool:
			patch.PendingToolCalls = taskstore.CallsPtr(res.ToolCalls)
		case core.StageAssistant:
			fresh = res.ToolResults
			if len(fresh) > 0 {
				merged := make([]core.ToolResult, 0, len(t.ToolResults)+len(fresh))
				merged = append(merged, t.ToolResults...)
				merged = append(merged, fresh...)
				patch.ToolResults = taskstore.ResultsPtr(merged)
			}
			patch.PendingToolCalls = taskstore.CallsPtr([]core.ToolCall{})
		}

		ok, err := r.o.tasks.Update(ctx, r.taskID, patch)
		if err != nil {
			r.storeFailed(err)
			return
		}
		if !ok {
			r.outcome = "expired"
			return
		}
		r.iterations = iteration

		if next == core.StageTool {
			continue
		}
		if d, ok := core.FindDelivery(fresh); ok {
			r.finish(d, "delivered")
			return
		}
	}
}

func (r *run) dispatch(ctx context.Context, t *taskstore.Task) agents.Result {
	actx := &agents.Context{
		TaskID:           t.ID,
		UserID:           t.UserID,
		ChatID:           t.ChatID,
		Channel:          t.Channel,
		Text:             t.Text,
		Reasoning:        t.Reasoning,
		Iteration:        t.Iteration,
		ToolResults:      t.ToolResults,
		PendingToolCalls: t.PendingToolCalls,
	}
	// first-round assistant output may be tool-call JSON, so only stream
	// once tools have run
	if t.Stream && t.State == core.StageAssistant && len(t.ToolResults) > 0 {
		actx.OnToken = r.streamToken
	}

	stage := string(t.State)
	r.o.logger.StageDispatch(t.ID, stage, t.Iteration)
	sctx, span := r.o.tracer.StartStageSpan(ctx, stage, t.Iteration)
	res := r.o.agents.Dispatch(sctx, stage, actx)
	r.o.tracer.EndStageSpan(span, string(res.NextStage), res.Error)

	r.o.publish(&bus.AgentResult{
		TaskID:    t.ID,
		Agent:     stage,
		Success:   res.Success,
		Output:    res.Output,
		ToolCalls: res.ToolCalls,
		Error:     res.Error,
	})
	return res
}

func (r *run) streamToken(token string) {
	if token == "" {
		return
	}
	r.streamed = true
	r.o.publish(&bus.StreamToken{TaskID: r.taskID, ChatID: r.msg.ChatID, Token: token})
}

// attachments runs the attachment fast path and reports whether it
// ended the task.
func (r *run) attachments(ctx context.Context) bool {
	question := strings.TrimSpace(r.msg.Text)

	res, err := r.o.indexer.Index(ctx, r.msg.UserID, r.msg.Attachments)
	if err != nil {
		r.o.logger.Warn("attachment indexing failed", map[string]interface{}{"task": r.taskID, "error": err.Error()})
		if question == "" {
			r.finishText(AttachmentFailureReply, "attachment_failed")
			return true
		}
		r.say(AttachmentFailureReply)
		return false
	}
	if res == nil || res.Summary == "" {
		return false
	}

	r.say(acknowledge(res.Names))
	if onlyAboutAttachment(question) {
		r.finishText(res.Summary, "attachment_answered")
		return true
	}
	r.say(res.Summary)

	text := foldAttachment(question, res)
	if _, err := r.o.tasks.Update(ctx, r.taskID, taskstore.Patch{Text: taskstore.StringPtr(text)}); err != nil {
		r.o.logger.Warn("attachment text not saved", map[string]interface{}{"task": r.taskID, "error": err.Error()})
	}
	return false
}

// say publishes an intermediate reply.
func (r *run) say(text string) {
	r.o.publish(&bus.OutgoingReply{
		TaskID:    r.taskID,
		ChatID:    r.msg.ChatID,
		MessageID: r.msg.MessageID,
		Text:      text,
	})
}

func (r *run) overflow(t *taskstore.Task, lastOutput string) {
	text := lastOutput
	if text == "" {
		text = r.o.cfg.OverflowNotice
	}
	r.finish(withLastSend(text, t.ToolResults), "overflow")
}

func (r *run) storeFailed(err error) {
	r.o.logger.Error("task store failed", map[string]interface{}{
		"task":  r.taskID,
		"code":  string(apperrors.Code(err)),
		"error": err.Error(),
	})
	r.finishText(FailureReply, "store_error")
}

func (r *run) finishText(text, outcome string) {
	r.finish(core.Delivery{Text: text}, outcome)
}

// finish publishes the final reply. Only the first call per task has
// any effect.
func (r *run) finish(d core.Delivery, outcome string) {
	if r.finished {
		r.o.logger.Warn("duplicate final reply suppressed", map[string]interface{}{"task": r.taskID, "outcome": outcome})
		return
	}
	r.finished = true
	r.outcome = outcome

	text := d.Text
	if text == "" {
		switch {
		case d.Attachment != nil:
			text = "Here is " + d.Attachment.Name + "."
		case d.Checklist != nil:
			text = d.Checklist.Title
		}
	}
	r.reply = text

	if r.streamed {
		r.o.publish(&bus.StreamToken{TaskID: r.taskID, ChatID: r.msg.ChatID, Done: true})
	}
	r.o.publish(&bus.OutgoingReply{
		TaskID:     r.taskID,
		ChatID:     r.msg.ChatID,
		MessageID:  r.msg.MessageID,
		Text:       text,
		Done:       true,
		Attachment: d.Attachment,
		Checklist:  d.Checklist,
	})
}

// withLastSend pairs text with the most recent send marker in history.
func withLastSend(text string, history []core.ToolResult) core.Delivery {
	d := core.Delivery{Text: text}
	switch m := core.LastSend(history).(type) {
	case *core.SendAttachment:
		d.Attachment = m
	case *core.SendChecklist:
		d.Checklist = m
	}
	return d
}
