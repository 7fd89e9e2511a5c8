package core

import (
	"encoding/json"
	"testing"
)

func TestOutcome_JSONKeepsVariant(t *testing.T) {
	in := []ToolResult{
		{Tool: "shell", Result: Succeeded("ok")},
		{Tool: "notify", Result: Outcome{OK: true, Marker: &SendChecklist{
			Title: "Today",
			Items: []ChecklistItem{{Text: "buy milk"}},
		}}},
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out []ToolResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out[0].Result.Marker != nil {
		t.Errorf("plain result grew a marker: %#v", out[0].Result.Marker)
	}
	cl, ok := out[1].Result.Marker.(*SendChecklist)
	if !ok {
		t.Fatalf("expected *SendChecklist, got %T", out[1].Result.Marker)
	}
	if cl.Title != "Today" || len(cl.Items) != 1 || cl.Items[0].Text != "buy milk" {
		t.Errorf("checklist payload lost: %+v", cl)
	}
}

func TestOutcome_UnknownKind(t *testing.T) {
	var o Outcome
	err := json.Unmarshal([]byte(`{"ok":true,"marker":{"kind":"teleport"}}`), &o)
	if err == nil {
		t.Error("expected error for unknown marker kind")
	}
}

func TestFindDelivery(t *testing.T) {
	tests := []struct {
		name     string
		results  []ToolResult
		wantOK   bool
		wantText string
		wantFile bool
	}{
		{"plain only", []ToolResult{{Result: Succeeded("x")}}, false, "", false},
		{"terminal", []ToolResult{{Result: Outcome{OK: true, Marker: &TerminalReply{Text: "Done."}}}}, true, "Done.", false},
		{"attachment with caption", []ToolResult{
			{Result: Outcome{OK: true, Marker: &SendAttachment{Path: "a.pdf", Caption: "here"}}},
		}, true, "here", true},
		{"terminal text wins over caption", []ToolResult{
			{Result: Outcome{OK: true, Marker: &TerminalReply{Text: "Sent."}}},
			{Result: Outcome{OK: true, Marker: &SendAttachment{Path: "a.pdf", Caption: "here"}}},
		}, true, "Sent.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := FindDelivery(tt.results)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if d.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", d.Text, tt.wantText)
			}
			if (d.Attachment != nil) != tt.wantFile {
				t.Errorf("Attachment = %v", d.Attachment)
			}
		})
	}
}

func TestLastSend(t *testing.T) {
	results := []ToolResult{
		{Result: Outcome{OK: true, Marker: &SendAttachment{Path: "old.txt"}}},
		{Result: Outcome{OK: true, Marker: &SendChecklist{Title: "new"}}},
		{Result: Succeeded("plain")},
	}

	m := LastSend(results)
	if cl, ok := m.(*SendChecklist); !ok || cl.Title != "new" {
		t.Errorf("LastSend = %#v, want the checklist", m)
	}
	if LastSend(nil) != nil {
		t.Error("LastSend(nil) should be nil")
	}
}

func TestStageValid(t *testing.T) {
	if !StageAssistant.Valid() || !StageTool.Valid() {
		t.Error("known stages should be valid")
	}
	if Stage("ghost").Valid() {
		t.Error("ghost should not be valid")
	}
}
