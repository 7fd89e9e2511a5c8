package skills

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinayprograms/courier/core"
)

// Notify lets the model address the user directly: a final reply, a file
// or a checklist. Each action attaches a delivery marker to the outcome.
type Notify struct {
	WS Workspace
}

func (s *Notify) Name() string { return "notify" }

func (s *Notify) Description() string {
	return "Deliver something to the user and end the turn. Actions: reply (text), send_file (path, caption), checklist (title, items)."
}

func (s *Notify) Parameters() map[string]interface{} {
	return schema([]string{"action"}, map[string]interface{}{
		"action": map[string]interface{}{
			"type": "string",
			"enum": []string{"reply", "send_file", "checklist"},
		},
		"text":    prop("string", "Reply text, for reply"),
		"path":    prop("string", "Workspace file to send, for send_file"),
		"caption": prop("string", "Caption for the file"),
		"title":   prop("string", "Checklist title"),
		"items": map[string]interface{}{
			"type":        "array",
			"description": "Checklist items: strings, or objects with text and done",
		},
	})
}

func (s *Notify) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	action, err := args.String("action")
	if err != nil {
		return core.Outcome{}, err
	}

	switch action {
	case "reply":
		text, err := args.String("text")
		if err != nil {
			return core.Outcome{}, err
		}
		out := core.Succeeded("reply queued")
		out.Marker = &core.TerminalReply{Text: text}
		return out, nil

	case "send_file":
		path, err := args.String("path")
		if err != nil {
			return core.Outcome{}, err
		}
		abs, err := s.WS.check(s.Name(), path, false)
		if err != nil {
			return core.Outcome{}, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return core.Outcome{}, fmt.Errorf("cannot send file: %w", err)
		}
		if info.IsDir() {
			return core.Outcome{}, fmt.Errorf("cannot send a directory: %s", path)
		}
		att := &core.SendAttachment{
			Path:     abs,
			Name:     filepath.Base(abs),
			MimeType: mime.TypeByExtension(filepath.Ext(abs)),
			Caption:  args.StringOr("caption", ""),
		}
		if att.MimeType == "" {
			att.MimeType = "application/octet-stream"
		}
		out := core.Succeeded("file queued: " + att.Name)
		out.Marker = att
		return out, nil

	case "checklist":
		items, err := checklistItems(args.Raw("items"))
		if err != nil {
			return core.Outcome{}, err
		}
		out := core.Succeeded(fmt.Sprintf("checklist queued (%d items)", len(items)))
		out.Marker = &core.SendChecklist{Title: args.StringOr("title", ""), Items: items}
		return out, nil
	}
	return core.Outcome{}, fmt.Errorf("unknown action: %s", action)
}

func checklistItems(raw interface{}) ([]core.ChecklistItem, error) {
	list, ok := raw.([]interface{})
	if !ok {
		if strs, ok := raw.([]string); ok {
			for _, s := range strs {
				list = append(list, s)
			}
		} else {
			return nil, fmt.Errorf("items must be an array")
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("items is empty")
	}

	items := make([]core.ChecklistItem, 0, len(list))
	for i, v := range list {
		switch it := v.(type) {
		case string:
			items = append(items, core.ChecklistItem{Text: strings.TrimSpace(it)})
		case map[string]interface{}:
			text, _ := it["text"].(string)
			if text == "" {
				return nil, fmt.Errorf("items[%d].text is required", i)
			}
			done, _ := it["done"].(bool)
			items = append(items, core.ChecklistItem{Text: text, Done: done})
		default:
			return nil, fmt.Errorf("items[%d] must be a string or object, got %T", i, v)
		}
	}
	return items, nil
}
