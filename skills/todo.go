package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/courier/core"
	"github.com/vinayprograms/courier/state"
)

const (
	todoKeyPrefix    = "todo."
	todoMaxAttempts  = 5
	defaultTodoTitle = "Todo"
)

// Todo keeps a per-user todo list in a state store.
type Todo struct {
	Store state.StateStore
	TTL   time.Duration // 0 keeps lists forever
}

func (s *Todo) Name() string { return "todo" }

func (s *Todo) Description() string {
	return "Manage the user's todo list. Actions: add, list, done, clear, send (shows the list as a checklist)."
}

func (s *Todo) Parameters() map[string]interface{} {
	return schema([]string{"action"}, map[string]interface{}{
		"action": map[string]interface{}{
			"type": "string",
			"enum": []string{"add", "list", "done", "clear", "send"},
		},
		"text":  prop("string", "Item text, for add"),
		"index": prop("integer", "1-based item number, for done"),
		"title": prop("string", "Checklist title, for send"),
	})
}

func (s *Todo) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	action, err := args.String("action")
	if err != nil {
		return core.Outcome{}, err
	}
	key := todoKey(ctx)

	switch action {
	case "list":
		items, _, err := s.load(ctx, key)
		if err != nil {
			return core.Outcome{}, err
		}
		return core.Succeeded(renderTodo(items)), nil

	case "send":
		items, _, err := s.load(ctx, key)
		if err != nil {
			return core.Outcome{}, err
		}
		title := args.StringOr("title", defaultTodoTitle)
		out := core.Succeeded(renderTodo(items))
		out.Marker = &core.SendChecklist{Title: title, Items: items}
		return out, nil

	case "add":
		text, err := args.String("text")
		if err != nil {
			return core.Outcome{}, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return core.Outcome{}, fmt.Errorf("text is empty")
		}
		items, err := s.modify(ctx, key, func(items []core.ChecklistItem) ([]core.ChecklistItem, error) {
			return append(items, core.ChecklistItem{Text: text}), nil
		})
		if err != nil {
			return core.Outcome{}, err
		}
		return core.Succeeded(fmt.Sprintf("added item %d: %s", len(items), text)), nil

	case "done":
		idx, err := args.Int("index")
		if err != nil {
			return core.Outcome{}, err
		}
		_, err = s.modify(ctx, key, func(items []core.ChecklistItem) ([]core.ChecklistItem, error) {
			if idx < 1 || idx > len(items) {
				return nil, fmt.Errorf("no item %d (list has %d)", idx, len(items))
			}
			items[idx-1].Done = true
			return items, nil
		})
		if err != nil {
			return core.Outcome{}, err
		}
		return core.Succeeded(fmt.Sprintf("item %d done", idx)), nil

	case "clear":
		if err := s.Store.Delete(ctx, key); err != nil {
			return core.Outcome{}, fmt.Errorf("clear failed: %w", err)
		}
		return core.Succeeded("todo list cleared"), nil
	}
	return core.Outcome{}, fmt.Errorf("unknown action: %s", action)
}

func (s *Todo) load(ctx context.Context, key string) ([]core.ChecklistItem, *state.Entry, error) {
	entry, err := s.Store.Get(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		return []core.ChecklistItem{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load todo list: %w", err)
	}
	var items []core.ChecklistItem
	if err := json.Unmarshal(entry.Value, &items); err != nil {
		return nil, nil, fmt.Errorf("decode todo list: %w", err)
	}
	return items, entry, nil
}

// modify applies fn with compare-and-set, retrying on concurrent writes.
func (s *Todo) modify(ctx context.Context, key string, fn func([]core.ChecklistItem) ([]core.ChecklistItem, error)) ([]core.ChecklistItem, error) {
	for attempt := 0; attempt < todoMaxAttempts; attempt++ {
		items, entry, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		items, err = fn(items)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(items)
		if err != nil {
			return nil, err
		}

		if entry == nil {
			_, err = s.Store.Put(ctx, key, data, s.TTL)
		} else {
			_, err = s.Store.Update(ctx, key, data, entry.Revision, s.TTL)
		}
		if errors.Is(err, state.ErrRevisionMismatch) || errors.Is(err, state.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save todo list: %w", err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("save todo list: too many concurrent updates")
}

func todoKey(ctx context.Context) string {
	user := "anonymous"
	if c, ok := CallerFrom(ctx); ok && c.UserID != "" {
		user = c.UserID
	}
	return todoKeyPrefix + sanitizeKeyToken(user)
}

// sanitizeKeyToken maps characters state keys reject to '_'.
func sanitizeKeyToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '*', '>', '.':
			return '_'
		}
		return r
	}, s)
}

func renderTodo(items []core.ChecklistItem) string {
	if len(items) == 0 {
		return "todo list is empty"
	}
	var b strings.Builder
	for i, it := range items {
		mark := " "
		if it.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, it.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
