package core

import (
	"encoding/json"
	"fmt"
)

// MarkerKind discriminates the Marker variants.
type MarkerKind string

const (
	KindPlain          MarkerKind = "plain"
	KindTerminalReply  MarkerKind = "terminal_reply"
	KindSendAttachment MarkerKind = "send_attachment"
	KindSendChecklist  MarkerKind = "send_checklist"
)

// Marker is a delivery instruction attached to a skill outcome.
// Implemented by *TerminalReply, *SendAttachment and *SendChecklist.
type Marker interface {
	Kind() MarkerKind
}

// TerminalReply ends the task with Text as the final reply.
type TerminalReply struct {
	Text string `json:"text"`
}

// SendAttachment delivers a file to the user.
type SendAttachment struct {
	Path     string `json:"path"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// ChecklistItem is one line of a checklist.
type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// SendChecklist delivers a structured checklist to the user.
type SendChecklist struct {
	Title string          `json:"title,omitempty"`
	Items []ChecklistItem `json:"items"`
}

func (*TerminalReply) Kind() MarkerKind  { return KindTerminalReply }
func (*SendAttachment) Kind() MarkerKind { return KindSendAttachment }
func (*SendChecklist) Kind() MarkerKind  { return KindSendChecklist }

// KindOf returns the kind of m, KindPlain for nil.
func KindOf(m Marker) MarkerKind {
	if m == nil {
		return KindPlain
	}
	return m.Kind()
}

// IsSend reports whether m asks for a file or checklist delivery.
func IsSend(m Marker) bool {
	k := KindOf(m)
	return k == KindSendAttachment || k == KindSendChecklist
}

type markerEnvelope struct {
	Kind       MarkerKind      `json:"kind"`
	Reply      *TerminalReply  `json:"reply,omitempty"`
	Attachment *SendAttachment `json:"attachment,omitempty"`
	Checklist  *SendChecklist  `json:"checklist,omitempty"`
}

type outcomeJSON struct {
	OK     bool            `json:"ok"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Marker *markerEnvelope `json:"marker,omitempty"`
}

// MarshalJSON encodes the marker variant under a kind discriminator.
func (o Outcome) MarshalJSON() ([]byte, error) {
	j := outcomeJSON{OK: o.OK, Output: o.Output, Error: o.Error}
	switch m := o.Marker.(type) {
	case nil:
	case *TerminalReply:
		j.Marker = &markerEnvelope{Kind: KindTerminalReply, Reply: m}
	case *SendAttachment:
		j.Marker = &markerEnvelope{Kind: KindSendAttachment, Attachment: m}
	case *SendChecklist:
		j.Marker = &markerEnvelope{Kind: KindSendChecklist, Checklist: m}
	default:
		return nil, fmt.Errorf("unsupported marker %T", o.Marker)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an outcome written by MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var j outcomeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*o = Outcome{OK: j.OK, Output: j.Output, Error: j.Error}
	if j.Marker == nil {
		return nil
	}
	switch j.Marker.Kind {
	case KindPlain:
	case KindTerminalReply:
		if j.Marker.Reply == nil {
			return fmt.Errorf("marker %s without payload", j.Marker.Kind)
		}
		o.Marker = j.Marker.Reply
	case KindSendAttachment:
		if j.Marker.Attachment == nil {
			return fmt.Errorf("marker %s without payload", j.Marker.Kind)
		}
		o.Marker = j.Marker.Attachment
	case KindSendChecklist:
		if j.Marker.Checklist == nil {
			return fmt.Errorf("marker %s without payload", j.Marker.Kind)
		}
		o.Marker = j.Marker.Checklist
	default:
		return fmt.Errorf("unknown marker kind %q", j.Marker.Kind)
	}
	return nil
}

// Delivery is what a task hands to the user when it finishes early
// because a skill asked for it.
type Delivery struct {
	Text       string
	Attachment *SendAttachment
	Checklist  *SendChecklist
}

// FindDelivery scans fresh tool results for markers. The text comes from
// the last terminal reply; the attachment or checklist from the last send
// marker. ok is false when no result carried a marker.
func FindDelivery(results []ToolResult) (d Delivery, ok bool) {
	for _, r := range results {
		switch m := r.Result.Marker.(type) {
		case *TerminalReply:
			d.Text = m.Text
			ok = true
		case *SendAttachment:
			d.Attachment, d.Checklist = m, nil
			if d.Text == "" {
				d.Text = m.Caption
			}
			ok = true
		case *SendChecklist:
			d.Checklist, d.Attachment = m, nil
			if d.Text == "" {
				d.Text = m.Title
			}
			ok = true
		}
	}
	return d, ok
}

// LastSend returns the most recent send marker in the history, or nil.
func LastSend(results []ToolResult) Marker {
	for i := len(results) - 1; i >= 0; i-- {
		if m := results[i].Result.Marker; IsSend(m) {
			return m
		}
	}
	return nil
}
