package orchestrator

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/courier/attachments"
)

// maxAttachmentQuestionWords bounds how long a message can be and still
// count as just a question about the attachment.
const maxAttachmentQuestionWords = 12

var attachmentPhrases = []string{
	"this file", "the file", "this document", "the document", "this doc",
	"attached", "attachment", "this pdf", "the pdf",
	"summarize", "summarise", "summary", "tl;dr", "tldr",
	"what is this", "what's this", "what's in", "what is in", "what does it say",
}

// furtherWork marks a request that asks for more than reading the file: a
// second clause or an action on its content.
var furtherWork = map[string]bool{
	"and": true, "then": true, "also": true, "plus": true, "but": true,
	"after": true, "before": true, "&": true,
	"send": true, "email": true, "mail": true, "share": true, "forward": true,
	"save": true, "write": true, "translate": true, "compare": true,
	"remind": true, "schedule": true, "post": true, "reply": true,
}

// onlyAboutAttachment reports whether text needs nothing beyond the
// attachment summary: it is empty, or a short single request about the file.
func onlyAboutAttachment(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return true
	}
	words := strings.Fields(text)
	if len(words) > maxAttachmentQuestionWords {
		return false
	}
	for _, w := range words {
		if furtherWork[strings.Trim(w, ".,!?:;\"'()")] {
			return false
		}
	}
	for _, p := range attachmentPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func acknowledge(names []string) string {
	switch len(names) {
	case 0:
		return "Got your attachment, reading it now."
	case 1:
		return fmt.Sprintf("Got %s, reading it now.", names[0])
	default:
		return fmt.Sprintf("Got %d files (%s), reading them now.", len(names), strings.Join(names, ", "))
	}
}

// foldAttachment appends the summary and reference ids to the user's text
// so the assistant can answer with them in view.
func foldAttachment(question string, res *attachments.Result) string {
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\n[Attached: ")
	b.WriteString(strings.Join(res.Names, ", "))
	b.WriteString("]\n")
	b.WriteString(res.Summary)
	if len(res.RefIDs) > 0 {
		b.WriteString("\n[Reference ids: ")
		b.WriteString(strings.Join(res.RefIDs, ", "))
		b.WriteString("; use memory_search for details]")
	}
	return b.String()
}
