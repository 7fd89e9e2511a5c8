// Package attachments turns files a user attached to a message into
// something the assistant can use: a short summary for the reply and a
// memory entry per file that later searches can find.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/vinayprograms/courier/logging"
	"github.com/vinayprograms/courier/memory"
	"github.com/vinayprograms/courier/skills"
)

const (
	// DefaultMaxBytes bounds how much of each file is read.
	DefaultMaxBytes = 1 << 20

	// maxStoredChars bounds the document text kept in memory.
	maxStoredChars = 32 * 1024

	// fallbackSummaryChars is the excerpt length used when no model is available.
	fallbackSummaryChars = 400
)

// ErrNothingIndexed is returned when no attachment could be read.
var ErrNothingIndexed = errors.New("no attachment could be read")

// Result describes the indexed attachments.
type Result struct {
	Names   []string // base names of the files that were indexed
	Summary string   // one paragraph per file
	RefIDs  []string // memory ids of the stored documents
	Skipped []string // refs that could not be read, with the reason
}

// Summarizer condenses a document. *llm.Summarizer satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, name, content string) (string, error)
}

// Indexer reads attachments from the workspace, summarises them and
// stores their text in long-term memory.
type Indexer struct {
	ws         skills.Workspace
	summarizer Summarizer
	store      memory.Store
	maxBytes   int64
	logger     *logging.Logger
}

// NewIndexer creates an Indexer. summarizer and store may be nil: without
// a summarizer the summary is an excerpt; without a store no reference
// ids are produced.
func NewIndexer(ws skills.Workspace, summarizer Summarizer, store memory.Store, logger *logging.Logger) *Indexer {
	return &Indexer{
		ws:         ws,
		summarizer: summarizer,
		store:      store,
		maxBytes:   DefaultMaxBytes,
		logger:     logging.OrNop(logger).WithComponent("attachments"),
	}
}

// Index processes refs, which are paths inside the workspace. It fails
// only when none of them could be read.
func (ix *Indexer) Index(ctx context.Context, userID string, refs []string) (*Result, error) {
	res := &Result{}
	var parts []string

	for _, ref := range refs {
		name := filepath.Base(ref)
		text, err := ix.read(ref)
		if err != nil {
			ix.logger.Warn("attachment skipped", map[string]interface{}{"ref": ref, "error": err.Error()})
			res.Skipped = append(res.Skipped, fmt.Sprintf("%s (%v)", name, err))
			continue
		}

		summary := ix.summarize(ctx, name, text)
		parts = append(parts, name+": "+summary)
		res.Names = append(res.Names, name)

		if ix.store == nil {
			continue
		}
		id, err := ix.store.Remember(ctx, memory.Memory{
			Content:  name + "\n" + clip(text, maxStoredChars),
			Category: memory.CategoryDocument,
			Source:   "attachment:" + name,
			UserID:   userID,
		})
		if err != nil {
			ix.logger.Warn("attachment not stored", map[string]interface{}{"ref": ref, "error": err.Error()})
			continue
		}
		res.RefIDs = append(res.RefIDs, id)
	}

	if len(res.Names) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNothingIndexed, strings.Join(res.Skipped, "; "))
	}
	res.Summary = strings.Join(parts, "\n\n")
	return res, nil
}

func (ix *Indexer) read(ref string) (string, error) {
	abs, err := ix.ws.Resolve(ref)
	if err != nil {
		return "", err
	}
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", errors.New("is a directory")
	}

	data, err := io.ReadAll(io.LimitReader(f, ix.maxBytes))
	if err != nil {
		return "", err
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(trimPartialRune(data)) {
		return "", errors.New("not a text file")
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("empty file")
	}
	return text, nil
}

func (ix *Indexer) summarize(ctx context.Context, name, text string) string {
	if ix.summarizer != nil {
		s, err := ix.summarizer.Summarize(ctx, name, text)
		if err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		if err != nil {
			ix.logger.Warn("summary failed, using excerpt", map[string]interface{}{"file": name, "error": err.Error()})
		}
	}
	return clip(strings.Join(strings.Fields(text), " "), fallbackSummaryChars)
}

// trimPartialRune drops a rune cut in half by the read limit.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s + "..."
}
