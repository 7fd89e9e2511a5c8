package skills

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vinayprograms/courier/core"
	"github.com/vinayprograms/courier/logging"
)

type fakeSkill struct {
	name  string
	calls int
	fn    func(ctx context.Context, args Args) (core.Outcome, error)
}

func (f *fakeSkill) Name() string                       { return f.name }
func (f *fakeSkill) Description() string                { return "fake " + f.name }
func (f *fakeSkill) Parameters() map[string]interface{} { return schema(nil, nil) }

func (f *fakeSkill) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	f.calls++
	return f.fn(ctx, args)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRegistry(t *testing.T) (*Registry, *lockedBuffer) {
	t.Helper()
	out := &lockedBuffer{}
	logger := logging.New()
	logger.SetOutput(out)
	logger.SetLevel(logging.LevelDebug)
	return NewRegistry(logger), out
}

// --- Unit Tests ---

func TestRunUnknownSkill(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Run(context.Background(), "nope", nil)
	if out.OK {
		t.Fatal("expected failure")
	}
	if out.Error != "unknown skill: nope" {
		t.Errorf("error = %q", out.Error)
	}
}

func TestRunSuccessAudits(t *testing.T) {
	r, logs := newTestRegistry(t)
	s := &fakeSkill{name: "echo", fn: func(ctx context.Context, args Args) (core.Outcome, error) {
		v, _ := args.String("b")
		return core.Succeeded(v), nil
	}}
	r.MustRegister(s)

	out := r.Run(context.Background(), "echo", map[string]interface{}{"b": "hi", "a": 1})
	if !out.OK || out.Output != "hi" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	var audits []string
	for _, l := range lines {
		if strings.Contains(l, "skill_audit") {
			audits = append(audits, l)
		}
	}
	if len(audits) != 2 {
		t.Fatalf("expected 2 audit lines, got %d:\n%s", len(audits), logs.String())
	}
	if !strings.Contains(audits[0], "phase=before") || !strings.Contains(audits[0], "params=a,b") {
		t.Errorf("before line = %q", audits[0])
	}
	if !strings.Contains(audits[1], "phase=after") || !strings.Contains(audits[1], "ok=true") {
		t.Errorf("after line = %q", audits[1])
	}
	if strings.Contains(logs.String(), "hi") {
		t.Error("parameter values must not be logged")
	}
}

func TestRunConvertsError(t *testing.T) {
	r, logs := newTestRegistry(t)
	r.MustRegister(&fakeSkill{name: "bad", fn: func(ctx context.Context, args Args) (core.Outcome, error) {
		return core.Outcome{Output: "partial"}, errors.New("disk full")
	}})

	out := r.Run(context.Background(), "bad", nil)
	if out.OK || out.Error != "disk full" || out.Output != "partial" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if !strings.Contains(logs.String(), "ok=false") {
		t.Errorf("after audit should record failure:\n%s", logs.String())
	}
}

func TestRunRecoversPanic(t *testing.T) {
	r, logs := newTestRegistry(t)
	r.MustRegister(&fakeSkill{name: "boom", fn: func(ctx context.Context, args Args) (core.Outcome, error) {
		panic("kaboom")
	}})

	out := r.Run(context.Background(), "boom", map[string]interface{}{"x": 1})
	if out.OK {
		t.Fatal("expected failure")
	}
	if out.Error != "panic: kaboom" {
		t.Errorf("error = %q", out.Error)
	}
	if strings.Count(logs.String(), "skill_audit") != 2 {
		t.Errorf("after audit missing on panic:\n%s", logs.String())
	}
}

func TestRunFillsMissingError(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.MustRegister(&fakeSkill{name: "quiet", fn: func(ctx context.Context, args Args) (core.Outcome, error) {
		return core.Outcome{OK: false}, nil
	}})
	if out := r.Run(context.Background(), "quiet", nil); out.Error == "" {
		t.Error("failed outcome must carry an error")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	s := &fakeSkill{name: "x"}
	if err := r.Register(s); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(s); err == nil {
		t.Error("expected duplicate error")
	}
	if err := r.Register(&fakeSkill{}); err == nil {
		t.Error("expected empty name error")
	}
}

func TestDefinitionsSorted(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.MustRegister(&fakeSkill{name: "zeta"}, &fakeSkill{name: "alpha"})
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Errorf("defs = %+v", defs)
	}
	if !r.Has("zeta") || r.Has("beta") {
		t.Error("Has mismatch")
	}
}

func TestCallerContext(t *testing.T) {
	if _, ok := CallerFrom(context.Background()); ok {
		t.Error("expected no caller")
	}
	ctx := WithCaller(context.Background(), Caller{UserID: "u1"})
	c, ok := CallerFrom(ctx)
	if !ok || c.UserID != "u1" {
		t.Errorf("caller = %+v", c)
	}
}
