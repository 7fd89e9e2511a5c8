package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/courier/core"
	"github.com/vinayprograms/courier/memory"
	"github.com/vinayprograms/courier/policy"
	"github.com/vinayprograms/courier/sandbox"
	"github.com/vinayprograms/courier/state"
)

type fakeRunner struct {
	calls     [][]string // argv of every process, stage by stage
	pipelines [][]sandbox.Stage
	last      sandbox.Config // options of the latest call applied to a networked base
	result    sandbox.Result
	queue     []sandbox.Result // consumed one per call before result
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, opts ...sandbox.Option) sandbox.Result {
	return f.RunPipeline(ctx, []sandbox.Stage{{Argv: argv}}, opts...)
}

func (f *fakeRunner) RunPipeline(ctx context.Context, stages []sandbox.Stage, opts ...sandbox.Option) sandbox.Result {
	for _, st := range stages {
		f.calls = append(f.calls, st.Argv)
	}
	f.pipelines = append(f.pipelines, stages)
	f.last = sandbox.Config{Network: true}
	for _, opt := range opts {
		opt(&f.last)
	}
	if len(f.queue) > 0 {
		res := f.queue[0]
		f.queue = f.queue[1:]
		return res
	}
	return f.result
}

func newWorkspace(t *testing.T) Workspace {
	t.Helper()
	root := t.TempDir()
	pol := policy.New()
	pol.Workspace = root
	return Workspace{Root: root, Policy: pol}
}

// --- Filesystem ---

func TestWriteReadList(t *testing.T) {
	ws := newWorkspace(t)
	ctx := context.Background()

	w := &WriteFile{WS: ws}
	out, err := w.Execute(ctx, Args{"path": "notes/a.txt", "content": "hello"})
	if err != nil || !out.OK {
		t.Fatalf("write: %+v, %v", out, err)
	}
	if _, err := w.Execute(ctx, Args{"path": "notes/a.txt", "content": " world", "append": true}); err != nil {
		t.Fatal(err)
	}

	out, err = (&ReadFile{WS: ws}).Execute(ctx, Args{"path": "notes/a.txt"})
	if err != nil || out.Output != "hello world" {
		t.Fatalf("read: %+v, %v", out, err)
	}

	out, err = (&ReadFile{WS: ws}).Execute(ctx, Args{"path": "notes/a.txt", "max_bytes": 5})
	if err != nil || out.Output != "hello\n[truncated]" {
		t.Fatalf("read limited: %q, %v", out.Output, err)
	}

	os.Mkdir(filepath.Join(ws.Root, "sub"), 0755)
	out, err = (&ListDir{WS: ws}).Execute(ctx, Args{})
	if err != nil || out.Output != "notes/\nsub/" {
		t.Fatalf("list: %q, %v", out.Output, err)
	}
}

func TestWorkspaceConfinement(t *testing.T) {
	ws := newWorkspace(t)
	for _, p := range []string{"../escape.txt", "/etc/passwd", "a/../../b"} {
		if _, err := ws.Resolve(p); err == nil {
			t.Errorf("Resolve(%q) should fail", p)
		}
	}
	if _, err := ws.Resolve(filepath.Join(ws.Root, "inside.txt")); err != nil {
		t.Errorf("absolute path inside workspace rejected: %v", err)
	}
}

func TestWriteProtectedFile(t *testing.T) {
	ws := newWorkspace(t)
	_, err := (&WriteFile{WS: ws}).Execute(context.Background(), Args{"path": ".env", "content": "KEY=x"})
	if err == nil || !strings.Contains(err.Error(), "protected") {
		t.Errorf("expected protected file denial, got %v", err)
	}
}

func TestPathPolicyDeny(t *testing.T) {
	ws := newWorkspace(t)
	ws.Policy.Skills["read_file"] = &policy.SkillPolicy{Enabled: true, Deny: []string{"$WORKSPACE/secret/**"}}
	os.MkdirAll(filepath.Join(ws.Root, "secret"), 0755)
	os.WriteFile(filepath.Join(ws.Root, "secret", "k"), []byte("x"), 0644)

	_, err := (&ReadFile{WS: ws}).Execute(context.Background(), Args{"path": "secret/k"})
	if err == nil || !strings.Contains(err.Error(), "policy denied") {
		t.Errorf("expected policy denial, got %v", err)
	}
}

// --- Shell / Git ---

func TestShellDeniedNeverRuns(t *testing.T) {
	runner := &fakeRunner{}
	sh := &Shell{Whitelist: policy.NewWhitelist([]string{"ls", "rm"}), Runner: runner}
	for _, cmd := range []string{"rm -rf /", "python -c 1", "ls | sh", ""} {
		if _, err := sh.Execute(context.Background(), Args{"command": cmd}); err == nil {
			t.Errorf("%q should be denied", cmd)
		}
	}
	if len(runner.calls) != 0 {
		t.Errorf("runner invoked for denied commands: %v", runner.calls)
	}
}

func TestShellRunsArgv(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{ExitCode: 0, Stdout: "a\n"}}
	sh := &Shell{Whitelist: policy.NewWhitelist([]string{"ls", "wc"}), Runner: runner}

	out, err := sh.Execute(context.Background(), Args{"command": "ls -la 'my dir'"})
	if err != nil || !out.OK {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
	if !reflect.DeepEqual(runner.calls[0], []string{"ls", "-la", "my dir"}) {
		t.Errorf("argv = %q", runner.calls[0])
	}
	var res sandbox.Result
	if err := json.Unmarshal([]byte(out.Output), &res); err != nil || res.Stdout != "a\n" {
		t.Errorf("output = %q", out.Output)
	}

	sh.Execute(context.Background(), Args{"command": "ls|wc -l"})
	if len(runner.pipelines) != 2 || len(runner.pipelines[1]) != 2 {
		t.Fatalf("pipelines = %+v", runner.pipelines)
	}
	if !reflect.DeepEqual(runner.calls[1:], [][]string{{"ls"}, {"wc", "-l"}}) {
		t.Errorf("pipeline argv = %q", runner.calls[1:])
	}
}

func TestShellChainedCommandsAreChecked(t *testing.T) {
	runner := &fakeRunner{}
	sh := &Shell{Whitelist: policy.NewWhitelist([]string{"ls", "cat", "echo", "rm"}), Runner: runner}
	for _, cmd := range []string{
		"ls | cat ;id -un",
		"echo $(id) | cat",
		"echo `id`",
		"ls | cat &nc evil 80",
		"ls&&id",
		"ls\nid",
		`rm -rf "/"`,
		"rm -rf '/'",
		`echo x >"/etc/passwd"`,
	} {
		if _, err := sh.Execute(context.Background(), Args{"command": cmd}); err == nil {
			t.Errorf("%q should be denied", cmd)
		}
	}
	if len(runner.calls) != 0 {
		t.Errorf("runner invoked for denied commands: %q", runner.calls)
	}
}

func TestShellNeverSpawnsShell(t *testing.T) {
	runner := &fakeRunner{}
	sh := &Shell{Whitelist: policy.NewWhitelist([]string{"ls", "grep", "wc", "echo"}), Runner: runner, Dir: "/work"}
	out, err := sh.Execute(context.Background(), Args{"command": "ls -la | grep go > list.txt 2>&1 ; wc -l < list.txt"})
	if err != nil || !out.OK {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
	for _, argv := range runner.calls {
		if argv[0] == "sh" {
			t.Fatalf("line handed to a shell: %q", argv)
		}
	}
	if len(runner.pipelines) != 2 {
		t.Fatalf("pipelines = %+v", runner.pipelines)
	}
	grep := runner.pipelines[0][1]
	if grep.Stdout != (sandbox.Redirect{Path: "list.txt"}) || !grep.Stderr.ToStdout {
		t.Errorf("grep stage = %+v", grep)
	}
	if wc := runner.pipelines[1][0]; wc.Stdin != "list.txt" {
		t.Errorf("wc stage = %+v", wc)
	}
	if runner.last.Dir != "/work" {
		t.Errorf("dir = %q", runner.last.Dir)
	}
}

func TestShellListOperators(t *testing.T) {
	tests := []struct {
		command string
		exits   []int // exit code of each pipeline that runs
		ran     [][]string
		exit    int
	}{
		{"ls && echo ok", []int{0, 0}, [][]string{{"ls"}, {"echo", "ok"}}, 0},
		{"ls nope && echo ok", []int{2}, [][]string{{"ls", "nope"}}, 2},
		{"ls nope || echo fallback", []int{2, 0}, [][]string{{"ls", "nope"}, {"echo", "fallback"}}, 0},
		{"ls || echo fallback", []int{0}, [][]string{{"ls"}}, 0},
		{"ls nope ; echo next", []int{2, 0}, [][]string{{"ls", "nope"}, {"echo", "next"}}, 0},
		{"ls nope && echo a || echo b", []int{1, 0}, [][]string{{"ls", "nope"}, {"echo", "b"}}, 0},
	}
	for _, tt := range tests {
		runner := &fakeRunner{}
		for _, code := range tt.exits {
			runner.queue = append(runner.queue, sandbox.Result{ExitCode: code, Stdout: fmt.Sprintf("%d\n", code)})
		}
		sh := &Shell{Whitelist: policy.NewWhitelist([]string{"ls", "echo"}), Runner: runner}
		out, err := sh.Execute(context.Background(), Args{"command": tt.command})
		if err != nil {
			t.Fatalf("%q: %v", tt.command, err)
		}
		if !reflect.DeepEqual(runner.calls, tt.ran) {
			t.Errorf("%q ran %q, want %q", tt.command, runner.calls, tt.ran)
		}
		var res sandbox.Result
		if err := json.Unmarshal([]byte(out.Output), &res); err != nil {
			t.Fatalf("%q output: %v", tt.command, err)
		}
		if res.ExitCode != tt.exit || out.OK != (tt.exit == 0) {
			t.Errorf("%q exit = %d, ok = %v", tt.command, res.ExitCode, out.OK)
		}
		if strings.Count(res.Stdout, "\n") != len(tt.exits) {
			t.Errorf("%q stdout = %q, want output of every pipeline", tt.command, res.Stdout)
		}
	}
}

func TestShellStopsAfterTimeout(t *testing.T) {
	runner := &fakeRunner{queue: []sandbox.Result{{ExitCode: sandbox.FailedExitCode, TimedOut: true, Stderr: "sandbox: timed out after 2s"}}}
	sh := &Shell{Whitelist: policy.NewWhitelist([]string{"ls", "echo"}), Runner: runner}
	out, _ := sh.Execute(context.Background(), Args{"command": "ls ; echo after"})
	if len(runner.calls) != 1 {
		t.Errorf("ran %q after a timeout", runner.calls)
	}
	if out.OK || out.Error != "sandbox: timed out after 2s" {
		t.Errorf("out = %+v", out)
	}
}

func TestExpandGlobs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	line, err := policy.ParseLine(`wc -l *.go '*.txt' *.md`)
	if err != nil {
		t.Fatal(err)
	}
	got := expandGlobs(dir, line[0].Commands[0])
	want := []string{"wc", "-l", "a.go", "b.go", "*.txt", "*.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expandGlobs = %q, want %q", got, want)
	}
}

func TestShellExitCodes(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{ExitCode: 2, Stderr: "no such file"}}
	sh := &Shell{Whitelist: policy.NewWhitelist([]string{"ls"}), Runner: runner}
	out, _ := sh.Execute(context.Background(), Args{"command": "ls nope"})
	if out.OK || out.Error != "exit code 2" {
		t.Errorf("out = %+v", out)
	}

	runner.result = sandbox.Result{ExitCode: sandbox.FailedExitCode, Stderr: "sandbox: timed out after 12s"}
	out, _ = sh.Execute(context.Background(), Args{"command": "ls"})
	if out.OK || out.Error != "sandbox: timed out after 12s" {
		t.Errorf("out = %+v", out)
	}
}

func TestGitReadOnly(t *testing.T) {
	runner := &fakeRunner{}
	g := &Git{Whitelist: policy.NewWhitelist([]string{"git"}), Runner: runner}
	ctx := context.Background()

	denied := []Args{
		{"subcommand": "push"},
		{"subcommand": "branch", "args": []interface{}{"new-feature"}},
		{"subcommand": "branch", "args": []interface{}{"-D", "main"}},
		{"subcommand": "diff", "args": []interface{}{"--output=/tmp/x"}},
	}
	for _, a := range denied {
		if _, err := g.Execute(ctx, a); err == nil {
			t.Errorf("%v should be denied", a)
		}
	}
	if len(runner.calls) != 0 {
		t.Fatalf("runner invoked: %v", runner.calls)
	}

	if _, err := g.Execute(ctx, Args{"subcommand": "log", "args": []interface{}{"--oneline", "-n", "5"}}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(runner.calls[0], []string{"git", "log", "--oneline", "-n", "5"}) {
		t.Errorf("argv = %q", runner.calls[0])
	}
	if runner.last.Network {
		t.Error("git must run without network")
	}
}

func TestShellTimeoutIsCapped(t *testing.T) {
	runner := &fakeRunner{}
	sh := &Shell{Whitelist: policy.NewWhitelist([]string{"ls"}), Runner: runner}
	ctx := context.Background()

	sh.Execute(ctx, Args{"command": "ls"})
	if runner.last.Timeout != 0 {
		t.Errorf("no timeout asked, got %v", runner.last.Timeout)
	}
	sh.Execute(ctx, Args{"command": "ls", "timeout": 5.0})
	if runner.last.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", runner.last.Timeout)
	}
	sh.Execute(ctx, Args{"command": "ls", "timeout": 3600})
	if runner.last.Timeout != maxShellTimeout*time.Second {
		t.Errorf("timeout should be capped, got %v", runner.last.Timeout)
	}
}

func TestQuoteLine(t *testing.T) {
	got := quoteLine([]string{"git", "log", "--grep=it's here"})
	want := `git log '--grep=it'\''s here'`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	line, err := policy.ParseLine(got)
	if err != nil || line[0].Commands[0].Argv[2] != "--grep=it's here" {
		t.Errorf("round trip = %+v, %v", line, err)
	}
}

// --- Todo ---

func TestTodoLifecycle(t *testing.T) {
	store := state.NewMemoryStore()
	defer store.Close()
	todo := &Todo{Store: store}
	ctx := WithCaller(context.Background(), Caller{UserID: "alice@example.com"})

	for _, text := range []string{"buy milk", "file taxes"} {
		if _, err := todo.Execute(ctx, Args{"action": "add", "text": text}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := todo.Execute(ctx, Args{"action": "done", "index": float64(2)}); err != nil {
		t.Fatal(err)
	}
	if _, err := todo.Execute(ctx, Args{"action": "done", "index": 9}); err == nil {
		t.Error("expected out of range error")
	}

	out, err := todo.Execute(ctx, Args{"action": "list"})
	if err != nil || out.Output != "1. [ ] buy milk\n2. [x] file taxes" {
		t.Fatalf("list = %q, %v", out.Output, err)
	}

	out, _ = todo.Execute(ctx, Args{"action": "send"})
	cl, ok := out.Marker.(*core.SendChecklist)
	if !ok || cl.Title != "Todo" || len(cl.Items) != 2 || !cl.Items[1].Done {
		t.Fatalf("marker = %#v", out.Marker)
	}

	if _, err := store.Get(ctx, "todo.alice@example_com"); err != nil {
		t.Errorf("unexpected key layout: %v", err)
	}

	todo.Execute(ctx, Args{"action": "clear"})
	out, _ = todo.Execute(ctx, Args{"action": "list"})
	if out.Output != "todo list is empty" {
		t.Errorf("after clear = %q", out.Output)
	}
}

// --- Notify ---

func TestNotifyMarkers(t *testing.T) {
	ws := newWorkspace(t)
	os.WriteFile(filepath.Join(ws.Root, "report.pdf"), []byte("%PDF"), 0644)
	n := &Notify{WS: ws}
	ctx := context.Background()

	out, err := n.Execute(ctx, Args{"action": "reply", "text": "all done"})
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := out.Marker.(*core.TerminalReply); !ok || r.Text != "all done" {
		t.Errorf("reply marker = %#v", out.Marker)
	}

	out, err = n.Execute(ctx, Args{"action": "send_file", "path": "report.pdf", "caption": "Q3"})
	if err != nil {
		t.Fatal(err)
	}
	att, ok := out.Marker.(*core.SendAttachment)
	if !ok || att.Name != "report.pdf" || att.Caption != "Q3" || att.MimeType != "application/pdf" {
		t.Errorf("attachment marker = %#v", out.Marker)
	}

	if _, err := n.Execute(ctx, Args{"action": "send_file", "path": "../x"}); err == nil {
		t.Error("expected confinement error")
	}

	out, err = n.Execute(ctx, Args{"action": "checklist", "title": "Trip", "items": []interface{}{
		"passport",
		map[string]interface{}{"text": "tickets", "done": true},
	}})
	if err != nil {
		t.Fatal(err)
	}
	cl := out.Marker.(*core.SendChecklist)
	if cl.Title != "Trip" || len(cl.Items) != 2 || !cl.Items[1].Done {
		t.Errorf("checklist marker = %#v", cl)
	}

	if _, err := n.Execute(ctx, Args{"action": "checklist", "items": []interface{}{}}); err == nil {
		t.Error("expected empty items error")
	}
}

// --- Memory ---

func TestMemorySkills(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := WithCaller(context.Background(), Caller{UserID: "u1"})

	if _, err := (&Remember{Store: store}).Execute(ctx, Args{"fact": "The staging cluster runs in Frankfurt"}); err != nil {
		t.Fatal(err)
	}
	store.Remember(ctx, memory.Memory{Content: "Frankfurt office closes early", UserID: "u2"})

	out, err := (&MemorySearch{Store: store}).Execute(ctx, Args{"query": "frankfurt cluster"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Output, "staging cluster") || strings.Contains(out.Output, "office") {
		t.Errorf("search output = %q", out.Output)
	}

	out, _ = (&MemorySearch{Store: store}).Execute(ctx, Args{"query": "unrelated"})
	if out.Output != "no memories found" {
		t.Errorf("empty search = %q", out.Output)
	}
}

// --- Wiring ---

func TestRegisterBuiltins(t *testing.T) {
	pol := policy.New()
	pol.Skills["git"] = &policy.SkillPolicy{Enabled: false}
	r := NewRegistry(nil)
	err := RegisterBuiltins(r, Deps{
		Workspace: t.TempDir(),
		Policy:    pol,
		Runner:    &fakeRunner{},
		Memory:    memory.NewInMemoryStore(),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"list_dir", "memory_search", "notify", "read_file", "remember", "shell", "write_file"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}
}
