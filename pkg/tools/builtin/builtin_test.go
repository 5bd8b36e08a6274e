// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
	"github.com/teloslabs/telos/pkg/memory"
	"github.com/teloslabs/telos/pkg/tools"
)

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: llm.FunctionCall{Name: name, Arguments: args},
	}
}

func fsAllow() *tools.Allowlist {
	return tools.NewAllowlist("read_file", "write_file", "list_dir", "memory_store", "memory_search")
}

// newFSHarness registers the fs tools and returns a dispatcher plus a context
// sandboxed to a fresh temp dir.
func newFSHarness(t *testing.T) (*tools.Dispatcher, context.Context, string) {
	t.Helper()
	r := tools.NewRegistry()
	if err := RegisterFS(r); err != nil {
		t.Fatalf("RegisterFS: %v", err)
	}
	root := t.TempDir()
	sb, err := tools.NewSandbox(root)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	ctx := tools.WithSandbox(context.Background(), sb)
	return tools.NewDispatcher(r), ctx, root
}

func TestWriteThenReadFile(t *testing.T) {
	d, ctx, _ := newFSHarness(t)

	obs := d.Dispatch(ctx, call("write_file", `{"path":"notes/a.txt","content":"hello"}`), fsAllow())
	if !obs.OK() {
		t.Fatalf("write_file failed: %v", obs.Err)
	}

	obs = d.Dispatch(ctx, call("read_file", `{"path":"notes/a.txt"}`), fsAllow())
	if !obs.OK() {
		t.Fatalf("read_file failed: %v", obs.Err)
	}
	if obs.Output != "hello" {
		t.Errorf("expected file content back, got %q", obs.Output)
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	d, ctx, root := newFSHarness(t)

	obs := d.Dispatch(ctx, call("write_file", `{"path":"a/b/c.txt","content":"x"}`), fsAllow())
	if !obs.OK() {
		t.Fatalf("write_file failed: %v", obs.Err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b", "c.txt")); err != nil {
		t.Errorf("expected the file on disk: %v", err)
	}
}

func TestReadFileMissing(t *testing.T) {
	d, ctx, _ := newFSHarness(t)

	obs := d.Dispatch(ctx, call("read_file", `{"path":"nope.txt"}`), fsAllow())
	if obs.OK() {
		t.Fatal("expected a failure for a missing file")
	}
	if kind, _ := telerr.ToolKindOf(obs.Err); kind != telerr.ToolHandlerFailure {
		t.Errorf("expected handler_failure, got %v", obs.Err)
	}
}

func TestReadFileTooLarge(t *testing.T) {
	d, ctx, root := newFSHarness(t)

	big := strings.Repeat("x", maxReadBytes+1)
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	obs := d.Dispatch(ctx, call("read_file", `{"path":"big.txt"}`), fsAllow())
	if obs.OK() {
		t.Fatal("expected oversized reads to fail")
	}
	if !strings.Contains(obs.Err.Error(), "limit") {
		t.Errorf("expected the limit in the error, got %v", obs.Err)
	}
}

func TestReadFileEscapeIsSandboxViolation(t *testing.T) {
	d, ctx, _ := newFSHarness(t)

	for _, path := range []string{"../../etc/passwd", "/etc/passwd"} {
		obs := d.Dispatch(ctx, call("read_file", `{"path":"`+path+`"}`), fsAllow())
		if obs.OK() {
			t.Fatalf("path %q should be rejected", path)
		}
		if kind, _ := telerr.ToolKindOf(obs.Err); kind != telerr.ToolSandboxViolation {
			t.Errorf("path %q: expected sandbox_violation, got %v", path, obs.Err)
		}
	}
}

func TestListDir(t *testing.T) {
	d, ctx, root := newFSHarness(t)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("aa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	obs := d.Dispatch(ctx, call("list_dir", `{}`), fsAllow())
	if !obs.OK() {
		t.Fatalf("list_dir failed: %v", obs.Err)
	}

	var entries []dirEntry
	if err := json.Unmarshal([]byte(obs.Output), &entries); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].Name != "a.txt" || entries[0].IsDir || entries[0].Size != 2 {
		t.Errorf("unexpected file entry: %+v", entries[0])
	}
	if entries[1].Name != "sub" || !entries[1].IsDir {
		t.Errorf("unexpected dir entry: %+v", entries[1])
	}
}

func TestFSWithoutSandbox(t *testing.T) {
	r := tools.NewRegistry()
	if err := RegisterFS(r); err != nil {
		t.Fatalf("RegisterFS: %v", err)
	}
	d := tools.NewDispatcher(r)

	obs := d.Dispatch(context.Background(), call("read_file", `{"path":"a.txt"}`), fsAllow())
	if obs.OK() {
		t.Fatal("expected a failure without a sandbox")
	}
	if kind, _ := telerr.ToolKindOf(obs.Err); kind != telerr.ToolHandlerFailure {
		t.Errorf("expected handler_failure, got %v", obs.Err)
	}
}

type testEmbedder struct {
	vectors map[string][]float32
}

func (e *testEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func newMemoryHarness(t *testing.T) *tools.Dispatcher {
	t.Helper()
	embedder := &testEmbedder{vectors: map[string][]float32{
		"kubernetes is a container orchestrator": {1, 0},
		"bananas are yellow":                     {0, 1},
		"what orchestrates containers":           {0.95, 0.05},
	}}
	vm := memory.NewVectorMemory(memory.NewLocal(), embedder, "agent-memory")
	if err := vm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	r := tools.NewRegistry()
	if err := RegisterMemory(r, vm); err != nil {
		t.Fatalf("RegisterMemory: %v", err)
	}
	return tools.NewDispatcher(r)
}

func TestMemoryStoreThenSearch(t *testing.T) {
	d := newMemoryHarness(t)
	ctx := context.Background()

	obs := d.Dispatch(ctx, call("memory_store", `{"text":"kubernetes is a container orchestrator"}`), fsAllow())
	if !obs.OK() {
		t.Fatalf("memory_store failed: %v", obs.Err)
	}
	var stored struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(obs.Output), &stored); err != nil || stored.ID == "" {
		t.Fatalf("expected an id in the output, got %q (%v)", obs.Output, err)
	}

	obs = d.Dispatch(ctx, call("memory_store", `{"text":"bananas are yellow"}`), fsAllow())
	if !obs.OK() {
		t.Fatalf("memory_store failed: %v", obs.Err)
	}

	obs = d.Dispatch(ctx, call("memory_search", `{"query":"what orchestrates containers"}`), fsAllow())
	if !obs.OK() {
		t.Fatalf("memory_search failed: %v", obs.Err)
	}
	var matches []memory.Match
	if err := json.Unmarshal([]byte(obs.Output), &matches); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match")
	}
	if matches[0].Text != "kubernetes is a container orchestrator" {
		t.Errorf("expected the closest memory first, got %q", matches[0].Text)
	}
	for _, m := range matches {
		if m.Text == "bananas are yellow" {
			t.Error("orthogonal memory should fall below the score threshold")
		}
	}
}

func TestMemorySearchMissingQuery(t *testing.T) {
	d := newMemoryHarness(t)

	obs := d.Dispatch(context.Background(), call("memory_search", `{}`), fsAllow())
	if obs.OK() {
		t.Fatal("expected schema validation to reject a missing query")
	}
	if kind, _ := telerr.ToolKindOf(obs.Err); kind != telerr.ToolInvalidArguments {
		t.Errorf("expected invalid_arguments, got %v", obs.Err)
	}
}
