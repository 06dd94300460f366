package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	_, err := resolver.Resolve("../outside.txt")
	if err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestReadWriteEdit(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root, MaxReadBytes: 10}

	writeTool := NewWriteTool(cfg)
	readTool := NewReadTool(cfg)
	editTool := NewEditTool(cfg)

	writeParams, _ := json.Marshal(map[string]interface{}{
		"path":    "notes.txt",
		"content": "hello world",
	})
	if _, _, err := writeTool.Execute(context.Background(), "c1", writeParams); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readParams, _ := json.Marshal(map[string]interface{}{
		"path": "notes.txt",
	})
	result, _, err := readTool.Execute(context.Background(), "c2", readParams)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(result.Content[0].Text.Text, "hello") {
		t.Fatalf("expected content, got %+v", result.Content)
	}

	editParams, _ := json.Marshal(map[string]interface{}{
		"path": "notes.txt",
		"edits": []map[string]interface{}{
			{
				"old_text": "world",
				"new_text": "nexus",
			},
		},
	})
	if _, _, err := editTool.Execute(context.Background(), "c3", editParams); err != nil {
		t.Fatalf("edit failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "hello nexus" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}

func TestApplyPatchProducesPendingAction(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "file.txt")
	if err := os.WriteFile(path, []byte("a\nb\nc\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tool := NewApplyPatchTool(cfg)
	patch := strings.Join([]string{
		"--- a/file.txt",
		"+++ b/file.txt",
		"@@ -1,3 +1,3 @@",
		" a",
		"-b",
		"+bb",
		" c",
		"",
	}, "\n")

	params, _ := json.Marshal(map[string]interface{}{"patch": patch})
	result, action, err := tool.Execute(context.Background(), "c1", params)
	if err != nil {
		t.Fatalf("apply patch failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected a preview result, got error: %+v", result)
	}
	if action == nil {
		t.Fatal("expected a PendingAction for preview-then-apply")
	}

	// The patch must not be applied until the PendingAction runs.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "a\nb\nc\n" {
		t.Fatalf("expected patch not yet applied, got: %s", string(data))
	}

	if _, err := action.Run(context.Background()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "a\nbb\nc\n" {
		t.Fatalf("unexpected content: %s", string(data))
	}

	if _, err := action.Run(context.Background()); err == nil {
		t.Fatal("expected a second Run to fail, Apply must be callable exactly once")
	}
}
