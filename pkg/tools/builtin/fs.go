// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package builtin registers the tools every deployment gets out of the box:
// workspace file access and vector memory. File tools resolve every path
// through the sandbox attached to the dispatch context, so one registry can
// serve agents with different workspace roots.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teloslabs/telos/pkg/tools"
)

// maxReadBytes bounds read_file so a single tool result cannot flood the
// model's context window.
const maxReadBytes = 256 << 10

// RegisterFS adds read_file, write_file and list_dir to the registry.
func RegisterFS(r *tools.Registry) error {
	for _, def := range []tools.Definition{readFileTool(), writeFileTool(), listDirTool()} {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func readFileTool() tools.Definition {
	return tools.Definition{
		Name:        "read_file",
		Description: "Read a text file from the agent workspace. The path is relative to the workspace root.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path of the file to read.",
				},
			},
			"required":             []interface{}{"path"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			full, err := resolvePath(ctx, stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(full)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", stringArg(args, "path"), err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%s is a directory", stringArg(args, "path"))
			}
			if info.Size() > maxReadBytes {
				return nil, fmt.Errorf("%s is %d bytes, the limit is %d", stringArg(args, "path"), info.Size(), maxReadBytes)
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", stringArg(args, "path"), err)
			}
			return string(data), nil
		},
	}
}

func writeFileTool() tools.Definition {
	return tools.Definition{
		Name:        "write_file",
		Description: "Write a text file in the agent workspace, creating parent directories as needed. Overwrites existing files.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path of the file to write.",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full file content.",
				},
			},
			"required":             []interface{}{"path", "content"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			full, err := resolvePath(ctx, stringArg(args, "path"))
			if err != nil {
				return nil, err
			}
			content := stringArg(args, "content")
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return nil, fmt.Errorf("create parent directory: %w", err)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", stringArg(args, "path"), err)
			}
			return map[string]interface{}{
				"path":          stringArg(args, "path"),
				"bytes_written": len(content),
			}, nil
		},
	}
}

type dirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func listDirTool() tools.Definition {
	return tools.Definition{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory. Omit path to list the workspace root.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative path of the directory to list. Defaults to the workspace root.",
				},
			},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			rel := stringArg(args, "path")
			if rel == "" {
				rel = "."
			}
			full, err := resolvePath(ctx, rel)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(full)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", rel, err)
			}
			out := make([]dirEntry, 0, len(entries))
			for _, e := range entries {
				var size int64
				if info, err := e.Info(); err == nil && !e.IsDir() {
					size = info.Size()
				}
				out = append(out, dirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
			}
			return out, nil
		},
	}
}

// resolvePath runs a model-supplied path through the context sandbox. The
// typed sandbox violation from Resolve passes through to the observation.
func resolvePath(ctx context.Context, rel string) (string, error) {
	sb, ok := tools.SandboxFrom(ctx)
	if !ok {
		return "", fmt.Errorf("no workspace is configured for this agent")
	}
	return sb.Resolve(rel)
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}
