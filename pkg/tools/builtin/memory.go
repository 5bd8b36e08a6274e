// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"

	"github.com/teloslabs/telos/pkg/memory"
	"github.com/teloslabs/telos/pkg/tools"
)

// RegisterMemory adds memory_store and memory_search backed by the given
// vector memory. All agents sharing the registry share the memory.
func RegisterMemory(r *tools.Registry, vm *memory.VectorMemory) error {
	for _, def := range []tools.Definition{memoryStoreTool(vm), memorySearchTool(vm)} {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func memoryStoreTool(vm *memory.VectorMemory) tools.Definition {
	return tools.Definition{
		Name:        "memory_store",
		Description: "Save a fact or observation to long-term memory so later runs can recall it.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "The fact to remember, phrased so it is useful on its own.",
				},
				"metadata": map[string]interface{}{
					"type":        "object",
					"description": "Optional labels stored with the fact.",
				},
			},
			"required":             []interface{}{"text"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			metadata, _ := args["metadata"].(map[string]interface{})
			id, err := vm.Store(ctx, stringArg(args, "text"), metadata)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"id": id}, nil
		},
	}
}

func memorySearchTool(vm *memory.VectorMemory) tools.Definition {
	return tools.Definition{
		Name:        "memory_search",
		Description: "Search long-term memory for facts relevant to a query. Returns the closest matches with similarity scores.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for.",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of matches to return.",
				},
			},
			"required":             []interface{}{"query"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			limit := 0
			if v, ok := args["limit"].(float64); ok {
				limit = int(v)
			}
			matches, err := vm.Search(ctx, stringArg(args, "query"), limit)
			if err != nil {
				return nil, err
			}
			if matches == nil {
				matches = []memory.Match{}
			}
			return matches, nil
		},
	}
}
