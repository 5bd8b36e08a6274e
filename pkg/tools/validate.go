// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"encoding/json"
	"strings"

	telerr "github.com/teloslabs/telos/pkg/errors"
	"github.com/teloslabs/telos/pkg/llm"
)

// ValidateArguments parses a call's raw JSON arguments and validates them
// against the definition's schema. The handler is never invoked on failure.
// The decoded object is returned for the handler.
func ValidateArguments(def Definition, rawArgs string) (map[string]interface{}, error) {
	raw := strings.TrimSpace(rawArgs)
	if raw == "" {
		raw = "{}"
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, telerr.Tool(telerr.ToolInvalidArguments, def.Name,
			"arguments are not a JSON object", err)
	}

	if def.Parameters == nil {
		return decoded, nil
	}

	compiled, err := llm.CompileSchema(def.Parameters)
	if err != nil {
		// Registration validates schemas; reaching this means a definition
		// bypassed Register.
		return nil, telerr.Tool(telerr.ToolInvalidArguments, def.Name,
			"tool parameter schema does not compile", err)
	}

	// Validate the decoded form so numbers keep their JSON typing.
	var generic interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, telerr.Tool(telerr.ToolInvalidArguments, def.Name,
			"arguments are not valid JSON", err)
	}
	if err := compiled.Validate(generic); err != nil {
		return nil, telerr.Tool(telerr.ToolInvalidArguments, def.Name,
			"arguments do not match the tool schema", err)
	}

	return decoded, nil
}
