package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolRegistry optionally validates a request's Arguments against a
// JSON Schema registered for its tool_name before the request is handed to
// the engine. A tool with no registered schema is never rejected here.
type ToolRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// RegisterSchema compiles schemaJSON and associates it with toolName. An
// argument value later validated for that tool must conform to it.
func (r *ToolRegistry) RegisterSchema(toolName string, schemaJSON []byte) error {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return fmt.Errorf("unmarshal schema for %s: %w", toolName, err)
	}

	c := jsonschema.NewCompiler()
	resource := toolName + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", toolName, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", toolName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[toolName] = schema
	return nil
}

// Validate checks arguments against the schema registered for toolName, if
// any. A tool with no registered schema always validates successfully.
func (r *ToolRegistry) Validate(toolName string, arguments interface{}) error {
	r.mu.RLock()
	schema, ok := r.schemas[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	// jsonschema validates against decoded JSON values (map[string]any,
	// []any, etc.), so round-trip arbitrary Go arguments through JSON first.
	raw, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("marshal arguments for %s: %w", toolName, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal arguments for %s: %w", toolName, err)
	}
	return schema.Validate(doc)
}
