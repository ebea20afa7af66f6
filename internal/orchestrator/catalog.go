package orchestrator

import (
	"github.com/haasonsaas/nexus/internal/llm"
)

// StaticToolSchemaCatalog serves a fixed, process-wide set of tool schemas,
// registered once at startup from the tool catalog's configured tool list.
// It satisfies ToolSchemaCatalog.
type StaticToolSchemaCatalog struct {
	schemas map[string]llm.ToolSchema
}

// NewStaticToolSchemaCatalog builds a catalog from a flat schema list.
func NewStaticToolSchemaCatalog(schemas []llm.ToolSchema) *StaticToolSchemaCatalog {
	c := &StaticToolSchemaCatalog{schemas: make(map[string]llm.ToolSchema, len(schemas))}
	for _, s := range schemas {
		c.schemas[s.Name] = s
	}
	return c
}

// SchemasFor returns the schemas for the requested tool names, silently
// skipping any name the catalog has no schema for — an agent's configured
// tool set may reference a tool that is currently disabled.
func (c *StaticToolSchemaCatalog) SchemasFor(toolNames []string) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(toolNames))
	for _, name := range toolNames {
		if s, ok := c.schemas[name]; ok {
			out = append(out, s)
		}
	}
	return out
}
