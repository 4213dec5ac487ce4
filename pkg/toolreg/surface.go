package toolreg

import (
	"context"
	"fmt"

	"github.com/developer-mesh/ptolemies/pkg/perrors"
)

// Resource is a static, URI-addressed piece of content exposed alongside
// tools (performance/cache reports, configuration snapshots). The
// Python original (original_source/src/ptolemies_mcp_server.py) never
// registered any resources or prompts of its own — this surface exists
// to satisfy the transport-agnostic protocol shape of spec.md §6, and
// stays empty until a caller registers one via RegisterResource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Read        func(ctx context.Context) (string, error)
}

// Prompt is a named, parameterized prompt template.
type Prompt struct {
	Name        string
	Description string
	Render      func(ctx context.Context, args map[string]interface{}) (string, error)
}

// RegisterResource adds a resource, replacing any existing one with the
// same URI.
func (r *Registry) RegisterResource(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resources == nil {
		r.resources = make(map[string]Resource)
	}
	r.resources[res.URI] = res
}

// RegisterPrompt adds a prompt, replacing any existing one with the same
// name.
func (r *Registry) RegisterPrompt(p Prompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.prompts == nil {
		r.prompts = make(map[string]Prompt)
	}
	r.prompts[p.Name] = p
}

// ListTools returns the input-schema spec of every active tool, the
// transport-agnostic equivalent of MCP's list_tools.
func (r *Registry) ListTools() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.tools))
	for _, e := range r.tools {
		if e.status != StatusActive {
			continue
		}
		out = append(out, e.spec)
	}
	return out
}

// CallTool is an alias for Execute under the protocol-facing name used
// by spec.md §6's external interface table.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]interface{}) (CallToolResult, error) {
	return r.Execute(ctx, name, args)
}

// ListResources returns every registered resource's descriptor.
func (r *Registry) ListResources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	return out
}

// ReadResource fetches the content of a registered resource by URI.
func (r *Registry) ReadResource(ctx context.Context, uri string) (string, error) {
	r.mu.RLock()
	res, ok := r.resources[uri]
	r.mu.RUnlock()
	if !ok {
		return "", perrors.New(perrors.KindNotFound, "read_resource", fmt.Sprintf("unknown resource %q", uri))
	}
	return res.Read(ctx)
}

// ListPrompts returns every registered prompt's descriptor.
func (r *Registry) ListPrompts() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Prompt, 0, len(r.prompts))
	for _, p := range r.prompts {
		out = append(out, p)
	}
	return out
}

// GetPrompt renders a registered prompt template with args.
func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	r.mu.RLock()
	p, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok {
		return "", perrors.New(perrors.KindNotFound, "get_prompt", fmt.Sprintf("unknown prompt %q", name))
	}
	return p.Render(ctx, args)
}
