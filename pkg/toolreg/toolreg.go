// Package toolreg implements the tool registry (C11): an MCP-style,
// transport-agnostic catalogue of callable tools with per-tool rate
// limiting, timeout enforcement, and usage statistics. Grounded on
// MrWong99-glyphoxa's internal/mcp/mcphost.Host — a concurrent-safe
// map[string]toolEntry guarded by a single RWMutex, execute-and-record
// call shape, builtin-vs-external handler distinction — adapted here to
// a single-process registry with no external server connections (every
// tool in this system is an in-process handler over C6-C10), and to
// pkg/resilience.RateLimiter for per-tool limiting instead of the
// teacher's rolling-latency budget tiers.
package toolreg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/developer-mesh/ptolemies/pkg/observability"
	"github.com/developer-mesh/ptolemies/pkg/perrors"
	"github.com/developer-mesh/ptolemies/pkg/resilience"
)

// Status is a tool's availability state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDisabled Status = "disabled"
	StatusError    Status = "error"
)

// Handler executes a tool call. Implementations that also implement
// ArgValidator get their arguments checked before execution.
type Handler interface {
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ArgValidator is an optional Handler extension: Execute is only called
// if ValidateArguments returns true.
type ArgValidator interface {
	ValidateArguments(args map[string]interface{}) bool
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return f(ctx, args)
}

// ToolSpec describes a tool's identity and JSON-schema input contract.
type ToolSpec struct {
	Name        string
	Description string
	Category    string
	InputSchema *jsonschema.Schema
}

// Metadata carries the operational settings register accepts for a tool.
type Metadata struct {
	RateLimitPerMinute int           // 0 disables rate limiting
	Timeout            time.Duration // 0 disables the timeout
	CacheTTL           time.Duration
}

// Stats is the running usage snapshot for one tool, updated after every
// execute() call regardless of outcome.
type Stats struct {
	TotalCalls      int64
	Successful      int64
	Failed          int64
	TotalExecTime   time.Duration
	AvgExecTime     time.Duration
	LastCalledAt    time.Time
	LastError       string
}

// Info is a read-only snapshot of one registered tool, returned by
// list() and info().
type Info struct {
	Spec     ToolSpec
	Metadata Metadata
	Status   Status
	Stats    Stats
}

type entry struct {
	handler  Handler
	spec     ToolSpec
	metadata Metadata
	status   Status
	limiter  *resilience.RateLimiter
	stats    Stats
}

// TextContent is one piece of tool-call output content.
type TextContent struct {
	Text string `json:"text"`
}

// CallToolResult is the outcome of execute(), mirroring the MCP
// CallToolResult shape: content plus an isError flag, never a bare Go
// error for ordinary execution failures (see spec.md §7, Registry row).
type CallToolResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"is_error"`
}

func errResult(msg string) CallToolResult {
	return CallToolResult{Content: []TextContent{{Text: msg}}, IsError: true}
}

func okResult(text string) CallToolResult {
	return CallToolResult{Content: []TextContent{{Text: text}}}
}

// Registry is the concurrency-safe tool catalogue.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*entry
	resources map[string]Resource
	prompts   map[string]Prompt
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// New constructs an empty Registry.
func New(logger observability.Logger, metrics observability.MetricsClient) *Registry {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &Registry{
		tools:   make(map[string]*entry),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds a tool under name. Returns false if name is already
// registered — registration is idempotent-on-duplicate by failing, not
// by overwriting (spec.md §4.11).
func (r *Registry) Register(name string, handler Handler, spec ToolSpec, metadata Metadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return false
	}

	spec.Name = name
	e := &entry{
		handler:  handler,
		spec:     spec,
		metadata: metadata,
		status:   StatusActive,
	}
	if metadata.RateLimitPerMinute > 0 {
		e.limiter = resilience.NewRateLimiter(name, resilience.RateLimiterConfig{
			Limit:       metadata.RateLimitPerMinute,
			Period:      time.Minute,
			BurstFactor: 1,
		})
	}
	r.tools[name] = e
	return true
}

// SetStatus updates a tool's status. Returns false if the tool is unknown.
func (r *Registry) SetStatus(name string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tools[name]
	if !ok {
		return false
	}
	e.status = status
	return true
}

// Execute runs the named tool's handler, enforcing active-status,
// rate-limit, argument-validation, and timeout gates in order, and
// updates usage stats regardless of outcome. A non-nil error is returned
// only when name is unknown — mirroring the teacher's ExecuteTool, which
// reserves a Go error for "the thing being called doesn't exist" and
// reports every other failure mode as a CallToolResult.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (CallToolResult, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return CallToolResult{}, perrors.New(perrors.KindNotFound, "execute", fmt.Sprintf("unknown tool %q", name))
	}

	start := time.Now()
	result, failErr := r.runGated(ctx, e, args)
	r.recordStats(e, start, failErr)

	if failErr != nil {
		return errResult(failErr.Error()), nil
	}
	return okResult(result), nil
}

func (r *Registry) runGated(ctx context.Context, e *entry, args map[string]interface{}) (string, error) {
	// status is read without the registry lock: a slightly stale active/
	// inactive read is accepted, matching the breaker's can_execute (see
	// spec.md §5, Shared state and mutation discipline).
	if status := e.status; status != StatusActive {
		return "", perrors.New(perrors.KindInvalidArgument, e.spec.Name, fmt.Sprintf("tool is %s, not active", status))
	}

	if e.limiter != nil && !e.limiter.Allow() {
		return "", perrors.New(perrors.KindRateLimited, e.spec.Name, "rate limit exceeded")
	}

	if v, ok := e.handler.(ArgValidator); ok && !v.ValidateArguments(args) {
		return "", perrors.New(perrors.KindInvalidArgument, e.spec.Name, "invalid arguments")
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if e.metadata.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.metadata.Timeout)
		defer cancel()
	}

	type outcome struct {
		text string
		err  error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		text, err := e.handler.Execute(callCtx, args)
		resultCh <- outcome{text, err}
	}()

	select {
	case <-callCtx.Done():
		return "", perrors.New(perrors.KindTimeout, e.spec.Name, "tool execution exceeded its timeout")
	case out := <-resultCh:
		if out.err != nil {
			return "", out.err
		}
		return out.text, nil
	}
}

func (r *Registry) recordStats(e *entry, start time.Time, failErr error) {
	elapsed := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()
	e.stats.TotalCalls++
	e.stats.TotalExecTime += elapsed
	e.stats.AvgExecTime = e.stats.TotalExecTime / time.Duration(e.stats.TotalCalls)
	e.stats.LastCalledAt = start
	if failErr != nil {
		e.stats.Failed++
		e.stats.LastError = failErr.Error()
		if perrors.Is(failErr, perrors.KindTimeout) || perrors.Is(failErr, perrors.KindInternalError) {
			e.status = StatusError
		}
	} else {
		e.stats.Successful++
	}
	r.metrics.IncrementCounterWithLabels("toolreg_calls_total", 1, map[string]string{
		"tool": e.spec.Name, "outcome": outcomeLabel(failErr),
	})
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

// List returns tool info, optionally filtered by category and/or status.
func (r *Registry) List(category string, status Status) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Info, 0, len(names))
	for _, name := range names {
		e := r.tools[name]
		if category != "" && e.spec.Category != category {
			continue
		}
		if status != "" && e.status != status {
			continue
		}
		out = append(out, toInfo(e))
	}
	return out
}

// Info returns a snapshot of one tool, or false if it is unregistered.
func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Info{}, false
	}
	return toInfo(e), true
}

// Stats returns the usage stats of every registered tool, keyed by name.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.tools))
	for name, e := range r.tools {
		out[name] = e.stats
	}
	return out
}

func toInfo(e *entry) Info {
	return Info{Spec: e.spec, Metadata: e.metadata, Status: e.status, Stats: e.stats}
}

// persistedTool is the on-disk shape saved/loaded by
// save_configuration/load_configuration: metadata and status only, never
// handlers (spec.md §4.11, §6 "Persisted state").
type persistedTool struct {
	Name     string   `json:"name"`
	Status   Status   `json:"status"`
	Metadata Metadata `json:"metadata"`
}

// SaveConfiguration writes every tool's status and metadata to path as
// JSON. Handlers are not serializable and are never included.
func (r *Registry) SaveConfiguration(path string) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]persistedTool, 0, len(names))
	for _, name := range names {
		e := r.tools[name]
		out = append(out, persistedTool{Name: name, Status: e.status, Metadata: e.metadata})
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return perrors.Wrap(err, perrors.KindInternalError, "save_configuration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return perrors.Wrap(err, perrors.KindInternalError, "save_configuration")
	}
	return nil
}

// LoadConfiguration applies a previously saved status/metadata snapshot
// to already-registered tools. Entries naming tools that are not
// currently registered are ignored.
func (r *Registry) LoadConfiguration(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return perrors.Wrap(err, perrors.KindInternalError, "load_configuration")
	}
	var saved []persistedTool
	if err := json.Unmarshal(data, &saved); err != nil {
		return perrors.Wrap(err, perrors.KindDecodeError, "load_configuration")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range saved {
		e, ok := r.tools[s.Name]
		if !ok {
			continue
		}
		e.status = s.Status
		e.metadata = s.Metadata
		if s.Metadata.RateLimitPerMinute > 0 {
			e.limiter = resilience.NewRateLimiter(s.Name, resilience.RateLimiterConfig{
				Limit:       s.Metadata.RateLimitPerMinute,
				Period:      time.Minute,
				BurstFactor: 1,
			})
		} else {
			e.limiter = nil
		}
	}
	return nil
}
