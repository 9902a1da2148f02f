package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kukks/rag-mcp/internal/memory"
)

// defineTools returns the list of MCP tools provided by this server
func (s *Server) defineTools() []Tool {
	scopeSchema := map[string]interface{}{
		"type":        "string",
		"description": "Memory scope: 'session' (this process only), 'project' (this project's database), or 'global'",
		"enum":        []string{"session", "project", "global"},
	}

	return []Tool{
		{
			Name:        "store_memory",
			Description: "Store a short text memory for later keyword retrieval. The memory is persisted in the chosen scope and indexed immediately.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"content": map[string]interface{}{
						"type":        "string",
						"description": "Memory text (required)",
					},
					"scope": scopeSchema,
					"tags": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Short labels attached to the memory, order preserved",
					},
					"source_file": map[string]interface{}{
						"type":        "string",
						"description": "File the memory came from, if any",
					},
					"language": map[string]interface{}{
						"type":        "string",
						"description": "Language of the content, if known",
					},
				},
				"required": []string{"content", "scope"},
			},
		},
		{
			Name:        "search_memory",
			Description: "Rank memories in one scope against a query using BM25 keyword search. Scores are unbounded; min_similarity is relative to the best hit (1.0 keeps only ties with it).",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Search query (required)",
					},
					"k": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of results (default 5)",
						"minimum":     1,
					},
					"scope": scopeSchema,
					"filters": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"tags": map[string]interface{}{
								"type":        "array",
								"items":       map[string]interface{}{"type": "string"},
								"description": "Keep only memories carrying at least one of these tags",
							},
						},
					},
					"min_similarity": map[string]interface{}{
						"type":        "number",
						"description": "Drop hits scoring below this fraction of the best hit's score",
						"minimum":     0,
						"maximum":     1,
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "list_memories",
			Description: "List memories in a scope, most recently created first.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"scope": scopeSchema,
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of memories (default 50)",
					},
					"offset": map[string]interface{}{
						"type":        "integer",
						"description": "Number of memories to skip (default 0)",
					},
				},
			},
		},
		{
			Name:        "delete_memory",
			Description: "Delete a memory by id from a scope. Reports whether the id existed.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": map[string]interface{}{
						"type":        "string",
						"description": "Memory id (required)",
					},
					"scope": scopeSchema,
				},
				"required": []string{"id", "scope"},
			},
		},
		{
			Name:        "clear_session",
			Description: "Remove every memory in the session scope.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// handleToolCall handles the tools/call request
func (s *Server) handleToolCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, InvalidParams, "invalid parameters")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}

	var result *ToolResult
	var err error

	switch params.Name {
	case "store_memory":
		result, err = s.handleStoreMemory(ctx, params.Arguments)
	case "search_memory":
		result, err = s.handleSearchMemory(ctx, params.Arguments)
	case "list_memories":
		result, err = s.handleListMemories(ctx, params.Arguments)
	case "delete_memory":
		result, err = s.handleDeleteMemory(ctx, params.Arguments)
	case "clear_session":
		result, err = s.handleClearSession(ctx, params.Arguments)
	default:
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("unknown tool: %s", params.Name))
	}

	if err != nil {
		var invalid *invalidArgsError
		if errors.As(err, &invalid) {
			return NewErrorResponse(req.ID, InvalidParams, invalid.Error())
		}
		return NewErrorResponse(req.ID, InternalError, err.Error())
	}

	return NewResponse(req.ID, result)
}

// invalidArgsError marks a tool failure caused by the caller's input.
type invalidArgsError struct {
	msg string
}

func (e *invalidArgsError) Error() string { return e.msg }

func invalidArgs(format string, args ...interface{}) error {
	return &invalidArgsError{msg: fmt.Sprintf(format, args...)}
}

// argument extraction helpers for map[string]interface{} tool arguments

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func intArg(args map[string]interface{}, key string, def int) (int, error) {
	raw, present := args[key]
	if !present {
		return def, nil
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, invalidArgs("%s must be an integer", key)
	}
	return int(f), nil
}

func floatArg(args map[string]interface{}, key string, def float64) (float64, error) {
	raw, present := args[key]
	if !present {
		return def, nil
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, invalidArgs("%s must be a number", key)
	}
	return f, nil
}

func stringSliceArg(args map[string]interface{}, key string) ([]string, error) {
	raw, present := args[key]
	if !present {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, invalidArgs("%s must be an array of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, invalidArgs("%s must be an array of strings", key)
		}
		out = append(out, str)
	}
	return out, nil
}

func scopeArg(args map[string]interface{}, required bool, def memory.Scope) (memory.Scope, error) {
	raw, present := stringArg(args, "scope")
	if !present {
		if required {
			return "", invalidArgs("scope parameter is required")
		}
		return def, nil
	}
	scope, err := memory.ParseScope(raw)
	if err != nil {
		return "", invalidArgs("%s", err.Error())
	}
	return scope, nil
}

// handleStoreMemory implements the store_memory tool
func (s *Server) handleStoreMemory(ctx context.Context, args map[string]interface{}) (*ToolResult, error) {
	content, ok := stringArg(args, "content")
	if !ok || content == "" {
		return nil, invalidArgs("content parameter is required")
	}
	scope, err := scopeArg(args, true, "")
	if err != nil {
		return nil, err
	}
	tags, err := stringSliceArg(args, "tags")
	if err != nil {
		return nil, err
	}
	sourceFile, _ := stringArg(args, "source_file")
	language, _ := stringArg(args, "language")

	m, err := s.store.Store(ctx, scope, content, memory.StoreOptions{
		Tags:       tags,
		SourceFile: sourceFile,
		Language:   language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store memory: %w", err)
	}
	s.searcher.Index(m)

	s.logger.Debug().Str("id", m.ID).Str("scope", string(scope)).Msg("Memory stored")
	return jsonToolResult(map[string]interface{}{
		"id":    m.ID,
		"scope": m.Scope,
	})
}

// handleSearchMemory implements the search_memory tool
func (s *Server) handleSearchMemory(ctx context.Context, args map[string]interface{}) (*ToolResult, error) {
	query, ok := stringArg(args, "query")
	if !ok || query == "" {
		return nil, invalidArgs("query parameter is required")
	}
	scope, err := scopeArg(args, false, memory.ScopeGlobal)
	if err != nil {
		return nil, err
	}
	k, err := intArg(args, "k", s.cfg.Search.DefaultK)
	if err != nil {
		return nil, err
	}
	if k < 0 {
		return nil, invalidArgs("k must not be negative")
	}
	minSimilarity, err := floatArg(args, "min_similarity", 0)
	if err != nil {
		return nil, err
	}

	var filterTags []string
	if rawFilters, present := args["filters"]; present {
		filters, ok := rawFilters.(map[string]interface{})
		if !ok {
			return nil, invalidArgs("filters must be an object")
		}
		filterTags, err = stringSliceArg(filters, "tags")
		if err != nil {
			return nil, err
		}
	}

	results, err := s.searcher.Search(ctx, scope, query, k, memory.Filter{
		Tags:          filterTags,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	formatted := make([]map[string]interface{}, len(results))
	for i, r := range results {
		formatted[i] = map[string]interface{}{
			"id":      r.Memory.ID,
			"content": r.Memory.Content,
			"score":   r.Score,
			"tags":    r.Memory.Tags,
		}
	}
	return jsonToolResult(map[string]interface{}{
		"results": formatted,
		"count":   len(formatted),
	})
}

// handleListMemories implements the list_memories tool
func (s *Server) handleListMemories(ctx context.Context, args map[string]interface{}) (*ToolResult, error) {
	scope, err := scopeArg(args, false, memory.ScopeGlobal)
	if err != nil {
		return nil, err
	}
	limit, err := intArg(args, "limit", 50)
	if err != nil {
		return nil, err
	}
	offset, err := intArg(args, "offset", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 || offset < 0 {
		return nil, invalidArgs("limit and offset must not be negative")
	}

	memories, err := s.store.List(ctx, scope, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	return jsonToolResult(map[string]interface{}{
		"memories": memories,
		"count":    len(memories),
	})
}

// handleDeleteMemory implements the delete_memory tool
func (s *Server) handleDeleteMemory(ctx context.Context, args map[string]interface{}) (*ToolResult, error) {
	id, ok := stringArg(args, "id")
	if !ok || id == "" {
		return nil, invalidArgs("id parameter is required")
	}
	scope, err := scopeArg(args, true, "")
	if err != nil {
		return nil, err
	}

	existed, err := s.store.Delete(ctx, scope, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete memory: %w", err)
	}
	if existed {
		s.searcher.Unindex(scope, id)
	}

	return jsonToolResult(map[string]interface{}{
		"deleted": existed,
	})
}

// handleClearSession implements the clear_session tool
func (s *Server) handleClearSession(_ context.Context, _ map[string]interface{}) (*ToolResult, error) {
	s.store.ClearSession()
	s.searcher.Reset(memory.ScopeSession)
	return jsonToolResult(map[string]interface{}{
		"cleared": true,
	})
}

func jsonToolResult(payload interface{}) (*ToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return NewToolResult(string(data)), nil
}
