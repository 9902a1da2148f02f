package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/kukks/rag-mcp/internal/config"
	"github.com/kukks/rag-mcp/internal/memory"
	"github.com/rs/zerolog"
)

// maxLineBytes bounds a single request line. Memories are short text
// documents; 8 MiB leaves generous headroom.
const maxLineBytes = 8 * 1024 * 1024

// Server implements the MCP protocol server over line-delimited
// JSON-RPC. It is strictly single-threaded: one request is processed
// to completion before the next is read, and responses are emitted in
// arrival order.
type Server struct {
	store    *memory.Store
	searcher *memory.Searcher
	cfg      *config.Config
	logger   zerolog.Logger
	tools    []Tool
	version  string

	// shutdown is set from the signal watcher and observed by the
	// read loop between requests.
	shutdown atomic.Bool
}

// NewServer creates a new MCP server
func NewServer(store *memory.Store, searcher *memory.Searcher, cfg *config.Config, logger zerolog.Logger, version string) *Server {
	s := &Server{
		store:    store,
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
		version:  version,
	}
	s.tools = s.defineTools()
	return s
}

// RunStdio runs the server on stdin/stdout with signal-driven
// shutdown. SIGTERM, SIGINT and SIGHUP stop the loop between requests
// so the store closes and its WAL locks are released; a later process
// invocation must not find the database still locked.
func (s *Server) RunStdio(ctx context.Context) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigc)

	return s.run(ctx, os.Stdin, os.Stdout, sigc)
}

// Run serves requests from in and writes responses to out until EOF or
// shutdown. Exposed for tests; RunStdio is the production entrypoint.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.run(ctx, in, out, nil)
}

func (s *Server) run(ctx context.Context, in io.Reader, out io.Writer, sigc <-chan os.Signal) error {
	s.logger.Info().Str("version", s.version).Msg("rag-mcp server starting on stdio")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			lines <- line
		}
		readErr <- scanner.Err()
	}()

	writer := bufio.NewWriter(out)

	for !s.shutdown.Load() {
		select {
		case sig := <-sigc:
			s.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			s.shutdown.Store(true)
		case <-ctx.Done():
			s.shutdown.Store(true)
		case line, ok := <-lines:
			if !ok {
				// Input closed; drain the reader's verdict and stop.
				if err := <-readErr; err != nil {
					s.close()
					return fmt.Errorf("scanner error: %w", err)
				}
				s.close()
				return nil
			}
			if len(line) == 0 {
				continue
			}
			if response := s.handleLine(ctx, line); response != nil {
				s.writeResponse(writer, response)
			}
		}
	}

	s.logger.Info().Msg("Shutting down")
	s.close()
	return nil
}

// close releases the store so database locks are freed promptly.
func (s *Server) close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close store")
	}
}

func (s *Server) writeResponse(writer *bufio.Writer, response *Response) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal response")
		return
	}
	writer.Write(data)
	writer.WriteByte('\n')
	writer.Flush()
}

// handleLine decodes one request line. A nil return means no response
// is emitted (notifications).
func (s *Server) handleLine(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		if json.Valid(line) {
			// Well-formed JSON that is not a request object.
			return NewErrorResponse(nil, InvalidRequest, "invalid request")
		}
		s.logger.Warn().Err(err).Msg("Failed to parse request")
		return NewErrorResponse(nil, ParseError, "parse error")
	}

	if req.IsNotification() {
		s.handleNotification(&req)
		return nil
	}

	if req.JSONRPC != "2.0" || req.Method == "" {
		return NewErrorResponse(req.ID, InvalidRequest, "invalid request")
	}

	return s.handleRequest(ctx, &req)
}

// handleNotification processes a message that must never be answered.
func (s *Server) handleNotification(req *Request) {
	switch {
	case strings.HasPrefix(req.Method, "notifications/"):
		// Silently accepted.
	case req.Method == "initialized":
		// Legacy spelling of notifications/initialized.
	default:
		s.logger.Debug().Str("method", req.Method).Msg("Ignoring notification")
	}
}

// handleRequest routes a JSON-RPC request to its handler.
func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "shutdown":
		s.shutdown.Store(true)
		return NewResponse(req.ID, struct{}{})
	case "tools/list":
		return NewResponse(req.ID, map[string]interface{}{"tools": s.tools})
	case "tools/call":
		return s.handleToolCall(ctx, req)
	case "resources/list":
		return NewResponse(req.ID, map[string]interface{}{"resources": []interface{}{}})
	case "resources/read":
		return NewErrorResponse(req.ID, InvalidParams, "resource not found")
	case "ping":
		return NewResponse(req.ID, struct{}{})
	default:
		return NewErrorResponse(req.ID, MethodNotFound, "method not found")
	}
}

// handleInitialize handles the initialize request
func (s *Server) handleInitialize(req *Request) *Response {
	result := InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo: ServerInfo{
			Name:    "rag-mcp",
			Version: s.version,
		},
		Capabilities: ServerCapabilities{
			Tools:     ToolsCapability{ListChanged: false},
			Resources: ResourcesCapability{},
		},
	}
	return NewResponse(req.ID, result)
}
