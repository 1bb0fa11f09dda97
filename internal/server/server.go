// Package server implements the server side of the MCP stdio
// transport: JSON-RPC dispatch, response writing, and tool call
// bookkeeping. Protocol frames go to stdout; everything else the
// process says goes to stderr.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wrenfield/klaviyo-mcp/internal/audit"
	"github.com/wrenfield/klaviyo-mcp/internal/jsonrpc"
	"github.com/wrenfield/klaviyo-mcp/internal/resources"
	"github.com/wrenfield/klaviyo-mcp/internal/tools"
)

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// CodeResourceNotFound is the MCP error code for resources/read on a
// URI that resolves to nothing.
const CodeResourceNotFound = -32002

// Info identifies the server to peers during initialize.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// LatencyRecorder receives per-tool call durations.
type LatencyRecorder interface {
	Record(operation string, d time.Duration)
}

// Auditor records completed tool calls. The audit store satisfies it.
type Auditor interface {
	RecordToolCall(ctx context.Context, rec audit.Record)
}

// Option configures a Server.
type Option func(*Server)

// WithWriter directs responses somewhere other than stdout.
func WithWriter(w io.Writer) Option {
	return func(s *Server) { s.out = w }
}

// WithLatencyRecorder enables per-tool latency tracking.
func WithLatencyRecorder(rec LatencyRecorder) Option {
	return func(s *Server) { s.metrics = rec }
}

// WithAuditor enables the tool invocation audit trail.
func WithAuditor(a Auditor) Option {
	return func(s *Server) { s.auditor = a }
}

// Server dispatches MCP requests to the tool and resource registries.
type Server struct {
	info      Info
	tools     *tools.Registry
	resources *resources.Registry
	logger    *slog.Logger
	metrics   LatencyRecorder
	auditor   Auditor

	mu  sync.Mutex
	out io.Writer
}

// New creates a Server writing responses to stdout unless overridden.
func New(info Info, reg *tools.Registry, res *resources.Registry, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		info:      info,
		tools:     reg,
		resources: res,
		logger:    logger,
		out:       os.Stdout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handle processes one decoded frame. It is the consumer side of the
// framing loop: every frame is a complete JSON document, though not
// necessarily a valid request.
func (s *Server) Handle(ctx context.Context, raw json.RawMessage) {
	var req jsonrpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.logger.Warn("frame is not a request object", "error", err)
		s.write(jsonrpc.NewErrorResponse(nil, jsonrpc.CodeInvalidRequest, "expected a request object"))
		return
	}
	if req.Method == "" {
		s.writeError(&req, jsonrpc.CodeInvalidRequest, "missing method")
		return
	}

	s.logger.Debug("request", "method", req.Method, "notification", req.IsNotification())

	switch req.Method {
	case "initialize":
		s.handleInitialize(&req)
	case "notifications/initialized":
		s.logger.Info("client initialized")
	case "ping":
		s.respond(&req, map[string]any{})
	case "tools/list":
		s.respond(&req, map[string]any{"tools": s.tools.List()})
	case "tools/call":
		s.handleToolCall(ctx, &req)
	case "resources/list":
		s.respond(&req, map[string]any{"resources": s.resources.List()})
	case "resources/templates/list":
		s.respond(&req, map[string]any{"resourceTemplates": s.resources.Templates()})
	case "resources/read":
		s.handleResourceRead(ctx, &req)
	default:
		if req.IsNotification() {
			s.logger.Debug("ignoring unknown notification", "method", req.Method)
			return
		}
		s.writeError(&req, jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *jsonrpc.Request) {
	var p struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.writeError(req, jsonrpc.CodeInvalidParams, "malformed initialize params")
			return
		}
	}
	s.logger.Info("initialize",
		"client", p.ClientInfo.Name,
		"client_version", p.ClientInfo.Version,
		"client_protocol", p.ProtocolVersion)

	s.respond(req, map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": s.info,
	})
}

func (s *Server) handleToolCall(ctx context.Context, req *jsonrpc.Request) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
		s.writeError(req, jsonrpc.CodeInvalidParams, "tools/call params need a tool name")
		return
	}

	corrID := newCorrelationID()
	s.logger.Info("tool call", "tool", p.Name, "correlation_id", corrID)

	start := time.Now()
	res, err := s.safeExecute(ctx, p.Name, p.Arguments)
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.Record("tool."+p.Name, elapsed)
	}

	var errText string
	if err != nil {
		errText = err.Error()
		s.logger.Warn("tool call failed",
			"tool", p.Name,
			"correlation_id", corrID,
			"duration", elapsed,
			"error", err)
		res = tools.ErrorResult(err)
	} else {
		s.logger.Debug("tool call done",
			"tool", p.Name,
			"correlation_id", corrID,
			"duration", elapsed)
	}

	if s.auditor != nil {
		s.auditor.RecordToolCall(ctx, audit.Record{
			Time:          start,
			Tool:          p.Name,
			CorrelationID: corrID,
			Duration:      elapsed,
			OK:            err == nil && !res.IsError,
			ErrorText:     errText,
		})
	}

	s.respond(req, res)
}

// safeExecute runs a tool handler and converts panics into errors so a
// single bad call cannot take down the transport.
func (s *Server) safeExecute(ctx context.Context, name string, args map[string]any) (res *tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool handler panicked", "tool", name, "panic", r)
			res, err = nil, fmt.Errorf("internal error in tool %s", name)
		}
	}()
	return s.tools.Execute(ctx, name, args)
}

func (s *Server) handleResourceRead(ctx context.Context, req *jsonrpc.Request) {
	var p struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.URI == "" {
		s.writeError(req, jsonrpc.CodeInvalidParams, "resources/read params need a uri")
		return
	}

	contents, err := s.resources.Read(ctx, p.URI)
	if err != nil {
		if errors.Is(err, resources.ErrNotFound) {
			s.writeError(req, CodeResourceNotFound, err.Error())
			return
		}
		s.logger.Warn("resource read failed", "uri", p.URI, "error", err)
		s.writeError(req, jsonrpc.CodeInternalError, err.Error())
		return
	}
	s.respond(req, map[string]any{"contents": []*resources.Contents{contents}})
}

// respond sends a success response unless the request was a
// notification.
func (s *Server) respond(req *jsonrpc.Request, result any) {
	if req.IsNotification() {
		return
	}
	s.write(jsonrpc.NewResponse(req.ID, result))
}

// writeError sends an error response unless the request was a
// notification, which must never be answered.
func (s *Server) writeError(req *jsonrpc.Request, code int, msg string) {
	if req.IsNotification() {
		return
	}
	s.write(jsonrpc.NewErrorResponse(req.ID, code, msg))
}

// write marshals a response and emits it as a single line. The mutex
// keeps concurrent responses from interleaving mid-frame.
func (s *Server) write(resp *jsonrpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// newCorrelationID returns a time-ordered UUID, falling back to a
// random one if the clock source misbehaves.
func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
