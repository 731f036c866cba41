package graphql

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/metrics"
)

// MaxRequestBodySize is the maximum allowed request body size (1MB).
const MaxRequestBodySize = 1 << 20 // 1MB

// Transport describes how an operation reached the server.
type Transport struct {
	// Request is the HTTP request, or the WebSocket upgrade request.
	Request *http.Request
	// InitPayload holds the connection_init payload for WebSocket operations.
	InitPayload map[string]interface{}
}

// OperationContextFunc derives the context an operation executes under.
// It is called once per HTTP request and once per WebSocket subscribe.
type OperationContextFunc func(ctx context.Context, t Transport) context.Context

// Handler handles GraphQL HTTP requests.
type Handler struct {
	executor  *Executor
	opContext OperationContextFunc
	logger    *slog.Logger
}

// NewHandler creates a Handler. opContext may be nil.
func NewHandler(executor *Executor, opContext OperationContextFunc, logger *slog.Logger) *Handler {
	return &Handler{
		executor:  executor,
		opContext: opContext,
		logger:    logging.OrNop(logger),
	}
}

// ServeHTTP handles GET and POST requests.
// It supports both application/json and application/graphql content types.
// CORS is handled by the router middleware.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	// Handle preflight requests (CORS headers are set by middleware)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req *GraphQLRequest
	var err error
	if r.Method == http.MethodGet {
		req, err = h.parseGetRequest(r)
	} else {
		req, err = h.parsePostRequest(r)
	}
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	op, resp := h.executor.Prepare(req)
	opType := "invalid"
	if op != nil {
		opType = string(op.Type())
		if r.Method == http.MethodGet && op.Type() == ast.Mutation {
			w.Header().Set("Allow", "POST")
			h.writeError(w, http.StatusMethodNotAllowed, "mutations must use POST")
			return
		}

		ctx := r.Context()
		if h.opContext != nil {
			ctx = h.opContext(ctx, Transport{Request: r})
		}
		resp = h.executor.ExecuteOperation(ctx, op)
	}
	h.writeResponse(w, resp)

	duration := time.Since(startTime)
	metrics.ObserveOperation(opType, len(resp.Errors) > 0, duration)
	h.logger.Debug("graphql operation",
		"operation", opType,
		"operationName", req.OperationName,
		"errors", len(resp.Errors),
		"duration", duration,
	)
}

// parseGetRequest parses a GraphQL request from GET query parameters.
func (h *Handler) parseGetRequest(r *http.Request) (*GraphQLRequest, error) {
	query := r.URL.Query()

	req := &GraphQLRequest{
		Query:         query.Get("query"),
		OperationName: query.Get("operationName"),
	}

	// Parse variables if provided
	if varsStr := query.Get("variables"); varsStr != "" {
		var variables map[string]interface{}
		if err := json.Unmarshal([]byte(varsStr), &variables); err != nil {
			return nil, &parseError{message: "invalid variables JSON"}
		}
		req.Variables = variables
	}

	return req, nil
}

// parsePostRequest parses a GraphQL request from a POST body.
func (h *Handler) parsePostRequest(r *http.Request) (*GraphQLRequest, error) {
	contentType := r.Header.Get("Content-Type")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize))
	if err != nil {
		return nil, &parseError{message: "failed to read request body"}
	}
	defer func() { _ = r.Body.Close() }()

	if len(body) == 0 {
		return nil, &parseError{message: "empty request body"}
	}

	// Handle application/graphql content type
	if strings.HasPrefix(contentType, "application/graphql") {
		return &GraphQLRequest{Query: string(body)}, nil
	}

	// Default to application/json
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &parseError{message: "invalid JSON request body"}
	}

	return &req, nil
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := &GraphQLResponse{
		Errors: []GraphQLError{{Message: message}},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// writeResponse writes a GraphQL response.
func (h *Handler) writeResponse(w http.ResponseWriter, resp *GraphQLResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to write graphql response", "error", err)
	}
}

// IsWebSocketUpgrade reports whether r asks to switch to the WebSocket protocol.
func IsWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// parseError represents a request parsing error.
type parseError struct {
	message string
}

func (e *parseError) Error() string {
	return e.message
}
