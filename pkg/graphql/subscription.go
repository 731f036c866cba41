package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/getmockd/chatd/pkg/logging"
	"github.com/getmockd/chatd/pkg/metrics"
)

// WebSocket message types for graphql-ws protocol (modern) and subscriptions-transport-ws (legacy)
const (
	// Common message types (used by both protocols)
	msgTypeConnectionInit = "connection_init"
	msgTypeConnectionAck  = "connection_ack"

	// graphql-transport-ws protocol (modern)
	msgTypePing      = "ping"
	msgTypePong      = "pong"
	msgTypeSubscribe = "subscribe"
	msgTypeNext      = "next"
	msgTypeError     = "error"
	msgTypeComplete  = "complete"

	// subscriptions-transport-ws protocol (legacy) - additional types
	msgTypeConnectionKeepAlive = "ka"
	msgTypeStart               = "start"
	msgTypeData                = "data"
	msgTypeStop                = "stop"
	msgTypeConnectionTerminate = "connection_terminate"
)

// Subprotocol names.
const (
	ProtocolTransportWS = "graphql-transport-ws"
	ProtocolLegacyWS    = "graphql-ws"
)

// Close codes defined by graphql-transport-ws.
const (
	CloseUnauthorized       websocket.StatusCode = 4401
	CloseSubscriberExists   websocket.StatusCode = 4409
	CloseTooManyInitRequest websocket.StatusCode = 4429
)

// wsMessage represents a WebSocket message for GraphQL subscriptions.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscriptionOptions configures a SubscriptionHandler.
type SubscriptionOptions struct {
	// KeepAlive is the interval between "ka" messages on legacy connections.
	// Zero disables them.
	KeepAlive time.Duration
	// SkipOriginVerify skips verification of the Origin header during the
	// WebSocket handshake.
	SkipOriginVerify bool
}

// SubscriptionHandler serves GraphQL operations over WebSocket.
type SubscriptionHandler struct {
	executor  *Executor
	opContext OperationContextFunc
	options   SubscriptionOptions
	upgrader  websocket.AcceptOptions
	logger    *slog.Logger
	conns     map[string]*subscriptionConn
	mu        sync.RWMutex
	connID    atomic.Uint64
}

// subscriptionConn represents an active WebSocket connection.
type subscriptionConn struct {
	id       string
	conn     *websocket.Conn
	req      *http.Request
	protocol string // "graphql-ws" or "graphql-transport-ws"
	cancel   context.CancelFunc

	mu          sync.Mutex
	initialized bool
	params      map[string]interface{}
	subs        map[string]*activeSub
}

// activeSub is one running operation. A client may reuse an id once the
// previous operation completes, so cleanup compares entries by identity.
type activeSub struct {
	cancel context.CancelFunc
}

// NewSubscriptionHandler creates a subscription handler. opContext may be nil.
func NewSubscriptionHandler(executor *Executor, opContext OperationContextFunc, options SubscriptionOptions, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		executor:  executor,
		opContext: opContext,
		options:   options,
		upgrader: websocket.AcceptOptions{
			Subprotocols:       []string{ProtocolTransportWS, ProtocolLegacyWS},
			InsecureSkipVerify: options.SkipOriginVerify,
		},
		logger: logging.OrNop(logger).With("component", "subscriptions"),
		conns:  make(map[string]*subscriptionConn),
	}
}

// ServeHTTP upgrades HTTP to WebSocket and handles subscriptions.
func (h *SubscriptionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &h.upgrader)
	if err != nil {
		// Accept has already written the HTTP error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	h.handleConnection(conn, r)
}

// handleConnection handles a WebSocket connection until it closes.
func (h *SubscriptionHandler) handleConnection(conn *websocket.Conn, r *http.Request) {
	id := fmt.Sprintf("conn-%d", h.connID.Add(1))

	// Determine protocol from negotiated subprotocol
	protocol := conn.Subprotocol()
	if protocol == "" {
		protocol = ProtocolTransportWS
	}

	ctx, cancel := context.WithCancel(r.Context())
	sc := &subscriptionConn{
		id:       id,
		conn:     conn,
		req:      r,
		protocol: protocol,
		cancel:   cancel,
		subs:     make(map[string]*activeSub),
	}

	h.mu.Lock()
	h.conns[id] = sc
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	h.logger.Debug("websocket connected", "conn", id, "protocol", protocol)

	defer func() {
		cancel()
		sc.cancelAll()

		h.mu.Lock()
		delete(h.conns, id)
		h.mu.Unlock()
		metrics.WSConnections.Dec()

		_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
		h.logger.Debug("websocket disconnected", "conn", id)
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return // Connection closed or error
		}

		if msgType != websocket.MessageText {
			continue // Only handle text messages
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(sc, "", []GraphQLError{{Message: "invalid message format"}})
			continue
		}

		if done := h.handleMessage(ctx, sc, &msg); done {
			return
		}
	}
}

// handleMessage dispatches one client message. It returns true when the
// connection has been closed.
func (h *SubscriptionHandler) handleMessage(ctx context.Context, sc *subscriptionConn, msg *wsMessage) bool {
	switch msg.Type {
	case msgTypeConnectionInit:
		return h.handleConnectionInit(ctx, sc, msg)

	case msgTypePing:
		pong := wsMessage{Type: msgTypePong, Payload: msg.Payload}
		_ = h.sendMessage(sc, &pong)

	case msgTypeSubscribe, msgTypeStart:
		return h.handleSubscribe(ctx, sc, msg.ID, msg.Payload)

	case msgTypeComplete, msgTypeStop:
		sc.unsubscribe(msg.ID)

	case msgTypeConnectionTerminate:
		sc.cancelAll()
		_ = sc.conn.Close(websocket.StatusNormalClosure, "connection terminated")
		return true

	case msgTypePong:
		// Ignore pong messages
	}
	return false
}

// handleConnectionInit stores the init payload and acknowledges it.
func (h *SubscriptionHandler) handleConnectionInit(ctx context.Context, sc *subscriptionConn, msg *wsMessage) bool {
	params := map[string]interface{}{}
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		if err := json.Unmarshal(msg.Payload, &params); err != nil {
			_ = sc.conn.Close(websocket.StatusCode(4400), "invalid connection_init payload")
			return true
		}
	}

	sc.mu.Lock()
	already := sc.initialized
	sc.initialized = true
	if !already {
		sc.params = params
	}
	sc.mu.Unlock()

	if already {
		_ = sc.conn.Close(CloseTooManyInitRequest, "Too many initialisation requests")
		return true
	}

	ack := wsMessage{Type: msgTypeConnectionAck}
	_ = h.sendMessage(sc, &ack)

	if sc.protocol == ProtocolLegacyWS {
		ka := wsMessage{Type: msgTypeConnectionKeepAlive}
		_ = h.sendMessage(sc, &ka)
		if h.options.KeepAlive > 0 {
			go h.keepAlive(ctx, sc)
		}
	}
	return false
}

// keepAlive sends legacy "ka" frames until ctx ends.
func (h *SubscriptionHandler) keepAlive(ctx context.Context, sc *subscriptionConn) {
	ticker := time.NewTicker(h.options.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ka := wsMessage{Type: msgTypeConnectionKeepAlive}
			if err := h.sendMessage(sc, &ka); err != nil {
				return
			}
		}
	}
}

// handleSubscribe starts an operation on the connection.
func (h *SubscriptionHandler) handleSubscribe(ctx context.Context, sc *subscriptionConn, id string, payload json.RawMessage) bool {
	sc.mu.Lock()
	initialized := sc.initialized
	params := sc.params
	sc.mu.Unlock()

	if !initialized {
		_ = sc.conn.Close(CloseUnauthorized, "Unauthorized")
		return true
	}

	if id == "" {
		h.sendError(sc, "", []GraphQLError{{Message: "subscription id is required"}})
		return false
	}

	var req GraphQLRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(sc, id, []GraphQLError{{Message: "invalid subscription payload"}})
		return false
	}

	subCtx, cancel := context.WithCancel(ctx)
	sc.mu.Lock()
	if _, exists := sc.subs[id]; exists {
		sc.mu.Unlock()
		cancel()
		if sc.protocol == ProtocolTransportWS {
			_ = sc.conn.Close(CloseSubscriberExists, "Subscriber for "+id+" already exists")
			return true
		}
		h.sendError(sc, id, []GraphQLError{{Message: "subscription already exists"}})
		return false
	}
	sub := &activeSub{cancel: cancel}
	sc.subs[id] = sub
	sc.mu.Unlock()

	started := time.Now()
	opType := "invalid"
	op, resp := h.executor.Prepare(&req)
	if op != nil {
		opType = string(op.Type())
		opCtx := subCtx
		if h.opContext != nil {
			opCtx = h.opContext(subCtx, Transport{Request: sc.req, InitPayload: params})
		}
		var stream <-chan *GraphQLResponse
		stream, resp = h.executor.SubscribeOperation(opCtx, op)
		if resp == nil {
			metrics.ObserveOperation(opType, false, time.Since(started))
			go h.streamEvents(subCtx, sc, id, sub, stream)
			return false
		}
	}
	sc.remove(id, sub)
	cancel()
	metrics.ObserveOperation(opType, len(resp.Errors) > 0, time.Since(started))
	if resp.Data == nil && len(resp.Errors) > 0 {
		h.sendError(sc, id, resp.Errors)
		return false
	}
	h.sendNext(sc, id, resp)
	h.sendComplete(sc, id)
	return false
}

// streamEvents forwards subscription results to the client.
func (h *SubscriptionHandler) streamEvents(ctx context.Context, sc *subscriptionConn, id string, sub *activeSub, stream <-chan *GraphQLResponse) {
	for resp := range stream {
		h.sendNext(sc, id, resp)
	}

	// complete is only sent when the server ends the stream.
	if ctx.Err() == nil {
		h.sendComplete(sc, id)
	}
	sc.remove(id, sub)
	sub.cancel()
}

// sendMessage sends a WebSocket message.
func (h *SubscriptionHandler) sendMessage(sc *subscriptionConn, msg *wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return sc.conn.Write(ctx, websocket.MessageText, data)
}

// sendNext sends a next/data message.
func (h *SubscriptionHandler) sendNext(sc *subscriptionConn, id string, resp *GraphQLResponse) {
	msgType := msgTypeNext
	if sc.protocol == ProtocolLegacyWS {
		msgType = msgTypeData
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Warn("failed to encode subscription result", "conn", sc.id, "id", id, "error", err)
		return
	}
	_ = h.sendMessage(sc, &wsMessage{ID: id, Type: msgType, Payload: payload})
}

// sendError sends an error message.
func (h *SubscriptionHandler) sendError(sc *subscriptionConn, id string, errs []GraphQLError) {
	payload, _ := json.Marshal(errs)
	_ = h.sendMessage(sc, &wsMessage{ID: id, Type: msgTypeError, Payload: payload})
}

// sendComplete sends a complete message.
func (h *SubscriptionHandler) sendComplete(sc *subscriptionConn, id string) {
	_ = h.sendMessage(sc, &wsMessage{ID: id, Type: msgTypeComplete})
}

func (sc *subscriptionConn) unsubscribe(id string) {
	sc.mu.Lock()
	sub, exists := sc.subs[id]
	delete(sc.subs, id)
	sc.mu.Unlock()

	if exists {
		sub.cancel()
	}
}

// remove forgets id only while it still maps to sub.
func (sc *subscriptionConn) remove(id string, sub *activeSub) {
	sc.mu.Lock()
	if sc.subs[id] == sub {
		delete(sc.subs, id)
	}
	sc.mu.Unlock()
}

func (sc *subscriptionConn) cancelAll() {
	sc.mu.Lock()
	for id, sub := range sc.subs {
		sub.cancel()
		delete(sc.subs, id)
	}
	sc.mu.Unlock()
}

// ConnectionCount returns the number of active connections.
func (h *SubscriptionHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SubscriptionCount returns the total number of active subscriptions across all connections.
func (h *SubscriptionHandler) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, sc := range h.conns {
		sc.mu.Lock()
		count += len(sc.subs)
		sc.mu.Unlock()
	}
	return count
}

// CloseAll closes all active connections.
func (h *SubscriptionHandler) CloseAll(reason string) {
	h.mu.Lock()
	conns := make([]*subscriptionConn, 0, len(h.conns))
	for _, sc := range h.conns {
		conns = append(conns, sc)
	}
	h.mu.Unlock()

	for _, sc := range conns {
		sc.cancelAll()
		sc.cancel()
		_ = sc.conn.Close(websocket.StatusGoingAway, reason)
	}
}
