package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, h *SubscriptionHandler, protocol string) *wsClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		Subprotocols: []string{protocol},
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msgType, id string, payload interface{}) {
	c.t.Helper()
	msg := map[string]interface{}{"type": msgType}
	if id != "" {
		msg["id"] = id
	}
	if payload != nil {
		msg["payload"] = payload
	}
	data, _ := json.Marshal(msg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.t.Fatalf("Write() error = %v", err)
	}
}

func (c *wsClient) read() (wsMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return wsMessage{}, err
	}
	var msg wsMessage
	err = json.Unmarshal(data, &msg)
	return msg, err
}

func (c *wsClient) expect(msgType string) wsMessage {
	c.t.Helper()
	msg, err := c.read()
	if err != nil {
		c.t.Fatalf("read() error = %v, want %q", err, msgType)
	}
	if msg.Type != msgType {
		c.t.Fatalf("message type = %q (%s), want %q", msg.Type, msg.Payload, msgType)
	}
	return msg
}

func (c *wsClient) expectClose(code websocket.StatusCode) {
	c.t.Helper()
	for {
		_, err := c.read()
		if err == nil {
			continue
		}
		if got := websocket.CloseStatus(err); got != code {
			c.t.Fatalf("close status = %d (%v), want %d", got, err, code)
		}
		return
	}
}

func newTestSubscriptionHandler(t *testing.T, keepAlive time.Duration) (*SubscriptionHandler, chan interface{}) {
	t.Helper()
	guard := func(ctx context.Context, f FieldPath, _ map[string]interface{}) error {
		if f.String() == "Subscription.tick" && ctx.Value(ctxKey{}) == "blocked" {
			return errors.New("not authorized")
		}
		return nil
	}
	e, events := newStreamExecutor(t, WithGuard(guard))
	e.Resolve("Query.hello", func(p ResolveParams) (interface{}, error) {
		who, _ := p.Context.Value(ctxKey{}).(string)
		return "hello " + who, nil
	})
	opContext := func(ctx context.Context, tr Transport) context.Context {
		if tr.Request == nil {
			t.Error("transport request missing")
		}
		if who, ok := tr.InitPayload["who"].(string); ok {
			return context.WithValue(ctx, ctxKey{}, who)
		}
		return ctx
	}
	h := NewSubscriptionHandler(e, opContext, SubscriptionOptions{KeepAlive: keepAlive, SkipOriginVerify: true}, nil)
	return h, events
}

func TestSubscriptionHandler_Stream(t *testing.T) {
	h, events := newTestSubscriptionHandler(t, 0)
	c := dialWS(t, h, ProtocolTransportWS)

	c.send(msgTypeConnectionInit, "", map[string]interface{}{"who": "alice"})
	c.expect(msgTypeConnectionAck)

	c.send(msgTypeSubscribe, "1", map[string]interface{}{"query": "subscription { tick { n } }"})
	go func() {
		events <- 5
		close(events)
	}()

	msg := c.expect(msgTypeNext)
	if msg.ID != "1" || !strings.Contains(string(msg.Payload), `"n":5`) {
		t.Errorf("next = %s %s", msg.ID, msg.Payload)
	}
	if msg := c.expect(msgTypeComplete); msg.ID != "1" {
		t.Errorf("complete id = %q", msg.ID)
	}
}

func TestSubscriptionHandler_SubscribeBeforeInit(t *testing.T) {
	h, _ := newTestSubscriptionHandler(t, 0)
	c := dialWS(t, h, ProtocolTransportWS)

	c.send(msgTypeSubscribe, "1", map[string]interface{}{"query": "subscription { tick { n } }"})
	c.expectClose(CloseUnauthorized)
}

func TestSubscriptionHandler_DuplicateInit(t *testing.T) {
	h, _ := newTestSubscriptionHandler(t, 0)
	c := dialWS(t, h, ProtocolTransportWS)

	c.send(msgTypeConnectionInit, "", nil)
	c.expect(msgTypeConnectionAck)
	c.send(msgTypeConnectionInit, "", nil)
	c.expectClose(CloseTooManyInitRequest)
}

func TestSubscriptionHandler_InitPayloadReachesOperation(t *testing.T) {
	h, _ := newTestSubscriptionHandler(t, 0)
	c := dialWS(t, h, ProtocolTransportWS)

	c.send(msgTypeConnectionInit, "", map[string]interface{}{"who": "bob"})
	c.expect(msgTypeConnectionAck)

	c.send(msgTypeSubscribe, "q", map[string]interface{}{"query": "{ hello }"})
	msg := c.expect(msgTypeNext)
	if !strings.Contains(string(msg.Payload), "hello bob") {
		t.Errorf("payload = %s", msg.Payload)
	}
	c.expect(msgTypeComplete)
}

func TestSubscriptionHandler_GuardRejection(t *testing.T) {
	h, _ := newTestSubscriptionHandler(t, 0)
	c := dialWS(t, h, ProtocolTransportWS)

	c.send(msgTypeConnectionInit, "", map[string]interface{}{"who": "blocked"})
	c.expect(msgTypeConnectionAck)

	c.send(msgTypeSubscribe, "1", map[string]interface{}{"query": "subscription { tick { n } }"})
	msg := c.expect(msgTypeError)
	if msg.ID != "1" || !strings.Contains(string(msg.Payload), "not authorized") {
		t.Errorf("error = %s %s", msg.ID, msg.Payload)
	}

	// The connection stays usable.
	c.send(msgTypePing, "", nil)
	c.expect(msgTypePong)
}

func TestSubscriptionHandler_ClientComplete(t *testing.T) {
	h, _ := newTestSubscriptionHandler(t, 0)
	c := dialWS(t, h, ProtocolTransportWS)

	c.send(msgTypeConnectionInit, "", nil)
	c.expect(msgTypeConnectionAck)
	c.send(msgTypeSubscribe, "1", map[string]interface{}{"query": "subscription { tick { n } }"})

	deadline := time.Now().Add(2 * time.Second)
	for h.SubscriptionCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.SubscriptionCount(); got != 1 {
		t.Fatalf("SubscriptionCount() = %d, want 1", got)
	}

	c.send(msgTypeComplete, "1", nil)
	for h.SubscriptionCount() != 0 && time.Now().Before(deadline.Add(2*time.Second)) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount() = %d after complete", got)
	}
}

// waitSubscriptions polls until the handler reports want active operations.
func waitSubscriptions(t *testing.T, h *SubscriptionHandler, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.SubscriptionCount() != want && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.SubscriptionCount(); got != want {
		t.Fatalf("SubscriptionCount() = %d, want %d", got, want)
	}
}

func TestSubscriptionHandler_ReuseIDAfterComplete(t *testing.T) {
	h, events := newTestSubscriptionHandler(t, 0)
	c := dialWS(t, h, ProtocolTransportWS)

	c.send(msgTypeConnectionInit, "", nil)
	c.expect(msgTypeConnectionAck)

	sub := map[string]interface{}{"query": "subscription { tick { n } }"}
	c.send(msgTypeSubscribe, "1", sub)
	waitSubscriptions(t, h, 1)

	c.send(msgTypeComplete, "1", nil)
	c.send(msgTypeSubscribe, "1", sub)
	waitSubscriptions(t, h, 1)

	// Let the first operation finish tearing down.
	time.Sleep(100 * time.Millisecond)
	if got := h.SubscriptionCount(); got != 1 {
		t.Fatalf("SubscriptionCount() = %d after the first operation ended, want 1", got)
	}

	go func() { events <- 5 }()
	msg := c.expect(msgTypeNext)
	if msg.ID != "1" || !strings.Contains(string(msg.Payload), `"n":5`) {
		t.Errorf("next = %s %s", msg.ID, msg.Payload)
	}

	c.send(msgTypeComplete, "1", nil)
	waitSubscriptions(t, h, 0)
}

func TestSubscriptionHandler_LegacyProtocol(t *testing.T) {
	h, events := newTestSubscriptionHandler(t, 20*time.Millisecond)
	c := dialWS(t, h, ProtocolLegacyWS)

	c.send(msgTypeConnectionInit, "", nil)
	c.expect(msgTypeConnectionAck)
	c.expect(msgTypeConnectionKeepAlive)
	// Periodic keep-alive.
	c.expect(msgTypeConnectionKeepAlive)

	c.send(msgTypeStart, "7", map[string]interface{}{"query": "subscription { tick { n } }"})
	go func() { events <- 3 }()

	for {
		msg, err := c.read()
		if err != nil {
			t.Fatalf("read() error = %v", err)
		}
		if msg.Type == msgTypeConnectionKeepAlive {
			continue
		}
		if msg.Type != msgTypeData || msg.ID != "7" {
			t.Fatalf("message = %s %s, want data for 7", msg.Type, msg.ID)
		}
		if !strings.Contains(string(msg.Payload), `"n":3`) {
			t.Errorf("data = %s", msg.Payload)
		}
		break
	}
	c.send(msgTypeStop, "7", nil)
}

func TestSubscriptionHandler_CloseAll(t *testing.T) {
	h, _ := newTestSubscriptionHandler(t, 0)
	c := dialWS(t, h, ProtocolTransportWS)

	c.send(msgTypeConnectionInit, "", nil)
	c.expect(msgTypeConnectionAck)
	if got := h.ConnectionCount(); got != 1 {
		t.Fatalf("ConnectionCount() = %d", got)
	}

	h.CloseAll("shutting down")
	c.expectClose(websocket.StatusGoingAway)
}
