package graphql

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newStreamExecutor(t *testing.T, opts ...Option) (*Executor, chan interface{}) {
	t.Helper()
	e := newTestExecutor(t, opts...)
	events := make(chan interface{})
	e.Stream("Subscription.tick", func(p ResolveParams) (<-chan interface{}, error) {
		if every, ok := p.Args["every"].(int64); ok && every < 0 {
			return nil, errors.New("every must be positive")
		}
		return events, nil
	})
	e.Resolve("Subscription.tick", func(p ResolveParams) (interface{}, error) {
		n := p.Source.(int)
		if n < 0 {
			return nil, errors.New("negative tick")
		}
		return map[string]interface{}{"n": n, "at": epoch}, nil
	})
	return e, events
}

func next(t *testing.T, ch <-chan *GraphQLResponse) map[string]interface{} {
	t.Helper()
	select {
	case resp, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return decode(t, resp)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream result")
		return nil
	}
}

func TestSubscribe_StreamsEvents(t *testing.T) {
	e, events := newStreamExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, resp := e.Subscribe(ctx, &GraphQLRequest{Query: `subscription { t: tick { n at } }`})
	if resp != nil {
		t.Fatalf("Subscribe() response = %+v", resp)
	}

	go func() {
		events <- 1
		events <- 2
		close(events)
	}()

	for want := 1; want <= 2; want++ {
		data := dataOf(t, next(t, ch))
		tick := data["t"].(map[string]interface{})
		if tick["n"] != float64(want) || tick["at"] != float64(1700000000000) {
			t.Errorf("tick = %v, want n=%d", tick, want)
		}
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected stream to close after source closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close")
	}
}

func TestSubscribe_EventResolverError(t *testing.T) {
	e, events := newStreamExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, resp := e.Subscribe(ctx, &GraphQLRequest{Query: `subscription { tick { n } }`})
	if resp != nil {
		t.Fatalf("Subscribe() response = %+v", resp)
	}
	go func() { events <- -1 }()

	out := next(t, ch)
	if _, ok := out["data"]; ok {
		t.Errorf("data should be null for a non-null field error, got %v", out["data"])
	}
	if errs := errorsOf(t, out); errs[0]["message"] != "negative tick" {
		t.Errorf("errors = %v", errs)
	}
}

func TestSubscribe_GuardRunsOnceAtStart(t *testing.T) {
	var rootChecks atomic.Int32
	allow := atomic.Bool{}
	allow.Store(true)
	guard := func(_ context.Context, f FieldPath, _ map[string]interface{}) error {
		if f.String() == "Subscription.tick" {
			rootChecks.Add(1)
			if !allow.Load() {
				return errors.New("not authorized")
			}
		}
		return nil
	}
	e, events := newStreamExecutor(t, WithGuard(guard))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, resp := e.Subscribe(ctx, &GraphQLRequest{Query: `subscription { tick { n } }`})
	if resp != nil {
		t.Fatalf("Subscribe() response = %+v", resp)
	}
	go func() {
		events <- 1
		events <- 2
	}()
	next(t, ch)
	next(t, ch)
	if got := rootChecks.Load(); got != 1 {
		t.Errorf("root guard ran %d times, want 1", got)
	}

	allow.Store(false)
	ch, resp = e.Subscribe(ctx, &GraphQLRequest{Query: `subscription { tick { n } }`})
	if ch != nil || resp == nil {
		t.Fatal("rejected subscription should return a single response")
	}
	if resp.Data != nil || len(resp.Errors) != 1 || resp.Errors[0].Message != "not authorized" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSubscribe_SourceError(t *testing.T) {
	e, _ := newStreamExecutor(t)

	ch, resp := e.Subscribe(context.Background(), &GraphQLRequest{Query: `subscription { tick(every: -1) { n } }`})
	if ch != nil || resp == nil || len(resp.Errors) == 0 {
		t.Fatalf("expected an error response, got %v %+v", ch, resp)
	}
	if !strings.Contains(resp.Errors[0].Message, "positive") {
		t.Errorf("message = %q", resp.Errors[0].Message)
	}
}

func TestSubscribe_CancelClosesStream(t *testing.T) {
	e, _ := newStreamExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, resp := e.Subscribe(ctx, &GraphQLRequest{Query: `subscription { tick { n } }`})
	if resp != nil {
		t.Fatalf("Subscribe() response = %+v", resp)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestSubscribe_QueryReturnsSingleResponse(t *testing.T) {
	e, _ := newStreamExecutor(t)

	ch, resp := e.Subscribe(context.Background(), &GraphQLRequest{Query: `{ hello }`})
	if ch != nil {
		t.Fatal("query should not produce a stream")
	}
	if data := dataOf(t, decode(t, resp)); data["hello"] != "hello world" {
		t.Errorf("data = %v", data)
	}
}

func TestSubscribe_NoSource(t *testing.T) {
	e := newTestExecutor(t)

	_, resp := e.Subscribe(context.Background(), &GraphQLRequest{Query: `subscription { tick { n } }`})
	if resp == nil || !strings.Contains(resp.Errors[0].Message, "no event source") {
		t.Errorf("resp = %+v", resp)
	}
}
