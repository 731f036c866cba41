package graphql

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
)

// Subscribe starts an operation whose result is a stream.
//
// For a subscription the returned channel yields one response per source
// event and closes when the source ends or ctx is cancelled. Arguments are
// coerced and the guard consulted once, before the source is opened. Any
// failure up to that point, and every query or mutation, is returned as the
// single response with a nil channel.
func (e *Executor) Subscribe(ctx context.Context, req *GraphQLRequest) (<-chan *GraphQLResponse, *GraphQLResponse) {
	op, resp := e.Prepare(req)
	if resp != nil {
		return nil, resp
	}
	return e.SubscribeOperation(ctx, op)
}

// SubscribeOperation is Subscribe for an operation already prepared.
func (e *Executor) SubscribeOperation(ctx context.Context, op *Operation) (<-chan *GraphQLResponse, *GraphQLResponse) {
	ec := op.start(ctx)
	if op.Type() != ast.Subscription {
		return nil, e.executeRoot(ec, nil)
	}

	root := e.schema.RootType(ast.Subscription)
	keys, grouped := e.collectFields(ec, root, ec.op.SelectionSet, nil, nil, map[string]bool{})
	if len(keys) != 1 {
		return nil, errorResponse("subscription must select exactly one top level field")
	}
	key := keys[0]
	fields := grouped[key]
	field := fields[0]
	def := field.Definition
	if def == nil {
		def = root.Fields.ForName(field.Name)
	}
	path := []interface{}{key}
	fp := FieldPath{TypeName: root.Name, FieldName: field.Name}

	source, ok := e.subscribers[fp.String()]
	if !ok || def == nil {
		return nil, errorResponse("no event source for " + fp.String())
	}

	fail := func(err error) *GraphQLResponse {
		e.fieldError(ec, err, field, path)
		return &GraphQLResponse{Errors: ec.errors}
	}

	args, err := e.coerceArguments(def, field, ec.vars)
	if err != nil {
		return nil, fail(err)
	}
	if e.guard != nil {
		if err := e.guard(ctx, fp, args); err != nil {
			return nil, fail(err)
		}
	}

	info := ResolveInfo{Field: fp, Path: path, Operation: ec.op, Selection: field}
	events, err := source(ResolveParams{Context: ctx, Args: args, Info: info})
	if err != nil {
		return nil, fail(err)
	}

	out := make(chan *GraphQLResponse)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				resp := e.executeEvent(ctx, ec, fields, def, args, info, ev)
				select {
				case out <- resp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// executeEvent maps one source event through the field resolver, if any,
// and completes the subscription's selection set against it.
func (e *Executor) executeEvent(ctx context.Context, parent *execContext, fields []*ast.Field, def *ast.FieldDefinition, args map[string]interface{}, info ResolveInfo, ev interface{}) *GraphQLResponse {
	ec := &execContext{ctx: ctx, doc: parent.doc, op: parent.op, vars: parent.vars}
	key := info.Path[0].(string)

	value := ev
	if fn, ok := e.resolvers[info.Field.String()]; ok {
		var err error
		value, err = fn(ResolveParams{Context: ctx, Source: ev, Args: args, Info: info})
		if err != nil {
			e.fieldError(ec, err, fields[0], info.Path)
			resp := &GraphQLResponse{Errors: ec.errors}
			if !def.Type.NonNull {
				data := newObject(1)
				data.set(key, nil)
				resp.Data = data
			}
			return resp
		}
	}

	resp := &GraphQLResponse{}
	if completed, ok := e.completeValue(ec, def.Type, fields, value, info.Path); ok {
		data := newObject(1)
		data.set(key, completed)
		resp.Data = data
	}
	resp.Errors = ec.errors
	return resp
}
