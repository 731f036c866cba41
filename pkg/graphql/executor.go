package graphql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/getmockd/chatd/pkg/logging"
)

// Executor executes GraphQL operations against registered resolvers.
type Executor struct {
	schema      *Schema
	resolvers   map[string]FieldResolveFn
	subscribers map[string]SubscribeFn
	scalars     map[string]ScalarCodec
	guard       FieldGuard
	presenter   ErrorPresenter
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithGuard installs a guard consulted before every field resolver.
func WithGuard(g FieldGuard) Option {
	return func(e *Executor) { e.guard = g }
}

// WithErrorPresenter overrides how resolver errors are rendered.
func WithErrorPresenter(p ErrorPresenter) Option {
	return func(e *Executor) { e.presenter = p }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrNop(l) }
}

// NewExecutor creates a new GraphQL executor for schema.
func NewExecutor(schema *Schema, opts ...Option) *Executor {
	e := &Executor{
		schema:      schema,
		resolvers:   make(map[string]FieldResolveFn),
		subscribers: make(map[string]SubscribeFn),
		scalars:     make(map[string]ScalarCodec),
		presenter:   DefaultErrorPresenter,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.registerIntrospection()
	return e
}

// Schema returns the executor's schema.
func (e *Executor) Schema() *Schema {
	return e.schema
}

// Resolve registers a resolver for a "Type.field" path.
// It panics if the field does not exist in the schema.
func (e *Executor) Resolve(path string, fn FieldResolveFn) {
	e.mustField(path)
	e.resolvers[path] = fn
}

// Stream registers the event source for a subscription root field.
// The field's resolver, if any, maps each event to the field value; without
// one the event itself is the value.
func (e *Executor) Stream(path string, fn SubscribeFn) {
	fp := e.mustField(path)
	if root := e.schema.AST().Subscription; root == nil || root.Name != fp.TypeName {
		panic(fmt.Sprintf("graphql: %s is not a subscription field", path))
	}
	e.subscribers[path] = fn
}

// Scalar registers a codec for a custom scalar.
func (e *Executor) Scalar(name string, codec ScalarCodec) {
	def := e.schema.GetType(name)
	if def == nil || def.Kind != ast.Scalar {
		panic(fmt.Sprintf("graphql: %s is not a scalar", name))
	}
	e.scalars[name] = codec
}

func (e *Executor) mustField(path string) FieldPath {
	fp := ParseFieldPath(path)
	if !e.schema.HasField(fp) {
		panic(fmt.Sprintf("graphql: unknown field %s", path))
	}
	return fp
}

// execContext holds per-operation execution state.
type execContext struct {
	ctx  context.Context
	doc  *ast.QueryDocument
	op   *ast.OperationDefinition
	vars map[string]interface{}

	mu     sync.Mutex
	errors []GraphQLError
}

func (ec *execContext) addError(err GraphQLError) {
	ec.mu.Lock()
	ec.errors = append(ec.errors, err)
	ec.mu.Unlock()
}

// Operation is a parsed and validated request ready to run.
type Operation struct {
	doc  *ast.QueryDocument
	def  *ast.OperationDefinition
	vars map[string]interface{}
}

// Type returns query, mutation or subscription.
func (op *Operation) Type() ast.Operation {
	return op.def.Operation
}

// Name returns the selected operation's name, empty when anonymous.
func (op *Operation) Name() string {
	return op.def.Name
}

func (op *Operation) start(ctx context.Context) *execContext {
	return &execContext{ctx: ctx, doc: op.doc, op: op.def, vars: op.vars}
}

// Execute runs a query or mutation and returns a response.
// Subscriptions must go through Subscribe.
func (e *Executor) Execute(ctx context.Context, req *GraphQLRequest) *GraphQLResponse {
	op, resp := e.Prepare(req)
	if resp != nil {
		return resp
	}
	return e.ExecuteOperation(ctx, op)
}

// ExecuteOperation runs a prepared query or mutation.
func (e *Executor) ExecuteOperation(ctx context.Context, op *Operation) *GraphQLResponse {
	if op.Type() == ast.Subscription {
		return errorResponse("subscriptions must be executed over a WebSocket connection")
	}
	return e.executeRoot(op.start(ctx), nil)
}

// Prepare parses and validates req, selects the operation to run and
// coerces its variables. On failure the returned response carries the errors.
func (e *Executor) Prepare(req *GraphQLRequest) (*Operation, *GraphQLResponse) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, errorResponse("query is required")
	}

	doc, errs := gqlparser.LoadQuery(e.schema.AST(), req.Query)
	if len(errs) > 0 {
		return nil, &GraphQLResponse{Errors: fromGQLErrors(errs)}
	}

	def := doc.Operations.ForName(req.OperationName)
	if def == nil {
		if req.OperationName != "" {
			return nil, errorResponse(fmt.Sprintf("operation %q not found", req.OperationName))
		}
		return nil, errorResponse("operation name is required when the document has several operations")
	}

	vars, err := validator.VariableValues(e.schema.AST(), def, req.Variables)
	if err != nil {
		var gqlErr *gqlerror.Error
		if errors.As(err, &gqlErr) {
			return nil, &GraphQLResponse{Errors: fromGQLErrors(gqlerror.List{gqlErr})}
		}
		return nil, errorResponse(err.Error())
	}

	return &Operation{doc: doc, def: def, vars: vars}, nil
}

// executeRoot runs the operation's selection set against root.
func (e *Executor) executeRoot(ec *execContext, root interface{}) *GraphQLResponse {
	rootType := e.schema.RootType(ec.op.Operation)
	if rootType == nil {
		return errorResponse(fmt.Sprintf("schema does not support %s operations", ec.op.Operation))
	}

	data, ok := e.executeSelectionSet(ec, rootType, root, ec.op.SelectionSet, nil)
	resp := &GraphQLResponse{}
	if ok {
		resp.Data = data
	}
	resp.Errors = ec.errors
	return resp
}

// executeSelectionSet resolves every field of objType in selection order.
// The boolean is false when a non-null field came back null, in which case
// the whole object is null.
func (e *Executor) executeSelectionSet(ec *execContext, objType *ast.Definition, source interface{}, sel ast.SelectionSet, path []interface{}) (*object, bool) {
	keys, grouped := e.collectFields(ec, objType, sel, nil, nil, map[string]bool{})
	result := newObject(len(keys))
	valid := true
	for _, key := range keys {
		value, ok := e.executeField(ec, objType, source, grouped[key], appendPath(path, key))
		if !ok {
			valid = false
			continue
		}
		result.set(key, value)
	}
	if !valid {
		return nil, false
	}
	return result, true
}

// collectFields groups fields by response key, expanding fragments and
// honouring @skip and @include.
func (e *Executor) collectFields(ec *execContext, objType *ast.Definition, sel ast.SelectionSet, keys []string, grouped map[string][]*ast.Field, visited map[string]bool) ([]string, map[string][]*ast.Field) {
	if grouped == nil {
		grouped = make(map[string][]*ast.Field)
	}
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			if !e.shouldInclude(ec, s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			if _, seen := grouped[key]; !seen {
				keys = append(keys, key)
			}
			grouped[key] = append(grouped[key], s)

		case *ast.InlineFragment:
			if !e.shouldInclude(ec, s.Directives) || !e.fragmentApplies(objType, s.TypeCondition) {
				continue
			}
			keys, grouped = e.collectFields(ec, objType, s.SelectionSet, keys, grouped, visited)

		case *ast.FragmentSpread:
			if visited[s.Name] || !e.shouldInclude(ec, s.Directives) {
				continue
			}
			visited[s.Name] = true
			frag := s.Definition
			if frag == nil {
				frag = ec.doc.Fragments.ForName(s.Name)
			}
			if frag == nil || !e.fragmentApplies(objType, frag.TypeCondition) {
				continue
			}
			keys, grouped = e.collectFields(ec, objType, frag.SelectionSet, keys, grouped, visited)
		}
	}
	return keys, grouped
}

func (e *Executor) shouldInclude(ec *execContext, directives ast.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(ec.vars)["if"].(bool); skip {
			return false
		}
	}
	if d := directives.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(ec.vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

func (e *Executor) fragmentApplies(objType *ast.Definition, cond string) bool {
	if cond == "" || cond == objType.Name {
		return true
	}
	abstract := e.schema.GetType(cond)
	if abstract == nil {
		return false
	}
	for _, t := range e.schema.AST().GetPossibleTypes(abstract) {
		if t.Name == objType.Name {
			return true
		}
	}
	return false
}

// executeField resolves one response key.
func (e *Executor) executeField(ec *execContext, parent *ast.Definition, source interface{}, fields []*ast.Field, path []interface{}) (interface{}, bool) {
	field := fields[0]
	if field.Name == "__typename" {
		return parent.Name, true
	}

	def := field.Definition
	if def == nil {
		def = parent.Fields.ForName(field.Name)
	}
	if def == nil {
		e.fieldError(ec, fmt.Errorf("unknown field %s.%s", parent.Name, field.Name), field, path)
		return nil, true
	}

	value, err := e.resolveField(ec, parent, source, field, def, path)
	if err != nil {
		e.fieldError(ec, err, field, path)
		return nil, !def.Type.NonNull
	}
	return e.completeValue(ec, def.Type, fields, value, path)
}

// resolveField coerces arguments, consults the guard, then runs the resolver.
func (e *Executor) resolveField(ec *execContext, parent *ast.Definition, source interface{}, field *ast.Field, def *ast.FieldDefinition, path []interface{}) (interface{}, error) {
	if err := ec.ctx.Err(); err != nil {
		return nil, err
	}

	args, err := e.coerceArguments(def, field, ec.vars)
	if err != nil {
		return nil, err
	}

	fp := FieldPath{TypeName: parent.Name, FieldName: field.Name}
	if e.guard != nil {
		if err := e.guard(ec.ctx, fp, args); err != nil {
			return nil, err
		}
	}

	fn, ok := e.resolvers[fp.String()]
	if !ok {
		return defaultResolve(source, field.Name)
	}
	return fn(ResolveParams{
		Context: ec.ctx,
		Source:  source,
		Args:    args,
		Info: ResolveInfo{
			Field:     fp,
			Path:      path,
			Operation: ec.op,
			Selection: field,
		},
	})
}

// completeValue shapes a resolved value according to typ.
// The boolean is false when a null must propagate to the parent.
func (e *Executor) completeValue(ec *execContext, typ *ast.Type, fields []*ast.Field, value interface{}, path []interface{}) (interface{}, bool) {
	if isNil(value) {
		if typ.NonNull {
			e.fieldError(ec, fmt.Errorf("cannot return null for non-nullable field %s", typ.String()), fields[0], path)
			return nil, false
		}
		return nil, true
	}

	if typ.Elem != nil {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			e.fieldError(ec, fmt.Errorf("expected a list for %s, got %T", typ.String(), value), fields[0], path)
			return nil, !typ.NonNull
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			item, ok := e.completeValue(ec, typ.Elem, fields, rv.Index(i).Interface(), appendPath(path, i))
			if !ok {
				return nil, !typ.NonNull
			}
			out[i] = item
		}
		return out, true
	}

	def := e.schema.GetType(typ.NamedType)
	if def == nil {
		e.fieldError(ec, fmt.Errorf("unknown type %s", typ.NamedType), fields[0], path)
		return nil, !typ.NonNull
	}

	switch def.Kind {
	case ast.Scalar, ast.Enum:
		out, err := e.serializeLeaf(def, value)
		if err != nil {
			e.fieldError(ec, err, fields[0], path)
			return nil, !typ.NonNull
		}
		return out, true

	case ast.Object, ast.Interface, ast.Union:
		objType, err := e.runtimeType(def, value)
		if err != nil {
			e.fieldError(ec, err, fields[0], path)
			return nil, !typ.NonNull
		}
		var sub ast.SelectionSet
		for _, f := range fields {
			sub = append(sub, f.SelectionSet...)
		}
		m, ok := e.executeSelectionSet(ec, objType, value, sub, path)
		if !ok {
			return nil, !typ.NonNull
		}
		return m, true
	}

	e.fieldError(ec, fmt.Errorf("cannot output %s values", def.Kind), fields[0], path)
	return nil, !typ.NonNull
}

// TypeNamer lets values of abstract types name their concrete object type.
type TypeNamer interface {
	GraphQLTypeName() string
}

func (e *Executor) runtimeType(def *ast.Definition, value interface{}) (*ast.Definition, error) {
	if def.Kind == ast.Object {
		return def, nil
	}
	var name string
	switch v := value.(type) {
	case TypeNamer:
		name = v.GraphQLTypeName()
	case map[string]interface{}:
		name, _ = v["__typename"].(string)
	}
	if name == "" {
		return nil, fmt.Errorf("cannot determine concrete type for %s value %T", def.Name, value)
	}
	obj := e.schema.GetType(name)
	if obj == nil || !e.fragmentApplies(obj, def.Name) {
		return nil, fmt.Errorf("%s is not a possible type of %s", name, def.Name)
	}
	return obj, nil
}

func (e *Executor) fieldError(ec *execContext, err error, field *ast.Field, path []interface{}) {
	gqlErr := e.presenter(ec.ctx, err)
	if gqlErr == nil {
		gqlErr = &GraphQLError{Message: err.Error()}
	}
	out := *gqlErr
	out.Path = append([]interface{}(nil), path...)
	if field != nil && field.Position != nil {
		out.Locations = []GraphQLErrorLocation{{Line: field.Position.Line, Column: field.Position.Column}}
	}
	ec.addError(out)
}

// DefaultErrorPresenter renders err.Error() as the message. A *GraphQLError
// anywhere in the chain is used as is.
func DefaultErrorPresenter(_ context.Context, err error) *GraphQLError {
	var gqlErr *GraphQLError
	if errors.As(err, &gqlErr) {
		return gqlErr
	}
	return &GraphQLError{Message: err.Error()}
}

// defaultResolve reads name from a map key or an exported struct field whose
// json tag or name matches.
func defaultResolve(source interface{}, name string) (interface{}, error) {
	if source == nil {
		return nil, nil
	}
	if m, ok := source.(map[string]interface{}); ok {
		return m[name], nil
	}

	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, nil
		}
		v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, nil
		}
		return v.Interface(), nil
	case reflect.Struct:
		if idx, ok := structFieldIndex(rv.Type(), name); ok {
			return rv.FieldByIndex(idx).Interface(), nil
		}
	}
	return nil, nil
}

var fieldIndexCache sync.Map // reflect.Type -> map[string][]int

func structFieldIndex(t reflect.Type, name string) ([]int, bool) {
	cached, ok := fieldIndexCache.Load(t)
	if !ok {
		index := make(map[string][]int)
		for _, f := range reflect.VisibleFields(t) {
			if !f.IsExported() || f.Anonymous {
				continue
			}
			key := f.Name
			if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
				key = tag
			}
			if _, dup := index[key]; !dup {
				index[key] = f.Index
			}
			lower := strings.ToLower(f.Name)
			if _, dup := index[lower]; !dup {
				index[lower] = f.Index
			}
		}
		cached, _ = fieldIndexCache.LoadOrStore(t, index)
	}
	index := cached.(map[string][]int)
	if idx, ok := index[name]; ok {
		return idx, true
	}
	idx, ok := index[strings.ToLower(name)]
	return idx, ok
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

func appendPath(path []interface{}, elem interface{}) []interface{} {
	out := make([]interface{}, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}

func errorResponse(message string) *GraphQLResponse {
	return &GraphQLResponse{Errors: []GraphQLError{{Message: message}}}
}

func fromGQLErrors(list gqlerror.List) []GraphQLError {
	out := make([]GraphQLError, 0, len(list))
	for _, err := range list {
		ge := GraphQLError{Message: err.Message, Extensions: err.Extensions}
		for _, loc := range err.Locations {
			ge.Locations = append(ge.Locations, GraphQLErrorLocation{Line: loc.Line, Column: loc.Column})
		}
		if len(err.Path) > 0 {
			for _, p := range err.Path {
				switch p := p.(type) {
				case ast.PathName:
					ge.Path = append(ge.Path, string(p))
				case ast.PathIndex:
					ge.Path = append(ge.Path, int(p))
				}
			}
		}
		out = append(out, ge)
	}
	return out
}
