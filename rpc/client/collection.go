package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/kvcore/lib/encoding"
	"github.com/ValentinKolb/kvcore/lib/kv"
)

// --------------------------------------------------------------------------
// Options and results
// --------------------------------------------------------------------------

// Options are the per request settings of a collection operation. A nil
// *Options uses the defaults of the core.
type Options struct {
	Timeout    time.Duration            // 0 = the default timeout of the core
	Retry      kv.RetryStrategy         // nil = the default strategy of the core
	Durability kv.DurabilityRequirement // mutations only
	Cas        uint64                   // 0 = no CAS check
	Expiry     kv.Expiry                // Insert, Upsert, Replace, Touch, counters
	Hint       encoding.ContentHint     // how the value is encoded
	Span       kv.RequestSpan           // parent span
}

// GetResult is the result of a read
type GetResult struct {
	Cas   uint64
	Value []byte
	Flags uint32

	transcoder encoding.Transcoder
}

// Content decodes the value into target
func (r *GetResult) Content(target interface{}) error {
	return r.transcoder.Decode(r.Value, r.Flags, target)
}

// MutationResult is the result of a mutation
type MutationResult struct {
	Cas   uint64
	Token *kv.MutationToken
}

// CounterResult is the result of an increment or decrement
type CounterResult struct {
	MutationResult
	Value uint64
}

// --------------------------------------------------------------------------
// Collection
// --------------------------------------------------------------------------

// Collection is the typed view of one keyspace. It builds requests, submits
// them to the core and waits for the result.
type Collection struct {
	core       *Core
	keyspace   kv.Keyspace
	transcoder encoding.Transcoder
}

// Collection returns the collection scope.collection of the configured
// bucket. Empty names select the defaults.
func (c *Core) Collection(scope, collection string) *Collection {
	return &Collection{
		core:       c,
		keyspace:   kv.NewKeyspace(c.config.Bucket, scope, collection),
		transcoder: encoding.NewDefaultTranscoder(),
	}
}

// WithTranscoder returns a copy of the collection that uses t for values
func (col *Collection) WithTranscoder(t encoding.Transcoder) *Collection {
	c := *col
	c.transcoder = t
	return &c
}

// Keyspace returns the keyspace of the collection
func (col *Collection) Keyspace() kv.Keyspace {
	return col.keyspace
}

// Get reads a document
func (col *Collection) Get(ctx context.Context, id string, opts *Options) (*GetResult, error) {
	res, err := col.do(ctx, id, kv.Operation{Kind: kv.OpGet}, opts)
	if err != nil {
		return nil, err
	}
	return col.getResult(res), nil
}

// GetAndLock reads a document and locks it for lockTime. The returned CAS
// unlocks it.
func (col *Collection) GetAndLock(ctx context.Context, id string, lockTime time.Duration, opts *Options) (*GetResult, error) {
	res, err := col.do(ctx, id, kv.Operation{Kind: kv.OpGetAndLock, LockTime: lockTime}, opts)
	if err != nil {
		return nil, err
	}
	return col.getResult(res), nil
}

// Unlock releases a lock taken with GetAndLock
func (col *Collection) Unlock(ctx context.Context, id string, cas uint64, opts *Options) error {
	o := optionsOrDefault(opts)
	o.Cas = cas
	_, err := col.do(ctx, id, kv.Operation{Kind: kv.OpUnlock}, o)
	return err
}

// Touch updates the expiry of a document
func (col *Collection) Touch(ctx context.Context, id string, expiry kv.Expiry, opts *Options) (*MutationResult, error) {
	o := optionsOrDefault(opts)
	o.Expiry = expiry
	res, err := col.do(ctx, id, kv.Operation{Kind: kv.OpTouch}, o)
	if err != nil {
		return nil, err
	}
	return &MutationResult{Cas: res.Cas}, nil
}

// Insert creates a document, it fails with DocumentExists if it exists
func (col *Collection) Insert(ctx context.Context, id string, value interface{}, opts *Options) (*MutationResult, error) {
	return col.store(ctx, id, kv.OpInsert, value, opts)
}

// Upsert creates or replaces a document
func (col *Collection) Upsert(ctx context.Context, id string, value interface{}, opts *Options) (*MutationResult, error) {
	return col.store(ctx, id, kv.OpUpsert, value, opts)
}

// Replace replaces an existing document
func (col *Collection) Replace(ctx context.Context, id string, value interface{}, opts *Options) (*MutationResult, error) {
	return col.store(ctx, id, kv.OpReplace, value, opts)
}

// Remove deletes a document
func (col *Collection) Remove(ctx context.Context, id string, opts *Options) (*MutationResult, error) {
	res, err := col.do(ctx, id, kv.Operation{Kind: kv.OpRemove}, opts)
	if err != nil {
		return nil, err
	}
	return mutationResult(res), nil
}

// Append appends raw bytes to a document
func (col *Collection) Append(ctx context.Context, id string, value []byte, opts *Options) (*MutationResult, error) {
	return col.concat(ctx, id, kv.OpAppend, value, opts)
}

// Prepend prepends raw bytes to a document
func (col *Collection) Prepend(ctx context.Context, id string, value []byte, opts *Options) (*MutationResult, error) {
	return col.concat(ctx, id, kv.OpPrepend, value, opts)
}

// Increment adds delta to a counter document. If the document does not exist
// it is created with initial, or DocumentNotFound is returned when initial is
// nil.
func (col *Collection) Increment(ctx context.Context, id string, delta uint64, initial *uint64, opts *Options) (*CounterResult, error) {
	return col.counter(ctx, id, kv.OpIncrement, delta, initial, opts)
}

// Decrement subtracts delta from a counter document, the counter stops at zero
func (col *Collection) Decrement(ctx context.Context, id string, delta uint64, initial *uint64, opts *Options) (*CounterResult, error) {
	return col.counter(ctx, id, kv.OpDecrement, delta, initial, opts)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// store encodes value and submits a full document mutation
func (col *Collection) store(ctx context.Context, id string, kind kv.OpKind, value interface{}, opts *Options) (*MutationResult, error) {
	o := optionsOrDefault(opts)
	data, flags, err := col.transcoder.Encode(value, o.Hint)
	if err != nil {
		return nil, err
	}
	res, err := col.do(ctx, id, kv.Operation{Kind: kind, Value: kv.EncodedValue{Data: data, Flags: flags}}, o)
	if err != nil {
		return nil, err
	}
	return mutationResult(res), nil
}

func (col *Collection) concat(ctx context.Context, id string, kind kv.OpKind, value []byte, opts *Options) (*MutationResult, error) {
	if value == nil {
		value = []byte{}
	}
	res, err := col.do(ctx, id, kv.Operation{Kind: kind, Value: kv.EncodedValue{Data: value}}, opts)
	if err != nil {
		return nil, err
	}
	return mutationResult(res), nil
}

func (col *Collection) counter(ctx context.Context, id string, kind kv.OpKind, delta uint64, initial *uint64, opts *Options) (*CounterResult, error) {
	res, err := col.do(ctx, id, kv.Operation{Kind: kind, Delta: delta, Initial: initial}, opts)
	if err != nil {
		return nil, err
	}
	return &CounterResult{MutationResult: *mutationResult(res), Value: res.Counter}, nil
}

// do builds the request, submits it and waits for the result. Done contexts
// cancel the request.
func (col *Collection) do(ctx context.Context, id string, op kv.Operation, opts *Options) (*kv.Result, error) {
	o := optionsOrDefault(opts)
	if ctx.Err() != nil {
		return nil, kv.WrapError(kv.KindCancelled, context.Cause(ctx), "request cancelled by context")
	}

	req := kv.NewRequest(col.keyspace, id, op)
	req.Cas = o.Cas
	req.Expiry = o.Expiry
	req.Durability = o.Durability
	req.Retry = o.Retry
	req.Timeout = o.Timeout
	if req.Timeout <= 0 {
		req.Timeout = col.core.config.Timeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.Timeout = min(req.Timeout, time.Until(deadline))
	}
	if o.Span != nil {
		req.Span = col.core.tracer.RequestSpan(op.Kind.String(), o.Span)
	}

	return await(ctx, col.core.Submit(req))
}

func (col *Collection) getResult(res *kv.Result) *GetResult {
	return &GetResult{
		Cas:        res.Cas,
		Value:      res.Value.Data,
		Flags:      res.Value.Flags,
		transcoder: col.transcoder,
	}
}

func mutationResult(res *kv.Result) *MutationResult {
	return &MutationResult{Cas: res.Cas, Token: res.Token}
}

// optionsOrDefault returns a copy of opts, or empty options for nil
func optionsOrDefault(opts *Options) *Options {
	if opts == nil {
		return &Options{}
	}
	o := *opts
	return &o
}
