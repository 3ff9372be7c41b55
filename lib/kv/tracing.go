package kv

// RequestSpan is the tracing handle carried by a request. The core sets
// attributes while the request is in flight and ends the span exactly once
// when the request completes, no matter how many attempts it took.
type RequestSpan interface {
	SetAttribute(key string, value interface{})
	End()
}

// RequestTracer creates spans for requests.
type RequestTracer interface {
	RequestSpan(name string, parent RequestSpan) RequestSpan
}

// NoopTracer is a tracer that records nothing.
type NoopTracer struct{}

// RequestSpan implements RequestTracer.
func (NoopTracer) RequestSpan(string, RequestSpan) RequestSpan {
	return noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, interface{}) {}
func (noopSpan) End()                             {}
