package httpcache

import (
	"net/http"
	"time"
)

// Evaluator is the freshness-policy engine consumed by the cache. It is
// an external collaborator: implementations own the HTTP freshness and
// validator rules (cache-control, expiry, ETag, Last-Modified) and the
// layout of the policy state, which the cache stores as opaque bytes.
//
// Implementations must be safe for concurrent use.
type Evaluator interface {
	// IsFresh reports whether the response described by state may still
	// be served without contacting the origin at the given time.
	IsFresh(state []byte, now time.Time) (bool, error)

	// ConditionalHeaders builds the validator headers (If-None-Match,
	// If-Modified-Since) for revalidating the response described by
	// state. The result may be empty when the stored response carried
	// no validators.
	ConditionalHeaders(state []byte) (http.Header, error)

	// IsCacheable reports whether the request/response exchange may be
	// stored at all, per cache-control and status-code rules.
	IsCacheable(req *http.Request, res *Response) (bool, error)

	// PolicyState derives a fresh policy snapshot from a completed
	// exchange. The returned bytes must be self-contained: IsFresh,
	// ConditionalHeaders and Merge304 are later called with only these
	// bytes, not the original request or response.
	PolicyState(req *http.Request, res *Response) ([]byte, error)

	// Merge304 recomputes the policy state after a 304 Not Modified
	// revalidation. It returns the new state and the header fields the
	// origin is allowed to update on the stored response.
	Merge304(state []byte, condHeaders http.Header) ([]byte, http.Header, error)
}

// PolicyError wraps a failure reported by the Evaluator. It indicates a
// malformed HTTP exchange upstream and is propagated to the caller.
type PolicyError struct {
	Err error
}

func (e *PolicyError) Error() string {
	return "policy evaluator: " + e.Err.Error()
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}
