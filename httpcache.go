// Package httpcache is an HTTP response caching layer that sits between
// an HTTP client and the network. Given an outgoing request it decides
// whether to serve a stored response, fetch remotely, or revalidate with
// a conditional request, and it updates the configured store after each
// outcome. The caller owns the transport: the cache itself performs no
// network I/O.
//
// Freshness and validator rules are delegated to an Evaluator, an
// external collaborator whose serialized state is stored verbatim
// alongside each response.
package httpcache

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/always-cache/http-cache/store"
)

// CacheMode determines how the cache interacts with the store, similar
// to the fetch API's cache modes.
type CacheMode int

const (
	// ModeDefault inspects the cache on the way to the network: a
	// fresh stored response is served, a stale one triggers a
	// conditional request, and the cache is updated afterwards.
	ModeDefault CacheMode = iota
	// ModeNoStore behaves as if there is no HTTP cache at all.
	ModeNoStore
	// ModeReload skips the lookup but stores the fetched response.
	ModeReload
	// ModeNoCache always revalidates with the origin by forcing
	// Cache-Control: no-cache on the outgoing request.
	ModeNoCache
	// ModeForceCache serves any stored response regardless of
	// staleness, fetching only on a miss.
	ModeForceCache
	// ModeOnlyIfCached serves any stored response regardless of
	// staleness and synthesizes a 504 on a miss, never touching the
	// network.
	ModeOnlyIfCached
)

// Action tells the caller what to do next.
type Action int

const (
	// ActionServe: return Decision.Response to the client; no network
	// I/O and no store mutation are needed.
	ActionServe Action = iota
	// ActionFetchRemote: perform a plain network fetch, then feed the
	// result to AfterRemoteFetch.
	ActionFetchRemote
	// ActionFetchConditional: perform a network fetch with
	// Decision.Headers attached, then feed the result to
	// AfterConditionalFetch.
	ActionFetchConditional
)

// Decision is the transient outcome of BeforeRequest. It is never
// persisted.
type Decision struct {
	Action Action
	// Response is the reconstructed stored response, set for
	// ActionServe.
	Response *Response
	// Headers are request headers the caller must attach before
	// fetching: validators for a conditional fetch, or a forced
	// Cache-Control for ModeNoCache.
	Headers http.Header
}

// Config carries the collaborators for a Cache. Store and Evaluator are
// required.
type Config struct {
	Store     store.Store
	Evaluator Evaluator
	Mode      CacheMode
}

// Cache is the request-lifecycle orchestrator. It holds no per-request
// state and is safe to drive concurrently from multiple callers; two
// concurrent cycles for the same key race benignly, last put wins.
type Cache struct {
	store     store.Store
	evaluator Evaluator
	mode      CacheMode
}

// New creates a Cache from the given configuration.
func New(config Config) *Cache {
	if config.Store == nil {
		panic("httpcache: Config.Store is required")
	}
	if config.Evaluator == nil {
		panic("httpcache: Config.Evaluator is required")
	}
	return &Cache{
		store:     config.Store,
		evaluator: config.Evaluator,
		mode:      config.Mode,
	}
}

func isGetOrHead(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead
}

// lookupAllowed reports whether the request may be answered from the
// store at all. Only GET and HEAD responses are cached.
func (c *Cache) lookupAllowed(req *http.Request) bool {
	return isGetOrHead(req) && c.mode != ModeNoStore && c.mode != ModeReload
}

// storeAllowed reports whether a fetched response for the request may be
// written to the store.
func (c *Cache) storeAllowed(req *http.Request) bool {
	return isGetOrHead(req) && c.mode != ModeNoStore
}

// BeforeRequest decides the next action for an outgoing request.
//
// Storage read failures are returned as *store.Error; an entry that can
// no longer be decoded degrades to a remote fetch.
func (c *Cache) BeforeRequest(ctx context.Context, req *http.Request) (*Decision, error) {
	if !c.lookupAllowed(req) {
		return &Decision{Action: ActionFetchRemote}, nil
	}
	key := RequestKey(req)
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Trace().Str("key", key).Msg("Cache miss")
		if c.mode == ModeOnlyIfCached {
			return &Decision{Action: ActionServe, Response: gatewayTimeout(req)}, nil
		}
		return &Decision{Action: ActionFetchRemote}, nil
	}
	envelope, err := DecodeEnvelope(entry)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Ignoring undecodable cache entry")
		return &Decision{Action: ActionFetchRemote}, nil
	}
	res := envelope.Response
	// 1xx warnings must not survive reuse of a stored response
	// (https://tools.ietf.org/html/rfc7234#section-4.3.4).
	if code, found := res.WarningCode(); found && code >= 100 && code < 200 {
		res.DelHeader("Warning")
	}

	switch c.mode {
	case ModeNoCache:
		return &Decision{
			Action:  ActionFetchRemote,
			Headers: http.Header{"Cache-Control": []string{"no-cache"}},
		}, nil
	case ModeForceCache, ModeOnlyIfCached:
		res.addWarning(112, "Disconnected operation")
		res.setCacheStatus(true)
		res.setCacheLookupStatus(true)
		return &Decision{Action: ActionServe, Response: res}, nil
	}

	fresh, err := c.evaluator.IsFresh(envelope.PolicyState, time.Now())
	if err != nil {
		return nil, &PolicyError{Err: err}
	}
	if fresh {
		log.Trace().Str("key", key).Msg("Serving fresh response from cache")
		res.setCacheStatus(true)
		res.setCacheLookupStatus(true)
		return &Decision{Action: ActionServe, Response: res}, nil
	}
	headers, err := c.evaluator.ConditionalHeaders(envelope.PolicyState)
	if err != nil {
		return nil, &PolicyError{Err: err}
	}
	log.Trace().Str("key", key).Msg("Stored response is stale, revalidating")
	return &Decision{Action: ActionFetchConditional, Headers: headers}, nil
}

// AfterRemoteFetch records the result of a plain network fetch and
// returns the response to hand back to the client.
//
// Caching is best effort: when the store write fails, the response is
// still returned together with the *store.Error, so the caller can
// proceed without caching. A non-cacheable response leaves any existing
// entry for the key untouched.
func (c *Cache) AfterRemoteFetch(ctx context.Context, req *http.Request, res *Response) (*Response, error) {
	var storeErr error
	if c.storeAllowed(req) {
		cacheable, err := c.evaluator.IsCacheable(req, res)
		if err != nil {
			return res, &PolicyError{Err: err}
		}
		if cacheable {
			storeErr = c.storeResponse(ctx, RequestKey(req), req, res)
		}
	}
	res.setCacheStatus(false)
	res.setCacheLookupStatus(false)
	return res, storeErr
}

// BeforeConditionalFetch returns the validator headers to attach to the
// outgoing conditional request, derived from the stored policy state.
// If the entry has vanished or turned unreadable in the meantime, the
// result is empty and the caller should fetch plainly.
func (c *Cache) BeforeConditionalFetch(ctx context.Context, req *http.Request) (http.Header, error) {
	entry, ok, err := c.store.Get(ctx, RequestKey(req))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	envelope, err := DecodeEnvelope(entry)
	if err != nil {
		return nil, nil
	}
	headers, err := c.evaluator.ConditionalHeaders(envelope.PolicyState)
	if err != nil {
		return nil, &PolicyError{Err: err}
	}
	return headers, nil
}

// AfterConditionalFetch records the result of a conditional fetch.
//
// A 304 refreshes the stored entry: headers are merged per the
// evaluator's rules, the policy state is recomputed, and the original
// body is kept. A 200 is handled like a plain remote fetch. A 5xx
// against a must-revalidate entry serves the stale response with a
// 111 warning; any other status serves the stored response as-is.
func (c *Cache) AfterConditionalFetch(ctx context.Context, req *http.Request, condRes *Response) (*Response, error) {
	key := RequestKey(req)
	var envelope *Envelope
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		if envelope, err = DecodeEnvelope(entry); err != nil {
			envelope = nil
		}
	}
	if envelope == nil {
		// The stored entry is gone; treat the result as a plain fetch.
		return c.AfterRemoteFetch(ctx, req, condRes)
	}
	cached := envelope.Response

	switch {
	case condRes.Status >= 500 && cached.mustRevalidate():
		// Revalidation failed; serve the stale response flagged with
		// warn-code 111 (https://tools.ietf.org/html/rfc2616#section-14.46).
		cached.addWarning(111, "Revalidation failed")
		cached.setCacheStatus(true)
		cached.setCacheLookupStatus(true)
		return cached, nil

	case condRes.Status == http.StatusNotModified:
		state, updated, err := c.evaluator.Merge304(envelope.PolicyState, condRes.HTTPHeader())
		if err != nil {
			return nil, &PolicyError{Err: err}
		}
		applyHeaderUpdates(cached, updated)
		entry, err := EncodeEnvelope(&Envelope{PolicyState: state, Response: cached})
		var storeErr error
		if err != nil {
			storeErr = err
		} else if storeErr = c.store.Put(ctx, key, entry); storeErr != nil {
			log.Error().Err(storeErr).Str("key", key).Msg("Could not write to cache")
		} else {
			log.Trace().Str("key", key).Msg("Refreshed cache entry after revalidation")
		}
		cached.setCacheStatus(true)
		cached.setCacheLookupStatus(true)
		return cached, storeErr

	case condRes.Status == http.StatusOK:
		var storeErr error
		if c.storeAllowed(req) {
			cacheable, err := c.evaluator.IsCacheable(req, condRes)
			if err != nil {
				return condRes, &PolicyError{Err: err}
			}
			if cacheable {
				storeErr = c.storeResponse(ctx, key, req, condRes)
			}
		}
		condRes.setCacheStatus(false)
		condRes.setCacheLookupStatus(true)
		return condRes, storeErr

	default:
		cached.setCacheStatus(true)
		cached.setCacheLookupStatus(true)
		return cached, nil
	}
}

// storeResponse builds a new envelope for the exchange and writes it
// under key, overwriting any previous entry wholesale.
func (c *Cache) storeResponse(ctx context.Context, key string, req *http.Request, res *Response) error {
	state, err := c.evaluator.PolicyState(req, res)
	if err != nil {
		return &PolicyError{Err: err}
	}
	entry, err := EncodeEnvelope(&Envelope{PolicyState: state, Response: res})
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, key, entry); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return err
	}
	log.Trace().Str("key", key).Msg("Cache write")
	return nil
}

// applyHeaderUpdates sets the merged header fields on the stored
// response. Names are applied in sorted order so the resulting header
// list is deterministic.
func applyHeaderUpdates(res *Response, updated http.Header) {
	names := make([]string, 0, len(updated))
	for name := range updated {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res.SetHeader(name, updated[name]...)
	}
}

// gatewayTimeout is the synthetic response served by ModeOnlyIfCached
// when nothing is stored for the request.
func gatewayTimeout(req *http.Request) *Response {
	res := &Response{
		Status:  http.StatusGatewayTimeout,
		Version: Version11,
		URL:     req.URL.String(),
		Body:    []byte("GatewayTimeout"),
	}
	res.setCacheStatus(false)
	res.setCacheLookupStatus(false)
	return res
}
