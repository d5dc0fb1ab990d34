package httpcache

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Custom headers used to indicate cache status (hit or miss).
const (
	// XCache is HIT if the response was served from cache, MISS if not.
	XCache = "X-Cache"
	// XCacheLookup is HIT if a response existed in cache, MISS if not.
	XCacheLookup = "X-Cache-Lookup"
)

// Version identifies the HTTP protocol version of a stored response.
type Version string

const (
	Version09 Version = "HTTP/0.9"
	Version10 Version = "HTTP/1.0"
	Version11 Version = "HTTP/1.1"
	Version2  Version = "HTTP/2.0"
	Version3  Version = "HTTP/3.0"
)

// ErrBadVersion is returned when an HTTP version cannot be mapped to a
// known Version value.
var ErrBadVersion = errors.New("unknown HTTP version")

func versionFromProto(proto string) (Version, error) {
	switch proto {
	case "HTTP/0.9":
		return Version09, nil
	case "HTTP/1.0":
		return Version10, nil
	case "HTTP/1.1":
		return Version11, nil
	case "HTTP/2.0", "HTTP/2":
		return Version2, nil
	case "HTTP/3.0", "HTTP/3":
		return Version3, nil
	}
	return "", fmt.Errorf("%w: %q", ErrBadVersion, proto)
}

// Header is a single response header field. Responses keep their headers
// as an ordered list so that insertion order and duplicate names survive
// a round trip through storage.
type Header struct {
	Name  string
	Value string
}

// Response is the canonical snapshot of an HTTP response used by the
// cache. It is the unit stored inside an Envelope and the value handed
// back to callers on a cache hit.
type Response struct {
	Status  int
	Version Version
	Headers []Header
	// URL is the final resolved URL of the response.
	URL  string
	Body []byte
}

// NewResponse converts a net/http response into a canonical snapshot.
// The body is read fully and replaced so the caller can still consume it.
// Header names are emitted in sorted order since http.Header does not
// retain insertion order across names; order within a name is kept.
func NewResponse(res *http.Response) (*Response, error) {
	version, err := versionFromProto(res.Proto)
	if err != nil {
		return nil, err
	}
	var body []byte
	if res.Body != nil {
		body, err = io.ReadAll(res.Body)
		if err != nil {
			return nil, err
		}
		res.Body.Close()
		res.Body = io.NopCloser(strings.NewReader(string(body)))
	}
	names := make([]string, 0, len(res.Header))
	for name := range res.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	headers := make([]Header, 0, len(names))
	for _, name := range names {
		for _, value := range res.Header[name] {
			headers = append(headers, Header{Name: name, Value: value})
		}
	}
	var rawURL string
	if res.Request != nil && res.Request.URL != nil {
		rawURL = res.Request.URL.String()
	}
	return &Response{
		Status:  res.StatusCode,
		Version: version,
		Headers: headers,
		URL:     rawURL,
		Body:    body,
	}, nil
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	c := *r
	c.Headers = append([]Header(nil), r.Headers...)
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

// Header returns the first value of the named header, or "" if absent.
// Name matching is case-insensitive.
func (r *Response) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HeaderValues returns all values of the named header in order.
func (r *Response) HeaderValues(name string) []string {
	var values []string
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// AddHeader appends a header field to the end of the list.
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
}

// SetHeader replaces all occurrences of the named header with the given
// values. The replacement keeps the position of the first occurrence; a
// previously absent header is appended at the end.
func (r *Response) SetHeader(name string, values ...string) {
	pos := -1
	kept := r.Headers[:0]
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			if pos == -1 {
				pos = len(kept)
			}
			continue
		}
		kept = append(kept, h)
	}
	r.Headers = kept
	if pos == -1 {
		pos = len(r.Headers)
	}
	inserted := make([]Header, len(values))
	for i, v := range values {
		inserted[i] = Header{Name: name, Value: v}
	}
	rest := append([]Header(nil), r.Headers[pos:]...)
	r.Headers = append(append(r.Headers[:pos], inserted...), rest...)
}

// DelHeader removes all occurrences of the named header.
func (r *Response) DelHeader(name string) {
	kept := r.Headers[:0]
	for _, h := range r.Headers {
		if !strings.EqualFold(h.Name, name) {
			kept = append(kept, h)
		}
	}
	r.Headers = kept
}

// HTTPHeader converts the ordered header list into an http.Header.
func (r *Response) HTTPHeader() http.Header {
	header := make(http.Header, len(r.Headers))
	for _, h := range r.Headers {
		header.Add(h.Name, h.Value)
	}
	return header
}

// WarningCode returns the status code of the Warning header if present.
func (r *Response) WarningCode() (int, bool) {
	value := r.Header("Warning")
	if len(value) < 3 {
		return 0, false
	}
	code, err := strconv.Atoi(value[:3])
	if err != nil {
		return 0, false
	}
	return code, true
}

// addWarning sets a Warning header on the response.
// warning-value = warn-code SP warn-agent SP warn-text [SP warn-date]
// (https://tools.ietf.org/html/rfc2616#section-14.46)
func (r *Response) addWarning(code int, message string) {
	host := "-"
	if u, err := url.Parse(r.URL); err == nil && u.Host != "" {
		host = u.Host
	}
	r.SetHeader("Warning", fmt.Sprintf("%d %s %q \"%s\"",
		code, host, message, time.Now().UTC().Format(http.TimeFormat)))
}

// mustRevalidate reports whether the Cache-Control header carries the
// must-revalidate directive.
func (r *Response) mustRevalidate() bool {
	for _, v := range r.HeaderValues("Cache-Control") {
		if strings.Contains(strings.ToLower(v), "must-revalidate") {
			return true
		}
	}
	return false
}

func (r *Response) setCacheStatus(hit bool) {
	r.SetHeader(XCache, hitOrMiss(hit))
}

func (r *Response) setCacheLookupStatus(hit bool) {
	r.SetHeader(XCacheLookup, hitOrMiss(hit))
}

func hitOrMiss(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
