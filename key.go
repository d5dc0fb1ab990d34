package httpcache

import (
	"net/http"
	"net/url"
	"strings"
)

const methodSeparator = ":"

// Key returns the storage key for a request method and target URL.
// Derivation is pure: the same method and URL always produce the same
// key, across calls and across processes, which the persistent backends
// rely on. The URL fragment is ignored; different methods on the same
// URL map to distinct entries.
func Key(method string, u *url.URL) string {
	target := *u
	target.Fragment = ""
	target.RawFragment = ""
	return strings.ToUpper(method) + methodSeparator + target.String()
}

// RequestKey returns the storage key for a request.
func RequestKey(r *http.Request) string {
	return Key(r.Method, r.URL)
}
