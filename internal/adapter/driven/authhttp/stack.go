package authhttp

import (
	"net/http"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"
)

// NewBaseTransport builds the stack the authenticated transport sends through:
//  1. net/http default transport
//  2. httpcache (ETag and max-age caching) over cache, when cache is non-nil
//  3. go-github-ratelimit (sleeps on 429 / Retry-After and secondary limits)
//
// httpcache ignores the Authorization header, so cache must not outlive a
// session. Use a SessionCache.
func NewBaseTransport(cache httpcache.Cache) http.RoundTripper {
	var base http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if cache != nil {
		cacheTransport := httpcache.NewTransport(cache)
		cacheTransport.Transport = base
		base = cacheTransport
	}
	return github_ratelimit.NewClient(base).Transport
}
