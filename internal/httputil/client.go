package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout   = 5 * time.Minute
	DefaultUserAgent = "smosaic"
)

// NewClient returns an HTTP client sized for raster downloads that
// identifies itself on every request.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: userAgent{next: http.DefaultTransport, agent: DefaultUserAgent},
	}
}

type userAgent struct {
	next  http.RoundTripper
	agent string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", u.agent)
	}
	return u.next.RoundTrip(req)
}
