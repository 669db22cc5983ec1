package anthropic

import "net/http"

// Option configures a Provider instance.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithBaseURL overrides the API base, for proxies and tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}
