package gemini

import "net/http"

// Option configures a Gemini provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithBaseURL overrides the API base URL, for proxies and tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}
