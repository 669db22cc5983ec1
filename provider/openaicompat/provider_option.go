package openaicompat

import "net/http"

// ProviderOption configures a Provider instance.
type ProviderOption func(*Provider)

// WithHTTPClient sets a custom HTTP client (e.g. for timeouts or proxies).
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithBaseURL overrides the vendor's API base, for proxies and tests.
func WithBaseURL(url string) ProviderOption {
	return func(p *Provider) { p.baseURL = url }
}

// WithDefaultModel overrides the vendor's default model for requests that
// do not name one.
func WithDefaultModel(model string) ProviderOption {
	return func(p *Provider) { p.defaultModel = model }
}
