// Package docs embeds the service's API reference so the HTTP surface can
// render it at runtime without shipping files alongside the binary.
package docs

import "embed"

// FS contains the documentation sources. api.md is the API reference
// served (rendered to HTML) at /docs.
//
//go:embed api.md
var FS embed.FS
