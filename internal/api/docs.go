package api

import (
	"bytes"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/sylvainbonnecarrere/A-IR-OB1/docs"
)

const docsPagePrefix = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>A-IR-OB1 API Reference</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 56rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
code, pre { font-family: ui-monospace, monospace; background: #f5f5f5; }
pre { padding: 0.75rem; overflow-x: auto; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; }
</style>
</head>
<body>
`

const docsPageSuffix = "</body>\n</html>\n"

// renderDocs converts the embedded API reference to a standalone HTML
// page. GFM tables are enabled because the reference leans on them.
func renderDocs() ([]byte, error) {
	src, err := docs.FS.ReadFile("api.md")
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var body bytes.Buffer
	if err := md.Convert(src, &body); err != nil {
		return nil, err
	}

	var page bytes.Buffer
	page.Grow(len(docsPagePrefix) + body.Len() + len(docsPageSuffix))
	page.WriteString(docsPagePrefix)
	page.Write(body.Bytes())
	page.WriteString(docsPageSuffix)
	return page.Bytes(), nil
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	if len(s.docsHTML) == 0 {
		s.respondError(w, http.StatusInternalServerError, "documentation unavailable", "")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.docsHTML)
}
