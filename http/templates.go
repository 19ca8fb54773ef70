package http

import (
	"html/template"
	"io"
)

// The simple API pages follow the PEP 503 link format: one anchor per
// package or file, nothing else, so installers can scrape them.
var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Simple index</title></head>
<body>
{{- range .Names}}
<a href="/simple/{{.}}/">{{.}}</a><br>
{{- end}}
</body>
</html>
`))

var listingTemplate = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head><title>Links for {{.Name}}</title></head>
<body>
<h1>Links for {{.Name}}</h1>
{{- range .Links}}
<a href="{{.Href}}"{{if .RequiresPython}} data-requires-python="{{.RequiresPython}}"{{end}}>{{.Text}}</a><br>
{{- end}}
</body>
</html>
`))

type indexPage struct {
	Names []string
}

type listingLink struct {
	Text           string
	Href           string
	RequiresPython string
}

type listingPage struct {
	Name  string
	Links []listingLink
}

func renderIndex(w io.Writer, names []string) error {
	return indexTemplate.Execute(w, indexPage{Names: names})
}

func renderListing(w io.Writer, name string, links []listingLink) error {
	return listingTemplate.Execute(w, listingPage{Name: name, Links: links})
}
