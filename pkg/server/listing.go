package server

import (
	"html/template"
	"io"
	"path"

	"github.com/tkallen/liveserve/pkg/webroot"
)

var listingTmpl = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Index of {{.Path}}</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; }
td { padding: 0.2em 1.5em 0.2em 0; }
</style>
</head>
<body>
<h1>Index of {{.Path}}</h1>
<table>
{{if .Parent}}<tr><td><a href="{{.Parent}}">../</a></td><td></td><td></td></tr>{{end}}
{{range .Entries}}<tr>
<td><a href="{{$.Prefix}}{{.Name}}{{if .IsDir}}/{{end}}">{{.Name}}{{if .IsDir}}/{{end}}</a></td>
<td>{{if .IsDir}}-{{else}}{{.Size}}{{end}}</td>
<td>{{.ModTime.Format "2006-01-02 15:04:05"}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

type listingData struct {
	Path    string
	Prefix  string
	Parent  string
	Entries []webroot.Entry
}

// renderListing writes the directory index page for requestPath. Links
// are built from the request path so they stay valid regardless of a
// trailing slash on the request.
func renderListing(w io.Writer, requestPath string, entries []webroot.Entry) error {
	clean := path.Clean("/" + requestPath)
	prefix := clean
	if prefix != "/" {
		prefix += "/"
	}
	var parent string
	if clean != "/" {
		parent = path.Dir(clean)
		if parent != "/" {
			parent += "/"
		}
	}
	return listingTmpl.Execute(w, listingData{
		Path:    clean,
		Prefix:  prefix,
		Parent:  parent,
		Entries: entries,
	})
}
