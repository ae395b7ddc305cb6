package healthcheck

import (
	"html/template"
	"io"
)

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Service}} healthcheck</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
.success { color: #1a7f37; }
.expected-validation { color: #9a6700; }
.fault { color: #cf222e; }
</style>
</head>
<body>
<h1>{{.Service}}</h1>
<p>Version {{.Version}} &middot; mode {{.Mode}} &middot; {{.Duration}}</p>
<p>{{.Summary.Success}} ok, {{.Summary.ExpectedValidation}} validation, {{.Summary.Fault}} fault</p>
<table>
<thead><tr><th>Endpoint</th><th>Status</th><th>Result</th><th>Duration</th></tr></thead>
<tbody>
{{- range .Endpoints}}
<tr class="{{.Outcome}}"><td>/{{.Endpoint}}</td><td>{{if .Status}}{{.Status}}{{else}}-{{end}}</td><td>{{.Message}}</td><td>{{.Duration}}</td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// RenderHTML writes the report as an HTML table.
func RenderHTML(w io.Writer, report Report) error {
	return reportTemplate.Execute(w, report)
}
