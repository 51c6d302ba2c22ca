// Package cgigen implements the `-g`/`-l` CLI collaborator: it emits a
// small CGI script that prints the status file this process was configured
// with. The `-l` location is carried in Params but is not written into the
// script.
package cgigen

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

const scriptTemplate = `#!/bin/sh
# Generated by apinger -g. Serves the current status file as plain text.
echo "Content-Type: text/plain"
echo
cat {{.StatusFile}}
`

// Params configures the generated script.
type Params struct {
	StatusFile string
	Location   string // HTTP location paired with -g
}

var tmpl = template.Must(template.New("cgi").Parse(scriptTemplate))

// Generate writes an executable CGI script named "apinger-status.cgi"
// under dir.
func Generate(dir string, p Params) (string, error) {
	path := filepath.Join(dir, "apinger-status.cgi")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return "", fmt.Errorf("cgigen: create %s: %w", path, err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, p); err != nil {
		return "", fmt.Errorf("cgigen: render script: %w", err)
	}
	return path, nil
}
