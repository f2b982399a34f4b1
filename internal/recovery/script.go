package recovery

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"os"
	"path/filepath"
	"text/template"
)

//go:embed assets/extract-monstore.sh.tmpl
var extractScriptTemplate string

type extractScriptParams struct {
	MonStorePath string
	OSDDataDir   string
}

// renderExtractScript materializes the versioned extraction script into dir
// and returns its path together with the sha256 of the rendered content, so
// the exact automation pushed to the replicas is reviewable after the run.
func renderExtractScript(dir string, params extractScriptParams) (string, string, error) {
	tmpl, err := template.New("extract-monstore").Parse(extractScriptTemplate)
	if err != nil {
		return "", "", err
	}
	rendered := &bytes.Buffer{}
	if err := tmpl.Execute(rendered, params); err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(rendered.Bytes())
	path := filepath.Join(dir, "extract-monstore.sh")
	if err := os.WriteFile(path, rendered.Bytes(), 0o755); err != nil {
		return "", "", err
	}
	return path, hex.EncodeToString(sum[:]), nil
}
