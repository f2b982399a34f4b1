package recovery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"text/template"

	corev1 "k8s.io/api/core/v1"
)

// keyringTemplate is the tool's keyring syntax, re-rendered from the key
// material recovered out of the mon and admin secrets. The rebuild tool needs
// full caps on both entities to author a fresh store.
const keyringTemplate = `[mon.]
	key = {{ .MonKey }}
	caps mon = "allow *"
[client.admin]
	key = {{ .AdminKey }}
	caps mds = "allow *"
	caps mgr = "allow *"
	caps mon = "allow *"
	caps osd = "allow *"
`

var keyringKeyPattern = regexp.MustCompile(`key\s*=\s*(\S+)`)

type keyringParams struct {
	MonKey   string
	AdminKey string
}

// recoverKeyring decodes the access-credential secrets and reformats their
// key material into a local keyring file for the store rebuild.
func (r *MonRecovery) recoverKeyring(ctx context.Context) (string, error) {
	monKey, err := r.secretKeyring(ctx, monsKeyringSecret)
	if err != nil {
		return "", err
	}
	adminKey, err := r.secretKeyring(ctx, adminKeyringSecret)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("keyring").Parse(keyringTemplate)
	if err != nil {
		return "", err
	}
	rendered := &bytes.Buffer{}
	if err := tmpl.Execute(rendered, keyringParams{MonKey: monKey, AdminKey: adminKey}); err != nil {
		return "", err
	}
	path := filepath.Join(r.cfg.BackupDir, "keyring")
	if err := os.WriteFile(path, rendered.Bytes(), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// secretKeyring pulls one keyring-bearing secret and extracts its key value.
// Secret data is base64 on the wire; the typed decode handles that.
func (r *MonRecovery) secretKeyring(ctx context.Context, name string) (string, error) {
	doc, err := r.secret.Get(ctx, name)
	if err != nil {
		return "", err
	}
	secret := corev1.Secret{}
	if err := doc.Decode(&secret); err != nil {
		return "", fmt.Errorf("unable to decode secret %s: %w", name, err)
	}
	keyring, ok := secret.Data["keyring"]
	if !ok {
		return "", fmt.Errorf("secret %s carries no keyring entry", name)
	}
	return extractKey(string(keyring))
}

// extractKey pulls the key value out of a keyring fragment.
func extractKey(keyring string) (string, error) {
	match := keyringKeyPattern.FindStringSubmatch(keyring)
	if match == nil {
		return "", fmt.Errorf("no key entry found in keyring material")
	}
	return match[1], nil
}
