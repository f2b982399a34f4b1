/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ocp

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// Client issues control-plane CLI operations for one (kind, namespace) pair.
// It performs no retry of its own; condition-based waiting belongs to the
// sampler package.
type Client struct {
	gw        Gateway
	kind      string
	namespace string
	log       logr.Logger
}

func NewClient(gw Gateway, kind, namespace string, log logr.Logger) *Client {
	return &Client{gw: gw, kind: kind, namespace: namespace, log: log.WithValues("kind", kind, "namespace", namespace)}
}

func (c *Client) Kind() string      { return c.kind }
func (c *Client) Namespace() string { return c.namespace }

// Gateway exposes the underlying gateway for callers that need another kind
// in the same namespace.
func (c *Client) Gateway() Gateway { return c.gw }

func (c *Client) namespaceArgs() []string {
	if c.namespace == "" {
		return nil
	}
	return []string{"-n", c.namespace}
}

// Get fetches one named resource and decodes its YAML payload.
func (c *Client) Get(ctx context.Context, name string) (Document, error) {
	args := append([]string{"get", c.kind, name, "-o", "yaml"}, c.namespaceArgs()...)
	stdout, _, err := c.gw.Exec(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseDocument(stdout)
}

// List fetches the collection matched by selector. An empty selector matches
// everything of the kind in scope.
func (c *Client) List(ctx context.Context, selector string, allNamespaces bool) ([]Document, error) {
	args := []string{"get", c.kind, "-o", "yaml"}
	if selector != "" {
		args = append(args, "-l", selector)
	}
	if allNamespaces {
		args = append(args, "-A")
	} else {
		args = append(args, c.namespaceArgs()...)
	}
	stdout, _, err := c.gw.Exec(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseDocumentList(stdout)
}

// Create submits either a full document or a bare name. Exactly one must be
// given; neither is an ExecutionError so callers get uniform error handling.
func (c *Client) Create(ctx context.Context, doc Document, name string) (Document, error) {
	switch {
	case doc != nil:
		file, err := writeManifest(doc)
		if err != nil {
			return nil, err
		}
		defer os.Remove(file)
		args := append([]string{"create", "-f", file, "-o", "yaml"}, c.namespaceArgs()...)
		stdout, _, err := c.gw.Exec(ctx, args...)
		if err != nil {
			return nil, err
		}
		return ParseDocument(stdout)
	case name != "":
		args := append([]string{"create", c.kind, name, "-o", "yaml"}, c.namespaceArgs()...)
		stdout, _, err := c.gw.Exec(ctx, args...)
		if err != nil {
			return nil, err
		}
		return ParseDocument(stdout)
	default:
		return nil, &ExecutionError{Binary: "oc", Args: []string{"create", c.kind}, ExitCode: -1, Stderr: "create requires a document or a resource name"}
	}
}

// Delete removes the resource named either directly or through a document.
// force requests zero-grace-period removal.
func (c *Client) Delete(ctx context.Context, name string, doc Document, wait, force bool) error {
	if name == "" && doc != nil {
		name = doc.Name()
	}
	if name == "" {
		return &ExecutionError{Binary: "oc", Args: []string{"delete", c.kind}, ExitCode: -1, Stderr: "delete requires a document or a resource name"}
	}
	args := append([]string{"delete", c.kind, name}, c.namespaceArgs()...)
	args = append(args, fmt.Sprintf("--wait=%t", wait))
	if force {
		args = append(args, "--grace-period=0", "--force")
	}
	_, _, err := c.gw.Exec(ctx, args...)
	return err
}

// Patch applies a patch with the given strategy (merge, strategic, json).
// The boolean mirrors whether the control plane accepted the patch.
func (c *Client) Patch(ctx context.Context, name, patch, strategy string) (bool, error) {
	args := append([]string{"patch", c.kind, name}, c.namespaceArgs()...)
	args = append(args, "--type", strategy, "-p", patch)
	_, _, err := c.gw.Exec(ctx, args...)
	return err == nil, err
}

// Apply overwrites the server-side state with doc.
func (c *Client) Apply(ctx context.Context, doc Document) error {
	file, err := writeManifest(doc)
	if err != nil {
		return err
	}
	defer os.Remove(file)
	args := append([]string{"apply", "-f", file}, c.namespaceArgs()...)
	_, _, err = c.gw.Exec(ctx, args...)
	return err
}

// Replace swaps the server-side object for doc in one shot, used to restore
// snapshotted state.
func (c *Client) Replace(ctx context.Context, doc Document, force bool) error {
	file, err := writeManifest(doc)
	if err != nil {
		return err
	}
	defer os.Remove(file)
	args := append([]string{"replace", "-f", file}, c.namespaceArgs()...)
	if force {
		args = append(args, "--force")
	}
	_, _, err = c.gw.Exec(ctx, args...)
	return err
}

// Scale sets the replica count of a named scalable resource.
func (c *Client) Scale(ctx context.Context, name string, replicas int) error {
	args := append([]string{"scale", c.kind + "/" + name, "--replicas", strconv.Itoa(replicas)}, c.namespaceArgs()...)
	_, _, err := c.gw.Exec(ctx, args...)
	return err
}

// Describe returns the free-form diagnostic dump for failure reporting.
func (c *Client) Describe(ctx context.Context, name, selector string) (string, error) {
	args := []string{"describe", c.kind}
	if name != "" {
		args = append(args, name)
	}
	if selector != "" {
		args = append(args, "-l", selector)
	}
	args = append(args, c.namespaceArgs()...)
	stdout, _, err := c.gw.Exec(ctx, args...)
	return string(stdout), err
}

// ResourceStatus extracts the STATUS cell from the tabular summary of one
// named resource.
func (c *Client) ResourceStatus(ctx context.Context, name string) (string, error) {
	args := append([]string{"get", c.kind, name}, c.namespaceArgs()...)
	stdout, _, err := c.gw.Exec(ctx, args...)
	if err != nil {
		return "", err
	}
	return statusFromTable(string(stdout))
}

// ExecInPod runs a command inside the named pod. Only meaningful for pod
// clients; the orchestrator uses it for the recovery tooling.
func (c *Client) ExecInPod(ctx context.Context, pod string, cmd []string) (string, string, error) {
	args := append([]string{"exec", pod}, c.namespaceArgs()...)
	args = append(args, "--")
	args = append(args, cmd...)
	stdout, stderr, err := c.gw.Exec(ctx, args...)
	return string(stdout), string(stderr), err
}

// CopyToPod pushes a local file or directory into the named pod.
func (c *Client) CopyToPod(ctx context.Context, pod, localPath, remotePath string) error {
	_, _, err := c.gw.Exec(ctx, "cp", localPath, c.namespace+"/"+pod+":"+remotePath)
	return err
}

// CopyFromPod pulls a remote file or directory out of the named pod.
func (c *Client) CopyFromPod(ctx context.Context, pod, remotePath, localPath string) error {
	_, _, err := c.gw.Exec(ctx, "cp", c.namespace+"/"+pod+":"+remotePath, localPath)
	return err
}

// writeManifest serializes a document to a transient file for -f invocations.
func writeManifest(doc Document) (string, error) {
	raw, err := doc.Marshal()
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "ocp-manifest-*.yaml")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// stripPreamble drops a single non-payload hints line some CLI wrappers emit
// before the YAML body.
func stripPreamble(raw []byte) []byte {
	text := string(raw)
	idx := strings.Index(text, "\n")
	if idx < 0 {
		return raw
	}
	first := strings.TrimSpace(text[:idx])
	if first == "" || looksLikePayload(first) {
		return raw
	}
	return []byte(text[idx+1:])
}

func looksLikePayload(line string) bool {
	return strings.HasPrefix(line, "---") ||
		strings.HasPrefix(line, "{") ||
		strings.Contains(line, ":")
}
