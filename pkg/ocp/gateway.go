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
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/go-logr/logr"
)

// Gateway is the single interaction point with the control-plane CLI. Every
// remote operation in this module is one CLI invocation; higher layers never
// spawn processes themselves.
type Gateway interface {
	Exec(ctx context.Context, args ...string) (stdout []byte, stderr []byte, err error)
}

// CLI invokes the oc binary. The kubeconfig path is injected once at
// construction and carried on every invocation; the gateway itself holds no
// credentials.
type CLI struct {
	binary     string
	kubeconfig string
	log        logr.Logger
}

func NewCLI(binary, kubeconfig string, log logr.Logger) *CLI {
	if binary == "" {
		binary = "oc"
	}
	return &CLI{binary: binary, kubeconfig: kubeconfig, log: log}
}

// Exec runs a single oc command to completion. A non-zero exit is returned as
// an *ExecutionError carrying the raw stderr, unmodified. No retry happens at
// this layer.
func (c *CLI) Exec(ctx context.Context, args ...string) ([]byte, []byte, error) {
	if c.kubeconfig != "" {
		args = append([]string{"--kubeconfig", c.kubeconfig}, args...)
	}
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Env = os.Environ()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	c.log.V(2).Info("running control-plane command", "binary", c.binary, "args", args)
	err := cmd.Run()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), stderr.Bytes(), &ExecutionError{
			Binary:   c.binary,
			Args:     args,
			ExitCode: exitCode,
			Stderr:   stderr.String(),
		}
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
