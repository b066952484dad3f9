// Package util holds the subprocess helper used by probes that sit
// outside the typed bd/gh/git adapters.
package util

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Output runs name with args in dir (empty dir means the process cwd)
// and returns trimmed stdout. A failing command yields an error carrying
// the command name and its stderr, so probe output reads cleanly.
func Output(dir, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...) //nolint:gosec // G204: callers pass fixed tool names
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %s", name, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
