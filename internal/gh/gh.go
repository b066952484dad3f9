// Package gh provides a typed, cached, retrying adapter over the gh CLI.
//
// Lookups produce explicit found / not-found / error outcomes; callers
// never infer PR state from parse failures. Transient failures retry with
// linear backoff; results are cached per process keyed by (repo, branch)
// and cleared at cycle entry.
package gh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/atelier-dev/atelier/internal/constants"
)

// ErrNotInstalled reports a missing gh binary.
var ErrNotInstalled = errors.New("gh not installed: see https://cli.github.com")

// ErrAmbiguousPR reports multiple open PRs sharing one head branch.
var ErrAmbiguousPR = errors.New("ambiguous PR lookup: multiple open PRs share the head branch")

// transientMarkers classify retryable gh failures by substring.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"rate limit",
	"API rate limit",
	"502",
	"503",
	"504",
}

// Client is a gh CLI adapter bound to one repository slug.
type Client struct {
	repo     string
	timeout  time.Duration
	attempts int
	backoff  time.Duration

	// runner executes gh with the given args; swapped in tests.
	runner func(ctx context.Context, args ...string) (string, error)

	mu         sync.Mutex
	prCache    map[string]*cachedLookup // head branch → outcome
	feedbackAt map[string]time.Time     // pr key → newest feedback
}

type cachedLookup struct {
	pr  *PullRequest
	err error
}

// NewClient creates a Client for a repo slug ("owner/name").
func NewClient(repo string) *Client {
	c := &Client{
		repo:       repo,
		timeout:    constants.GhCommandTimeout,
		attempts:   constants.GhRetryAttempts,
		backoff:    constants.GhRetryBackoff,
		prCache:    make(map[string]*cachedLookup),
		feedbackAt: make(map[string]time.Time),
	}
	c.runner = c.execGh
	return c
}

// Repo returns the repository slug this client operates on.
func (c *Client) Repo() string {
	return c.repo
}

// ClearRuntimeCache drops all cached lookups. Called at cycle entry so a
// long-lived watch worker observes fresh PR state each cycle.
func (c *Client) ClearRuntimeCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prCache = make(map[string]*cachedLookup)
	c.feedbackAt = make(map[string]time.Time)
}

// execGh runs the gh binary once.
func (c *Client) execGh(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...) //nolint:gosec // G204: args built internally

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && errors.Is(execErr.Err, exec.ErrNotFound) {
			return "", ErrNotInstalled
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("gh %s: %s", firstSubcommand(args), msg)
	}
	return stdout.String(), nil
}

// run executes gh with retries on transient failures.
func (c *Client) run(args ...string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		out, err := c.runner(ctx, args...)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrNotInstalled) || !isTransient(err) {
			return "", err
		}
		if attempt < c.attempts {
			time.Sleep(time.Duration(attempt) * c.backoff)
		}
	}
	return "", lastErr
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func firstSubcommand(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
