package gh

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/internal/ticket"
)

// prViewFields is the field set requested from gh pr view.
const prViewFields = "number,url,state,baseRefName,headRefName,headRefOid,title,body,labels,isDraft,mergedAt,closedAt,updatedAt,reviewDecision,mergeable,mergeStateStatus,mergeCommit,reviewRequests,comments,reviews"

// PullRequest is the typed gh pr view payload.
type PullRequest struct {
	Number           int       `json:"number"`
	URL              string    `json:"url"`
	State            string    `json:"state"` // OPEN, CLOSED, MERGED
	BaseRefName      string    `json:"baseRefName"`
	HeadRefName      string    `json:"headRefName"`
	HeadRefOid       string    `json:"headRefOid"`
	Title            string    `json:"title"`
	Body             string    `json:"body"`
	IsDraft          bool      `json:"isDraft"`
	MergedAt         string    `json:"mergedAt"`
	ClosedAt         string    `json:"closedAt"`
	UpdatedAt        string    `json:"updatedAt"`
	ReviewDecision   string    `json:"reviewDecision"` // APPROVED, CHANGES_REQUESTED, REVIEW_REQUIRED
	Mergeable        string    `json:"mergeable"`      // MERGEABLE, CONFLICTING, UNKNOWN
	MergeStateStatus string    `json:"mergeStateStatus"`
	MergeCommit      *struct { //
		OID string `json:"oid"`
	} `json:"mergeCommit"`
	ReviewRequests []struct {
		Login string `json:"login"`
	} `json:"reviewRequests"`
	Comments []Comment `json:"comments"`
	Reviews  []Review  `json:"reviews"`
}

// Comment is an issue-level PR comment.
type Comment struct {
	Author    Author `json:"author"`
	CreatedAt string `json:"createdAt"`
}

// Review is a PR review submission.
type Review struct {
	Author      Author `json:"author"`
	State       string `json:"state"` // APPROVED, COMMENTED, CHANGES_REQUESTED, ...
	SubmittedAt string `json:"submittedAt"`
}

// Author identifies a comment or review author.
type Author struct {
	Login string `json:"login"`
	IsBot bool   `json:"is_bot"`
}

// IsBotAuthor reports whether feedback from this author should be ignored.
func (a Author) IsBotAuthor() bool {
	return a.IsBot || strings.HasSuffix(a.Login, "[bot]") || a.Login == "github-actions"
}

// IsMerged reports whether the PR merged.
func (p *PullRequest) IsMerged() bool {
	return p != nil && (p.MergedAt != "" || p.State == "MERGED")
}

// IsClosed reports closed-without-merge.
func (p *PullRequest) IsClosed() bool {
	return p != nil && !p.IsMerged() && (p.ClosedAt != "" || p.State == "CLOSED")
}

// IsOpen reports an open PR, draft included.
func (p *PullRequest) IsOpen() bool {
	return p != nil && !p.IsMerged() && !p.IsClosed()
}

// prListEntry is the reduced payload from gh pr list.
type prListEntry struct {
	Number    int    `json:"number"`
	State     string `json:"state"`
	UpdatedAt string `json:"updatedAt"`
	ClosedAt  string `json:"closedAt"`
	MergedAt  string `json:"mergedAt"`
}

// LookupPRByHead finds the PR for a head branch.
//
// Outcome contract:
//   - (pr, nil): found
//   - (nil, nil): not found
//   - (nil, err): lookup failed; ErrAmbiguousPR when multiple open PRs
//     share the branch
//
// With only closed/merged PRs the most recently updated wins. Results are
// cached per (repo, branch) until ClearRuntimeCache.
func (c *Client) LookupPRByHead(headBranch string) (*PullRequest, error) {
	c.mu.Lock()
	if cached, ok := c.prCache[headBranch]; ok {
		c.mu.Unlock()
		return cached.pr, cached.err
	}
	c.mu.Unlock()

	pr, err := c.lookupPRByHead(headBranch)

	c.mu.Lock()
	c.prCache[headBranch] = &cachedLookup{pr: pr, err: err}
	c.mu.Unlock()
	return pr, err
}

func (c *Client) lookupPRByHead(headBranch string) (*PullRequest, error) {
	out, err := c.run("pr", "list",
		"--repo", c.repo,
		"--head", headBranch,
		"--state", "all",
		"--json", "number,state,updatedAt,closedAt,mergedAt")
	if err != nil {
		return nil, err
	}

	var entries []prListEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, fmt.Errorf("parsing gh pr list output: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var open []prListEntry
	for _, e := range entries {
		if e.State == "OPEN" {
			open = append(open, e)
		}
	}

	var selected prListEntry
	switch {
	case len(open) == 1:
		selected = open[0]
	case len(open) > 1:
		return nil, ErrAmbiguousPR
	default:
		// only closed/merged: most recently updated
		sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt > entries[j].UpdatedAt })
		selected = entries[0]
	}

	return c.ViewPR(selected.Number)
}

// ViewPR fetches the full typed payload for a PR number.
func (c *Client) ViewPR(number int) (*PullRequest, error) {
	out, err := c.run("pr", "view", fmt.Sprintf("%d", number),
		"--repo", c.repo,
		"--json", prViewFields)
	if err != nil {
		return nil, err
	}

	var pr PullRequest
	if err := json.Unmarshal([]byte(out), &pr); err != nil {
		return nil, fmt.Errorf("parsing gh pr view output: %w", err)
	}
	return &pr, nil
}

// CreatePR opens a pull request for a head branch. The body is passed via a
// temp file removed on every exit path.
func (c *Client) CreatePR(base, head, title, body string, draft bool) error {
	bodyFile, err := os.CreateTemp("", "atelier-pr-body-*.md")
	if err != nil {
		return fmt.Errorf("creating PR body file: %w", err)
	}
	defer os.Remove(bodyFile.Name())

	if _, err := bodyFile.WriteString(body); err != nil {
		bodyFile.Close()
		return fmt.Errorf("writing PR body file: %w", err)
	}
	if err := bodyFile.Close(); err != nil {
		return fmt.Errorf("closing PR body file: %w", err)
	}

	args := []string{"pr", "create",
		"--repo", c.repo,
		"--base", base,
		"--head", head,
		"--title", title,
		"--body-file", bodyFile.Name()}
	if draft {
		args = append(args, "--draft")
	}

	if _, err := c.run(args...); err != nil {
		return err
	}

	// The head branch now has a PR; invalidate the cached miss.
	c.mu.Lock()
	delete(c.prCache, head)
	c.mu.Unlock()
	return nil
}

// EditPRBase updates the base branch of a PR on the provider side.
func (c *Client) EditPRBase(number int, base string) error {
	_, err := c.run("pr", "edit", fmt.Sprintf("%d", number),
		"--repo", c.repo,
		"--base", base)
	return err
}

// InvalidateBranch drops any cached lookup for a head branch.
func (c *Client) InvalidateBranch(headBranch string) {
	c.mu.Lock()
	delete(c.prCache, headBranch)
	c.mu.Unlock()
}

// HasReviewRequests reports whether reviewers are currently requested.
func HasReviewRequests(pr *PullRequest) bool {
	return pr != nil && len(pr.ReviewRequests) > 0
}

// LifecycleState maps PR signals to the review lifecycle taxonomy.
// A nil payload with a pushed branch is LifecyclePushed; a nil payload on
// an unpushed branch is LifecycleNone.
func LifecycleState(pr *PullRequest, pushed, reviewRequested bool) ticket.ReviewLifecycle {
	if pr == nil {
		if pushed {
			return ticket.LifecyclePushed
		}
		return ticket.LifecycleNone
	}
	switch {
	case pr.IsMerged():
		return ticket.LifecycleMerged
	case pr.IsClosed():
		return ticket.LifecycleClosed
	case pr.IsDraft:
		return ticket.LifecycleDraftPR
	case pr.ReviewDecision == "APPROVED":
		return ticket.LifecycleApproved
	case reviewRequested:
		return ticket.LifecycleInReview
	default:
		return ticket.LifecyclePROpen
	}
}

// MergeConflictAnswer is a ternary conflict answer.
type MergeConflictAnswer int

const (
	ConflictUnknown MergeConflictAnswer = iota
	ConflictNo
	ConflictYes
)

// DefaultBranchMergeConflict reports whether the PR conflicts with its base
// from provider merge-state signals. UNKNOWN on either signal yields
// ConflictUnknown rather than a guess.
func DefaultBranchMergeConflict(pr *PullRequest) MergeConflictAnswer {
	if pr == nil {
		return ConflictUnknown
	}
	if pr.MergeStateStatus == "DIRTY" || pr.Mergeable == "CONFLICTING" {
		return ConflictYes
	}
	if pr.MergeStateStatus == "UNKNOWN" || pr.Mergeable == "UNKNOWN" ||
		(pr.MergeStateStatus == "" && pr.Mergeable == "") {
		return ConflictUnknown
	}
	return ConflictNo
}

// parseTime parses a gh timestamp, returning zero on failure.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
