package gh

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// LatestFeedbackTimestamp returns the newest reviewer feedback on a PR from
// issue comments and reviews. Bot authors are ignored, and reviews only
// count in the COMMENTED and CHANGES_REQUESTED states (approvals are not
// feedback to address).
func LatestFeedbackTimestamp(pr *PullRequest) time.Time {
	var latest time.Time
	if pr == nil {
		return latest
	}

	for _, c := range pr.Comments {
		if c.Author.IsBotAuthor() {
			continue
		}
		if t := parseTime(c.CreatedAt); t.After(latest) {
			latest = t
		}
	}
	for _, r := range pr.Reviews {
		if r.Author.IsBotAuthor() {
			continue
		}
		if r.State != "COMMENTED" && r.State != "CHANGES_REQUESTED" {
			continue
		}
		if t := parseTime(r.SubmittedAt); t.After(latest) {
			latest = t
		}
	}
	return latest
}

// inlineComment is one review-thread comment from the REST API.
type inlineComment struct {
	CreatedAt string `json:"created_at"`
	User      struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"user"`
}

// LatestFeedbackTimestampWithInlineComments merges inline review-thread
// comments into the feedback timestamp. Results are cached per PR until
// ClearRuntimeCache.
func (c *Client) LatestFeedbackTimestampWithInlineComments(pr *PullRequest) (time.Time, error) {
	if pr == nil {
		return time.Time{}, nil
	}

	key := fmt.Sprintf("%s#%d", c.repo, pr.Number)
	c.mu.Lock()
	if cached, ok := c.feedbackAt[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	latest := LatestFeedbackTimestamp(pr)

	out, err := c.run("api",
		fmt.Sprintf("repos/%s/pulls/%d/comments", c.repo, pr.Number),
		"--paginate")
	if err != nil {
		return latest, err
	}

	// --paginate concatenates one JSON array per page, so decode arrays
	// until the stream is exhausted.
	var comments []inlineComment
	dec := json.NewDecoder(strings.NewReader(out))
	for {
		var page []inlineComment
		if err := dec.Decode(&page); err == io.EOF {
			break
		} else if err != nil {
			return latest, fmt.Errorf("parsing inline comments: %w", err)
		}
		comments = append(comments, page...)
	}
	for _, ic := range comments {
		if ic.User.Type == "Bot" {
			continue
		}
		if (Author{Login: ic.User.Login}).IsBotAuthor() {
			continue
		}
		if t := parseTime(ic.CreatedAt); t.After(latest) {
			latest = t
		}
	}

	c.mu.Lock()
	c.feedbackAt[key] = latest
	c.mu.Unlock()
	return latest, nil
}

// reviewThreadsQuery pages through reviewThreads for one PR.
const reviewThreadsQuery = `
query($owner: String!, $name: String!, $number: Int!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      reviewThreads(first: 100, after: $cursor) {
        pageInfo { hasNextPage endCursor }
        nodes { isResolved }
      }
    }
  }
}`

type reviewThreadsPage struct {
	Data struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
					Nodes []struct {
						IsResolved bool `json:"isResolved"`
					} `json:"nodes"`
				} `json:"reviewThreads"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

// UnresolvedReviewThreadCount paginates GraphQL reviewThreads and counts
// the unresolved ones.
func (c *Client) UnresolvedReviewThreadCount(prNumber int) (int, error) {
	owner, name, err := splitRepo(c.repo)
	if err != nil {
		return 0, err
	}

	count := 0
	cursor := ""
	for {
		args := []string{"api", "graphql",
			"-f", "query=" + reviewThreadsQuery,
			"-f", "owner=" + owner,
			"-f", "name=" + name,
			"-F", fmt.Sprintf("number=%d", prNumber)}
		if cursor != "" {
			args = append(args, "-f", "cursor="+cursor)
		}

		out, err := c.run(args...)
		if err != nil {
			return 0, err
		}

		var page reviewThreadsPage
		if err := json.Unmarshal([]byte(out), &page); err != nil {
			return 0, fmt.Errorf("parsing reviewThreads page: %w", err)
		}

		threads := page.Data.Repository.PullRequest.ReviewThreads
		for _, n := range threads.Nodes {
			if !n.IsResolved {
				count++
			}
		}
		if !threads.PageInfo.HasNextPage {
			return count, nil
		}
		cursor = threads.PageInfo.EndCursor
	}
}

func splitRepo(repo string) (owner, name string, err error) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			if i == 0 || i == len(repo)-1 {
				break
			}
			return repo[:i], repo[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid repo slug %q", repo)
}
