package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/models"
)

// GitHubClient talks to the GitHub Issues API. Authentication uses an
// oauth2 static token transport.
type GitHubClient struct {
	baseURL string
	client  *http.Client
}

// NewGitHubClient creates a tracker client for GitHub.
func NewGitHubClient(cfg config.TrackerConfig) *GitHubClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := oauth2.NewClient(context.Background(), ts)
	client.Timeout = 30 * time.Second
	return &GitHubClient{baseURL: baseURL, client: client}
}

// Source identifies GitHub in sync chains and conflict records.
func (c *GitHubClient) Source() models.SyncSource {
	return models.SourceGitHub
}

// githubIssue is the subset of the GitHub issue payload we consume.
// Timestamps stay raw strings here; ParseTimestamp normalizes them so a
// malformed value raises a typed error instead of feeding a zero time
// into conflict resolution.
type githubIssue struct {
	ID        int64  `json:"id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	UpdatedAt string `json:"updated_at"`
	ClosedAt  string `json:"closed_at"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

type githubIssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	State  string   `json:"state,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// GetIssue fetches one issue. ref is the issue number.
func (c *GitHubClient) GetIssue(ctx context.Context, repo, ref string) (*models.TrackerIssue, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%s", c.baseURL, repo, ref)
	return c.do(ctx, http.MethodGet, url, nil, repo)
}

// CreateIssue opens a new issue mirroring the local issue.
func (c *GitHubClient) CreateIssue(ctx context.Context, repo string, issue *models.LocalIssue) (*models.TrackerIssue, error) {
	url := fmt.Sprintf("%s/repos/%s/issues", c.baseURL, repo)
	return c.do(ctx, http.MethodPost, url, issueRequestFromLocal(issue), repo)
}

// UpdateIssue patches an existing issue. ref is the issue number.
func (c *GitHubClient) UpdateIssue(ctx context.Context, repo, ref string, issue *models.LocalIssue) (*models.TrackerIssue, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%s", c.baseURL, repo, ref)
	return c.do(ctx, http.MethodPatch, url, issueRequestFromLocal(issue), repo)
}

func (c *GitHubClient) do(ctx context.Context, method, url string, body *githubIssueRequest, repo string) (*models.TrackerIssue, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal issue request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("github returned %d for %s %s", resp.StatusCode, method, url)
	}

	var gh githubIssue
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, fmt.Errorf("failed to decode github issue: %w", err)
	}

	updatedAt, closedAt, err := parseIssueTimestamps(gh.UpdatedAt, gh.ClosedAt)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(gh.Labels))
	for _, l := range gh.Labels {
		labels = append(labels, l.Name)
	}
	return &models.TrackerIssue{
		ID:        strconv.FormatInt(gh.ID, 10),
		Number:    gh.Number,
		Repo:      repo,
		Title:     gh.Title,
		Body:      gh.Body,
		State:     gh.State,
		Labels:    labels,
		URL:       gh.HTMLURL,
		UpdatedAt: updatedAt,
		ClosedAt:  closedAt,
	}, nil
}

// parseIssueTimestamps normalizes a tracker's updated_at and optional
// closed_at through ParseTimestamp.
func parseIssueTimestamps(updated, closed string) (time.Time, *time.Time, error) {
	updatedAt, err := ParseTimestamp(updated)
	if err != nil {
		return time.Time{}, nil, err
	}
	if closed == "" {
		return updatedAt, nil, nil
	}
	closedAt, err := ParseTimestamp(closed)
	if err != nil {
		return time.Time{}, nil, err
	}
	return updatedAt, &closedAt, nil
}

func issueRequestFromLocal(issue *models.LocalIssue) *githubIssueRequest {
	state := ""
	switch issue.State {
	case "closed", "done", "cancelled":
		state = "closed"
	case "open", "in_progress", "todo":
		state = "open"
	}
	return &githubIssueRequest{
		Title:  issue.Title,
		Body:   issue.Body,
		State:  state,
		Labels: issue.Labels,
	}
}

// Compile-time check to ensure GitHubClient implements TrackerClient.
var _ TrackerClient = (*GitHubClient)(nil)
