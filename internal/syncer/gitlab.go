package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/models"
)

// GitLabClient talks to the GitLab Issues API using a private token header.
type GitLabClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGitLabClient creates a tracker client for GitLab.
func NewGitLabClient(cfg config.TrackerConfig) *GitLabClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://gitlab.com/api/v4"
	}
	return &GitLabClient{
		baseURL: baseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Source identifies GitLab in sync chains and conflict records.
func (c *GitLabClient) Source() models.SyncSource {
	return models.SourceGitLab
}

// gitlabIssue is the subset of the GitLab issue payload we consume.
// Timestamps stay raw strings and go through ParseTimestamp.
type gitlabIssue struct {
	ID          int64    `json:"id"`
	IID         int      `json:"iid"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	State       string   `json:"state"`
	WebURL      string   `json:"web_url"`
	UpdatedAt   string   `json:"updated_at"`
	ClosedAt    string   `json:"closed_at"`
	Labels      []string `json:"labels"`
}

// GetIssue fetches one issue. ref is the project-scoped issue iid.
func (c *GitLabClient) GetIssue(ctx context.Context, repo, ref string) (*models.TrackerIssue, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/issues/%s", c.baseURL, url.PathEscape(repo), ref)
	return c.do(ctx, http.MethodGet, endpoint, nil, repo)
}

// CreateIssue opens a new issue mirroring the local issue.
func (c *GitLabClient) CreateIssue(ctx context.Context, repo string, issue *models.LocalIssue) (*models.TrackerIssue, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/issues", c.baseURL, url.PathEscape(repo))
	return c.do(ctx, http.MethodPost, endpoint, gitlabRequestFromLocal(issue, false), repo)
}

// UpdateIssue edits an existing issue. ref is the issue iid.
func (c *GitLabClient) UpdateIssue(ctx context.Context, repo, ref string, issue *models.LocalIssue) (*models.TrackerIssue, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/issues/%s", c.baseURL, url.PathEscape(repo), ref)
	return c.do(ctx, http.MethodPut, endpoint, gitlabRequestFromLocal(issue, true), repo)
}

func (c *GitLabClient) do(ctx context.Context, method, endpoint string, body map[string]any, repo string) (*models.TrackerIssue, error) {
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

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gitlab request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gitlab returned %d for %s %s", resp.StatusCode, method, endpoint)
	}

	var gl gitlabIssue
	if err := json.NewDecoder(resp.Body).Decode(&gl); err != nil {
		return nil, fmt.Errorf("failed to decode gitlab issue: %w", err)
	}

	updatedAt, closedAt, err := parseIssueTimestamps(gl.UpdatedAt, gl.ClosedAt)
	if err != nil {
		return nil, err
	}

	return &models.TrackerIssue{
		ID:        strconv.FormatInt(gl.ID, 10),
		Number:    gl.IID,
		Repo:      repo,
		Title:     gl.Title,
		Body:      gl.Description,
		State:     gl.State,
		Labels:    gl.Labels,
		URL:       gl.WebURL,
		UpdatedAt: updatedAt,
		ClosedAt:  closedAt,
	}, nil
}

func gitlabRequestFromLocal(issue *models.LocalIssue, update bool) map[string]any {
	body := map[string]any{
		"title":       issue.Title,
		"description": issue.Body,
	}
	if len(issue.Labels) > 0 {
		body["labels"] = strings.Join(issue.Labels, ",")
	}
	if update {
		switch issue.State {
		case "closed", "done", "cancelled":
			body["state_event"] = "close"
		case "open", "in_progress", "todo":
			body["state_event"] = "reopen"
		}
	}
	return body
}

// Compile-time check to ensure GitLabClient implements TrackerClient.
var _ TrackerClient = (*GitLabClient)(nil)
