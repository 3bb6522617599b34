package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbridge/hookbridge/internal/config"
	apierrors "github.com/hookbridge/hookbridge/internal/pkg/errors"
)

func TestGitHubGetIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/api/issues/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 900,
			"number": 42,
			"title": "Unencrypted bucket",
			"body": "details",
			"state": "open",
			"html_url": "https://github.com/acme/api/issues/42",
			"updated_at": "2025-03-14T09:00:00Z",
			"closed_at": null,
			"labels": [{"name": "security"}, {"name": "s3"}]
		}`))
	}))
	defer srv.Close()

	client := NewGitHubClient(config.TrackerConfig{BaseURL: srv.URL, Token: "tok"})
	issue, err := client.GetIssue(context.Background(), "acme/api", "42")
	require.NoError(t, err)

	assert.Equal(t, "900", issue.ID)
	assert.Equal(t, 42, issue.Number)
	assert.Equal(t, []string{"security", "s3"}, issue.Labels)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC), issue.UpdatedAt)
	assert.Nil(t, issue.ClosedAt)
}

func TestGitHubGetIssueRejectsMalformedTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 900, "number": 42, "updated_at": "yesterday-ish"}`))
	}))
	defer srv.Close()

	client := NewGitHubClient(config.TrackerConfig{BaseURL: srv.URL, Token: "tok"})
	_, err := client.GetIssue(context.Background(), "acme/api", "42")
	require.Error(t, err)

	var tsErr *apierrors.TimestampError
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, "yesterday-ish", tsErr.Value)
}

func TestGitLabGetIssue(t *testing.T) {
	closed := "2025-03-15T10:30:00Z"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/acme%2Fapi/issues/7", r.URL.EscapedPath())
		assert.Equal(t, "tok", r.Header.Get("PRIVATE-TOKEN"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 501,
			"iid": 7,
			"title": "Rotate signing key",
			"description": "details",
			"state": "closed",
			"web_url": "https://gitlab.com/acme/api/-/issues/7",
			"updated_at": "2025-03-15T10:30:00Z",
			"closed_at": "` + closed + `",
			"labels": ["security"]
		}`))
	}))
	defer srv.Close()

	client := NewGitLabClient(config.TrackerConfig{BaseURL: srv.URL, Token: "tok"})
	issue, err := client.GetIssue(context.Background(), "acme/api", "7")
	require.NoError(t, err)

	assert.Equal(t, "501", issue.ID)
	assert.Equal(t, 7, issue.Number)
	assert.Equal(t, "details", issue.Body)
	require.NotNil(t, issue.ClosedAt)
	assert.Equal(t, time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC), *issue.ClosedAt)
}

func TestGitLabGetIssueRejectsMalformedTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 501, "iid": 7, "updated_at": "15/03/2025"}`))
	}))
	defer srv.Close()

	client := NewGitLabClient(config.TrackerConfig{BaseURL: srv.URL, Token: "tok"})
	_, err := client.GetIssue(context.Background(), "acme/api", "7")
	require.Error(t, err)

	var tsErr *apierrors.TimestampError
	require.ErrorAs(t, err, &tsErr)
}
