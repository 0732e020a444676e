package mcp

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skald-labs/skald/pkg/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestUserContextRoundTrip(t *testing.T) {
	user := &auth.AuthUser{ID: "user-1", Scopes: []string{"search:read"}}
	ctx := WithUser(context.Background(), user)

	got := UserFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.ID)
}

func TestUserFromContextMissing(t *testing.T) {
	assert.Nil(t, UserFromContext(context.Background()))
}

func TestSearchToolRequiresQuery(t *testing.T) {
	svc := NewService(nil, nil, testLogger())

	result, err := svc.handleSearchTranscripts(context.Background(), callReq("search_transcripts", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSearchToolRejectsBlankQuery(t *testing.T) {
	svc := NewService(nil, nil, testLogger())

	result, err := svc.handleSearchTranscripts(context.Background(), callReq("search_transcripts", map[string]any{
		"query": "   ",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "query must not be empty")
}

func TestSearchToolRequiresUser(t *testing.T) {
	svc := NewService(nil, nil, testLogger())

	result, err := svc.handleSearchTranscripts(context.Background(), callReq("search_transcripts", map[string]any{
		"query": "standup notes",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unauthenticated")
}

func TestGetTranscriptRequiresJobID(t *testing.T) {
	svc := NewService(nil, nil, testLogger())

	result, err := svc.handleGetTranscript(context.Background(), callReq("get_transcript", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListJobsRequiresUser(t *testing.T) {
	svc := NewService(nil, nil, testLogger())

	result, err := svc.handleListJobs(context.Background(), callReq("list_jobs", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unauthenticated")
}
