// Package mcp exposes Skald over the Model Context Protocol so LLM
// agents can search and read transcripts. The server is built on
// mcp-go and mounted on the main Echo instance as a Streamable HTTP
// endpoint.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/domain/search"
	"github.com/skald-labs/skald/pkg/auth"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/mathutil"
)

// userKey carries the authenticated user from the HTTP layer into
// tool handlers.
type userKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user *auth.AuthUser) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *auth.AuthUser {
	user, _ := ctx.Value(userKey{}).(*auth.AuthUser)
	return user
}

// Service owns the MCP server and its tool handlers.
type Service struct {
	searchSvc *search.Service
	jobsRepo  *jobs.Repository
	log       *slog.Logger

	srv *server.MCPServer
}

// NewService creates the MCP server and registers the Skald tools.
func NewService(searchSvc *search.Service, jobsRepo *jobs.Repository, log *slog.Logger) *Service {
	s := &Service{
		searchSvc: searchSvc,
		jobsRepo:  jobsRepo,
		log:       log.With(logger.Scope("mcp")),
	}

	srv := server.NewMCPServer("skald", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool("search_transcripts",
		mcp.WithDescription("Semantic search across the user's completed transcripts. Returns the closest matching chunks with timestamps and similarity scores."),
		mcp.WithString("query", mcp.Required(),
			mcp.Description("Natural-language search text")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (default 10, max 50)")),
		mcp.WithNumber("job_id",
			mcp.Description("Restrict the search to a single job")),
	), s.handleSearchTranscripts)

	srv.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Fetch the full transcript text of a completed transcription job."),
		mcp.WithNumber("job_id", mcp.Required(),
			mcp.Description("Job ID, as returned by list_jobs or search_transcripts")),
	), s.handleGetTranscript)

	srv.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List the user's transcription jobs, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Page size (default 20, max 100)")),
		mcp.WithNumber("offset",
			mcp.Description("Page offset")),
	), s.handleListJobs)

	s.srv = srv
	return s
}

// Server returns the underlying MCP server for transport mounting.
func (s *Service) Server() *server.MCPServer {
	return s.srv
}

func (s *Service) handleSearchTranscripts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query must not be empty"), nil
	}

	user := UserFromContext(ctx)
	if user == nil {
		return mcp.NewToolResultError("unauthenticated"), nil
	}

	resp, err := s.searchSvc.Search(ctx, user.ID, &search.Request{
		Query: query,
		Limit: req.GetInt("limit", 0),
		JobID: int64(req.GetInt("job_id", 0)),
	})
	if err != nil {
		s.log.Error("mcp search failed", logger.Error(err))
		return mcp.NewToolResultError("search failed: " + err.Error()), nil
	}

	return jsonResult(resp)
}

func (s *Service) handleGetTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := req.RequireInt("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	user := UserFromContext(ctx)
	if user == nil {
		return mcp.NewToolResultError("unauthenticated"), nil
	}

	job, err := s.jobsRepo.GetByIDForUser(ctx, int64(jobID), user.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job %d not found", jobID)), nil
	}

	if job.Status != jobs.StatusCompleted || job.Transcript == "" {
		return mcp.NewToolResultError(fmt.Sprintf("job %d is %s; transcript not available yet", jobID, job.Status)), nil
	}

	return mcp.NewToolResultText(job.Transcript), nil
}

func (s *Service) handleListJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user := UserFromContext(ctx)
	if user == nil {
		return mcp.NewToolResultError("unauthenticated"), nil
	}

	limit := mathutil.ClampLimit(req.GetInt("limit", 0), 20, 100)
	offset := req.GetInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	list, total, err := s.jobsRepo.ListByUser(ctx, user.ID, limit, offset)
	if err != nil {
		s.log.Error("mcp list_jobs failed", logger.Error(err))
		return mcp.NewToolResultError("listing jobs failed: " + err.Error()), nil
	}

	dtos := make([]*jobs.JobDTO, len(list))
	for i, job := range list {
		dtos[i] = job.ToDTO()
	}

	return jsonResult(map[string]any{
		"data":       dtos,
		"totalCount": total,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("encoding result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
